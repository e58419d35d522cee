package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fiatjaf/eventstore"
	"github.com/jmoiron/sqlx"
	"github.com/nbd-wtf/go-nostr"

	"github.com/aljazceru/ditto/internal/stats"
)

// AuthorStats is one row of the author_stats table. Column tags are "json"
// because the eventstore sqlite3 backend rebinds the shared handle's mapper
// to json tags during Init.
type AuthorStats struct {
	Pubkey         string `json:"pubkey"`
	FollowersCount int64  `json:"followers_count"`
	FollowingCount int64  `json:"following_count"`
	NotesCount     int64  `json:"notes_count"`
	Search         string `json:"search"`
}

// EventStats is one row of the event_stats table
type EventStats struct {
	EventID        string `json:"event_id"`
	RepliesCount   int64  `json:"replies_count"`
	RepostsCount   int64  `json:"reposts_count"`
	ReactionsCount int64  `json:"reactions_count"`
	QuotesCount    int64  `json:"quotes_count"`
	ZapsAmount     int64  `json:"zaps_amount"`
}

// SaveEventWithStats inserts the event and applies its stat deltas in one
// transaction. Replaceable kinds delete the superseded version inside the
// same transaction; when a newer version is already stored nothing is
// written and eventstore.ErrDupEvent is returned. A re-submitted id also
// returns eventstore.ErrDupEvent, with no stat change.
func (s *Storage) SaveEventWithStats(ctx context.Context, event *nostr.Event, deltas []stats.Delta) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if isReplaceable(event.Kind) {
		superseded, err := deleteSuperseded(ctx, tx, event)
		if err != nil {
			return err
		}
		if !superseded {
			return eventstore.ErrDupEvent
		}
	}

	// Deltas go in ahead of the event row; a duplicate insert aborts the
	// transaction and rolls them back with it.
	for _, d := range deltas {
		if err := applyDelta(ctx, tx, d); err != nil {
			return err
		}
	}

	tagsj, _ := json.Marshal(event.Tags)
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO event (id, pubkey, created_at, kind, tags, content, sig)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.PubKey, event.CreatedAt, event.Kind, tagsj, event.Content, event.Sig)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return eventstore.ErrDupEvent
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event with stats: %w", err)
	}
	return nil
}

// deleteSuperseded removes older versions of a replaceable event. It reports
// false when a strictly newer version is already stored.
func deleteSuperseded(ctx context.Context, tx sqlExecer, event *nostr.Event) (bool, error) {
	query := "SELECT id, created_at FROM event WHERE kind = ? AND pubkey = ?"
	args := []any{event.Kind, event.PubKey}
	if nostr.IsAddressableKind(event.Kind) {
		query += ` AND EXISTS (
			SELECT 1 FROM json_each(event.tags)
			WHERE json_extract(value, '$[0]') = 'd' AND json_extract(value, '$[1]') = ?
		)`
		args = append(args, event.Tags.GetD())
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to query replaceable versions: %w", err)
	}
	defer rows.Close()

	var olderIDs []string
	for rows.Next() {
		var id string
		var createdAt int64
		if err := rows.Scan(&id, &createdAt); err != nil {
			return false, fmt.Errorf("failed to scan replaceable version: %w", err)
		}
		if nostr.Timestamp(createdAt) >= event.CreatedAt {
			return false, nil
		}
		olderIDs = append(olderIDs, id)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to scan replaceable versions: %w", err)
	}

	for _, id := range olderIDs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM event WHERE id = ?", id); err != nil {
			return false, fmt.Errorf("failed to delete superseded event %s: %w", id, err)
		}
	}
	return true, nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// applyDelta merge-upserts one counter cell. Additive cells floor at zero so
// withdrawals can never drive a counter negative; Replace cells take the
// delta value as-is. Column and table names come from the stats engine, not
// from user input.
func applyDelta(ctx context.Context, tx sqlExecer, d stats.Delta) error {
	keyCol := "event_id"
	if d.Table == stats.TableAuthor {
		keyCol = "pubkey"
	}

	if d.Replace {
		query := fmt.Sprintf(`
			INSERT INTO %s (%s, %s) VALUES (?, ?)
			ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s
		`, d.Table, keyCol, d.Column, keyCol, d.Column, d.Column)
		if _, err := tx.ExecContext(ctx, query, d.Key, d.Value); err != nil {
			return fmt.Errorf("failed to apply %s.%s delta: %w", d.Table, d.Column, err)
		}
		return nil
	}

	// The update arm binds the raw delta directly rather than reading
	// excluded, which would see the already-floored insert value and turn
	// withdrawals into no-ops.
	insertValue := d.Value
	if insertValue < 0 {
		insertValue = 0
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s) VALUES (?, ?)
		ON CONFLICT(%s) DO UPDATE SET %s = MAX(%s + ?, 0)
	`, d.Table, keyCol, d.Column, keyCol, d.Column, d.Column)
	if _, err := tx.ExecContext(ctx, query, d.Key, insertValue, d.Value); err != nil {
		return fmt.Errorf("failed to apply %s.%s delta: %w", d.Table, d.Column, err)
	}
	return nil
}

// ApplyDeltas applies deltas outside an event transaction. Used for
// post-commit indexing such as zap receipts.
func (s *Storage) ApplyDeltas(ctx context.Context, deltas []stats.Delta) error {
	for _, d := range deltas {
		if err := applyDelta(ctx, s.db, d); err != nil {
			return err
		}
	}
	return nil
}

// GetAuthorStats returns the stat row for a pubkey, zero-valued when absent
func (s *Storage) GetAuthorStats(ctx context.Context, pubkey string) (*AuthorStats, error) {
	row := &AuthorStats{Pubkey: pubkey}
	err := s.db.GetContext(ctx, row, "SELECT * FROM author_stats WHERE pubkey = ?", pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get author stats: %w", err)
	}
	return row, nil
}

// GetEventStats returns the stat row for an event id, zero-valued when absent
func (s *Storage) GetEventStats(ctx context.Context, eventID string) (*EventStats, error) {
	row := &EventStats{EventID: eventID}
	err := s.db.GetContext(ctx, row, "SELECT * FROM event_stats WHERE event_id = ?", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}
	return row, nil
}

// UpsertAuthorDomain records the author's NIP-05 domain, last write by
// event timestamp wins.
func (s *Storage) UpsertAuthorDomain(ctx context.Context, pubkey, domain string, updatedAt nostr.Timestamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pubkey_domains (pubkey, domain, last_updated_at) VALUES (?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			domain = excluded.domain,
			last_updated_at = excluded.last_updated_at
		WHERE excluded.last_updated_at >= pubkey_domains.last_updated_at
	`, pubkey, domain, int64(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert author domain: %w", err)
	}
	return nil
}

// AuthorDomains returns the recorded domain per pubkey for those that have one
func (s *Storage) AuthorDomains(ctx context.Context, pubkeys []string) (map[string]string, error) {
	if len(pubkeys) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In("SELECT pubkey, domain FROM pubkey_domains WHERE pubkey IN (?)", pubkeys)
	if err != nil {
		return nil, fmt.Errorf("failed to build domain query: %w", err)
	}
	query = s.db.Rebind(query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query author domains: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var pubkey, domain string
		if err := rows.Scan(&pubkey, &domain); err != nil {
			return nil, fmt.Errorf("failed to scan author domain: %w", err)
		}
		out[pubkey] = domain
	}
	return out, rows.Err()
}

// UpdateAuthorSearch sets the searchable text for an author, derived from
// their latest profile.
func (s *Storage) UpdateAuthorSearch(ctx context.Context, pubkey, search string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO author_stats (pubkey, search) VALUES (?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET search = excluded.search
	`, pubkey, search)
	if err != nil {
		return fmt.Errorf("failed to update author search: %w", err)
	}
	return nil
}

// SetEventLanguage records the detected content language of an event
func (s *Storage) SetEventLanguage(ctx context.Context, eventID, language string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_languages (event_id, language) VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET language = excluded.language
	`, eventID, language)
	if err != nil {
		return fmt.Errorf("failed to set event language: %w", err)
	}
	return nil
}

// EventLanguage returns the recorded language for an event, empty when unknown
func (s *Storage) EventLanguage(ctx context.Context, eventID string) (string, error) {
	var language string
	err := s.db.GetContext(ctx, &language, "SELECT language FROM event_languages WHERE event_id = ?", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get event language: %w", err)
	}
	return language, nil
}

// SearchAuthors returns pubkeys whose profile text contains the query
func (s *Storage) SearchAuthors(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT pubkey FROM author_stats WHERE search LIKE ? LIMIT ?",
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search authors: %w", err)
	}
	defer rows.Close()

	var pubkeys []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to scan author search row: %w", err)
		}
		pubkeys = append(pubkeys, pk)
	}
	return pubkeys, rows.Err()
}

func isReplaceable(kind int) bool {
	return nostr.IsReplaceableKind(kind) || nostr.IsAddressableKind(kind)
}
