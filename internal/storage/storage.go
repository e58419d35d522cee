// Package storage persists events and their derived statistics. Events live
// in an eventstore sqlite3 backend fronted by a khatru relay's handler lists;
// the stat side tables share the same database handle so event inserts and
// stat updates commit in one transaction.
package storage

import (
	"context"
	"fmt"

	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/fiatjaf/khatru"
	"github.com/jmoiron/sqlx"
	"github.com/nbd-wtf/go-nostr"

	"github.com/aljazceru/ditto/internal/config"
)

// Storage provides the main storage interface for ditto
type Storage struct {
	relay   *khatru.Relay
	backend *sqlite3.SQLite3Backend
	db      *sqlx.DB
	config  *config.Storage
}

// New opens the database, runs side-table migrations, and wires the khatru
// relay handler lists to the eventstore backend.
func New(ctx context.Context, cfg *config.Storage) (*Storage, error) {
	backend := &sqlite3.SQLite3Backend{
		DatabaseURL:       cfg.SQLitePath,
		QueryLimit:        cfg.QueryLimit,
		QueryIDsLimit:     cfg.QueryIDsLimit,
		QueryAuthorsLimit: cfg.QueryAuthorsLimit,
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite backend: %w", err)
	}

	s := &Storage{
		backend: backend,
		db:      backend.DB,
		config:  cfg,
	}

	if err := s.runMigrations(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	relay := khatru.NewRelay()
	relay.StoreEvent = append(relay.StoreEvent, backend.SaveEvent)
	relay.ReplaceEvent = append(relay.ReplaceEvent, backend.ReplaceEvent)
	relay.QueryEvents = append(relay.QueryEvents, backend.QueryEvents)
	relay.CountEvents = append(relay.CountEvents, backend.CountEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, backend.DeleteEvent)
	s.relay = relay

	return s, nil
}

// Relay returns the underlying khatru relay instance
func (s *Storage) Relay() *khatru.Relay {
	return s.relay
}

// DB returns the shared database handle (for the stat side tables)
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// QueryEvents queries stored events using a nostr filter
func (s *Storage) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(s.relay.QueryEvents) == 0 {
		return nil, fmt.Errorf("no query handlers configured")
	}

	ch, err := s.relay.QueryEvents[0](ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// CountEvents counts stored events matching a nostr filter
func (s *Storage) CountEvents(ctx context.Context, filter nostr.Filter) (int64, error) {
	if len(s.relay.CountEvents) == 0 {
		return 0, fmt.Errorf("no count handlers configured")
	}

	count, err := s.relay.CountEvents[0](ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// EventExists reports whether an event id is already stored
func (s *Storage) EventExists(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM event WHERE id = ?", eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return n > 0, nil
}

// LatestReplaceable returns the newest stored version of a replaceable or
// addressable event, or nil when none exists. dTag is ignored for plain
// replaceable kinds.
func (s *Storage) LatestReplaceable(ctx context.Context, kind int, pubkey, dTag string) (*nostr.Event, error) {
	filter := nostr.Filter{
		Kinds:   []int{kind},
		Authors: []string{pubkey},
		Limit:   1,
	}
	if nostr.IsAddressableKind(kind) {
		filter.Tags = nostr.TagMap{"d": []string{dTag}}
	}

	events, err := s.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// DeleteEvent deletes an event by id
func (s *Storage) DeleteEvent(ctx context.Context, eventID string) error {
	events, err := s.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to query event before delete: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	for _, handler := range s.relay.DeleteEvent {
		if err := handler(ctx, events[0]); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.backend != nil {
		s.backend.Close()
	}
	return nil
}
