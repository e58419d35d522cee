package storage

import (
	"context"
	"fmt"
)

// migrations are the side tables ditto maintains next to the eventstore
// event table. Statements are idempotent so startup can always run them.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS author_stats (
		pubkey TEXT PRIMARY KEY,
		followers_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0,
		notes_count INTEGER NOT NULL DEFAULT 0,
		search TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS event_stats (
		event_id TEXT PRIMARY KEY,
		replies_count INTEGER NOT NULL DEFAULT 0,
		reposts_count INTEGER NOT NULL DEFAULT 0,
		reactions_count INTEGER NOT NULL DEFAULT 0,
		quotes_count INTEGER NOT NULL DEFAULT 0,
		zaps_amount INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pubkey_domains (
		pubkey TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		last_updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS event_languages (
		event_id TEXT PRIMARY KEY,
		language TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pubkey_domains_domain ON pubkey_domains(domain)`,
	`CREATE INDEX IF NOT EXISTS idx_event_languages_language ON event_languages(language)`,
	`CREATE INDEX IF NOT EXISTS idx_author_stats_search ON author_stats(search)`,
}

func (s *Storage) runMigrations(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
