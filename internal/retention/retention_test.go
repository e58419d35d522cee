package retention

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/aljazceru/ditto/internal/config"
)

// fakeStore holds events in memory and records deletions
type fakeStore struct {
	events  map[string]*nostr.Event
	deleted []string
}

func newFakeStore(events ...*nostr.Event) *fakeStore {
	s := &fakeStore{events: make(map[string]*nostr.Event)}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return s
}

func (s *fakeStore) QueryEvents(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	var out []*nostr.Event
	for _, ev := range s.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteEvent(_ context.Context, eventID string) error {
	delete(s.events, eventID)
	s.deleted = append(s.deleted, eventID)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPruneOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := nostr.Timestamp(now.Add(-48 * time.Hour).Unix())
	fresh := nostr.Timestamp(now.Add(-1 * time.Hour).Unix())

	store := newFakeStore(
		&nostr.Event{ID: "old-note", PubKey: "alice", Kind: 1, CreatedAt: old},
		&nostr.Event{ID: "fresh-note", PubKey: "alice", Kind: 1, CreatedAt: fresh},
		&nostr.Event{ID: "old-profile", PubKey: "alice", Kind: 0, CreatedAt: old},
		&nostr.Event{ID: "old-op-note", PubKey: "operator", Kind: 1, CreatedAt: old},
	)

	cfg := &config.Retention{
		Rules: []config.RetentionRule{{Kinds: []int{1}, MaxAgeDays: 1}},
	}
	engine := New(store, cfg, "operator", nil)
	engine.now = fixedClock(now)

	deleted, err := engine.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("PruneOnce failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "old-note" {
		t.Errorf("expected only old-note deleted, got %v", store.deleted)
	}
}

func TestPruneProtectsProfilesAndOperator(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := nostr.Timestamp(now.Add(-100 * 24 * time.Hour).Unix())

	store := newFakeStore(
		&nostr.Event{ID: "old-profile", PubKey: "alice", Kind: 0, CreatedAt: old},
		&nostr.Event{ID: "old-follows", PubKey: "alice", Kind: 3, CreatedAt: old},
		&nostr.Event{ID: "op-note", PubKey: "operator", Kind: 1, CreatedAt: old},
	)

	// A rule with no kind restriction covers everything
	cfg := &config.Retention{
		Rules: []config.RetentionRule{{MaxAgeDays: 30}},
	}
	engine := New(store, cfg, "operator", nil)
	engine.now = fixedClock(now)

	deleted, err := engine.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("PruneOnce failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected nothing deleted, got %d (%v)", deleted, store.deleted)
	}
}

func TestPruneIgnoresZeroAgeRules(t *testing.T) {
	store := newFakeStore(
		&nostr.Event{ID: "note", PubKey: "alice", Kind: 1, CreatedAt: 1000},
	)
	cfg := &config.Retention{
		Rules: []config.RetentionRule{{Kinds: []int{1}}},
	}
	engine := New(store, cfg, "operator", nil)

	deleted, err := engine.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("PruneOnce failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected no deletions for zero-age rule, got %d", deleted)
	}
}
