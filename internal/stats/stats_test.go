package stats

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func findDelta(deltas []Delta, table, key, column string) *Delta {
	for i := range deltas {
		d := &deltas[i]
		if d.Table == table && d.Key == key && d.Column == column {
			return d
		}
	}
	return nil
}

func TestNoteDeltas(t *testing.T) {
	event := &nostr.Event{
		Kind:   1,
		PubKey: "author",
		Tags:   nostr.Tags{},
	}

	deltas := NewEngine().Deltas(event, nil)
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}

	d := findDelta(deltas, TableAuthor, "author", "notes_count")
	if d == nil || d.Value != 1 {
		t.Errorf("expected notes_count +1 for author, got %+v", deltas)
	}
}

func TestReplyDeltas(t *testing.T) {
	event := &nostr.Event{
		Kind:   1,
		PubKey: "author",
		Tags: nostr.Tags{
			{"e", "root-id", "", "root"},
			{"e", "parent-id", "", "reply"},
		},
	}

	deltas := NewEngine().Deltas(event, nil)

	if d := findDelta(deltas, TableAuthor, "author", "notes_count"); d == nil || d.Value != 1 {
		t.Error("expected notes_count +1 for author")
	}
	if d := findDelta(deltas, TableEvent, "parent-id", "replies_count"); d == nil || d.Value != 1 {
		t.Error("expected replies_count +1 for parent")
	}
	if d := findDelta(deltas, TableEvent, "root-id", "replies_count"); d != nil {
		t.Error("root must not receive a reply delta")
	}
}

func TestQuoteDeltas(t *testing.T) {
	event := &nostr.Event{
		Kind:   1,
		PubKey: "author",
		Tags: nostr.Tags{
			{"q", "quoted-id"},
		},
	}

	deltas := NewEngine().Deltas(event, nil)
	if d := findDelta(deltas, TableEvent, "quoted-id", "quotes_count"); d == nil || d.Value != 1 {
		t.Error("expected quotes_count +1 for quoted event")
	}
}

func TestFollowListDiff(t *testing.T) {
	previous := &nostr.Event{
		Kind:   3,
		PubKey: "author",
		Tags: nostr.Tags{
			{"p", "alice"},
			{"p", "bob"},
		},
	}
	event := &nostr.Event{
		Kind:   3,
		PubKey: "author",
		Tags: nostr.Tags{
			{"p", "bob"},
			{"p", "carol"},
			{"p", "carol"}, // duplicate entries count once
		},
	}

	deltas := NewEngine().Deltas(event, previous)

	if d := findDelta(deltas, TableAuthor, "carol", "followers_count"); d == nil || d.Value != 1 {
		t.Error("expected followers_count +1 for added pubkey")
	}
	if d := findDelta(deltas, TableAuthor, "alice", "followers_count"); d == nil || d.Value != -1 {
		t.Error("expected followers_count -1 for removed pubkey")
	}
	if d := findDelta(deltas, TableAuthor, "bob", "followers_count"); d != nil {
		t.Error("unchanged pubkey must not receive a delta")
	}

	// following_count is recomputed from the new event only, not accumulated
	d := findDelta(deltas, TableAuthor, "author", "following_count")
	if d == nil || !d.Replace || d.Value != 2 {
		t.Errorf("expected following_count replaced with 2, got %+v", d)
	}
}

func TestFollowListNoPrevious(t *testing.T) {
	event := &nostr.Event{
		Kind:   3,
		PubKey: "author",
		Tags: nostr.Tags{
			{"p", "alice"},
		},
	}

	deltas := NewEngine().Deltas(event, nil)
	if d := findDelta(deltas, TableAuthor, "alice", "followers_count"); d == nil || d.Value != 1 {
		t.Error("expected followers_count +1 without previous version")
	}
	if d := findDelta(deltas, TableAuthor, "author", "following_count"); d == nil || d.Value != 1 {
		t.Error("expected following_count = 1")
	}
}

func TestRepostAndReactionDeltas(t *testing.T) {
	tests := []struct {
		name   string
		kind   int
		column string
	}{
		{"repost", 6, "reposts_count"},
		{"reaction", 7, "reactions_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &nostr.Event{
				Kind:   tt.kind,
				PubKey: "author",
				Tags:   nostr.Tags{{"e", "target-id"}},
			}

			deltas := NewEngine().Deltas(event, nil)
			if d := findDelta(deltas, TableEvent, "target-id", tt.column); d == nil || d.Value != 1 {
				t.Errorf("expected %s +1 for target", tt.column)
			}
		})
	}
}

func TestRepostWithoutTarget(t *testing.T) {
	event := &nostr.Event{Kind: 6, PubKey: "author", Tags: nostr.Tags{}}
	if deltas := NewEngine().Deltas(event, nil); len(deltas) != 0 {
		t.Errorf("expected no deltas for targetless repost, got %+v", deltas)
	}
}

func TestUnhandledKind(t *testing.T) {
	event := &nostr.Event{Kind: 10002, PubKey: "author"}
	if deltas := NewEngine().Deltas(event, nil); deltas != nil {
		t.Errorf("expected nil deltas for kind 10002, got %+v", deltas)
	}
}

// Applying a batch's deltas in any order must yield identical final counters.
func TestDeltaCommutativity(t *testing.T) {
	events := []*nostr.Event{
		{Kind: 1, PubKey: "a", Tags: nostr.Tags{{"e", "x"}}},
		{Kind: 1, PubKey: "a", Tags: nostr.Tags{{"e", "x"}}},
		{Kind: 7, PubKey: "b", Tags: nostr.Tags{{"e", "x"}}},
		{Kind: 6, PubKey: "c", Tags: nostr.Tags{{"e", "x"}}},
	}

	engine := NewEngine()
	var all []Delta
	for _, ev := range events {
		all = append(all, engine.Deltas(ev, nil)...)
	}

	apply := func(order []int) map[string]int64 {
		counters := make(map[string]int64)
		for _, i := range order {
			d := all[i]
			cell := d.Table + "/" + d.Key + "/" + d.Column
			if d.Replace {
				counters[cell] = d.Value
			} else {
				counters[cell] += d.Value
			}
		}
		return counters
	}

	forward := make([]int, len(all))
	backward := make([]int, len(all))
	for i := range all {
		forward[i] = i
		backward[i] = len(all) - 1 - i
	}

	a, b := apply(forward), apply(backward)
	if len(a) != len(b) {
		t.Fatalf("different cell sets: %v vs %v", a, b)
	}
	for cell, v := range a {
		if b[cell] != v {
			t.Errorf("cell %s: forward=%d backward=%d", cell, v, b[cell])
		}
	}
	if a["event_stats/x/replies_count"] != 2 {
		t.Errorf("expected 2 replies on x, got %d", a["event_stats/x/replies_count"])
	}
}
