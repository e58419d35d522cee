package stats

import (
	"github.com/nbd-wtf/go-nostr"
)

// Tables receiving stat deltas
const (
	TableAuthor = "author_stats"
	TableEvent  = "event_stats"
)

// Delta is one increment (or replacement) of a single counter cell.
// Increments are commutative so a batch may be applied in any order.
type Delta struct {
	Table  string
	Key    string // pubkey for author_stats, event id for event_stats
	Column string
	Value  int64
	// Replace sets the cell to Value instead of adding. Used for counters
	// whose source of truth is the latest replaceable event, not history.
	Replace bool
}

// Engine derives counter deltas from events
type Engine struct{}

// NewEngine creates a stats engine
func NewEngine() *Engine {
	return &Engine{}
}

// Deltas derives the counter deltas an event contributes. For replaceable
// kinds the previous version must be supplied so superseded contributions
// can be withdrawn; previous is nil otherwise.
func (e *Engine) Deltas(event *nostr.Event, previous *nostr.Event) []Delta {
	switch event.Kind {
	case 1:
		return e.noteDeltas(event)
	case 3:
		return e.followListDeltas(event, previous)
	case 6:
		return e.repostDeltas(event)
	case 7:
		return e.reactionDeltas(event)
	default:
		return nil
	}
}

// noteDeltas handles kind 1: author note count, reply target, quote target
func (e *Engine) noteDeltas(event *nostr.Event) []Delta {
	deltas := []Delta{
		{Table: TableAuthor, Key: event.PubKey, Column: "notes_count", Value: 1},
	}

	info := ParseThreadInfo(event)
	if info.IsReply() {
		deltas = append(deltas, Delta{
			Table: TableEvent, Key: info.ReplyToID, Column: "replies_count", Value: 1,
		})
	}

	if quoted := firstTagValue(event, "q"); quoted != "" {
		deltas = append(deltas, Delta{
			Table: TableEvent, Key: quoted, Column: "quotes_count", Value: 1,
		})
	}

	return deltas
}

// followListDeltas handles kind 3. The tag set of a replaceable event is
// authoritative for current state: followers counts move by the diff against
// the previous version, while the author's following count is recomputed
// wholesale from the new event.
func (e *Engine) followListDeltas(event *nostr.Event, previous *nostr.Event) []Delta {
	newSet := followedPubkeys(event)
	oldSet := followedPubkeys(previous)

	var deltas []Delta
	for pubkey := range newSet {
		if !oldSet[pubkey] {
			deltas = append(deltas, Delta{
				Table: TableAuthor, Key: pubkey, Column: "followers_count", Value: 1,
			})
		}
	}
	for pubkey := range oldSet {
		if !newSet[pubkey] {
			deltas = append(deltas, Delta{
				Table: TableAuthor, Key: pubkey, Column: "followers_count", Value: -1,
			})
		}
	}

	deltas = append(deltas, Delta{
		Table: TableAuthor, Key: event.PubKey, Column: "following_count",
		Value: int64(len(newSet)), Replace: true,
	})

	return deltas
}

// repostDeltas handles kind 6
func (e *Engine) repostDeltas(event *nostr.Event) []Delta {
	target := firstTagValue(event, "e")
	if target == "" {
		return nil
	}
	return []Delta{
		{Table: TableEvent, Key: target, Column: "reposts_count", Value: 1},
	}
}

// reactionDeltas handles kind 7
func (e *Engine) reactionDeltas(event *nostr.Event) []Delta {
	target := firstTagValue(event, "e")
	if target == "" {
		return nil
	}
	return []Delta{
		{Table: TableEvent, Key: target, Column: "reactions_count", Value: 1},
	}
}

// followedPubkeys returns the unique p-tag set of a follow list event
func followedPubkeys(event *nostr.Event) map[string]bool {
	if event == nil {
		return nil
	}
	set := make(map[string]bool)
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] != "" {
			set[tag[1]] = true
		}
	}
	return set
}

// firstTagValue returns the value of the first tag with the given name
func firstTagValue(event *nostr.Event, name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
