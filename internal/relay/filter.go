package relay

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Filter is a standard Nostr filter extended with ditto-specific predicates:
// LocalOnly restricts matches to events from the operator or locally
// registered users, and Relations names the relations to attach to matched
// results when they are served back to clients.
type Filter struct {
	nostr.Filter

	LocalOnly bool
	Relations []string
}

// MatchContext supplies the facts extension predicates need. It is computed
// by the caller once per event; matching itself never touches storage.
type MatchContext struct {
	// OperatorPubkey is the instance operator's hex pubkey
	OperatorPubkey string
	// AuthorIsLocal marks the event author as registered on this instance
	AuthorIsLocal bool
}

// Matches reports whether the filter accepts the event in the given context
func (f Filter) Matches(event *nostr.Event, mctx MatchContext) bool {
	if event == nil {
		return false
	}

	if !f.Filter.Matches(event) {
		return false
	}

	if f.Search != "" && !containsFold(event.Content, f.Search) {
		return false
	}

	if f.LocalOnly {
		if event.PubKey != mctx.OperatorPubkey && !mctx.AuthorIsLocal {
			return false
		}
	}

	return true
}

// MatchAny reports whether any filter in the list accepts the event
func MatchAny(filters []Filter, event *nostr.Event, mctx MatchContext) bool {
	for _, f := range filters {
		if f.Matches(event, mctx) {
			return true
		}
	}
	return false
}

// containsFold is a case-insensitive substring test, the live-path stand-in
// for the store's full-text search
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
