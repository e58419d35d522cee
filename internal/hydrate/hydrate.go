// Package hydrate resolves the relations of freshly ingested events: authors,
// repost and quote targets, report subjects, author domains, and the
// operator's moderation records. Lookups are batched per relation kind per
// level, and resolution depth is fixed so a chain of references never turns
// into unbounded fetching.
package hydrate

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/aljazceru/ditto/internal/entities"
)

// maxDepth bounds relation resolution: targets are followed for two levels
// below the ingested event. A repost of a quote resolves the quote and the
// quote's own target, but nothing beyond that.
const maxDepth = 2

const (
	kindProfile    = 0
	kindNote       = 1
	kindRepost     = 6
	kindReport     = 1984
	kindModeration = 30382
)

// Event is a stored event together with its resolved relations. Relation
// fields are nil (or empty) when the target does not exist locally.
type Event struct {
	*nostr.Event

	// Author is the author's latest profile event
	Author *Event
	// AuthorDomain is the NIP-05 domain last verified for the author
	AuthorDomain string
	// Repost is the target of a kind-6 repost
	Repost *Event
	// Quote is the target named by a note's "q" tag
	Quote *Event
	// ReportedNotes are the events named by a kind-1984 report
	ReportedNotes []*Event
	// ReportedProfile is the profile of a report's subject pubkey
	ReportedProfile *Event
	// Moderation is the operator's user record for the author, if any
	Moderation *nostr.Event
}

// Disabled reports whether the author's moderation record carries the
// "disabled" marker.
func (e *Event) Disabled() bool {
	if e.Moderation == nil {
		return false
	}
	for _, tag := range e.Moderation.Tags {
		if len(tag) >= 2 && tag[0] == "n" && tag[1] == "disabled" {
			return true
		}
	}
	return false
}

// Store is the query side of event storage as hydration needs it
type Store interface {
	QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	AuthorDomains(ctx context.Context, pubkeys []string) (map[string]string, error)
}

// Engine batches relation lookups against a Store
type Engine struct {
	store    Store
	operator string
}

// New creates a hydration engine. operator is the instance operator's hex
// pubkey, used to select moderation records.
func New(store Store, operator string) *Engine {
	return &Engine{store: store, operator: operator}
}

// Hydrate resolves relations for the batch and returns the wrapped events in
// input order. Missing relation targets are omitted; only store faults are
// reported as errors.
func (e *Engine) Hydrate(ctx context.Context, events []*nostr.Event) ([]*Event, error) {
	wrapped := make([]*Event, len(events))
	for i, ev := range events {
		wrapped[i] = &Event{Event: ev}
	}
	if err := e.hydrateLevel(ctx, wrapped, maxDepth); err != nil {
		return nil, err
	}
	return wrapped, nil
}

// HydrateOne resolves relations for a single event
func (e *Engine) HydrateOne(ctx context.Context, event *nostr.Event) (*Event, error) {
	batch, err := e.Hydrate(ctx, []*nostr.Event{event})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

func (e *Engine) hydrateLevel(ctx context.Context, batch []*Event, depth int) error {
	if len(batch) == 0 {
		return nil
	}

	// The deepest level resolves authors and domains only; following relation
	// targets there would turn chains of references into unbounded fetching.
	followTargets := depth > 0

	targetIDs := make(map[string]struct{})
	profilePubkeys := make(map[string]struct{})

	for _, ev := range batch {
		profilePubkeys[ev.PubKey] = struct{}{}

		if !followTargets {
			continue
		}
		switch ev.Kind {
		case kindNote:
			if id := quotedEventID(ev.Event); id != "" {
				targetIDs[id] = struct{}{}
			}
		case kindRepost:
			if id := firstTagValue(ev.Event, "e"); id != "" {
				targetIDs[id] = struct{}{}
			}
		case kindReport:
			for _, tag := range ev.Tags {
				if len(tag) >= 2 && tag[0] == "e" && tag[1] != "" {
					targetIDs[tag[1]] = struct{}{}
				}
			}
			if pk := firstTagValue(ev.Event, "p"); pk != "" {
				profilePubkeys[pk] = struct{}{}
			}
		}
	}

	targets, err := e.fetchByID(ctx, keys(targetIDs))
	if err != nil {
		return err
	}

	profiles, err := e.fetchProfiles(ctx, keys(profilePubkeys))
	if err != nil {
		return err
	}

	domains, err := e.fetchDomains(ctx, keys(profilePubkeys))
	if err != nil {
		return err
	}

	var moderation map[string]*nostr.Event
	if depth == maxDepth {
		moderation, err = e.fetchModeration(ctx, pubkeysOf(batch))
		if err != nil {
			return err
		}
	}

	// Attach, collecting the next level's events as we go
	var next []*Event
	attach := func(id string) *Event {
		target, ok := targets[id]
		if !ok {
			return nil
		}
		child := &Event{Event: target}
		next = append(next, child)
		return child
	}

	for _, ev := range batch {
		if profile, ok := profiles[ev.PubKey]; ok {
			ev.Author = &Event{Event: profile}
		}
		ev.AuthorDomain = domains[ev.PubKey]
		if moderation != nil {
			ev.Moderation = moderation[ev.PubKey]
		}

		switch ev.Kind {
		case kindNote:
			if id := quotedEventID(ev.Event); id != "" {
				ev.Quote = attach(id)
			}
		case kindRepost:
			if id := firstTagValue(ev.Event, "e"); id != "" {
				ev.Repost = attach(id)
			}
		case kindReport:
			for _, tag := range ev.Tags {
				if len(tag) >= 2 && tag[0] == "e" && tag[1] != "" {
					if child := attach(tag[1]); child != nil {
						ev.ReportedNotes = append(ev.ReportedNotes, child)
					}
				}
			}
			if pk := firstTagValue(ev.Event, "p"); pk != "" {
				if profile, ok := profiles[pk]; ok {
					ev.ReportedProfile = &Event{Event: profile}
				}
			}
		}
	}

	return e.hydrateLevel(ctx, next, depth-1)
}

func (e *Engine) fetchByID(ctx context.Context, ids []string) (map[string]*nostr.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	events, err := e.store.QueryEvents(ctx, nostr.Filter{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("querying relation targets: %w", err)
	}
	byID := make(map[string]*nostr.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	return byID, nil
}

// fetchProfiles returns the latest kind-0 event per pubkey
func (e *Engine) fetchProfiles(ctx context.Context, pubkeys []string) (map[string]*nostr.Event, error) {
	if len(pubkeys) == 0 {
		return nil, nil
	}
	events, err := e.store.QueryEvents(ctx, nostr.Filter{
		Kinds:   []int{kindProfile},
		Authors: pubkeys,
	})
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	byPubkey := make(map[string]*nostr.Event, len(events))
	for _, ev := range events {
		if prev, ok := byPubkey[ev.PubKey]; !ok || ev.CreatedAt > prev.CreatedAt {
			byPubkey[ev.PubKey] = ev
		}
	}
	return byPubkey, nil
}

func (e *Engine) fetchDomains(ctx context.Context, pubkeys []string) (map[string]string, error) {
	if len(pubkeys) == 0 {
		return nil, nil
	}
	domains, err := e.store.AuthorDomains(ctx, pubkeys)
	if err != nil {
		return nil, fmt.Errorf("querying author domains: %w", err)
	}
	return domains, nil
}

// fetchModeration returns the operator's kind-30382 record per subject pubkey
func (e *Engine) fetchModeration(ctx context.Context, pubkeys []string) (map[string]*nostr.Event, error) {
	if e.operator == "" || len(pubkeys) == 0 {
		return nil, nil
	}
	events, err := e.store.QueryEvents(ctx, nostr.Filter{
		Kinds:   []int{kindModeration},
		Authors: []string{e.operator},
		Tags:    nostr.TagMap{"d": pubkeys},
	})
	if err != nil {
		return nil, fmt.Errorf("querying moderation records: %w", err)
	}
	bySubject := make(map[string]*nostr.Event, len(events))
	for _, ev := range events {
		if subject := firstTagValue(ev, "d"); subject != "" {
			if prev, ok := bySubject[subject]; !ok || ev.CreatedAt > prev.CreatedAt {
				bySubject[subject] = ev
			}
		}
	}
	return bySubject, nil
}

// quotedEventID finds a note's quote target: the "q" tag, or failing that the
// first note/nevent URI in the content.
func quotedEventID(event *nostr.Event) string {
	if id := firstTagValue(event, "q"); id != "" {
		return id
	}
	if ids := entities.QuotedEventIDs(event.Content); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func firstTagValue(event *nostr.Event, name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

func keys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func pubkeysOf(batch []*Event) []string {
	set := make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		set[ev.PubKey] = struct{}{}
	}
	return keys(set)
}
