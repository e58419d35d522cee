package policy

import (
	"context"
	"fmt"
	"slices"

	"github.com/nbd-wtf/go-nostr"
)

// Decision is the outcome of evaluating one event against moderation rules
type Decision struct {
	Accept  bool
	Message string
	// AddTags are tags the policy wants appended to the event before storage
	AddTags nostr.Tags
}

// Policy evaluates an event against moderation rules. The deadline is carried
// by the context. An error is treated by callers as a rejection (fail-closed).
type Policy interface {
	Evaluate(ctx context.Context, event *nostr.Event) (*Decision, error)
}

// AllowAll accepts every event
type AllowAll struct{}

// Evaluate accepts the event unchanged
func (AllowAll) Evaluate(_ context.Context, _ *nostr.Event) (*Decision, error) {
	return &Decision{Accept: true}, nil
}

// KindAllowlist rejects events whose kind is not in the configured set.
// An empty set allows all kinds.
type KindAllowlist struct {
	Kinds []int
}

// Evaluate rejects events with unlisted kinds
func (p KindAllowlist) Evaluate(_ context.Context, event *nostr.Event) (*Decision, error) {
	if len(p.Kinds) == 0 || slices.Contains(p.Kinds, event.Kind) {
		return &Decision{Accept: true}, nil
	}
	return &Decision{
		Accept:  false,
		Message: fmt.Sprintf("blocked: kind %d not accepted here", event.Kind),
	}, nil
}

// MaxTags rejects events carrying more than Limit tags
type MaxTags struct {
	Limit int
}

// Evaluate rejects oversized tag lists
func (p MaxTags) Evaluate(_ context.Context, event *nostr.Event) (*Decision, error) {
	if p.Limit > 0 && len(event.Tags) > p.Limit {
		return &Decision{
			Accept:  false,
			Message: fmt.Sprintf("blocked: too many tags (%d > %d)", len(event.Tags), p.Limit),
		}, nil
	}
	return &Decision{Accept: true}, nil
}

// Chain evaluates policies in order; the first rejection or error wins.
// Tag additions from accepting policies accumulate.
type Chain []Policy

// Evaluate runs every policy until one rejects
func (c Chain) Evaluate(ctx context.Context, event *nostr.Event) (*Decision, error) {
	final := &Decision{Accept: true}
	for _, p := range c {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("policy deadline exceeded: %w", err)
		}

		decision, err := p.Evaluate(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if !decision.Accept {
			return decision, nil
		}
		final.AddTags = append(final.AddTags, decision.AddTags...)
	}
	return final, nil
}
