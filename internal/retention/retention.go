// Package retention prunes stored events past their configured lifetime.
// Profiles, follow lists, and anything authored by the operator are never
// pruned; everything else follows per-kind age rules.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/aljazceru/ditto/internal/config"
	"github.com/aljazceru/ditto/internal/ops"
)

// Store is the slice of event storage pruning needs
type Store interface {
	QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Engine applies retention rules on a schedule
type Engine struct {
	store    Store
	rules    []config.RetentionRule
	operator string
	log      *ops.Logger

	// now is the clock, replaceable in tests
	now func() time.Time
}

// New creates a retention engine. operator is the instance operator's hex
// pubkey, whose events are exempt.
func New(store Store, cfg *config.Retention, operator string, logger *ops.Logger) *Engine {
	if logger == nil {
		logger = ops.Default()
	}
	return &Engine{
		store:    store,
		rules:    cfg.Rules,
		operator: operator,
		log:      logger.WithComponent("retention"),
		now:      time.Now,
	}
}

// protectedKinds are never pruned regardless of rules
var protectedKinds = map[int]bool{
	0: true, // profiles
	3: true, // follow lists
}

// PruneOnce applies every rule and returns the number of deleted events
func (e *Engine) PruneOnce(ctx context.Context) (int, error) {
	deleted := 0
	for _, rule := range e.rules {
		n, err := e.applyRule(ctx, rule)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (e *Engine) applyRule(ctx context.Context, rule config.RetentionRule) (int, error) {
	if rule.MaxAgeDays <= 0 {
		return 0, nil
	}

	cutoff := nostr.Timestamp(e.now().Add(-time.Duration(rule.MaxAgeDays) * 24 * time.Hour).Unix())
	filter := nostr.Filter{Until: &cutoff}
	if len(rule.Kinds) > 0 {
		filter.Kinds = rule.Kinds
	}

	events, err := e.store.QueryEvents(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("querying expired events: %w", err)
	}

	deleted := 0
	for _, event := range events {
		if protectedKinds[event.Kind] || event.PubKey == e.operator {
			continue
		}
		if err := e.store.DeleteEvent(ctx, event.ID); err != nil {
			return deleted, fmt.Errorf("deleting expired event %s: %w", event.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// Start runs periodic pruning until the context is canceled
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 || len(e.rules) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := e.PruneOnce(ctx)
				if err != nil {
					e.log.Error("pruning failed", "deleted", deleted, "error", err)
					continue
				}
				if deleted > 0 {
					e.log.Info("pruned expired events", "deleted", deleted)
				}
			}
		}
	}()
}
