// Package pipeline ingests events: validation, deduplication, moderation
// policy, relation hydration, transactional persistence with derived
// statistics, side effects, and live fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"

	"github.com/aljazceru/ditto/internal/cache"
	"github.com/aljazceru/ditto/internal/config"
	"github.com/aljazceru/ditto/internal/hydrate"
	"github.com/aljazceru/ditto/internal/notify"
	"github.com/aljazceru/ditto/internal/ops"
	"github.com/aljazceru/ditto/internal/policy"
	"github.com/aljazceru/ditto/internal/relay"
	"github.com/aljazceru/ditto/internal/stats"
	"github.com/aljazceru/ditto/internal/verify"
)

const (
	kindProfile       = 0
	kindReport        = 1984
	kindZapReceipt    = 9735
	kindDerivedReport = 30383

	maxStorageTimestamp = math.MaxInt32
	maxStorageKind      = 65535
)

// Store is the persistence surface the pipeline writes to and reads from
type Store interface {
	SaveEventWithStats(ctx context.Context, event *nostr.Event, deltas []stats.Delta) error
	LatestReplaceable(ctx context.Context, kind int, pubkey, dTag string) (*nostr.Event, error)
	QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	AuthorDomains(ctx context.Context, pubkeys []string) (map[string]string, error)
	ApplyDeltas(ctx context.Context, deltas []stats.Delta) error
	UpsertAuthorDomain(ctx context.Context, pubkey, domain string, updatedAt nostr.Timestamp) error
	UpdateAuthorSearch(ctx context.Context, pubkey, search string) error
	SetEventLanguage(ctx context.Context, eventID, language string) error
}

// Deps are the pipeline's collaborators. Store, Cache, and Verifier are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Store    Store
	Cache    cache.Membership
	Verifier verify.Verifier
	Policy   policy.Policy
	Subs     *relay.Store
	Notifier notify.Notifier
	Logger   *ops.Logger

	// OperatorPubkey is the instance operator's hex pubkey
	OperatorPubkey string
	// OperatorSecret is the operator's hex secret key, used to sign
	// derived admin events. Derivation is skipped when empty.
	OperatorSecret string
	// Domain is the instance's own domain, for the local-author predicate
	Domain string
}

// Pipeline is the ingestion path. Process is safe for concurrent use.
type Pipeline struct {
	cfg      config.Pipeline
	policies config.Policy
	deps     Deps
	hydrator *hydrate.Engine
	stats    *stats.Engine
	log      *ops.Logger

	// now is the clock, replaceable in tests
	now func() nostr.Timestamp

	// effects tracks in-flight side-effect groups for Drain
	effects sync.WaitGroup
}

// New creates a pipeline
func New(cfg *config.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = ops.Default()
	}
	return &Pipeline{
		cfg:      cfg.Pipeline,
		policies: cfg.Policy,
		deps:     deps,
		hydrator: hydrate.New(deps.Store, deps.OperatorPubkey),
		stats:    stats.NewEngine(),
		log:      logger.WithComponent("pipeline"),
		now:      nostr.Now,
	}
}

// Process ingests one event. It returns nil on acceptance, one of ErrInvalid,
// ErrDuplicate, ErrBlocked on rejection, and any other error on pipeline
// fault. Processing the same event twice yields the duplicate outcome with no
// further observable effect.
func (p *Pipeline) Process(ctx context.Context, event *nostr.Event) error {
	start := time.Now()
	err := p.process(ctx, event, true)
	p.log.LogPipelineResult(event.ID, event.Kind, time.Since(start), err)
	return err
}

func (p *Pipeline) process(ctx context.Context, event *nostr.Event, allowDerive bool) error {
	if event.CreatedAt < 0 || event.CreatedAt > maxStorageTimestamp {
		return fmt.Errorf("%w: created_at %d out of range", ErrInvalid, event.CreatedAt)
	}
	if event.Kind < 0 || event.Kind > maxStorageKind {
		return fmt.Errorf("%w: kind %d out of range", ErrInvalid, event.Kind)
	}

	ephemeral := nostr.IsEphemeralKind(event.Kind)
	if ephemeral {
		age := p.now() - event.CreatedAt
		if age > nostr.Timestamp(p.cfg.FreshnessSeconds) {
			return fmt.Errorf("%w: ephemeral event is %ds old", ErrInvalid, age)
		}
	}

	if isProtected(event) && event.PubKey != p.deps.OperatorPubkey {
		return fmt.Errorf("%w: protected event from foreign author", ErrInvalid)
	}

	// A verifier fault is not a verdict on the event; it stays outside the
	// rejection classes so the caller can retry.
	ok, err := p.deps.Verifier.Verify(ctx, event)
	if err != nil {
		return fmt.Errorf("verifying event: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: bad id or signature", ErrInvalid)
	}

	// The cache is advisory; a cache fault must not reject the event
	seen, err := p.deps.Cache.TestAndSet(ctx, event.ID)
	if err != nil {
		p.log.Warn("dedup cache fault", "error", err)
	} else if seen {
		return fmt.Errorf("%w: %s", ErrDuplicate, event.ID)
	}

	if err := p.applyPolicy(ctx, event); err != nil {
		return err
	}

	hydrated, err := p.hydrator.HydrateOne(ctx, event)
	if err != nil {
		return fmt.Errorf("hydration failed: %w", err)
	}
	if hydrated.Disabled() {
		return fmt.Errorf("%w: author is disabled", ErrBlocked)
	}

	if ephemeral {
		return p.fanOutEphemeral(ctx, hydrated)
	}

	if err := p.persist(ctx, event); err != nil {
		return err
	}

	// Fan-out stays synchronous with the commit; everything else is
	// fire-and-forget.
	p.fanOut(hydrated)
	p.spawn(func() { p.runSideEffects(hydrated, allowDerive) })
	return nil
}

// spawn runs fn detached, tracked for Drain
func (p *Pipeline) spawn(fn func()) {
	p.effects.Add(1)
	go func() {
		defer p.effects.Done()
		fn()
	}()
}

// Drain blocks until all in-flight side effects have finished. Called on
// shutdown so committed events do not lose their indexing or notifications.
func (p *Pipeline) Drain() {
	p.effects.Wait()
}

// applyPolicy consults the policy oracle. The operator bypasses policy, and
// an oracle fault rejects the event.
func (p *Pipeline) applyPolicy(ctx context.Context, event *nostr.Event) error {
	if !p.policies.Enabled || p.deps.Policy == nil || event.PubKey == p.deps.OperatorPubkey {
		return nil
	}

	pctx := ctx
	if p.policies.TimeoutMs > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, time.Duration(p.policies.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	decision, err := p.deps.Policy.Evaluate(pctx, event)
	if err != nil {
		p.log.LogPolicyDecision(event.ID, false, err.Error())
		return fmt.Errorf("%w: policy fault: %v", ErrBlocked, err)
	}
	p.log.LogPolicyDecision(event.ID, decision.Accept, decision.Message)
	if !decision.Accept {
		return fmt.Errorf("%w: %s", ErrBlocked, decision.Message)
	}

	event.Tags = append(event.Tags, decision.AddTags...)
	return nil
}

// persist runs the stats-then-insert transaction
func (p *Pipeline) persist(ctx context.Context, event *nostr.Event) error {
	var previous *nostr.Event
	if nostr.IsReplaceableKind(event.Kind) || nostr.IsAddressableKind(event.Kind) {
		var err error
		previous, err = p.deps.Store.LatestReplaceable(ctx, event.Kind, event.PubKey, event.Tags.GetD())
		if err != nil {
			return fmt.Errorf("fetching previous version: %w", err)
		}
	}

	deltas := p.stats.Deltas(event, previous)
	err := p.deps.Store.SaveEventWithStats(ctx, event, deltas)
	if errors.Is(err, eventstore.ErrDupEvent) {
		return fmt.Errorf("%w: %s", ErrDuplicate, event.ID)
	}
	if err != nil {
		return fmt.Errorf("persisting event: %w", err)
	}
	return nil
}

// fanOutEphemeral delivers an ephemeral event to live subscribers. Nothing is
// persisted; an expired context is terminal.
func (p *Pipeline) fanOutEphemeral(ctx context.Context, hydrated *hydrate.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: fan-out expired: %v", ErrInvalid, err)
	}
	p.fanOut(hydrated)
	p.spawn(func() { p.notifyRecipients(hydrated) })
	return nil
}

func (p *Pipeline) fanOut(hydrated *hydrate.Event) {
	if p.deps.Subs == nil {
		return
	}
	mctx := relay.MatchContext{
		OperatorPubkey: p.deps.OperatorPubkey,
		AuthorIsLocal:  p.deps.Domain != "" && hydrated.AuthorDomain == p.deps.Domain,
	}
	delivered, dropped := p.deps.Subs.Dispatch(hydrated.Event, mctx)
	p.log.LogFanout(hydrated.ID, delivered, dropped)
}

func isProtected(event *nostr.Event) bool {
	for _, tag := range event.Tags {
		if len(tag) >= 1 && tag[0] == "-" {
			return true
		}
	}
	return false
}

func firstTagValue(event *nostr.Event, name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
