package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"

	"github.com/aljazceru/ditto/internal/entities"
	"github.com/aljazceru/ditto/internal/hydrate"
	"github.com/aljazceru/ditto/internal/lang"
	"github.com/aljazceru/ditto/internal/notify"
	"github.com/aljazceru/ditto/internal/stats"
)

// effect is one post-commit side effect. Failures are logged and isolated,
// never escalated to the event's outcome.
type effect struct {
	name string
	run  func(ctx context.Context) error
}

// runSideEffects executes the event's side effects concurrently and waits
// for all of them. The deadline is independent of the caller's context: the
// event is already committed.
func (p *Pipeline) runSideEffects(hydrated *hydrate.Event, allowDerive bool) {
	effects := p.effectsFor(hydrated, allowDerive)
	if len(effects) == 0 {
		return
	}

	timeout := time.Duration(p.cfg.SideEffectTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, e := range effects {
		wg.Add(1)
		go func(e effect) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("side effect panic", "effect", e.name, "event_id", hydrated.ID, "panic", r)
				}
			}()
			p.log.LogSideEffect(e.name, hydrated.ID, e.run(ctx))
		}(e)
	}
	wg.Wait()
}

func (p *Pipeline) effectsFor(hydrated *hydrate.Event, allowDerive bool) []effect {
	var effects []effect

	switch hydrated.Kind {
	case kindProfile:
		effects = append(effects, effect{"profile_index", func(ctx context.Context) error {
			return p.indexProfile(ctx, hydrated.Event)
		}})
	case kindZapReceipt:
		effects = append(effects, effect{"zap_index", func(ctx context.Context) error {
			return p.indexZap(ctx, hydrated.Event)
		}})
	case kindReport:
		if allowDerive && p.deps.OperatorSecret != "" {
			effects = append(effects, effect{"derive_report", func(ctx context.Context) error {
				return p.deriveReport(ctx, hydrated)
			}})
		}
	}

	if hydrated.Kind == 1 && hydrated.Content != "" {
		effects = append(effects, effect{"language", func(ctx context.Context) error {
			return p.detectLanguage(ctx, hydrated.Event)
		}})
	}

	if p.deps.Notifier != nil {
		effects = append(effects, effect{"notify", func(ctx context.Context) error {
			return p.deliverNotifications(ctx, hydrated)
		}})
	}

	return effects
}

// indexProfile updates the author's domain record and searchable text from
// a kind-0 profile.
func (p *Pipeline) indexProfile(ctx context.Context, event *nostr.Event) error {
	if !gjson.Valid(event.Content) {
		return fmt.Errorf("profile content is not valid JSON")
	}

	name := gjson.Get(event.Content, "name").String()
	displayName := gjson.Get(event.Content, "display_name").String()
	nip05 := gjson.Get(event.Content, "nip05").String()

	if _, domain, found := strings.Cut(nip05, "@"); found && domain != "" {
		if err := p.deps.Store.UpsertAuthorDomain(ctx, event.PubKey, domain, event.CreatedAt); err != nil {
			return err
		}
	}

	search := strings.TrimSpace(strings.Join([]string{name, displayName, nip05}, " "))
	if search == "" {
		return nil
	}
	return p.deps.Store.UpdateAuthorSearch(ctx, event.PubKey, search)
}

// indexZap credits the zapped event's stat row from a kind-9735 receipt
func (p *Pipeline) indexZap(ctx context.Context, event *nostr.Event) error {
	delta, err := stats.ZapDelta(event)
	if err != nil {
		return fmt.Errorf("parsing zap receipt: %w", err)
	}
	if delta == nil {
		return nil
	}
	return p.deps.Store.ApplyDeltas(ctx, []stats.Delta{*delta})
}

// detectLanguage records the note's content language when one is recognizable
func (p *Pipeline) detectLanguage(ctx context.Context, event *nostr.Event) error {
	language := lang.Detect(event.Content)
	if language == "" {
		return nil
	}
	return p.deps.Store.SetEventLanguage(ctx, event.ID, language)
}

// deriveReport publishes an operator-signed admin marker for a report. The
// derived event goes through the pipeline itself, with a short deadline and
// derivation disabled so it can never spawn further derived events.
func (p *Pipeline) deriveReport(ctx context.Context, report *hydrate.Event) error {
	derived := nostr.Event{
		CreatedAt: p.now(),
		Kind:      kindDerivedReport,
		Content:   "",
		Tags: nostr.Tags{
			{"d", report.ID},
			{"k", strconv.Itoa(report.Kind)},
		},
	}
	if subject := firstTagValue(report.Event, "p"); subject != "" {
		derived.Tags = append(derived.Tags, nostr.Tag{"p", subject})
	}
	for _, note := range report.ReportedNotes {
		derived.Tags = append(derived.Tags, nostr.Tag{"e", note.ID})
	}

	if err := derived.Sign(p.deps.OperatorSecret); err != nil {
		return fmt.Errorf("signing derived report: %w", err)
	}

	deadline := time.Duration(p.cfg.DerivedDeadlineMs) * time.Millisecond
	if deadline <= 0 {
		deadline = time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := p.process(dctx, &derived, false); err != nil {
		return fmt.Errorf("ingesting derived report: %w", err)
	}
	return nil
}

// deliverNotifications tells mentioned users about the event. Reports also
// notify the operator.
func (p *Pipeline) deliverNotifications(ctx context.Context, hydrated *hydrate.Event) error {
	recipients := make(map[string]string)
	for _, tag := range hydrated.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] != "" && tag[1] != hydrated.PubKey {
			recipients[tag[1]] = messageType(hydrated.Event)
		}
	}
	// Mentions written as nostr: URIs count even without a p tag
	if hydrated.Kind == 1 {
		for _, pubkey := range entities.MentionedPubkeys(hydrated.Content) {
			if pubkey != hydrated.PubKey {
				if _, ok := recipients[pubkey]; !ok {
					recipients[pubkey] = "mention"
				}
			}
		}
	}
	if hydrated.Kind == kindReport && p.deps.OperatorPubkey != "" {
		recipients[p.deps.OperatorPubkey] = "report"
	}

	var firstErr error
	for recipient, msgType := range recipients {
		err := p.deps.Notifier.Deliver(ctx, recipient, notify.Message{
			Type:    msgType,
			EventID: hydrated.ID,
			Body:    hydrated.Content,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func messageType(event *nostr.Event) string {
	switch event.Kind {
	case 1:
		if stats.ParseThreadInfo(event).IsReply() {
			return "reply"
		}
		return "mention"
	case 6:
		return "repost"
	case 7:
		return "reaction"
	case kindZapReceipt:
		return "zap"
	case kindReport:
		return "report"
	default:
		return "mention"
	}
}

// notifyRecipients is the ephemeral path's notification hook; ephemeral
// events never persist, so this is their only observable side effect besides
// fan-out.
func (p *Pipeline) notifyRecipients(hydrated *hydrate.Event) {
	if p.deps.Notifier == nil {
		return
	}
	timeout := time.Duration(p.cfg.SideEffectTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	p.log.LogSideEffect("notify", hydrated.ID, p.deliverNotifications(ctx, hydrated))
}
