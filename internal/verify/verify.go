package verify

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Verifier validates an event's id and signature. It is a pure function of
// the event bytes and safe to call concurrently.
type Verifier interface {
	Verify(ctx context.Context, event *nostr.Event) (bool, error)
}

// Schnorr verifies events with the standard Nostr scheme: the id must be the
// sha256 of the canonical serialization and the signature must verify against
// the id and pubkey.
type Schnorr struct{}

// Verify reports whether the event is authentic
func (Schnorr) Verify(_ context.Context, event *nostr.Event) (bool, error) {
	if !event.CheckID() {
		return false, nil
	}
	return event.CheckSignature()
}

// Func adapts a plain function to the Verifier interface
type Func func(ctx context.Context, event *nostr.Event) (bool, error)

// Verify calls the wrapped function
func (f Func) Verify(ctx context.Context, event *nostr.Event) (bool, error) {
	return f(ctx, event)
}
