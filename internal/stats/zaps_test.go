package stats

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseZapFromDescription(t *testing.T) {
	event := &nostr.Event{
		Kind: 9735,
		Tags: nostr.Tags{
			{"e", "zapped-event"},
			{"p", "zapped-pubkey"},
			{"description", `{"pubkey":"sender-pk","content":"great post","tags":[["amount","21000"],["e","zapped-event"]]}`},
		},
	}

	info, err := ParseZap(event)
	if err != nil {
		t.Fatalf("ParseZap() error = %v", err)
	}

	if info.Amount != 21 {
		t.Errorf("expected 21 sats from 21000 millisats, got %d", info.Amount)
	}
	if info.TargetEventID != "zapped-event" {
		t.Errorf("expected target 'zapped-event', got %s", info.TargetEventID)
	}
	if info.Sender != "sender-pk" {
		t.Errorf("expected sender 'sender-pk', got %s", info.Sender)
	}
	if info.Comment != "great post" {
		t.Errorf("expected comment, got %s", info.Comment)
	}
}

func TestParseZapFromBolt11(t *testing.T) {
	tests := []struct {
		name    string
		invoice string
		want    int64
	}{
		{"microbitcoin", "lnbc210u1pjqqqqq", 21000},
		{"millibitcoin", "lnbc1m1pjqqqqq", 100000},
		{"nanobitcoin", "lnbc100n1pjqqqqq", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &nostr.Event{
				Kind: 9735,
				Tags: nostr.Tags{
					{"e", "zapped-event"},
					{"bolt11", tt.invoice},
				},
			}

			info, err := ParseZap(event)
			if err != nil {
				t.Fatalf("ParseZap() error = %v", err)
			}
			if info.Amount != tt.want {
				t.Errorf("expected %d sats, got %d", tt.want, info.Amount)
			}
		})
	}
}

func TestParseZapWrongKind(t *testing.T) {
	if _, err := ParseZap(&nostr.Event{Kind: 1}); err == nil {
		t.Fatal("expected error for non-zap kind")
	}
}

func TestZapDelta(t *testing.T) {
	event := &nostr.Event{
		Kind: 9735,
		Tags: nostr.Tags{
			{"e", "zapped-event"},
			{"description", `{"tags":[["amount","5000"]]}`},
		},
	}

	delta, err := ZapDelta(event)
	if err != nil {
		t.Fatalf("ZapDelta() error = %v", err)
	}
	if delta == nil {
		t.Fatal("expected a delta")
	}
	if delta.Table != TableEvent || delta.Key != "zapped-event" || delta.Column != "zaps_amount" || delta.Value != 5 {
		t.Errorf("unexpected delta: %+v", delta)
	}
}

func TestZapDeltaProfileZap(t *testing.T) {
	event := &nostr.Event{
		Kind: 9735,
		Tags: nostr.Tags{
			{"p", "zapped-pubkey"},
			{"description", `{"tags":[["amount","5000"]]}`},
		},
	}

	delta, err := ZapDelta(event)
	if err != nil {
		t.Fatalf("ZapDelta() error = %v", err)
	}
	if delta != nil {
		t.Errorf("expected nil delta for profile zap, got %+v", delta)
	}
}

func TestParseZapMalformedDescription(t *testing.T) {
	event := &nostr.Event{
		Kind: 9735,
		Tags: nostr.Tags{
			{"e", "zapped-event"},
			{"description", "{not json"},
		},
	}

	info, err := ParseZap(event)
	if err != nil {
		t.Fatalf("ParseZap() error = %v", err)
	}
	if info.Amount != 0 {
		t.Errorf("expected zero amount for malformed description, got %d", info.Amount)
	}
}
