package stats

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// ZapInfo contains the parsed fields of a zap receipt
type ZapInfo struct {
	Amount        int64  // satoshis
	TargetEventID string // event being zapped, empty for profile zaps
	TargetPubkey  string
	Sender        string // pubkey of the zap request author
	Comment       string
}

// ParseZap extracts zap information from a kind 9735 receipt. The amount
// comes from the embedded zap request's amount tag (millisats) when present,
// falling back to the bolt11 invoice.
func ParseZap(event *nostr.Event) (*ZapInfo, error) {
	if event.Kind != 9735 {
		return nil, fmt.Errorf("expected kind 9735, got %d", event.Kind)
	}

	info := &ZapInfo{}
	var bolt11 string

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "e":
			info.TargetEventID = tag[1]
		case "p":
			info.TargetPubkey = tag[1]
		case "description":
			parseZapRequest(tag[1], info)
		case "bolt11":
			bolt11 = tag[1]
		}
	}

	if info.Amount == 0 && bolt11 != "" {
		if amount, err := parseInvoiceAmount(bolt11); err == nil {
			info.Amount = amount
		}
	}

	return info, nil
}

// ZapDelta derives the counter delta a zap receipt contributes, or nil when
// the receipt targets no event or carries no parseable amount.
func ZapDelta(event *nostr.Event) (*Delta, error) {
	info, err := ParseZap(event)
	if err != nil {
		return nil, err
	}
	if info.TargetEventID == "" || info.Amount <= 0 {
		return nil, nil
	}
	return &Delta{
		Table:  TableEvent,
		Key:    info.TargetEventID,
		Column: "zaps_amount",
		Value:  info.Amount,
	}, nil
}

// parseZapRequest reads the zap request JSON carried in the description tag
func parseZapRequest(desc string, info *ZapInfo) {
	if !gjson.Valid(desc) {
		return
	}

	info.Sender = gjson.Get(desc, "pubkey").String()
	info.Comment = gjson.Get(desc, "content").String()

	for _, tag := range gjson.Get(desc, "tags").Array() {
		parts := tag.Array()
		if len(parts) >= 2 && parts[0].String() == "amount" {
			if millisats, err := strconv.ParseInt(parts[1].String(), 10, 64); err == nil {
				info.Amount = millisats / 1000
			}
			break
		}
	}
}

var invoiceAmountRe = regexp.MustCompile(`^lnbc(\d+)([munp]?)`)

// parseInvoiceAmount extracts the amount in satoshis from a bolt11 invoice.
// A full implementation would use a proper bolt11 decoder; the hrp amount
// field is enough for stats.
func parseInvoiceAmount(invoice string) (int64, error) {
	matches := invoiceAmountRe.FindStringSubmatch(invoice)
	if len(matches) < 3 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, err
	}

	switch matches[2] {
	case "m": // millibitcoin = 100,000 sats
		amount = amount * 100000
	case "u": // microbitcoin = 100 sats
		amount = amount * 100
	case "n": // nanobitcoin = 0.1 sats
		amount = amount / 10
	case "p": // picobitcoin = 0.0001 sats
		amount = amount / 10000
	default: // bare amount is whole bitcoin
		amount = amount * 100000000
	}

	return amount, nil
}
