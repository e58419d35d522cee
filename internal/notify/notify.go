package notify

import (
	"context"

	"github.com/aljazceru/ditto/internal/ops"
)

// Message is a rendered notification for one recipient
type Message struct {
	Type    string // "mention", "reply", "report"
	EventID string
	Body    string
}

// Notifier delivers notifications to subscribers. Delivery failures are
// logged by the caller, never retried.
type Notifier interface {
	Deliver(ctx context.Context, recipient string, msg Message) error
}

// LogSink writes notifications to the log instead of an external transport.
// It stands in for a real push delivery backend.
type LogSink struct {
	Logger *ops.Logger
}

// Deliver logs the notification
func (s *LogSink) Deliver(_ context.Context, recipient string, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = ops.Default()
	}
	logger.Info("notification",
		"recipient", recipient,
		"type", msg.Type,
		"event_id", msg.EventID)
	return nil
}

// Func adapts a plain function to the Notifier interface
type Func func(ctx context.Context, recipient string, msg Message) error

// Deliver calls the wrapped function
func (f Func) Deliver(ctx context.Context, recipient string, msg Message) error {
	return f(ctx, recipient, msg)
}
