package pipeline

import "errors"

// Outcome classes for rejected events. Everything else returned by Process
// is a fault in the pipeline itself or its dependencies.
var (
	// ErrInvalid marks events that can never be accepted: malformed,
	// out of storage range, stale ephemeral, or failing verification.
	ErrInvalid = errors.New("invalid event")
	// ErrDuplicate marks events already ingested
	ErrDuplicate = errors.New("duplicate event")
	// ErrBlocked marks events rejected by moderation policy
	ErrBlocked = errors.New("blocked event")
)
