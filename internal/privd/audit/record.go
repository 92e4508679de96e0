package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tbruckner/privd/internal/privd/types"
)

// Record is a single grant lifecycle event bound for the configured sinks.
// Records are append-only; within one user's timeline they are emitted in
// transition order.
type Record struct {
	ID        string          `json:"id"`
	EventType types.EventType `json:"event_type"`
	User      string          `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// NewRecord stamps a record with a fresh id and the given timestamp.
func NewRecord(et types.EventType, user string, at time.Time, reason, detail string) Record {
	return Record{
		ID:        uuid.NewString(),
		EventType: et,
		User:      user,
		Timestamp: at.UTC(),
		Reason:    reason,
		Detail:    detail,
	}
}

// Sink delivers one record to a remote audit endpoint. Delivery must
// respect ctx; a non-nil error means the attempt failed and may be retried.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec Record) error
}
