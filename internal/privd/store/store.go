package store

import (
	"context"
	"errors"
	"time"

	"github.com/tbruckner/privd/internal/privd/types"
)

// ErrNotFound is returned when no record exists for the requested user.
var ErrNotFound = errors.New("record not found")

// ErrCorruptRecord wraps a persisted row that cannot be interpreted.
// Recovery resets only the affected user, never the whole table.
var ErrCorruptRecord = errors.New("corrupt persisted record")

// GrantStore persists the active-grants table. One row per user; the
// grant state machine is the only writer.
type GrantStore interface {
	Put(ctx context.Context, g types.Grant) error
	Get(ctx context.Context, user string) (types.Grant, error)
	Delete(ctx context.Context, user string) error

	// ListActive returns every persisted grant. Rows that fail to decode
	// are reported individually through corrupt and do not abort the list.
	ListActive(ctx context.Context) (grants []types.Grant, corrupt []CorruptGrant, err error)
}

// CorruptGrant identifies a persisted row that failed to decode.
type CorruptGrant struct {
	User string
	Err  error
}

// MarkerStore persists pending revoke-at-login markers. A marker survives
// daemon restarts and is consumed at the next session start.
type MarkerStore interface {
	SetLoginRevoke(ctx context.Context, user string, at time.Time) error

	// ConsumeLoginRevoke clears the user's marker and reports whether one
	// was present.
	ConsumeLoginRevoke(ctx context.Context, user string) (bool, error)

	ClearLoginRevoke(ctx context.Context, user string) error
}

// FallbackRecord is an audit record that exhausted delivery to a sink.
type FallbackRecord struct {
	Sink       string
	RecordID   string
	EventType  string
	User       string
	Timestamp  time.Time
	Reason     string
	Detail     string
	Attempts   int
	RecordedAt time.Time
}

// FallbackStore keeps audit records that could not be delivered. Records
// land here instead of being discarded; an operator can drain the table
// once the sink recovers.
type FallbackStore interface {
	SaveFallback(ctx context.Context, rec FallbackRecord) error
}
