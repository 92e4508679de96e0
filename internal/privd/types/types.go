package types

import "time"

// Constants fixed by the organization's managed-preferences surface.
const (
	// AdminGroupID is the POSIX group id of the macOS admin group.
	AdminGroupID = 80

	// ExpirationDefaultMinutes applies when a request names no duration
	// and policy sets no default.
	ExpirationDefaultMinutes = 20

	ReasonMinLengthDefault = 10
	ReasonMaxLengthDefault = 250

	// RevokeAtLoginThresholdMinutes is the longest timed grant that may
	// additionally be torn down at the next session start.
	RevokeAtLoginThresholdMinutes = 60
)

// FixedExpirationChoices are the expiration intervals (minutes) the front
// end offers. 0 means "until revoked or next login".
var FixedExpirationChoices = []int{0, 5, 10, 20, 30, 60}

// EnforcedType pins an account's resting privilege, overriding ad-hoc
// requests. None leaves the choice to the user.
type EnforcedType string

const (
	EnforcedNone  EnforcedType = "none"
	EnforcedAdmin EnforcedType = "admin"
	EnforcedUser  EnforcedType = "user"
)

// GrantState is the lifecycle state of a privilege grant.
type GrantState string

const (
	StateStandard         GrantState = "standard"
	StateElevating        GrantState = "elevating"
	StateActive           GrantState = "active"
	StateExpiringNotified GrantState = "expiring_notified"
	StateRevoking         GrantState = "revoking"
	StateFailed           GrantState = "failed"
)

// EventType identifies an auditable grant lifecycle event.
type EventType string

const (
	EventGranted       EventType = "granted"
	EventDenied        EventType = "denied"
	EventExpired       EventType = "expired"
	EventRevoked       EventType = "revoked"
	EventConfigChanged EventType = "config_changed"
)

// DenyCode explains a denial to the caller.
type DenyCode string

const (
	DenyEnforcedPrivilege DenyCode = "enforced_privilege_violation"
	DenyNotAuthorized     DenyCode = "not_authorized"
	DenyPrimitiveFailure  DenyCode = "primitive_failure"
)

// Outcome is the top-level result of a policy evaluation.
type Outcome string

const (
	OutcomeAllow       Outcome = "allow"
	OutcomeDeny        Outcome = "deny"
	OutcomeNeedsReason Outcome = "needs_reason"
)

// GrantRequest asks for temporary admin privilege. Groups carries the
// requesting user's resolved group names; the authenticated channel fills
// it in, the core never queries the directory itself.
type GrantRequest struct {
	User            string   `json:"user"`
	DurationMinutes int      `json:"duration_minutes"`
	Reason          string   `json:"reason,omitempty"`
	Groups          []string `json:"groups,omitempty"`
}

// Decision is the outcome of evaluating a GrantRequest against policy.
// Duration is the effective (possibly clamped) grant length; zero with
// RevokeAtLogin set means the grant is unbounded and torn down at the
// next session start.
type Decision struct {
	Outcome       Outcome
	DenyCode      DenyCode
	Duration      time.Duration
	RevokeAtLogin bool
}

// Grant is a user's active elevated-privilege period. At most one Grant
// exists per user at any time.
type Grant struct {
	ID            string
	User          string
	AdminGroupID  int
	State         GrantState
	GrantedAt     time.Time
	ExpiresAt     *time.Time // nil = unbounded (revoke-at-login only)
	Reason        string
	RevokeAtLogin bool
}

// TimeLeft reports the remaining grant time at now, or zero for unbounded
// or already-expired grants.
func (g Grant) TimeLeft(now time.Time) time.Duration {
	if g.ExpiresAt == nil {
		return 0
	}
	left := g.ExpiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
