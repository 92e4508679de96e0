package policy

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tbruckner/privd/internal/privd/types"
)

// Evaluate decides whether a grant request is permitted under cfg. It is a
// pure function: same (request, config) pair, same Decision, no side effects.
//
// Checks run in order and short-circuit on first failure:
//  1. enforced privilege type
//  2. user/group restriction
//  3. reason requirement (re-promptable, returns NeedsReason)
//  4. duration resolution and clamping
func Evaluate(req types.GrantRequest, cfg types.PolicyConfig) types.Decision {
	// An enforced type pins the account's resting state. A timed grant
	// would eventually revoke to standard, so enforced "admin" denies
	// ad-hoc requests just like enforced "user" does.
	if cfg.EnforcedType == types.EnforcedAdmin || cfg.EnforcedType == types.EnforcedUser {
		return types.Decision{Outcome: types.OutcomeDeny, DenyCode: types.DenyEnforcedPrivilege}
	}

	if cfg.LimitToUser != "" && !strings.EqualFold(cfg.LimitToUser, req.User) {
		return types.Decision{Outcome: types.OutcomeDeny, DenyCode: types.DenyNotAuthorized}
	}
	if cfg.LimitToGroup != "" && !memberOf(req.Groups, cfg.LimitToGroup) {
		return types.Decision{Outcome: types.OutcomeDeny, DenyCode: types.DenyNotAuthorized}
	}

	if cfg.ReasonRequired && cfg.ReasonCheckingEnabled && !reasonAcceptable(req.Reason, cfg) {
		return types.Decision{Outcome: types.OutcomeNeedsReason}
	}

	dur, atLogin := effectiveDuration(req.DurationMinutes, cfg)
	return types.Decision{
		Outcome:       types.OutcomeAllow,
		Duration:      dur,
		RevokeAtLogin: atLogin,
	}
}

// effectiveDuration resolves the requested duration against policy.
//
// A requested duration of 0 means "until revoked or next login". That is
// only honored when revoke_at_login is enabled and no hard maximum is set;
// otherwise the request is clamped to the policy default. Timed requests
// clamp to expiration_interval_max when one is configured.
func effectiveDuration(requestedMinutes int, cfg types.PolicyConfig) (time.Duration, bool) {
	if requestedMinutes <= 0 {
		if cfg.RevokeAtLogin && cfg.ExpirationIntervalMax == nil {
			return 0, true
		}
		return clampMinutes(cfg.ExpirationIntervalDefault, cfg.ExpirationIntervalMax), false
	}
	return clampMinutes(requestedMinutes, cfg.ExpirationIntervalMax), false
}

func clampMinutes(minutes int, max *int) time.Duration {
	if max != nil && minutes > *max {
		minutes = *max
	}
	return time.Duration(minutes) * time.Minute
}

// reasonAcceptable reports whether the supplied reason satisfies the
// configured length bounds. Length is measured in characters, not bytes,
// so multi-byte input is not penalized.
func reasonAcceptable(reason string, cfg types.PolicyConfig) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(reason))
	return n >= cfg.ReasonMinLength && n <= cfg.ReasonMaxLength
}

func memberOf(groups []string, want string) bool {
	for _, g := range groups {
		if strings.EqualFold(g, want) {
			return true
		}
	}
	return false
}
