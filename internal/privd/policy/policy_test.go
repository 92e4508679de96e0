package policy_test

import (
	"strings"
	"testing"
	"time"

	"github.com/tbruckner/privd/internal/privd/policy"
	"github.com/tbruckner/privd/internal/privd/types"
)

// basePolicy returns a normalized policy with no restrictions.
func basePolicy(t *testing.T) types.PolicyConfig {
	t.Helper()
	cfg := types.PolicyConfig{}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return cfg
}

func intPtr(v int) *int { return &v }

// ── Enforced privilege types ─────────────────────────────────────────────────

func TestEvaluate_EnforcedAdmin_DeniesRequest(t *testing.T) {
	cfg := basePolicy(t)
	cfg.EnforcedType = types.EnforcedAdmin

	dec := policy.Evaluate(types.GrantRequest{User: "alice", DurationMinutes: 20}, cfg)
	if dec.Outcome != types.OutcomeDeny {
		t.Fatalf("expected deny, got %s", dec.Outcome)
	}
	if dec.DenyCode != types.DenyEnforcedPrivilege {
		t.Errorf("expected deny_code=enforced_privilege_violation, got %q", dec.DenyCode)
	}
}

func TestEvaluate_EnforcedUser_DeniesRequest(t *testing.T) {
	cfg := basePolicy(t)
	cfg.EnforcedType = types.EnforcedUser

	dec := policy.Evaluate(types.GrantRequest{User: "alice", DurationMinutes: 20}, cfg)
	if dec.Outcome != types.OutcomeDeny {
		t.Fatalf("expected deny, got %s", dec.Outcome)
	}
	if dec.DenyCode != types.DenyEnforcedPrivilege {
		t.Errorf("expected deny_code=enforced_privilege_violation, got %q", dec.DenyCode)
	}
}

// ── User and group restrictions ──────────────────────────────────────────────

func TestEvaluate_LimitToUser(t *testing.T) {
	cfg := basePolicy(t)
	cfg.LimitToUser = "alice"

	dec := policy.Evaluate(types.GrantRequest{User: "mallory", DurationMinutes: 20}, cfg)
	if dec.Outcome != types.OutcomeDeny || dec.DenyCode != types.DenyNotAuthorized {
		t.Fatalf("expected deny/not_authorized for other user, got %s/%s", dec.Outcome, dec.DenyCode)
	}

	// Match is case-insensitive.
	dec = policy.Evaluate(types.GrantRequest{User: "Alice", DurationMinutes: 20}, cfg)
	if dec.Outcome != types.OutcomeAllow {
		t.Fatalf("expected allow for the named user, got %s/%s", dec.Outcome, dec.DenyCode)
	}
}

func TestEvaluate_LimitToGroup(t *testing.T) {
	cfg := basePolicy(t)
	cfg.LimitToGroup = "developers"

	dec := policy.Evaluate(types.GrantRequest{User: "alice", DurationMinutes: 20}, cfg)
	if dec.Outcome != types.OutcomeDeny || dec.DenyCode != types.DenyNotAuthorized {
		t.Fatalf("expected deny/not_authorized without membership, got %s/%s", dec.Outcome, dec.DenyCode)
	}

	dec = policy.Evaluate(types.GrantRequest{
		User:            "alice",
		DurationMinutes: 20,
		Groups:          []string{"staff", "Developers"},
	}, cfg)
	if dec.Outcome != types.OutcomeAllow {
		t.Fatalf("expected allow for group member, got %s/%s", dec.Outcome, dec.DenyCode)
	}
}

// ── Reason requirement ───────────────────────────────────────────────────────

func TestEvaluate_ReasonBounds(t *testing.T) {
	cfg := basePolicy(t)
	cfg.ReasonRequired = true
	cfg.ReasonCheckingEnabled = true

	cases := []struct {
		name   string
		reason string
		want   types.Outcome
	}{
		{"too short", strings.Repeat("x", 5), types.OutcomeNeedsReason},
		{"too long", strings.Repeat("x", 260), types.OutcomeNeedsReason},
		{"acceptable", strings.Repeat("x", 50), types.OutcomeAllow},
		{"exactly min", strings.Repeat("x", 10), types.OutcomeAllow},
		{"exactly max", strings.Repeat("x", 250), types.OutcomeAllow},
		{"whitespace only", "        \t  ", types.OutcomeNeedsReason},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := policy.Evaluate(types.GrantRequest{
				User:            "alice",
				DurationMinutes: 20,
				Reason:          tc.reason,
			}, cfg)
			if dec.Outcome != tc.want {
				t.Errorf("reason %q: expected %s, got %s", tc.name, tc.want, dec.Outcome)
			}
		})
	}
}

func TestEvaluate_ReasonLengthCountsCharacters(t *testing.T) {
	cfg := basePolicy(t)
	cfg.ReasonRequired = true
	cfg.ReasonCheckingEnabled = true

	// Ten multi-byte characters satisfy the ten-character minimum.
	dec := policy.Evaluate(types.GrantRequest{
		User:            "alice",
		DurationMinutes: 20,
		Reason:          strings.Repeat("ü", 10),
	}, cfg)
	if dec.Outcome != types.OutcomeAllow {
		t.Errorf("expected allow for 10 multi-byte characters, got %s", dec.Outcome)
	}
}

func TestEvaluate_ReasonCheckingDisabled_SkipsValidation(t *testing.T) {
	cfg := basePolicy(t)
	cfg.ReasonRequired = true
	cfg.ReasonCheckingEnabled = false

	dec := policy.Evaluate(types.GrantRequest{User: "alice", DurationMinutes: 20, Reason: "x"}, cfg)
	if dec.Outcome != types.OutcomeAllow {
		t.Errorf("expected allow with checking disabled, got %s", dec.Outcome)
	}
}

// ── Duration resolution ──────────────────────────────────────────────────────

func TestEvaluate_RequestedDurationHonored(t *testing.T) {
	dec := policy.Evaluate(types.GrantRequest{User: "alice", DurationMinutes: 30}, basePolicy(t))
	if dec.Outcome != types.OutcomeAllow {
		t.Fatalf("expected allow, got %s", dec.Outcome)
	}
	if dec.Duration != 30*time.Minute {
		t.Errorf("expected 30m, got %s", dec.Duration)
	}
	if dec.RevokeAtLogin {
		t.Error("timed grant should not set revoke_at_login")
	}
}

func TestEvaluate_DurationClampedToMax(t *testing.T) {
	cfg := basePolicy(t)
	cfg.ExpirationIntervalMax = intPtr(30)

	dec := policy.Evaluate(types.GrantRequest{User: "alice", DurationMinutes: 60}, cfg)
	if dec.Duration != 30*time.Minute {
		t.Errorf("expected clamp to 30m, got %s", dec.Duration)
	}
}

func TestEvaluate_ZeroDuration_UnboundedWhenRevokeAtLogin(t *testing.T) {
	cfg := basePolicy(t)
	cfg.RevokeAtLogin = true

	dec := policy.Evaluate(types.GrantRequest{User: "alice"}, cfg)
	if dec.Outcome != types.OutcomeAllow {
		t.Fatalf("expected allow, got %s", dec.Outcome)
	}
	if dec.Duration != 0 {
		t.Errorf("expected unbounded duration, got %s", dec.Duration)
	}
	if !dec.RevokeAtLogin {
		t.Error("expected revoke_at_login=true")
	}
}

func TestEvaluate_ZeroDuration_FallsBackToDefault(t *testing.T) {
	// Without revoke_at_login an unbounded grant would never end, so the
	// request is clamped to the policy default.
	dec := policy.Evaluate(types.GrantRequest{User: "alice"}, basePolicy(t))
	if dec.Duration != types.ExpirationDefaultMinutes*time.Minute {
		t.Errorf("expected default %dm, got %s", types.ExpirationDefaultMinutes, dec.Duration)
	}
	if dec.RevokeAtLogin {
		t.Error("expected revoke_at_login=false")
	}
}

func TestEvaluate_ZeroDuration_MaxOverridesUnbounded(t *testing.T) {
	cfg := basePolicy(t)
	cfg.RevokeAtLogin = true
	cfg.ExpirationIntervalMax = intPtr(10)
	cfg.ExpirationIntervalDefault = 20

	dec := policy.Evaluate(types.GrantRequest{User: "alice"}, cfg)
	if dec.Duration != 10*time.Minute {
		t.Errorf("expected default clamped to max 10m, got %s", dec.Duration)
	}
	if dec.RevokeAtLogin {
		t.Error("a hard maximum rules out unbounded grants")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	cfg := basePolicy(t)
	cfg.ReasonRequired = true
	cfg.ReasonCheckingEnabled = true
	req := types.GrantRequest{User: "alice", DurationMinutes: 45, Reason: "rotating the deploy keys"}

	first := policy.Evaluate(req, cfg)
	for i := 0; i < 100; i++ {
		if got := policy.Evaluate(req, cfg); got != first {
			t.Fatalf("evaluation %d differed: %+v vs %+v", i, got, first)
		}
	}
}
