package types_test

import (
	"testing"
	"time"

	"github.com/tbruckner/privd/internal/privd/types"
)

func TestNormalize_AppliesDefaults(t *testing.T) {
	cfg := types.PolicyConfig{}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if cfg.EnforcedType != types.EnforcedNone {
		t.Errorf("expected enforce_privileges=none, got %q", cfg.EnforcedType)
	}
	if cfg.ReasonMinLength != types.ReasonMinLengthDefault {
		t.Errorf("expected reason_min_length=%d, got %d", types.ReasonMinLengthDefault, cfg.ReasonMinLength)
	}
	if cfg.ReasonMaxLength != types.ReasonMaxLengthDefault {
		t.Errorf("expected reason_max_length=%d, got %d", types.ReasonMaxLengthDefault, cfg.ReasonMaxLength)
	}
	if cfg.ExpirationIntervalDefault != types.ExpirationDefaultMinutes {
		t.Errorf("expected expiration_interval=%d, got %d", types.ExpirationDefaultMinutes, cfg.ExpirationIntervalDefault)
	}
}

func TestNormalize_RejectsUnknownEnforcedType(t *testing.T) {
	cfg := types.PolicyConfig{EnforcedType: "superuser"}
	if err := cfg.Normalize(); err == nil {
		t.Error("expected error for unknown enforce_privileges value")
	}
}

func TestNormalize_RejectsInvertedReasonBounds(t *testing.T) {
	cfg := types.PolicyConfig{ReasonMinLength: 100, ReasonMaxLength: 50}
	if err := cfg.Normalize(); err == nil {
		t.Error("expected error when reason_min_length exceeds reason_max_length")
	}
}

func TestNormalize_RejectsNonPositiveMax(t *testing.T) {
	zero := 0
	cfg := types.PolicyConfig{ExpirationIntervalMax: &zero}
	if err := cfg.Normalize(); err == nil {
		t.Error("expected error for expiration_interval_max=0")
	}
}

func TestNormalize_ValidatesSinks(t *testing.T) {
	cfg := types.PolicyConfig{
		SyslogSinks: []types.SyslogSinkConfig{{Address: "logs.example.com", Port: 0}},
	}
	if err := cfg.Normalize(); err == nil {
		t.Error("expected error for syslog sink with invalid port")
	}

	cfg = types.PolicyConfig{
		SyslogSinks: []types.SyslogSinkConfig{{Port: 514}},
	}
	if err := cfg.Normalize(); err == nil {
		t.Error("expected error for syslog sink without address")
	}

	cfg = types.PolicyConfig{
		WebhookSinks: []types.WebhookSinkConfig{{}},
	}
	if err := cfg.Normalize(); err == nil {
		t.Error("expected error for webhook sink without address")
	}
}

func TestGrant_TimeLeft(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	unbounded := types.Grant{}
	if got := unbounded.TimeLeft(now); got != 0 {
		t.Errorf("unbounded grant: expected 0, got %s", got)
	}

	at := now.Add(15 * time.Minute)
	timed := types.Grant{ExpiresAt: &at}
	if got := timed.TimeLeft(now); got != 15*time.Minute {
		t.Errorf("timed grant: expected 15m, got %s", got)
	}

	past := now.Add(-time.Minute)
	expired := types.Grant{ExpiresAt: &past}
	if got := expired.TimeLeft(now); got != 0 {
		t.Errorf("expired grant: expected 0, got %s", got)
	}
}
