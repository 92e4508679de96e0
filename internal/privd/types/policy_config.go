package types

import "fmt"

// SyslogSinkConfig configures a syslog-style remote audit sink.
type SyslogSinkConfig struct {
	Address        string `yaml:"address" json:"address"`
	Port           int    `yaml:"port" json:"port"`
	UseTLS         bool   `yaml:"use_tls" json:"use_tls"`
	Facility       int    `yaml:"facility" json:"facility"`
	Severity       int    `yaml:"severity" json:"severity"`
	MaxMessageSize int    `yaml:"max_message_size" json:"max_message_size"`
}

// WebhookSinkConfig configures a webhook-style remote audit sink.
type WebhookSinkConfig struct {
	Address string `yaml:"address" json:"address"`
}

// PolicyConfig is the administrator-supplied policy document. It is
// immutable once published; changes arrive as a wholesale replacement
// (see policy.Snapshot).
type PolicyConfig struct {
	EnforcedType EnforcedType `yaml:"enforce_privileges" json:"enforce_privileges"`
	LimitToUser  string       `yaml:"limit_to_user" json:"limit_to_user"`
	LimitToGroup string       `yaml:"limit_to_group" json:"limit_to_group"`

	ReasonRequired        bool     `yaml:"reason_required" json:"reason_required"`
	ReasonMinLength       int      `yaml:"reason_min_length" json:"reason_min_length"`
	ReasonMaxLength       int      `yaml:"reason_max_length" json:"reason_max_length"`
	ReasonPresets         []string `yaml:"reason_presets" json:"reason_presets"`
	ReasonCheckingEnabled bool     `yaml:"reason_checking_enabled" json:"reason_checking_enabled"`

	ExpirationIntervalDefault int  `yaml:"expiration_interval" json:"expiration_interval"`
	ExpirationIntervalMax     *int `yaml:"expiration_interval_max" json:"expiration_interval_max"`
	RevokeAtLogin             bool `yaml:"revoke_at_login" json:"revoke_at_login"`

	SyslogSinks  []SyslogSinkConfig  `yaml:"syslog_sinks" json:"syslog_sinks"`
	WebhookSinks []WebhookSinkConfig `yaml:"webhook_sinks" json:"webhook_sinks"`
}

// Normalize applies defaults and validates the document. It returns an
// error for combinations that cannot be interpreted rather than guessing.
func (c *PolicyConfig) Normalize() error {
	if c.EnforcedType == "" {
		c.EnforcedType = EnforcedNone
	}
	switch c.EnforcedType {
	case EnforcedNone, EnforcedAdmin, EnforcedUser:
	default:
		return fmt.Errorf("unknown enforce_privileges value %q", c.EnforcedType)
	}

	if c.ReasonMinLength <= 0 {
		c.ReasonMinLength = ReasonMinLengthDefault
	}
	if c.ReasonMaxLength <= 0 {
		c.ReasonMaxLength = ReasonMaxLengthDefault
	}
	if c.ReasonMinLength > c.ReasonMaxLength {
		return fmt.Errorf("reason_min_length %d exceeds reason_max_length %d",
			c.ReasonMinLength, c.ReasonMaxLength)
	}

	if c.ExpirationIntervalDefault <= 0 {
		c.ExpirationIntervalDefault = ExpirationDefaultMinutes
	}
	if c.ExpirationIntervalMax != nil && *c.ExpirationIntervalMax <= 0 {
		return fmt.Errorf("expiration_interval_max must be positive, got %d", *c.ExpirationIntervalMax)
	}

	for i, s := range c.SyslogSinks {
		if s.Address == "" {
			return fmt.Errorf("syslog_sinks[%d]: address is required", i)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("syslog_sinks[%d]: invalid port %d", i, s.Port)
		}
	}
	for i, w := range c.WebhookSinks {
		if w.Address == "" {
			return fmt.Errorf("webhook_sinks[%d]: address is required", i)
		}
	}

	return nil
}
