package otpkit

import (
	"errors"
	"time"
)

// Config carries all engine tuning. Instances are configured during
// initialization and treated as immutable afterwards.
type Config struct {
	Code      CodeConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// CodeConfig governs code shape and lifetime.
type CodeConfig struct {
	// Digits is the code length. Codes are zero-padded numeric strings.
	Digits int
	// TTL is the validity window from creation to expiry. Valid range is
	// 5 to 15 minutes.
	TTL time.Duration
	// MaxAttempts is the failed-comparison budget fixed at creation.
	MaxAttempts int
	// RedisPrefix namespaces all keys written by the bundled Redis store.
	RedisPrefix string
}

// RateLimitConfig governs the per-(identifier, purpose) issuance cap.
type RateLimitConfig struct {
	// Window is the trailing period issuance events are counted over.
	Window time.Duration
	// MaxIssued is the issuance cap within Window.
	MaxIssued int
}

// AuditConfig governs the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops entries instead of blocking Emit when the buffer is
	// full. Drops are counted and reported through Engine.AuditDropped.
	DropIfFull bool
}

// MetricsConfig governs the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultPurpose is applied by transports when a request omits the purpose
// namespace.
const DefaultPurpose = "login"

// DefaultConfig returns the production defaults: 6-digit codes, 10 minute
// TTL, 3 attempts, 5 issues per trailing hour, audit and metrics enabled.
func DefaultConfig() Config {
	return Config{
		Code: CodeConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 3,
			RedisPrefix: "otp",
		},
		RateLimit: RateLimitConfig{
			Window:    time.Hour,
			MaxIssued: 5,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate reports the first configuration violation, or nil.
func (c *Config) Validate() error {
	if c.Code.Digits < 4 || c.Code.Digits > 10 {
		return errors.New("Code Digits must be between 4 and 10")
	}
	if c.Code.TTL < 5*time.Minute || c.Code.TTL > 15*time.Minute {
		return errors.New("Code TTL must be between 5 and 15 minutes")
	}
	if c.Code.MaxAttempts <= 0 {
		return errors.New("Code MaxAttempts must be > 0")
	}
	if c.Code.RedisPrefix == "" {
		return errors.New("Code RedisPrefix must not be empty")
	}

	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.MaxIssued <= 0 {
		return errors.New("RateLimit MaxIssued must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	return nil
}
