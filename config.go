package goGuard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of the guard engine and its workers.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token     TokenConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Lock      LockConfig
	Queue     QueueConfig
	Password  PasswordConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds signing keys and token lifetimes.
type TokenConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration

	AccessTTL     time.Duration
	RememberMeTTL time.Duration
	RefreshTTL    time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RouteLimit is the throttling policy of one route: reaching MaxAttempts
// requests inside a window starts a penalty of Penalty.
type RouteLimit struct {
	MaxAttempts int
	Penalty     time.Duration
}

// RateLimitConfig holds the per-route request throttle.
type RateLimitConfig struct {
	Window   time.Duration
	Routes   map[string]RouteLimit
	Fallback RouteLimit
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig holds the progressive account lockout policy.
type LockoutConfig struct {
	Threshold       int
	InitialDuration time.Duration
	MaxDuration     time.Duration
	CounterTTL      time.Duration
}

/*
====================================
LOCK CONFIG
====================================
*/

// LockConfig tunes the distributed lock taken by the workers.
type LockConfig struct {
	Timeout       time.Duration
	TTL           time.Duration
	RetryInterval time.Duration
}

/*
====================================
QUEUE CONFIG
====================================
*/

// QueueConfig tunes the worker consume loops.
type QueueConfig struct {
	ReconnectDelay  time.Duration
	Prefetch        int
	MaxRedeliveries int
	AttemptTTL      time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id parameters used for new hashes.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// Well-known routes of the protected API.
const (
	RouteLogin    = "/api/v1/auth/login"
	RouteRegister = "/api/v1/auth/register"
)

// DefaultConfig returns the stock configuration. Signing keys are left empty
// and must be supplied before Build.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: "hs256",
			AccessTTL:     15 * time.Minute,
			RememberMeTTL: 7 * 24 * time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Window: 60 * time.Second,
			Routes: map[string]RouteLimit{
				RouteLogin:    {MaxAttempts: 5, Penalty: time.Minute},
				RouteRegister: {MaxAttempts: 10, Penalty: time.Minute},
			},
			Fallback: RouteLimit{MaxAttempts: 50, Penalty: time.Minute},
		},
		Lockout: LockoutConfig{
			Threshold:       5,
			InitialDuration: 5 * time.Minute,
			MaxDuration:     24 * time.Hour,
			CounterTTL:      time.Hour,
		},
		Lock: LockConfig{
			Timeout:       5 * time.Second,
			TTL:           5 * time.Second,
			RetryInterval: 50 * time.Millisecond,
		},
		Queue: QueueConfig{
			ReconnectDelay:  5 * time.Second,
			Prefetch:        1,
			MaxRedeliveries: 10,
			AttemptTTL:      24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  12,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.RateLimit.Routes != nil {
		out.RateLimit.Routes = make(map[string]RouteLimit, len(cfg.RateLimit.Routes))
		for route, limit := range cfg.RateLimit.Routes {
			out.RateLimit.Routes[route] = limit
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting of c.
func (c *Config) Validate() error {
	// Token
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 PrivateKey must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported token signing method")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RememberMeTTL < c.Token.AccessTTL {
		return errors.New("Token RememberMeTTL must be >= AccessTTL")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if err := validateRouteLimit("fallback", c.RateLimit.Fallback); err != nil {
		return err
	}
	for route, limit := range c.RateLimit.Routes {
		if strings.TrimSpace(route) == "" {
			return errors.New("RateLimit route must not be empty")
		}
		if err := validateRouteLimit(route, limit); err != nil {
			return err
		}
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.InitialDuration <= 0 {
		return errors.New("Lockout InitialDuration must be > 0")
	}
	if c.Lockout.MaxDuration < c.Lockout.InitialDuration {
		return errors.New("Lockout MaxDuration must be >= InitialDuration")
	}
	if c.Lockout.CounterTTL <= 0 {
		return errors.New("Lockout CounterTTL must be > 0")
	}

	// Lock
	if c.Lock.Timeout <= 0 || c.Lock.TTL <= 0 || c.Lock.RetryInterval <= 0 {
		return errors.New("Lock Timeout, TTL and RetryInterval must be > 0")
	}
	if c.Lock.RetryInterval > c.Lock.Timeout {
		return errors.New("Lock RetryInterval must be <= Timeout")
	}

	// Queue
	if c.Queue.ReconnectDelay <= 0 {
		return errors.New("Queue ReconnectDelay must be > 0")
	}
	if c.Queue.Prefetch <= 0 {
		return errors.New("Queue Prefetch must be > 0")
	}
	if c.Queue.MaxRedeliveries < 0 {
		return errors.New("Queue MaxRedeliveries must be >= 0")
	}
	if c.Queue.MaxRedeliveries > 0 && c.Queue.AttemptTTL <= 0 {
		return errors.New("Queue AttemptTTL must be > 0 when MaxRedeliveries is set")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		return errors.New("Password BcryptCost must be between 4 and 31")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func validateRouteLimit(route string, limit RouteLimit) error {
	if limit.MaxAttempts <= 0 {
		return fmt.Errorf("RateLimit %s MaxAttempts must be > 0", route)
	}
	if limit.Penalty <= 0 {
		return fmt.Errorf("RateLimit %s Penalty must be > 0", route)
	}
	return nil
}
