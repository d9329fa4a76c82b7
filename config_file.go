package goGuard

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// duration decodes "90s"-style strings as well as plain nanosecond numbers.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

type fileRouteLimit struct {
	MaxAttempts int       `json:"max_attempts"`
	Penalty     *duration `json:"penalty"`
}

func (r fileRouteLimit) apply(dst *RouteLimit) {
	if r.MaxAttempts != 0 {
		dst.MaxAttempts = r.MaxAttempts
	}
	if r.Penalty != nil {
		dst.Penalty = r.Penalty.Duration
	}
}

type fileConfig struct {
	Token *struct {
		SigningMethod  string    `json:"signing_method"`
		PrivateKey     string    `json:"private_key"`
		PrivateKeyFile string    `json:"private_key_file"`
		PublicKeyFile  string    `json:"public_key_file"`
		Issuer         string    `json:"issuer"`
		Audience       string    `json:"audience"`
		Leeway         *duration `json:"leeway"`
		AccessTTL      *duration `json:"access_ttl"`
		RememberMeTTL  *duration `json:"remember_me_ttl"`
		RefreshTTL     *duration `json:"refresh_ttl"`
	} `json:"token"`
	RateLimit *struct {
		Window   *duration                 `json:"window"`
		Routes   map[string]fileRouteLimit `json:"routes"`
		Fallback *fileRouteLimit           `json:"fallback"`
	} `json:"rate_limit"`
	Lockout *struct {
		Threshold       int       `json:"threshold"`
		InitialDuration *duration `json:"initial_duration"`
		MaxDuration     *duration `json:"max_duration"`
		CounterTTL      *duration `json:"counter_ttl"`
	} `json:"lockout"`
	Lock *struct {
		Timeout       *duration `json:"timeout"`
		TTL           *duration `json:"ttl"`
		RetryInterval *duration `json:"retry_interval"`
	} `json:"lock"`
	Queue *struct {
		ReconnectDelay  *duration `json:"reconnect_delay"`
		Prefetch        int       `json:"prefetch"`
		MaxRedeliveries *int      `json:"max_redeliveries"`
		AttemptTTL      *duration `json:"attempt_ttl"`
	} `json:"queue"`
	Audit *struct {
		Enabled    *bool `json:"enabled"`
		BufferSize int   `json:"buffer_size"`
		DropIfFull *bool `json:"drop_if_full"`
	} `json:"audit"`
	Metrics *struct {
		Enabled                 *bool `json:"enabled"`
		EnableLatencyHistograms *bool `json:"enable_latency_histograms"`
	} `json:"metrics"`
}

// LoadConfigFile reads a YAML configuration file. Settings missing from the
// file keep their DefaultConfig value. The result is not validated.
func LoadConfigFile(filename string) (Config, error) {
	blob, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read file: %w", err)
	}
	return ParseConfig(blob)
}

// ParseConfig decodes a YAML (or JSON) document on top of DefaultConfig.
func ParseConfig(blob []byte) (Config, error) {
	blob, err := yaml.YAMLToJSON(blob)
	if err != nil {
		return Config{}, fmt.Errorf("cannot convert yaml to json: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(blob, &fc); err != nil {
		return Config{}, fmt.Errorf("cannot decode config: %w", err)
	}

	cfg := DefaultConfig()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = src.Duration
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (fc *fileConfig) apply(cfg *Config) error {
	if t := fc.Token; t != nil {
		if t.SigningMethod != "" {
			cfg.Token.SigningMethod = strings.ToLower(t.SigningMethod)
		}
		if t.PrivateKey != "" {
			cfg.Token.PrivateKey = []byte(t.PrivateKey)
		}
		if t.PrivateKeyFile != "" {
			key, err := os.ReadFile(t.PrivateKeyFile)
			if err != nil {
				return fmt.Errorf("cannot read private key: %w", err)
			}
			cfg.Token.PrivateKey = key
		}
		if t.PublicKeyFile != "" {
			key, err := os.ReadFile(t.PublicKeyFile)
			if err != nil {
				return fmt.Errorf("cannot read public key: %w", err)
			}
			cfg.Token.PublicKey = key
		}
		if t.Issuer != "" {
			cfg.Token.Issuer = t.Issuer
		}
		if t.Audience != "" {
			cfg.Token.Audience = t.Audience
		}
		setDuration(&cfg.Token.Leeway, t.Leeway)
		setDuration(&cfg.Token.AccessTTL, t.AccessTTL)
		setDuration(&cfg.Token.RememberMeTTL, t.RememberMeTTL)
		setDuration(&cfg.Token.RefreshTTL, t.RefreshTTL)
	}

	if r := fc.RateLimit; r != nil {
		setDuration(&cfg.RateLimit.Window, r.Window)
		if r.Fallback != nil {
			r.Fallback.apply(&cfg.RateLimit.Fallback)
		}
		for route, limit := range r.Routes {
			current := cfg.RateLimit.Routes[route]
			limit.apply(&current)
			cfg.RateLimit.Routes[route] = current
		}
	}

	if l := fc.Lockout; l != nil {
		if l.Threshold != 0 {
			cfg.Lockout.Threshold = l.Threshold
		}
		setDuration(&cfg.Lockout.InitialDuration, l.InitialDuration)
		setDuration(&cfg.Lockout.MaxDuration, l.MaxDuration)
		setDuration(&cfg.Lockout.CounterTTL, l.CounterTTL)
	}

	if l := fc.Lock; l != nil {
		setDuration(&cfg.Lock.Timeout, l.Timeout)
		setDuration(&cfg.Lock.TTL, l.TTL)
		setDuration(&cfg.Lock.RetryInterval, l.RetryInterval)
	}

	if q := fc.Queue; q != nil {
		setDuration(&cfg.Queue.ReconnectDelay, q.ReconnectDelay)
		setDuration(&cfg.Queue.AttemptTTL, q.AttemptTTL)
		if q.Prefetch != 0 {
			cfg.Queue.Prefetch = q.Prefetch
		}
		if q.MaxRedeliveries != nil {
			cfg.Queue.MaxRedeliveries = *q.MaxRedeliveries
		}
	}

	if a := fc.Audit; a != nil {
		setBool(&cfg.Audit.Enabled, a.Enabled)
		setBool(&cfg.Audit.DropIfFull, a.DropIfFull)
		if a.BufferSize != 0 {
			cfg.Audit.BufferSize = a.BufferSize
		}
	}

	if m := fc.Metrics; m != nil {
		setBool(&cfg.Metrics.Enabled, m.Enabled)
		setBool(&cfg.Metrics.EnableLatencyHistograms, m.EnableLatencyHistograms)
	}

	return nil
}

// LoadDotEnv loads the given .env files into the process environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("cannot load %s: %w", name, err)
		}
	}
	return nil
}

// ConfigFromEnv builds a Config from DefaultConfig and GUARD_* environment
// variables:
//
//	GUARD_CONFIG_FILE          YAML file applied before the variables below
//	GUARD_SIGNING_METHOD       hs256 | ed25519
//	GUARD_SIGNING_KEY          HMAC secret or Ed25519 private key (PEM)
//	GUARD_PUBLIC_KEY           Ed25519 public key (PEM)
//	GUARD_ISSUER, GUARD_AUDIENCE
//	GUARD_ACCESS_TTL, GUARD_REMEMBER_ME_TTL, GUARD_REFRESH_TTL
//	GUARD_RATE_WINDOW
//	GUARD_LOCKOUT_THRESHOLD, GUARD_LOCKOUT_INITIAL, GUARD_LOCKOUT_MAX
//	GUARD_LOCK_TIMEOUT
//	GUARD_QUEUE_RECONNECT_DELAY, GUARD_QUEUE_PREFETCH, GUARD_QUEUE_MAX_REDELIVERIES
//	GUARD_AUDIT_ENABLED, GUARD_METRICS_ENABLED
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if file := os.Getenv("GUARD_CONFIG_FILE"); file != "" {
		loaded, err := LoadConfigFile(file)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	env := envReader{}
	if v := os.Getenv("GUARD_SIGNING_METHOD"); v != "" {
		cfg.Token.SigningMethod = strings.ToLower(v)
	}
	if v := os.Getenv("GUARD_SIGNING_KEY"); v != "" {
		cfg.Token.PrivateKey = []byte(v)
	}
	if v := os.Getenv("GUARD_PUBLIC_KEY"); v != "" {
		cfg.Token.PublicKey = []byte(v)
	}
	if v := os.Getenv("GUARD_ISSUER"); v != "" {
		cfg.Token.Issuer = v
	}
	if v := os.Getenv("GUARD_AUDIENCE"); v != "" {
		cfg.Token.Audience = v
	}
	env.duration("GUARD_ACCESS_TTL", &cfg.Token.AccessTTL)
	env.duration("GUARD_REMEMBER_ME_TTL", &cfg.Token.RememberMeTTL)
	env.duration("GUARD_REFRESH_TTL", &cfg.Token.RefreshTTL)
	env.duration("GUARD_RATE_WINDOW", &cfg.RateLimit.Window)
	env.integer("GUARD_LOCKOUT_THRESHOLD", &cfg.Lockout.Threshold)
	env.duration("GUARD_LOCKOUT_INITIAL", &cfg.Lockout.InitialDuration)
	env.duration("GUARD_LOCKOUT_MAX", &cfg.Lockout.MaxDuration)
	env.duration("GUARD_LOCK_TIMEOUT", &cfg.Lock.Timeout)
	env.duration("GUARD_QUEUE_RECONNECT_DELAY", &cfg.Queue.ReconnectDelay)
	env.integer("GUARD_QUEUE_PREFETCH", &cfg.Queue.Prefetch)
	env.integer("GUARD_QUEUE_MAX_REDELIVERIES", &cfg.Queue.MaxRedeliveries)
	env.boolean("GUARD_AUDIT_ENABLED", &cfg.Audit.Enabled)
	env.boolean("GUARD_METRICS_ENABLED", &cfg.Metrics.Enabled)

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, nil
}

// envReader keeps the first parse error so callers check once.
type envReader struct {
	err error
}

func (r *envReader) duration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" || r.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = d
}

func (r *envReader) integer(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = n
}

func (r *envReader) boolean(name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = b
}
