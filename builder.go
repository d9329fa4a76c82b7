package goGuard

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGuard/internal/lock"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/tokens"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/logging"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/queue"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Builder assembles an Engine from its collaborators.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users          UserStore
	passwords      PasswordVerifier
	publisher      queue.Publisher
	logger         *slog.Logger
	auditSink      AuditSink
	tracerProvider trace.TracerProvider

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared counter store. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the relational user store used by the authentication
// operations and the lockout worker.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithPasswordVerifier overrides the default argon2id/bcrypt verifier.
func (b *Builder) WithPasswordVerifier(v PasswordVerifier) *Builder {
	b.passwords = v
	return b
}

// WithPublisher sets the broker publisher used by Admit and Authenticate.
func (b *Builder) WithPublisher(p queue.Publisher) *Builder {
	b.publisher = p
	return b
}

// WithLogger sets the structured logger. Defaults to logging.New().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. Audit must also be enabled in Config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the admission latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithTracerProvider sets the provider used for worker spans.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// Build validates the configuration and wires the engine. A Builder can be
// built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.New(logging.WithName("goguard"))
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	// -------- TOKENS --------
	signer, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		RequireIAT:    true,
	})
	if err != nil {
		return nil, err
	}
	tokenManager := tokens.NewManager(signer, tokens.NewRegistry(b.redis), tokens.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RememberMeTTL: cfg.Token.RememberMeTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
	})

	// -------- RATE LIMITING --------
	routes := make(map[string]rate.RouteLimit, len(cfg.RateLimit.Routes))
	for route, limit := range cfg.RateLimit.Routes {
		routes[route] = rate.RouteLimit{MaxAttempts: limit.MaxAttempts, Penalty: limit.Penalty}
	}
	limiter := rate.New(b.redis, rate.Config{
		Window: cfg.RateLimit.Window,
		Routes: routes,
		Fallback: rate.RouteLimit{
			MaxAttempts: cfg.RateLimit.Fallback.MaxAttempts,
			Penalty:     cfg.RateLimit.Fallback.Penalty,
		},
	})

	// -------- LOCKOUT --------
	locker := lock.New(b.redis, lock.Config{
		Timeout:       cfg.Lock.Timeout,
		TTL:           cfg.Lock.TTL,
		RetryInterval: cfg.Lock.RetryInterval,
	})
	counter := lockout.NewCounter(b.redis, cfg.Lockout.CounterTTL)

	var processor *lockout.Processor
	if b.users != nil {
		processor = lockout.NewProcessor(counter, lockoutStore{users: b.users}, locker, lockout.Config{
			Threshold:       cfg.Lockout.Threshold,
			InitialDuration: cfg.Lockout.InitialDuration,
			MaxDuration:     cfg.Lockout.MaxDuration,
		})
	}

	// -------- PASSWORDS --------
	verifier := b.passwords
	if verifier == nil {
		argon, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		verifier = password.NewMulti(argon, password.NewBcrypt(cfg.Password.BcryptCost))
	}

	engine := &Engine{
		config:         cloneConfig(cfg),
		logger:         logger,
		redis:          b.redis,
		limiter:        limiter,
		locker:         locker,
		counter:        counter,
		processor:      processor,
		tokens:         tokenManager,
		users:          b.users,
		passwords:      verifier,
		publisher:      b.publisher,
		attempts:       queue.NewRedisAttempts(b.redis, cfg.Queue.AttemptTTL),
		audit:          newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:        NewMetrics(cfg.Metrics),
		tracerProvider: tp,
		now:            time.Now,
	}

	b.built = true

	return engine, nil
}
