package otpkit

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Collaborators default sensibly: the system
// clock, a Nop logger, a NoOp audit sink. Exactly one of WithRedis or
// WithStore must be provided.
type Builder struct {
	config Config
	redis  *redis.Client
	store  Store
	clock  Clock

	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis backs the engine with the bundled Redis store over client.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithStore backs the engine with a caller-supplied [Store], such as
// pgstore or an in-memory fake for tests. Overrides WithRedis.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithClock replaces the time source for expiry and rate-window decisions.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithAuditSink sets the destination for lifecycle audit entries.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger used for infrastructure failures
// and audit-drop reporting.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, wires the store, rate limiter, audit
// dispatcher, and metrics, and returns the engine. A Builder may be used
// once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("a store or redis client is required")
		}
		store = NewRedisStore(b.redis, cfg.Code.RedisPrefix)
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:  cfg,
		store:   store,
		limiter: NewRateLimiter(store, clock, cfg.RateLimit),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics: NewMetrics(cfg.Metrics),
		clock:   clock,
		logger:  logger,
	}

	b.built = true

	return engine, nil
}
