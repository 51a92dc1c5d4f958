package sentra

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/guard"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/internal/stores"
	"github.com/sentra-auth/sentra/password"
	"github.com/sentra-auth/sentra/rbac"
	"github.com/sentra-auth/sentra/session"
	"github.com/sentra-auth/sentra/token"
	"golang.org/x/time/rate"
)

// Builder assembles an [Engine]. Construction is allocation-only; no I/O
// happens until the engine's methods are called.
type Builder struct {
	cfg         Config
	cfgSet      bool
	redisClient redis.UniversalClient
	provider    PrincipalProvider
	notifier    Notifier
	auditSink   AuditSink
	permissions []string
	roles       map[string][]string
	logf        func(format string, args ...any)
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig sets the engine configuration. Zero-valued fields are filled
// from [DefaultConfig] at build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithRedis sets the Redis client backing sessions, the guard, and the
// single-use secret stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redisClient = client
	return b
}

// WithPrincipalProvider sets the host's account storage.
func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.provider = p
	return b
}

// WithNotifier sets the out-of-band delivery hook for MFA codes and reset
// tokens. Required only when those flows are used.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit event consumer. Ignored unless
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPermissions registers the permission catalog. Grants outside the
// catalog can never be assigned or authorized.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithRoles defines the role → permission map.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

// WithLogger sets an optional printf-style hook for non-fatal engine
// warnings (failed audit delivery, background sweep errors). Nil keeps
// the engine silent.
func (b *Builder) WithLogger(logf func(format string, args ...any)) *Builder {
	b.logf = logf
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.redisClient == nil {
		return nil, errors.New("sentra: redis client required")
	}
	if b.provider == nil {
		return nil, errors.New("sentra: principal provider required")
	}

	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password.Params)
	if err != nil {
		return nil, err
	}
	decoyHash, err := hasher.Hash("sentra-decoy-credential")
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.Config{
		Method:     cfg.Token.Method,
		Issuer:     cfg.Token.Issuer,
		Leeway:     cfg.Token.Leeway,
		MaxTrusted: cfg.Token.MaxTrustedKeys,
		Keys:       cfg.Token.Keys,
	})
	if err != nil {
		return nil, err
	}

	catalog := rbac.NewCatalog()
	if err := catalog.RegisterAll(b.permissions...); err != nil {
		return nil, err
	}
	catalog.Freeze()
	evaluator := rbac.NewEvaluator(catalog)
	for name, perms := range b.roles {
		if err := evaluator.DefineRole(name, perms); err != nil {
			return nil, err
		}
	}

	prefix := cfg.Session.KeyPrefix
	e := &Engine{
		config:     cfg,
		catalog:    catalog,
		roles:      evaluator,
		sessions:   session.NewStore(b.redisClient, prefix),
		challenges: stores.NewChallengeStore(b.redisClient, prefix+":mfc"),
		resets:     stores.NewResetStore(b.redisClient, prefix+":rst"),
		guard: guard.New(b.redisClient, guard.Config{
			MaxFailures: cfg.Guard.MaxFailures,
			Window:      cfg.Guard.Window,
			BaseLockout: cfg.Guard.BaseLockout,
			MaxLockout:  cfg.Guard.MaxLockout,
			GlobalRate:  rate.Limit(cfg.Guard.GlobalRatePerSecond),
			GlobalBurst: cfg.Guard.GlobalBurst,
		}, prefix+":gd"),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: metrics.New(metrics.Config{
			Enabled:             cfg.Metrics.Enabled,
			EnableVerifyLatency: cfg.Metrics.EnableVerifyLatency,
		}),
		hasher:    hasher,
		issuer:    issuer,
		provider:  b.provider,
		notifier:  b.notifier,
		logf:      b.logf,
		hashSlots: make(chan struct{}, cfg.Password.MaxConcurrentHashes),
		decoyHash: decoyHash,
	}
	return e, nil
}
