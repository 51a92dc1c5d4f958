package sentra

import (
	"errors"
	"fmt"
	"time"

	"github.com/sentra-auth/sentra/password"
	"github.com/sentra-auth/sentra/token"
)

// Config is the full engine configuration. Fill it programmatically or
// via [LoadConfigFile], then pass it to [Builder.WithConfig]. There is no
// mid-flight reconfiguration; key rotation goes through [Engine.RotateKey].
type Config struct {
	Token      TokenConfig
	Session    SessionConfig
	Password   PasswordConfig
	Guard      GuardConfig
	MFA        MFAConfig
	Reset      ResetConfig
	Revocation RevocationConfig
	Storage    StorageConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// TokenConfig controls access-token signing.
type TokenConfig struct {
	// Method is "ed25519" or "hs256".
	Method token.SigningMethod
	// Keys is the trusted key set; Keys[0] signs. Rotation keeps older
	// members verifiable until they fall off the ring.
	Keys []token.Key
	// AccessTTL is the access-token lifetime, clamped to the remaining
	// session lifetime at issue time.
	AccessTTL time.Duration
	Issuer    string
	// Leeway is the clock-skew tolerance applied at verification.
	Leeway time.Duration
	// MaxTrustedKeys bounds the verify set during rotation. Default 3.
	MaxTrustedKeys int
}

// SessionConfig controls session lifetime and storage layout.
type SessionConfig struct {
	TTL time.Duration
	// Retention keeps revoked and expired records addressable after
	// their logical end, so refresh attempts against them can be
	// answered precisely instead of with "not found".
	Retention time.Duration
	KeyPrefix string
}

// PasswordConfig controls credential hashing.
type PasswordConfig struct {
	Params password.Params
	// MinLength is enforced on new secrets. Default 8.
	MinLength int
	// MaxConcurrentHashes bounds parallel argon2 derivations. Default 4.
	MaxConcurrentHashes int
}

// GuardConfig controls the brute-force guard.
type GuardConfig struct {
	MaxFailures int
	Window      time.Duration
	BaseLockout time.Duration
	MaxLockout  time.Duration
	// GlobalRatePerSecond optionally sheds attempts process-wide before
	// Redis is consulted. Zero disables it.
	GlobalRatePerSecond float64
	GlobalBurst         int
	// PersistLockout escalates a guard lockout into a durable
	// StatusLocked write through the PrincipalProvider.
	PersistLockout bool
}

// MFAConfig controls the second-factor challenge flow.
type MFAConfig struct {
	CodeDigits   int
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// ResetConfig controls password reset grants.
type ResetConfig struct {
	TokenTTL    time.Duration
	MaxAttempts int
}

// RevocationMode selects how VerifyAccessToken treats revoked sessions.
type RevocationMode int

const (
	// ModeTTL trusts the short access-token TTL: revocation becomes
	// authoritative at the next refresh. No Redis round-trip per verify.
	ModeTTL RevocationMode = iota
	// ModeStrict checks session liveness on every verification.
	ModeStrict
)

// RevocationConfig selects the revocation trade-off.
type RevocationConfig struct {
	Mode RevocationMode
}

// StorageConfig bounds engine-issued storage calls.
type StorageConfig struct {
	// Timeout is applied per Redis call. Zero means no engine-imposed
	// deadline beyond the caller's context.
	Timeout time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls counter collection.
type MetricsConfig struct {
	Enabled             bool
	EnableVerifyLatency bool
}

// DefaultConfig returns a Config with production-reasonable settings.
// Token keys, the provider, and Redis still have to be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Method:         token.MethodEd25519,
			AccessTTL:      5 * time.Minute,
			Leeway:         30 * time.Second,
			MaxTrustedKeys: 3,
		},
		Session: SessionConfig{
			TTL:       12 * time.Hour,
			Retention: 24 * time.Hour,
			KeyPrefix: "sn",
		},
		Password: PasswordConfig{
			Params:              password.DefaultParams(),
			MinLength:           8,
			MaxConcurrentHashes: 4,
		},
		Guard: GuardConfig{
			MaxFailures: 5,
			Window:      15 * time.Minute,
			BaseLockout: time.Minute,
			MaxLockout:  time.Hour,
		},
		MFA: MFAConfig{
			CodeDigits:   6,
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  3,
		},
		Reset: ResetConfig{
			TokenTTL:    15 * time.Minute,
			MaxAttempts: 3,
		},
		Storage: StorageConfig{
			Timeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// withDefaults fills zero-valued fields from DefaultConfig so a sparse
// programmatic Config only has to name what it changes.
func withDefaults(cfg Config) Config {
	def := DefaultConfig()

	if cfg.Token.Method == "" {
		cfg.Token.Method = def.Token.Method
	}
	if cfg.Token.AccessTTL == 0 {
		cfg.Token.AccessTTL = def.Token.AccessTTL
	}
	if cfg.Token.MaxTrustedKeys == 0 {
		cfg.Token.MaxTrustedKeys = def.Token.MaxTrustedKeys
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = def.Session.TTL
	}
	if cfg.Session.Retention == 0 {
		cfg.Session.Retention = def.Session.Retention
	}
	if cfg.Session.KeyPrefix == "" {
		cfg.Session.KeyPrefix = def.Session.KeyPrefix
	}
	if cfg.Password.Params == (password.Params{}) {
		cfg.Password.Params = def.Password.Params
	}
	if cfg.Password.MinLength == 0 {
		cfg.Password.MinLength = def.Password.MinLength
	}
	if cfg.Password.MaxConcurrentHashes == 0 {
		cfg.Password.MaxConcurrentHashes = def.Password.MaxConcurrentHashes
	}
	if cfg.Guard.MaxFailures == 0 {
		cfg.Guard.MaxFailures = def.Guard.MaxFailures
	}
	if cfg.Guard.Window == 0 {
		cfg.Guard.Window = def.Guard.Window
	}
	if cfg.Guard.BaseLockout == 0 {
		cfg.Guard.BaseLockout = def.Guard.BaseLockout
	}
	if cfg.Guard.MaxLockout == 0 {
		cfg.Guard.MaxLockout = def.Guard.MaxLockout
	}
	if cfg.MFA.CodeDigits == 0 {
		cfg.MFA.CodeDigits = def.MFA.CodeDigits
	}
	if cfg.MFA.ChallengeTTL == 0 {
		cfg.MFA.ChallengeTTL = def.MFA.ChallengeTTL
	}
	if cfg.MFA.MaxAttempts == 0 {
		cfg.MFA.MaxAttempts = def.MFA.MaxAttempts
	}
	if cfg.Reset.TokenTTL == 0 {
		cfg.Reset.TokenTTL = def.Reset.TokenTTL
	}
	if cfg.Reset.MaxAttempts == 0 {
		cfg.Reset.MaxAttempts = def.Reset.MaxAttempts
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}
	return cfg
}

// Validate checks the configuration for internal consistency. Build calls
// it; hosts loading config from files should call it early for better
// error locality.
func (c *Config) Validate() error {
	switch c.Token.Method {
	case token.MethodEd25519, token.MethodHS256:
	default:
		return fmt.Errorf("token: unsupported signing method %q", c.Token.Method)
	}
	if len(c.Token.Keys) == 0 {
		return errors.New("token: at least one signing key required")
	}
	for i, k := range c.Token.Keys {
		if k.ID == "" {
			return fmt.Errorf("token: key %d has empty id", i)
		}
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("token: access ttl must be positive")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("token: leeway must be within [0, 2m]")
	}

	if c.Session.TTL <= 0 {
		return errors.New("session: ttl must be positive")
	}
	if c.Session.Retention < 0 {
		return errors.New("session: retention must not be negative")
	}
	if c.Token.AccessTTL > c.Session.TTL {
		return errors.New("token: access ttl exceeds session ttl")
	}

	if c.Password.MinLength < 8 {
		return errors.New("password: minimum length below 8")
	}
	if c.Password.MaxConcurrentHashes < 1 {
		return errors.New("password: max concurrent hashes must be at least 1")
	}

	if c.Guard.MaxFailures < 1 {
		return errors.New("guard: max failures must be at least 1")
	}
	if c.Guard.Window <= 0 {
		return errors.New("guard: window must be positive")
	}
	if c.Guard.BaseLockout <= 0 {
		return errors.New("guard: base lockout must be positive")
	}
	if c.Guard.MaxLockout < c.Guard.BaseLockout {
		return errors.New("guard: max lockout below base lockout")
	}

	if c.MFA.CodeDigits < 6 || c.MFA.CodeDigits > 10 {
		return errors.New("mfa: code digits must be within [6, 10]")
	}
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("mfa: challenge ttl must be positive")
	}
	if c.MFA.MaxAttempts < 1 {
		return errors.New("mfa: max attempts must be at least 1")
	}

	if c.Reset.TokenTTL <= 0 {
		return errors.New("reset: token ttl must be positive")
	}
	if c.Reset.MaxAttempts < 1 {
		return errors.New("reset: max attempts must be at least 1")
	}

	switch c.Revocation.Mode {
	case ModeTTL, ModeStrict:
	default:
		return errors.New("revocation: unknown mode")
	}

	if c.Storage.Timeout < 0 {
		return errors.New("storage: timeout must not be negative")
	}
	return nil
}
