package sentra

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentra-auth/sentra/password"
	"github.com/sentra-auth/sentra/token"
)

// duration decodes YAML scalars in Go duration syntax ("5m", "12h").
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) std() time.Duration {
	return time.Duration(d)
}

// fileConfig is the YAML shape of a config file. Durations use Go
// duration syntax ("5m", "12h"); key material is base64 or PEM.
type fileConfig struct {
	Token struct {
		Method    string   `yaml:"method"`
		Issuer    string   `yaml:"issuer"`
		AccessTTL duration `yaml:"access_ttl"`
		Leeway    duration `yaml:"leeway"`
		MaxKeys   int      `yaml:"max_trusted_keys"`
		Keys      []struct {
			ID      string `yaml:"id"`
			Private string `yaml:"private"`
			Public  string `yaml:"public"`
		} `yaml:"keys"`
	} `yaml:"token"`
	Session struct {
		TTL       duration `yaml:"ttl"`
		Retention duration `yaml:"retention"`
		KeyPrefix string   `yaml:"key_prefix"`
	} `yaml:"session"`
	Password struct {
		MemoryKiB   uint32 `yaml:"memory_kib"`
		Time        uint32 `yaml:"time"`
		Parallelism uint8  `yaml:"parallelism"`
		MinLength   int    `yaml:"min_length"`
		MaxHashes   int    `yaml:"max_concurrent_hashes"`
	} `yaml:"password"`
	Guard struct {
		MaxFailures int      `yaml:"max_failures"`
		Window      duration `yaml:"window"`
		BaseLockout duration `yaml:"base_lockout"`
		MaxLockout  duration `yaml:"max_lockout"`
		GlobalRate  float64  `yaml:"global_rate_per_second"`
		GlobalBurst int      `yaml:"global_burst"`
		PersistLock bool     `yaml:"persist_lockout"`
	} `yaml:"guard"`
	MFA struct {
		CodeDigits   int      `yaml:"code_digits"`
		ChallengeTTL duration `yaml:"challenge_ttl"`
		MaxAttempts  int      `yaml:"max_attempts"`
	} `yaml:"mfa"`
	Reset struct {
		TokenTTL    duration `yaml:"token_ttl"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"reset"`
	Revocation struct {
		Mode string `yaml:"mode"`
	} `yaml:"revocation"`
	Storage struct {
		Timeout duration `yaml:"timeout"`
	} `yaml:"storage"`
	Audit struct {
		Enabled    bool `yaml:"enabled"`
		BufferSize int  `yaml:"buffer_size"`
		DropIfFull bool `yaml:"drop_if_full"`
	} `yaml:"audit"`
	Metrics struct {
		Enabled       bool `yaml:"enabled"`
		VerifyLatency bool `yaml:"verify_latency"`
	} `yaml:"metrics"`
}

// LoadConfigFile reads a YAML config file, overlays it on DefaultConfig,
// and validates the result.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes. See [LoadConfigFile].
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Config{
		Token: TokenConfig{
			Method:         token.SigningMethod(fc.Token.Method),
			Issuer:         fc.Token.Issuer,
			AccessTTL:      fc.Token.AccessTTL.std(),
			Leeway:         fc.Token.Leeway.std(),
			MaxTrustedKeys: fc.Token.MaxKeys,
		},
		Session: SessionConfig{
			TTL:       fc.Session.TTL.std(),
			Retention: fc.Session.Retention.std(),
			KeyPrefix: fc.Session.KeyPrefix,
		},
		Password: PasswordConfig{
			MinLength:           fc.Password.MinLength,
			MaxConcurrentHashes: fc.Password.MaxHashes,
		},
		Guard: GuardConfig{
			MaxFailures:         fc.Guard.MaxFailures,
			Window:              fc.Guard.Window.std(),
			BaseLockout:         fc.Guard.BaseLockout.std(),
			MaxLockout:          fc.Guard.MaxLockout.std(),
			GlobalRatePerSecond: fc.Guard.GlobalRate,
			GlobalBurst:         fc.Guard.GlobalBurst,
			PersistLockout:      fc.Guard.PersistLock,
		},
		MFA: MFAConfig{
			CodeDigits:   fc.MFA.CodeDigits,
			ChallengeTTL: fc.MFA.ChallengeTTL.std(),
			MaxAttempts:  fc.MFA.MaxAttempts,
		},
		Reset: ResetConfig{
			TokenTTL:    fc.Reset.TokenTTL.std(),
			MaxAttempts: fc.Reset.MaxAttempts,
		},
		Storage: StorageConfig{Timeout: fc.Storage.Timeout.std()},
		Audit: AuditConfig{
			Enabled:    fc.Audit.Enabled,
			BufferSize: fc.Audit.BufferSize,
			DropIfFull: fc.Audit.DropIfFull,
		},
		Metrics: MetricsConfig{
			Enabled:             fc.Metrics.Enabled,
			EnableVerifyLatency: fc.Metrics.VerifyLatency,
		},
	}

	if fc.Password.MemoryKiB != 0 || fc.Password.Time != 0 || fc.Password.Parallelism != 0 {
		p := password.DefaultParams()
		if fc.Password.MemoryKiB != 0 {
			p.Memory = fc.Password.MemoryKiB
		}
		if fc.Password.Time != 0 {
			p.Time = fc.Password.Time
		}
		if fc.Password.Parallelism != 0 {
			p.Parallelism = fc.Password.Parallelism
		}
		cfg.Password.Params = p
	}

	switch fc.Revocation.Mode {
	case "", "ttl":
		cfg.Revocation.Mode = ModeTTL
	case "strict":
		cfg.Revocation.Mode = ModeStrict
	default:
		return Config{}, fmt.Errorf("parse config: unknown revocation mode %q", fc.Revocation.Mode)
	}

	for i, k := range fc.Token.Keys {
		priv, err := decodeKeyMaterial(k.Private)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: key %d private: %w", i, err)
		}
		pub, err := decodeKeyMaterial(k.Public)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: key %d public: %w", i, err)
		}
		cfg.Token.Keys = append(cfg.Token.Keys, token.Key{ID: k.ID, Private: priv, Public: pub})
	}

	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// decodeKeyMaterial accepts PEM blocks verbatim and base64 otherwise.
func decodeKeyMaterial(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) > 10 && s[:10] == "-----BEGIN" {
		return []byte(s), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %v", err)
	}
	return raw, nil
}
