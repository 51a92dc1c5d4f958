package sentra

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sentra-auth/sentra/token"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Keys = []token.Key{{ID: "k1", Private: []byte("some-signing-secret-material")}}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no keys", func(c *Config) { c.Token.Keys = nil }, "signing key"},
		{"empty key id", func(c *Config) { c.Token.Keys[0].ID = "" }, "empty id"},
		{"bad method", func(c *Config) { c.Token.Method = "rs256" }, "signing method"},
		{"zero access ttl", func(c *Config) { c.Token.AccessTTL = 0 }, "access ttl"},
		{"excess leeway", func(c *Config) { c.Token.Leeway = 5 * time.Minute }, "leeway"},
		{"access outlives session", func(c *Config) { c.Token.AccessTTL = 24 * time.Hour }, "exceeds session ttl"},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }, "ttl"},
		{"weak min length", func(c *Config) { c.Password.MinLength = 4 }, "minimum length"},
		{"zero guard failures", func(c *Config) { c.Guard.MaxFailures = 0 }, "max failures"},
		{"inverted lockouts", func(c *Config) { c.Guard.MaxLockout = time.Second }, "below base lockout"},
		{"bad mfa digits", func(c *Config) { c.MFA.CodeDigits = 4 }, "code digits"},
		{"zero reset ttl", func(c *Config) { c.Reset.TokenTTL = 0 }, "token ttl"},
		{"bad revocation mode", func(c *Config) { c.Revocation.Mode = RevocationMode(9) }, "unknown mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := withDefaults(Config{})
	def := DefaultConfig()

	if cfg.Token.Method != def.Token.Method {
		t.Errorf("Method = %q", cfg.Token.Method)
	}
	if cfg.Session.TTL != def.Session.TTL {
		t.Errorf("Session.TTL = %v", cfg.Session.TTL)
	}
	if cfg.Guard.MaxFailures != def.Guard.MaxFailures {
		t.Errorf("Guard.MaxFailures = %d", cfg.Guard.MaxFailures)
	}
	if cfg.Password.Params != def.Password.Params {
		t.Errorf("Password.Params = %+v", cfg.Password.Params)
	}

	// Explicit settings survive.
	cfg = withDefaults(Config{Session: SessionConfig{TTL: time.Hour}})
	if cfg.Session.TTL != time.Hour {
		t.Errorf("explicit TTL overwritten: %v", cfg.Session.TTL)
	}
}

func TestParseConfig(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("yaml-config-signing-secret!!"))
	yaml := `
token:
  method: hs256
  issuer: sentra-test
  access_ttl: 10m
  leeway: 45s
  keys:
    - id: y1
      private: ` + secret + `
session:
  ttl: 8h
  retention: 48h
  key_prefix: app
guard:
  max_failures: 7
  window: 10m
  base_lockout: 2m
  max_lockout: 30m
revocation:
  mode: strict
audit:
  enabled: true
  buffer_size: 64
metrics:
  enabled: true
  verify_latency: true
`
	cfg, err := ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Token.Method != token.MethodHS256 || cfg.Token.Issuer != "sentra-test" {
		t.Errorf("token config: %+v", cfg.Token)
	}
	if cfg.Token.AccessTTL != 10*time.Minute || cfg.Token.Leeway != 45*time.Second {
		t.Errorf("durations: %v / %v", cfg.Token.AccessTTL, cfg.Token.Leeway)
	}
	if len(cfg.Token.Keys) != 1 || cfg.Token.Keys[0].ID != "y1" {
		t.Fatalf("keys: %+v", cfg.Token.Keys)
	}
	if string(cfg.Token.Keys[0].Private) != "yaml-config-signing-secret!!" {
		t.Error("key material not base64-decoded")
	}
	if cfg.Session.TTL != 8*time.Hour || cfg.Session.KeyPrefix != "app" {
		t.Errorf("session config: %+v", cfg.Session)
	}
	if cfg.Guard.MaxFailures != 7 || cfg.Guard.BaseLockout != 2*time.Minute {
		t.Errorf("guard config: %+v", cfg.Guard)
	}
	if cfg.Revocation.Mode != ModeStrict {
		t.Errorf("revocation mode: %v", cfg.Revocation.Mode)
	}
	if !cfg.Audit.Enabled || cfg.Audit.BufferSize != 64 {
		t.Errorf("audit config: %+v", cfg.Audit)
	}
	if !cfg.Metrics.Enabled || !cfg.Metrics.EnableVerifyLatency {
		t.Errorf("metrics config: %+v", cfg.Metrics)
	}

	// Unset sections fall back to defaults.
	if cfg.MFA.CodeDigits != 6 {
		t.Errorf("MFA.CodeDigits = %d", cfg.MFA.CodeDigits)
	}
	if cfg.Password.Params != DefaultConfig().Password.Params {
		t.Errorf("Password.Params = %+v", cfg.Password.Params)
	}
}

func TestLoadConfigFile(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("file-config-signing-secret!!"))
	path := filepath.Join(t.TempDir(), "sentra.yaml")
	body := "token:\n  method: hs256\n  keys:\n    - id: f1\n      private: " + secret + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if len(cfg.Token.Keys) != 1 || cfg.Token.Keys[0].ID != "f1" {
		t.Fatalf("keys: %+v", cfg.Token.Keys)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseConfigRejections(t *testing.T) {
	if _, err := ParseConfig([]byte("token: [")); err == nil {
		t.Fatal("expected YAML syntax error")
	}
	if _, err := ParseConfig([]byte("revocation:\n  mode: sometimes\n")); err == nil {
		t.Fatal("expected unknown revocation mode error")
	}
	if _, err := ParseConfig([]byte("session:\n  ttl: fortnight\n")); err == nil {
		t.Fatal("expected duration parse error")
	}
	// No keys: validation failure after parsing.
	if _, err := ParseConfig([]byte("token:\n  method: hs256\n")); err == nil {
		t.Fatal("expected missing key error")
	}
}
