package sentra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sentra-auth/sentra/password"
	"github.com/sentra-auth/sentra/token"
)

// memProvider is an in-memory PrincipalProvider for tests.
type memProvider struct {
	mu      sync.Mutex
	byIdent map[string]*PrincipalRecord
	byID    map[string]*PrincipalRecord
}

func newMemProvider() *memProvider {
	return &memProvider{
		byIdent: make(map[string]*PrincipalRecord),
		byID:    make(map[string]*PrincipalRecord),
	}
}

func (p *memProvider) add(record PrincipalRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := record
	p.byIdent[r.Identifier] = &r
	p.byID[r.ID] = &r
}

func (p *memProvider) get(principalID string) PrincipalRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.byID[principalID]
}

func (p *memProvider) LookupByIdentifier(_ context.Context, identifier string) (PrincipalRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byIdent[identifier]
	if !ok {
		return PrincipalRecord{}, ErrPrincipalNotFound
	}
	return *r, nil
}

func (p *memProvider) LookupByID(_ context.Context, principalID string) (PrincipalRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[principalID]
	if !ok {
		return PrincipalRecord{}, ErrPrincipalNotFound
	}
	return *r, nil
}

func (p *memProvider) UpdateCredentialHash(_ context.Context, principalID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[principalID]
	if !ok {
		return ErrPrincipalNotFound
	}
	r.CredentialHash = newHash
	return nil
}

func (p *memProvider) UpdateStatus(_ context.Context, principalID string, status AccountStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[principalID]
	if !ok {
		return ErrPrincipalNotFound
	}
	r.Status = status
	return nil
}

func (p *memProvider) RecordLogin(_ context.Context, principalID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.byID[principalID]; ok {
		r.LastLoginAt = at
	}
	return nil
}

// memNotifier captures delivered secrets.
type memNotifier struct {
	mu         sync.Mutex
	mfaCode    string
	resetToken string
}

func (n *memNotifier) DeliverMFACode(_ context.Context, _ PrincipalRecord, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mfaCode = code
	return nil
}

func (n *memNotifier) DeliverResetToken(_ context.Context, _ PrincipalRecord, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetToken = token
	return nil
}

func (n *memNotifier) lastMFACode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mfaCode
}

func (n *memNotifier) lastResetToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetToken
}

// testFixture bundles an engine with its backing doubles.
type testFixture struct {
	engine   *Engine
	provider *memProvider
	notifier *memNotifier
	redis    *miniredis.Miniredis
	hasher   *password.Hasher
}

func tokenKey(id string) token.Key {
	return token.Key{ID: id, Private: []byte("rotated-signing-secret-" + id)}
}

func fastParams() password.Params {
	return password.Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Method = token.MethodHS256
	cfg.Token.Keys = []token.Key{{ID: "t1", Private: []byte("test-signing-secret-32-bytes-long!!")}}
	cfg.Token.Leeway = 0
	cfg.Password.Params = fastParams()
	cfg.Guard.MaxFailures = 3
	cfg.Guard.BaseLockout = 30 * time.Second
	cfg.Guard.MaxLockout = 2 * time.Minute
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestFixture(t *testing.T, mutate func(cfg *Config)) *testFixture {
	return newTestFixtureWithSink(t, mutate, nil)
}

func newTestFixtureWithSink(t *testing.T, mutate func(cfg *Config), sink AuditSink) *testFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	provider := newMemProvider()
	notifier := &memNotifier{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalProvider(provider).
		WithNotifier(notifier).
		WithAuditSink(sink).
		WithPermissions([]string{"doc:read", "doc:write", "admin:*"}).
		WithRoles(map[string][]string{
			"viewer": {"doc:read"},
			"editor": {"doc:read", "doc:write"},
			"admin":  {"admin:*"},
		}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hasher, err := password.NewHasher(cfg.Password.Params)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	return &testFixture{
		engine:   engine,
		provider: provider,
		notifier: notifier,
		redis:    mr,
		hasher:   hasher,
	}
}

// addPrincipal hashes the secret and stores an active account.
func (f *testFixture) addPrincipal(t *testing.T, id, identifier, secret string, roles ...string) {
	t.Helper()
	hash, err := f.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	f.provider.add(PrincipalRecord{
		ID:             id,
		Identifier:     identifier,
		CredentialHash: hash,
		Roles:          roles,
		Status:         StatusActive,
	})
}

func (f *testFixture) login(t *testing.T, identifier, secret string) *LoginResult {
	t.Helper()
	result, err := f.engine.Login(context.Background(), identifier, secret)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return result
}
