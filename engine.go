package sentra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentra-auth/sentra/internal"
	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/guard"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/internal/stores"
	"github.com/sentra-auth/sentra/password"
	"github.com/sentra-auth/sentra/rbac"
	"github.com/sentra-auth/sentra/session"
	"github.com/sentra-auth/sentra/token"
)

// Engine orchestrates credential verification, token issuance, session
// lifecycle, brute-force protection, and authorization. Construct it with
// [Builder]; all methods are safe for concurrent use.
type Engine struct {
	config     Config
	catalog    *rbac.Catalog
	roles      *rbac.Evaluator
	sessions   *session.Store
	challenges *stores.ChallengeStore
	resets     *stores.ResetStore
	guard      *guard.Guard
	audit      *audit.Dispatcher
	metrics    *metrics.Metrics
	hasher     *password.Hasher
	issuer     *token.Issuer
	provider   PrincipalProvider
	notifier   Notifier
	logf       func(format string, args ...any)

	// hashSlots bounds concurrent argon2 derivations so a login burst
	// cannot monopolize CPU.
	hashSlots chan struct{}

	// decoyHash is verified against when an identifier is unknown, so
	// lookup misses take as long as wrong secrets.
	decoyHash string
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// RotateKey makes k the signing key. Previously trusted keys keep
// verifying until they fall off the ring, so outstanding access tokens
// survive rotation.
func (e *Engine) RotateKey(k token.Key) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.issuer.Rotate(k)
}

// storageCtx applies the configured per-call storage timeout.
func (e *Engine) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Storage.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.Storage.Timeout)
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) warnf(format string, args ...any) {
	if e.logf != nil {
		e.logf(format, args...)
	}
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Origin == "" {
		event.Origin = originFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// hashSecret derives an argon2 digest under the concurrency bound.
func (e *Engine) hashSecret(ctx context.Context, secret string) (string, error) {
	select {
	case e.hashSlots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-e.hashSlots }()
	return e.hasher.Hash(secret)
}

// verifySecret checks a secret against a stored digest under the
// concurrency bound.
func (e *Engine) verifySecret(ctx context.Context, secret, encoded string) (bool, error) {
	select {
	case e.hashSlots <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-e.hashSlots }()
	return e.hasher.Verify(secret, encoded)
}

// mintSession creates and persists a session for the principal and issues
// the access/refresh pair.
func (e *Engine) mintSession(ctx context.Context, principal PrincipalRecord) (*LoginResult, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session.Session{
		ID:              id.String(),
		PrincipalID:     principal.ID,
		Roles:           principal.Roles,
		RefreshHash:     internal.HashSecret(secret),
		FingerprintHash: internal.HashFingerprint(originFromContext(ctx), userAgentFromContext(ctx)),
		CreatedAt:       now.Unix(),
		ExpiresAt:       now.Add(e.config.Session.TTL).Unix(),
	}

	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	if err := e.sessions.Save(sctx, sess, e.config.Session.Retention); err != nil {
		return nil, storageErr(err)
	}

	access, err := e.issueAccessToken(sess)
	if err != nil {
		return nil, err
	}

	e.metricInc(metrics.SessionCreated)
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: internal.EncodeOpaqueToken(id, secret),
		SessionID:    sess.ID,
	}, nil
}

// issueAccessToken signs claims for a session, clamping the token TTL to
// the remaining session lifetime.
func (e *Engine) issueAccessToken(sess *session.Session) (string, error) {
	ttl := e.config.Token.AccessTTL
	if remaining := sess.ExpiresIn(time.Now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return "", ErrSessionRevoked
	}
	return e.issuer.Issue(token.Claims{
		PrincipalID: sess.PrincipalID,
		SessionID:   sess.ID,
		Roles:       sess.Roles,
	}, ttl)
}

// storageErr maps backend transport failures onto the public sentinel.
func storageErr(err error) error {
	switch {
	case errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, guard.ErrGuardUnavailable),
		errors.Is(err, stores.ErrResetRedisUnavailable),
		errors.Is(err, stores.ErrChallengeRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	default:
		return err
	}
}
