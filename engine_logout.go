package sentra

import (
	"context"
	"errors"
	"strconv"

	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/session"
)

// Logout revokes a single session. Refresh attempts against it return
// ErrSessionRevoked from then on; outstanding access tokens stay
// verifiable until their TTL elapses unless strict revocation is
// configured. Logging out an already revoked session is a no-op.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	sctx, cancel := e.storageCtx(ctx)
	err := e.sessions.MarkRevoked(sctx, sessionID)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return storageErr(err)
	}

	e.metricInc(metrics.Logout)
	e.metricInc(metrics.SessionRevoked)
	e.emit(ctx, audit.Event{
		EventType: auditEventLogoutSession,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutByAccessToken verifies the token just enough to find its session
// and revokes it. Expired tokens are still accepted here: the bearer is
// asking to end the session, not to use it.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	claims, err := e.issuer.Decode(accessToken)
	if err != nil || claims.SessionID == "" {
		return ErrTokenInvalid
	}
	return e.Logout(ctx, claims.SessionID)
}

// LogoutAll revokes every tracked session of a principal.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	sctx, cancel := e.storageCtx(ctx)
	revoked, err := e.sessions.RevokeAllForPrincipal(sctx, principalID)
	cancel()
	if err != nil {
		return revoked, storageErr(err)
	}

	e.metricInc(metrics.LogoutAll)
	e.emit(ctx, audit.Event{
		EventType:   auditEventLogoutAll,
		PrincipalID: principalID,
		Success:     true,
		Metadata:    map[string]string{"sessions": strconv.Itoa(revoked)},
	})
	return revoked, nil
}
