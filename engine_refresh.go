package sentra

import (
	"context"
	"errors"

	"github.com/sentra-auth/sentra/internal"
	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/session"
)

// Refresh rotates a refresh token: the presented secret is atomically
// compared and replaced in the session store, so only one holder of a
// given token can ever win. A presented secret that no longer matches
// the stored hash is treated as theft evidence; the session is revoked
// in the same atomic step and ErrRefreshReuseDetected is returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	id, secret, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		e.metricInc(metrics.RefreshFailure)
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.storageCtx(ctx)
	sess, err := e.sessions.RotateRefreshHash(
		sctx,
		id.String(),
		internal.HashSecret(secret),
		internal.HashSecret(nextSecret),
	)
	cancel()
	if err != nil {
		return nil, e.refreshFailure(ctx, id.String(), err)
	}

	access, err := e.issueAccessToken(sess)
	if err != nil {
		return nil, err
	}

	e.metricInc(metrics.RefreshSuccess)
	e.emit(ctx, audit.Event{
		EventType:   auditEventRefreshSuccess,
		PrincipalID: sess.PrincipalID,
		SessionID:   sess.ID,
		Success:     true,
	})
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: internal.EncodeOpaqueToken(id, nextSecret),
		SessionID:    sess.ID,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, sessionID string, err error) error {
	switch {
	case errors.Is(err, session.ErrRefreshReuse):
		e.metricInc(metrics.RefreshReuseDetected)
		e.metricInc(metrics.SessionRevoked)
		e.emit(ctx, audit.Event{
			EventType: auditEventRefreshReuseDetected,
			SessionID: sessionID,
			Error:     "stale refresh secret presented, session revoked",
		})
		return ErrRefreshReuseDetected
	case errors.Is(err, session.ErrRevoked):
		e.metricInc(metrics.RefreshFailure)
		return ErrSessionRevoked
	case errors.Is(err, session.ErrExpired):
		e.metricInc(metrics.RefreshFailure)
		return ErrTokenExpired
	case errors.Is(err, session.ErrNotFound):
		e.metricInc(metrics.RefreshFailure)
		e.emit(ctx, audit.Event{
			EventType: auditEventRefreshInvalid,
			SessionID: sessionID,
		})
		return ErrRefreshInvalid
	default:
		return storageErr(err)
	}
}
