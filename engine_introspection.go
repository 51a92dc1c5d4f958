package sentra

import (
	"context"
	"errors"
	"time"
)

// SecurityReport returns a read-only snapshot of the engine's effective
// security posture, derived entirely from configuration and counters.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	p := e.hasher.Params()
	return SecurityReport{
		SigningMethod:     string(e.config.Token.Method),
		TrustedKeyIDs:     e.issuer.TrustedKeyIDs(),
		AccessTokenTTL:    e.config.Token.AccessTTL,
		SessionTTL:        e.config.Session.TTL,
		StrictRevocation:  e.config.Revocation.Mode == ModeStrict,
		Argon2MemoryKiB:   p.Memory,
		Argon2Time:        p.Time,
		Argon2Parallelism: p.Parallelism,
		GuardMaxFailures:  e.config.Guard.MaxFailures,
		GuardWindow:       e.config.Guard.Window,
		GuardBaseLockout:  e.config.Guard.BaseLockout,
		GuardMaxLockout:   e.config.Guard.MaxLockout,
		MFACodeDigits:     e.config.MFA.CodeDigits,
		MFAChallengeTTL:   e.config.MFA.ChallengeTTL,
		ResetTokenTTL:     e.config.Reset.TokenTTL,
		AuditEnabled:      e.config.Audit.Enabled,
		AuditDropped:      e.audit.Dropped(),
		MetricsEnabled:    e.config.Metrics.Enabled,
		PermissionCount:   e.catalog.Count(),
	}
}

// ActiveSessions lists the live, unrevoked sessions of a principal.
func (e *Engine) ActiveSessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	sessions, err := e.sessions.Sessions(sctx, principalID)
	if err != nil {
		return nil, storageErr(err)
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if s.Revoked {
			continue
		}
		out = append(out, SessionInfo{
			ID:        s.ID,
			CreatedAt: time.Unix(s.CreatedAt, 0),
			ExpiresAt: time.Unix(s.ExpiresAt, 0),
		})
	}
	return out, nil
}

// MetricsSnapshot copies the engine's counters and histogram.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Take()
}

// LoginFailures reports the principal's failure count in the current
// guard window.
func (e *Engine) LoginFailures(ctx context.Context, principalID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	n, err := e.guard.FailureCount(sctx, principalID)
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

// UnlockPrincipal clears guard lockout state and, when the account was
// auto-locked, restores StatusActive through the provider.
func (e *Engine) UnlockPrincipal(ctx context.Context, principalID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	e.clearGuard(ctx, principalID)
	if !e.config.Guard.PersistLockout {
		return nil
	}
	principal, err := e.provider.LookupByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrPrincipalNotFound
		}
		return storageErr(err)
	}
	if principal.Status == StatusLocked {
		if err := e.provider.UpdateStatus(ctx, principalID, StatusActive); err != nil {
			return storageErr(err)
		}
	}
	return nil
}
