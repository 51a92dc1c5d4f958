package sentra

import (
	"context"
	"errors"
	"time"

	"github.com/sentra-auth/sentra/internal"
	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/internal/stores"
)

// RequestPasswordReset issues a single-use reset grant and hands the raw
// token to the Notifier. Unknown identifiers return nil without any
// observable difference, so the operation cannot be used to enumerate
// accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.notifier == nil {
		return errors.New("sentra: password reset requires a notifier")
	}

	principal, err := e.provider.LookupByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.emit(ctx, audit.Event{
				EventType: auditEventPasswordResetRequest,
				Error:     "unknown identifier",
			})
			return nil
		}
		return storageErr(err)
	}

	id, err := internal.NewID()
	if err != nil {
		return err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return err
	}

	record := &stores.ResetRecord{
		PrincipalID: principal.ID,
		SecretHash:  internal.HashSecret(secret),
		ExpiresAt:   time.Now().Add(e.config.Reset.TokenTTL).Unix(),
	}
	sctx, cancel := e.storageCtx(ctx)
	err = e.resets.Save(sctx, id.String(), record, e.config.Reset.TokenTTL)
	cancel()
	if err != nil {
		return storageErr(err)
	}

	if err := e.notifier.DeliverResetToken(ctx, principal, internal.EncodeOpaqueToken(id, secret)); err != nil {
		return err
	}

	e.metricInc(metrics.PasswordResetRequested)
	e.emit(ctx, audit.Event{
		EventType:   auditEventPasswordResetRequest,
		PrincipalID: principal.ID,
		Success:     true,
	})
	return nil
}

// CompletePasswordReset redeems a reset token and installs the new
// secret. The grant is consumed atomically, every session of the
// principal is revoked, and the guard state is cleared so the owner can
// log in immediately.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetToken, newSecret string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if len(newSecret) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	id, secret, err := internal.DecodeOpaqueToken(resetToken)
	if err != nil {
		e.metricInc(metrics.PasswordResetFailed)
		return ErrResetInvalid
	}

	sctx, cancel := e.storageCtx(ctx)
	record, err := e.resets.Consume(sctx, id.String(), internal.HashSecret(secret), e.config.Reset.MaxAttempts)
	cancel()
	if err != nil {
		e.metricInc(metrics.PasswordResetFailed)
		switch {
		case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetSecretMismatch):
			e.emit(ctx, audit.Event{EventType: auditEventPasswordResetConfirm, Error: "invalid grant"})
			return ErrResetInvalid
		case errors.Is(err, stores.ErrResetAttemptsExceeded):
			return ErrResetAttemptsExceeded
		default:
			return storageErr(err)
		}
	}

	newHash, err := e.hashSecret(ctx, newSecret)
	if err != nil {
		return e.mapHashErr(err)
	}
	if err := e.provider.UpdateCredentialHash(ctx, record.PrincipalID, newHash); err != nil {
		return storageErr(err)
	}

	e.sweepSessions(ctx, record.PrincipalID)
	e.clearGuard(ctx, record.PrincipalID)

	e.metricInc(metrics.PasswordResetCompleted)
	e.emit(ctx, audit.Event{
		EventType:   auditEventPasswordResetConfirm,
		PrincipalID: record.PrincipalID,
		Success:     true,
	})
	return nil
}

// ChangePassword rotates a credential for an authenticated principal.
// The old secret must verify, the new one must differ, and every other
// session is revoked afterwards.
func (e *Engine) ChangePassword(ctx context.Context, principalID, oldSecret, newSecret string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if len(newSecret) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	principal, err := e.provider.LookupByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrInvalidCredentials
		}
		return storageErr(err)
	}

	ok, err := e.verifySecret(ctx, oldSecret, principal.CredentialHash)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if !ok {
		e.emit(ctx, audit.Event{
			EventType:   auditEventPasswordChange,
			PrincipalID: principalID,
			Error:       "old secret mismatch",
		})
		return ErrInvalidCredentials
	}
	if oldSecret == newSecret {
		return ErrPasswordReuse
	}

	newHash, err := e.hashSecret(ctx, newSecret)
	if err != nil {
		return e.mapHashErr(err)
	}
	if err := e.provider.UpdateCredentialHash(ctx, principalID, newHash); err != nil {
		return storageErr(err)
	}

	e.sweepSessions(ctx, principalID)

	e.metricInc(metrics.PasswordChanged)
	e.emit(ctx, audit.Event{
		EventType:   auditEventPasswordChange,
		PrincipalID: principalID,
		Success:     true,
	})
	return nil
}

// sweepSessions revokes all sessions after a credential rotation. Best
// effort: a failed sweep is logged, the credential change stands.
func (e *Engine) sweepSessions(ctx context.Context, principalID string) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	if _, err := e.sessions.RevokeAllForPrincipal(sctx, principalID); err != nil {
		e.warnf("sentra: session sweep for %s: %v", principalID, err)
	}
}

func (e *Engine) clearGuard(ctx context.Context, principalID string) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	if err := e.guard.Unlock(sctx, principalID); err != nil {
		e.warnf("sentra: guard unlock for %s: %v", principalID, err)
	}
}

// mapHashErr folds hasher input validation into the policy sentinel.
func (e *Engine) mapHashErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ErrPasswordPolicy
}
