package sentra

import (
	"context"
	"errors"
	"time"

	"github.com/sentra-auth/sentra/internal"
	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/guard"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/internal/stores"
)

// Login authenticates an identifier/secret pair. On success it returns a
// minted session with access and refresh tokens, or a pending MFA
// challenge when the principal requires a second factor. Unknown
// identifiers and wrong secrets both return ErrInvalidCredentials after
// comparable work, and both count against the brute-force guard.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	origin := originFromContext(ctx)

	principal, lookupErr := e.provider.LookupByIdentifier(ctx, identifier)
	guardKey := principal.ID
	if guardKey == "" {
		// Unknown identifiers still consume the origin budget; key the
		// principal dimension on the identifier so probes cannot reset
		// each other.
		guardKey = "id:" + identifier
	}

	gctx, cancel := e.storageCtx(ctx)
	decision, err := e.guard.Check(gctx, guardKey, origin)
	cancel()
	if err != nil {
		// Guard backend down: fail closed.
		e.metricInc(metrics.LoginBlocked)
		return nil, storageErr(err)
	}
	if !decision.Allowed {
		e.metricInc(metrics.LoginBlocked)
		e.emit(ctx, audit.Event{
			EventType:   auditEventLoginBlocked,
			PrincipalID: principal.ID,
		})
		return nil, &LockoutError{RetryAfter: decision.RetryAfter}
	}

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrPrincipalNotFound) {
			// Burn a verification against a throwaway digest so unknown
			// identifiers cost the same as wrong secrets.
			_, _ = e.verifySecret(ctx, secret, e.decoyHash)
			return nil, e.failLogin(ctx, guardKey, origin, "", "unknown identifier")
		}
		return nil, storageErr(lookupErr)
	}

	ok, err := e.verifySecret(ctx, secret, principal.CredentialHash)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Malformed stored digest; log it, the login still fails.
		e.warnf("sentra: credential verify for %s: %v", principal.ID, err)
	}
	if !ok {
		return nil, e.failLogin(ctx, guardKey, origin, principal.ID, "wrong secret")
	}

	switch principal.Status {
	case StatusActive:
	case StatusLocked:
		return nil, ErrAccountLocked
	case StatusDisabled:
		return nil, ErrAccountDisabled
	default:
		return nil, ErrAccountDisabled
	}

	upgraded := e.maybeUpgradeCredential(ctx, principal, secret)

	if principal.MFARequired {
		// The guard resets only when the factor chain completes; a
		// correct password with MFA pending leaves the counters alone.
		challengeID, err := e.issueChallenge(ctx, principal)
		if err != nil {
			return nil, err
		}
		e.metricInc(metrics.MFAChallengeIssued)
		e.emit(ctx, audit.Event{
			EventType:   auditEventMFARequired,
			PrincipalID: principal.ID,
			Success:     true,
		})
		return &LoginResult{MFARequired: true, ChallengeID: challengeID}, nil
	}

	gctx, cancel = e.storageCtx(ctx)
	if err := e.guard.RecordSuccess(gctx, guardKey, origin); err != nil {
		e.warnf("sentra: guard reset for %s: %v", principal.ID, err)
	}
	cancel()

	result, err := e.finishLogin(ctx, principal)
	if err != nil {
		return nil, err
	}
	result.CredentialUpgraded = upgraded
	return result, nil
}

// CompleteMFA redeems a pending challenge. Success consumes the
// challenge and mints the session; the same code can never be redeemed
// twice. Failures count against both the challenge's attempt budget and
// the principal-keyed guard.
func (e *Engine) CompleteMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sctx, cancel := e.storageCtx(ctx)
	record, err := e.challenges.Consume(sctx, challengeID, internal.HashOTP(code), e.config.MFA.MaxAttempts)
	cancel()
	if err != nil {
		var mismatch *stores.CodeMismatchError
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			e.metricInc(metrics.MFAFailure)
			return nil, ErrMFAExpired
		case errors.As(err, &mismatch):
			result := ErrMFAInvalid
			if mismatch.Exceeded {
				result = ErrMFAAttemptsExceeded
			}
			return nil, e.failMFA(ctx, mismatch.PrincipalID, challengeID, result)
		default:
			return nil, storageErr(err)
		}
	}

	principal, err := e.provider.LookupByID(ctx, record.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrMFAInvalid
		}
		return nil, storageErr(err)
	}
	if principal.Status != StatusActive {
		return nil, ErrAccountLocked
	}

	gctx, gcancel := e.storageCtx(ctx)
	if err := e.guard.RecordSuccess(gctx, principal.ID, originFromContext(ctx)); err != nil {
		e.warnf("sentra: guard reset for %s: %v", principal.ID, err)
	}
	gcancel()

	e.metricInc(metrics.MFASuccess)
	e.emit(ctx, audit.Event{
		EventType:   auditEventMFASuccess,
		PrincipalID: principal.ID,
		Success:     true,
	})
	return e.finishLogin(ctx, principal)
}

// failLogin records a failed attempt and normalizes the caller-visible
// error. A lockout triggered by this failure surfaces immediately.
func (e *Engine) failLogin(ctx context.Context, guardKey, origin, principalID, reason string) error {
	e.metricInc(metrics.LoginFailure)
	e.emit(ctx, audit.Event{
		EventType:   auditEventLoginFailure,
		PrincipalID: principalID,
		Error:       reason,
	})

	gctx, cancel := e.storageCtx(ctx)
	decision, err := e.guard.RecordFailure(gctx, guardKey, origin)
	cancel()
	if err != nil {
		if errors.Is(err, guard.ErrGuardUnavailable) {
			return storageErr(err)
		}
		return ErrInvalidCredentials
	}
	if !decision.Allowed {
		e.onLockout(ctx, principalID, decision)
		return &LockoutError{RetryAfter: decision.RetryAfter}
	}
	return ErrInvalidCredentials
}

// onLockout escalates a guard lockout to persistent account state when
// configured.
func (e *Engine) onLockout(ctx context.Context, principalID string, decision guard.Decision) {
	e.metricInc(metrics.LoginBlocked)
	e.emit(ctx, audit.Event{
		EventType:   auditEventAccountAutoLocked,
		PrincipalID: principalID,
		Metadata: map[string]string{
			"retry_after": decision.RetryAfter.String(),
		},
	})
	if !e.config.Guard.PersistLockout || principalID == "" {
		return
	}
	if err := e.provider.UpdateStatus(ctx, principalID, StatusLocked); err != nil {
		e.warnf("sentra: persist lockout for %s: %v", principalID, err)
	}
}

// failMFA charges a rejected code to the principal-keyed guard and
// normalizes the caller-visible error. A lockout triggered by this
// failure surfaces immediately.
func (e *Engine) failMFA(ctx context.Context, principalID, challengeID string, result error) error {
	e.metricInc(metrics.MFAFailure)
	eventType := auditEventMFAFailure
	if errors.Is(result, ErrMFAAttemptsExceeded) {
		eventType = auditEventMFAAttemptsExceeded
	}
	e.emit(ctx, audit.Event{
		EventType:   eventType,
		PrincipalID: principalID,
		Metadata:    map[string]string{"challenge_id": challengeID},
	})

	gctx, cancel := e.storageCtx(ctx)
	decision, err := e.guard.RecordFailure(gctx, principalID, originFromContext(ctx))
	cancel()
	if err != nil {
		if errors.Is(err, guard.ErrGuardUnavailable) {
			return storageErr(err)
		}
		return result
	}
	if !decision.Allowed {
		e.onLockout(ctx, principalID, decision)
		return &LockoutError{RetryAfter: decision.RetryAfter}
	}
	return result
}

// issueChallenge mints an MFA challenge and hands the code to the
// Notifier. The code itself is never stored.
func (e *Engine) issueChallenge(ctx context.Context, principal PrincipalRecord) (string, error) {
	if e.notifier == nil {
		return "", errors.New("sentra: mfa required but no notifier configured")
	}

	id, err := internal.NewID()
	if err != nil {
		return "", err
	}
	code, err := internal.NewOTP(e.config.MFA.CodeDigits)
	if err != nil {
		return "", err
	}

	record := &stores.ChallengeRecord{
		PrincipalID: principal.ID,
		CodeHash:    internal.HashOTP(code),
		ExpiresAt:   time.Now().Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	sctx, cancel := e.storageCtx(ctx)
	err = e.challenges.Save(sctx, id.String(), record, e.config.MFA.ChallengeTTL)
	cancel()
	if err != nil {
		return "", storageErr(err)
	}

	if err := e.notifier.DeliverMFACode(ctx, principal, code); err != nil {
		return "", err
	}
	return id.String(), nil
}

// finishLogin mints the session and records the login on the provider.
func (e *Engine) finishLogin(ctx context.Context, principal PrincipalRecord) (*LoginResult, error) {
	result, err := e.mintSession(ctx, principal)
	if err != nil {
		return nil, err
	}

	if err := e.provider.RecordLogin(ctx, principal.ID, time.Now()); err != nil {
		e.warnf("sentra: record login for %s: %v", principal.ID, err)
	}

	e.metricInc(metrics.LoginSuccess)
	e.emit(ctx, audit.Event{
		EventType:   auditEventLoginSuccess,
		PrincipalID: principal.ID,
		SessionID:   result.SessionID,
		Success:     true,
	})
	return result, nil
}

// maybeUpgradeCredential transparently re-derives the stored hash when
// the configured work factor has increased. Best effort; failure leaves
// the old hash in place.
func (e *Engine) maybeUpgradeCredential(ctx context.Context, principal PrincipalRecord, secret string) bool {
	needs, err := e.hasher.NeedsRehash(principal.CredentialHash)
	if err != nil || !needs {
		return false
	}
	newHash, err := e.hashSecret(ctx, secret)
	if err != nil {
		e.warnf("sentra: credential upgrade hash for %s: %v", principal.ID, err)
		return false
	}
	if err := e.provider.UpdateCredentialHash(ctx, principal.ID, newHash); err != nil {
		e.warnf("sentra: credential upgrade store for %s: %v", principal.ID, err)
		return false
	}
	return true
}
