package sentra

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady means the Engine was used before Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidCredentials covers unknown identifiers and wrong secrets
	// alike, so callers cannot probe for account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalNotFound is returned by PrincipalProvider lookups for
	// unknown principals. The engine maps it to ErrInvalidCredentials on
	// authentication paths.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrAccountLocked means the account or origin is locked out, either
	// by the brute-force guard or by persistent account status.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled means the account was administratively disabled.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrMFARequired signals that Login succeeded against the credential
	// but a second factor is pending; complete it via CompleteMFA.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAInvalid means the challenge id or code is wrong.
	ErrMFAInvalid = errors.New("mfa challenge invalid")
	// ErrMFAExpired means the challenge outlived its TTL.
	ErrMFAExpired = errors.New("mfa challenge expired")
	// ErrMFAAttemptsExceeded means the challenge burned its attempt budget.
	ErrMFAAttemptsExceeded = errors.New("mfa challenge attempts exceeded")

	// ErrTokenExpired is the only verification failure a refresh can fix.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures, and
	// unknown signing keys.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrSessionNotFound means no session record exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked means the session was logged out or swept.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrRefreshInvalid means the refresh token failed to decode.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuseDetected means a stale refresh token was presented.
	// The session is already revoked when this returns.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrResetInvalid means the reset token is unknown, expired, or wrong.
	ErrResetInvalid = errors.New("password reset token invalid")
	// ErrResetAttemptsExceeded means the reset grant burned its attempts.
	ErrResetAttemptsExceeded = errors.New("password reset attempts exceeded")
	// ErrPasswordReuse rejects a new secret equal to the current one.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrPasswordPolicy rejects secrets below the configured minimum.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrPermissionDenied is the only authorization failure.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorageUnavailable wraps backend transport failures surfaced to
	// callers; the operation may be retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// LockoutError is returned for guard lockouts. It matches ErrAccountLocked
// under errors.Is and carries the remaining lockout duration when known.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
	}
	return "account locked"
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrAccountLocked
}
