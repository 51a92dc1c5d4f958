package sentra

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginBlocked         = "login_blocked"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventPasswordChange       = "password_change"
	auditEventAccountAutoLocked    = "account_auto_locked"
)
