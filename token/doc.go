// Package token issues and verifies signed access tokens.
//
// Every token header carries the identifier of the key that signed it.
// Verification resolves the key against an immutable snapshot of the
// currently trusted set (current + N previous), so a rotation does not
// invalidate tokens issued moments before it.
//
// Verification failures are distinguishable: [ErrExpired] is retryable via
// refresh, the remaining kinds are not.
package token
