// Package session persists authenticated session records in Redis.
//
// A session is revoked by flipping a flag, not by deletion: the record
// stays until expiry plus a retention window, so a refresh attempt against
// a logged-out session can be answered with a revocation error instead of
// an indistinguishable not-found.
//
// Refresh-token rotation is a Lua compare-and-swap over the stored refresh
// hash. Two concurrent rotations of the same token cannot both succeed, and
// a mismatching hash — a rotated token presented again — marks the session
// revoked inside the same atomic script (possession-theft signal).
package session
