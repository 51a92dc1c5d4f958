// Package sentra is a credential and session engine: argon2id password
// verification, signed JWT access tokens with rotating key rings, opaque
// rotating refresh tokens, Redis-backed revocable sessions, brute-force
// lockout, and role-based authorization.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], sentinel errors, and value types; coordination code lives
// under internal/ and the reusable leaves are password/, token/,
// session/, and rbac/. Engine methods are safe for concurrent use after
// [Builder.Build].
//
// Principal records stay in the host's storage behind the
// [PrincipalProvider] interface; the engine owns no account database.
// VerifyAccessToken is the hot path and completes without a Redis
// round-trip unless strict revocation checking is configured.
package sentra
