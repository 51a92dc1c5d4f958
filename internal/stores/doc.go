// Package stores holds the Redis-backed single-use secret stores:
// pending MFA challenges and password reset grants. Records are
// compact binary blobs and consumption is atomic, so a secret can
// never be redeemed twice.
package stores
