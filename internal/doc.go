// Package internal holds the engine's private primitives: identifier and
// secret generation, opaque token codecs, and fingerprint hashing.
//
// Nothing here is part of the public API. Opaque tokens (refresh, reset)
// are base64url(id || secret); only the SHA-256 of the secret is ever
// persisted, so possession of the raw token is required to redeem it.
package internal
