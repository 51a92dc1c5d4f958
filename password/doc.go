// Package password implements one-way credential hashing with argon2id.
//
// Digests are encoded in PHC string format and carry their own work-factor
// parameters, so the default factor can be raised without invalidating
// stored digests. [Hasher.NeedsRehash] lets callers upgrade old digests
// transparently after a successful verification.
package password
