package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minSecretBytes        = 8
	algorithmID           = "argon2id"
)

// ErrMalformedDigest is returned by [Hasher.Verify] when the stored digest
// cannot be parsed. Callers must treat it as a verification failure.
var ErrMalformedDigest = errors.New("malformed password digest")

// Params are the argon2id work-factor parameters. Every digest embeds the
// parameters it was produced with, so raising the defaults never invalidates
// previously stored digests.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the recommended interactive-login work factor.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher produces and verifies argon2id digests in PHC string format.
// A Hasher is immutable after construction and safe for concurrent use.
type Hasher struct {
	params Params
}

type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewHasher validates the work factor and returns a [Hasher].
func NewHasher(p Params) (*Hasher, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Hash derives a digest of secret with a fresh random salt. Two calls with
// the same secret never produce the same digest.
func (h *Hasher) Hash(secret string) (string, error) {
	if len(secret) < minSecretBytes {
		return "", errors.New("secret must be at least 8 bytes")
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(secret),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest with the parameters embedded in encoded and
// compares in constant time. A malformed digest yields (false,
// ErrMalformedDigest), never a panic. Verification cost follows the stored
// parameters, not the Hasher's current ones.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		d.salt,
		d.time,
		d.memory,
		d.parallelism,
		uint32(len(d.key)),
	)

	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with a weaker work factor
// than the Hasher's current parameters. Callers upgrade transparently by
// re-hashing on the next successful verification.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case h.params.Memory > d.memory:
		return true, nil
	case h.params.Time > d.time:
		return true, nil
	case h.params.Parallelism > d.parallelism:
		return true, nil
	case h.params.KeyLength != uint32(len(d.key)):
		return true, nil
	}
	return false, nil
}

// Params returns the active work factor.
func (h *Hasher) Params() Params {
	return h.params
}

func parseDigest(encoded string) (*digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrMalformedDigest
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrMalformedDigest)
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedDigest)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformedDigest)
	}

	d := &digest{}
	if err := parseCostParams(parts[3], d); err != nil {
		return nil, err
	}

	d.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(d.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedDigest)
	}
	d.key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(d.key) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedDigest)
	}

	return d, nil
}

func parseCostParams(part string, d *digest) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return fmt.Errorf("%w: bad parameters", ErrMalformedDigest)
	}

	var haveM, haveT, haveP bool
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("%w: bad parameter entry", ErrMalformedDigest)
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: bad memory parameter", ErrMalformedDigest)
			}
			d.memory = uint32(v)
			haveM = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: bad time parameter", ErrMalformedDigest)
			}
			d.time = uint32(v)
			haveT = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: bad parallelism parameter", ErrMalformedDigest)
			}
			d.parallelism = uint8(v)
			haveP = true
		default:
			return fmt.Errorf("%w: unknown parameter", ErrMalformedDigest)
		}
	}
	if !haveM || !haveT || !haveP {
		return fmt.Errorf("%w: missing parameters", ErrMalformedDigest)
	}
	return nil
}

func validateParams(p Params) error {
	if p.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KiB")
	}
	if p.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
