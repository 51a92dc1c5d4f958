package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	// SecretSize is the byte length of refresh/reset secrets.
	SecretSize = 32

	idSize             = 16 // binary ulid.ULID length
	opaqueTokenRawSize = idSize + SecretSize
)

// NewID returns a new ULID from crypto/rand entropy. IDs order by creation
// time but carry no secret material.
func NewID() (ulid.ULID, error) {
	return ulid.New(ulid.Now(), rand.Reader)
}

// ParseID parses the canonical 26-character ULID form.
func ParseID(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}

// NewSecret returns a fresh random secret.
func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret returns the SHA-256 digest persisted in place of a secret.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeOpaqueToken packs id and secret into the wire form handed to the
// client: base64url, no padding.
func EncodeOpaqueToken(id ulid.ULID, secret [SecretSize]byte) string {
	var raw [opaqueTokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeOpaqueToken reverses [EncodeOpaqueToken]. It rejects any input of
// the wrong size without revealing which part was malformed.
func DecodeOpaqueToken(token string) (ulid.ULID, [SecretSize]byte, error) {
	var (
		id     ulid.ULID
		secret [SecretSize]byte
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, errors.New("invalid opaque token")
	}
	if len(raw) != opaqueTokenRawSize {
		return id, secret, errors.New("invalid opaque token size")
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// HashFingerprint derives the client fingerprint stored on a session from
// the request origin and user agent.
func HashFingerprint(origin, userAgent string) [32]byte {
	if origin == "" && userAgent == "" {
		return [32]byte{}
	}
	return sha256.Sum256([]byte(origin + "\x00" + userAgent))
}

// NewOTP returns a numeric one-time code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// HashOTP hashes a one-time code for storage.
func HashOTP(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
