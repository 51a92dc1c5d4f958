package token

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

// Verification failure kinds. ErrExpired is the only retryable one
// (via refresh); callers must not collapse the others into it.
var (
	ErrExpired      = errors.New("token expired")
	ErrNotYetValid  = errors.New("token not yet valid")
	ErrSignature    = errors.New("token signature mismatch")
	ErrUnknownKeyID = errors.New("token signed with unknown key id")
	ErrMalformed    = errors.New("token malformed")
)

// Config holds issuer settings. Immutable after construction; key rotation
// goes through [Issuer.Rotate].
type Config struct {
	Method      SigningMethod
	Issuer      string
	Leeway      time.Duration // clock-skew tolerance, capped at 2 minutes
	MaxTrusted  int           // trusted key-set size, current + previous (default 3)
	Keys        []Key         // Keys[0] signs; all members verify
}

// Claims is the payload carried by an access token.
type Claims struct {
	PrincipalID string   `json:"pid"`
	SessionID   string   `json:"sid"`
	Roles       []string `json:"rol,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies signed access tokens. Safe for concurrent use;
// Verify always reads an immutable key-ring snapshot.
type Issuer struct {
	method     SigningMethod
	issuer     string
	leeway     time.Duration
	maxTrusted int
	ring       atomic.Pointer[keyRing]
}

// NewIssuer validates cfg and builds the initial key ring.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxTrusted == 0 {
		cfg.MaxTrusted = 3
	}
	if cfg.MaxTrusted < 1 {
		return nil, errors.New("invalid trusted key-set size")
	}
	switch cfg.Method {
	case MethodHS256, MethodEd25519:
	default:
		return nil, errors.New("unsupported signing method")
	}

	ring, err := buildRing(cfg.Method, cfg.Keys, cfg.MaxTrusted)
	if err != nil {
		return nil, err
	}

	iss := &Issuer{
		method:     cfg.Method,
		issuer:     cfg.Issuer,
		leeway:     cfg.Leeway,
		maxTrusted: cfg.MaxTrusted,
	}
	iss.ring.Store(ring)
	return iss, nil
}

// Issue signs claims with the current key and the given lifetime.
func (i *Issuer) Issue(c Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("non-positive token ttl")
	}

	now := time.Now()
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	c.IssuedAt = jwt.NewNumericDate(now)
	c.NotBefore = jwt.NewNumericDate(now)
	if i.issuer != "" {
		c.Issuer = i.issuer
	}

	ring := i.ring.Load()
	tok := jwt.NewWithClaims(i.jwtMethod(), c)
	tok.Header["kid"] = ring.signKID

	return tok.SignedString(ring.signKey)
}

// Verify checks signature, expiry, and validity window. Failures map to
// exactly one of [ErrExpired], [ErrNotYetValid], [ErrSignature],
// [ErrUnknownKeyID], or [ErrMalformed].
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	ring := i.ring.Load()

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.jwtMethod().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.leeway > 0 {
		options = append(options, jwt.WithLeeway(i.leeway))
	}
	if i.issuer != "" {
		options = append(options, jwt.WithIssuer(i.issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKeyID
		}
		key, ok := ring.verify[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Decode checks the signature but skips the validity window, so an
// expired token still yields its claims. Used for logout, where the
// bearer surrenders the token rather than exercising it.
func (i *Issuer) Decode(tokenStr string) (*Claims, error) {
	ring := i.ring.Load()

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.jwtMethod().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKeyID
		}
		key, ok := ring.verify[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Rotate installs k as the new signing key. Previously trusted keys keep
// verifying until they fall off the ring, so in-flight tokens stay valid.
func (i *Issuer) Rotate(k Key) error {
	for {
		current := i.ring.Load()
		next, err := current.rotated(i.method, k, i.maxTrusted)
		if err != nil {
			return err
		}
		if i.ring.CompareAndSwap(current, next) {
			return nil
		}
	}
}

// TrustedKeyIDs returns the key ids currently accepted for verification,
// signing key first.
func (i *Issuer) TrustedKeyIDs() []string {
	ring := i.ring.Load()
	out := make([]string, len(ring.order))
	copy(out, ring.order)
	return out
}

func (i *Issuer) jwtMethod() jwt.SigningMethod {
	if i.method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKeyID):
		return ErrUnknownKeyID
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignature
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
