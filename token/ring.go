package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Key is one member of the trusted signing-key set.
type Key struct {
	ID      string
	Private []byte // HS256 secret, or ed25519 private key (raw or PEM)
	Public  []byte // ed25519 public key (raw or PEM); ignored for HS256
}

// keyRing is an immutable snapshot of the trusted key set. The signing key
// is always order[0]; verification accepts any member.
type keyRing struct {
	signKID string
	signKey any
	verify  map[string]any
	order   []string
}

func buildRing(method SigningMethod, keys []Key, maxTrusted int) (*keyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one signing key required")
	}
	if maxTrusted > 0 && len(keys) > maxTrusted {
		keys = keys[:maxTrusted]
	}

	ring := &keyRing{
		verify: make(map[string]any, len(keys)),
		order:  make([]string, 0, len(keys)),
	}

	for i, k := range keys {
		kid := strings.TrimSpace(k.ID)
		if kid == "" {
			return nil, errors.New("signing key with empty id")
		}
		if _, dup := ring.verify[kid]; dup {
			return nil, fmt.Errorf("duplicate signing key id %q", kid)
		}

		vk, err := verifyKeyFor(method, k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}
		ring.verify[kid] = vk
		ring.order = append(ring.order, kid)

		if i == 0 {
			sk, err := signKeyFor(method, k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", kid, err)
			}
			ring.signKID = kid
			ring.signKey = sk
		}
	}

	return ring, nil
}

// rotated returns a new ring with k as the signing key and the previous
// members demoted, trimmed to maxTrusted.
func (r *keyRing) rotated(method SigningMethod, k Key, maxTrusted int) (*keyRing, error) {
	next, err := buildRing(method, []Key{k}, maxTrusted)
	if err != nil {
		return nil, err
	}

	// Carry forward already-parsed verify keys for the demoted members.
	for _, kid := range r.order {
		if _, exists := next.verify[kid]; exists {
			continue
		}
		if maxTrusted > 0 && len(next.order) >= maxTrusted {
			break
		}
		next.verify[kid] = r.verify[kid]
		next.order = append(next.order, kid)
	}

	return next, nil
}

func signKeyFor(method SigningMethod, k Key) (any, error) {
	switch method {
	case MethodHS256:
		if len(k.Private) == 0 {
			return nil, errors.New("hs256 requires a secret")
		}
		return k.Private, nil
	case MethodEd25519:
		return parseEdPrivateKey(k.Private)
	default:
		return nil, errors.New("unsupported signing method")
	}
}

func verifyKeyFor(method SigningMethod, k Key) (any, error) {
	switch method {
	case MethodHS256:
		if len(k.Private) == 0 {
			return nil, errors.New("hs256 requires a secret")
		}
		return k.Private, nil
	case MethodEd25519:
		if len(k.Public) > 0 {
			return parseEdPublicKey(k.Public)
		}
		priv, err := parseEdPrivateKey(k.Private)
		if err != nil {
			return nil, err
		}
		return priv.Public().(ed25519.PublicKey), nil
	default:
		return nil, errors.New("unsupported signing method")
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
