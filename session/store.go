package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means no record exists for the session id.
	ErrNotFound = errors.New("session not found")
	// ErrRevoked means the session exists but has been revoked.
	ErrRevoked = errors.New("session revoked")
	// ErrExpired means the session's logical expiry has passed.
	ErrExpired = errors.New("session expired")
	// ErrRefreshReuse means the presented refresh hash does not match the
	// stored one. The store has already revoked the session when this is
	// returned.
	ErrRefreshReuse = errors.New("refresh hash mismatch")
	// ErrRedisUnavailable wraps transport-level failures.
	ErrRedisUnavailable = errors.New("session redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusReuse    int64 = 3
	rotateStatusRotated  int64 = 4
	rotateStatusCorrupt  int64 = 5
)

// rotateScript compares the stored refresh hash (bytes 19-50, Lua
// one-based) against the provided one and swaps in the next hash in place,
// preserving the key TTL. A mismatch flips the revoked flag before
// returning, so reuse detection and session revocation are one atomic step.
const rotateScript = `
local key = KEYS[1]
local provided = ARGV[1]
local next_hash = ARGV[2]
local now = tonumber(ARGV[3])

local data = redis.call("GET", key)
if not data then
  return {0}
end
if #data < 50 then
  return {5}
end

local flags = string.byte(data, 2)
if flags % 2 == 1 then
  return {1}
end

local expires = 0
for i = 11, 18 do
  expires = expires * 256 + string.byte(data, i)
end
if expires <= now then
  return {2}
end

local current = string.sub(data, 19, 50)
if current ~= provided then
  redis.call("SETRANGE", key, 1, string.char(flags + 1))
  return {3}
end

local updated = string.sub(data, 1, 18) .. next_hash .. string.sub(data, 51)
local ttl = redis.call("PTTL", key)
if ttl > 0 then
  redis.call("SET", key, updated, "PX", ttl)
else
  redis.call("SET", key, updated)
end
return {4, updated}
`

// revokeScript flips the revoked flag in place without touching the TTL.
const revokeScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local flags = string.byte(data, 2)
if flags % 2 == 0 then
  redis.call("SETRANGE", KEYS[1], 1, string.char(flags + 1))
end
return 1
`

var (
	rotateLua = redis.NewScript(rotateScript)
	revokeLua = redis.NewScript(revokeScript)
)

// Store is the Redis-backed session store. All operations take the ambient
// context; callers own timeouts.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a [Store]. prefix namespaces every key; it defaults
// to "sn".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sn"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":p:" + principalID
}

// Save persists the session. The Redis TTL is the remaining session
// lifetime plus retention, so revoked and expired records stay addressable
// for the retention window before Redis garbage-collects them.
func (s *Store) Save(ctx context.Context, sess *Session, retention time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := sess.ExpiresIn(time.Now()) + retention
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.principalKey(sess.PrincipalID), sess.ID)
		pipe.Expire(ctx, s.principalKey(sess.PrincipalID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get fetches a session without mutating any state. Expired sessions
// return ErrExpired; revoked ones are returned with Revoked set so callers
// can distinguish revocation from absence.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID

	if time.Now().Unix() >= sess.ExpiresAt {
		return nil, ErrExpired
	}
	return sess, nil
}

// MarkRevoked flips the session's revoked flag. Idempotent; revoking an
// unknown session returns ErrNotFound.
func (s *Store) MarkRevoked(ctx context.Context, sessionID string) error {
	existed, err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if existed == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateRefreshHash atomically replaces the stored refresh hash when
// providedHash matches (compare-and-swap). On mismatch the session is
// revoked by the same script and ErrRefreshReuse is returned. Returns the
// updated session on success.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*Session, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		providedHash[:],
		nextHash[:],
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusRevoked:
		return nil, ErrRevoked
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusReuse:
		return nil, ErrRefreshReuse
	case rotateStatusCorrupt:
		return nil, ErrCorruptRecord
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated session payload", ErrRedisUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid rotated session payload", ErrRedisUnavailable)
		}
		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, decErr
		}
		sess.ID = sessionID
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// RevokeAllForPrincipal revokes every tracked session of a principal and
// returns how many records were touched. Used on password change/reset.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, id := range ids {
		existed, err := revokeLua.Run(ctx, s.redis, []string{s.key(id)}).Int64()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if existed == 1 {
			revoked++
		}
	}
	return revoked, nil
}

// ActiveSessionIDs returns the tracked session ids for a principal. Stale
// members of the index — expired records already dropped by Redis — are
// filtered by existence.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
				continue
			}
			return nil, err
		}
		if !sess.Revoked {
			out = append(out, id)
		}
	}
	return out, nil
}

// Sessions fetches all live records for a principal, revoked included.
// Intended for introspection.
func (s *Store) Sessions(ctx context.Context, principalID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Delete removes a session record and its index entry. Normal lifecycle
// relies on Redis TTL expiry; Delete exists for administrative cleanup.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if !errors.Is(err, ErrExpired) {
			return err
		}
	}

	_, pipeErr := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		if sess != nil {
			pipe.SRem(ctx, s.principalKey(sess.PrincipalID), sessionID)
		}
		return nil
	})
	if pipeErr != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, pipeErr)
	}
	return nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
