package session

import "time"

// Session is one persisted login session. RefreshHash holds the SHA-256 of
// the current refresh secret; the raw secret only ever exists in the token
// handed to the client.
type Session struct {
	ID          string
	PrincipalID string
	Roles       []string

	Revoked         bool
	RefreshHash     [32]byte
	FingerprintHash [32]byte

	CreatedAt int64 // unix seconds
	ExpiresAt int64 // unix seconds
}

// ExpiresIn returns the remaining lifetime at now, zero or negative when
// already expired.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	return time.Unix(s.ExpiresAt, 0).Sub(now)
}

// Active reports whether the session can still yield tokens at now.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Unix() < s.ExpiresAt
}
