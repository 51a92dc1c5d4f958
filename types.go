package sentra

import (
	"context"
	"io"
	"time"

	"github.com/sentra-auth/sentra/internal/audit"
	"github.com/sentra-auth/sentra/internal/metrics"
	"github.com/sentra-auth/sentra/token"
)

// AccountStatus is the lifecycle state of a principal record.
type AccountStatus uint8

const (
	StatusActive AccountStatus = iota
	StatusLocked
	StatusDisabled
)

func (s AccountStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusLocked:
		return "locked"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// PrincipalRecord is the account record the host stores. The engine never
// persists it; all reads and writes go through [PrincipalProvider].
type PrincipalRecord struct {
	ID             string
	Identifier     string
	CredentialHash string
	Roles          []string
	Status         AccountStatus
	MFARequired    bool
	LastLoginAt    time.Time
}

// PrincipalProvider is the host's account storage. Lookup methods return
// [ErrPrincipalNotFound] for unknown principals; any other error is
// treated as a storage failure.
type PrincipalProvider interface {
	LookupByIdentifier(ctx context.Context, identifier string) (PrincipalRecord, error)
	LookupByID(ctx context.Context, principalID string) (PrincipalRecord, error)
	UpdateCredentialHash(ctx context.Context, principalID, newHash string) error
	UpdateStatus(ctx context.Context, principalID string, status AccountStatus) error
	RecordLogin(ctx context.Context, principalID string, at time.Time) error
}

// Notifier delivers out-of-band secrets. The engine never sends messages
// itself; hosts plug in mail, SMS, or test doubles.
type Notifier interface {
	DeliverMFACode(ctx context.Context, principal PrincipalRecord, code string) error
	DeliverResetToken(ctx context.Context, principal PrincipalRecord, token string) error
}

// LoginResult is the outcome of Login or CompleteMFA. When MFARequired is
// set only ChallengeID is populated; otherwise the token fields are.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string

	MFARequired bool
	ChallengeID string

	// CredentialUpgraded reports that the stored hash was transparently
	// re-derived with the current work factor during this login.
	CredentialUpgraded bool
}

// TokenPair is the outcome of Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// Claims is the verified payload of an access token.
type Claims = token.Claims

// SessionInfo is a read-only view of one stored session.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// AuditEvent is re-exported so hosts can consume the audit stream without
// importing internal packages.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink targeting w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// MetricID identifies one engine counter.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of engine metrics.
type MetricsSnapshot = metrics.Snapshot

// SecurityReport summarizes the engine's effective security posture for
// operational review. All fields are derived from configuration.
type SecurityReport struct {
	SigningMethod     string
	TrustedKeyIDs     []string
	AccessTokenTTL    time.Duration
	SessionTTL        time.Duration
	StrictRevocation  bool
	Argon2MemoryKiB   uint32
	Argon2Time        uint32
	Argon2Parallelism uint8
	GuardMaxFailures  int
	GuardWindow       time.Duration
	GuardBaseLockout  time.Duration
	GuardMaxLockout   time.Duration
	MFACodeDigits     int
	MFAChallengeTTL   time.Duration
	ResetTokenTTL     time.Duration
	AuditEnabled      bool
	AuditDropped      uint64
	MetricsEnabled    bool
	PermissionCount   int
}
