package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies one counter.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginBlocked
	MFAChallengeIssued
	MFASuccess
	MFAFailure
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	SessionCreated
	SessionRevoked
	Logout
	LogoutAll
	PasswordResetRequested
	PasswordResetCompleted
	PasswordResetFailed
	PasswordChanged
	VerifySuccess
	VerifyFailure
	AuthorizeAllowed
	AuthorizeDenied
	idCount
)

// Name returns the stable snake_case name of a counter, used by the
// exporters as the metric suffix.
func (id ID) Name() string {
	if int(id) < len(idNames) {
		return idNames[id]
	}
	return "unknown"
}

var idNames = [idCount]string{
	LoginSuccess:           "login_success",
	LoginFailure:           "login_failure",
	LoginBlocked:           "login_blocked",
	MFAChallengeIssued:     "mfa_challenge_issued",
	MFASuccess:             "mfa_success",
	MFAFailure:             "mfa_failure",
	RefreshSuccess:         "refresh_success",
	RefreshFailure:         "refresh_failure",
	RefreshReuseDetected:   "refresh_reuse_detected",
	SessionCreated:         "session_created",
	SessionRevoked:         "session_revoked",
	Logout:                 "logout",
	LogoutAll:              "logout_all",
	PasswordResetRequested: "password_reset_requested",
	PasswordResetCompleted: "password_reset_completed",
	PasswordResetFailed:    "password_reset_failed",
	PasswordChanged:        "password_changed",
	VerifySuccess:          "verify_success",
	VerifyFailure:          "verify_failure",
	AuthorizeAllowed:       "authorize_allowed",
	AuthorizeDenied:        "authorize_denied",
}

// IDs returns every counter id in declaration order.
func IDs() []ID {
	out := make([]ID, idCount)
	for i := range out {
		out[i] = ID(i)
	}
	return out
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// VerifyBuckets are the histogram upper bounds in milliseconds; the
// last bucket is +Inf.
var VerifyBuckets = [histBucketCount - 1]int64{1, 2, 5, 10, 25, 50, 100}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics accumulates counters and the token-verify latency histogram.
// The zero-config disabled form is a nil *Metrics; every method is
// nil-safe.
type Metrics struct {
	enableLatency bool
	counters      [idCount]paddedCounter
	verifyLatency [histBucketCount]uint64
}

// Config controls collection.
type Config struct {
	Enabled             bool
	EnableVerifyLatency bool
}

func New(cfg Config) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{enableLatency: cfg.EnableVerifyLatency}
}

func (m *Metrics) Enabled() bool {
	return m != nil
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id ID) {
	if m == nil || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// ObserveVerify records one token verification latency.
func (m *Metrics) ObserveVerify(d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	atomic.AddUint64(&m.verifyLatency[bucketIndex(d)], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot is a point-in-time copy of all metric state.
type Snapshot struct {
	Counters      map[ID]uint64
	VerifyLatency []uint64
}

// Take copies the current counter and histogram values.
func (m *Metrics) Take() Snapshot {
	s := Snapshot{Counters: make(map[ID]uint64, int(idCount))}
	if m == nil {
		return s
	}

	for id := ID(0); id < idCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		s.VerifyLatency = make([]uint64, histBucketCount)
		for i := range s.VerifyLatency {
			s.VerifyLatency[i] = atomic.LoadUint64(&m.verifyLatency[i])
		}
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range VerifyBuckets {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
