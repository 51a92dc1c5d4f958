package sentra

import (
	"context"
	"testing"
	"time"

	"github.com/sentra-auth/sentra/internal/metrics"
)

func TestSecurityReport(t *testing.T) {
	f := newTestFixture(t, nil)

	report := f.engine.SecurityReport()
	if report.SigningMethod != "hs256" {
		t.Errorf("SigningMethod = %q", report.SigningMethod)
	}
	if len(report.TrustedKeyIDs) != 1 || report.TrustedKeyIDs[0] != "t1" {
		t.Errorf("TrustedKeyIDs = %v", report.TrustedKeyIDs)
	}
	if report.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v", report.AccessTokenTTL)
	}
	if report.StrictRevocation {
		t.Error("StrictRevocation set in TTL mode")
	}
	if report.GuardMaxFailures != 3 {
		t.Errorf("GuardMaxFailures = %d", report.GuardMaxFailures)
	}
	if report.PermissionCount != 3 {
		t.Errorf("PermissionCount = %d", report.PermissionCount)
	}
	if !report.MetricsEnabled {
		t.Error("MetricsEnabled not set")
	}
}

func TestActiveSessions(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	first := f.login(t, "alice", "correct horse battery")
	second := f.login(t, "alice", "correct horse battery")

	sessions, err := f.engine.ActiveSessions(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ActiveSessions = %d, want 2", len(sessions))
	}

	if err := f.engine.Logout(ctx, first.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	sessions, err = f.engine.ActiveSessions(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != second.SessionID {
		t.Fatalf("ActiveSessions after logout = %+v", sessions)
	}
}

func TestMetricsSnapshotCounts(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	f.login(t, "alice", "correct horse battery")
	f.engine.Login(ctx, "alice", "wrong secret")

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[metrics.LoginSuccess] != 1 {
		t.Errorf("LoginSuccess = %d", snap.Counters[metrics.LoginSuccess])
	}
	if snap.Counters[metrics.LoginFailure] != 1 {
		t.Errorf("LoginFailure = %d", snap.Counters[metrics.LoginFailure])
	}
	if snap.Counters[metrics.SessionCreated] != 1 {
		t.Errorf("SessionCreated = %d", snap.Counters[metrics.SessionCreated])
	}
}

func TestAuditStream(t *testing.T) {
	sink := NewChannelSink(16)
	f := newTestFixtureWithSink(t, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 16
	}, sink)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	f.login(t, "alice", "correct horse battery")
	f.engine.Close()

	var sawLogin, sawSession bool
	for {
		select {
		case event := <-sink.Events():
			switch event.EventType {
			case "login_success":
				sawLogin = true
				if event.PrincipalID != "p1" || !event.Success || event.ID == "" {
					t.Fatalf("malformed event: %+v", event)
				}
			}
			if event.SessionID != "" {
				sawSession = true
			}
		default:
			if !sawLogin || !sawSession {
				t.Fatal("expected login_success event with session id")
			}
			return
		}
	}
}
