package sentra

import (
	"context"
	"errors"
	"testing"
)

func TestRefreshRotates(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery", "viewer")
	ctx := context.Background()

	login := f.login(t, "alice", "correct horse battery")

	pair, err := f.engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.SessionID != login.SessionID {
		t.Fatal("refresh changed the session id")
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	claims, err := f.engine.VerifyAccessToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if claims.PrincipalID != "p1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// The chain continues from the newest token.
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	login := f.login(t, "alice", "correct horse battery")

	fresh, err := f.engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Replaying the superseded token is theft evidence.
	if _, err := f.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got %v", err)
	}

	// The whole session is dead, including the current token.
	if _, err := f.engine.Refresh(ctx, fresh.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	f := newTestFixture(t, nil)

	if _, err := f.engine.Refresh(context.Background(), "not-a-refresh-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshUnknownSession(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	login := f.login(t, "alice", "correct horse battery")
	f.redis.FlushAll()

	if _, err := f.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestLogoutStopsRefresh(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	login := f.login(t, "alice", "correct horse battery")

	if err := f.engine.Logout(ctx, login.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	// Idempotent.
	if err := f.engine.Logout(ctx, login.SessionID); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}

	if _, err := f.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestLogoutUnknownSession(t *testing.T) {
	f := newTestFixture(t, nil)

	if err := f.engine.Logout(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLogoutByAccessToken(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	login := f.login(t, "alice", "correct horse battery")

	if err := f.engine.LogoutByAccessToken(ctx, login.AccessToken); err != nil {
		t.Fatalf("LogoutByAccessToken failed: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}

	if err := f.engine.LogoutByAccessToken(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	f := newTestFixture(t, nil)
	f.addPrincipal(t, "p1", "alice", "correct horse battery")
	ctx := context.Background()

	first := f.login(t, "alice", "correct horse battery")
	second := f.login(t, "alice", "correct horse battery")
	if first.SessionID == second.SessionID {
		t.Fatal("logins shared a session")
	}

	n, err := f.engine.LogoutAll(ctx, "p1")
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("LogoutAll revoked %d sessions, want 2", n)
	}

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := f.engine.Refresh(ctx, token); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
	}
}
