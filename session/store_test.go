package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, "test"), mr
}

func saveSession(t *testing.T, store *Store, id string) *Session {
	t.Helper()
	sess := sampleSession()
	sess.ID = id
	if err := store.Save(context.Background(), sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return sess
}

func TestStoreSaveGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saved := saveSession(t, store, "s1")

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "s1" || got.PrincipalID != saved.PrincipalID {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.RefreshHash != saved.RefreshHash {
		t.Fatal("refresh hash mismatch")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := sampleSession()
	sess.ID = "s1"
	sess.ExpiresAt = time.Now().Unix() - 10
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestStoreMarkRevoked(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveSession(t, store, "s1")

	if err := store.MarkRevoked(ctx, "s1"); err != nil {
		t.Fatalf("MarkRevoked failed: %v", err)
	}
	// Idempotent.
	if err := store.MarkRevoked(ctx, "s1"); err != nil {
		t.Fatalf("second MarkRevoked failed: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("session not marked revoked")
	}

	if err := store.MarkRevoked(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRotateRefreshHash(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saved := saveSession(t, store, "s1")
	next := sha256.Sum256([]byte("next-secret"))

	rotated, err := store.RotateRefreshHash(ctx, "s1", saved.RefreshHash, next)
	if err != nil {
		t.Fatalf("RotateRefreshHash failed: %v", err)
	}
	if rotated.RefreshHash != next {
		t.Fatal("hash not rotated")
	}
	if rotated.PrincipalID != saved.PrincipalID || rotated.ExpiresAt != saved.ExpiresAt {
		t.Fatal("rotation mangled the record")
	}
}

func TestStoreRotateReuseRevokes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saved := saveSession(t, store, "s1")
	next := sha256.Sum256([]byte("next-secret"))

	if _, err := store.RotateRefreshHash(ctx, "s1", saved.RefreshHash, next); err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	// Replaying the old hash is reuse; the script revokes in place.
	if _, err := store.RotateRefreshHash(ctx, "s1", saved.RefreshHash, next); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("reuse did not revoke the session")
	}

	// Any further rotation attempt sees the revoked session.
	if _, err := store.RotateRefreshHash(ctx, "s1", next, next); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestStoreRotateMissingAndExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	next := sha256.Sum256([]byte("next"))

	if _, err := store.RotateRefreshHash(ctx, "missing", next, next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sess := sampleSession()
	sess.ID = "old"
	sess.ExpiresAt = time.Now().Unix() - 10
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.RotateRefreshHash(ctx, "old", sess.RefreshHash, next); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestStoreRevokeAllForPrincipal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveSession(t, store, "s1")
	saveSession(t, store, "s2")

	n, err := store.RevokeAllForPrincipal(ctx, "principal-1")
	if err != nil {
		t.Fatalf("RevokeAllForPrincipal failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d sessions, want 2", n)
	}

	ids, err := store.ActiveSessionIDs(ctx, "principal-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("active sessions after revoke-all: %v", ids)
	}
}

func TestStoreActiveSessionIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveSession(t, store, "s1")
	saveSession(t, store, "s2")
	if err := store.MarkRevoked(ctx, "s2"); err != nil {
		t.Fatalf("MarkRevoked failed: %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "principal-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("ActiveSessionIDs = %v, want [s1]", ids)
	}

	// Sessions includes the revoked record for introspection.
	all, err := store.Sessions(ctx, "principal-1")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Sessions returned %d records, want 2", len(all))
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveSession(t, store, "s1")

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing session is not an error.
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func TestStoreRedisDown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	saveSession(t, store, "s1")
	mr.Close()

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Ping(ctx); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable from Ping, got %v", err)
	}
}
