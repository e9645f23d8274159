package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", ttl)

	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestRedisStore_SetGet(t *testing.T) {
	_, store := setupRedisStore(t, 0)
	ctx := context.Background()

	if err := store.Set(ctx, "alice", "sess-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || got != "sess-1" {
		t.Errorf("Get = (%q, %v), want (sess-1, true)", got, ok)
	}
}

func TestRedisStore_GetOrSet(t *testing.T) {
	_, store := setupRedisStore(t, 0)
	ctx := context.Background()

	got, existed, err := store.GetOrSet(ctx, "alice", "first")
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if existed || got != "first" {
		t.Errorf("GetOrSet = (%q, %v), want (first, false)", got, existed)
	}

	got, existed, err = store.GetOrSet(ctx, "alice", "second")
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if !existed || got != "first" {
		t.Errorf("GetOrSet = (%q, %v), want (first, true)", got, existed)
	}
}

func TestRedisStore_ReverseIndex(t *testing.T) {
	_, store := setupRedisStore(t, 0)
	ctx := context.Background()

	if _, _, err := store.GetOrSet(ctx, "alice", "sess-1"); err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}

	ok, err := store.HasSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("HasSession failed: %v", err)
	}
	if !ok {
		t.Error("expected sess-1 tracked via reverse index")
	}

	// Overwrite drops the stale reverse key.
	if err := store.Set(ctx, "alice", "sess-2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ok, _ := store.HasSession(ctx, "sess-1"); ok {
		t.Error("stale reverse key survived overwrite")
	}
	if ok, _ := store.HasSession(ctx, "sess-2"); !ok {
		t.Error("new reverse key missing")
	}
}

func TestRedisStore_Delete(t *testing.T) {
	_, store := setupRedisStore(t, 0)
	ctx := context.Background()

	_ = store.Set(ctx, "alice", "sess-1")

	removed, found, err := store.Delete(ctx, "alice")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !found || removed != "sess-1" {
		t.Errorf("Delete = (%q, %v), want (sess-1, true)", removed, found)
	}
	if ok, _ := store.HasSession(ctx, "sess-1"); ok {
		t.Error("reverse key survived delete")
	}

	_, found, err = store.Delete(ctx, "alice")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if found {
		t.Error("second Delete should report missing")
	}
}

func TestRedisStore_Snapshot(t *testing.T) {
	_, store := setupRedisStore(t, 0)
	ctx := context.Background()

	_ = store.Set(ctx, "alice", "sess-1")
	_ = store.Set(ctx, "bob", "sess-2")

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap) != 2 || snap["alice"] != "sess-1" || snap["bob"] != "sess-2" {
		t.Errorf("unexpected snapshot: %v", snap)
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, store := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	_ = store.Set(ctx, "alice", "sess-1")
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := store.Get(ctx, "alice"); ok {
		t.Error("entry should have expired")
	}

	// GetOrSet reclaims the expired key.
	got, existed, err := store.GetOrSet(ctx, "alice", "fresh")
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if existed || got != "fresh" {
		t.Errorf("GetOrSet after expiry = (%q, %v), want (fresh, false)", got, existed)
	}
}

func TestRedisStore_Closed(t *testing.T) {
	_, store := setupRedisStore(t, 0)
	_ = store.Close()

	if err := store.Set(context.Background(), "a", "b"); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
