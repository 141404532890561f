package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	s := Open(context.Background(), "redis://"+mr.Addr())
	if !s.Durable() {
		t.Fatal("expected durable store backed by miniredis")
	}
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, NSValidation, "u1", "draft", []byte(`{"title":"ship it"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, NSValidation, "u1", "draft")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"title":"ship it"}` {
		t.Errorf("got %q", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), NSAction, "u1", "nope")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, NSBatch, "u1", "k", []byte("v"))
	if err := s.Delete(ctx, NSBatch, "u1", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, NSBatch, "u1", "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_NamespaceIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, NSValidation, "u1", "k", []byte("validation"))
	_ = s.Set(ctx, NSReview, "u1", "k", []byte("review"))
	a, _ := s.Get(ctx, NSValidation, "u1", "k")
	b, _ := s.Get(ctx, NSReview, "u1", "k")
	if string(a) == string(b) {
		t.Fatal("expected namespace isolation to keep values distinct")
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetTTL(ctx, NSAction, "u1", "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := s.Get(ctx, NSAction, "u1", "k"); err != ErrNotFound {
		t.Fatalf("expected expiry, got err=%v", err)
	}
}

func TestFallbackStore_SetGetDelete(t *testing.T) {
	s := Open(context.Background(), "")
	if s.Durable() {
		t.Fatal("expected non-durable fallback store with empty cache URL")
	}
	ctx := context.Background()
	if err := s.Set(ctx, NSSpec, "u2", "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, NSSpec, "u2", "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get: got %q, err %v", got, err)
	}
	if err := s.Delete(ctx, NSSpec, "u2", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, NSSpec, "u2", "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFallbackStore_TTLExpiry(t *testing.T) {
	s := Open(context.Background(), "")
	ctx := context.Background()
	if err := s.SetTTL(ctx, NSRecent, "u2", "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := s.Get(ctx, NSRecent, "u2", "k"); err != ErrNotFound {
		t.Fatalf("expected expiry, got err=%v", err)
	}
}

func TestOpen_UnreachableRedisFallsBack(t *testing.T) {
	s := Open(context.Background(), "redis://127.0.0.1:1")
	if s.Durable() {
		t.Fatal("expected fallback store when redis is unreachable")
	}
}
