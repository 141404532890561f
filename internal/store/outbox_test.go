package store

import (
	"testing"
	"time"
)

func TestEnqueueOutbox_DuplicateIdempotencyKeyRejected(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnqueueOutbox(t.Context(), "telegram", []byte("hi"), "idem-1", 5); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	_, err := s.EnqueueOutbox(t.Context(), "telegram", []byte("hi again"), "idem-1", 5)
	if err == nil {
		t.Fatal("expected duplicate idempotency key rejection")
	}
}

func TestClaimDueOutbox_OnlyReturnsDue(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnqueueOutbox(t.Context(), "telegram", []byte("now"), "idem-a", 5); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	items, err := s.ClaimDueOutbox(t.Context(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d due items, want 1", len(items))
	}
}

func TestMarkOutboxFailed_DeadLettersAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	item, err := s.EnqueueOutbox(t.Context(), "telegram", []byte("payload"), "idem-b", 2)
	if err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	now := time.Now().UTC()
	attempts, dead, err := s.MarkOutboxFailed(t.Context(), item.ID, now)
	if err != nil {
		t.Fatalf("MarkOutboxFailed: %v", err)
	}
	if attempts != 1 || dead {
		t.Fatalf("attempts=%d dead=%v after 1st failure, want 1/false", attempts, dead)
	}
	attempts, dead, err = s.MarkOutboxFailed(t.Context(), item.ID, now)
	if err != nil {
		t.Fatalf("MarkOutboxFailed: %v", err)
	}
	if attempts != 2 || !dead {
		t.Fatalf("attempts=%d dead=%v after 2nd failure, want 2/true", attempts, dead)
	}

	deadItems, err := s.ListDeadLettered(t.Context())
	if err != nil {
		t.Fatalf("ListDeadLettered: %v", err)
	}
	if len(deadItems) != 1 {
		t.Fatalf("got %d dead-lettered items, want 1", len(deadItems))
	}
}

func TestMarkOutboxDelivered_RemovesItem(t *testing.T) {
	s := newTestStore(t)
	item, err := s.EnqueueOutbox(t.Context(), "telegram", []byte("payload"), "idem-c", 5)
	if err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	if err := s.MarkOutboxDelivered(t.Context(), item.ID); err != nil {
		t.Fatalf("MarkOutboxDelivered: %v", err)
	}
	items, err := s.ClaimDueOutbox(t.Context(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items, want 0 after delivery", len(items))
	}
}

func TestOutboxBackoff_CapsAtFifteenMinutes(t *testing.T) {
	d := outboxBackoff(10)
	if d != 15*time.Minute {
		t.Fatalf("backoff at attempt 10 = %v, want capped 15m", d)
	}
}
