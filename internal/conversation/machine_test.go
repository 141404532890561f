package conversation

import (
	"path/filepath"
	"testing"

	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/classifier"
	"github.com/basket/boss/internal/store"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "conv-test.db")
	st, err := store.Open(dsn, bus.New())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestMachine_SimpleTaskGoesStraightToPreview(t *testing.T) {
	m := newTestMachine(t)
	ctx := t.Context()

	out, err := m.Advance(ctx, "user-1", "John fix the login bug", classifier.IntentResult{Intent: classifier.IntentCreateTask, Confidence: 0.92})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if out.Stage != StageCreating {
		t.Fatalf("stage = %v, want creating after first message", out.Stage)
	}

	out, err = m.Advance(ctx, "user-1", "John fix the login bug", classifier.IntentResult{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if out.Stage != StagePreview {
		t.Fatalf("stage = %v, want preview", out.Stage)
	}
}

func TestMachine_AffirmationFinalizes(t *testing.T) {
	m := newTestMachine(t)
	ctx := t.Context()

	if _, err := m.Advance(ctx, "user-2", "fix the login bug", classifier.IntentResult{Intent: classifier.IntentCreateTask, Confidence: 0.9}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, err := m.Advance(ctx, "user-2", "fix the login bug", classifier.IntentResult{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	out, err := m.Advance(ctx, "user-2", "yes", classifier.IntentResult{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !out.Finalize || out.Stage != StageIdle {
		t.Fatalf("got %+v, want finalized and idle", out)
	}
}

func TestMachine_CancelAnyState(t *testing.T) {
	m := newTestMachine(t)
	ctx := t.Context()

	if _, err := m.Advance(ctx, "user-3", "fix the login bug", classifier.IntentResult{Intent: classifier.IntentCreateTask, Confidence: 0.9}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	out, err := m.Advance(ctx, "user-3", "cancel", classifier.IntentResult{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if out.Stage != StageIdle {
		t.Fatalf("stage = %v, want idle after cancel", out.Stage)
	}
}

func TestMachine_DangerousIntentRequiresExplicitConfirm(t *testing.T) {
	m := newTestMachine(t)
	ctx := t.Context()

	if _, err := m.Advance(ctx, "user-4", "clear all my tasks", classifier.IntentResult{Intent: classifier.IntentClearTasks, Confidence: 0.9}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, err := m.Advance(ctx, "user-4", "clear all my tasks", classifier.IntentResult{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	out, err := m.Advance(ctx, "user-4", "yes", classifier.IntentResult{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if out.Stage != StageAwaitingConfirm || out.Finalize {
		t.Fatalf("got %+v, want awaiting_confirm without finalize", out)
	}
}
