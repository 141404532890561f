package taskproc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "taskproc-test.db")
	st, err := store.Open(dsn, bus.New())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	resolver := NewAssigneeResolver(st, nil, map[string]string{"Casey": "dev"})
	return NewProcessor(st, resolver), st
}

func TestProcess_PersistsTaskAndEnqueuesSideEffects(t *testing.T) {
	p, st := newTestProcessor(t)
	out, err := p.Process(t.Context(), CandidateTask{Title: "fix the bug", AssigneeName: "Casey", CreatedBy: "boss"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Task.TaskID == "" {
		t.Fatal("expected allocated task id")
	}
	if out.AssigneeTier != TierStatic {
		t.Fatalf("assignee tier = %v, want static", out.AssigneeTier)
	}

	items, err := st.ClaimDueOutbox(t.Context(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d outbox items, want 3 (no deadline set)", len(items))
	}
}

func TestProcess_WithDeadlineEnqueuesCalendarItem(t *testing.T) {
	p, st := newTestProcessor(t)
	deadline := time.Now().Add(48 * time.Hour)
	out, err := p.Process(t.Context(), CandidateTask{Title: "ship release", AssigneeName: "Casey", Deadline: &deadline, CreatedBy: "boss"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", out.Warnings)
	}

	items, err := st.ClaimDueOutbox(t.Context(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("got %d outbox items, want 4 (deadline set)", len(items))
	}
}

func TestProcess_PastDeadlineIsWarningNotError(t *testing.T) {
	p, _ := newTestProcessor(t)
	past := time.Now().Add(-48 * time.Hour)
	out, err := p.Process(t.Context(), CandidateTask{Title: "overdue already", AssigneeName: "Casey", Deadline: &past, CreatedBy: "boss"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1 for past deadline", len(out.Warnings))
	}
}

func TestProcess_RejectsEmptyTitle(t *testing.T) {
	p, _ := newTestProcessor(t)
	_, err := p.Process(t.Context(), CandidateTask{Title: "", AssigneeName: "Casey", CreatedBy: "boss"})
	if err == nil {
		t.Fatal("expected validation error for empty title")
	}
}

func TestApproveSubmission(t *testing.T) {
	p, st := newTestProcessor(t)
	created, err := st.CreateTask(t.Context(), store.NewTask("review this"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	inReview := store.StatusInProgress
	if _, err := st.UpdateTask(t.Context(), created.TaskID, store.TaskPatch{Status: &inReview}, "boss"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	review := store.StatusInReview
	if _, err := st.UpdateTask(t.Context(), created.TaskID, store.TaskPatch{Status: &review}, "boss"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	validation := store.StatusAwaitingValidation
	if _, err := st.UpdateTask(t.Context(), created.TaskID, store.TaskPatch{Status: &validation}, "boss"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	approved, err := p.ApproveSubmission(t.Context(), created.TaskID, "boss")
	if err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}
	if approved.Status != store.StatusCompleted || approved.Progress != 100 {
		t.Fatalf("got status=%v progress=%d, want completed/100", approved.Status, approved.Progress)
	}
}

func TestRejectSubmission_RequiresReason(t *testing.T) {
	p, st := newTestProcessor(t)
	created, err := st.CreateTask(t.Context(), store.NewTask("needs work"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err = p.RejectSubmission(t.Context(), created.TaskID, "boss", "")
	if err == nil {
		t.Fatal("expected error for empty reject reason")
	}
}

func TestScoreSubmission_ThresholdBehavior(t *testing.T) {
	passing := ScoreSubmission(ReviewInput{ProofQuality: 90, NotesCompleteness: 80, CriteriaCoverage: 90, CommunicationScore: 70}, ReviewThreshold)
	if !passing.Passed {
		t.Fatalf("expected passing score, got %+v", passing)
	}
	failing := ScoreSubmission(ReviewInput{ProofQuality: 20, NotesCompleteness: 30, CriteriaCoverage: 20, CommunicationScore: 20}, ReviewThreshold)
	if failing.Passed || len(failing.Suggestions) == 0 {
		t.Fatalf("expected failing score with suggestions, got %+v", failing)
	}
}
