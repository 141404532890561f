package store

import (
	"testing"
)

func TestCreateTask_AllocatesID(t *testing.T) {
	s := newTestStore(t)
	task := NewTask("Ship the release")
	created, err := s.CreateTask(t.Context(), task, "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.TaskID == "" {
		t.Fatal("expected allocated task id")
	}
	if created.Status != StatusPending {
		t.Fatalf("status = %v, want pending", created.Status)
	}
}

func TestCreateTask_SequentialIDs(t *testing.T) {
	s := newTestStore(t)
	first, err := s.CreateTask(t.Context(), NewTask("first"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	second, err := s.CreateTask(t.Context(), NewTask("second"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if first.TaskID == second.TaskID {
		t.Fatal("expected distinct task ids")
	}
}

func TestCreateTask_RejectsEmptyTitle(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask(t.Context(), NewTask(""), "boss")
	if err == nil {
		t.Fatal("expected validation error for empty title")
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	task, err := s.GetTask(t.Context(), "TASK-NOPE-000")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task != nil {
		t.Fatal("expected nil for missing task")
	}
}

func TestUpdateTask_EnforcesTransitionGraph(t *testing.T) {
	s := newTestStore(t)
	created, err := s.CreateTask(t.Context(), NewTask("enforce graph"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	completed := StatusCompleted
	_, err = s.UpdateTask(t.Context(), created.TaskID, TaskPatch{Status: &completed}, "boss")
	if err == nil {
		t.Fatal("expected error transitioning pending directly to completed")
	}
}

func TestUpdateTask_LegalTransitionSetsProgress(t *testing.T) {
	s := newTestStore(t)
	created, err := s.CreateTask(t.Context(), NewTask("finish it"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	inProgress := StatusInProgress
	updated, err := s.UpdateTask(t.Context(), created.TaskID, TaskPatch{Status: &inProgress}, "boss")
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Fatalf("status = %v, want in_progress", updated.Status)
	}

	review := StatusInReview
	if _, err := s.UpdateTask(t.Context(), created.TaskID, TaskPatch{Status: &review}, "boss"); err != nil {
		t.Fatalf("UpdateTask to in_review: %v", err)
	}
	validation := StatusAwaitingValidation
	if _, err := s.UpdateTask(t.Context(), created.TaskID, TaskPatch{Status: &validation}, "boss"); err != nil {
		t.Fatalf("UpdateTask to awaiting_validation: %v", err)
	}
	doneStatus := StatusCompleted
	final, err := s.UpdateTask(t.Context(), created.TaskID, TaskPatch{Status: &doneStatus}, "boss")
	if err != nil {
		t.Fatalf("UpdateTask to completed: %v", err)
	}
	if final.Progress != 100 {
		t.Fatalf("progress = %d, want 100 on completion", final.Progress)
	}
}

func TestListTasksByStatus(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTask(t.Context(), NewTask("pending one"), "boss"); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := s.CreateTask(t.Context(), NewTask("pending two"), "boss"); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	tasks, err := s.ListTasksByStatus(t.Context(), StatusPending, ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListTasksByStatus: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
}

func TestSearchTasks_FTS(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTask(t.Context(), NewTask("Migrate billing pipeline to new vendor"), "boss"); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := s.CreateTask(t.Context(), NewTask("Write onboarding docs"), "boss"); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	results, err := s.SearchTasks(t.Context(), "billing", 10)
	if err != nil {
		t.Fatalf("SearchTasks: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestDependencies_RejectsCycle(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateTask(t.Context(), NewTask("A"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	b, err := s.CreateTask(t.Context(), NewTask("B"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.AddDependency(t.Context(), a.TaskID, b.TaskID, "boss"); err != nil {
		t.Fatalf("AddDependency A->B: %v", err)
	}
	if err := s.AddDependency(t.Context(), b.TaskID, a.TaskID, "boss"); err == nil {
		t.Fatal("expected cycle rejection for B->A when A->B exists")
	}
}

func TestDependencies_RejectsSelf(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateTask(t.Context(), NewTask("A"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.AddDependency(t.Context(), a.TaskID, a.TaskID, "boss"); err == nil {
		t.Fatal("expected rejection of self-dependency")
	}
}

func TestSubtasks_ProgressRollup(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(t.Context(), NewTask("multi-step"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	st1, err := s.AddSubtask(t.Context(), task.TaskID, "step one")
	if err != nil {
		t.Fatalf("AddSubtask: %v", err)
	}
	if _, err := s.AddSubtask(t.Context(), task.TaskID, "step two"); err != nil {
		t.Fatalf("AddSubtask: %v", err)
	}
	progress, err := s.CompleteSubtask(t.Context(), task.TaskID, st1.Order)
	if err != nil {
		t.Fatalf("CompleteSubtask: %v", err)
	}
	if progress != 50 {
		t.Fatalf("progress = %d, want 50", progress)
	}
}
