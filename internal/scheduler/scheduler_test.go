package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "scheduler-test.db")
	st, err := store.Open(dsn, bus.New())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunJob_FailurePathEnqueuesBossNotification(t *testing.T) {
	st := newTestStore(t)
	s := New(st, slog.Default(), time.Second)

	s.runJob(context.Background(), Job{
		Name:     "failing_job",
		CronExpr: "* * * * *",
		Run:      func(ctx context.Context) error { return errors.New("boom") },
	})

	items, err := st.ClaimDueOutbox(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d outbox items, want 1 failure notification", len(items))
	}
	if items[0].TargetAdapter != "telegram" {
		t.Fatalf("target adapter = %s, want telegram", items[0].TargetAdapter)
	}
}

func TestRunJob_LogOnlyJobDoesNotNotify(t *testing.T) {
	st := newTestStore(t)
	s := New(st, slog.Default(), time.Second)

	s.runJob(context.Background(), Job{
		Name:     "drain",
		CronExpr: "* * * * *",
		LogOnly:  true,
		Run:      func(ctx context.Context) error { return errors.New("transient drain error") },
	})

	items, err := st.ClaimDueOutbox(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d outbox items, want 0 for a log-only job failure", len(items))
	}
}

func TestRunJob_SuccessDoesNotNotify(t *testing.T) {
	st := newTestStore(t)
	s := New(st, slog.Default(), time.Second)

	s.runJob(context.Background(), Job{
		Name:     "ok_job",
		CronExpr: "* * * * *",
		Run:      func(ctx context.Context) error { return nil },
	})

	items, err := st.ClaimDueOutbox(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d outbox items, want 0 on success", len(items))
	}
}

func TestDeadlineReminderJob_DedupsAcrossTicks(t *testing.T) {
	st := newTestStore(t)
	created, err := st.CreateTask(context.Background(), store.NewTask("ship the thing"), "boss")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	soon := time.Now().UTC().Add(20 * time.Minute)
	soonPtr := &soon
	patch := store.TaskPatch{Deadline: &soonPtr}
	if _, err := st.UpdateTask(context.Background(), created.TaskID, patch, "boss"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	job := deadlineReminderJob(st)
	if err := job(context.Background()); err != nil {
		t.Fatalf("deadline reminder job (first run): %v", err)
	}
	if err := job(context.Background()); err != nil {
		t.Fatalf("deadline reminder job (second run): %v", err)
	}

	items, err := st.ClaimDueOutbox(context.Background(), time.Now().UTC(), 50)
	if err != nil {
		t.Fatalf("ClaimDueOutbox: %v", err)
	}
	// Due within 2h, 1h, and 30m windows: one reminder per bucket, never
	// duplicated across the two job runs.
	if len(items) != 3 {
		t.Fatalf("got %d reminder items across two ticks, want 3 (one per bucket, deduped)", len(items))
	}
}

func TestRecurringExpansionJob_CreatesTaskAndAdvancesSchedule(t *testing.T) {
	st := newTestStore(t)
	template, err := json.Marshal(store.NewTask("standing sync notes"))
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	id, err := st.CreateRecurringTask(context.Background(), "*/5 * * * *", template, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("CreateRecurringTask: %v", err)
	}

	job := recurringExpansionJob(st)
	if err := job(context.Background()); err != nil {
		t.Fatalf("recurring expansion job: %v", err)
	}

	created, err := st.ListTasksByStatus(context.Background(), store.StatusPending, store.ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListTasksByStatus: %v", err)
	}
	if len(created) != 1 || created[0].Title != "standing sync notes" {
		t.Fatalf("expected one expanded task with template title, got %+v", created)
	}

	due, err := st.ListDueRecurringTasks(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ListDueRecurringTasks: %v", err)
	}
	for _, rt := range due {
		if rt.ID == id {
			t.Fatalf("recurring task %d still due immediately after expansion", id)
		}
	}
}
