// Package taskproc assembles, validates, persists, and enqueues the side
// effects for a task built from a classified intent and conversation
// scratch (spec.md §4.8). Processor.Process runs the five named steps in
// sequence, matching the teacher's habit of small single-purpose methods
// invoked from one orchestrating entry point (persistence/tasks.go's
// HandleTaskFailure / retryDelay split).
package taskproc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/boss/internal/adapters/calendar"
	"github.com/basket/boss/internal/adapters/sheet"
	"github.com/basket/boss/internal/store"
)

// CandidateTask is the material L7 hands to L8 to turn into a persisted
// Task — extracted fields plus whatever session scratch and role defaults
// filled in.
type CandidateTask struct {
	Title              string
	Description        string
	AssigneeName       string
	Priority           store.Priority
	Deadline           *time.Time
	Tags               []string
	AcceptanceCriteria []string
	EstimatedMinutes   *int
	CreatedBy          string
}

// Outcome is the result of a successful Process call.
type Outcome struct {
	Task         *store.Task
	AssigneeTier AssigneeTier
	Warnings     []string
}

type Processor struct {
	store    *store.Store
	resolver *AssigneeResolver
}

func NewProcessor(st *store.Store, resolver *AssigneeResolver) *Processor {
	return &Processor{store: st, resolver: resolver}
}

// Process runs Assemble -> Resolve -> Validate -> Persist -> Enqueue and
// returns the persisted task.
func (p *Processor) Process(ctx context.Context, candidate CandidateTask) (Outcome, error) {
	task := p.assemble(candidate)

	resolved, err := p.resolver.Resolve(ctx, candidate.AssigneeName)
	if err != nil {
		return Outcome{}, fmt.Errorf("taskproc: resolve assignee: %w", err)
	}
	task.AssigneeName = resolved.Name

	var warnings []string
	if task.Deadline != nil && task.Deadline.Before(time.Now().UTC()) {
		warnings = append(warnings, "deadline is in the past")
	}

	if v := task.Validate(); v != nil {
		return Outcome{}, v
	}

	persisted, err := p.store.CreateTaskWithOutbox(ctx, task, candidate.CreatedBy, func(t *store.Task) ([]store.PendingOutbox, error) {
		return sideEffectItems(t, resolved)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("taskproc: persist task and side effects: %w", err)
	}

	return Outcome{Task: persisted, AssigneeTier: resolved.Tier, Warnings: warnings}, nil
}

func (p *Processor) assemble(c CandidateTask) *store.Task {
	t := store.NewTask(c.Title)
	t.Description = c.Description
	t.CreatedBy = c.CreatedBy
	if c.Priority != "" {
		t.Priority = c.Priority
	}
	t.Deadline = c.Deadline
	t.Tags = c.Tags
	t.AcceptanceCriteria = c.AcceptanceCriteria
	t.EstimatedMinutes = c.EstimatedMinutes
	return t
}

// sideEffectItems builds the outbox rows named in spec.md §4.8 step 5:
// tabular-store upsert, routing-channel post, calendar entry (only if a
// deadline is set), and a user acknowledgment. Idempotency keys are
// derived from the task id so retries never duplicate a side effect. These
// are returned rather than enqueued directly so CreateTaskWithOutbox can
// insert them in the same transaction as the task row itself.
func sideEffectItems(t *store.Task, resolved ResolvedAssignee) ([]store.PendingOutbox, error) {
	var items []store.PendingOutbox

	upsertPayload, err := json.Marshal(sheet.UpsertRowOperation{
		TaskID: t.TaskID,
		Fields: map[string]string{
			"title":    t.Title,
			"assignee": t.AssigneeName,
			"status":   string(t.Status),
			"priority": string(t.Priority),
		},
	})
	if err != nil {
		return nil, err
	}
	items = append(items, store.PendingOutbox{TargetAdapter: "sheet", Payload: upsertPayload, IdempotencyKey: "sheet-upsert:" + t.TaskID, MaxAttempts: 8})

	routingPayload, err := json.Marshal(map[string]string{
		"task_id":  t.TaskID,
		"channel":  routingChannelForRole(resolved.Role),
		"title":    t.Title,
		"assignee": t.AssigneeName,
	})
	if err != nil {
		return nil, err
	}
	items = append(items, store.PendingOutbox{TargetAdapter: "telegram", Payload: routingPayload, IdempotencyKey: "routing-post:" + t.TaskID, MaxAttempts: 8})

	if t.Deadline != nil {
		eventPayload, err := json.Marshal(calendar.CreateEventOperation{
			TaskID:   t.TaskID,
			Title:    t.Title,
			StartsAt: *t.Deadline,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, store.PendingOutbox{TargetAdapter: "calendar", Payload: eventPayload, IdempotencyKey: "calendar-create:" + t.TaskID, MaxAttempts: 5})
	}

	ackPayload, err := json.Marshal(map[string]string{
		"task_id": t.TaskID,
		"message": fmt.Sprintf("Created %s: %s", t.TaskID, t.Title),
	})
	if err != nil {
		return nil, err
	}
	items = append(items, store.PendingOutbox{TargetAdapter: "telegram", Payload: ackPayload, IdempotencyKey: "user-ack:" + t.TaskID, MaxAttempts: 8})

	return items, nil
}

func routingChannelForRole(role string) string {
	switch role {
	case "Developer", "dev":
		return "eng-tasks"
	case "Design", "design":
		return "design-tasks"
	case "Marketing", "marketing":
		return "marketing-tasks"
	default:
		return "general-tasks"
	}
}
