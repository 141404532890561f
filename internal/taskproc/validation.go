package taskproc

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/boss/internal/store"
)

// ApproveSubmission implements the approve branch of the approve/reject
// path (spec.md §4.8): awaiting_validation -> completed, with an audit
// event.
func (p *Processor) ApproveSubmission(ctx context.Context, taskID, actor string) (*store.Task, error) {
	completed := store.StatusCompleted
	return p.store.UpdateTask(ctx, taskID, store.TaskPatch{Status: &completed}, actor)
}

// RejectSubmission implements the reject branch: awaiting_validation ->
// needs_revision, with the reason recorded in the audit trail and
// surfaced back to the submitter. A reject with no reason is itself
// invalid input (spec.md §4.8: "Reject with no reason is rejected as
// incomplete").
func (p *Processor) RejectSubmission(ctx context.Context, taskID, actor, reason string) (*store.Task, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("taskproc: reject requires a non-empty reason")
	}
	revision := store.StatusNeedsRevision
	updated, err := p.store.UpdateTask(ctx, taskID, store.TaskPatch{Status: &revision}, actor)
	if err != nil {
		return nil, err
	}
	if err := p.store.RecordAudit(ctx, "task", taskID, actor, "rejected", nil, []byte(`{"reason":"`+jsonEscape(reason)+`"}`)); err != nil {
		return nil, err
	}
	return updated, nil
}

func jsonEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(s)
}
