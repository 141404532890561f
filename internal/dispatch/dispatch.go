// Package dispatch implements the single entry point a decoded transport
// update passes through (spec.md §4.11): exactly one of five branches
// fires, in priority order, and the branch chosen is logged for
// traceability.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/basket/boss/internal/classifier"
	"github.com/basket/boss/internal/conversation"
	"github.com/basket/boss/internal/session"
	"github.com/basket/boss/internal/store"
	"github.com/basket/boss/internal/taskproc"
)

// Branch names which of the five dispatch paths fired.
type Branch string

const (
	BranchSlashCommand   Branch = "slash_command"
	BranchApproval       Branch = "approval"
	BranchActiveDialog   Branch = "active_dialog"
	BranchNewClassified  Branch = "new_classified"
)

// Inbound is the decoded update handed to Dispatch, already stripped of
// transport-specific envelope fields by the webhook layer.
type Inbound struct {
	UserID string
	Text   string

	// TransportUpdateID is the transport's own delivery id, used by the
	// webhook layer's dedup check (spec.md §4.10 step 2). Empty for
	// transports that don't have one.
	TransportUpdateID string
}

// Result carries the branch taken and the reply to send back, so the
// caller can log the branch and deliver the reply through the transport
// adapter.
type Result struct {
	Branch Branch
	Reply  string
}

// CommandHandler executes a recognized slash command and returns the
// reply text.
type CommandHandler func(ctx context.Context, userID, command, rest string) (string, error)

// Dispatcher wires together the pieces Dispatch needs: conversation
// state, the intent classifier, the pending-approval session store, and
// the slash-command table.
type Dispatcher struct {
	store      *store.Store
	machine    *conversation.Machine
	classifier *classifier.Classifier
	sessions   *session.Store
	processor  *taskproc.Processor
	commands   map[string]CommandHandler
}

func New(st *store.Store, machine *conversation.Machine, cl *classifier.Classifier, sessions *session.Store, commands map[string]CommandHandler) *Dispatcher {
	return &Dispatcher{store: st, machine: machine, classifier: cl, sessions: sessions, commands: commands}
}

// WithProcessor attaches the L8 task processor that turns a finalized
// conversation (conversation.Outcome.Finalize) into a persisted task.
// Dispatchers built without one (e.g. in tests that only exercise
// branch selection) simply skip finalization.
func (d *Dispatcher) WithProcessor(p *taskproc.Processor) *Dispatcher {
	d.processor = p
	return d
}

// Dispatch implements spec.md §4.11's priority order:
//  1. slash command
//  2. pending dangerous-action approval + yes/no token
//  3. open conversation
//  4. classify + start a new conversation
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) (Result, error) {
	text := strings.TrimSpace(in.Text)

	if strings.HasPrefix(text, "/") {
		reply, err := d.dispatchSlashCommand(ctx, in.UserID, text)
		return Result{Branch: BranchSlashCommand, Reply: reply}, err
	}

	if isConfirmationToken(text) {
		if pending, ok, err := d.pendingApproval(ctx, in.UserID); err != nil {
			return Result{}, err
		} else if ok {
			reply, err := d.resolveApproval(ctx, in.UserID, pending, text)
			return Result{Branch: BranchApproval, Reply: reply}, err
		}
	}

	conv, err := d.store.OpenConversation(ctx, in.UserID)
	if err != nil {
		return Result{}, err
	}
	branch := BranchNewClassified
	if conv != nil {
		branch = BranchActiveDialog
	}

	reply, err := d.classifyAndAdvance(ctx, in.UserID, text)
	return Result{Branch: branch, Reply: reply}, err
}

func (d *Dispatcher) dispatchSlashCommand(ctx context.Context, userID, text string) (string, error) {
	if conv, err := d.store.OpenConversation(ctx, userID); err == nil && conv != nil {
		_ = d.store.CloseConversation(ctx, conv.ConversationID)
	}
	fields := strings.SplitN(text[1:], " ", 2)
	cmd := strings.ToLower(fields[0])
	rest := ""
	if len(fields) == 2 {
		rest = fields[1]
	}
	handler, ok := d.commands[cmd]
	if !ok {
		return "Unrecognized command: /" + cmd, nil
	}
	return handler(ctx, userID, cmd, rest)
}

func (d *Dispatcher) pendingApproval(ctx context.Context, userID string) (string, bool, error) {
	payload, err := d.sessions.Get(ctx, session.NSAction, userID, "pending")
	if errors.Is(err, session.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(payload), true, nil
}

func (d *Dispatcher) resolveApproval(ctx context.Context, userID, pendingAction, text string) (string, error) {
	if err := d.sessions.Delete(ctx, session.NSAction, userID, "pending"); err != nil {
		return "", err
	}
	if isAffirmative(text) {
		return "Confirmed: " + pendingAction, nil
	}
	return "Cancelled.", nil
}

func (d *Dispatcher) classifyAndAdvance(ctx context.Context, userID, text string) (string, error) {
	intentResult, err := d.classifier.Classify(ctx, text, classifier.ContextSnapshot{})
	if err != nil {
		return "", err
	}
	outcome, err := d.machine.Advance(ctx, userID, text, intentResult)
	if err != nil {
		return "", err
	}
	if outcome.Finalize && d.processor != nil {
		if _, err := d.processor.Process(ctx, candidateFromScratch(outcome.Scratch, userID)); err != nil {
			return "", err
		}
	}
	return outcome.Reply, nil
}

// candidateFromScratch maps the conversation's accumulated extracted
// fields onto the shape taskproc.Processor.Process expects. Unparseable
// priority/deadline values are left at their zero value rather than
// failing finalize outright; taskproc validation catches anything that
// still doesn't add up to a persistable task.
//
// A batch conversation finalizes one fragment per call to Process, never
// the whole original message: scratch.CurrentFragmentTitle names the
// fragment the machine just confirmed, and takes priority over
// fields["title"] (which holds the single-task extraction, unset in batch
// mode).
func candidateFromScratch(scratch conversation.Scratch, userID string) taskproc.CandidateTask {
	fields := scratch.ExtractedFields
	title := fields["title"]
	if scratch.CurrentFragmentTitle != "" {
		title = scratch.CurrentFragmentTitle
	}
	candidate := taskproc.CandidateTask{
		Title:        title,
		Description:  fields["description"],
		AssigneeName: fields["assignee"],
		CreatedBy:    userID,
	}
	if candidate.AssigneeName == "" {
		candidate.AssigneeName = scratch.SharedAssignee
	}
	if p := store.Priority(strings.ToLower(strings.TrimSpace(fields["priority"]))); p != "" {
		candidate.Priority = p
	}
	if raw := strings.TrimSpace(fields["deadline"]); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			candidate.Deadline = &t
		}
	}
	if raw := strings.TrimSpace(fields["tags"]); raw != "" {
		candidate.Tags = splitTrimmed(raw, ",")
	}
	if raw := strings.TrimSpace(fields["acceptance_criteria"]); raw != "" {
		candidate.AcceptanceCriteria = splitTrimmed(raw, ";")
	}
	if raw := strings.TrimSpace(fields["estimated_minutes"]); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			candidate.EstimatedMinutes = &n
		}
	}
	return candidate
}

func splitTrimmed(raw, sep string) []string {
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isConfirmationToken(text string) bool {
	return isAffirmative(text) || isNegative(text)
}

func isAffirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "confirm", "confirmed", "ok", "okay", "sure":
		return true
	}
	return false
}

func isNegative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "no", "n", "cancel", "stop", "nevermind", "never mind":
		return true
	}
	return false
}
