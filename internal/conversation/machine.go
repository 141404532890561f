// Package conversation implements the per-user dialog state machine
// (spec.md §4.7): preview/confirm flow, deterministic batch splitting,
// complexity-driven clarification depth, and the self-answering loop.
// Every state transition is serialized per user by a keyedMutex so two
// messages arriving for the same user never interleave.
package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/basket/boss/internal/classifier"
	"github.com/basket/boss/internal/store"
)

// Stage is the closed state set from spec.md §4.7.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageCreating          Stage = "creating"
	StageClarifying        Stage = "clarifying"
	StagePreview           Stage = "preview"
	StageAwaitingConfirm   Stage = "awaiting_confirm"
	StageBatchProcessing   Stage = "batch_processing"
	StageSpecDetail        Stage = "spec_detail"
	StageSubmittingProof   Stage = "submitting_proof"
	StageAddingNotes       Stage = "adding_notes"
	StageAwaitingValidation Stage = "awaiting_validation"
	StageModifying         Stage = "modifying"
	StageClosed            Stage = "closed"
)

// InactivityTimeout is the idle duration after which a conversation is
// force-closed (spec.md §4.7).
const InactivityTimeout = 2 * time.Hour

// Scratch is the conversation's working memory, persisted as
// Conversation.Scratch (json.RawMessage) between turns.
type Scratch struct {
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	PendingField    string            `json:"pending_field,omitempty"`
	PendingQuestions []string         `json:"pending_questions,omitempty"`
	ComplexityScore int               `json:"complexity_score,omitempty"`
	OriginalMessage string            `json:"original_message,omitempty"`
	BatchFragments  []string          `json:"batch_fragments,omitempty"`
	BatchIndex      int               `json:"batch_index,omitempty"`
	CurrentFragmentTitle string      `json:"current_fragment_title,omitempty"`
	SharedAssignee  string            `json:"shared_assignee,omitempty"`
	LastIntent      classifier.Intent `json:"last_intent,omitempty"`
	CorrectionNote  string            `json:"correction_note,omitempty"`
}

func loadScratch(raw json.RawMessage) Scratch {
	var s Scratch
	if len(raw) == 0 {
		return s
	}
	_ = json.Unmarshal(raw, &s)
	return s
}

func (s Scratch) marshal() json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// dangerousIntents require an explicit awaiting_confirm step before
// finalizing even after a "yes" at preview, per spec.md §4.7.
var dangerousIntents = map[classifier.Intent]bool{
	classifier.IntentCancelTask:   true,
	classifier.IntentClearTasks:   true,
	classifier.IntentArchiveTasks: true,
	classifier.IntentRejectTask:   true,
}

// Outcome is what the machine decided to do with one inbound message.
type Outcome struct {
	Stage       Stage
	Reply       string
	Finalize    bool // true: L8 task processor should now persist the candidate
	NeedsBatch  bool // true: more fragments remain in BatchFragments
	Scratch     Scratch
}

// Machine drives one conversation forward one message at a time. It holds
// no per-user state itself — state lives in store.Conversation — so a
// single Machine instance is safe to share across all users.
type Machine struct {
	store *store.Store
	locks *keyedMutex
}

func New(st *store.Store) *Machine {
	return &Machine{store: st, locks: newKeyedMutex()}
}

// Advance processes one inbound message for userID, serialized against any
// concurrent message from the same user.
func (m *Machine) Advance(ctx context.Context, userID, message string, intentResult classifier.IntentResult) (Outcome, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	conv, err := m.store.OpenConversation(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}

	if isCancel(message) {
		return m.toIdle(ctx, userID, conv)
	}
	if isSlashPreempt(message) {
		return m.startCreating(ctx, userID, message, intentResult)
	}

	if conv == nil {
		if intentResult.Intent == classifier.IntentCreateTask {
			return m.startCreating(ctx, userID, message, intentResult)
		}
		return Outcome{Stage: StageIdle, Reply: defaultReplyFor(intentResult.Intent)}, nil
	}

	scratch := loadScratch(conv.Scratch)
	switch Stage(conv.Stage) {
	case StageCreating, StageClarifying:
		return m.advanceCreating(ctx, conv, scratch, message)
	case StagePreview:
		return m.advancePreview(ctx, conv, scratch, message)
	case StageAwaitingConfirm:
		return m.advanceAwaitingConfirm(ctx, conv, scratch, message)
	case StageBatchProcessing:
		return m.advanceBatch(ctx, conv, scratch, message)
	default:
		return m.advanceGeneric(ctx, conv, scratch, message)
	}
}

func (m *Machine) toIdle(ctx context.Context, userID string, conv *store.Conversation) (Outcome, error) {
	if conv != nil {
		if err := m.store.CloseConversation(ctx, conv.ConversationID); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Stage: StageIdle, Reply: "Cancelled."}, nil
}

// startCreating opens the conversation and runs batch splitting and
// complexity scoring against the message that triggered it (spec.md
// §4.7): a multi-fragment message goes straight to batch processing; a
// single-fragment one is scored and routed to clarifying or preview by
// enterClarificationOrPreview.
func (m *Machine) startCreating(ctx context.Context, userID, message string, intentResult classifier.IntentResult) (Outcome, error) {
	conv, err := m.store.StartConversation(ctx, userID, string(StageCreating))
	if err != nil {
		return Outcome{}, err
	}
	scratch := Scratch{ExtractedFields: intentResult.ExtractedFields, LastIntent: intentResult.Intent, OriginalMessage: message}
	if scratch.ExtractedFields == nil {
		scratch.ExtractedFields = map[string]string{}
	}

	fragments, assignee := BatchSplit(message)
	if len(fragments) > 1 {
		scratch.BatchFragments = fragments
		scratch.BatchIndex = 0
		scratch.SharedAssignee = assignee
		if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StageBatchProcessing), scratch.marshal()); err != nil {
			return Outcome{}, err
		}
		reply := "I'll process these one at a time. First: " + fragments[0] + ". Reply yes to add it, or skip to move on."
		return Outcome{Stage: StageBatchProcessing, Reply: reply, NeedsBatch: true, Scratch: scratch}, nil
	}

	scratch.ComplexityScore = ScoreComplexity(message)
	return m.enterClarificationOrPreview(ctx, conv, scratch)
}

// enterClarificationOrPreview resolves whatever fields it can without
// asking (SelfAnswer, spec.md §4.7's self-answering loop) and surfaces a
// question for the first field it can't, depth-limited by
// DepthForScore(scratch.ComplexityScore). With nothing left to ask it
// goes straight to preview.
func (m *Machine) enterClarificationOrPreview(ctx context.Context, conv *store.Conversation, scratch Scratch) (Outcome, error) {
	depth := DepthForScore(scratch.ComplexityScore)
	pending := resolveSelfAnswerable(fieldsToClarify(depth), &scratch)

	if len(pending) == 0 {
		if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StagePreview), scratch.marshal()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StagePreview, Reply: "Here's what I've got — confirm?", Scratch: scratch}, nil
	}

	scratch.PendingField = pending[0]
	scratch.PendingQuestions = pending[1:]
	if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StageClarifying), scratch.marshal()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Stage: StageClarifying, Reply: promptFor(scratch.PendingField), Scratch: scratch}, nil
}

// resolveSelfAnswerable tries SelfAnswer for each candidate field,
// writing resolved values straight into scratch.ExtractedFields, and
// returns the ones that still need to be asked.
func resolveSelfAnswerable(fields []string, scratch *Scratch) []string {
	var remaining []string
	for _, f := range fields {
		if v, ok := scratch.ExtractedFields[f]; ok && v != "" {
			continue
		}
		if v, ok := SelfAnswer(Question{Field: f}, scratch.ExtractedFields, scratch.ExtractedFields["assignee"], scratch.OriginalMessage, nil); ok {
			scratch.ExtractedFields[f] = v
			continue
		}
		remaining = append(remaining, f)
	}
	return remaining
}

// correctableFields are the scratch fields a preview-stage "no" can target
// by name, e.g. "assignee Priya" or "priority: high" (spec.md §4.7's
// preview-correction loop).
var correctableFields = []string{"assignee", "priority", "deadline", "acceptance_criteria", "estimated_minutes", "tags", "description", "title"}

// applyCorrection updates scratch.ExtractedFields from a reply to "What
// should I change?". A recognized "<field> <value>" or "<field>: <value>"
// prefix targets that field; anything else replaces the title, since most
// corrections in practice are "no, it's actually X".
func applyCorrection(scratch *Scratch, message string) {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)
	for _, f := range correctableFields {
		if rest, ok := strings.CutPrefix(lower, f+":"); ok {
			scratch.ExtractedFields[f] = strings.TrimSpace(trimmed[len(trimmed)-len(rest):])
			return
		}
		if rest, ok := strings.CutPrefix(lower, f+" "); ok {
			scratch.ExtractedFields[f] = strings.TrimSpace(trimmed[len(trimmed)-len(rest):])
			return
		}
	}
	scratch.ExtractedFields["title"] = trimmed
}

// advanceCreating handles either a correction to a rejected preview
// (scratch.CorrectionNote set, spec.md §4.7's preview-correction loop) or
// the reply to a clarifying question raised by enterClarificationOrPreview:
// in the latter case it records the answer against PendingField, then
// either asks the next queued question or moves on to preview once
// PendingQuestions is empty.
func (m *Machine) advanceCreating(ctx context.Context, conv *store.Conversation, scratch Scratch, message string) (Outcome, error) {
	if scratch.CorrectionNote != "" && scratch.PendingField == "" {
		applyCorrection(&scratch, message)
		scratch.CorrectionNote = ""
		if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StagePreview), scratch.marshal()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StagePreview, Reply: "Here's what I've got — confirm?", Scratch: scratch}, nil
	}

	if scratch.PendingField != "" {
		scratch.ExtractedFields[scratch.PendingField] = strings.TrimSpace(message)
	}

	if len(scratch.PendingQuestions) == 0 {
		scratch.PendingField = ""
		if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StagePreview), scratch.marshal()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StagePreview, Reply: "Here's what I've got — confirm?", Scratch: scratch}, nil
	}

	scratch.PendingField = scratch.PendingQuestions[0]
	scratch.PendingQuestions = scratch.PendingQuestions[1:]
	if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StageClarifying), scratch.marshal()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Stage: StageClarifying, Reply: promptFor(scratch.PendingField), Scratch: scratch}, nil
}

func (m *Machine) advancePreview(ctx context.Context, conv *store.Conversation, scratch Scratch, message string) (Outcome, error) {
	if isAffirmation(message) {
		if dangerousIntents[scratch.LastIntent] {
			if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StageAwaitingConfirm), scratch.marshal()); err != nil {
				return Outcome{}, err
			}
			return Outcome{Stage: StageAwaitingConfirm, Reply: "Are you sure? This can't be undone."}, nil
		}
		if err := m.store.CloseConversation(ctx, conv.ConversationID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StageIdle, Reply: "Done.", Finalize: true, Scratch: scratch}, nil
	}
	if isNegation(message) {
		scratch.CorrectionNote = message
		if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StageClarifying), scratch.marshal()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StageClarifying, Reply: "What should I change?"}, nil
	}
	return Outcome{Stage: StagePreview, Reply: "Reply yes to confirm or no to correct."}, nil
}

func (m *Machine) advanceAwaitingConfirm(ctx context.Context, conv *store.Conversation, scratch Scratch, message string) (Outcome, error) {
	if isAffirmation(message) {
		if err := m.store.CloseConversation(ctx, conv.ConversationID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StageIdle, Reply: "Confirmed.", Finalize: true, Scratch: scratch}, nil
	}
	if err := m.store.CloseConversation(ctx, conv.ConversationID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Stage: StageIdle, Reply: "Cancelled."}, nil
}

// advanceBatch handles one reply to the fragment currently named by
// scratch.BatchIndex. A "yes" finalizes that exact fragment (its own text
// becomes the task candidate's title, via scratch.CurrentFragmentTitle) and
// moves on; "skip" moves on without finalizing it; anything else re-asks.
// Each fragment is finalized at most once, by the turn that confirms it.
func (m *Machine) advanceBatch(ctx context.Context, conv *store.Conversation, scratch Scratch, message string) (Outcome, error) {
	confirmed := isAffirmation(message)
	if !confirmed && !isSkip(message) {
		return Outcome{Stage: StageBatchProcessing, Reply: "Reply yes to add this one, or skip to move to the next.", NeedsBatch: true, Scratch: scratch}, nil
	}

	scratch.CurrentFragmentTitle = ""
	finalize := confirmed && scratch.BatchIndex < len(scratch.BatchFragments)
	if finalize {
		scratch.CurrentFragmentTitle = scratch.BatchFragments[scratch.BatchIndex]
	}
	scratch.BatchIndex++

	if scratch.BatchIndex >= len(scratch.BatchFragments) {
		if err := m.store.CloseConversation(ctx, conv.ConversationID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Stage: StageIdle, Reply: "All set, that's everything.", Finalize: finalize, Scratch: scratch}, nil
	}

	if err := m.store.UpdateConversationState(ctx, conv.ConversationID, string(StageBatchProcessing), scratch.marshal()); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Stage:      StageBatchProcessing,
		Reply:      "Next: " + scratch.BatchFragments[scratch.BatchIndex] + ". Reply yes to add it, or skip to move on.",
		NeedsBatch: true,
		Finalize:   finalize,
		Scratch:    scratch,
	}, nil
}

func (m *Machine) advanceGeneric(ctx context.Context, conv *store.Conversation, scratch Scratch, message string) (Outcome, error) {
	if err := m.store.UpdateConversationState(ctx, conv.ConversationID, conv.Stage, scratch.marshal()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Stage: Stage(conv.Stage), Reply: ""}, nil
}

func isCancel(message string) bool {
	return strings.EqualFold(message, "cancel") || strings.EqualFold(message, "/cancel")
}

func isSlashPreempt(message string) bool {
	return strings.EqualFold(message, "/task") || strings.EqualFold(message, "/urgent")
}

func isAffirmation(message string) bool {
	switch strings.ToLower(strings.TrimSpace(message)) {
	case "yes", "y", "yep", "confirm", "ok", "okay":
		return true
	}
	return false
}

func isNegation(message string) bool {
	switch strings.ToLower(strings.TrimSpace(message)) {
	case "no", "n", "nope":
		return true
	}
	return false
}

func isSkip(message string) bool {
	return strings.ToLower(strings.TrimSpace(message)) == "skip"
}

func defaultReplyFor(intent classifier.Intent) string {
	switch intent {
	case classifier.IntentHelp:
		return "I can create, update, and track tasks. Just tell me what you need."
	case classifier.IntentGreeting:
		return "Hey! What do you need done?"
	default:
		return "Tell me what you'd like to do."
	}
}
