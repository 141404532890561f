// Package classifier turns a normalized message string into a typed
// IntentResult using the llm adapter's generate operation, falling back to
// a deterministic keyword heuristic when no LLM provider is configured —
// the same llmOn/fallback split the teacher's GenkitBrain.Respond uses.
// Structured fields the classifier extracts (dates, priorities, ids) are
// advisory only; internal/taskproc re-derives them deterministically and
// treats its own parse as authoritative (spec.md §4.6).
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/boss/internal/adapters/llm"
)

// Intent is the closed set of classifiable intents (spec.md §4.6).
type Intent string

const (
	IntentCreateTask      Intent = "create_task"
	IntentModifyTask      Intent = "modify_task"
	IntentReassignTask    Intent = "reassign_task"
	IntentChangePriority  Intent = "change_priority"
	IntentChangeDeadline  Intent = "change_deadline"
	IntentChangeStatus    Intent = "change_status"
	IntentAddTags         Intent = "add_tags"
	IntentRemoveTags      Intent = "remove_tags"
	IntentAddSubtask      Intent = "add_subtask"
	IntentCompleteSubtask Intent = "complete_subtask"
	IntentAddDependency   Intent = "add_dependency"
	IntentRemoveDependency Intent = "remove_dependency"
	IntentDuplicateTask   Intent = "duplicate_task"
	IntentSplitTask       Intent = "split_task"
	IntentTaskDone        Intent = "task_done"
	IntentSubmitProof     Intent = "submit_proof"
	IntentCheckStatus     Intent = "check_status"
	IntentCheckOverdue    Intent = "check_overdue"
	IntentSearchTasks     Intent = "search_tasks"
	IntentBulkComplete    Intent = "bulk_complete"
	IntentDelayTask       Intent = "delay_task"
	IntentAddTeamMember   Intent = "add_team_member"
	IntentAskTeamMember   Intent = "ask_team_member"
	IntentTeachPreference Intent = "teach_preference"
	IntentApproveTask     Intent = "approve_task"
	IntentRejectTask      Intent = "reject_task"
	IntentCancelTask      Intent = "cancel_task"
	IntentClearTasks      Intent = "clear_tasks"
	IntentArchiveTasks    Intent = "archive_tasks"
	IntentHelp            Intent = "help"
	IntentGreeting        Intent = "greeting"
	IntentUnknown         Intent = "unknown"
)

// IntentResult is the output of a single classification call.
type IntentResult struct {
	Intent          Intent            `json:"intent"`
	Confidence      float64           `json:"confidence"`
	Reasoning       string            `json:"reasoning"`
	ExtractedFields map[string]string `json:"extracted_fields"`
}

// RoutingDecision is the confidence-routing outcome for an IntentResult
// (spec.md §4.6's thresholds), independent of any model so it is
// trivially unit-testable.
type RoutingDecision string

const (
	RouteDirect   RoutingDecision = "direct"   // confidence >= 0.8: execute directly
	RouteConfirm  RoutingDecision = "confirm"  // 0.6 <= confidence < 0.8: confirm with user
	RouteClarify  RoutingDecision = "clarify"  // confidence < 0.6: ask a clarifying question
)

const (
	directThreshold  = 0.8
	confirmThreshold = 0.6
)

// RouteByConfidence applies spec.md §4.6's fixed thresholds.
func RouteByConfidence(r IntentResult) RoutingDecision {
	switch {
	case r.Confidence >= directThreshold:
		return RouteDirect
	case r.Confidence >= confirmThreshold:
		return RouteConfirm
	default:
		return RouteClarify
	}
}

// ContextSnapshot is the minimal conversation context the classifier is
// given alongside the message — enough to disambiguate without handing it
// the full message history.
type ContextSnapshot struct {
	ConversationStage string
	RecentIntents     []Intent
	PendingTaskID     string
}

type Classifier struct {
	llm *llm.LLM
}

func New(l *llm.LLM) *Classifier {
	return &Classifier{llm: l}
}

func (c *Classifier) Classify(ctx context.Context, message string, snap ContextSnapshot) (IntentResult, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return IntentResult{}, fmt.Errorf("classifier: empty message")
	}

	if c.llm == nil || !c.llm.Available() {
		return heuristicClassify(trimmed), nil
	}

	res, adapterErr := c.llm.Execute(ctx, llm.GenerateOperation{
		System: systemPrompt,
		Prompt: buildPrompt(trimmed, snap),
	})
	if adapterErr != nil {
		return heuristicClassify(trimmed), nil
	}
	out, ok := res.(llm.GenerateResult)
	if !ok {
		return heuristicClassify(trimmed), nil
	}

	parsed, err := parseIntentResult(out.Text)
	if err != nil {
		return heuristicClassify(trimmed), nil
	}
	return parsed, nil
}

const systemPrompt = `You are the intent classifier for a small team's task coordinator bot.
Classify the user's message into exactly one of the closed intent set and respond with a single JSON object:
{"intent": "...", "confidence": 0.0-1.0, "reasoning": "...", "extracted_fields": {"key": "value"}}
When the intent is create_task, populate extracted_fields with whichever of
these keys you can confidently read off the message: title, description,
assignee, priority (urgent|high|medium|low), deadline (RFC3339), tags
(comma-separated), acceptance_criteria (semicolon-separated). title should
always be set for create_task; fall back to a trimmed copy of the message
itself if no clearer title is apparent.
Do not include any text outside the JSON object.`

func buildPrompt(message string, snap ContextSnapshot) string {
	var b strings.Builder
	b.WriteString("conversation_stage: ")
	b.WriteString(snap.ConversationStage)
	b.WriteString("\nmessage: ")
	b.WriteString(message)
	return b.String()
}

func parseIntentResult(text string) (IntentResult, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return IntentResult{}, fmt.Errorf("classifier: no JSON object in model output")
	}
	var out IntentResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return IntentResult{}, fmt.Errorf("classifier: decode model output: %w", err)
	}
	if out.Intent == "" {
		return IntentResult{}, fmt.Errorf("classifier: empty intent in model output")
	}
	return out, nil
}

// heuristicClassify is the deterministic no-LLM fallback, applied when no
// provider is configured or a call fails outright. It never raises
// confidence above the confirm threshold, since a keyword match alone
// should never auto-execute a mutating action.
func heuristicClassify(message string) IntentResult {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "help"):
		return IntentResult{Intent: IntentHelp, Confidence: 0.9, Reasoning: "keyword match: help"}
	case isGreeting(lower):
		return IntentResult{Intent: IntentGreeting, Confidence: 0.9, Reasoning: "keyword match: greeting"}
	case strings.Contains(lower, "overdue"):
		return IntentResult{Intent: IntentCheckOverdue, Confidence: 0.7, Reasoning: "keyword match: overdue"}
	case strings.Contains(lower, "search") || strings.Contains(lower, "find"):
		return IntentResult{Intent: IntentSearchTasks, Confidence: 0.65, Reasoning: "keyword match: search/find"}
	case strings.Contains(lower, "done") || strings.Contains(lower, "finished") || strings.Contains(lower, "complete"):
		return IntentResult{Intent: IntentTaskDone, Confidence: 0.65, Reasoning: "keyword match: done/complete"}
	case strings.Contains(lower, "cancel"):
		return IntentResult{Intent: IntentCancelTask, Confidence: 0.65, Reasoning: "keyword match: cancel"}
	case strings.Contains(lower, "status"):
		return IntentResult{Intent: IntentCheckStatus, Confidence: 0.6, Reasoning: "keyword match: status"}
	default:
		return IntentResult{
			Intent:          IntentCreateTask,
			Confidence:      0.5,
			Reasoning:       "default fallback: assume new task",
			ExtractedFields: map[string]string{"title": message},
		}
	}
}

func isGreeting(lower string) bool {
	for _, g := range []string{"hi", "hello", "hey", "good morning", "good afternoon"} {
		if strings.HasPrefix(lower, g) {
			return true
		}
	}
	return false
}
