package conversation

import "strings"

// complexityWeight pairs a keyword with the score delta it contributes
// (spec.md §4.7). Scores are clamped to [1, 10].
type complexityWeight struct {
	keyword string
	delta   int
}

var complexityWeights = []complexityWeight{
	{"fix", -2}, {"typo", -2}, {"quick", -2},
	{"no questions", -3}, {"just do", -3},
	{"system", 2}, {"architecture", 2}, {"integration", 2},
	{"multiple", 2}, {"comprehensive", 2},
	{"api", 1}, {"database", 1}, {"payment", 1},
}

// ScoreComplexity computes the 1-10 complexity score for a message's
// free text, driving how many clarifying questions L7 asks.
func ScoreComplexity(message string) int {
	lower := strings.ToLower(message)
	score := 5
	for _, w := range complexityWeights {
		if strings.Contains(lower, w.keyword) {
			score += w.delta
		}
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

// ClarificationDepth is how many clarifying questions a complexity score
// warrants.
type ClarificationDepth string

const (
	DepthNone    ClarificationDepth = "none"    // score <= 3: deterministic defaults, skip all questions
	DepthCritical ClarificationDepth = "critical" // 4-6: up to 2 critical questions
	DepthFull    ClarificationDepth = "full"    // 7-10: full clarification
)

func DepthForScore(score int) ClarificationDepth {
	switch {
	case score <= 3:
		return DepthNone
	case score <= 6:
		return DepthCritical
	default:
		return DepthFull
	}
}

// criticalFields are the ones worth interrupting a mid-complexity message
// for (spec.md §4.7: "4-6 asks up to 2 critical questions").
var criticalFields = []string{"assignee", "priority", "deadline"}

// fullFields is the complete set of clarifiable fields, asked in order for
// a high-complexity message (spec.md §4.7: "7-10: full clarification").
var fullFields = []string{"assignee", "priority", "deadline", "acceptance_criteria", "estimated_minutes", "tags"}

const maxCriticalQuestions = 2

// fieldsToClarify returns the ordered list of fields DepthForScore's
// result calls for, capped at two for DepthCritical.
func fieldsToClarify(depth ClarificationDepth) []string {
	switch depth {
	case DepthNone:
		return nil
	case DepthCritical:
		if len(criticalFields) > maxCriticalQuestions {
			return criticalFields[:maxCriticalQuestions]
		}
		return criticalFields
	default:
		return fullFields
	}
}

// promptFor returns the question to surface for a still-unresolved field.
func promptFor(field string) string {
	switch field {
	case "assignee":
		return "Who should this be assigned to?"
	case "priority":
		return "What priority is this — urgent, high, medium, or low?"
	case "deadline":
		return "Any deadline for this?"
	case "acceptance_criteria":
		return "What does done look like?"
	case "estimated_minutes":
		return "About how long do you think this will take?"
	case "tags":
		return "Any tags or labels for this?"
	default:
		return "Can you clarify " + field + "?"
	}
}
