package conversation

import (
	"strconv"
	"strings"
)

// roleDefaultHours gives the default estimated duration for a role when
// no explicit estimate is extracted (spec.md §4.7), in hours; callers deal
// in estimated_minutes, so SelfAnswer converts.
var roleDefaultHours = map[string]int{
	"dev":       4,
	"admin":     2,
	"marketing": 3,
	"design":    6,
}

// Question is a field the state machine has not yet resolved.
type Question struct {
	Field  string
	Prompt string
}

// SelfAnswer attempts to resolve one question without asking the user, in
// the order spec.md §4.7 lists: extracted fields, assignee-role defaults,
// keyword inference, saved preferences. It returns the resolved value and
// true, or ("", false) if the question must be surfaced to the user.
func SelfAnswer(q Question, extracted map[string]string, assigneeRole string, message string, preferences map[string]string) (string, bool) {
	if v, ok := extracted[q.Field]; ok && v != "" {
		return v, true
	}

	if q.Field == "estimated_minutes" {
		if hours, ok := roleDefaultHours[strings.ToLower(assigneeRole)]; ok {
			return strconv.Itoa(hours * 60), true
		}
	}

	if v, ok := inferFromKeywords(q.Field, message); ok {
		return v, true
	}

	if v, ok := preferences[q.Field]; ok && v != "" {
		return v, true
	}

	return "", false
}

func inferFromKeywords(field, message string) (string, bool) {
	lower := strings.ToLower(message)
	switch field {
	case "priority":
		switch {
		case strings.Contains(lower, "urgent") || strings.Contains(lower, "asap"):
			return "high", true
		case strings.Contains(lower, "whenever") || strings.Contains(lower, "no rush"):
			return "low", true
		}
	case "category":
		switch {
		case strings.Contains(lower, "bug") || strings.Contains(lower, "fix"):
			return "bugfix", true
		case strings.Contains(lower, "design"):
			return "design", true
		}
	}
	return "", false
}
