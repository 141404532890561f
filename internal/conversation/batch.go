package conversation

import (
	"regexp"
	"strings"
)

// ordinalMarkers and separatorMarkers are the deterministic cues L7 splits
// a message on (spec.md §4.7): ordered "first/second/third" words,
// "then"/"and also" connectors, or a numbered list. Splitting never goes
// through the LLM so the same input always yields the same task count.
var ordinalMarkers = []string{"first,", "first:", "second,", "second:", "third,", "third:", "fourth,", "fourth:", "fifth,", "fifth:"}

var separatorRe = regexp.MustCompile(`(?i)\s*(?:,?\s+then\s+|,?\s+and also\s+|;\s*)\s*`)

var numberedListRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*`)

var assigneePreambleRe = regexp.MustCompile(`(?i)^tasks?\s+for\s+([A-Za-z][A-Za-z'\-]*)\s*:?\s*`)

// BatchSplit splits a message into candidate task fragments when it
// contains ordered/separator markers. It returns (nil, "") when the
// message describes a single task. sharedAssignee is the name extracted
// from a "Tasks for <name>" preamble, if present.
func BatchSplit(message string) (fragments []string, sharedAssignee string) {
	trimmed := strings.TrimSpace(message)

	if m := assigneePreambleRe.FindStringSubmatch(trimmed); m != nil {
		sharedAssignee = m[1]
		trimmed = strings.TrimSpace(trimmed[len(m[0]):])
	}

	if numberedListRe.MatchString(trimmed) {
		lines := strings.Split(trimmed, "\n")
		for _, line := range lines {
			item := numberedListRe.ReplaceAllString(strings.TrimSpace(line), "")
			item = strings.TrimSpace(item)
			if item != "" {
				fragments = append(fragments, item)
			}
		}
		if len(fragments) > 1 {
			return fragments, sharedAssignee
		}
		fragments = nil
	}

	lower := strings.ToLower(trimmed)
	hasOrdinal := false
	for _, m := range ordinalMarkers {
		if strings.Contains(lower, m) {
			hasOrdinal = true
			break
		}
	}
	hasSeparator := separatorRe.MatchString(trimmed)

	if !hasOrdinal && !hasSeparator {
		return nil, sharedAssignee
	}

	parts := separatorRe.Split(trimmed, -1)
	for _, p := range parts {
		p = stripOrdinalPrefix(strings.TrimSpace(p))
		if p != "" {
			fragments = append(fragments, p)
		}
	}
	if len(fragments) <= 1 {
		return nil, sharedAssignee
	}
	return fragments, sharedAssignee
}

var ordinalPrefixRe = regexp.MustCompile(`(?i)^(first|second|third|fourth|fifth)[,:]?\s*`)

func stripOrdinalPrefix(s string) string {
	return strings.TrimSpace(ordinalPrefixRe.ReplaceAllString(s, ""))
}
