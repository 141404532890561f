package safety

import "github.com/microcosm-cc/bluemonday"

// HTMLSanitizer rejects HTML/script-tag markup in admin and API free-text
// fields (spec.md §4.10: "HTML-tag and script-tag patterns in free-text
// fields are rejected"), layered on top of Sanitizer's regex-based prompt
// injection checks rather than replacing them.
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

// NewHTMLSanitizer builds a sanitizer with bluemonday's strict policy,
// which strips all tags and leaves only text content.
func NewHTMLSanitizer() *HTMLSanitizer {
	return &HTMLSanitizer{policy: bluemonday.StrictPolicy()}
}

// ContainsMarkup reports whether input carries any HTML/script markup
// bluemonday's strict policy would strip.
func (h *HTMLSanitizer) ContainsMarkup(input string) bool {
	return h.policy.Sanitize(input) != input
}
