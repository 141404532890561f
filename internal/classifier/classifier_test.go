package classifier

import "testing"

func TestRouteByConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       RoutingDecision
	}{
		{0.95, RouteDirect},
		{0.8, RouteDirect},
		{0.79, RouteConfirm},
		{0.6, RouteConfirm},
		{0.59, RouteClarify},
		{0.0, RouteClarify},
	}
	for _, tc := range cases {
		got := RouteByConfidence(IntentResult{Confidence: tc.confidence})
		if got != tc.want {
			t.Errorf("RouteByConfidence(%.2f) = %v, want %v", tc.confidence, got, tc.want)
		}
	}
}

func TestHeuristicClassify_NeverExceedsConfirmThreshold(t *testing.T) {
	messages := []string{
		"John fix the login bug",
		"what's overdue",
		"search for billing tasks",
		"mark it done",
		"cancel that",
		"status please",
	}
	for _, m := range messages {
		got := heuristicClassify(m)
		if got.Confidence >= directThreshold {
			t.Errorf("heuristicClassify(%q) confidence=%.2f, should never auto-execute", m, got.Confidence)
		}
	}
}

func TestHeuristicClassify_Greeting(t *testing.T) {
	got := heuristicClassify("Hey there")
	if got.Intent != IntentGreeting {
		t.Fatalf("intent = %v, want greeting", got.Intent)
	}
}

func TestParseIntentResult_ExtractsJSONFromSurroundingText(t *testing.T) {
	text := "Sure, here you go:\n{\"intent\": \"create_task\", \"confidence\": 0.92, \"reasoning\": \"clear directive\", \"extracted_fields\": {\"assignee\": \"John\"}}\nLet me know if that's wrong."
	got, err := parseIntentResult(text)
	if err != nil {
		t.Fatalf("parseIntentResult: %v", err)
	}
	if got.Intent != IntentCreateTask || got.Confidence != 0.92 || got.ExtractedFields["assignee"] != "John" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseIntentResult_RejectsMissingIntent(t *testing.T) {
	_, err := parseIntentResult(`{"confidence": 0.5}`)
	if err == nil {
		t.Fatal("expected error for missing intent")
	}
}
