package conversation

import "testing"

func TestSelfAnswer_PrefersExtractedFields(t *testing.T) {
	v, ok := SelfAnswer(Question{Field: "priority"}, map[string]string{"priority": "high"}, "dev", "", nil)
	if !ok || v != "high" {
		t.Fatalf("got (%q, %v), want (high, true)", v, ok)
	}
}

func TestSelfAnswer_RoleDefaultForEstimatedHours(t *testing.T) {
	v, ok := SelfAnswer(Question{Field: "estimated_hours"}, nil, "design", "", nil)
	if !ok || v != "6" {
		t.Fatalf("got (%q, %v), want (6, true)", v, ok)
	}
}

func TestSelfAnswer_KeywordInferencePriority(t *testing.T) {
	v, ok := SelfAnswer(Question{Field: "priority"}, nil, "", "this is urgent, please help asap", nil)
	if !ok || v != "high" {
		t.Fatalf("got (%q, %v), want (high, true)", v, ok)
	}
}

func TestSelfAnswer_FallsBackToPreferences(t *testing.T) {
	v, ok := SelfAnswer(Question{Field: "category"}, nil, "", "", map[string]string{"category": "ops"})
	if !ok || v != "ops" {
		t.Fatalf("got (%q, %v), want (ops, true)", v, ok)
	}
}

func TestSelfAnswer_UnresolvedSurfacesToUser(t *testing.T) {
	_, ok := SelfAnswer(Question{Field: "due_date"}, nil, "", "", nil)
	if ok {
		t.Fatal("expected unresolved question to surface to user")
	}
}
