package conversation

import "testing"

func TestBatchSplit_OrdinalMarkers(t *testing.T) {
	fragments, _ := BatchSplit("First, fix the login bug then second, update the docs")
	if len(fragments) != 2 {
		t.Fatalf("got %d fragments, want 2: %v", len(fragments), fragments)
	}
}

func TestBatchSplit_SharedAssigneePreamble(t *testing.T) {
	fragments, assignee := BatchSplit("Tasks for John: fix the bug then write the docs")
	if assignee != "John" {
		t.Fatalf("assignee = %q, want John", assignee)
	}
	if len(fragments) != 2 {
		t.Fatalf("got %d fragments, want 2: %v", len(fragments), fragments)
	}
}

func TestBatchSplit_NumberedList(t *testing.T) {
	fragments, _ := BatchSplit("1. fix the bug\n2. write the docs\n3. deploy")
	if len(fragments) != 3 {
		t.Fatalf("got %d fragments, want 3: %v", len(fragments), fragments)
	}
}

func TestBatchSplit_SingleTaskReturnsNil(t *testing.T) {
	fragments, _ := BatchSplit("fix the login bug")
	if fragments != nil {
		t.Fatalf("got %v, want nil for single task", fragments)
	}
}
