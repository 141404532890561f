package bus

import "testing"

func TestEventTopics_Constants(t *testing.T) {
	topics := map[string]bool{
		TopicTaskCreated:         true,
		TopicTaskStatusChanged:   true,
		TopicTaskOverdue:         true,
		TopicTaskAssigned:        true,
		TopicConversationStarted: true,
		TopicConversationClosed:  true,
		TopicOutboxDeadLetter:    true,
		TopicOutboxDelivered:     true,
		TopicSchedulerAlert:      true,
	}
	for topic := range topics {
		if topic == "" {
			t.Fatal("found empty topic constant")
		}
	}
	if len(topics) != 9 {
		t.Fatalf("expected 9 unique topics, got %d", len(topics))
	}
}

func TestTaskCreatedEvent_Fields(t *testing.T) {
	e := TaskCreatedEvent{TaskID: "TASK-20260730-001", AssigneeName: "mara", CreatedBy: "boss"}
	if e.TaskID == "" || e.AssigneeName == "" || e.CreatedBy == "" {
		t.Fatal("expected all fields populated")
	}
}

func TestTaskStatusChangedEvent_Fields(t *testing.T) {
	e := TaskStatusChangedEvent{TaskID: "TASK-20260730-001", OldStatus: "pending", NewStatus: "in_progress", Actor: "mara"}
	if e.OldStatus == e.NewStatus {
		t.Fatal("expected distinct old/new status")
	}
}

func TestConversationLifecycleEvents(t *testing.T) {
	started := ConversationStartedEvent{ConversationID: "conv-1", UserID: "u1", Stage: "idle"}
	closed := ConversationClosedEvent{ConversationID: "conv-1", UserID: "u1", Reason: "idle_timeout"}
	if started.ConversationID != closed.ConversationID {
		t.Fatal("expected matching conversation id")
	}
	if closed.Reason != "idle_timeout" {
		t.Fatalf("reason = %q, want idle_timeout", closed.Reason)
	}
}

func TestOutboxEvents(t *testing.T) {
	dl := OutboxDeadLetterEvent{OutboxID: "1", Target: "telegram", LastErr: "timeout"}
	delivered := OutboxDeliveredEvent{OutboxID: "2", Target: "telegram", Attempts: 3}
	if dl.LastErr == "" {
		t.Fatal("expected non-empty LastErr")
	}
	if delivered.Attempts <= 0 {
		t.Fatal("expected positive attempt count")
	}
}

func TestSchedulerAlert_Fields(t *testing.T) {
	a := SchedulerAlert{JobName: "deadline_reminder", Message: "3 consecutive failures"}
	if a.JobName == "" || a.Message == "" {
		t.Fatal("expected populated fields")
	}
}
