package bus

// Scheduler alert topic, used when a background job fails repeatedly and
// the boss needs to be notified directly (SPEC §7 job wrapper).
const (
	TopicSchedulerAlert = "scheduler.alert"
)

// ConversationStartedEvent is published when a conversation opens.
type ConversationStartedEvent struct {
	ConversationID string // Conversation ID
	UserID         string // Initiating user
	Stage          string // Initial stage
}

// ConversationClosedEvent is published when a conversation closes, whether
// by completion or idle timeout.
type ConversationClosedEvent struct {
	ConversationID string // Conversation ID
	UserID         string // Initiating user
	Reason         string // "completed", "idle_timeout", "superseded"
}

// OutboxDeadLetterEvent is published when an outbox item exhausts its
// retry budget and is dead-lettered.
type OutboxDeadLetterEvent struct {
	OutboxID string // Outbox row ID
	Target   string // Adapter target ("telegram", "webhook", ...)
	LastErr  string // Last delivery error
}

// OutboxDeliveredEvent is published when an outbox item is successfully
// delivered.
type OutboxDeliveredEvent struct {
	OutboxID string // Outbox row ID
	Target   string // Adapter target
	Attempts int    // Number of attempts it took
}

// SchedulerAlert is published when a scheduled job fails and boss
// notification is warranted.
type SchedulerAlert struct {
	JobName string // Scheduler job name
	Message string // Failure summary
}
