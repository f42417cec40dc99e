package bus

import "time"

// Event kinds emitted by the engine. Subscribers filter by namespace
// prefix, e.g. "message." or "sync.".
const (
	KindNewMessage          = "message.new"
	KindMessageUpdate       = "message.update"
	KindConversationUpdated = "conversation.updated"
	KindSyncProgress        = "sync.progress"
	KindSyncCompleted       = "sync.completed"
	KindSyncFailed          = "sync.failed"
	KindGapsDetected        = "gaps.detected"
)

// Event represents a domain event published on the bus. Payloads are
// JSON-serializable structs: ids as strings, timestamps in ISO-8601.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessagePayload accompanies message.new and message.update events.
type MessagePayload struct {
	AccountID        string `json:"account_id"`
	ConversationID   string `json:"conversation_id"`
	ExternalThreadID string `json:"external_thread_id"`
	MessageID        string `json:"message_id"`
	ExternalID       string `json:"external_id"`
	Direction        string `json:"direction"`
	Status           string `json:"status"`
	SentAt           string `json:"sent_at,omitempty"`
}

// ConversationPayload accompanies conversation.updated events.
type ConversationPayload struct {
	AccountID        string `json:"account_id"`
	ConversationID   string `json:"conversation_id"`
	ExternalThreadID string `json:"external_thread_id"`
	Subject          string `json:"subject"`
	MessageCount     int    `json:"message_count"`
	UnreadCount      int    `json:"unread_count"`
	LastMessageAt    string `json:"last_message_at,omitempty"`
}

// ProgressPayload accompanies sync.progress events, one per processed
// conversation.
type ProgressPayload struct {
	RunID                  string `json:"run_id"`
	AccountID              string `json:"account_id"`
	CurrentStep            string `json:"current_step"`
	ConversationsProcessed int    `json:"conversations_processed"`
	MessagesProcessed      int    `json:"messages_processed"`
}

// RunPayload accompanies sync.completed and sync.failed events.
type RunPayload struct {
	RunID               string `json:"run_id"`
	AccountID           string `json:"account_id"`
	Success             bool   `json:"success"`
	ConversationsSynced int    `json:"conversations_synced"`
	MessagesSynced      int    `json:"messages_synced"`
	AttendeesSynced     int    `json:"attendees_synced"`
	ErrorCount          int    `json:"error_count"`
	Error               string `json:"error,omitempty"`
}

// GapsPayload accompanies gaps.detected events.
type GapsPayload struct {
	AccountID string `json:"account_id"`
	Priority  string `json:"priority"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}
