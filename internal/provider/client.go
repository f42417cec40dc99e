// Package provider defines the contract with the upstream unified-messaging
// API. The engine consumes raw provider JSON only through the normalizer;
// this package never interprets payload fields beyond paging envelopes.
package provider

import "context"

// Page is one page of raw provider records.
type Page struct {
	Items      []map[string]any
	NextCursor string
}

// Client is the outbound provider API contract. Implementations are treated
// as black boxes; tests substitute fakes.
type Client interface {
	// ListConversations enumerates chats for an account, newest first.
	ListConversations(ctx context.Context, accountID string, limit int, cursor string) (*Page, error)
	// ListConversationAttendees returns the participants of one specific
	// chat (not the full account attendee list, to bound cost).
	ListConversationAttendees(ctx context.Context, chatID string) (*Page, error)
	// ListMessages returns one page of messages for a chat.
	ListMessages(ctx context.Context, chatID, accountID string, limit int, cursor string) (*Page, error)
}

// WebhookEvent is one event delivered by the webhook dispatcher. Redelivery
// of the same MessageID must be handled idempotently by the engine.
type WebhookEvent struct {
	EventType string         `json:"eventType"` // message_received|message_delivered|message_read|message_sent
	AccountID string         `json:"accountId"`
	ChatID    string         `json:"chatId"`
	MessageID string         `json:"messageId"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventMessageReceived  = "message_received"
	EventMessageSent      = "message_sent"
	EventMessageDelivered = "message_delivered"
	EventMessageRead      = "message_read"
)
