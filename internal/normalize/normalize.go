// Package normalize converts heterogeneous provider payloads — webhook
// events and historical API records — into one canonical shape per entity.
// All functions are pure: no clock, no store, no side effects.
package normalize

import (
	"fmt"
	"time"
)

// Source identifies where a raw payload came from. Extraction rules differ
// slightly per source but the output field set is identical.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceAPI     Source = "api"
)

func mustValid(s Source) {
	if s != SourceWebhook && s != SourceAPI {
		// Invalid source is a programmer error, not a data error.
		panic(fmt.Sprintf("normalize: invalid source %q", s))
	}
}

// NormalizedMessage is the canonical message shape fed to the resolver and
// the store.
type NormalizedMessage struct {
	ExternalID  string
	Content     string
	Subject     string
	Status      string
	Attachments []Attachment
	// SentAt is zero for webhook payloads, which carry no authoritative
	// timestamp; the caller substitutes ingestion time.
	SentAt time.Time
	Source Source
	Raw    map[string]any
}

// NormalizedAttendee is the canonical participant shape.
type NormalizedAttendee struct {
	ExternalID string
	ProviderID string
	Name       string
	PictureURL string
	IsSelf     bool
	Source     Source
	Raw        map[string]any
}

// NormalizedConversation is the canonical thread shape.
type NormalizedConversation struct {
	ExternalThreadID string
	Subject          string
	UnreadCount      int
	Archived         bool
	Pinned           bool
	Muted            bool
	IsGroup          bool
	LastMessageAt    time.Time
	Source           Source
	Raw              map[string]any
}

// Message normalizes a raw message payload from the given source.
func Message(raw map[string]any, source Source) NormalizedMessage {
	mustValid(source)

	m := NormalizedMessage{Source: source, Raw: raw}
	if raw == nil {
		return m
	}

	switch source {
	case SourceWebhook:
		m.ExternalID = str(raw, "message_id", "id")
	case SourceAPI:
		m.ExternalID = str(raw, "id", "message_id")
	}

	// Content preference: text, then body, then content. Empty content with
	// attachments is left empty; display fallbacks are a caller concern.
	m.Content = str(raw, "text", "body", "content")
	m.Subject = str(raw, "subject")
	m.Status = str(raw, "status", "delivery_status")
	m.Attachments = attachments(raw)

	if source == SourceAPI {
		m.SentAt = timestamp(raw, "timestamp", "sent_at", "date", "created_at")
	}
	return m
}

// Attendee normalizes a raw participant payload from the given source.
func Attendee(raw map[string]any, source Source) NormalizedAttendee {
	mustValid(source)

	a := NormalizedAttendee{Source: source, Raw: raw}
	if raw == nil {
		return a
	}

	a.ExternalID = str(raw, "attendee_id", "id")
	a.ProviderID = str(raw, "attendee_provider_id", "provider_id", "address")
	a.Name = str(raw, "attendee_name", "name", "display_name", "push_name")
	a.PictureURL = str(raw, "picture_url", "profile_picture", "avatar_url")
	a.IsSelf = boolean(raw, "is_self", "is_me")
	return a
}

// Conversation normalizes a raw thread payload from the given source.
func Conversation(raw map[string]any, source Source) NormalizedConversation {
	mustValid(source)

	c := NormalizedConversation{Source: source, Raw: raw}
	if raw == nil {
		return c
	}

	switch source {
	case SourceWebhook:
		c.ExternalThreadID = str(raw, "chat_id", "conversation_id", "id")
	case SourceAPI:
		c.ExternalThreadID = str(raw, "id", "chat_id", "provider_id")
	}

	c.Subject = str(raw, "name", "subject", "title")
	c.UnreadCount = integer(raw, "unread_count", "unread")
	c.Archived = boolean(raw, "archived", "is_archived")
	c.Pinned = boolean(raw, "pinned", "is_pinned")
	c.Muted = boolean(raw, "muted", "is_muted")
	c.IsGroup = boolean(raw, "is_group")
	c.LastMessageAt = timestamp(raw, "timestamp", "last_message_at", "last_activity_at")
	return c
}
