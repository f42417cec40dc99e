package normalize

import (
	"testing"
	"time"
)

func TestMessageContentPreference(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"text wins", map[string]any{"text": "a", "body": "b", "content": "c"}, "a"},
		{"body next", map[string]any{"body": "b", "content": "c"}, "b"},
		{"content last", map[string]any{"content": "c"}, "c"},
		{"none", map[string]any{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Message(tc.raw, SourceWebhook)
			if m.Content != tc.want {
				t.Errorf("content = %q, want %q", m.Content, tc.want)
			}
		})
	}
}

func TestMessageExternalIDPerSource(t *testing.T) {
	raw := map[string]any{"id": "api-id", "message_id": "wh-id"}
	if got := Message(raw, SourceWebhook).ExternalID; got != "wh-id" {
		t.Errorf("webhook external id = %q, want wh-id", got)
	}
	if got := Message(raw, SourceAPI).ExternalID; got != "api-id" {
		t.Errorf("api external id = %q, want api-id", got)
	}
}

func TestWebhookMessageHasNoTimestamp(t *testing.T) {
	raw := map[string]any{"id": "m1", "timestamp": "2024-03-01T10:00:00Z"}
	m := Message(raw, SourceWebhook)
	if !m.SentAt.IsZero() {
		t.Errorf("webhook SentAt = %v, want zero (caller substitutes ingestion time)", m.SentAt)
	}
}

func TestAPIMessageTimestamp(t *testing.T) {
	raw := map[string]any{"id": "m1", "timestamp": "2024-03-01T10:00:00Z"}
	m := Message(raw, SourceAPI)
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !m.SentAt.Equal(want) {
		t.Errorf("SentAt = %v, want %v", m.SentAt, want)
	}
}

func TestMalformedTimestampDegradesToZero(t *testing.T) {
	raw := map[string]any{"id": "m1", "timestamp": "not-a-date"}
	m := Message(raw, SourceAPI)
	if !m.SentAt.IsZero() {
		t.Errorf("SentAt = %v, want zero for malformed timestamp", m.SentAt)
	}
}

func TestTimestampVariants(t *testing.T) {
	cases := []struct {
		name string
		val  any
		zero bool
	}{
		{"rfc3339 z", "2024-03-01T10:00:00Z", false},
		{"rfc3339 offset", "2024-03-01T10:00:00+02:00", false},
		{"no tz", "2024-03-01T10:00:00", false},
		{"date only", "2024-03-01", false},
		{"unix seconds", float64(1709287200), false},
		{"unix millis", float64(1709287200000), false},
		{"garbage", "yesterday", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseTime(tc.val)
			if got.IsZero() != tc.zero {
				t.Errorf("parseTime(%v) = %v, zero = %v, want zero = %v", tc.val, got, got.IsZero(), tc.zero)
			}
		})
	}
}

func TestAttachmentsSingleObjectCoerced(t *testing.T) {
	raw := map[string]any{
		"id": "m1",
		"attachment": map[string]any{
			"id":           "a1",
			"content_type": "image/jpeg",
			"name":         "photo.jpg",
			"size":         float64(2048),
		},
	}
	m := Message(raw, SourceWebhook)
	if len(m.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(m.Attachments))
	}
	a := m.Attachments[0]
	if a.MimeType != "image/jpeg" || a.Filename != "photo.jpg" || a.Size != 2048 {
		t.Errorf("attachment = %+v", a)
	}
}

func TestAttachmentsHeterogeneousShapes(t *testing.T) {
	raw := map[string]any{
		"id": "m1",
		"attachments": []any{
			map[string]any{"type": "application/pdf", "filename": "doc.pdf"},
			map[string]any{"content_type": "audio/ogg", "name": "voice.ogg", "url": "https://x/v"},
		},
	}
	m := Message(raw, SourceAPI)
	if len(m.Attachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(m.Attachments))
	}
	if m.Attachments[0].MimeType != "application/pdf" || m.Attachments[0].Filename != "doc.pdf" {
		t.Errorf("attachment[0] = %+v", m.Attachments[0])
	}
	if m.Attachments[1].MimeType != "audio/ogg" || m.Attachments[1].URL != "https://x/v" {
		t.Errorf("attachment[1] = %+v", m.Attachments[1])
	}
}

func TestNoPlaceholderForAttachmentOnlyMessage(t *testing.T) {
	raw := map[string]any{
		"id":          "m1",
		"attachments": []any{map[string]any{"type": "image/png"}},
	}
	m := Message(raw, SourceWebhook)
	if m.Content != "" {
		t.Errorf("content = %q, want empty (no placeholder synthesized)", m.Content)
	}
}

func TestAttendee(t *testing.T) {
	raw := map[string]any{
		"attendee_id":          "att-1",
		"attendee_provider_id": "27720720045@s.whatsapp.net",
		"attendee_name":        "Alice",
		"is_self":              false,
	}
	a := Attendee(raw, SourceAPI)
	if a.ExternalID != "att-1" || a.ProviderID != "27720720045@s.whatsapp.net" || a.Name != "Alice" {
		t.Errorf("attendee = %+v", a)
	}
	if a.IsSelf {
		t.Error("IsSelf = true, want false")
	}
}

func TestConversationPerSource(t *testing.T) {
	raw := map[string]any{
		"id":           "chat-1",
		"name":         "Team",
		"unread_count": float64(3),
		"is_group":     true,
		"timestamp":    "2024-03-01T10:00:00Z",
	}
	c := Conversation(raw, SourceAPI)
	if c.ExternalThreadID != "chat-1" || c.Subject != "Team" || c.UnreadCount != 3 || !c.IsGroup {
		t.Errorf("conversation = %+v", c)
	}
	if c.LastMessageAt.IsZero() {
		t.Error("LastMessageAt is zero")
	}
}

func TestInvalidSourcePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid source")
		}
	}()
	Message(map[string]any{}, Source("smoke-signal"))
}
