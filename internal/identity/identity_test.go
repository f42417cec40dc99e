package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var acct = AccountContext{
	AccountID:       "acc-1",
	ChannelType:     "whatsapp",
	BusinessAddress: "27820000000",
}

func TestProviderChatIDInbound(t *testing.T) {
	raw := map[string]any{
		"provider_chat_id": "27720720045@s.whatsapp.net",
		"text":             "Hello",
	}
	r := Resolve(acct, raw, "message_received")

	assert.Equal(t, DirectionInbound, r.Direction)
	assert.Equal(t, "+27720720045", r.ContactPhone)
	assert.Equal(t, "+27720720045", r.ContactKey)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
	assert.Equal(t, "provider_chat_id", r.Strategy)
}

func TestChatIDMatchingBusinessFallsThrough(t *testing.T) {
	raw := map[string]any{
		"chat_id": "27820000000@s.whatsapp.net",
		"sender":  map[string]any{"provider_id": "27731112222@s.whatsapp.net", "name": "Bob"},
	}
	r := Resolve(acct, raw, "")

	assert.Equal(t, "sender_object", r.Strategy)
	assert.Equal(t, "+27731112222", r.ContactPhone)
	assert.Equal(t, "Bob", r.DisplayName)
}

func TestSenderIsSelfMeansOutbound(t *testing.T) {
	raw := map[string]any{
		"sender": map[string]any{"provider_id": "27820000000@s.whatsapp.net", "is_self": true},
		"to":     "27720720045@s.whatsapp.net",
	}
	r := Resolve(acct, raw, "")

	assert.Equal(t, DirectionOutbound, r.Direction)
	assert.Equal(t, "+27720720045", r.ContactPhone)
}

func TestMessageSentEventForcesOutbound(t *testing.T) {
	raw := map[string]any{"provider_chat_id": "27720720045@s.whatsapp.net"}
	r := Resolve(acct, raw, "message_sent")

	assert.Equal(t, DirectionOutbound, r.Direction)
	assert.Equal(t, "+27720720045", r.ContactPhone)
}

func TestAttendeesScanSkipsBusiness(t *testing.T) {
	raw := map[string]any{
		"attendees": []any{
			map[string]any{"attendee_provider_id": "27820000000@s.whatsapp.net", "is_self": true},
			map[string]any{"attendee_provider_id": "27731112222@s.whatsapp.net", "attendee_name": "Carol"},
		},
	}
	r := Resolve(acct, raw, "")

	assert.Equal(t, "attendees_scan", r.Strategy)
	assert.Equal(t, ConfidenceMedium, r.Confidence)
	assert.Equal(t, "+27731112222", r.ContactPhone)
	assert.Equal(t, "Carol", r.DisplayName)
}

func TestLegacyFieldsReducedConfidence(t *testing.T) {
	raw := map[string]any{"from": "27731112222"}
	r := Resolve(acct, raw, "")

	assert.Equal(t, "legacy_from", r.Strategy)
	assert.Equal(t, ConfidenceLow, r.Confidence)
	assert.Equal(t, "+27731112222", r.ContactPhone)
}

func TestGroupChatShortCircuits(t *testing.T) {
	raw := map[string]any{
		"provider_chat_id": "120363041234567890@g.us",
		"sender":           map[string]any{"provider_id": "27731112222@s.whatsapp.net"},
	}
	r := Resolve(acct, raw, "")

	require.True(t, r.IsGroup)
	assert.Equal(t, "group_chat", r.Strategy)
	assert.Equal(t, "120363041234567890@g.us", r.ContactKey)
	assert.Empty(t, r.ContactPhone, "group chats must not extract an individual phone")
}

func TestEmailCounterparty(t *testing.T) {
	emailAcct := AccountContext{AccountID: "acc-2", ChannelType: "email", BusinessAddress: "support@omnidesk.io"}
	raw := map[string]any{"from": "jane.doe@example.com"}
	r := Resolve(emailAcct, raw, "")

	assert.Equal(t, "jane.doe@example.com", r.ContactEmail)
	assert.Equal(t, "jane.doe@example.com", r.ContactKey)
	assert.Empty(t, r.ContactPhone)
}

func TestNoIdentityNeverFabricates(t *testing.T) {
	r := Resolve(acct, map[string]any{"text": "hi"}, "")

	assert.Empty(t, r.ContactPhone)
	assert.Empty(t, r.ContactKey)
	assert.Equal(t, ConfidenceLow, r.Confidence)
	assert.Equal(t, "none", r.Strategy)
}

func TestNilPayloadDoesNotPanic(t *testing.T) {
	r := Resolve(acct, nil, "")
	assert.Equal(t, DirectionInbound, r.Direction)
	assert.Equal(t, ConfidenceLow, r.Confidence)
}

// Direction and confidence must be pure functions of the inputs.
func TestResolveDeterministic(t *testing.T) {
	raw := map[string]any{
		"provider_chat_id": "27720720045@s.whatsapp.net",
		"sender":           map[string]any{"provider_id": "27720720045@s.whatsapp.net", "name": "Alice"},
	}
	first := Resolve(acct, raw, "message_received")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Resolve(acct, raw, "message_received"))
	}
}

func TestExtractPhone(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{"27720720045@s.whatsapp.net", "+27720720045"},
		{"+27 72 072 0045", "+27720720045"},
		{"12345", ""},                          // too short
		{"12345678901234567890", ""},           // too long
		{"120363041234567890@g.us", ""},        // group
		{"jane@example.com", ""},               // email
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractPhone(tc.addr), "addr %q", tc.addr)
	}
}
