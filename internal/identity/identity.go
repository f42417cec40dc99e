// Package identity determines message direction and extracts a stable
// external-contact key (phone, email, or group id) from normalized provider
// payloads. The upstream issues no canonical contact identifiers, so
// resolution is an ordered chain of heuristic strategies; the first one
// yielding a non-self address wins.
package identity

import "strings"

// Direction of a message relative to the owning account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Confidence grades how trustworthy a resolution is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AccountContext carries the owning account's known identifiers.
type AccountContext struct {
	AccountID       string
	ChannelType     string
	BusinessAddress string // provider address or bare number of the account itself
}

// Resolution is the outcome of direction + contact identification. Resolve
// never fails: an undeterminable identity yields ContactPhone == "" and
// ConfidenceLow, never a fabricated value.
type Resolution struct {
	Direction    Direction
	ContactPhone string
	ContactEmail string
	// ContactKey is the stable external key for the counterparty: the
	// extracted phone, the email, or the group id.
	ContactKey  string
	DisplayName string
	IsGroup     bool
	Confidence  Confidence
	Strategy    string
}

type candidate struct {
	address    string
	name       string
	confidence Confidence
	strategy   string
}

// strategies are tried in priority order; each is pure and independently
// testable. A nil return means "no opinion".
var strategies = []func(AccountContext, map[string]any) *candidate{
	fromProviderChatID,
	fromSenderObject,
	fromAttendees,
	fromLegacyFields,
}

// Resolve determines direction and counterparty identity for a raw payload.
// eventType, when present, is the webhook event type (message_sent forces
// outbound).
func Resolve(acct AccountContext, raw map[string]any, eventType string) Resolution {
	if raw == nil {
		raw = map[string]any{}
	}

	dir := resolveDirection(acct, raw, eventType)

	chatID := rawStr(raw, "provider_chat_id", "chat_id", "chatId", "conversation_id")
	if IsGroupAddress(chatID) {
		// Group chats have no individual counterparty phone.
		return Resolution{
			Direction:  dir,
			ContactKey: chatID,
			IsGroup:    true,
			Confidence: ConfidenceHigh,
			Strategy:   "group_chat",
		}
	}

	for _, s := range strategies {
		c := s(acct, raw)
		if c == nil || c.address == "" {
			continue
		}
		if sameAddress(c.address, acct.BusinessAddress) {
			continue
		}
		return buildResolution(dir, c)
	}

	return Resolution{
		Direction:  dir,
		Confidence: ConfidenceLow,
		Strategy:   "none",
	}
}

func buildResolution(dir Direction, c *candidate) Resolution {
	r := Resolution{
		Direction:   dir,
		DisplayName: c.name,
		Confidence:  c.confidence,
		Strategy:    c.strategy,
	}
	if phone := ExtractPhone(c.address); phone != "" {
		r.ContactPhone = phone
		r.ContactKey = phone
		return r
	}
	if isEmailAddress(c.address) {
		r.ContactEmail = strings.ToLower(c.address)
		r.ContactKey = r.ContactEmail
		return r
	}
	r.ContactKey = c.address
	return r
}

// resolveDirection is independent of contact extraction: an explicit
// message_sent event or a self sender means outbound, everything else is
// inbound.
func resolveDirection(acct AccountContext, raw map[string]any, eventType string) Direction {
	if eventType == "message_sent" {
		return DirectionOutbound
	}
	if sender, ok := raw["sender"].(map[string]any); ok {
		if rawBool(sender, "is_self", "is_me") {
			return DirectionOutbound
		}
		addr := rawStr(sender, "attendee_provider_id", "provider_id", "id", "phone")
		if addr != "" && sameAddress(addr, acct.BusinessAddress) {
			return DirectionOutbound
		}
	}
	if from := rawStr(raw, "from"); from != "" && sameAddress(from, acct.BusinessAddress) {
		return DirectionOutbound
	}
	return DirectionInbound
}

// fromProviderChatID: in provider-chat addressing the chat id IS the
// counterparty address for one-to-one chats. If it differs from the owning
// account's business address, the counterparty is that address.
func fromProviderChatID(acct AccountContext, raw map[string]any) *candidate {
	chatID := rawStr(raw, "provider_chat_id", "chat_id", "chatId", "conversation_id")
	if chatID == "" || sameAddress(chatID, acct.BusinessAddress) {
		return nil
	}
	return &candidate{
		address:    chatID,
		name:       rawStr(raw, "chat_name", "name"),
		confidence: ConfidenceHigh,
		strategy:   "provider_chat_id",
	}
}

// fromSenderObject inspects an explicit sender object's provider id.
func fromSenderObject(acct AccountContext, raw map[string]any) *candidate {
	sender, ok := raw["sender"].(map[string]any)
	if !ok {
		return nil
	}
	addr := rawStr(sender, "attendee_provider_id", "provider_id", "id", "phone")
	if addr == "" {
		return nil
	}
	if sameAddress(addr, acct.BusinessAddress) {
		// Outbound: the counterparty is the recipient, not the sender.
		if to := rawStr(raw, "to", "recipient"); to != "" {
			return &candidate{address: to, confidence: ConfidenceHigh, strategy: "sender_object"}
		}
		return nil
	}
	return &candidate{
		address:    addr,
		name:       rawStr(sender, "attendee_name", "name", "display_name", "push_name"),
		confidence: ConfidenceHigh,
		strategy:   "sender_object",
	}
}

// fromAttendees scans the attendees array excluding the business address.
func fromAttendees(acct AccountContext, raw map[string]any) *candidate {
	items, ok := raw["attendees"].([]any)
	if !ok {
		return nil
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if rawBool(m, "is_self", "is_me") {
			continue
		}
		addr := rawStr(m, "attendee_provider_id", "provider_id", "id", "phone")
		if addr == "" || sameAddress(addr, acct.BusinessAddress) {
			continue
		}
		return &candidate{
			address:    addr,
			name:       rawStr(m, "attendee_name", "name", "display_name"),
			confidence: ConfidenceMedium,
			strategy:   "attendees_scan",
		}
	}
	return nil
}

// fromLegacyFields falls back to flat from/phone/to/recipient fields with
// reduced confidence.
func fromLegacyFields(acct AccountContext, raw map[string]any) *candidate {
	for _, key := range []string{"from", "phone", "to", "recipient"} {
		addr := rawStr(raw, key)
		if addr == "" || sameAddress(addr, acct.BusinessAddress) {
			continue
		}
		return &candidate{
			address:    addr,
			confidence: ConfidenceLow,
			strategy:   "legacy_" + key,
		}
	}
	return nil
}

func rawStr(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func rawBool(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := raw[k].(bool); ok && v {
			return true
		}
	}
	return false
}
