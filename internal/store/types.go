package store

// Channel represents one connected provider account. It owns conversations,
// messages, and attendees, and is created lazily on first sync.
type Channel struct {
	ID                    int64
	AccountID             string
	ChannelType           string
	BusinessIdentifier    string
	Status                string // active, disabled, auth_error
	LastSyncAt            int64
	LastSyncError         string
	ConsecutiveSyncErrors int
}

// Conversation is a thread scoped to one channel, unique on
// (channel_id, external_thread_id).
type Conversation struct {
	ID               int64
	ChannelID        int64
	ExternalThreadID string
	Subject          string
	Status           string // active, archived, spam, deleted
	MessageCount     int
	LastMessageAt    int64
	UnreadCount      int
	SyncStatus       string // pending, synced, failed, partial
	SyncErrorCount   int
	SyncErrorMessage string
	IsHot            bool
	LastAccessedAt   int64
	Metadata         string // raw provider payload, attendee list, flags (JSON)
}

// Attendee is a provider-side participant, unique on
// (channel_id, external_attendee_id) and (channel_id, provider_id), each
// enforced only for non-empty ids. Attendees are never deleted, only marked
// stale/error via SyncStatus.
type Attendee struct {
	ID                 int64
	ChannelID          int64
	ExternalAttendeeID string
	ProviderID         string
	Name               string
	PictureURL         string
	IsSelf             bool
	SyncStatus         string // synced, stale, error
	Metadata           string
}

// Message belongs to one channel and, when resolvable, one conversation.
// Content is immutable once created; only status, sync fields, and metadata
// may change. Unique on (channel_id, external_message_id) when the external
// id is non-empty.
type Message struct {
	ID                int64
	ChannelID         int64
	ConversationID    int64 // 0 when not yet resolved to a conversation
	ExternalMessageID string
	Direction         string // inbound, outbound
	Content           string
	Subject           string
	ContactEmail      string
	ContactPhone      string
	Status            string // pending, sent, delivered, read, failed
	SentAt            int64
	ReceivedAt        int64
	SyncStatus        string // pending, synced, failed
	IsLocalOnly       bool
	Metadata          string
}

// Message status progression ranks. Status updates only move forward;
// a delayed "delivered" webhook never downgrades a "read" message.
var statusRank = map[string]int{
	"pending":   0,
	"sent":      1,
	"delivered": 2,
	"read":      3,
}

// StatusAdvances reports whether moving from to next is a forward step.
// "failed" is terminal-but-reachable from the pre-delivery states.
func StatusAdvances(from, to string) bool {
	if to == "" || from == to {
		return false
	}
	if to == "failed" {
		return statusRank[from] < statusRank["delivered"]
	}
	fr, fok := statusRank[from]
	tr, tok := statusRank[to]
	if !tok {
		return false
	}
	if !fok { // from "failed" or unknown: allow explicit recovery
		return true
	}
	return tr > fr
}
