package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or merges a message, idempotent on
// (channel_id, external_message_id) for non-empty external ids. Message
// content is immutable: a merge only touches status (monotonic), sync
// fields, and metadata. On creation the parent conversation's denormalized
// counters (message_count, last_message_at, unread_count) are updated in the
// same transaction. Returns whether a new row was created; m.ID is populated
// either way.
func (db *DB) UpsertMessage(m *Message) (bool, error) {
	return db.upsertMessage(m, true)
}

// UpsertHistoricalMessage is UpsertMessage for API-pulled history. The
// provider's conversation-level unread_count is authoritative on that path,
// so created messages bump message_count and last_message_at but never
// unread_count.
func (db *DB) UpsertHistoricalMessage(m *Message) (bool, error) {
	return db.upsertMessage(m, false)
}

func (db *DB) upsertMessage(m *Message, bumpUnread bool) (bool, error) {
	if m.Direction == "" {
		m.Direction = "inbound"
	}
	if m.Status == "" {
		m.Status = "pending"
	}
	if m.SyncStatus == "" {
		m.SyncStatus = "synced"
	}
	if m.Metadata == "" {
		m.Metadata = "{}"
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := upsertMessageTx(tx, m, bumpUnread)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func upsertMessageTx(tx *sql.Tx, m *Message, bumpUnread bool) (bool, error) {
	if m.ExternalMessageID != "" {
		existing, err := getMessageByExternalTx(tx, m.ChannelID, m.ExternalMessageID)
		if err != nil {
			return false, err
		}
		if existing != nil {
			return false, mergeMessageTx(tx, existing, m)
		}
	}

	now := time.Now().UnixMilli()
	var convID any
	if m.ConversationID != 0 {
		convID = m.ConversationID
	}
	res, err := tx.Exec(`
		INSERT INTO messages (channel_id, conversation_id, external_message_id, direction, content,
			subject, contact_email, contact_phone, status, sent_at, received_at,
			sync_status, is_local_only, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelID, convID, m.ExternalMessageID, m.Direction, m.Content,
		m.Subject, m.ContactEmail, m.ContactPhone, m.Status, m.SentAt, m.ReceivedAt,
		m.SyncStatus, m.IsLocalOnly, m.Metadata, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent webhook/poller race on the same external id:
			// the row exists now, re-fetch and merge instead of failing.
			existing, ferr := getMessageByExternalTx(tx, m.ChannelID, m.ExternalMessageID)
			if ferr != nil {
				return false, ferr
			}
			if existing == nil {
				return false, fmt.Errorf("upsert message: constraint hit but row not found: %w", err)
			}
			return false, mergeMessageTx(tx, existing, m)
		}
		return false, fmt.Errorf("insert message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return false, err
	}

	if m.ConversationID != 0 {
		if err := bumpConversationCountersTx(tx, m, bumpUnread); err != nil {
			return false, err
		}
	}
	return true, nil
}

// bumpConversationCountersTx maintains the parent conversation's
// denormalized counters for a newly created message.
func bumpConversationCountersTx(tx *sql.Tx, m *Message, bumpUnread bool) error {
	now := time.Now().UnixMilli()
	unreadDelta := 0
	if bumpUnread && m.Direction == "inbound" && m.Status != "read" {
		unreadDelta = 1
	}
	lastAt := m.SentAt
	if lastAt == 0 {
		lastAt = m.ReceivedAt
	}
	_, err := tx.Exec(`
		UPDATE conversations SET
			message_count = message_count + 1,
			unread_count = unread_count + ?,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?
		WHERE id = ?`, unreadDelta, lastAt, now, m.ConversationID)
	if err != nil {
		return fmt.Errorf("bump conversation counters: %w", err)
	}
	return nil
}

// mergeMessageTx updates only the mutable fields of an existing message.
func mergeMessageTx(tx *sql.Tx, existing, m *Message) error {
	now := time.Now().UnixMilli()

	status := existing.Status
	if StatusAdvances(existing.Status, m.Status) {
		status = m.Status
	}
	convID := existing.ConversationID
	if convID == 0 {
		convID = m.ConversationID
	}
	var convArg any
	if convID != 0 {
		convArg = convID
	}

	_, err := tx.Exec(`
		UPDATE messages SET
			conversation_id = ?,
			status = ?,
			sync_status = ?,
			is_local_only = ?,
			metadata = CASE WHEN ? != '{}' THEN ? ELSE metadata END,
			updated_at = ?
		WHERE id = ?`,
		convArg, status, m.SyncStatus,
		existing.IsLocalOnly && m.IsLocalOnly,
		m.Metadata, m.Metadata,
		now, existing.ID)
	if err != nil {
		return fmt.Errorf("merge message: %w", err)
	}
	m.ID = existing.ID
	m.ConversationID = convID
	m.Status = status
	m.Content = existing.Content
	return nil
}

const messageColumns = `id, channel_id, COALESCE(conversation_id, 0), external_message_id, direction,
	content, subject, contact_email, contact_phone, status, sent_at, received_at,
	sync_status, is_local_only, metadata`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.ConversationID, &m.ExternalMessageID, &m.Direction,
		&m.Content, &m.Subject, &m.ContactEmail, &m.ContactPhone, &m.Status, &m.SentAt, &m.ReceivedAt,
		&m.SyncStatus, &m.IsLocalOnly, &m.Metadata)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func getMessageByExternalTx(tx *sql.Tx, channelID int64, externalID string) (*Message, error) {
	m, err := scanMessage(tx.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE channel_id = ? AND external_message_id = ?`,
		channelID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMessageByExternalID returns the message with the given channel-scoped
// external id, or nil.
func (db *DB) GetMessageByExternalID(channelID int64, externalID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE channel_id = ? AND external_message_id = ?`,
		channelID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a conversation using keyset pagination
// by sent time descending.
func (db *DB) ListMessages(conversationID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// AdvanceMessageStatus moves a message's delivery status forward (pending →
// sent → delivered → read). Out-of-order or duplicate webhook deliveries are
// no-ops. Returns whether the status changed.
func (db *DB) AdvanceMessageStatus(channelID int64, externalID, status string) (bool, error) {
	existing, err := db.GetMessageByExternalID(channelID, externalID)
	if err != nil {
		return false, err
	}
	if existing == nil || !StatusAdvances(existing.Status, status) {
		return false, nil
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`, status, now, existing.ID)
	return err == nil, err
}

// MessageCount returns the total number of stored messages for a channel.
func (db *DB) MessageCount(channelID int64) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&n)
	return n, err
}
