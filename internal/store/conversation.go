package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or merges a conversation, idempotent on
// (channel_id, external_thread_id). Returns whether a new row was created;
// c.ID is populated either way. An existing non-empty subject is preserved —
// resync never renames a conversation.
func (db *DB) UpsertConversation(c *Conversation) (bool, error) {
	if c.ExternalThreadID == "" {
		return false, fmt.Errorf("upsert conversation: missing external thread id")
	}
	if c.Status == "" {
		c.Status = "active"
	}
	if c.SyncStatus == "" {
		c.SyncStatus = "pending"
	}
	if c.Metadata == "" {
		c.Metadata = "{}"
	}

	existing, err := db.GetConversationByThread(c.ChannelID, c.ExternalThreadID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, db.mergeConversation(existing, c)
	}

	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO conversations (channel_id, external_thread_id, subject, status, message_count,
			last_message_at, unread_count, sync_status, sync_error_count, sync_error_message,
			is_hot, last_accessed_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, 0, '', 0, 0, ?, ?, ?)`,
		c.ChannelID, c.ExternalThreadID, c.Subject, c.Status,
		c.LastMessageAt, c.UnreadCount, c.SyncStatus, c.Metadata, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := db.GetConversationByThread(c.ChannelID, c.ExternalThreadID)
			if ferr != nil {
				return false, ferr
			}
			if existing == nil {
				return false, fmt.Errorf("upsert conversation: constraint hit but row not found: %w", err)
			}
			return false, db.mergeConversation(existing, c)
		}
		return false, fmt.Errorf("insert conversation: %w", err)
	}
	c.ID, err = res.LastInsertId()
	c.MessageCount = 0
	return true, err
}

// mergeConversation applies the mutable-field merge: subject only fills a
// blank, last_message_at only moves forward, counters owned by message
// inserts (message_count) are untouched.
func (db *DB) mergeConversation(existing, c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			subject = CASE WHEN subject = '' AND ? != '' THEN ? ELSE subject END,
			status = ?,
			last_message_at = MAX(last_message_at, ?),
			unread_count = ?,
			metadata = CASE WHEN ? != '{}' THEN ? ELSE metadata END,
			updated_at = ?
		WHERE id = ?`,
		c.Subject, c.Subject,
		c.Status,
		c.LastMessageAt,
		c.UnreadCount,
		c.Metadata, c.Metadata,
		now, existing.ID)
	if err != nil {
		return fmt.Errorf("merge conversation: %w", err)
	}
	c.ID = existing.ID
	c.MessageCount = existing.MessageCount
	if existing.Subject != "" {
		c.Subject = existing.Subject
	}
	return nil
}

const conversationColumns = `id, channel_id, external_thread_id, subject, status, message_count,
	last_message_at, unread_count, sync_status, sync_error_count, sync_error_message,
	is_hot, last_accessed_at, metadata`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ChannelID, &c.ExternalThreadID, &c.Subject, &c.Status, &c.MessageCount,
		&c.LastMessageAt, &c.UnreadCount, &c.SyncStatus, &c.SyncErrorCount, &c.SyncErrorMessage,
		&c.IsHot, &c.LastAccessedAt, &c.Metadata)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation returns a conversation by id, or nil.
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetConversationByThread returns a conversation by its channel-scoped
// external thread id, or nil.
func (db *DB) GetConversationByThread(channelID int64, externalThreadID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE channel_id = ? AND external_thread_id = ?`,
		channelID, externalThreadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListConversations returns conversations sorted by last message time
// descending.
func (db *DB) ListConversations(channelID int64, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE channel_id = ? AND status != 'deleted'
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, channelID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// TouchConversationAccess records a read access for hot-conversation
// tracking. A conversation counts as hot while last_accessed_at stays within
// the last hour; readers apply the cutoff.
func (db *DB) TouchConversationAccess(id int64, at int64) error {
	_, err := db.Exec(`
		UPDATE conversations SET last_accessed_at = ?, is_hot = 1
		WHERE id = ?`, at, id)
	return err
}

// MarkConversationSync records the per-conversation sync outcome. Failures
// increment the error counter; success resets it.
func (db *DB) MarkConversationSync(id int64, syncStatus, errMsg string) error {
	now := time.Now().UnixMilli()
	if syncStatus == "failed" || syncStatus == "partial" {
		_, err := db.Exec(`
			UPDATE conversations
			SET sync_status = ?, sync_error_count = sync_error_count + 1, sync_error_message = ?, updated_at = ?
			WHERE id = ?`, syncStatus, errMsg, now, id)
		return err
	}
	_, err := db.Exec(`
		UPDATE conversations
		SET sync_status = ?, sync_error_count = 0, sync_error_message = '', updated_at = ?
		WHERE id = ?`, syncStatus, now, id)
	return err
}
