package store

// Read-only queries used by the gap detector. These read committed state
// only; the sync path commits message-per-message, so a concurrently running
// sync never exposes partial batches here.

// RecentConversationIDs returns ids of conversations with message activity
// at or after the given cutoff, most recent first.
func (db *DB) RecentConversationIDs(channelID int64, sinceMs int64) ([]int64, error) {
	rows, err := db.Query(`
		SELECT id FROM conversations
		WHERE channel_id = ? AND last_message_at >= ? AND status != 'deleted'
		ORDER BY last_message_at DESC`, channelID, sinceMs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageExternalIDs returns all non-empty external message ids for a
// conversation.
func (db *DB) MessageExternalIDs(conversationID int64) ([]string, error) {
	rows, err := db.Query(`
		SELECT external_message_id FROM messages
		WHERE conversation_id = ? AND external_message_id != ''`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageSentTimes returns sent timestamps for a conversation at or after
// the cutoff, ascending.
func (db *DB) MessageSentTimes(conversationID int64, sinceMs int64) ([]int64, error) {
	rows, err := db.Query(`
		SELECT sent_at FROM messages
		WHERE conversation_id = ? AND sent_at >= ?
		ORDER BY sent_at ASC`, conversationID, sinceMs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var times []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// CountStuckPendingSync counts messages whose sync status has sat in
// 'pending' since before the cutoff.
func (db *DB) CountStuckPendingSync(channelID int64, beforeMs int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE channel_id = ? AND sync_status = 'pending' AND created_at < ?`,
		channelID, beforeMs).Scan(&n)
	return n, err
}

// CountStuckOutbound counts outbound messages stuck at 'sent' (never
// advancing to delivered/read) since before the cutoff.
func (db *DB) CountStuckOutbound(channelID int64, beforeMs int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE channel_id = ? AND direction = 'outbound' AND status = 'sent' AND updated_at < ?`,
		channelID, beforeMs).Scan(&n)
	return n, err
}

// ConversationThreadID returns the external thread id for a conversation id.
func (db *DB) ConversationThreadID(conversationID int64) (string, error) {
	var tid string
	err := db.QueryRow(`SELECT external_thread_id FROM conversations WHERE id = ?`, conversationID).Scan(&tid)
	return tid, err
}
