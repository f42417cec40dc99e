package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateChannel returns the channel for the given provider account,
// creating it lazily on first sync. A concurrent creation race resolves via
// the unique constraint on account_id.
func (db *DB) GetOrCreateChannel(accountID, channelType, businessIdentifier string) (*Channel, error) {
	ch, err := db.GetChannelByAccount(accountID)
	if err != nil {
		return nil, err
	}
	if ch != nil {
		if businessIdentifier != "" && ch.BusinessIdentifier != businessIdentifier {
			now := time.Now().UnixMilli()
			if _, err := db.Exec(`UPDATE channels SET business_identifier = ?, updated_at = ? WHERE id = ?`,
				businessIdentifier, now, ch.ID); err != nil {
				return nil, fmt.Errorf("update channel identifier: %w", err)
			}
			ch.BusinessIdentifier = businessIdentifier
		}
		return ch, nil
	}

	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO channels (account_id, channel_type, business_identifier, status, created_at, updated_at)
		VALUES (?, ?, ?, 'active', ?, ?)`,
		accountID, channelType, businessIdentifier, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return db.GetChannelByAccount(accountID)
		}
		return nil, fmt.Errorf("create channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Channel{
		ID:                 id,
		AccountID:          accountID,
		ChannelType:        channelType,
		BusinessIdentifier: businessIdentifier,
		Status:             "active",
	}, nil
}

// GetChannelByAccount returns the channel for an account id, or nil.
func (db *DB) GetChannelByAccount(accountID string) (*Channel, error) {
	var c Channel
	err := db.QueryRow(`
		SELECT id, account_id, channel_type, business_identifier, status,
		       last_sync_at, last_sync_error, consecutive_sync_errors
		FROM channels WHERE account_id = ?`, accountID).
		Scan(&c.ID, &c.AccountID, &c.ChannelType, &c.BusinessIdentifier, &c.Status,
			&c.LastSyncAt, &c.LastSyncError, &c.ConsecutiveSyncErrors)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChannel returns a channel by id, or nil.
func (db *DB) GetChannel(id int64) (*Channel, error) {
	var c Channel
	err := db.QueryRow(`
		SELECT id, account_id, channel_type, business_identifier, status,
		       last_sync_at, last_sync_error, consecutive_sync_errors
		FROM channels WHERE id = ?`, id).
		Scan(&c.ID, &c.AccountID, &c.ChannelType, &c.BusinessIdentifier, &c.Status,
			&c.LastSyncAt, &c.LastSyncError, &c.ConsecutiveSyncErrors)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordSyncSuccess clears the error streak and stamps the last successful
// sync time.
func (db *DB) RecordSyncSuccess(channelID int64, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE channels
		SET last_sync_at = ?, last_sync_error = '', consecutive_sync_errors = 0, updated_at = ?
		WHERE id = ?`, at, now, channelID)
	return err
}

// RecordSyncError increments the consecutive error counter and stores the
// latest error message.
func (db *DB) RecordSyncError(channelID int64, msg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE channels
		SET last_sync_error = ?, consecutive_sync_errors = consecutive_sync_errors + 1, updated_at = ?
		WHERE id = ?`, msg, now, channelID)
	return err
}

// SetChannelStatus updates the account status (active, disabled, auth_error).
func (db *DB) SetChannelStatus(channelID int64, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE channels SET status = ?, updated_at = ? WHERE id = ?`, status, now, channelID)
	return err
}
