package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertAttendee inserts or merges an attendee, idempotent on both
// (channel_id, external_attendee_id) and (channel_id, provider_id). Returns
// whether a new row was created; a.ID is populated either way. Non-empty
// incoming fields win; empty ones never blank out stored values.
func (db *DB) UpsertAttendee(a *Attendee) (bool, error) {
	if a.ExternalAttendeeID == "" && a.ProviderID == "" {
		return false, fmt.Errorf("upsert attendee: missing external id and provider id")
	}
	if a.SyncStatus == "" {
		a.SyncStatus = "synced"
	}
	if a.Metadata == "" {
		a.Metadata = "{}"
	}

	existing, err := db.findAttendee(a.ChannelID, a.ExternalAttendeeID, a.ProviderID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, db.mergeAttendee(existing.ID, a)
	}

	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO attendees (channel_id, external_attendee_id, provider_id, name, picture_url, is_self, sync_status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ChannelID, a.ExternalAttendeeID, a.ProviderID, a.Name, a.PictureURL, a.IsSelf, a.SyncStatus, a.Metadata, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race with a concurrent writer: re-fetch and merge.
			existing, ferr := db.findAttendee(a.ChannelID, a.ExternalAttendeeID, a.ProviderID)
			if ferr != nil {
				return false, ferr
			}
			if existing == nil {
				return false, fmt.Errorf("upsert attendee: constraint hit but row not found: %w", err)
			}
			return false, db.mergeAttendee(existing.ID, a)
		}
		return false, fmt.Errorf("insert attendee: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return true, err
}

func (db *DB) mergeAttendee(id int64, a *Attendee) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE attendees SET
			provider_id = CASE WHEN ? != '' THEN ? ELSE provider_id END,
			name = CASE WHEN ? != '' THEN ? ELSE name END,
			picture_url = CASE WHEN ? != '' THEN ? ELSE picture_url END,
			is_self = ?,
			sync_status = ?,
			metadata = CASE WHEN ? != '{}' THEN ? ELSE metadata END,
			updated_at = ?
		WHERE id = ?`,
		a.ProviderID, a.ProviderID,
		a.Name, a.Name,
		a.PictureURL, a.PictureURL,
		a.IsSelf,
		a.SyncStatus,
		a.Metadata, a.Metadata,
		now, id)
	if err != nil {
		return fmt.Errorf("merge attendee: %w", err)
	}
	a.ID = id
	return nil
}

func (db *DB) findAttendee(channelID int64, externalID, providerID string) (*Attendee, error) {
	if externalID != "" {
		a, err := db.getAttendee(`channel_id = ? AND external_attendee_id = ?`, channelID, externalID)
		if err != nil || a != nil {
			return a, err
		}
	}
	if providerID != "" {
		return db.getAttendee(`channel_id = ? AND provider_id = ?`, channelID, providerID)
	}
	return nil, nil
}

// GetAttendeeByProviderID returns the attendee with the given channel-scoped
// provider address, or nil.
func (db *DB) GetAttendeeByProviderID(channelID int64, providerID string) (*Attendee, error) {
	return db.getAttendee(`channel_id = ? AND provider_id = ?`, channelID, providerID)
}

// ListAttendees returns attendees for a channel in insertion order.
func (db *DB) ListAttendees(channelID int64, limit int) ([]Attendee, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, channel_id, external_attendee_id, provider_id, name, picture_url, is_self, sync_status, metadata
		FROM attendees WHERE channel_id = ? ORDER BY id LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.ExternalAttendeeID, &a.ProviderID, &a.Name, &a.PictureURL, &a.IsSelf, &a.SyncStatus, &a.Metadata); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) getAttendee(where string, args ...any) (*Attendee, error) {
	var a Attendee
	err := db.QueryRow(`
		SELECT id, channel_id, external_attendee_id, provider_id, name, picture_url, is_self, sync_status, metadata
		FROM attendees WHERE `+where, args...).
		Scan(&a.ID, &a.ChannelID, &a.ExternalAttendeeID, &a.ProviderID, &a.Name, &a.PictureURL, &a.IsSelf, &a.SyncStatus, &a.Metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkAttendeesStale flags all attendees of a channel as stale ahead of a
// full resync; the sync pass flips them back to synced as it sees them.
func (db *DB) MarkAttendeesStale(channelID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE attendees SET sync_status = 'stale', updated_at = ? WHERE channel_id = ?`, now, channelID)
	return err
}
