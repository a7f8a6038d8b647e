package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertPresence records an observed presence transition. Status always
// reflects the newest event; last_seen_at only moves forward so a stale
// broadcast cannot roll back a fresher direct snapshot.
func (db *DB) UpsertPresence(p *PresenceEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO presence (username, status, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			status = excluded.status,
			last_seen_at = MAX(presence.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at`,
		p.Username, p.Status, p.LastSeenAt, now)
	return err
}

// GetPresence returns the cached presence for username, or nil when the
// peer has never been observed.
func (db *DB) GetPresence(username string) (*PresenceEntry, error) {
	var p PresenceEntry
	err := db.QueryRow(`SELECT username, status, last_seen_at FROM presence WHERE username = ?`, username).
		Scan(&p.Username, &p.Status, &p.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPresence returns every cached presence entry.
func (db *DB) ListPresence() ([]PresenceEntry, error) {
	rows, err := db.Query(`SELECT username, status, last_seen_at FROM presence ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PresenceEntry
	for rows.Next() {
		var p PresenceEntry
		if err := rows.Scan(&p.Username, &p.Status, &p.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
