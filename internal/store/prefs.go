package store

import (
	"database/sql"
	"errors"
	"time"
)

// GetPref returns the stored value for key, or "" and false when unset.
func (db *DB) GetPref(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetPref stores value under key, overwriting any previous value.
func (db *DB) SetPref(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO prefs (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// DeletePref removes a stored key. No-op when the key is absent.
func (db *DB) DeletePref(key string) error {
	_, err := db.Exec(`DELETE FROM prefs WHERE key = ?`, key)
	return err
}
