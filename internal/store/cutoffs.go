package store

import (
	"database/sql"
	"errors"
	"time"
)

// GetCutoffs returns the stored watermarks for peer. Zero values when the
// peer has no row yet.
func (db *DB) GetCutoffs(peer string) (Cutoffs, error) {
	c := Cutoffs{Peer: peer}
	err := db.QueryRow(`SELECT notify_cutoff, clear_cutoff FROM cutoffs WHERE peer = ?`, peer).
		Scan(&c.NotifyCutoff, &c.ClearCutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	return c, nil
}

// AdvanceNotifyCutoff moves the notify watermark for peer forward to ts.
// The write is a no-op unless ts strictly exceeds the stored value, which
// makes it idempotent and safe under replay or out-of-order delivery.
func (db *DB) AdvanceNotifyCutoff(peer string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO cutoffs (peer, notify_cutoff, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(peer) DO UPDATE SET
			notify_cutoff = MAX(cutoffs.notify_cutoff, excluded.notify_cutoff),
			updated_at = excluded.updated_at`,
		peer, ts, now)
	return err
}

// AdvanceClearCutoff moves the clear watermark for peer forward to ts,
// with the same monotonic no-op semantics as AdvanceNotifyCutoff.
func (db *DB) AdvanceClearCutoff(peer string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO cutoffs (peer, clear_cutoff, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(peer) DO UPDATE SET
			clear_cutoff = MAX(cutoffs.clear_cutoff, excluded.clear_cutoff),
			updated_at = excluded.updated_at`,
		peer, ts, now)
	return err
}

// ListCutoffs returns the watermarks for every known peer.
func (db *DB) ListCutoffs() ([]Cutoffs, error) {
	rows, err := db.Query(`SELECT peer, notify_cutoff, clear_cutoff FROM cutoffs ORDER BY peer`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Cutoffs
	for rows.Next() {
		var c Cutoffs
		if err := rows.Scan(&c.Peer, &c.NotifyCutoff, &c.ClearCutoff); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
