package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
}

func TestPrefs(t *testing.T) {
	db := testDB(t)

	_, ok, err := db.GetPref("push_token")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("GetPref on fresh db should report unset")
	}

	if err := db.SetPref("push_token", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPref("push_token", "tok-2"); err != nil {
		t.Fatal(err)
	}

	v, ok, err := db.GetPref("push_token")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "tok-2" {
		t.Errorf("GetPref = (%q, %v), want (tok-2, true)", v, ok)
	}

	if err := db.DeletePref("push_token"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ = db.GetPref("push_token")
	if ok {
		t.Error("GetPref after DeletePref should report unset")
	}
}

// TestNotifyCutoffMonotonic verifies the watermark property: the stored
// value always equals the max of all writes regardless of call order.
func TestNotifyCutoffMonotonic(t *testing.T) {
	db := testDB(t)

	writes := []int64{500, 1500, 1000, 1500, 200}
	for _, ts := range writes {
		if err := db.AdvanceNotifyCutoff("bob", ts); err != nil {
			t.Fatal(err)
		}
	}

	c, err := db.GetCutoffs("bob")
	if err != nil {
		t.Fatal(err)
	}
	if c.NotifyCutoff != 1500 {
		t.Errorf("notify cutoff = %d, want 1500 (max of all writes)", c.NotifyCutoff)
	}
	if c.ClearCutoff != 0 {
		t.Errorf("clear cutoff = %d, want 0 (untouched)", c.ClearCutoff)
	}
}

func TestClearCutoffIndependent(t *testing.T) {
	db := testDB(t)

	if err := db.AdvanceNotifyCutoff("bob", 2000); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceClearCutoff("bob", 900); err != nil {
		t.Fatal(err)
	}
	// A lower clear write must not regress.
	if err := db.AdvanceClearCutoff("bob", 100); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetCutoffs("bob")
	if err != nil {
		t.Fatal(err)
	}
	if c.NotifyCutoff != 2000 || c.ClearCutoff != 900 {
		t.Errorf("cutoffs = %+v, want notify 2000, clear 900", c)
	}
}

func TestGetCutoffsUnknownPeer(t *testing.T) {
	db := testDB(t)

	c, err := db.GetCutoffs("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if c.NotifyCutoff != 0 || c.ClearCutoff != 0 {
		t.Errorf("cutoffs for unknown peer = %+v, want zeros", c)
	}
}

func TestListCutoffs(t *testing.T) {
	db := testDB(t)

	if err := db.AdvanceNotifyCutoff("alice", 100); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceClearCutoff("bob", 200); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListCutoffs()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d cutoff rows, want 2", len(all))
	}
	if all[0].Peer != "alice" || all[1].Peer != "bob" {
		t.Errorf("peers = %q, %q, want alice, bob", all[0].Peer, all[1].Peer)
	}
}

func TestPresenceUpsert(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertPresence(&PresenceEntry{Username: "bob", Status: "online", LastSeenAt: 1000}); err != nil {
		t.Fatal(err)
	}
	// Stale broadcast: status update with an older last-seen.
	if err := db.UpsertPresence(&PresenceEntry{Username: "bob", Status: "offline", LastSeenAt: 500}); err != nil {
		t.Fatal(err)
	}

	p, err := db.GetPresence("bob")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("GetPresence returned nil")
	}
	if p.Status != "offline" {
		t.Errorf("status = %q, want offline (newest event wins)", p.Status)
	}
	if p.LastSeenAt != 1000 {
		t.Errorf("last_seen_at = %d, want 1000 (never moves backward)", p.LastSeenAt)
	}
}

func TestGetPresenceUnknown(t *testing.T) {
	db := testDB(t)

	p, err := db.GetPresence("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Errorf("expected nil for unknown peer, got %+v", p)
	}
}
