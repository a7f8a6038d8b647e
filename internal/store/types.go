package store

// Cutoffs holds the two independent monotonic watermarks kept per peer.
// NotifyCutoff suppresses re-alerting for messages already notified;
// ClearCutoff hides messages the user deleted for themselves. Both only
// ever advance.
type Cutoffs struct {
	Peer         string
	NotifyCutoff int64
	ClearCutoff  int64
}

// PresenceEntry is the locally cached last-known presence for a peer,
// kept so presence survives a reload without flashing to unknown.
type PresenceEntry struct {
	Username   string
	Status     string // "online" or "offline"
	LastSeenAt int64  // epoch ms, 0 = never observed
}
