package models

import "time"

// DeviceRecord marks a (username, fingerprint) pair as previously seen.
// A device only becomes known after a fully successful allow outcome;
// challenge and deny outcomes never create records. Unique per pair, and
// LastSeen >= FirstSeen always.
type DeviceRecord struct {
	ID          string
	Username    string
	Fingerprint string
	FirstSeen   time.Time
	LastSeen    time.Time
}
