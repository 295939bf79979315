package domain

// RoomID is the opaque meeting code participants join by
// (e.g. "ABCD-EFGH-1234"). Rooms come into existence on first join
// and vanish when the last member leaves.
type RoomID string
