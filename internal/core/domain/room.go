package domain

import "time"

// RoomInfo is the relay-side view of a signaling room. Rooms exist
// only on the relay: they are created on first join and deleted when
// the last member leaves.
type RoomInfo struct {
	ID          string    `json:"room_id"`
	MemberCount int       `json:"member_count"`
	Members     []PeerID  `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}
