package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// RoomRepository tracks relay-side room membership. The live websocket
// connections stay with the relay server itself; the repository is the
// membership view used for routing and for the admin API, and can be
// backed by Redis so several relay instances share it.
type RoomRepository interface {
	// AddMember joins a peer to a room, creating the room on first
	// join, and returns the members present before the join.
	AddMember(ctx context.Context, roomID string, peer domain.PeerID) ([]domain.PeerID, error)

	// RemoveMember leaves a room and returns the remaining member
	// count. Implementations delete the room when it reaches zero.
	RemoveMember(ctx context.Context, roomID string, peer domain.PeerID) (int, error)

	Members(ctx context.Context, roomID string) ([]domain.PeerID, error)
	ListRooms(ctx context.Context) ([]*domain.RoomInfo, error)
}
