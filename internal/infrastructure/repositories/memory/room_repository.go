package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

type room struct {
	members   map[domain.PeerID]struct{}
	createdAt time.Time
}

// MemoryRoomRepository is the single-instance membership store. Rooms
// are created on first join and removed when the last member leaves.
type MemoryRoomRepository struct {
	rooms map[string]*room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[string]*room),
	}
}

func (r *MemoryRoomRepository) AddMember(ctx context.Context, roomID string, peer domain.PeerID) ([]domain.PeerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{
			members:   make(map[domain.PeerID]struct{}),
			createdAt: time.Now(),
		}
		r.rooms[roomID] = rm
	}

	existing := make([]domain.PeerID, 0, len(rm.members))
	for member := range rm.members {
		if member != peer {
			existing = append(existing, member)
		}
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i] < existing[j] })

	rm.members[peer] = struct{}{}
	return existing, nil
}

func (r *MemoryRoomRepository) RemoveMember(ctx context.Context, roomID string, peer domain.PeerID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return 0, domain.ErrRoomNotFound
	}

	delete(rm.members, peer)
	remaining := len(rm.members)
	if remaining == 0 {
		delete(r.rooms, roomID)
	}
	return remaining, nil
}

func (r *MemoryRoomRepository) Members(ctx context.Context, roomID string) ([]domain.PeerID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	members := make([]domain.PeerID, 0, len(rm.members))
	for member := range rm.members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (r *MemoryRoomRepository) ListRooms(ctx context.Context) ([]*domain.RoomInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		members := make([]domain.PeerID, 0, len(rm.members))
		for member := range rm.members {
			members = append(members, member)
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		rooms = append(rooms, &domain.RoomInfo{
			ID:          id,
			MemberCount: len(members),
			Members:     members,
			CreatedAt:   rm.createdAt,
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}
