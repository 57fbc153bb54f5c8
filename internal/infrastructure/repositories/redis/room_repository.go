package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRoomRepository shares room membership between relay instances.
// Each room is a set of member IDs plus a creation timestamp; the room
// index set makes listing cheap.
type RedisRoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		prefix: "peerlink:room:",
	}
}

func (r *RedisRoomRepository) membersKey(roomID string) string {
	return r.prefix + roomID + ":members"
}

func (r *RedisRoomRepository) createdKey(roomID string) string {
	return r.prefix + roomID + ":created"
}

func (r *RedisRoomRepository) indexKey() string {
	return "peerlink:rooms"
}

func (r *RedisRoomRepository) AddMember(ctx context.Context, roomID string, peer domain.PeerID) ([]domain.PeerID, error) {
	key := r.membersKey(roomID)

	raw, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room members: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, string(peer))
	pipe.SAdd(ctx, r.indexKey(), roomID)
	pipe.SetNX(ctx, r.createdKey(roomID), time.Now().UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	existing := make([]domain.PeerID, 0, len(raw))
	for _, member := range raw {
		if member != string(peer) {
			existing = append(existing, domain.PeerID(member))
		}
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i] < existing[j] })
	return existing, nil
}

func (r *RedisRoomRepository) RemoveMember(ctx context.Context, roomID string, peer domain.PeerID) (int, error) {
	key := r.membersKey(roomID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check room: %w", err)
	}
	if exists == 0 {
		return 0, domain.ErrRoomNotFound
	}

	if err := r.client.SRem(ctx, key, string(peer)).Err(); err != nil {
		return 0, fmt.Errorf("failed to leave room: %w", err)
	}

	remaining, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}

	if remaining == 0 {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, key, r.createdKey(roomID))
		pipe.SRem(ctx, r.indexKey(), roomID)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to delete empty room: %w", err)
		}
	}
	return int(remaining), nil
}

func (r *RedisRoomRepository) Members(ctx context.Context, roomID string) ([]domain.PeerID, error) {
	key := r.membersKey(roomID)

	raw, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room members: %w", err)
	}
	if len(raw) == 0 {
		return nil, domain.ErrRoomNotFound
	}

	members := make([]domain.PeerID, 0, len(raw))
	for _, member := range raw {
		members = append(members, domain.PeerID(member))
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (r *RedisRoomRepository) ListRooms(ctx context.Context) ([]*domain.RoomInfo, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]*domain.RoomInfo, 0, len(ids))
	for _, id := range ids {
		members, err := r.Members(ctx, id)
		if err == domain.ErrRoomNotFound {
			// Stale index entry; the room emptied out concurrently.
			continue
		}
		if err != nil {
			return nil, err
		}

		createdAt := time.Time{}
		if raw, err := r.client.Get(ctx, r.createdKey(id)).Result(); err == nil {
			if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
				createdAt = time.UnixMilli(millis)
			}
		}

		rooms = append(rooms, &domain.RoomInfo{
			ID:          id,
			MemberCount: len(members),
			Members:     members,
			CreatedAt:   createdAt,
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}
