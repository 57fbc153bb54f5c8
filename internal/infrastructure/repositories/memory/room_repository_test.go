package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"peerlink/internal/core/domain"
)

func TestAddMemberReturnsPriorMembers(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	existing, err := repo.AddMember(ctx, "lobby", "alice")
	assert.NoError(t, err)
	assert.Empty(t, existing)

	existing, err = repo.AddMember(ctx, "lobby", "bob")
	assert.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"alice"}, existing)

	existing, err = repo.AddMember(ctx, "lobby", "carol")
	assert.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"alice", "bob"}, existing)
}

func TestAddMemberIsIdempotent(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	_, err := repo.AddMember(ctx, "lobby", "alice")
	assert.NoError(t, err)

	// A rejoin does not list the joiner among the prior members.
	existing, err := repo.AddMember(ctx, "lobby", "alice")
	assert.NoError(t, err)
	assert.Empty(t, existing)

	members, err := repo.Members(ctx, "lobby")
	assert.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRemoveMember(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	repo.AddMember(ctx, "lobby", "alice")
	repo.AddMember(ctx, "lobby", "bob")

	remaining, err := repo.RemoveMember(ctx, "lobby", "alice")
	assert.NoError(t, err)
	assert.Equal(t, 1, remaining)

	members, err := repo.Members(ctx, "lobby")
	assert.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"bob"}, members)
}

func TestRoomDeletedWhenEmpty(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	repo.AddMember(ctx, "lobby", "alice")
	remaining, err := repo.RemoveMember(ctx, "lobby", "alice")
	assert.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = repo.Members(ctx, "lobby")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	rooms, err := repo.ListRooms(ctx)
	assert.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRemoveMemberUnknownRoom(t *testing.T) {
	repo := NewMemoryRoomRepository()
	_, err := repo.RemoveMember(context.Background(), "ghost", "alice")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestListRooms(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	repo.AddMember(ctx, "beta", "bob")
	repo.AddMember(ctx, "alpha", "alice")
	repo.AddMember(ctx, "alpha", "carol")

	rooms, err := repo.ListRooms(ctx)
	assert.NoError(t, err)
	assert.Len(t, rooms, 2)

	// Sorted by room ID.
	assert.Equal(t, "alpha", rooms[0].ID)
	assert.Equal(t, 2, rooms[0].MemberCount)
	assert.Equal(t, []domain.PeerID{"alice", "carol"}, rooms[0].Members)
	assert.Equal(t, "beta", rooms[1].ID)
	assert.False(t, rooms[0].CreatedAt.IsZero())
}
