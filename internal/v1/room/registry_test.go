package room

import (
	"testing"
	"time"

	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry returns a registry whose rooms and judge queue are
// stopped when the test ends, so goleak sees no leftover goroutines.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	queue := newTestQueue(false)
	reg := NewRegistry(queue)
	t.Cleanup(func() {
		reg.mu.Lock()
		rooms := make([]*Room, 0, len(reg.rooms))
		for _, r := range reg.rooms {
			rooms = append(rooms, r)
		}
		reg.mu.Unlock()
		for _, r := range rooms {
			r.Stop()
			<-r.Stopped()
		}
		queue.Close()
	})
	return reg
}

func TestRegistryCreateRoomRejectsDuplicateName(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)

	_, err = reg.CreateRoom(testUser("owner2", "Owner2"), "room-1", true, nil)
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestRegistryCreateRoomDoesNotReserveMembership(t *testing.T) {
	reg := newTestRegistry(t)
	owner := testUser("owner", "Owner")

	_, err := reg.CreateRoom(owner, "room-1", true, nil)
	require.NoError(t, err)

	// CreateRoom never touches usersConnected, so an owner who hasn't
	// opened a socket yet isn't blocked from creating a second room.
	_, err = reg.CreateRoom(owner, "room-2", true, nil)
	assert.NoError(t, err)
}

func TestRegistryJoinFindsCreatedRoom(t *testing.T) {
	reg := newTestRegistry(t)

	created, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)

	found, err := reg.Join("u1", "room-1")
	require.NoError(t, err)
	assert.Equal(t, created, found)

	_, err = reg.Join("u2", "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistryJoinRejectsAlreadyConnectedUser(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)
	_, err = reg.CreateRoom(testUser("owner2", "Owner2"), "room-2", true, nil)
	require.NoError(t, err)

	_, err = reg.Join("u1", "room-1")
	require.NoError(t, err)

	_, err = reg.Join("u1", "room-2")
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestRegistryLeaveAllowsRejoiningElsewhere(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)
	_, err = reg.CreateRoom(testUser("owner2", "Owner2"), "room-2", true, nil)
	require.NoError(t, err)

	_, err = reg.Join("u1", "room-1")
	require.NoError(t, err)

	reg.Leave("u1")

	_, err = reg.Join("u1", "room-2")
	assert.NoError(t, err)
}

func TestRegistryCanConnectFalseAfterStop(t *testing.T) {
	reg := newTestRegistry(t)

	r, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)

	ok, reason := reg.CanConnect("u1", "room-1")
	assert.True(t, ok)
	assert.Empty(t, reason)

	r.Stop()
	<-r.Stopped()

	require.Eventually(t, func() bool {
		ok, _ := reg.CanConnect("u1", "room-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRegistryCanConnectFalseWhenAlreadyConnectedElsewhere(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)
	_, err = reg.CreateRoom(testUser("owner2", "Owner2"), "room-2", true, nil)
	require.NoError(t, err)
	_, err = reg.Join("u1", "room-1")
	require.NoError(t, err)

	ok, reason := reg.CanConnect("u1", "room-2")
	assert.False(t, ok)
	assert.Equal(t, "already connected", reason)
}

func TestRegistryOwnerJoinsRoomAfterCreatingIt(t *testing.T) {
	reg := newTestRegistry(t)
	owner := testUser("owner", "Owner")

	created, err := reg.CreateRoom(owner, "room-1", true, nil)
	require.NoError(t, err)

	ok, reason := reg.CanConnect(owner.ID, "room-1")
	assert.True(t, ok)
	assert.Empty(t, reason)

	found, err := reg.Join(owner.ID, "room-1")
	require.NoError(t, err)
	assert.Equal(t, created, found)
}

func TestRegistryListOnlyIncludesPublicRooms(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.CreateRoom(testUser("owner1", "Owner1"), "public-room", true, nil)
	require.NoError(t, err)
	_, err = reg.CreateRoom(testUser("owner2", "Owner2"), "private-room", false, nil)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "public-room", list[0].Name)
	assert.Equal(t, "Owner1", list[0].Owner.Name)
}

func TestRegistryRemovesRoomAndMembershipOnceItStops(t *testing.T) {
	reg := newTestRegistry(t)

	r, err := reg.CreateRoom(testUser("owner", "Owner"), "room-1", true, nil)
	require.NoError(t, err)
	_, err = reg.Join("owner", "room-1")
	require.NoError(t, err)

	r.Stop()
	<-r.Stopped()

	require.Eventually(t, func() bool {
		_, err := reg.Join("owner", "room-1")
		return err == ErrRoomNotFound
	}, time.Second, 10*time.Millisecond)

	_, err = reg.CreateRoom(testUser("owner", "Owner"), "room-2", true, nil)
	assert.NoError(t, err)
}

func TestNewConnectionIDIsUnique(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	assert.NotEqual(t, a, b)
}
