package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/giilbert/radix/internal/v1/judge"
	"github.com/google/uuid"
)

// ErrRoomExists is returned by CreateRoom when the name is already taken.
var ErrRoomExists = errors.New("room already exists")

// ErrRoomNotFound is returned when a named room has no matching actor.
var ErrRoomNotFound = errors.New("room not found")

// ErrAlreadyConnected is returned when a user tries to create or join a
// second room while still a member of another.
var ErrAlreadyConnected = errors.New("user already connected to a room")

// RoomSummary is the List projection of a room, enough to render a lobby.
type RoomSummary struct {
	Name  string            `json:"name"`
	Owner domain.PublicUser `json:"owner"`
}

// Registry owns every live room actor in this process and the
// single-room-per-user membership invariant, guarded by one mutex whose
// critical sections never do I/O. Grounded on the teacher's Hub
// (session/hub.go): a mutex-guarded map of room actors, created lazily
// and torn down once idle.
type Registry struct {
	mu             sync.Mutex
	rooms          map[domain.RoomIDType]*Room
	usersConnected map[domain.UserIDType]domain.RoomIDType
	queue          *judge.Queue
}

// NewRegistry constructs an empty room registry backed by the given
// judge queue, shared across every room it creates.
func NewRegistry(queue *judge.Queue) *Registry {
	return &Registry{
		rooms:          make(map[domain.RoomIDType]*Room),
		usersConnected: make(map[domain.UserIDType]domain.RoomIDType),
		queue:          queue,
	}
}

// CreateRoom starts a new room actor owned by owner. Fails if owner is
// already a member of another room, or if name is already taken.
func (reg *Registry) CreateRoom(owner domain.User, name string, public bool, problems []domain.Problem) (*Room, error) {
	id := domain.RoomIDType(name)

	reg.mu.Lock()
	if _, connected := reg.usersConnected[owner.ID]; connected {
		reg.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	if _, exists := reg.rooms[id]; exists {
		reg.mu.Unlock()
		return nil, ErrRoomExists
	}

	cfg := domain.RoomConfig{Name: name, Public: public, Owner: owner}
	r := NewRoom(id, cfg, reg.queue, reg.removeRoom)
	reg.rooms[id] = r
	reg.mu.Unlock()

	if len(problems) > 0 {
		r.SetProblems(problems)
	}
	return r, nil
}

// Join admits userId into the named room, enforcing the
// single-room-per-user invariant. Returns the room actor to send
// commands to.
func (reg *Registry) Join(userID domain.UserIDType, name string) (*Room, error) {
	id := domain.RoomIDType(name)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, connected := reg.usersConnected[userID]; connected {
		return nil, ErrAlreadyConnected
	}
	r, ok := reg.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	reg.usersConnected[userID] = id
	return r, nil
}

// Leave releases userId's membership. No-op if the user wasn't tracked
// as connected to any room.
func (reg *Registry) Leave(userID domain.UserIDType) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.usersConnected, userID)
}

// CanConnect reports whether userId could join name right now. The
// answer is advisory: a subsequent Join can still race it.
func (reg *Registry) CanConnect(userID domain.UserIDType, name string) (bool, string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := domain.RoomIDType(name)
	if _, connected := reg.usersConnected[userID]; connected {
		return false, "already connected"
	}
	if _, ok := reg.rooms[id]; !ok {
		return false, "does not exist"
	}
	return true, ""
}

// List returns a snapshot of every public room's name and owner, sorted
// by name for a stable lobby listing.
func (reg *Registry) List() []RoomSummary {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]RoomSummary, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		cfg := r.Config()
		if !cfg.Public {
			continue
		}
		out = append(out, RoomSummary{Name: cfg.Name, Owner: cfg.Owner.ToPublic()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewConnectionID generates a fresh, per-room connection identifier.
func NewConnectionID() domain.ConnectionIDType {
	return domain.ConnectionIDType(uuid.NewString())
}

// removeRoom is passed to NewRoom as its onEmpty callback; it runs on
// the room's own actor goroutine right before that goroutine exits.
func (reg *Registry) removeRoom(id domain.RoomIDType) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, id)
	for userID, roomID := range reg.usersConnected {
		if roomID == id {
			delete(reg.usersConnected, userID)
		}
	}
}
