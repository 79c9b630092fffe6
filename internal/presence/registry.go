package presence

import (
	"sync"

	"github.com/Kundan10424/loom/internal/metrics"
)

// room holds the presence state for one project room: the insertion-ordered
// list of present identity keys plus a per-identity connection reference
// count. An identity with two live connections into the room stays present
// until both disconnect.
type room struct {
	order []string
	refs  map[string]int
}

// Registry is the process-wide mapping from room id to the set of present
// identity keys. It holds identity keys only, never connection handles.
// All methods are safe for concurrent use; a single mutex guards the whole
// mapping so every operation observes a consistent snapshot.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	users int
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join records one connection of key entering roomID and returns the room's
// membership snapshot after the join. The room entry is materialized lazily
// on first use. Joining a room the identity is already present in does not
// duplicate the snapshot entry, but callers still announce it: every join
// triggers a presence broadcast.
func (r *Registry) Join(roomID, key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{refs: make(map[string]int)}
		r.rooms[roomID] = rm
		metrics.PresenceActiveRooms.Set(float64(len(r.rooms)))
	}

	if rm.refs[key] == 0 {
		rm.order = append(rm.order, key)
		r.users++
		metrics.PresenceUsersCurrent.Set(float64(r.users))
	}
	rm.refs[key]++

	return snapshotLocked(rm)
}

// Leave records one connection of key leaving roomID. The returned departed
// flag is true only when this was the identity's last connection into the
// room, which is the moment callers broadcast user_left. Unknown rooms and
// identities are benign no-ops.
func (r *Registry) Leave(roomID, key string) (active []string, departed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}

	count, ok := rm.refs[key]
	if !ok {
		return snapshotLocked(rm), false
	}

	if count > 1 {
		rm.refs[key] = count - 1
		return snapshotLocked(rm), false
	}

	delete(rm.refs, key)
	for i, k := range rm.order {
		if k == key {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	r.users--
	metrics.PresenceUsersCurrent.Set(float64(r.users))

	active = snapshotLocked(rm)
	if len(rm.refs) == 0 {
		delete(r.rooms, roomID)
		metrics.PresenceActiveRooms.Set(float64(len(r.rooms)))
	}
	return active, true
}

// Snapshot returns the room's present identity keys in insertion order.
// Unknown rooms yield an empty slice.
func (r *Registry) Snapshot(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	return snapshotLocked(rm)
}

// Present reports whether key currently has at least one connection in roomID.
func (r *Registry) Present(roomID, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	return rm.refs[key] > 0
}

// Rooms returns the number of rooms with at least one present identity.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func snapshotLocked(rm *room) []string {
	out := make([]string, len(rm.order))
	copy(out, rm.order)
	return out
}
