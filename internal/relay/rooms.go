package relay

import "sync"

// Rooms tracks which user identities are subscribed to which conversation,
// independent of the store's notion of participants. Membership is always a
// subset of currently-connected users; an empty room is removed outright so
// the tracker never holds dangling entries.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]struct{})}
}

// Join adds userID to the room. Joining twice is a no-op.
func (r *Rooms) Join(conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[string]struct{})
	}
	r.rooms[conversationID][userID] = struct{}{}
}

// Leave removes userID from the room, deleting the room when it empties.
func (r *Rooms) Leave(conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.rooms[conversationID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
}

// Contains reports whether userID is currently subscribed to the room.
func (r *Rooms) Contains(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[conversationID][userID]
	return ok
}

// Members returns a snapshot of the room's subscribed user ids.
func (r *Rooms) Members(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[conversationID]
	res := make([]string, 0, len(members))
	for uid := range members {
		res = append(res, uid)
	}
	return res
}

// Count returns the number of tracked rooms.
func (r *Rooms) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
