package transport

import (
	"encoding/json"
	"sort"
	"sync"

	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/loggingutil"
)

// Emitter is the outbound half of a connection.
type Emitter interface {
	ID() string
	Emit(event string, payload any) error
}

// Rooms tracks which connections share a board room. It is the transport's
// room-delivery primitive; session membership lives in the registry.
type Rooms struct {
	logger pslog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]Emitter
}

// NewRooms returns an empty room table.
func NewRooms(logger pslog.Logger) *Rooms {
	return &Rooms{
		logger: loggingutil.WithSubsystem(logger, "transport.rooms"),
		rooms:  make(map[string]map[string]Emitter),
	}
}

// Join adds e to room.
func (r *Rooms) Join(room string, e Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Emitter)
		r.rooms[room] = members
	}
	members[e.ID()] = e
}

// Leave removes connection id from room.
func (r *Rooms) Leave(room, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, id)
}

// LeaveAll removes connection id from every room.
func (r *Rooms) LeaveAll(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.rooms {
		r.leaveLocked(room, id)
	}
}

func (r *Rooms) leaveLocked(room, id string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns the sorted connection ids in room.
func (r *Rooms) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BroadcastExcept emits event to every member of room except exceptID and
// returns the number of members that accepted it. Delivery is best-effort:
// a member whose queue is full or closed is skipped.
func (r *Rooms) BroadcastExcept(room, exceptID, event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("rooms.encode.error", "room", room, "event", event, "error", err)
		return 0
	}

	r.mu.RLock()
	targets := make([]Emitter, 0, len(r.rooms[room]))
	for id, e := range r.rooms[room] {
		if id != exceptID {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, e := range targets {
		if err := e.Emit(event, json.RawMessage(data)); err != nil {
			r.logger.Warn("rooms.emit.error", "room", room, "conn", e.ID(), "event", event, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
