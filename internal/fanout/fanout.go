// Package fanout relays accepted mutations to the other members of a board.
package fanout

import (
	"context"
	"encoding/json"

	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/clock"
	"github.com/dyluth/easel/internal/idgen"
	"github.com/dyluth/easel/internal/loggingutil"
	"github.com/dyluth/easel/internal/mutation"
	"github.com/dyluth/easel/pkg/board"
)

// EventBroadcast is the outbound event name for relayed mutations.
const EventBroadcast = "broadcast"

// Room is the transport's room-delivery primitive.
type Room interface {
	BroadcastExcept(room, exceptID, event string, payload any) int
}

// Publisher receives a copy of every relayed mutation, for out-of-process
// observers. board.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, ev *board.Event) error
}

// Broadcaster fans mutations out to peers. It never waits for delivery.
type Broadcaster struct {
	rooms  Room
	relay  Publisher
	ids    *idgen.Generator
	clock  clock.Clock
	logger pslog.Logger
}

// New returns a Broadcaster over rooms. relay may be nil.
func New(rooms Room, relay Publisher, c clock.Clock, logger pslog.Logger) *Broadcaster {
	c = clock.Ensure(c)
	return &Broadcaster{
		rooms:  rooms,
		relay:  relay,
		ids:    idgen.New(c),
		clock:  c,
		logger: loggingutil.WithSubsystem(logger, "fanout"),
	}
}

// Broadcast delivers data, tagged with the acting user, to every member of
// boardName except origin. It returns the number of peers reached.
func (b *Broadcaster) Broadcast(ctx context.Context, boardName, origin string, user, data json.RawMessage) int {
	payload := withUser(data, user)
	n := b.rooms.BroadcastExcept(boardName, origin, EventBroadcast, payload)
	b.logger.Trace("fanout.broadcast", "board", boardName, "origin", origin, "peers", n)

	if b.relay != nil {
		ev := &board.Event{
			ID:          b.ids.NewID("", ""),
			Board:       boardName,
			Origin:      origin,
			User:        user,
			Data:        data,
			CreatedAtMs: b.clock.Now().UnixMilli(),
		}
		if err := b.relay.Publish(ctx, ev); err != nil {
			b.logger.Warn("fanout.relay.error", "board", boardName, "error", err)
		}
	}
	return n
}

// ClearNotice tells every member of boardName except origin that the board
// was wiped.
func (b *Broadcaster) ClearNotice(boardName, origin string) int {
	return b.rooms.BroadcastExcept(boardName, origin, mutation.ChannelClearBoard, nil)
}

// withUser sets the "user" field of an object payload. Non-object payloads
// are relayed unchanged.
func withUser(data, user json.RawMessage) json.RawMessage {
	if len(user) == 0 {
		return data
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return data
	}
	fields["user"] = user
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}
