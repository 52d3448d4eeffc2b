// Package session is the connection orchestrator. Each connection is served
// by one goroutine that processes inbound frames to completion, one at a
// time, so events from one client are never reordered. The only state shared
// between connections lives in the registry and the transport rooms.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sort"

	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/admission"
	"github.com/dyluth/easel/internal/clock"
	"github.com/dyluth/easel/internal/fanout"
	"github.com/dyluth/easel/internal/loggingutil"
	"github.com/dyluth/easel/internal/metrics"
	"github.com/dyluth/easel/internal/mutation"
	"github.com/dyluth/easel/internal/registry"
	"github.com/dyluth/easel/internal/transport"
)

// Inbound event names.
const (
	EventGetBoard      = "getboard"
	EventJoinBoard     = "joinboard"
	EventBroadcast     = "broadcast"
	EventError         = "error"
	EventDisconnecting = "disconnecting"
)

// Conn is the connection surface the orchestrator drives.
type Conn interface {
	ID() string
	Meta() transport.Meta
	Inbound() <-chan transport.Frame
	Emit(event string, payload any) error
	Close() error
}

// Config wires a Handler.
type Config struct {
	Registry  *registry.Registry
	Router    *mutation.Router
	Fanout    *fanout.Broadcaster
	Rooms     *transport.Rooms
	Admission admission.Config
	Clock     clock.Clock
	Logger    pslog.Logger
	Metrics   *metrics.Metrics
}

// Handler serves connections.
type Handler struct {
	registry  *registry.Registry
	router    *mutation.Router
	fanout    *fanout.Broadcaster
	rooms     *transport.Rooms
	admission admission.Config
	clock     clock.Clock
	base      pslog.Logger
	logger    pslog.Logger
	metrics   *metrics.Metrics
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		registry:  cfg.Registry,
		router:    cfg.Router,
		fanout:    cfg.Fanout,
		rooms:     cfg.Rooms,
		admission: cfg.Admission,
		clock:     clock.Ensure(cfg.Clock),
		base:      loggingutil.EnsureLogger(cfg.Logger),
		logger:    loggingutil.WithSubsystem(cfg.Logger, "session"),
		metrics:   cfg.Metrics,
	}
}

type session struct {
	h      *Handler
	conn   Conn
	admit  *admission.Controller
	joined map[string]struct{}
	logger pslog.Logger
}

// Serve runs the event loop of conn until the client disconnects, sends
// "disconnecting", or ctx is cancelled. On return the session has left every
// board it joined and conn is closed.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	meta := conn.Meta()
	logger := h.logger.With("conn", conn.ID())
	s := &session{
		h:    h,
		conn: conn,
		admit: admission.New(h.admission,
			admission.ClientMeta{UserAgent: meta.UserAgent, OriginalIP: meta.OriginalIP},
			h.clock, h.base.With("conn", conn.ID())),
		joined: make(map[string]struct{}),
		logger: logger,
	}

	h.metrics.SessionOpened()
	logger.Debug("session.open", "remote", meta.RemoteAddr, "user_agent", meta.UserAgent)
	defer func() {
		s.cleanup(ctx)
		_ = conn.Close()
		h.metrics.SessionClosed()
		logger.Debug("session.closed", "boards", len(s.joined))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-conn.Inbound():
			if !ok {
				return
			}
			if !s.dispatch(ctx, f) {
				return
			}
		}
	}
}

// dispatch handles one frame. A panic is contained to the frame that caused
// it. It returns false when the session should end.
func (s *session) dispatch(ctx context.Context, f transport.Frame) (keepOpen bool) {
	defer func() {
		if r := recover(); r != nil {
			s.h.metrics.HandlerFault()
			s.logger.Error("session.handler_fault",
				"event", f.Event,
				"panic", r,
				"stack", string(debug.Stack()))
			keepOpen = true
		}
	}()

	switch f.Event {
	case EventGetBoard:
		s.onGetBoard(ctx, f.Data)
	case EventJoinBoard:
		if name, ok := s.boardName(f); ok {
			_ = s.join(ctx, name)
		}
	case EventBroadcast:
		s.onBroadcast(ctx, f.Data)
	case EventError:
		s.logger.Warn("session.transport_error", "error", string(f.Data))
	case EventDisconnecting:
		s.logger.Debug("session.disconnecting", "reason", string(f.Data))
		return false
	default:
		s.logger.Debug("session.unknown_event", "event", f.Event)
	}
	return true
}

func (s *session) boardName(f transport.Frame) (string, bool) {
	var name string
	if err := json.Unmarshal(f.Data, &name); err != nil || name == "" {
		s.logger.Warn("session.board_name.invalid", "event", f.Event, "data", string(f.Data))
		return "", false
	}
	return name, true
}

// join makes the session a member of name in the registry and in the
// transport room.
func (s *session) join(ctx context.Context, name string) error {
	if _, err := s.h.registry.Join(ctx, name, s.conn.ID()); err != nil {
		s.logger.Error("session.join.error", "board", name, "error", err)
		return err
	}
	s.h.rooms.Join(name, s.conn)
	s.joined[name] = struct{}{}
	return nil
}

func (s *session) onGetBoard(ctx context.Context, data json.RawMessage) {
	name, ok := s.boardName(transport.Frame{Event: EventGetBoard, Data: data})
	if !ok || s.join(ctx, name) != nil {
		return
	}
	b, err := s.h.registry.GetOrLoad(ctx, name)
	if err != nil {
		s.logger.Error("session.getboard.error", "board", name, "error", err)
		return
	}
	s.emit(fanout.EventBroadcast, map[string]any{"_children": b.All()})
}

func (s *session) onBroadcast(ctx context.Context, raw json.RawMessage) {
	var env mutation.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		env = mutation.Envelope{}
	}
	header, headerErr := mutation.Inspect(env.Data)

	// An envelope without a board or without decodable data is malformed.
	err := s.admit.Admit(admission.Event{
		Board:        env.Board,
		Type:         header.Type,
		Tool:         header.Tool,
		HasData:      env.Board != "" && env.HasData() && headerErr == nil,
		DocumentSize: header.DocumentSize(),
		Payload:      env.Data,
	})
	if err != nil {
		s.h.metrics.EventRejected(string(admission.ReasonOf(err)))
		return
	}
	s.h.metrics.EventAdmitted()

	if _, ok := s.joined[env.Board]; !ok {
		if s.join(ctx, env.Board) != nil {
			return
		}
	}

	m, err := mutation.Decode(env.Data)
	if err != nil {
		s.invalid(header.Type, err)
		return
	}
	b, err := s.h.registry.GetOrLoad(ctx, env.Board)
	if err != nil {
		s.logger.Error("session.broadcast.load_error", "board", env.Board, "error", err)
		return
	}
	res, err := s.h.router.Route(ctx, b, m)
	switch {
	case errors.Is(err, mutation.ErrInvalidMessage):
		s.invalid(header.Type, err)
		return
	case err != nil:
		s.logger.Error("session.route.error", "board", env.Board, "kind", m.Kind().String(), "error", err)
		return
	}

	if res.ClearNotice {
		s.h.fanout.ClearNotice(env.Board, s.conn.ID())
	}
	if res.Ack != nil {
		s.emit(res.Ack.Channel, res.Ack.Payload)
	}
	s.h.fanout.Broadcast(ctx, env.Board, s.conn.ID(), env.User, env.Data)
}

func (s *session) invalid(kind string, err error) {
	s.h.metrics.EventInvalid()
	s.logger.Warn("session.invalid_message", "type", kind, "error", err)
	s.emit(mutation.ChannelInvalid, map[string]string{"error": err.Error(), "type": kind})
}

func (s *session) emit(event string, payload any) {
	if err := s.conn.Emit(event, payload); err != nil {
		s.logger.Debug("session.emit.error", "event", event, "error", err)
	}
}

// cleanup leaves every joined board. Boards left without members are saved
// even when ctx has been cancelled.
func (s *session) cleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	names := make([]string, 0, len(s.joined))
	for name := range s.joined {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.h.registry.Leave(ctx, name, s.conn.ID()); err != nil {
			s.logger.Error("session.leave.error", "board", name, "error", err)
		}
	}
	s.h.rooms.LeaveAll(s.conn.ID())
}
