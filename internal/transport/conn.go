// Package transport carries named JSON events over WebSocket connections and
// groups connections into rooms for fanout.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/loggingutil"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20

	// DefaultSendBuffer is the outbound queue length of a connection.
	DefaultSendBuffer = 256
)

var (
	// ErrClosed is returned when emitting on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow client's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Frame is one named event. Every WebSocket text message carries exactly one.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Meta describes the remote end of a connection.
type Meta struct {
	UserAgent  string
	OriginalIP string
	RemoteAddr string
}

// MetaFromRequest extracts client metadata from the upgrade request. The
// original IP comes from X-Forwarded-For, then Forwarded, then the peer address.
func MetaFromRequest(r *http.Request) Meta {
	meta := Meta{UserAgent: r.UserAgent(), RemoteAddr: r.RemoteAddr}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		meta.OriginalIP = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if fwd := r.Header.Get("Forwarded"); fwd != "" {
		meta.OriginalIP = forwardedFor(fwd)
	}
	if meta.OriginalIP == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			meta.OriginalIP = host
		} else {
			meta.OriginalIP = r.RemoteAddr
		}
	}
	return meta
}

// forwardedFor returns the first for= value of an RFC 7239 Forwarded header.
func forwardedFor(header string) string {
	first := strings.Split(header, ",")[0]
	for _, part := range strings.Split(first, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "for") {
			return strings.Trim(v, `"[]`)
		}
	}
	return ""
}

// Conn is one client connection. Inbound frames are delivered in arrival
// order on Inbound; outbound frames are queued by Emit and written by a
// dedicated goroutine.
type Conn struct {
	id     string
	meta   Meta
	ws     *websocket.Conn
	logger pslog.Logger

	send    chan []byte
	inbound chan Frame
	done    chan struct{}
	once    sync.Once
}

// NewConn wraps an upgraded WebSocket and starts its read and write pumps.
func NewConn(ws *websocket.Conn, meta Meta, sendBuffer int, logger pslog.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	c := &Conn{
		id:      uuid.NewString(),
		meta:    meta,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan Frame),
		done:    make(chan struct{}),
	}
	c.logger = loggingutil.WithSubsystem(logger, "transport").With("conn", c.id)
	go c.readPump()
	go c.writePump()
	return c
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// Meta returns the remote client metadata.
func (c *Conn) Meta() Meta { return c.meta }

// Inbound returns the ordered stream of received frames. It is closed when
// the connection goes away.
func (c *Conn) Inbound() <-chan Frame { return c.inbound }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Emit queues one event for the client. It never blocks.
func (c *Conn) Emit(event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", event, err)
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) readPump() {
	defer close(c.inbound)
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, p, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("transport.read.error", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f Frame
		if err := json.Unmarshal(p, &f); err != nil || f.Event == "" {
			c.logger.Warn("transport.frame.invalid", "error", err, "size", len(p))
			continue
		}
		select {
		case c.inbound <- f:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("transport.write.error", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before the close.
func (c *Conn) drain() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Options configures an Upgrader.
type Options struct {
	// AllowedOrigins restricts the Origin header. Empty or "*" allows any.
	AllowedOrigins []string
	SendBuffer     int
	Logger         pslog.Logger
}

// Upgrader turns HTTP requests into Conns.
type Upgrader struct {
	ws   websocket.Upgrader
	opts Options
}

// NewUpgrader builds an Upgrader from opts.
func NewUpgrader(opts Options) *Upgrader {
	u := &Upgrader{opts: opts}
	u.ws = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     u.checkOrigin,
	}
	return u
}

// Upgrade upgrades the request. On failure the HTTP error has already been
// written.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade: %w", err)
	}
	return NewConn(ws, MetaFromRequest(r), u.opts.SendBuffer, u.opts.Logger), nil
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	if len(u.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range u.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
