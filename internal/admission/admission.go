// Package admission decides whether an inbound mutation event is processed at
// all. Each connection owns one Controller; controllers are not shared and
// need no synchronization beyond the connection's own event loop.
package admission

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/clock"
	"github.com/dyluth/easel/internal/loggingutil"
)

// DocumentType is the mutation type whose payload is size-checked.
const DocumentType = "doc"

// banLogEvery samples rate-limit logging to one record per this many rejections.
const banLogEvery = 100

var (
	// ErrRateLimited is returned when a connection exceeds its per-window budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrDocumentTooLarge is returned for document payloads above the configured maximum.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrToolBlocked is returned when the event declares no tool or a blocked one.
	ErrToolBlocked = errors.New("tool missing or blocked")
	// ErrMalformed is returned when the event carries no mutation data.
	ErrMalformed = errors.New("malformed message")
)

// Reason labels a rejection for logs and metrics.
type Reason string

const (
	ReasonRateLimited      Reason = "rate_limited"
	ReasonDocumentTooLarge Reason = "document_too_large"
	ReasonToolBlocked      Reason = "tool_blocked"
	ReasonMalformed        Reason = "malformed"
)

// Rejection is the error returned for every policy rejection.
type Rejection struct {
	Reason Reason
	err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected (%s): %v", r.Reason, r.err)
}

func (r *Rejection) Unwrap() error { return r.err }

// ReasonOf returns the rejection reason carried by err, or "" when err is not
// a Rejection.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

// Config holds the admission limits.
type Config struct {
	// Window is the length of one fixed rate window.
	Window time.Duration
	// MaxEvents is the number of events accepted per window.
	MaxEvents int
	// MaxDocumentSize is the largest accepted document payload in bytes.
	MaxDocumentSize int
	// BlockedTools lists tool identifiers that are always rejected.
	BlockedTools []string
}

// ClientMeta identifies the remote client in policy-violation logs.
type ClientMeta struct {
	UserAgent  string
	OriginalIP string
}

// Event is the admission view of one inbound mutation.
type Event struct {
	Board string
	Type  string
	Tool  string
	// HasData reports whether the envelope carried mutation data at all.
	HasData bool
	// DocumentSize is the size of the inner document payload.
	DocumentSize int
	// Payload is the raw mutation data, logged on policy blocks.
	Payload json.RawMessage
}

// Controller is a per-connection fixed-window rate limiter plus payload and
// tool gates.
type Controller struct {
	cfg     Config
	blocked map[string]struct{}
	meta    ClientMeta
	clock   clock.Clock
	logger  pslog.Logger

	windowIndex int64
	count       int
	rejected    int
}

// New builds a controller for one connection.
func New(cfg Config, meta ClientMeta, c clock.Clock, logger pslog.Logger) *Controller {
	if cfg.Window < time.Millisecond {
		cfg.Window = time.Second
	}
	blocked := make(map[string]struct{}, len(cfg.BlockedTools))
	for _, tool := range cfg.BlockedTools {
		blocked[tool] = struct{}{}
	}
	c = clock.Ensure(c)
	ctrl := &Controller{
		cfg:     cfg,
		blocked: blocked,
		meta:    meta,
		clock:   c,
		logger:  loggingutil.WithSubsystem(logger, "admission"),
	}
	ctrl.windowIndex = ctrl.currentWindow()
	return ctrl
}

func (c *Controller) currentWindow() int64 {
	return c.clock.Now().UnixMilli() / c.cfg.Window.Milliseconds()
}

// Admit returns nil when ev may proceed, or a *Rejection. Any rejection means
// the event is neither applied nor broadcast.
func (c *Controller) Admit(ev Event) error {
	if window := c.currentWindow(); window != c.windowIndex {
		c.windowIndex = window
		c.count = 0
		c.rejected = 0
	}
	// The size gate does not consume the rate budget.
	if ev.Type == DocumentType && ev.DocumentSize > c.cfg.MaxDocumentSize {
		c.logger.Warn("admission.document_too_large",
			"board", ev.Board,
			"size", ev.DocumentSize,
			"max", c.cfg.MaxDocumentSize)
		return &Rejection{Reason: ReasonDocumentTooLarge, err: ErrDocumentTooLarge}
	}

	c.count++
	if c.count > c.cfg.MaxEvents {
		c.rejected++
		if c.rejected%banLogEvery == 0 {
			c.logger.Warn("admission.banned",
				"user_agent", c.meta.UserAgent,
				"original_ip", c.meta.OriginalIP,
				"emit_count", c.count,
				"rejected", c.rejected,
				"board", ev.Board)
		}
		return &Rejection{Reason: ReasonRateLimited, err: ErrRateLimited}
	}

	if !ev.HasData {
		c.logger.Warn("admission.malformed", "board", ev.Board)
		return &Rejection{Reason: ReasonMalformed, err: ErrMalformed}
	}

	if _, blocked := c.blocked[ev.Tool]; ev.Tool == "" || blocked {
		c.logger.Warn("admission.blocked",
			"board", ev.Board,
			"tool", ev.Tool,
			"payload", string(ev.Payload))
		return &Rejection{Reason: ReasonToolBlocked, err: ErrToolBlocked}
	}
	return nil
}
