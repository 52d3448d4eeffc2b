package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyluth/easel/pkg/board"
)

// Acknowledgement channels, sent to the origin session only.
const (
	ChannelDuplicated      = "dublicateObject"
	ChannelDuplicatedBatch = "dublicateObjects"
	ChannelCopied          = "copyObjects"
	ChannelImagesCount     = "getImagesCount"
	ChannelHistory         = "addActionToHistory"
	ChannelHistoryRedo     = "addActionToHistoryRedo"
	ChannelInvalid         = "invalidMessage"
)

// ChannelClearBoard is the notice sent to the other members of a cleared board.
const ChannelClearBoard = "clearBoard"

// Ack is a message for the origin session.
type Ack struct {
	Channel string
	Payload any
}

// BatchAck is the payload of a batch acknowledgement.
type BatchAck struct {
	Type   string            `json:"type"`
	Events []json.RawMessage `json:"events"`
}

// Result tells the caller what to send after a mutation was applied.
type Result struct {
	// Ack, when set, goes to the origin immediately.
	Ack *Ack
	// ClearNotice asks for a clear notice to every other board member.
	ClearNotice bool
}

// Router applies mutations to boards.
type Router struct{}

// NewRouter returns a Router.
func NewRouter() *Router {
	return &Router{}
}

// Route applies m to b and reports the acknowledgement. The board mutation is
// complete when Route returns. ErrInvalidMessage means nothing was applied.
func (r *Router) Route(ctx context.Context, b *board.Board, m Mutation) (Result, error) {
	switch m := m.(type) {
	case Duplicate:
		return ackResult(ChannelDuplicated, prior(b, m.ID)), nil
	case Copy:
		return ackResult(ChannelCopied, prior(b, m.ID)), nil
	case ImagesCount:
		data := prior(b, m.ID)
		b.Delete(m.ID)
		return ackResult(ChannelImagesCount, data), nil
	case Delete:
		if m.ID == "" {
			return Result{}, nil
		}
		data, _ := b.Delete(m.ID)
		if channel := historyChannel(m); channel != "" {
			return ackResult(channel, data), nil
		}
		return Result{}, nil
	case Update:
		return Result{}, r.update(b, m)
	case Child:
		return Result{}, r.child(b, m)
	case ClearBoard:
		b.ClearAll()
		return Result{
			ClearNotice: true,
			Ack:         &Ack{Channel: ChannelImagesCount, Payload: m.ImagesCount},
		}, nil
	case Background:
		b.SetBackground(m.Data)
		return Result{}, nil
	case Doc:
		if m.ID == "" {
			return Result{}, fmt.Errorf("%w: %s without id", ErrInvalidMessage, m.Kind())
		}
		// Counted before the insert; a resent doc id is counted once.
		n := b.ImageCount()
		if prev, ok := b.Get(m.ID); ok && board.IsDocument(prev) {
			n--
		}
		b.Set(m.ID, m.Object)
		return Result{Ack: &Ack{Channel: ChannelImagesCount, Payload: n + 1}}, nil
	case Create:
		if m.ID == "" {
			return Result{}, fmt.Errorf("%w: %s without id", ErrInvalidMessage, m.Kind())
		}
		b.Set(m.ID, m.Object)
		return Result{}, nil
	case Batch:
		return r.batch(b, m), nil
	default:
		return Result{}, fmt.Errorf("%w: unsupported mutation %T", ErrInvalidMessage, m)
	}
}

// batch accumulates every echoed object into one BatchAck. The channel is the
// one chosen by the last event that chooses one; earlier choices are lost.
func (r *Router) batch(b *board.Board, m Batch) Result {
	payload := BatchAck{Type: typeArray, Events: []json.RawMessage{}}
	channel := ""
	for _, ev := range m.Events {
		switch ev := ev.(type) {
		case Duplicate:
			channel = ChannelDuplicatedBatch
			payload.Events = append(payload.Events, prior(b, ev.ID))
		case ImagesCount:
			channel = ChannelImagesCount
			payload.Events = append(payload.Events, prior(b, ev.ID))
			b.Delete(ev.ID)
		case Copy:
			channel = ChannelCopied
			payload.Events = append(payload.Events, prior(b, ev.ID))
		case Delete:
			if c := historyChannel(ev); c != "" {
				channel = c
			}
			data, _ := b.Delete(ev.ID)
			payload.Events = append(payload.Events, data)
		case Update:
			// A vanished or malformed target does not abort the batch.
			_ = r.update(b, ev)
		}
	}
	if channel == "" {
		return Result{}
	}
	return ackResult(channel, payload)
}

func (r *Router) update(b *board.Board, m Update) error {
	if m.ID == "" {
		return nil
	}
	err := b.Update(m.ID, m.Patch)
	switch {
	case err == nil, errors.Is(err, board.ErrNotFound):
		return nil
	case errors.Is(err, board.ErrNotObject):
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	default:
		return err
	}
}

func (r *Router) child(b *board.Board, m Child) error {
	if m.Parent == "" {
		return fmt.Errorf("%w: child without parent", ErrInvalidMessage)
	}
	err := b.AddChild(m.Parent, m.Object)
	switch {
	case err == nil, errors.Is(err, board.ErrNotFound):
		return nil
	case errors.Is(err, board.ErrNotObject):
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	default:
		return err
	}
}

func historyChannel(m Delete) string {
	switch {
	case !m.SendBack:
		return ""
	case m.SendToRedo:
		return ChannelHistoryRedo
	default:
		return ChannelHistory
	}
}

// prior returns the stored data of id, or nil (encoded as null) when absent.
func prior(b *board.Board, id string) json.RawMessage {
	if id == "" {
		return nil
	}
	obj, _ := b.Get(id)
	return obj
}

func ackResult(channel string, payload any) Result {
	return Result{Ack: &Ack{Channel: channel, Payload: payload}}
}
