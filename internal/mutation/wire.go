package mutation

import (
	"encoding/json"
	"fmt"
)

// Envelope is the payload of an inbound "broadcast" event.
type Envelope struct {
	Board string          `json:"board"`
	User  json.RawMessage `json:"user,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// HasData reports whether the envelope carried mutation data.
func (e Envelope) HasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

// Header is the subset of mutation data fields the server interprets. All
// other fields are opaque and stored verbatim.
type Header struct {
	Type        string            `json:"type"`
	Tool        string            `json:"tool"`
	ID          string            `json:"id"`
	Parent      string            `json:"parent"`
	SendBack    bool              `json:"sendBack"`
	SendToRedo  bool              `json:"sendToRedo"`
	ImagesCount json.RawMessage   `json:"imagesCount"`
	Data        json.RawMessage   `json:"data"`
	Events      []json.RawMessage `json:"events"`
}

// DocumentSize returns the size of the inner data payload: the length of
// the string for string payloads, otherwise the encoded length.
func (h Header) DocumentSize() int {
	var s string
	if err := json.Unmarshal(h.Data, &s); err == nil {
		return len(s)
	}
	return len(h.Data)
}

// Inspect decodes the header of raw mutation data.
func Inspect(raw json.RawMessage) (Header, error) {
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return h, nil
}

// Wire type names. "dublicate" is the historical client spelling.
const (
	typeArray       = "array"
	typeDublicate   = "dublicate"
	typeDuplicate   = "duplicate"
	typeCopy        = "copy"
	typeImagesCount = "getImagesCount"
	typeDoc         = "doc"
	typeDelete      = "delete"
	typeUpdate      = "update"
	typeChild       = "child"
	typeClearBoard  = "clearBoard"
	typeBackground  = "background"
)

// Decode turns raw mutation data into its variant. Unknown types decode as
// Create, whose validity the Router checks.
func Decode(raw json.RawMessage) (Mutation, error) {
	h, err := Inspect(raw)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case typeArray:
		return decodeBatch(h)
	case typeDublicate, typeDuplicate:
		return Duplicate{ID: h.ID}, nil
	case typeCopy:
		return Copy{ID: h.ID}, nil
	case typeImagesCount:
		return ImagesCount{ID: h.ID}, nil
	case typeDoc:
		return Doc{ID: h.ID, Object: raw}, nil
	case typeDelete:
		return Delete{ID: h.ID, SendBack: h.SendBack, SendToRedo: h.SendToRedo}, nil
	case typeUpdate:
		return Update{ID: h.ID, Patch: raw}, nil
	case typeChild:
		return Child{Parent: h.Parent, Object: raw}, nil
	case typeClearBoard:
		return ClearBoard{ImagesCount: h.ImagesCount}, nil
	case typeBackground:
		return Background{Data: raw}, nil
	default:
		return Create{ID: h.ID, Object: raw}, nil
	}
}

// decodeBatch keeps the batchable kinds and drops the rest. Undo/redo flags
// come from the batch envelope, not the individual events.
func decodeBatch(h Header) (Batch, error) {
	batch := Batch{Events: make([]Mutation, 0, len(h.Events))}
	for i, raw := range h.Events {
		ev, err := Inspect(raw)
		if err != nil {
			return Batch{}, fmt.Errorf("batch event %d: %w", i, err)
		}
		switch ev.Type {
		case typeDublicate, typeDuplicate:
			batch.Events = append(batch.Events, Duplicate{ID: ev.ID})
		case typeImagesCount:
			batch.Events = append(batch.Events, ImagesCount{ID: ev.ID})
		case typeCopy:
			batch.Events = append(batch.Events, Copy{ID: ev.ID})
		case typeDelete:
			if ev.ID != "" {
				batch.Events = append(batch.Events, Delete{ID: ev.ID, SendBack: h.SendBack, SendToRedo: h.SendToRedo})
			}
		case typeUpdate:
			if ev.ID != "" {
				batch.Events = append(batch.Events, Update{ID: ev.ID, Patch: raw})
			}
		}
	}
	return batch, nil
}
