// Package mutation decodes client mutation events into a closed set of
// variants and applies them to resident boards.
package mutation

import (
	"encoding/json"
	"errors"
)

// ErrInvalidMessage marks a protocol violation by the client, such as a
// create without an object id.
var ErrInvalidMessage = errors.New("invalid message")

// Kind enumerates the mutation variants.
type Kind int

const (
	KindCreate Kind = iota
	KindDoc
	KindDuplicate
	KindCopy
	KindImagesCount
	KindDelete
	KindUpdate
	KindChild
	KindClearBoard
	KindBackground
	KindBatch
)

var kindNames = [...]string{
	KindCreate:      "create",
	KindDoc:         "doc",
	KindDuplicate:   "duplicate",
	KindCopy:        "copy",
	KindImagesCount: "getImagesCount",
	KindDelete:      "delete",
	KindUpdate:      "update",
	KindChild:       "child",
	KindClearBoard:  "clearBoard",
	KindBackground:  "background",
	KindBatch:       "array",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Mutation is one decoded mutation event. The concrete types below are the
// only implementations.
type Mutation interface {
	Kind() Kind
	sealed()
}

// Create inserts or overwrites an object. Object is the full event data.
type Create struct {
	ID     string
	Object json.RawMessage
}

// Doc is the document (image) flavour of Create.
type Doc struct {
	ID     string
	Object json.RawMessage
}

// Duplicate asks for the data of an object, read-only.
type Duplicate struct{ ID string }

// Copy asks for the data of an object, read-only.
type Copy struct{ ID string }

// ImagesCount echoes and then removes an object.
type ImagesCount struct{ ID string }

// Delete removes an object, optionally sending its prior data back for the
// client's undo (SendToRedo=false) or redo (SendToRedo=true) history.
type Delete struct {
	ID         string
	SendBack   bool
	SendToRedo bool
}

// Update merges Patch into an existing object.
type Update struct {
	ID    string
	Patch json.RawMessage
}

// Child attaches Object to the parent object's children.
type Child struct {
	Parent string
	Object json.RawMessage
}

// ClearBoard wipes the board. ImagesCount is echoed back to the origin.
type ClearBoard struct {
	ImagesCount json.RawMessage
}

// Background replaces board-level background metadata.
type Background struct {
	Data json.RawMessage
}

// Batch applies Events in order. Only Duplicate, Copy, ImagesCount, Delete
// and Update appear in a batch.
type Batch struct {
	Events []Mutation
}

func (Create) Kind() Kind      { return KindCreate }
func (Doc) Kind() Kind         { return KindDoc }
func (Duplicate) Kind() Kind   { return KindDuplicate }
func (Copy) Kind() Kind        { return KindCopy }
func (ImagesCount) Kind() Kind { return KindImagesCount }
func (Delete) Kind() Kind      { return KindDelete }
func (Update) Kind() Kind      { return KindUpdate }
func (Child) Kind() Kind       { return KindChild }
func (ClearBoard) Kind() Kind  { return KindClearBoard }
func (Background) Kind() Kind  { return KindBackground }
func (Batch) Kind() Kind       { return KindBatch }

func (Create) sealed()      {}
func (Doc) sealed()         {}
func (Duplicate) sealed()   {}
func (Copy) sealed()        {}
func (ImagesCount) sealed() {}
func (Delete) sealed()      {}
func (Update) sealed()      {}
func (Child) sealed()       {}
func (ClearBoard) sealed()  {}
func (Background) sealed()  {}
func (Batch) sealed()       {}
