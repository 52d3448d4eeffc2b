package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
)

// ChildrenField is the object field holding attached child objects.
const ChildrenField = "_children"

// DocumentType is the object type counted as an image.
const DocumentType = "doc"

var (
	// ErrNotFound is returned when an addressed object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrNotObject is returned when a payload is not a JSON object.
	ErrNotObject = errors.New("payload is not a JSON object")
)

// Board is one collaborative canvas. It is safe for concurrent use.
type Board struct {
	name string

	mu         sync.RWMutex
	objects    map[string]json.RawMessage
	background json.RawMessage
}

// Snapshot is the persisted form of a board.
type Snapshot struct {
	Name       string                     `json:"name"`
	Objects    map[string]json.RawMessage `json:"objects"`
	Background json.RawMessage            `json:"background,omitempty"`
}

// New returns an empty board.
func New(name string) *Board {
	return &Board{name: name, objects: make(map[string]json.RawMessage)}
}

// FromSnapshot rebuilds a board from its persisted form.
func FromSnapshot(s Snapshot) *Board {
	b := New(s.Name)
	for id, obj := range s.Objects {
		b.objects[id] = cloneRaw(obj)
	}
	b.background = cloneRaw(s.Background)
	return b
}

// Name returns the board's unique name.
func (b *Board) Name() string { return b.name }

// Snapshot copies the board state for persistence.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	objects := make(map[string]json.RawMessage, len(b.objects))
	for id, obj := range b.objects {
		objects[id] = cloneRaw(obj)
	}
	return Snapshot{Name: b.name, Objects: objects, Background: cloneRaw(b.background)}
}

// Get returns the object stored under id.
func (b *Board) Get(id string) (json.RawMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[id]
	return cloneRaw(obj), ok
}

// Set inserts or overwrites the object stored under id.
func (b *Board) Set(id string, obj json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[id] = cloneRaw(obj)
}

// Delete removes the object stored under id and returns its prior data.
func (b *Board) Delete(id string) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[id]
	delete(b.objects, id)
	return obj, ok
}

// Update overwrites the top-level fields of the object stored under id with
// those of patch. Nested values are replaced whole and null is stored as null.
// The patch's own "type" and "tool" fields never overwrite the stored
// object's. Updating a missing object is a no-op returning ErrNotFound.
func (b *Board) Update(id string, patch json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	delete(fields, "type")
	delete(fields, "tool")
	ops, err := fieldOps(fields)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[id]
	if !ok {
		return ErrNotFound
	}
	if len(ops) == 0 {
		return nil
	}
	updated, err := ops.Apply(obj)
	if err != nil {
		return fmt.Errorf("failed to patch object %s: %w", id, err)
	}
	b.objects[id] = updated
	return nil
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// fieldOps builds one JSON Patch "add" per field; add replaces an existing
// member outright.
func fieldOps(fields map[string]json.RawMessage) (jsonpatch.Patch, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type op struct {
		Op    string          `json:"op"`
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value"`
	}
	ops := make([]op, 0, len(keys))
	for _, k := range keys {
		value := fields[k]
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		ops = append(ops, op{Op: "add", Path: "/" + pointerEscaper.Replace(k), Value: value})
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	return jsonpatch.DecodePatch(raw)
}

// AddChild appends child to the children list of the object parentID.
func (b *Board) AddChild(parentID string, child json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[parentID]
	if !ok {
		return ErrNotFound
	}
	var parent map[string]json.RawMessage
	if err := json.Unmarshal(obj, &parent); err != nil {
		return fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	var children []json.RawMessage
	if existing, ok := parent[ChildrenField]; ok {
		if err := json.Unmarshal(existing, &children); err != nil {
			return fmt.Errorf("parent %s has invalid children: %w", parentID, err)
		}
	}
	children = append(children, cloneRaw(child))
	encoded, err := json.Marshal(children)
	if err != nil {
		return fmt.Errorf("failed to encode children: %w", err)
	}
	parent[ChildrenField] = encoded
	updated, err := json.Marshal(parent)
	if err != nil {
		return fmt.Errorf("failed to encode parent %s: %w", parentID, err)
	}
	b.objects[parentID] = updated
	return nil
}

// ClearAll removes every object from the board.
func (b *Board) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = make(map[string]json.RawMessage)
}

// SetBackground replaces the board-level background metadata.
func (b *Board) SetBackground(data json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.background = cloneRaw(data)
}

// Background returns the board-level background metadata, if any.
func (b *Board) Background() json.RawMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneRaw(b.background)
}

// All returns every object ordered by id. Object ids are chronological, so
// this is creation order for server-issued ids.
func (b *Board) All() []json.RawMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.objects))
	for id := range b.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRaw(b.objects[id]))
	}
	return out
}

// Len returns the number of objects on the board.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// ImageCount returns the number of document objects on the board.
func (b *Board) ImageCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, obj := range b.objects {
		if IsDocument(obj) {
			n++
		}
	}
	return n
}

// IsDocument reports whether obj is a document (image) object.
func IsDocument(obj json.RawMessage) bool {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(obj, &header); err != nil {
		return false
	}
	return header.Type == DocumentType
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
