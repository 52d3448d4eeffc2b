// Package idgen produces compact, chronologically ordered object identifiers.
//
// An identifier is the base-36 encoding of the creation time in milliseconds
// followed by one random base-36 character. Identifiers generated by one
// process compare (as strings) in non-decreasing creation order. Collisions
// within the same millisecond are unlikely but not prevented.
package idgen

import (
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/dyluth/easel/internal/clock"
)

const radix = 36

// Generator issues identifiers from a clock. The zero value is not usable;
// construct with New.
type Generator struct {
	clock clock.Clock
	intn  func(n int) int

	mu   sync.Mutex
	last int64
}

// New returns a generator reading time from c (the real clock when nil).
func New(c clock.Clock) *Generator {
	return &Generator{clock: clock.Ensure(c), intn: rand.IntN}
}

var defaultGenerator = New(nil)

// NewID returns an identifier from the process-wide generator.
func NewID(prefix, suffix string) string {
	return defaultGenerator.NewID(prefix, suffix)
}

// NewID returns prefix + time + random character + suffix.
func (g *Generator) NewID(prefix, suffix string) string {
	ms := g.tick()
	id := strconv.FormatInt(ms, radix) + strconv.FormatInt(int64(g.intn(radix)), radix)
	return prefix + id + suffix
}

// tick returns the current millisecond, never going backwards when the
// underlying clock does.
func (g *Generator) tick() int64 {
	ms := g.clock.Now().UnixMilli()
	g.mu.Lock()
	defer g.mu.Unlock()
	if ms < g.last {
		ms = g.last
	}
	g.last = ms
	return ms
}
