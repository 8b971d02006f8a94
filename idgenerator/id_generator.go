// Package idgenerator issues session tokens. Zero is the "no token" value of
// the wire protocol and is never issued, including after the counter wraps.
package idgenerator

import "sync/atomic"

// Generator hands out non-zero uint32 identifiers in increasing order. It is
// safe for concurrent use.
type Generator struct {
	last atomic.Uint32
}

// New creates a Generator whose first identifier is start+1 (or 1 when that
// would be zero).
//
// Parameters:
//   - start: The value to initialize the counter to
//
// Returns:
//   - A new Generator
func New(start uint32) *Generator {
	g := &Generator{}
	g.last.Store(start)
	return g
}

// Next returns the next identifier, skipping zero.
func (g *Generator) Next() uint32 {
	for {
		if id := g.last.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued identifier, or the start value if
// none was issued yet.
func (g *Generator) Last() uint32 {
	return g.last.Load()
}
