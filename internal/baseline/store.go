// Package baseline holds the per-connection table of canonical entity
// states used as the delta reference for entities a client has not seen.
package baseline

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

const (
	chunkShift = 6
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1
)

type chunk struct {
	states  [chunkSize]state.EntityState
	present uint64
}

// Store maps entity numbers to baseline states. Chunks are allocated on
// first use so sparse levels stay small. A Store is owned by one
// connection and is not safe for concurrent use.
type Store struct {
	maxEdicts int
	chunks    []*chunk
	count     int
}

// New returns an empty store for entity numbers in [1, maxEdicts).
func New(maxEdicts int) *Store {
	return &Store{
		maxEdicts: maxEdicts,
		chunks:    make([]*chunk, (maxEdicts+chunkMask)>>chunkShift),
	}
}

// MaxEdicts returns the exclusive upper bound on entity numbers.
func (s *Store) MaxEdicts() int { return s.maxEdicts }

// Len returns the number of baselines held.
func (s *Store) Len() int { return s.count }

func (s *Store) inRange(number int32) bool {
	return number > 0 && int(number) < s.maxEdicts
}

// Set records the baseline for es.Number. It reports false when the number
// is out of range. The event never belongs in a baseline and is cleared.
func (s *Store) Set(es state.EntityState) bool {
	if !s.inRange(es.Number) {
		return false
	}
	ci := es.Number >> chunkShift
	c := s.chunks[ci]
	if c == nil {
		c = new(chunk)
		s.chunks[ci] = c
	}
	bit := uint64(1) << uint(es.Number&chunkMask)
	if c.present&bit == 0 {
		s.count++
	}
	c.present |= bit
	es.Event = state.EventNone
	c.states[es.Number&chunkMask] = es
	return true
}

// Get returns the baseline for number. The pointer stays valid until the
// next Reset and must not be modified.
func (s *Store) Get(number int32) (*state.EntityState, bool) {
	if !s.inRange(number) {
		return nil, false
	}
	c := s.chunks[number>>chunkShift]
	if c == nil || c.present&(uint64(1)<<uint(number&chunkMask)) == 0 {
		return nil, false
	}
	return &c.states[number&chunkMask], true
}

// Reference returns the baseline for number, or nil when the entity never
// had one and must be sent as a full insert.
func (s *Store) Reference(number int32) *state.EntityState {
	es, _ := s.Get(number)
	return es
}

// Reset drops every baseline. It is called on level change.
func (s *Store) Reset() {
	for i := range s.chunks {
		s.chunks[i] = nil
	}
	s.count = 0
}

// Each calls fn for every baseline in ascending entity order until fn
// returns false.
func (s *Store) Each(fn func(*state.EntityState) bool) {
	for _, c := range s.chunks {
		if c == nil || c.present == 0 {
			continue
		}
		for i := 0; i < chunkSize; i++ {
			if c.present&(uint64(1)<<uint(i)) == 0 {
				continue
			}
			if !fn(&c.states[i]) {
				return
			}
		}
	}
}

// CopyFrom replaces the contents of s with those of src.
func (s *Store) CopyFrom(src *Store) {
	s.Reset()
	src.Each(func(es *state.EntityState) bool {
		s.Set(*es)
		return true
	})
}
