// Package selector picks the entities a client is sent each tick: it
// filters the arena through the visibility oracle and, when the frame is
// over capacity, keeps the most important entities.
package selector

import (
	"sort"

	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// NearbyRadius is the distance within which entities with nothing to render
// are still sent, so their events reach the client.
const NearbyRadius = 256

// Oracle answers spatial visibility questions. Implementations come from
// the map collision code; the selector only consumes the results.
type Oracle interface {
	AreaConnected(a, b int) bool
	InPVS(view, point state.Vec3) bool
	InPHS(view, point state.Vec3) bool
}

// Customizer may hide an entity from one viewer or alter the state that
// viewer is sent. It receives a copy and must not touch authoritative state.
type Customizer interface {
	Customize(viewer int32, e *state.Edict, s *state.EntityState) bool
}

// Priority is an overflow class. Lower values are kept first.
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityDefault
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityDefault:
		return "default"
	}
	return "low"
}

// Viewer is the client point of view.
type Viewer struct {
	Number int32 // the client's own entity
	Origin state.Vec3
	Area   int
}

// Candidate is a selected entity and the data needed to rank it.
type Candidate struct {
	State  state.EntityState
	Class  Priority
	DistSq float32
}

// Number returns the entity number.
func (c *Candidate) Number() int32 { return c.State.Number }

// Selector filters and ranks entities. It keeps scratch buffers between
// calls and is owned by the tick goroutine.
type Selector struct {
	oracle   Oracle
	custom   Customizer
	capacity int
	nearSq   float32
	list     []Candidate
}

// New returns a selector keeping at most capacity entities per frame.
// custom may be nil.
func New(oracle Oracle, custom Customizer, capacity int) *Selector {
	return &Selector{
		oracle:   oracle,
		custom:   custom,
		capacity: capacity,
		nearSq:   NearbyRadius * NearbyRadius,
	}
}

// Capacity returns the per-frame entity limit.
func (s *Selector) Capacity() int { return s.capacity }

// SetCustomizer replaces the customization hook.
func (s *Selector) SetCustomizer(c Customizer) { s.custom = c }

// Select returns the entities visible to v in ascending entity order,
// bounded by the capacity, and the number dropped for overflow. The
// returned slice is reused by the next call. edicts is indexed by entity
// number; slot 0 is the world and is never sent.
func (s *Selector) Select(v Viewer, edicts []state.Edict) ([]Candidate, int) {
	s.list = s.list[:0]
	for i := 1; i < len(edicts); i++ {
		e := &edicts[i]
		if !e.InUse || e.SVFlags&state.SVFNoClient != 0 {
			continue
		}
		if int32(i) != v.Number && !s.visible(v, e) {
			continue
		}
		es := e.State
		es.Number = int32(i)
		if s.custom != nil && !s.custom.Customize(v.Number, e, &es) {
			continue
		}
		s.list = append(s.list, Candidate{
			State:  es,
			Class:  Classify(e, &es),
			DistSq: state.DistanceSq(v.Origin, es.Origin),
		})
	}
	if len(s.list) <= s.capacity {
		return s.list, 0
	}
	dropped := len(s.list) - s.capacity
	SortByPriority(s.list)
	s.list = s.list[:s.capacity]
	sort.Slice(s.list, func(i, j int) bool {
		return s.list[i].State.Number < s.list[j].State.Number
	})
	return s.list, dropped
}

func (s *Selector) visible(v Viewer, e *state.Edict) bool {
	es := &e.State
	if !es.Visible() && state.DistanceSq(v.Origin, es.Origin) > s.nearSq {
		return false
	}
	if e.SVFlags&state.SVFNoCull == 0 {
		if !s.oracle.AreaConnected(v.Area, e.Area) &&
			(e.Area2 == 0 || !s.oracle.AreaConnected(v.Area, e.Area2)) {
			return false
		}
	}
	if es.Sound != 0 || es.RenderFx&state.RenderCastShadow != 0 {
		return s.oracle.InPHS(v.Origin, es.Origin)
	}
	return s.oracle.InPVS(v.Origin, es.Origin)
}

// Classify returns the overflow class of an entity.
func Classify(e *state.Edict, es *state.EntityState) Priority {
	switch {
	case e.Client, e.SVFlags&state.SVFMonster != 0, e.Solid == state.SolidBSP:
		return PriorityHigh
	case e.SVFlags&state.SVFDeadMonster != 0,
		es.Effects&(state.EffectGib|state.EffectGreenGib) != 0,
		es.ModelIndex[0] == 0 && es.Effects == 0:
		return PriorityLow
	}
	return PriorityDefault
}

// SortByPriority orders candidates by class, then by distance, then by
// entity number so equal entries always come out the same way.
func SortByPriority(list []Candidate) {
	sort.Slice(list, func(i, j int) bool { return before(&list[i], &list[j]) })
}

func before(a, b *Candidate) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	if a.DistSq != b.DistSq {
		return a.DistSq < b.DistSq
	}
	return a.State.Number < b.State.Number
}

// Ranks returns, for each candidate in list, its position in priority
// order. list itself is not reordered.
func Ranks(list []Candidate) []int {
	idx := make([]int, len(list))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return before(&list[idx[i]], &list[idx[j]]) })
	ranks := make([]int, len(list))
	for r, i := range idx {
		ranks[i] = r
	}
	return ranks
}
