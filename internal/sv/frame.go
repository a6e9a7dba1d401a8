package sv

import (
	"sort"

	"github.com/themuffinator/q2repro-test-sub001/internal/codec"
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/selector"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// buildFrame records this tick's frame for c: the visible entities in the
// next window of the entity ring, the player state and the area bits. It
// returns the selected candidates, aligned with the frame's entities.
func (s *Server) buildFrame(c *Connection) (*ClientFrame, []selector.Candidate) {
	f := &c.frames[s.tick&proto.UpdateMask]
	*f = ClientFrame{
		Number:      s.tick,
		Delta:       proto.NoDelta,
		FirstEntity: c.nextEntity,
		ClientNum:   c.PlayerNum(),
	}

	ps := s.game.PlayerState(c.slot)
	f.PS = codec.QuantizePlayer(ps, c.profile)
	view := selector.Viewer{Number: c.PlayerNum(), Origin: ps.ViewOrigin()}
	view.Area = s.oracle.PointArea(view.Origin)
	f.AreaBytes = s.oracle.AreaBits(view.Area, f.AreaBits[:])

	edicts := s.game.Edicts()
	if max := c.profile.Limits().MaxEdicts; len(edicts) > max {
		edicts = edicts[:max]
	}
	list, dropped := s.selectors[c.profile].Select(view, edicts)
	if dropped > 0 {
		c.stats.EntityOverflow += uint64(dropped)
		s.rec.EntityOverflow(dropped)
		c.log.Debug("too many visible entities", "dropped", dropped, "frame", s.tick)
	}
	for i := range list {
		*c.entity(f, i) = codec.QuantizeEntity(&list[i].State, c.profile)
	}
	f.NumEntities = len(list)
	c.nextEntity += len(list)
	return f, list
}

type opKind uint8

const (
	opCarry opKind = iota
	opUpdate
	opInsert
	opRemove
)

// mergeOp is one step of the old/new merge.
type mergeOp struct {
	kind   opKind
	newIdx int
	oldIdx int
	start  int // encoded record within the scratch buffer
	end    int
	keep   bool
}

func (op *mergeOp) size() int { return op.end - op.start }

// writeFrame writes the frame header, player state and entity list for
// c into s.packet, bounded by budget. It returns nil when not even the
// header fits.
func (s *Server) writeFrame(c *Connection, budget int) []byte {
	old := c.reference(s.tick)
	f, cands := s.buildFrame(c)
	if old != nil && f.FirstEntity-old.FirstEntity > len(c.entities)-c.profile.Limits().MaxPacketEntities {
		// the reference's entities may be overwritten by this frame's window
		c.stats.StaleReferences++
		old = nil
	}
	if old != nil {
		f.Delta = old.Number
	} else {
		c.stats.FullFrames++
	}

	b := s.packet
	b.Reset()
	b.SetMax(budget)
	b.WriteUint8(uint8(proto.SvcFrame))
	b.WriteInt32(f.Number)
	b.WriteInt32(f.Delta)
	b.WriteUint8(uint8(min(c.suppressCount, 255)))
	b.WriteUint8(uint8(c.frameFlags))
	b.WriteUint8(uint8(f.AreaBytes))
	b.WriteData(f.AreaBits[:f.AreaBytes])

	var oldPS *state.PlayerState
	if old != nil {
		oldPS = &old.PS
	}
	b.WriteUint8(uint8(proto.SvcPlayerInfo))
	pd := codec.EncodePlayer(oldPS, &f.PS, codec.FlagsFor(c.settings, &f.PS), c.profile)
	codec.WritePlayer(b, pd, c.profile)

	// svc byte plus terminator
	room := b.Remaining() - 3
	if b.Overflowed() || room < 0 {
		c.log.Warn("frame header does not fit", "budget", budget, "frame", s.tick)
		c.discardFrame(f)
		return nil
	}
	b.WriteUint8(uint8(proto.SvcPacketEntities))
	s.emitEntities(c, old, f, cands, room, b)
	codec.WriteEntityEnd(b)
	if b.Overflowed() {
		c.log.Warn("frame overflowed packet", "budget", budget, "frame", s.tick)
		c.discardFrame(f)
		return nil
	}

	f.Sent = true
	c.suppressCount = 0
	c.frameFlags = 0
	return b.Bytes()
}

// discardFrame releases f's window. The frame is never a delta reference.
func (c *Connection) discardFrame(f *ClientFrame) {
	c.nextEntity = f.FirstEntity
	f.NumEntities = 0
	f.Number = 0
	f.Sent = false
}

// emitEntities merges f against old and writes the entity records that fit
// in room bytes. When they do not all fit, entities the client has never
// seen are left out first, lowest priority first, then updates are
// deferred and last removals are deferred. A deferred entity stays in the
// window with its old state. The frame's window is rewritten to hold
// exactly what the client will reconstruct.
func (s *Server) emitEntities(c *Connection, old, f *ClientFrame, cands []selector.Candidate, room int, out *msg.Buffer) {
	p := c.profile
	sc := s.scratch
	sc.Reset()
	ops := s.ops[:0]

	oldN := 0
	if old != nil {
		oldN = old.NumEntities
	}
	i, j := 0, 0
	for i < f.NumEntities || j < oldN {
		newNum, oldNum := int32(1<<30), int32(1<<30)
		var cur, prev *state.EntityState
		if i < f.NumEntities {
			cur = c.entity(f, i)
			newNum = cur.Number
		}
		if j < oldN {
			prev = c.entity(old, j)
			oldNum = prev.Number
		}
		op := mergeOp{newIdx: i, oldIdx: j, start: sc.Len(), keep: true}
		switch {
		case newNum == oldNum:
			d := codec.EncodeEntity(prev, cur, p)
			if d.Skippable() {
				op.kind = opCarry
			} else {
				op.kind = opUpdate
				codec.WriteEntity(sc, d, p)
			}
			i++
			j++
		case newNum < oldNum:
			op.kind = opInsert
			codec.WriteEntity(sc, codec.EncodeEntity(c.baselines.Reference(newNum), cur, p), p)
			i++
		default:
			op.kind = opRemove
			codec.WriteEntity(sc, codec.RemoveDelta(oldNum), p)
			j++
		}
		op.end = sc.Len()
		ops = append(ops, op)
	}
	s.ops = ops

	total := 0
	for k := range ops {
		total += ops[k].size()
	}
	if total > room {
		total = s.truncate(c, ops, cands, total, room)
	}

	// deferred removals can push entries up the window, so rebuild it
	// from a copy
	cur := s.window[:0]
	for k := 0; k < f.NumEntities; k++ {
		cur = append(cur, *c.entity(f, k))
	}
	s.window = cur
	carry := func(k int) state.EntityState {
		es := *c.entity(old, k)
		es.Event = state.EventNone
		return es
	}

	data := sc.Bytes()
	w := 0
	for k := range ops {
		op := &ops[k]
		switch op.kind {
		case opCarry:
			*c.entity(f, w) = cur[op.newIdx]
			w++
		case opUpdate:
			if op.keep {
				*c.entity(f, w) = cur[op.newIdx]
			} else {
				*c.entity(f, w) = carry(op.oldIdx)
			}
			w++
		case opInsert:
			if op.keep {
				*c.entity(f, w) = cur[op.newIdx]
				w++
			}
		case opRemove:
			if !op.keep {
				*c.entity(f, w) = carry(op.oldIdx)
				w++
			}
		}
		if op.keep && op.size() > 0 {
			out.WriteData(data[op.start:op.end])
		}
	}
	f.NumEntities = w
	c.nextEntity = f.FirstEntity + w
}

// truncate marks ops to leave out until the rest fits in room and returns
// the new total.
func (s *Server) truncate(c *Connection, ops []mergeOp, cands []selector.Candidate, total, room int) int {
	ranks := selector.Ranks(cands)
	victims := func(kind opKind) []int {
		var idx []int
		for k := range ops {
			if ops[k].kind == kind {
				idx = append(idx, k)
			}
		}
		// worst rank first
		sort.Slice(idx, func(a, b int) bool {
			return ranks[ops[idx[a]].newIdx] > ranks[ops[idx[b]].newIdx]
		})
		return idx
	}

	omitted, deferred, kept := 0, 0, 0
	for _, kind := range []opKind{opInsert, opUpdate} {
		for _, k := range victims(kind) {
			if total <= room {
				break
			}
			ops[k].keep = false
			total -= ops[k].size()
			if kind == opInsert {
				omitted++
			} else {
				deferred++
			}
		}
	}
	// highest numbers first
	for k := len(ops) - 1; k >= 0 && total > room; k-- {
		if ops[k].kind == opRemove {
			ops[k].keep = false
			total -= ops[k].size()
			kept++
		}
	}
	c.stats.EntitiesOmitted += uint64(omitted)
	c.stats.UpdatesDeferred += uint64(deferred)
	c.stats.RemovalsDeferred += uint64(kept)
	s.rec.FrameTruncated(omitted + deferred + kept)
	c.log.Debug("frame truncated", "omitted", omitted, "deferred", deferred, "removals", kept, "frame", s.tick)
	return total
}
