package cl

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/codec"
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

const endOfList = int32(1 << 30)

func (c *Client) entity(f *Frame, i int) *state.EntityState {
	return &c.entities[(f.FirstEntity+i)&c.entityMask]
}

// parseFrame reads a frame header, its player state and entity list. A
// frame whose reference is unusable is still read to the end so the rest
// of the datagram parses, but it is stored as invalid and acked as
// NoDelta.
func (c *Client) parseFrame(r *msg.Reader) error {
	var f Frame
	var err error
	if f.Number, err = r.ReadInt32(); err != nil {
		return err
	}
	if f.Delta, err = r.ReadInt32(); err != nil {
		return err
	}
	suppressed, err := r.ReadUint8()
	if err != nil {
		return err
	}
	flags, err := r.ReadUint8()
	if err != nil {
		return err
	}
	areaBytes, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if areaBytes > proto.MaxAreaBytes {
		return proto.Violation("frame", "%d area bytes", areaBytes)
	}
	f.Suppressed = int(suppressed)
	f.Flags = proto.FrameFlags(flags)
	f.AreaBytes = int(areaBytes)
	area, err := r.ReadData(f.AreaBytes)
	if err != nil {
		return err
	}
	copy(f.AreaBits[:], area)
	if f.Number <= 0 {
		return proto.Violation("frame", "number %d", f.Number)
	}

	old := c.deltaFrame(&f)

	op, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if proto.SvcOp(op) != proto.SvcPlayerInfo {
		return proto.Violation("frame", "expected %s, got %s", proto.SvcPlayerInfo, proto.SvcOp(op))
	}
	pd, err := codec.ReadPlayer(r, c.profile)
	if err != nil {
		return err
	}
	var oldPS *state.PlayerState
	if old != nil {
		oldPS = &old.PS
	}
	f.PS = codec.DecodePlayer(oldPS, pd, c.profile)

	if op, err = r.ReadUint8(); err != nil {
		return err
	}
	if proto.SvcOp(op) != proto.SvcPacketEntities {
		return proto.Violation("frame", "expected %s, got %s", proto.SvcPacketEntities, proto.SvcOp(op))
	}
	if err := c.parseEntities(r, old, &f); err != nil {
		return err
	}

	c.frames[f.Number&proto.UpdateMask] = f
	c.lastFrame = f.Number
	c.lastValid = f.Valid
	c.stats.FramesParsed++
	c.stats.SuppressedFrames += uint64(f.Suppressed)
	if !f.Valid {
		c.stats.InvalidFrames++
		c.log.Debug("frame invalid", "frame", f.Number, "delta", f.Delta)
		return nil
	}
	c.nextEntity += f.NumEntities
	c.frame = f
	c.state = StateHaveFrame
	if c.handlers.Frame != nil {
		c.handlers.Frame(c)
	}
	return nil
}

// deltaFrame decides whether f can be decoded and returns its reference,
// nil for a full frame.
func (c *Client) deltaFrame(f *Frame) *Frame {
	if f.Delta == proto.NoDelta {
		f.Valid = true
		c.stats.FullFrames++
		return nil
	}
	old := &c.frames[f.Delta&proto.UpdateMask]
	switch {
	case f.Delta <= 0 || f.Delta >= f.Number:
		c.log.Debug("delta reference out of order", "frame", f.Number, "delta", f.Delta)
	case !old.Valid || old.Number != f.Delta:
		c.log.Debug("delta reference not held", "frame", f.Number, "delta", f.Delta)
	case c.nextEntity-old.FirstEntity > len(c.entities)-c.profile.Limits().MaxPacketEntities:
		c.log.Debug("delta reference entities overwritten", "frame", f.Number, "delta", f.Delta)
	default:
		f.Valid = true
		return old
	}
	return nil
}

// parseEntities merges the records against old into the next ring window.
// Entities of old that no record names carry over unchanged except for
// their event.
func (c *Client) parseEntities(r *msg.Reader, old, f *Frame) error {
	p := c.profile
	limit := p.Limits().MaxPacketEntities
	f.FirstEntity = c.nextEntity
	f.NumEntities = 0

	oldN, j := 0, 0
	if old != nil {
		oldN = old.NumEntities
	}
	oldNum := func() int32 {
		if j < oldN {
			return c.entity(old, j).Number
		}
		return endOfList
	}
	add := func(es state.EntityState) error {
		if f.NumEntities >= limit {
			return proto.Violation("packet entities", "more than %d entities", limit)
		}
		*c.entity(f, f.NumEntities) = es
		f.NumEntities++
		return nil
	}
	carry := func() error {
		es := *c.entity(old, j)
		es.Event = state.EventNone
		j++
		return add(es)
	}

	var last int32
	for {
		num, bits, err := codec.ReadEntityHeader(r, p)
		if err != nil {
			return err
		}
		if num == 0 {
			break
		}
		if num <= last {
			return proto.Violation("packet entities", "entity %d after %d", num, last)
		}
		last = num
		d, err := codec.ReadEntityDelta(r, num, bits, p)
		if err != nil {
			return err
		}
		c.stats.EntitiesParsed++
		if !f.Valid {
			continue
		}
		for oldNum() < num {
			if err := carry(); err != nil {
				return err
			}
		}
		if d.Remove() {
			if oldNum() != num {
				return proto.Violation("packet entities", "remove of %d not in reference", num)
			}
			j++
			continue
		}
		var ref *state.EntityState
		if oldNum() == num {
			ref = c.entity(old, j)
			j++
		} else {
			ref = c.baselines.Reference(num)
		}
		if err := add(codec.DecodeEntity(ref, d, p)); err != nil {
			return err
		}
	}
	if !f.Valid {
		f.NumEntities = 0
		return nil
	}
	for j < oldN {
		if err := carry(); err != nil {
			return err
		}
	}
	return nil
}
