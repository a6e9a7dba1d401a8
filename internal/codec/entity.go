package codec

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// EntityBits is the per-record change mask. The low bits of each header
// byte carry fields; the top bit of each byte says another byte follows.
type EntityBits uint64

const (
	EntOrigin1 EntityBits = 1 << 0
	EntOrigin2 EntityBits = 1 << 1
	EntAngle2  EntityBits = 1 << 2
	EntAngle3  EntityBits = 1 << 3
	EntFrame8  EntityBits = 1 << 4
	EntEvent   EntityBits = 1 << 5
	EntRemove  EntityBits = 1 << 6
	EntMore1   EntityBits = 1 << 7

	EntNumber16 EntityBits = 1 << 8
	EntOrigin3  EntityBits = 1 << 9
	EntAngle1   EntityBits = 1 << 10
	EntModel    EntityBits = 1 << 11
	EntRender8  EntityBits = 1 << 12
	EntEffects8 EntityBits = 1 << 14
	EntMore2    EntityBits = 1 << 15

	EntSkin8     EntityBits = 1 << 16
	EntFrame16   EntityBits = 1 << 17
	EntRender16  EntityBits = 1 << 18
	EntEffects16 EntityBits = 1 << 19
	EntModel2    EntityBits = 1 << 20
	EntModel3    EntityBits = 1 << 21
	EntModel4    EntityBits = 1 << 22
	EntMore3     EntityBits = 1 << 23

	EntOldOrigin EntityBits = 1 << 24
	EntSkin16    EntityBits = 1 << 25
	EntSound     EntityBits = 1 << 26
	EntSolid     EntityBits = 1 << 27
	// EntMore4 only appears under the extended profile.
	EntMore4 EntityBits = 1 << 31

	EntAlpha     EntityBits = 1 << 32
	EntScale     EntityBits = 1 << 33
	EntEffects64 EntityBits = 1 << 34
)

const (
	entMoreMask     = EntMore1 | EntMore2 | EntMore3 | EntMore4
	entReserved     = 1<<13 | 1<<28 | 1<<29 | 1<<30
	entExtendedMask = EntAlpha | EntScale | EntEffects64
)

var entModelBits = [4]EntityBits{EntModel, EntModel2, EntModel3, EntModel4}

// Fields returns b without the header-only bits.
func (b EntityBits) Fields() EntityBits {
	return b &^ (entMoreMask | EntNumber16 | EntRemove)
}

// PackedEntity is an EntityState in wire units.
type PackedEntity struct {
	Number    int32
	Origin    [3]int32
	Angles    [3]int32
	OldOrigin [3]int32
	Models    [4]int32
	Frame     int32
	Skin      uint32
	Effects   uint64
	RenderFx  uint32
	Solid     uint32
	Sound     int32
	Event     uint8
	Alpha     uint8
	Scale     uint8
}

// PackEntity converts s to wire units for p.
func PackEntity(s *state.EntityState, p proto.Profile) PackedEntity {
	pe := PackedEntity{
		Number:   s.Number,
		Frame:    quant(float32(s.Frame), 1, 0, 0xffff),
		Skin:     s.Skin,
		Effects:  uint64(s.Effects),
		RenderFx: uint32(s.RenderFx),
		Solid:    s.Solid,
		Sound:    s.Sound,
		Event:    uint8(s.Event),
	}
	for i := 0; i < 3; i++ {
		pe.Origin[i] = packCoord(s.Origin[i], p)
		pe.OldOrigin[i] = packCoord(s.OldOrigin[i], p)
		pe.Angles[i] = packAngle(s.Angles[i], p)
	}
	modelMask, soundMask := int32(0xff), int32(0xff)
	if p == proto.ProfileExtended {
		modelMask, soundMask = 0xffff, 0xffff
		pe.Alpha = uint8(quant(s.Alpha, 255, 0, 255))
		pe.Scale = uint8(quant(s.Scale, 16, 0, 255))
	} else {
		pe.Effects &= 0xffffffff
		pe.Solid &= 0xffff
	}
	for i, m := range s.ModelIndex {
		pe.Models[i] = m & modelMask
	}
	pe.Sound &= soundMask
	return pe
}

// Unpack converts pe back to an EntityState.
func (pe *PackedEntity) Unpack(p proto.Profile) state.EntityState {
	s := state.EntityState{
		Number:     pe.Number,
		ModelIndex: pe.Models,
		Frame:      pe.Frame,
		Skin:       pe.Skin,
		Effects:    state.Effects(pe.Effects),
		RenderFx:   state.RenderFx(pe.RenderFx),
		Solid:      pe.Solid,
		Sound:      pe.Sound,
		Event:      state.EntityEvent(pe.Event),
	}
	for i := 0; i < 3; i++ {
		s.Origin[i] = unpackCoord(pe.Origin[i], p)
		s.OldOrigin[i] = unpackCoord(pe.OldOrigin[i], p)
		s.Angles[i] = unpackAngle(pe.Angles[i], p)
	}
	if p == proto.ProfileExtended {
		s.Alpha = float32(pe.Alpha) / 255
		s.Scale = float32(pe.Scale) / 16
	}
	return s
}

// QuantizeEntity returns the state a client reconstructs for s under p.
func QuantizeEntity(s *state.EntityState, p proto.Profile) state.EntityState {
	pe := PackEntity(s, p)
	return pe.Unpack(p)
}

// EntityDelta is one entity record: a change mask and the packed values of
// the current state. Only fields selected by Bits are meaningful.
type EntityDelta struct {
	Number int32
	Bits   EntityBits
	Values PackedEntity
}

// Remove reports whether d is a removal record.
func (d EntityDelta) Remove() bool { return d.Bits&EntRemove != 0 }

// Empty reports whether d changes no persistent field. The transient event
// does not count: an event-only record is empty but must still be written.
func (d EntityDelta) Empty() bool { return d.Bits.Fields()&^EntEvent == 0 }

// Skippable reports whether no record needs to be written for an entity
// carried over from the reference.
func (d EntityDelta) Skippable() bool { return d.Empty() && d.Bits&EntEvent == 0 }

// RemoveDelta returns a removal record for number.
func RemoveDelta(number int32) EntityDelta {
	return EntityDelta{Number: number, Bits: EntRemove}
}

func sizeBits(v uint32, b8, b16 EntityBits) EntityBits {
	switch {
	case v < 0x100:
		return b8
	case v < 0x10000:
		return b16
	}
	return b8 | b16
}

// EncodeEntity computes the delta from ref to cur. A nil ref marks every
// field changed, producing a full insert decodable from the zero state.
// The event field is set whenever cur carries an event, independent of ref.
func EncodeEntity(ref, cur *state.EntityState, p proto.Profile) EntityDelta {
	c := PackEntity(cur, p)
	force := ref == nil
	var r PackedEntity
	if !force {
		r = PackEntity(ref, p)
	}
	return EntityDelta{Number: c.Number, Bits: diffEntity(&r, &c, force, p), Values: c}
}

func diffEntity(r, c *PackedEntity, force bool, p proto.Profile) EntityBits {
	var bits EntityBits
	originBits := [3]EntityBits{EntOrigin1, EntOrigin2, EntOrigin3}
	angleBits := [3]EntityBits{EntAngle1, EntAngle2, EntAngle3}
	for i := 0; i < 3; i++ {
		if force || c.Origin[i] != r.Origin[i] {
			bits |= originBits[i]
		}
		if force || c.Angles[i] != r.Angles[i] {
			bits |= angleBits[i]
		}
	}
	if force || c.OldOrigin != r.OldOrigin {
		bits |= EntOldOrigin
	}
	for i := range c.Models {
		if force || c.Models[i] != r.Models[i] {
			bits |= entModelBits[i]
		}
	}
	if force || c.Frame != r.Frame {
		if c.Frame < 0x100 {
			bits |= EntFrame8
		} else {
			bits |= EntFrame16
		}
	}
	if force || c.Skin != r.Skin {
		bits |= sizeBits(c.Skin, EntSkin8, EntSkin16)
	}
	if force || uint32(c.Effects) != uint32(r.Effects) {
		bits |= sizeBits(uint32(c.Effects), EntEffects8, EntEffects16)
	}
	if p == proto.ProfileExtended && (c.Effects>>32 != r.Effects>>32 || force && c.Effects>>32 != 0) {
		bits |= EntEffects64
	}
	if force || c.RenderFx != r.RenderFx {
		bits |= sizeBits(c.RenderFx, EntRender8, EntRender16)
	}
	if force || c.Sound != r.Sound {
		bits |= EntSound
	}
	if force || c.Solid != r.Solid {
		bits |= EntSolid
	}
	if p == proto.ProfileExtended {
		if force || c.Alpha != r.Alpha {
			bits |= EntAlpha
		}
		if force || c.Scale != r.Scale {
			bits |= EntScale
		}
	}
	if c.Event != 0 {
		bits |= EntEvent
	}
	return bits
}

// DecodeEntity applies d to ref. A nil ref decodes from the zero state.
// The reference event never carries over.
func DecodeEntity(ref *state.EntityState, d EntityDelta, p proto.Profile) state.EntityState {
	var r PackedEntity
	if ref != nil {
		r = PackEntity(ref, p)
	}
	r.Number = d.Number
	r.Event = 0
	applyEntity(&r, &d.Values, d.Bits)
	return r.Unpack(p)
}

func applyEntity(r, v *PackedEntity, bits EntityBits) {
	originBits := [3]EntityBits{EntOrigin1, EntOrigin2, EntOrigin3}
	angleBits := [3]EntityBits{EntAngle1, EntAngle2, EntAngle3}
	for i := 0; i < 3; i++ {
		if bits&originBits[i] != 0 {
			r.Origin[i] = v.Origin[i]
		}
		if bits&angleBits[i] != 0 {
			r.Angles[i] = v.Angles[i]
		}
	}
	if bits&EntOldOrigin != 0 {
		r.OldOrigin = v.OldOrigin
	}
	for i := range r.Models {
		if bits&entModelBits[i] != 0 {
			r.Models[i] = v.Models[i]
		}
	}
	if bits&(EntFrame8|EntFrame16) != 0 {
		r.Frame = v.Frame
	}
	if bits&(EntSkin8|EntSkin16) != 0 {
		r.Skin = v.Skin
	}
	if bits&(EntEffects8|EntEffects16) != 0 {
		r.Effects = r.Effects&^0xffffffff | v.Effects&0xffffffff
	}
	if bits&EntEffects64 != 0 {
		r.Effects = r.Effects&0xffffffff | v.Effects&^0xffffffff
	}
	if bits&(EntRender8|EntRender16) != 0 {
		r.RenderFx = v.RenderFx
	}
	if bits&EntSound != 0 {
		r.Sound = v.Sound
	}
	if bits&EntSolid != 0 {
		r.Solid = v.Solid
	}
	if bits&EntAlpha != 0 {
		r.Alpha = v.Alpha
	}
	if bits&EntScale != 0 {
		r.Scale = v.Scale
	}
	if bits&EntEvent != 0 {
		r.Event = v.Event
	}
}

// WriteEntity writes d as a header followed by its changed fields.
func WriteEntity(b *msg.Buffer, d EntityDelta, p proto.Profile) {
	bits := d.Bits &^ entMoreMask
	if d.Number >= 0x100 {
		bits |= EntNumber16
	}
	if bits&^0xffffffff != 0 {
		bits |= EntMore4
	}
	if bits&0xff000000 != 0 {
		bits |= EntMore3
	}
	if bits&0xff0000 != 0 {
		bits |= EntMore2
	}
	if bits&0xff00 != 0 {
		bits |= EntMore1
	}

	b.WriteUint8(uint8(bits))
	if bits&EntMore1 != 0 {
		b.WriteUint8(uint8(bits >> 8))
	}
	if bits&EntMore2 != 0 {
		b.WriteUint8(uint8(bits >> 16))
	}
	if bits&EntMore3 != 0 {
		b.WriteUint8(uint8(bits >> 24))
	}
	if bits&EntMore4 != 0 {
		b.WriteUint8(uint8(bits >> 32))
	}
	if bits&EntNumber16 != 0 {
		b.WriteUint16(uint16(d.Number))
	} else {
		b.WriteUint8(uint8(d.Number))
	}
	if bits&EntRemove != 0 {
		return
	}
	writeEntityFields(b, &d.Values, bits, p)
}

// WriteEntityEnd writes the zero-number record that ends an entity list.
func WriteEntityEnd(b *msg.Buffer) {
	b.WriteUint8(0)
	b.WriteUint8(0)
}

func writeSized(b *msg.Buffer, v uint32, bits, b8, b16 EntityBits) {
	switch {
	case bits&b8 != 0 && bits&b16 != 0:
		b.WriteUint32(v)
	case bits&b8 != 0:
		b.WriteUint8(uint8(v))
	case bits&b16 != 0:
		b.WriteUint16(uint16(v))
	}
}

func readSized(r *msg.Reader, bits, b8, b16 EntityBits) (uint32, error) {
	switch {
	case bits&b8 != 0 && bits&b16 != 0:
		return r.ReadUint32()
	case bits&b8 != 0:
		v, err := r.ReadUint8()
		return uint32(v), err
	case bits&b16 != 0:
		v, err := r.ReadUint16()
		return uint32(v), err
	}
	return 0, nil
}

func writeEntityFields(b *msg.Buffer, v *PackedEntity, bits EntityBits, p proto.Profile) {
	ext := p == proto.ProfileExtended
	for i, mb := range entModelBits {
		if bits&mb != 0 {
			if ext {
				b.WriteUint16(uint16(v.Models[i]))
			} else {
				b.WriteUint8(uint8(v.Models[i]))
			}
		}
	}
	if bits&EntFrame8 != 0 {
		b.WriteUint8(uint8(v.Frame))
	}
	if bits&EntFrame16 != 0 {
		b.WriteUint16(uint16(v.Frame))
	}
	writeSized(b, v.Skin, bits, EntSkin8, EntSkin16)
	writeSized(b, uint32(v.Effects), bits, EntEffects8, EntEffects16)
	if bits&EntEffects64 != 0 {
		b.WriteUint32(uint32(v.Effects >> 32))
	}
	writeSized(b, v.RenderFx, bits, EntRender8, EntRender16)
	if bits&EntOrigin1 != 0 {
		writeCoord(b, v.Origin[0], p)
	}
	if bits&EntOrigin2 != 0 {
		writeCoord(b, v.Origin[1], p)
	}
	if bits&EntOrigin3 != 0 {
		writeCoord(b, v.Origin[2], p)
	}
	if bits&EntAngle1 != 0 {
		writeAngle(b, v.Angles[0], p)
	}
	if bits&EntAngle2 != 0 {
		writeAngle(b, v.Angles[1], p)
	}
	if bits&EntAngle3 != 0 {
		writeAngle(b, v.Angles[2], p)
	}
	if bits&EntOldOrigin != 0 {
		for i := 0; i < 3; i++ {
			writeCoord(b, v.OldOrigin[i], p)
		}
	}
	if bits&EntSound != 0 {
		if ext {
			b.WriteUint16(uint16(v.Sound))
		} else {
			b.WriteUint8(uint8(v.Sound))
		}
	}
	if bits&EntEvent != 0 {
		b.WriteUint8(v.Event)
	}
	if bits&EntSolid != 0 {
		if ext {
			b.WriteUint32(v.Solid)
		} else {
			b.WriteUint16(uint16(v.Solid))
		}
	}
	if bits&EntAlpha != 0 {
		b.WriteUint8(v.Alpha)
	}
	if bits&EntScale != 0 {
		b.WriteUint8(v.Scale)
	}
}

// ReadEntityHeader reads a record header. A zero number ends the list.
// Numbers outside [1, MaxEdicts) and bits the profile does not define are
// protocol violations.
func ReadEntityHeader(r *msg.Reader, p proto.Profile) (int32, EntityBits, error) {
	b0, err := r.ReadUint8()
	if err != nil {
		return 0, 0, err
	}
	bits := EntityBits(b0)
	for i, more := range [...]EntityBits{EntMore1, EntMore2, EntMore3, EntMore4} {
		if bits&more == 0 {
			break
		}
		if more == EntMore4 && p != proto.ProfileExtended {
			return 0, 0, proto.Violation("entity header", "extension bits under %s profile", p)
		}
		next, err := r.ReadUint8()
		if err != nil {
			return 0, 0, err
		}
		bits |= EntityBits(next) << (8 * (i + 1))
	}
	if bits&entReserved != 0 || bits>>35 != 0 {
		return 0, 0, proto.Violation("entity header", "reserved bits %#x", uint64(bits))
	}
	var number int32
	if bits&EntNumber16 != 0 {
		n, err := r.ReadUint16()
		if err != nil {
			return 0, 0, err
		}
		number = int32(n)
	} else {
		n, err := r.ReadUint8()
		if err != nil {
			return 0, 0, err
		}
		number = int32(n)
	}
	if number == 0 {
		return 0, bits, nil
	}
	if int(number) >= p.Limits().MaxEdicts {
		return 0, 0, proto.Violation("entity header", "number %d out of range", number)
	}
	return number, bits, nil
}

// ReadEntityDelta reads the fields announced by bits.
func ReadEntityDelta(r *msg.Reader, number int32, bits EntityBits, p proto.Profile) (EntityDelta, error) {
	d := EntityDelta{Number: number, Bits: bits.Fields() | bits&EntRemove}
	if bits&EntRemove != 0 {
		return d, nil
	}
	v := &d.Values
	v.Number = number
	ext := p == proto.ProfileExtended
	limits := p.Limits()
	for i, mb := range entModelBits {
		if bits&mb == 0 {
			continue
		}
		var m int32
		if ext {
			n, err := r.ReadUint16()
			if err != nil {
				return d, err
			}
			m = int32(n)
		} else {
			n, err := r.ReadUint8()
			if err != nil {
				return d, err
			}
			m = int32(n)
		}
		if int(m) >= limits.MaxModels {
			return d, proto.Violation("entity", "model index %d out of range", m)
		}
		v.Models[i] = m
	}
	if bits&EntFrame8 != 0 {
		f, err := r.ReadUint8()
		if err != nil {
			return d, err
		}
		v.Frame = int32(f)
	}
	if bits&EntFrame16 != 0 {
		f, err := r.ReadUint16()
		if err != nil {
			return d, err
		}
		v.Frame = int32(f)
	}
	var err error
	if v.Skin, err = readSized(r, bits, EntSkin8, EntSkin16); err != nil {
		return d, err
	}
	lo, err := readSized(r, bits, EntEffects8, EntEffects16)
	if err != nil {
		return d, err
	}
	v.Effects = uint64(lo)
	if bits&EntEffects64 != 0 {
		hi, err := r.ReadUint32()
		if err != nil {
			return d, err
		}
		v.Effects |= uint64(hi) << 32
	}
	if v.RenderFx, err = readSized(r, bits, EntRender8, EntRender16); err != nil {
		return d, err
	}
	for i, ob := range [3]EntityBits{EntOrigin1, EntOrigin2, EntOrigin3} {
		if bits&ob != 0 {
			if v.Origin[i], err = readCoord(r, p); err != nil {
				return d, err
			}
		}
	}
	for i, ab := range [3]EntityBits{EntAngle1, EntAngle2, EntAngle3} {
		if bits&ab != 0 {
			if v.Angles[i], err = readAngle(r, p); err != nil {
				return d, err
			}
		}
	}
	if bits&EntOldOrigin != 0 {
		for i := 0; i < 3; i++ {
			if v.OldOrigin[i], err = readCoord(r, p); err != nil {
				return d, err
			}
		}
	}
	if bits&EntSound != 0 {
		if ext {
			s, err := r.ReadUint16()
			if err != nil {
				return d, err
			}
			v.Sound = int32(s)
		} else {
			s, err := r.ReadUint8()
			if err != nil {
				return d, err
			}
			v.Sound = int32(s)
		}
	}
	if bits&EntEvent != 0 {
		if v.Event, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}
	if bits&EntSolid != 0 {
		if ext {
			if v.Solid, err = r.ReadUint32(); err != nil {
				return d, err
			}
		} else {
			s, err := r.ReadUint16()
			if err != nil {
				return d, err
			}
			v.Solid = uint32(s)
		}
	}
	if bits&EntAlpha != 0 {
		if v.Alpha, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}
	if bits&EntScale != 0 {
		if v.Scale, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}
	return d, nil
}
