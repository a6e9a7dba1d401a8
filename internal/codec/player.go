package codec

import (
	"math"

	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// PlayerBits is the player state change mask.
type PlayerBits uint32

const (
	PlayerMType PlayerBits = 1 << iota
	PlayerMOrigin
	PlayerMVelocity
	PlayerMTime
	PlayerMFlags
	PlayerMGravity
	PlayerMDeltaAngles
	PlayerViewOffset
	PlayerViewAngles
	PlayerKickAngles
	PlayerBlend
	PlayerFOV
	PlayerWeaponIndex
	PlayerWeaponFrame
	PlayerRDFlags
	// PlayerMoreBits announces a second mask word (extended profile).
	PlayerMoreBits

	PlayerDamageBlend
	PlayerFog
	PlayerHeightFog
	PlayerWeaponRate
	PlayerWeaponSkin
)

const playerExtendedMask = PlayerWeaponSkin<<1 - 1

// PlayerFlags suppress fields after the diff so the client keeps its own
// value for them.
type PlayerFlags uint8

const (
	IgnoreGunIndex PlayerFlags = 1 << iota
	IgnoreGunFrames
	IgnoreBlend
	IgnoreViewAngles
	IgnoreDeltaAngles
	IgnorePrediction
	// ForcePlayer sends every field regardless of the reference.
	ForcePlayer
)

// FlagsFor maps client settings and the pmove type to suppression flags.
func FlagsFor(s proto.Settings, ps *state.PlayerState) PlayerFlags {
	var f PlayerFlags
	if s.Has(proto.SettingNoGun) || ps.PMove.Type == state.PMSpectator {
		f |= IgnoreGunIndex | IgnoreGunFrames
	}
	if s.Has(proto.SettingNoBlend) {
		f |= IgnoreBlend
	}
	if s.Has(proto.SettingNoPredict) {
		f |= IgnorePrediction | IgnoreDeltaAngles
	}
	return f
}

// PackedPlayer is a PlayerState in wire units.
type PackedPlayer struct {
	PMType      uint8
	PMOrigin    [3]int32
	PMVelocity  [3]int32
	PMFlags     uint16
	PMTime      uint16
	PMGravity   int16
	DeltaAngles [3]int16

	ViewAngles [3]int32
	ViewOffset [3]int32
	KickAngles [3]int32

	GunIndex  int32
	GunSkin   uint8
	GunFrame  uint8
	GunOffset [3]int32
	GunAngles [3]int32
	GunRate   uint8

	Blend       [4]uint8
	DamageBlend [4]uint8
	FOV         uint8
	RDFlags     uint8

	Stats [state.MaxStats]int16

	Fog       [5]uint32
	HeightFog [10]uint32
}

// player scale factors: legacy packs offsets into signed bytes, extended
// into shorts.
func offsetScale(p proto.Profile) (float64, int64, int64) {
	if p == proto.ProfileExtended {
		return 16, math.MinInt16, math.MaxInt16
	}
	return 4, math.MinInt8, math.MaxInt8
}

func pmRange(p proto.Profile) (int64, int64) {
	if p == proto.ProfileExtended {
		return -coordMaxExtended, coordMaxExtended
	}
	return math.MinInt16, math.MaxInt16
}

// PackPlayer converts ps to wire units for p.
func PackPlayer(ps *state.PlayerState, p proto.Profile) PackedPlayer {
	ext := p == proto.ProfileExtended
	lo, hi := pmRange(p)
	scale, olo, ohi := offsetScale(p)
	pp := PackedPlayer{
		PMType:      uint8(ps.PMove.Type),
		PMFlags:     uint16(ps.PMove.Flags),
		PMTime:      ps.PMove.Time,
		PMGravity:   ps.PMove.Gravity,
		DeltaAngles: ps.PMove.DeltaAngles,
		GunIndex:    ps.GunIndex,
		GunFrame:    uint8(clampByte(ps.GunFrame)),
		FOV:         uint8(quant(ps.FOV, 1, 0, 255)),
		RDFlags:     uint8(ps.RDFlags),
	}
	for i := 0; i < 3; i++ {
		pp.PMOrigin[i] = clamp32(ps.PMove.Origin[i], lo, hi)
		pp.PMVelocity[i] = clamp32(ps.PMove.Velocity[i], lo, hi)
		pp.ViewOffset[i] = quant(ps.ViewOffset[i], scale, olo, ohi)
		pp.KickAngles[i] = quant(ps.KickAngles[i], scale, olo, ohi)
		pp.GunOffset[i] = quant(ps.GunOffset[i], scale, olo, ohi)
		pp.GunAngles[i] = quant(ps.GunAngles[i], scale, olo, ohi)
		if ext {
			pp.ViewAngles[i] = int32(math.Float32bits(ps.ViewAngles[i]))
		} else {
			pp.ViewAngles[i] = packAngle16(ps.ViewAngles[i])
		}
	}
	for i := 0; i < 4; i++ {
		pp.Blend[i] = uint8(quant(ps.Blend[i], 255, 0, 255))
	}
	nstats := p.Limits().MaxStats
	copy(pp.Stats[:nstats], ps.Stats[:nstats])
	if !ext {
		pp.PMFlags &= 0xff
		pp.PMTime &= 0xff
		pp.GunIndex = clampByte(pp.GunIndex)
		return pp
	}
	pp.GunIndex = clamp32(pp.GunIndex, 0, 0xffff)
	pp.GunSkin = uint8(clampByte(ps.GunSkin))
	pp.GunRate = uint8(clampByte(ps.GunRate))
	for i := 0; i < 4; i++ {
		pp.DamageBlend[i] = uint8(quant(ps.DamageBlend[i], 255, 0, 255))
	}
	f := &ps.Fog
	pp.Fog = [5]uint32{
		uint32(quant(f.Color[0], 255, 0, 255)),
		uint32(quant(f.Color[1], 255, 0, 255)),
		uint32(quant(f.Color[2], 255, 0, 255)),
		math.Float32bits(f.Density),
		math.Float32bits(f.SkyFactor),
	}
	h := &ps.HeightFog
	pp.HeightFog = [10]uint32{
		uint32(quant(h.StartColor[0], 255, 0, 255)),
		uint32(quant(h.StartColor[1], 255, 0, 255)),
		uint32(quant(h.StartColor[2], 255, 0, 255)),
		math.Float32bits(h.StartDist),
		uint32(quant(h.EndColor[0], 255, 0, 255)),
		uint32(quant(h.EndColor[1], 255, 0, 255)),
		uint32(quant(h.EndColor[2], 255, 0, 255)),
		math.Float32bits(h.EndDist),
		math.Float32bits(h.Falloff),
		math.Float32bits(h.Density),
	}
	return pp
}

func clamp32(v int32, lo, hi int64) int32 {
	if int64(v) < lo {
		return int32(lo)
	}
	if int64(v) > hi {
		return int32(hi)
	}
	return v
}

// Unpack converts pp back to a PlayerState.
func (pp *PackedPlayer) Unpack(p proto.Profile) state.PlayerState {
	ext := p == proto.ProfileExtended
	scale, _, _ := offsetScale(p)
	ps := state.PlayerState{
		PMove: state.PmoveState{
			Type:        state.PmoveType(pp.PMType),
			Origin:      pp.PMOrigin,
			Velocity:    pp.PMVelocity,
			Flags:       state.PmoveFlags(pp.PMFlags),
			Time:        pp.PMTime,
			Gravity:     pp.PMGravity,
			DeltaAngles: pp.DeltaAngles,
		},
		GunIndex: pp.GunIndex,
		GunSkin:  int32(pp.GunSkin),
		GunFrame: int32(pp.GunFrame),
		GunRate:  int32(pp.GunRate),
		FOV:      float32(pp.FOV),
		RDFlags:  state.RefdefFlags(pp.RDFlags),
		Stats:    pp.Stats,
	}
	for i := 0; i < 3; i++ {
		ps.ViewOffset[i] = float32(float64(pp.ViewOffset[i]) / scale)
		ps.KickAngles[i] = float32(float64(pp.KickAngles[i]) / scale)
		ps.GunOffset[i] = float32(float64(pp.GunOffset[i]) / scale)
		ps.GunAngles[i] = float32(float64(pp.GunAngles[i]) / scale)
		if ext {
			ps.ViewAngles[i] = math.Float32frombits(uint32(pp.ViewAngles[i]))
		} else {
			ps.ViewAngles[i] = unpackAngle16(pp.ViewAngles[i])
		}
	}
	for i := 0; i < 4; i++ {
		ps.Blend[i] = float32(pp.Blend[i]) / 255
		ps.DamageBlend[i] = float32(pp.DamageBlend[i]) / 255
	}
	if ext {
		ps.Fog = state.Fog{
			Color:     [3]float32{float32(pp.Fog[0]) / 255, float32(pp.Fog[1]) / 255, float32(pp.Fog[2]) / 255},
			Density:   math.Float32frombits(pp.Fog[3]),
			SkyFactor: math.Float32frombits(pp.Fog[4]),
		}
		h := &pp.HeightFog
		ps.HeightFog = state.HeightFog{
			StartColor: [3]float32{float32(h[0]) / 255, float32(h[1]) / 255, float32(h[2]) / 255},
			StartDist:  math.Float32frombits(h[3]),
			EndColor:   [3]float32{float32(h[4]) / 255, float32(h[5]) / 255, float32(h[6]) / 255},
			EndDist:    math.Float32frombits(h[7]),
			Falloff:    math.Float32frombits(h[8]),
			Density:    math.Float32frombits(h[9]),
		}
	}
	return ps
}

// QuantizePlayer returns the state a client reconstructs for ps under p.
func QuantizePlayer(ps *state.PlayerState, p proto.Profile) state.PlayerState {
	pp := PackPlayer(ps, p)
	return pp.Unpack(p)
}

// PlayerDelta is a player state record.
type PlayerDelta struct {
	Bits     PlayerBits
	StatBits uint64
	Values   PackedPlayer
}

// EncodePlayer computes the delta from ref to cur and then clears the
// fields suppressed by flags. A nil ref or ForcePlayer marks every field.
func EncodePlayer(ref, cur *state.PlayerState, flags PlayerFlags, p proto.Profile) PlayerDelta {
	c := PackPlayer(cur, p)
	force := ref == nil || flags&ForcePlayer != 0
	var r PackedPlayer
	if ref != nil {
		r = PackPlayer(ref, p)
	}
	d := PlayerDelta{Values: c}
	ext := p == proto.ProfileExtended
	set := func(changed bool, bit PlayerBits) {
		if force || changed {
			d.Bits |= bit
		}
	}
	set(c.PMType != r.PMType, PlayerMType)
	set(c.PMOrigin != r.PMOrigin, PlayerMOrigin)
	set(c.PMVelocity != r.PMVelocity, PlayerMVelocity)
	set(c.PMTime != r.PMTime, PlayerMTime)
	set(c.PMFlags != r.PMFlags, PlayerMFlags)
	set(c.PMGravity != r.PMGravity, PlayerMGravity)
	set(c.DeltaAngles != r.DeltaAngles, PlayerMDeltaAngles)
	set(c.ViewOffset != r.ViewOffset, PlayerViewOffset)
	set(c.ViewAngles != r.ViewAngles, PlayerViewAngles)
	set(c.KickAngles != r.KickAngles, PlayerKickAngles)
	set(c.Blend != r.Blend, PlayerBlend)
	set(c.FOV != r.FOV, PlayerFOV)
	set(c.GunIndex != r.GunIndex, PlayerWeaponIndex)
	set(c.GunFrame != r.GunFrame || c.GunOffset != r.GunOffset || c.GunAngles != r.GunAngles, PlayerWeaponFrame)
	set(c.RDFlags != r.RDFlags, PlayerRDFlags)
	if ext {
		set(c.DamageBlend != r.DamageBlend, PlayerDamageBlend)
		set(c.Fog != r.Fog, PlayerFog)
		set(c.HeightFog != r.HeightFog, PlayerHeightFog)
		set(c.GunRate != r.GunRate, PlayerWeaponRate)
		set(c.GunSkin != r.GunSkin, PlayerWeaponSkin)
	}

	if flags&IgnoreGunIndex != 0 {
		d.Bits &^= PlayerWeaponIndex | PlayerWeaponSkin
	}
	if flags&IgnoreGunFrames != 0 {
		d.Bits &^= PlayerWeaponFrame | PlayerWeaponRate
	}
	if flags&IgnoreBlend != 0 {
		d.Bits &^= PlayerBlend | PlayerDamageBlend
	}
	if flags&IgnoreViewAngles != 0 {
		d.Bits &^= PlayerViewAngles
	}
	if flags&IgnoreDeltaAngles != 0 {
		d.Bits &^= PlayerMDeltaAngles
	}
	if flags&IgnorePrediction != 0 {
		d.Bits &^= PlayerMVelocity | PlayerMTime | PlayerMFlags | PlayerMGravity
	}

	for i := 0; i < p.Limits().MaxStats; i++ {
		if force || c.Stats[i] != r.Stats[i] {
			d.StatBits |= 1 << uint(i)
		}
	}
	return d
}

// DecodePlayer applies d to ref. A nil ref decodes from the zero state.
func DecodePlayer(ref *state.PlayerState, d PlayerDelta, p proto.Profile) state.PlayerState {
	var r PackedPlayer
	if ref != nil {
		r = PackPlayer(ref, p)
	}
	v := &d.Values
	b := d.Bits
	if b&PlayerMType != 0 {
		r.PMType = v.PMType
	}
	if b&PlayerMOrigin != 0 {
		r.PMOrigin = v.PMOrigin
	}
	if b&PlayerMVelocity != 0 {
		r.PMVelocity = v.PMVelocity
	}
	if b&PlayerMTime != 0 {
		r.PMTime = v.PMTime
	}
	if b&PlayerMFlags != 0 {
		r.PMFlags = v.PMFlags
	}
	if b&PlayerMGravity != 0 {
		r.PMGravity = v.PMGravity
	}
	if b&PlayerMDeltaAngles != 0 {
		r.DeltaAngles = v.DeltaAngles
	}
	if b&PlayerViewOffset != 0 {
		r.ViewOffset = v.ViewOffset
	}
	if b&PlayerViewAngles != 0 {
		r.ViewAngles = v.ViewAngles
	}
	if b&PlayerKickAngles != 0 {
		r.KickAngles = v.KickAngles
	}
	if b&PlayerBlend != 0 {
		r.Blend = v.Blend
	}
	if b&PlayerFOV != 0 {
		r.FOV = v.FOV
	}
	if b&PlayerWeaponIndex != 0 {
		r.GunIndex = v.GunIndex
	}
	if b&PlayerWeaponFrame != 0 {
		r.GunFrame = v.GunFrame
		r.GunOffset = v.GunOffset
		r.GunAngles = v.GunAngles
	}
	if b&PlayerRDFlags != 0 {
		r.RDFlags = v.RDFlags
	}
	if b&PlayerDamageBlend != 0 {
		r.DamageBlend = v.DamageBlend
	}
	if b&PlayerFog != 0 {
		r.Fog = v.Fog
	}
	if b&PlayerHeightFog != 0 {
		r.HeightFog = v.HeightFog
	}
	if b&PlayerWeaponRate != 0 {
		r.GunRate = v.GunRate
	}
	if b&PlayerWeaponSkin != 0 {
		r.GunSkin = v.GunSkin
	}
	for i := 0; i < state.MaxStats; i++ {
		if d.StatBits&(1<<uint(i)) != 0 {
			r.Stats[i] = v.Stats[i]
		}
	}
	return r.Unpack(p)
}

// WritePlayer writes the mask, the changed fields and the stats.
func WritePlayer(b *msg.Buffer, d PlayerDelta, p proto.Profile) {
	ext := p == proto.ProfileExtended
	bits := d.Bits &^ PlayerMoreBits
	if bits>>16 != 0 {
		bits |= PlayerMoreBits
	}
	b.WriteUint16(uint16(bits))
	if bits&PlayerMoreBits != 0 {
		b.WriteUint16(uint16(bits >> 16))
	}
	v := &d.Values
	if bits&PlayerMType != 0 {
		b.WriteUint8(v.PMType)
	}
	if bits&PlayerMOrigin != 0 {
		for _, x := range v.PMOrigin {
			writeCoord(b, x, p)
		}
	}
	if bits&PlayerMVelocity != 0 {
		for _, x := range v.PMVelocity {
			writeCoord(b, x, p)
		}
	}
	if bits&PlayerMTime != 0 {
		writeNarrow(b, v.PMTime, ext)
	}
	if bits&PlayerMFlags != 0 {
		writeNarrow(b, v.PMFlags, ext)
	}
	if bits&PlayerMGravity != 0 {
		b.WriteInt16(v.PMGravity)
	}
	if bits&PlayerMDeltaAngles != 0 {
		for _, x := range v.DeltaAngles {
			b.WriteInt16(x)
		}
	}
	if bits&PlayerViewOffset != 0 {
		writeOffsets(b, v.ViewOffset, ext)
	}
	if bits&PlayerViewAngles != 0 {
		for _, x := range v.ViewAngles {
			if ext {
				b.WriteUint32(uint32(x))
			} else {
				b.WriteUint16(uint16(x))
			}
		}
	}
	if bits&PlayerKickAngles != 0 {
		writeOffsets(b, v.KickAngles, ext)
	}
	if bits&PlayerWeaponIndex != 0 {
		writeNarrow(b, uint16(v.GunIndex), ext)
	}
	if bits&PlayerWeaponFrame != 0 {
		b.WriteUint8(v.GunFrame)
		writeOffsets(b, v.GunOffset, ext)
		writeOffsets(b, v.GunAngles, ext)
	}
	if bits&PlayerBlend != 0 {
		b.WriteData(v.Blend[:])
	}
	if bits&PlayerFOV != 0 {
		b.WriteUint8(v.FOV)
	}
	if bits&PlayerRDFlags != 0 {
		b.WriteUint8(v.RDFlags)
	}
	if bits&PlayerDamageBlend != 0 {
		b.WriteData(v.DamageBlend[:])
	}
	if bits&PlayerFog != 0 {
		writeFog(b, v.Fog[:], 3)
	}
	if bits&PlayerHeightFog != 0 {
		for i, x := range v.HeightFog {
			if heightFogWide(i) {
				b.WriteUint32(x)
			} else {
				b.WriteUint8(uint8(x))
			}
		}
	}
	if bits&PlayerWeaponRate != 0 {
		b.WriteUint8(v.GunRate)
	}
	if bits&PlayerWeaponSkin != 0 {
		b.WriteUint8(v.GunSkin)
	}

	if ext {
		b.WriteUint64(d.StatBits)
	} else {
		b.WriteUint32(uint32(d.StatBits))
	}
	for i := 0; i < state.MaxStats; i++ {
		if d.StatBits&(1<<uint(i)) != 0 {
			b.WriteInt16(v.Stats[i])
		}
	}
}

// heightFogWide reports which HeightFog slots are raw float bits.
func heightFogWide(i int) bool { return i%4 == 3 || i >= 8 }

func writeFog(b *msg.Buffer, fog []uint32, colors int) {
	for i, x := range fog {
		if i < colors {
			b.WriteUint8(uint8(x))
		} else {
			b.WriteUint32(x)
		}
	}
}

func writeNarrow(b *msg.Buffer, v uint16, wide bool) {
	if wide {
		b.WriteUint16(v)
	} else {
		b.WriteUint8(uint8(v))
	}
}

func readNarrow(r *msg.Reader, wide bool) (uint16, error) {
	if wide {
		return r.ReadUint16()
	}
	v, err := r.ReadUint8()
	return uint16(v), err
}

func writeOffsets(b *msg.Buffer, v [3]int32, wide bool) {
	for _, x := range v {
		if wide {
			b.WriteInt16(int16(x))
		} else {
			b.WriteInt8(int8(x))
		}
	}
}

func readOffsets(r *msg.Reader, wide bool) ([3]int32, error) {
	var out [3]int32
	for i := range out {
		if wide {
			v, err := r.ReadInt16()
			if err != nil {
				return out, err
			}
			out[i] = int32(v)
		} else {
			v, err := r.ReadInt8()
			if err != nil {
				return out, err
			}
			out[i] = int32(v)
		}
	}
	return out, nil
}

// ReadPlayer reads a player state record written by WritePlayer.
func ReadPlayer(r *msg.Reader, p proto.Profile) (PlayerDelta, error) {
	var d PlayerDelta
	ext := p == proto.ProfileExtended
	lo, err := r.ReadUint16()
	if err != nil {
		return d, err
	}
	bits := PlayerBits(lo)
	if bits&PlayerMoreBits != 0 {
		if !ext {
			return d, proto.Violation("playerinfo", "extension bits under %s profile", p)
		}
		hi, err := r.ReadUint16()
		if err != nil {
			return d, err
		}
		bits |= PlayerBits(hi) << 16
		if bits&^playerExtendedMask != 0 {
			return d, proto.Violation("playerinfo", "reserved bits %#x", uint32(bits))
		}
	}
	d.Bits = bits &^ PlayerMoreBits
	v := &d.Values

	if bits&PlayerMType != 0 {
		if v.PMType, err = r.ReadUint8(); err != nil {
			return d, err
		}
		if state.PmoveType(v.PMType) > state.PMFreeze {
			return d, proto.Violation("playerinfo", "pmove type %d", v.PMType)
		}
	}
	if bits&PlayerMOrigin != 0 {
		for i := range v.PMOrigin {
			if v.PMOrigin[i], err = readCoord(r, p); err != nil {
				return d, err
			}
		}
	}
	if bits&PlayerMVelocity != 0 {
		for i := range v.PMVelocity {
			if v.PMVelocity[i], err = readCoord(r, p); err != nil {
				return d, err
			}
		}
	}
	if bits&PlayerMTime != 0 {
		if v.PMTime, err = readNarrow(r, ext); err != nil {
			return d, err
		}
	}
	if bits&PlayerMFlags != 0 {
		if v.PMFlags, err = readNarrow(r, ext); err != nil {
			return d, err
		}
	}
	if bits&PlayerMGravity != 0 {
		if v.PMGravity, err = r.ReadInt16(); err != nil {
			return d, err
		}
	}
	if bits&PlayerMDeltaAngles != 0 {
		for i := range v.DeltaAngles {
			if v.DeltaAngles[i], err = r.ReadInt16(); err != nil {
				return d, err
			}
		}
	}
	if bits&PlayerViewOffset != 0 {
		if v.ViewOffset, err = readOffsets(r, ext); err != nil {
			return d, err
		}
	}
	if bits&PlayerViewAngles != 0 {
		for i := range v.ViewAngles {
			if ext {
				x, err := r.ReadUint32()
				if err != nil {
					return d, err
				}
				v.ViewAngles[i] = int32(x)
			} else {
				x, err := r.ReadUint16()
				if err != nil {
					return d, err
				}
				v.ViewAngles[i] = int32(x)
			}
		}
	}
	if bits&PlayerKickAngles != 0 {
		if v.KickAngles, err = readOffsets(r, ext); err != nil {
			return d, err
		}
	}
	if bits&PlayerWeaponIndex != 0 {
		gi, err := readNarrow(r, ext)
		if err != nil {
			return d, err
		}
		if int(gi) >= p.Limits().MaxModels {
			return d, proto.Violation("playerinfo", "gun index %d out of range", gi)
		}
		v.GunIndex = int32(gi)
	}
	if bits&PlayerWeaponFrame != 0 {
		if v.GunFrame, err = r.ReadUint8(); err != nil {
			return d, err
		}
		if v.GunOffset, err = readOffsets(r, ext); err != nil {
			return d, err
		}
		if v.GunAngles, err = readOffsets(r, ext); err != nil {
			return d, err
		}
	}
	if bits&PlayerBlend != 0 {
		if err = readBytes(r, v.Blend[:]); err != nil {
			return d, err
		}
	}
	if bits&PlayerFOV != 0 {
		if v.FOV, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}
	if bits&PlayerRDFlags != 0 {
		if v.RDFlags, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}
	if bits&PlayerDamageBlend != 0 {
		if err = readBytes(r, v.DamageBlend[:]); err != nil {
			return d, err
		}
	}
	if bits&PlayerFog != 0 {
		for i := range v.Fog {
			if v.Fog[i], err = readFogSlot(r, i >= 3); err != nil {
				return d, err
			}
		}
	}
	if bits&PlayerHeightFog != 0 {
		for i := range v.HeightFog {
			if v.HeightFog[i], err = readFogSlot(r, heightFogWide(i)); err != nil {
				return d, err
			}
		}
	}
	if bits&PlayerWeaponRate != 0 {
		if v.GunRate, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}
	if bits&PlayerWeaponSkin != 0 {
		if v.GunSkin, err = r.ReadUint8(); err != nil {
			return d, err
		}
	}

	if ext {
		if d.StatBits, err = r.ReadUint64(); err != nil {
			return d, err
		}
	} else {
		sb, err := r.ReadUint32()
		if err != nil {
			return d, err
		}
		d.StatBits = uint64(sb)
	}
	for i := 0; i < state.MaxStats; i++ {
		if d.StatBits&(1<<uint(i)) == 0 {
			continue
		}
		if v.Stats[i], err = r.ReadInt16(); err != nil {
			return d, err
		}
	}
	return d, nil
}

func readFogSlot(r *msg.Reader, wide bool) (uint32, error) {
	if wide {
		return r.ReadUint32()
	}
	v, err := r.ReadUint8()
	return uint32(v), err
}

func readBytes(r *msg.Reader, dst []byte) error {
	src, err := r.ReadData(len(dst))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}
