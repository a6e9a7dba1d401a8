package codec

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

var profiles = []proto.Profile{proto.ProfileLegacy, proto.ProfileExtended}

func randFloat(rng *rand.Rand, span float32) float32 {
	return (rng.Float32()*2 - 1) * span
}

func randVec(rng *rand.Rand, span float32) state.Vec3 {
	return state.Vec3{randFloat(rng, span), randFloat(rng, span), randFloat(rng, span)}
}

func randEntity(rng *rand.Rand, number int32) state.EntityState {
	s := state.EntityState{
		Number:    number,
		Origin:    randVec(rng, 4000),
		Angles:    randVec(rng, 360),
		OldOrigin: randVec(rng, 4000),
		Frame:     rng.Int31n(70000),
		Skin:      rng.Uint32() >> uint(rng.Intn(32)),
		Effects:   state.Effects(rng.Uint64() >> uint(rng.Intn(64))),
		RenderFx:  state.RenderFx(rng.Uint32() >> uint(rng.Intn(32))),
		Solid:     rng.Uint32() >> uint(rng.Intn(32)),
		Sound:     rng.Int31n(1000),
		Alpha:     rng.Float32(),
		Scale:     rng.Float32() * 8,
	}
	for i := range s.ModelIndex {
		if rng.Intn(2) == 0 {
			s.ModelIndex[i] = rng.Int31n(3000)
		}
	}
	if rng.Intn(4) == 0 {
		s.Event = state.EntityEvent(1 + rng.Intn(7))
	}
	return s
}

// mutate changes a few fields so deltas are sparse.
func mutate(rng *rand.Rand, s state.EntityState) state.EntityState {
	o := randEntity(rng, s.Number)
	switch rng.Intn(5) {
	case 0:
		s.Origin = o.Origin
	case 1:
		s.Angles[rng.Intn(3)] = o.Angles[0]
	case 2:
		s.Frame = o.Frame
		s.Effects = o.Effects
	case 3:
		s.ModelIndex[rng.Intn(4)] = o.ModelIndex[0]
	}
	s.Event = o.Event
	return s
}

func TestEntityRoundTrip(t *testing.T) {
	for _, p := range profiles {
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 2000; i++ {
			num := 1 + rng.Int31n(int32(p.Limits().MaxEdicts-1))
			raw := randEntity(rng, num)
			x := QuantizeEntity(&raw, p)

			var ref *state.EntityState
			switch rng.Intn(3) {
			case 0:
			case 1:
				r := randEntity(rng, num)
				q := QuantizeEntity(&r, p)
				ref = &q
			case 2:
				r := mutate(rng, x)
				q := QuantizeEntity(&r, p)
				ref = &q
			}

			d := EncodeEntity(ref, &x, p)
			if got := DecodeEntity(ref, d, p); got != x {
				t.Fatalf("%s iter %d: decode mismatch\n got %+v\nwant %+v", p, i, got, x)
			}

			buf := msg.NewBuffer(0)
			WriteEntity(buf, d, p)
			r := msg.NewReader(buf.Bytes())
			n, bits, err := ReadEntityHeader(r, p)
			if err != nil {
				t.Fatalf("%s iter %d: header: %v", p, i, err)
			}
			if n != num {
				t.Fatalf("%s iter %d: number %d, want %d", p, i, n, num)
			}
			wd, err := ReadEntityDelta(r, n, bits, p)
			if err != nil {
				t.Fatalf("%s iter %d: fields: %v", p, i, err)
			}
			if r.Remaining() != 0 {
				t.Fatalf("%s iter %d: %d trailing bytes", p, i, r.Remaining())
			}
			if got := DecodeEntity(ref, wd, p); got != x {
				t.Fatalf("%s iter %d: wire mismatch\n got %+v\nwant %+v", p, i, got, x)
			}
		}
	}
}

func TestQuantizeIsStable(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, p := range profiles {
		for i := 0; i < 500; i++ {
			raw := randEntity(rng, 1)
			q := QuantizeEntity(&raw, p)
			if qq := QuantizeEntity(&q, p); qq != q {
				t.Fatalf("%s: quantize not stable: %+v vs %+v", p, q, qq)
			}
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, p := range profiles {
		for i := 0; i < 200; i++ {
			ref := randEntity(rng, 7)
			cur := mutate(rng, ref)
			a, b := msg.NewBuffer(0), msg.NewBuffer(0)
			WriteEntity(a, EncodeEntity(&ref, &cur, p), p)
			WriteEntity(b, EncodeEntity(&ref, &cur, p), p)
			if !bytes.Equal(a.Bytes(), b.Bytes()) {
				t.Fatalf("%s: outputs differ", p)
			}

			pr, pc := randPlayer(rng), randPlayer(rng)
			a.Reset()
			b.Reset()
			WritePlayer(a, EncodePlayer(&pr, &pc, 0, p), p)
			WritePlayer(b, EncodePlayer(&pr, &pc, 0, p), p)
			if !bytes.Equal(a.Bytes(), b.Bytes()) {
				t.Fatalf("%s: player outputs differ", p)
			}
		}
	}
}

func TestEventIsTransient(t *testing.T) {
	p := proto.ProfileLegacy
	ref := state.EntityState{Number: 3, ModelIndex: [4]int32{1}, Event: state.EventFootstep}

	cur := ref
	cur.Event = state.EventNone
	d := EncodeEntity(&ref, &cur, p)
	if !d.Skippable() {
		t.Errorf("clearing an event should not need a record, bits %#x", uint64(d.Bits))
	}
	if got := DecodeEntity(&ref, d, p); got.Event != state.EventNone {
		t.Errorf("reference event carried over: %d", got.Event)
	}

	cur.Event = state.EventFootstep
	d = EncodeEntity(&ref, &cur, p)
	if d.Bits != EntEvent {
		t.Errorf("bits = %#x, want event only", uint64(d.Bits))
	}
	if !d.Empty() || d.Skippable() {
		t.Error("event-only delta should be empty but not skippable")
	}
}

func TestNilReferenceIsFullInsert(t *testing.T) {
	for _, p := range profiles {
		s := state.EntityState{Number: 300}
		d := EncodeEntity(nil, &s, p)
		for _, b := range []EntityBits{EntOrigin1, EntOrigin2, EntOrigin3, EntAngle1, EntAngle2, EntAngle3,
			EntModel, EntModel4, EntFrame8, EntSkin8, EntEffects8, EntRender8, EntOldOrigin, EntSound, EntSolid} {
			if d.Bits&b == 0 {
				t.Errorf("%s: bit %#x missing from full insert", p, uint64(b))
			}
		}
		if p == proto.ProfileExtended && d.Bits&(EntAlpha|EntScale) != EntAlpha|EntScale {
			t.Errorf("extended full insert lacks alpha/scale")
		}
		if p == proto.ProfileLegacy && d.Bits&entExtendedMask != 0 {
			t.Errorf("legacy full insert has extended bits %#x", uint64(d.Bits))
		}
	}
}

func TestEffectsHighWordCleared(t *testing.T) {
	p := proto.ProfileExtended
	ref := state.EntityState{Number: 1, Effects: state.EffectRotate | state.EffectFlashlight}
	cur := state.EntityState{Number: 1, Effects: state.EffectRotate}
	d := EncodeEntity(&ref, &cur, p)
	if d.Bits&EntEffects64 == 0 || d.Bits&(EntEffects8|EntEffects16) != 0 {
		t.Fatalf("bits = %#x, want only the high word", uint64(d.Bits))
	}
	if got := DecodeEntity(&ref, d, p); got.Effects != state.EffectRotate {
		t.Errorf("effects = %#x", uint64(got.Effects))
	}
}

func TestLegacyCanonicalization(t *testing.T) {
	s := state.EntityState{
		Number:     1,
		Effects:    state.EffectRotate | state.EffectDualFire,
		ModelIndex: [4]int32{0x1ff},
		Alpha:      0.5,
		Scale:      2,
	}
	q := QuantizeEntity(&s, proto.ProfileLegacy)
	if q.Effects != state.EffectRotate || q.ModelIndex[0] != 0xff || q.Alpha != 0 || q.Scale != 0 {
		t.Errorf("legacy quantize kept extended data: %+v", q)
	}
}

func TestAngleWraps(t *testing.T) {
	for _, p := range profiles {
		a := state.EntityState{Angles: state.Vec3{350, -10, 720}}
		b := state.EntityState{Angles: state.Vec3{-10, 350, 0}}
		qa, qb := QuantizeEntity(&a, p), QuantizeEntity(&b, p)
		if qa.Angles != qb.Angles {
			t.Errorf("%s: %v and %v should quantize alike", p, qa.Angles, qb.Angles)
		}
	}
}

func TestReadEntityHeaderViolations(t *testing.T) {
	cases := []struct {
		name string
		p    proto.Profile
		data []byte
	}{
		{"legacy extension byte", proto.ProfileLegacy, []byte{0x80, 0x80, 0x80, 0x80, 0x01, 0x05}},
		{"number out of range", proto.ProfileLegacy, []byte{0x80, 0x01, 0xd0, 0x07}},
		{"reserved bit", proto.ProfileExtended, []byte{0x80, 0x20, 0x05}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := ReadEntityHeader(msg.NewReader(c.data), c.p)
			if !errors.Is(err, proto.ErrProtocolViolation) {
				t.Errorf("err = %v, want protocol violation", err)
			}
		})
	}
}

func TestEntityListTerminator(t *testing.T) {
	buf := msg.NewBuffer(0)
	WriteEntityEnd(buf)
	n, _, err := ReadEntityHeader(msg.NewReader(buf.Bytes()), proto.ProfileLegacy)
	if err != nil || n != 0 {
		t.Fatalf("terminator: n=%d err=%v", n, err)
	}
}

func TestRemoveRecord(t *testing.T) {
	buf := msg.NewBuffer(0)
	WriteEntity(buf, RemoveDelta(700), proto.ProfileLegacy)
	r := msg.NewReader(buf.Bytes())
	n, bits, err := ReadEntityHeader(r, proto.ProfileLegacy)
	if err != nil {
		t.Fatal(err)
	}
	d, err := ReadEntityDelta(r, n, bits, proto.ProfileLegacy)
	if err != nil {
		t.Fatal(err)
	}
	if n != 700 || !d.Remove() || r.Remaining() != 0 {
		t.Errorf("n=%d remove=%v remaining=%d", n, d.Remove(), r.Remaining())
	}
}

func randPlayer(rng *rand.Rand) state.PlayerState {
	ps := state.PlayerState{
		PMove: state.PmoveState{
			Type:        state.PmoveType(rng.Intn(5)),
			Flags:       state.PmoveFlags(rng.Intn(1 << 10)),
			Time:        uint16(rng.Intn(1 << 16)),
			Gravity:     int16(rng.Intn(1600)),
			DeltaAngles: [3]int16{int16(rng.Intn(65536)), int16(rng.Intn(65536)), int16(rng.Intn(65536))},
		},
		ViewAngles: randVec(rng, 180),
		ViewOffset: randVec(rng, 30),
		KickAngles: randVec(rng, 30),
		GunIndex:   rng.Int31n(300),
		GunSkin:    rng.Int31n(8),
		GunFrame:   rng.Int31n(256),
		GunOffset:  randVec(rng, 30),
		GunAngles:  randVec(rng, 30),
		GunRate:    rng.Int31n(4),
		FOV:        float32(60 + rng.Intn(60)),
		RDFlags:    state.RefdefFlags(rng.Intn(16)),
		Fog: state.Fog{
			Color:     [3]float32{rng.Float32(), rng.Float32(), rng.Float32()},
			Density:   rng.Float32(),
			SkyFactor: rng.Float32(),
		},
		HeightFog: state.HeightFog{
			StartColor: [3]float32{rng.Float32(), rng.Float32(), rng.Float32()},
			StartDist:  rng.Float32() * 1000,
			EndColor:   [3]float32{rng.Float32(), rng.Float32(), rng.Float32()},
			EndDist:    rng.Float32() * 4000,
			Falloff:    rng.Float32(),
			Density:    rng.Float32(),
		},
	}
	for i := 0; i < 3; i++ {
		ps.PMove.Origin[i] = rng.Int31n(60000) - 30000
		ps.PMove.Velocity[i] = rng.Int31n(8000) - 4000
	}
	for i := 0; i < 4; i++ {
		ps.Blend[i] = rng.Float32()
		ps.DamageBlend[i] = rng.Float32()
	}
	for i := range ps.Stats {
		if rng.Intn(3) == 0 {
			ps.Stats[i] = int16(rng.Intn(65536))
		}
	}
	return ps
}

func TestPlayerRoundTrip(t *testing.T) {
	for _, p := range profiles {
		rng := rand.New(rand.NewSource(4))
		for i := 0; i < 1000; i++ {
			raw := randPlayer(rng)
			x := QuantizePlayer(&raw, p)
			var ref *state.PlayerState
			if rng.Intn(3) > 0 {
				r := x
				if rng.Intn(2) == 0 {
					r = randPlayer(rng)
				} else {
					r.Stats[rng.Intn(p.Limits().MaxStats)]++
					r.PMove.Origin[0] += 8
				}
				q := QuantizePlayer(&r, p)
				ref = &q
			}

			d := EncodePlayer(ref, &x, 0, p)
			buf := msg.NewBuffer(0)
			WritePlayer(buf, d, p)
			r := msg.NewReader(buf.Bytes())
			wd, err := ReadPlayer(r, p)
			if err != nil {
				t.Fatalf("%s iter %d: %v", p, i, err)
			}
			if r.Remaining() != 0 {
				t.Fatalf("%s iter %d: %d trailing bytes", p, i, r.Remaining())
			}
			if got := DecodePlayer(ref, wd, p); got != x {
				t.Fatalf("%s iter %d: mismatch\n got %+v\nwant %+v", p, i, got, x)
			}
		}
	}
}

func TestPlayerSuppression(t *testing.T) {
	p := proto.ProfileExtended
	ref := state.PlayerState{GunIndex: 1, GunFrame: 1, FOV: 90}
	cur := ref
	cur.GunIndex = 2
	cur.GunFrame = 5
	cur.Blend = [4]float32{1, 0, 0, 0.5}
	cur.PMove.Velocity = [3]int32{80, 0, 0}
	cur.PMove.Gravity = 800

	flags := FlagsFor(proto.SettingNoGun|proto.SettingNoBlend|proto.SettingNoPredict, &cur)
	d := EncodePlayer(&ref, &cur, flags, p)
	if d.Bits != 0 {
		t.Fatalf("bits = %#x, want everything suppressed", uint32(d.Bits))
	}
	got := DecodePlayer(&ref, d, p)
	if got.GunIndex != 1 || got.GunFrame != 1 || got.PMove.Gravity != 0 {
		t.Errorf("suppressed fields changed: %+v", got)
	}

	spec := cur
	spec.PMove.Type = state.PMSpectator
	if f := FlagsFor(0, &spec); f&(IgnoreGunIndex|IgnoreGunFrames) != IgnoreGunIndex|IgnoreGunFrames {
		t.Errorf("spectator flags = %#x", f)
	}

	d = EncodePlayer(&ref, &cur, ForcePlayer, p)
	if d.Bits&PlayerFOV == 0 || d.StatBits != ^uint64(0) {
		t.Errorf("force should mark every field: bits %#x stats %#x", uint32(d.Bits), d.StatBits)
	}
}

func TestPlayerWidthsPerProfile(t *testing.T) {
	var ps state.PlayerState
	ps.PMove.Origin = [3]int32{40000, -3, 12}
	ps.PMove.Velocity = [3]int32{-50000, 7, 0}
	ps.Stats[5] = 11
	ps.Stats[40] = 9

	// pmove stays on the 1/8 grid under both profiles, only the range
	// differs
	ext := QuantizePlayer(&ps, proto.ProfileExtended)
	if ext.PMove.Origin != ps.PMove.Origin || ext.PMove.Velocity != ps.PMove.Velocity {
		t.Errorf("extended pmove %+v", ext.PMove)
	}
	leg := QuantizePlayer(&ps, proto.ProfileLegacy)
	if leg.PMove.Origin != [3]int32{math.MaxInt16, -3, 12} || leg.PMove.Velocity[0] != math.MinInt16 {
		t.Errorf("legacy pmove %+v", leg.PMove)
	}

	// the statbits mask covers exactly the profile's stats
	if ext.Stats[40] != 9 || leg.Stats[40] != 0 || leg.Stats[5] != 11 {
		t.Errorf("stats ext[40]=%d legacy[40]=%d legacy[5]=%d", ext.Stats[40], leg.Stats[40], leg.Stats[5])
	}
	d := EncodePlayer(nil, &ext, 0, proto.ProfileExtended)
	if d.StatBits != ^uint64(0) {
		t.Errorf("extended statbits %#x", d.StatBits)
	}
	d = EncodePlayer(nil, &leg, 0, proto.ProfileLegacy)
	if d.StatBits != 1<<32-1 {
		t.Errorf("legacy statbits %#x", d.StatBits)
	}
}

func TestLegacyPlayerRejectsExtensionBits(t *testing.T) {
	buf := msg.NewBuffer(0)
	buf.WriteUint16(uint16(PlayerMoreBits))
	buf.WriteUint16(1)
	_, err := ReadPlayer(msg.NewReader(buf.Bytes()), proto.ProfileLegacy)
	if !errors.Is(err, proto.ErrProtocolViolation) {
		t.Errorf("err = %v, want protocol violation", err)
	}
}

func TestSoundAndTempEntity(t *testing.T) {
	for _, p := range profiles {
		s := state.SoundEvent{Entity: 12, Channel: 2, Index: 40, Volume: 128, Attenuation: DefaultSoundAttenuation,
			Positioned: true, Origin: state.Vec3{8, -16, 32.5}}
		buf := msg.NewBuffer(0)
		WriteSound(buf, &s, p)
		got, err := ReadSound(msg.NewReader(buf.Bytes()), p)
		if err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("%s: sound %+v, want %+v", p, got, s)
		}

		te := state.TempEvent{Kind: state.TempExplosion, Origin: state.Vec3{1, 2, 3}}
		buf.Reset()
		WriteTempEntity(buf, &te, p)
		gt, err := ReadTempEntity(msg.NewReader(buf.Bytes()), p)
		if err != nil || gt != te {
			t.Errorf("%s: temp %+v err %v", p, gt, err)
		}
	}
}
