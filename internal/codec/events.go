package codec

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

const (
	DefaultSoundVolume      = 255
	DefaultSoundAttenuation = 64
)

const (
	sndVolume = 1 << iota
	sndAttenuation
	sndPosition
	sndEntity
)

// WriteSound writes the body of an SvcSound message.
func WriteSound(b *msg.Buffer, s *state.SoundEvent, p proto.Profile) {
	var flags uint8
	if s.Volume != DefaultSoundVolume {
		flags |= sndVolume
	}
	if s.Attenuation != DefaultSoundAttenuation {
		flags |= sndAttenuation
	}
	if s.Positioned {
		flags |= sndPosition
	}
	if s.Entity != 0 {
		flags |= sndEntity
	}
	b.WriteUint8(flags)
	if p == proto.ProfileExtended {
		b.WriteUint16(uint16(s.Index))
	} else {
		b.WriteUint8(uint8(s.Index))
	}
	if flags&sndVolume != 0 {
		b.WriteUint8(s.Volume)
	}
	if flags&sndAttenuation != 0 {
		b.WriteUint8(s.Attenuation)
	}
	if flags&sndEntity != 0 {
		b.WriteUint16(uint16(s.Entity)<<3 | uint16(s.Channel&7))
	}
	if flags&sndPosition != 0 {
		for _, f := range s.Origin {
			writeCoord(b, packCoord(f, p), p)
		}
	}
}

// ReadSound reads an SvcSound body.
func ReadSound(r *msg.Reader, p proto.Profile) (state.SoundEvent, error) {
	s := state.SoundEvent{Volume: DefaultSoundVolume, Attenuation: DefaultSoundAttenuation}
	flags, err := r.ReadUint8()
	if err != nil {
		return s, err
	}
	if p == proto.ProfileExtended {
		idx, err := r.ReadUint16()
		if err != nil {
			return s, err
		}
		s.Index = int32(idx)
	} else {
		idx, err := r.ReadUint8()
		if err != nil {
			return s, err
		}
		s.Index = int32(idx)
	}
	if flags&sndVolume != 0 {
		if s.Volume, err = r.ReadUint8(); err != nil {
			return s, err
		}
	}
	if flags&sndAttenuation != 0 {
		if s.Attenuation, err = r.ReadUint8(); err != nil {
			return s, err
		}
	}
	if flags&sndEntity != 0 {
		v, err := r.ReadUint16()
		if err != nil {
			return s, err
		}
		s.Entity = int32(v >> 3)
		s.Channel = uint8(v & 7)
		if int(s.Entity) >= p.Limits().MaxEdicts {
			return s, proto.Violation("sound", "entity %d out of range", s.Entity)
		}
	}
	if flags&sndPosition != 0 {
		s.Positioned = true
		for i := range s.Origin {
			c, err := readCoord(r, p)
			if err != nil {
				return s, err
			}
			s.Origin[i] = unpackCoord(c, p)
		}
	}
	return s, nil
}

// WriteTempEntity writes the body of an SvcTempEntity message.
func WriteTempEntity(b *msg.Buffer, t *state.TempEvent, p proto.Profile) {
	b.WriteUint8(uint8(t.Kind))
	for _, f := range t.Origin {
		writeCoord(b, packCoord(f, p), p)
	}
}

// ReadTempEntity reads an SvcTempEntity body.
func ReadTempEntity(r *msg.Reader, p proto.Profile) (state.TempEvent, error) {
	var t state.TempEvent
	k, err := r.ReadUint8()
	if err != nil {
		return t, err
	}
	t.Kind = state.TempKind(k)
	for i := range t.Origin {
		c, err := readCoord(r, p)
		if err != nil {
			return t, err
		}
		t.Origin[i] = unpackCoord(c, p)
	}
	return t, nil
}
