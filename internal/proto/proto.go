// Package proto holds the wire constants shared by the server and client
// halves of the synchronization layer.
package proto

import (
	"fmt"
	"strings"
)

// Profile selects the wire encoding negotiated at connect. It is fixed for
// the lifetime of a connection.
type Profile uint8

const (
	// ProfileLegacy uses fixed-precision fields: 1/8 unit coordinates,
	// byte angles, 32-bit effects and 32 stats.
	ProfileLegacy Profile = iota
	// ProfileExtended uses variable-length 1/16 unit coordinates, short
	// angles, 64-bit effects, alpha/scale, fog and 64 stats.
	ProfileExtended
)

func (p Profile) String() string {
	switch p {
	case ProfileLegacy:
		return "legacy"
	case ProfileExtended:
		return "extended"
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p <= ProfileExtended
}

// ParseProfile maps a profile name to its value.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "0":
		return ProfileLegacy, nil
	case "extended", "1":
		return ProfileExtended, nil
	}
	return 0, fmt.Errorf("unknown profile %q", s)
}

// Limits are the per-profile capacity constants.
type Limits struct {
	MaxEdicts         int // entity numbers are in [1, MaxEdicts)
	MaxPacketEntities int // per-frame entity capacity
	MaxStats          int
	MaxModels         int
	MaxSounds         int
}

// Limits returns the capacities of p.
func (p Profile) Limits() Limits {
	if p == ProfileExtended {
		return Limits{
			MaxEdicts:         8192,
			MaxPacketEntities: 256,
			MaxStats:          64,
			MaxModels:         1 << 16,
			MaxSounds:         1 << 16,
		}
	}
	return Limits{
		MaxEdicts:         1024,
		MaxPacketEntities: 128,
		MaxStats:          32,
		MaxModels:         256,
		MaxSounds:         256,
	}
}

const (
	// UpdateBackup is the depth of the per-connection frame ring.
	UpdateBackup = 64
	UpdateMask   = UpdateBackup - 1

	// NoDelta is the delta-reference value meaning "full frame".
	NoDelta int32 = -1

	MaxMapAreas  = 256
	MaxAreaBytes = MaxMapAreas / 8

	// RateWindow is the number of recent frame sizes summed by the rate check.
	RateWindow = 10
)

// Settings are client-requested suppression options negotiated at connect.
type Settings uint8

const (
	// SettingNoGun stops gun index and gun frame updates.
	SettingNoGun Settings = 1 << iota
	// SettingNoBlend stops screen and damage blend updates.
	SettingNoBlend
	// SettingNoPredict stops prediction-only pmove fields.
	SettingNoPredict
)

func (s Settings) Has(f Settings) bool { return s&f != 0 }

// FrameFlags travel in the extended frame header.
type FrameFlags uint8

const (
	// FrameSuppressed marks the first frame sent after rate suppression.
	FrameSuppressed FrameFlags = 1 << iota
	// FrameClientDrop marks a frame built after the client requested a resync.
	FrameClientDrop
)
