package state

// PmoveType selects the movement model.
type PmoveType uint8

const (
	PMNormal PmoveType = iota
	PMSpectator
	PMDead
	PMGib
	PMFreeze
)

// PmoveFlags are movement state flags.
type PmoveFlags uint16

const (
	PMFDucked PmoveFlags = 1 << iota
	PMFJumpHeld
	PMFOnGround
	PMFTimeWaterJump
	PMFTimeLand
	PMFTimeTeleport
	PMFNoPrediction
	PMFTelePmove
	// Extended profile only.
	PMFOnLadder
	PMFNoAngularPrediction
)

// PmoveState is the prediction sub-state. Origin and Velocity are fixed
// point in 1/8 units under both profiles; the extended profile only widens
// their range.
type PmoveState struct {
	Type        PmoveType
	Origin      [3]int32
	Velocity    [3]int32
	Flags       PmoveFlags
	Time        uint16
	Gravity     int16
	DeltaAngles [3]int16
}

// WorldOrigin converts the fixed-point pmove origin to world units.
func (pm *PmoveState) WorldOrigin() Vec3 {
	return Vec3{float32(pm.Origin[0]) / 8, float32(pm.Origin[1]) / 8, float32(pm.Origin[2]) / 8}
}

// RefdefFlags are view rendering flags.
type RefdefFlags uint8

const (
	RDFUnderwater RefdefFlags = 1 << iota
	RDFNoWorldModel
	RDFIRGoggles
	RDFUVGoggles
)

// Fog is the global fog (extended profile only).
type Fog struct {
	Color     [3]float32
	Density   float32
	SkyFactor float32
}

// HeightFog is the height-based fog (extended profile only).
type HeightFog struct {
	StartColor [3]float32
	StartDist  float32
	EndColor   [3]float32
	EndDist    float32
	Falloff    float32
	Density    float32
}

// MaxStats is the stats array size of the widest profile.
const MaxStats = 64

// PlayerState is the networked view and HUD state of one client.
type PlayerState struct {
	PMove PmoveState

	ViewAngles Vec3
	ViewOffset Vec3
	KickAngles Vec3

	GunIndex  int32
	GunSkin   int32 // extended
	GunFrame  int32
	GunOffset Vec3
	GunAngles Vec3
	GunRate   int32 // extended

	Blend       [4]float32
	DamageBlend [4]float32 // extended
	FOV         float32
	RDFlags     RefdefFlags

	Stats [MaxStats]int16

	Fog       Fog       // extended
	HeightFog HeightFog // extended
}

// ViewOrigin returns the eye position.
func (ps *PlayerState) ViewOrigin() Vec3 {
	return ps.PMove.WorldOrigin().Add(ps.ViewOffset)
}
