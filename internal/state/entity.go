// Package state defines the entity and player values the synchronization
// layer propagates, and the per-entity server record it selects them from.
package state

// Vec3 is a position, angle triple or offset in world units.
type Vec3 [3]float32

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// LengthSq returns the squared length of v.
func (v Vec3) LengthSq() float32 { return v[0]*v[0] + v[1]*v[1] + v[2]*v[2] }

// DistanceSq returns the squared distance between a and b.
func DistanceSq(a, b Vec3) float32 { return a.Sub(b).LengthSq() }

// Effects is the entity effects bitset. Bits above 31 only travel under
// the extended profile.
type Effects uint64

const (
	EffectRotate Effects = 1 << iota
	EffectGib
	EffectBlaster
	EffectRocket
	EffectGrenade
	EffectHyperblaster
	EffectBFG
	EffectColorShell
	EffectPowerScreen
	EffectAnim01
	EffectAnim23
	EffectAnimAll
	EffectAnimAllFast
	EffectFlies
	EffectQuad
	EffectPent
	EffectTeleporter
	EffectFlag1
	EffectFlag2
	EffectIonRipper
	EffectGreenGib
	EffectBlueHyperblaster
	EffectSpinningLights
	EffectPlasma
	EffectTrap
	EffectTracker
	EffectDouble
	EffectSphereTrans
	EffectTagTrail
	EffectHalfDamage
	EffectTrackerTrail
	EffectGrenadeLight
)

// Extended-only effects.
const (
	EffectFlashlight Effects = 1 << (32 + iota)
	EffectBarrelExploding
	EffectTeleporter2
	EffectDualFire
)

// RenderFx is the entity render flags bitset.
type RenderFx uint32

const (
	RenderMinLight RenderFx = 1 << iota
	RenderViewerModel
	RenderWeaponModel
	RenderFullbright
	RenderDepthHack
	RenderTranslucent
	RenderFrameLerp
	RenderBeam
	RenderCustomSkin
	RenderGlow
	RenderShellRed
	RenderShellGreen
	RenderShellBlue
	RenderNoShadow
	RenderCastShadow
)

// EntityEvent is a transient one-tick event. It never persists: the
// simulation clears it every tick and the decoder clears it on carry-over.
type EntityEvent uint8

const (
	EventNone EntityEvent = iota
	EventItemRespawn
	EventFootstep
	EventFallShort
	EventFall
	EventFallFar
	EventPlayerTeleport
	EventOtherTeleport
)

// EntityState is the networked state of one entity.
type EntityState struct {
	Number     int32
	Origin     Vec3
	Angles     Vec3
	OldOrigin  Vec3
	ModelIndex [4]int32
	Frame      int32
	Skin       uint32
	Effects    Effects
	RenderFx   RenderFx
	Solid      uint32
	Sound      int32
	Event      EntityEvent

	// Extended profile only.
	Alpha float32
	Scale float32
}

// Visible reports whether s has anything a client could see or hear.
func (s *EntityState) Visible() bool {
	return s.ModelIndex[0] != 0 || s.Effects != 0 || s.Sound != 0 || s.RenderFx != 0
}
