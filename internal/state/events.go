package state

// SoundEvent is an unreliable sound start message.
type SoundEvent struct {
	Entity      int32
	Channel     uint8
	Index       int32
	Volume      uint8
	Attenuation uint8
	// Positioned sounds carry an explicit origin; the rest follow Entity.
	Positioned bool
	Origin     Vec3
}

// TempKind identifies a temporary effect.
type TempKind uint8

const (
	TempGunshot TempKind = iota
	TempBlood
	TempSparks
	TempExplosion
	TempSplash
)

// TempEvent is an unreliable temporary effect.
type TempEvent struct {
	Kind   TempKind
	Origin Vec3
}
