package sv

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/selector"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// GameVariant identifies the game module API generation.
type GameVariant uint8

const (
	// GameLegacy modules only produce legacy-range state.
	GameLegacy GameVariant = iota
	GameCurrent
)

func (v GameVariant) String() string {
	if v == GameLegacy {
		return "legacy"
	}
	return "current"
}

// Game is the simulation collaborator. Slot n's entity number is n+1.
type Game interface {
	Variant() GameVariant
	// SpawnLevel resets the arena for a new level.
	SpawnLevel(name string) error
	// RunFrame advances the simulation one tick and clears the previous
	// tick's transient events first.
	RunFrame()
	// Edicts returns the arena indexed by entity number. The sync layer
	// only reads it.
	Edicts() []state.Edict
	ClientConnect(slot int, name string) error
	ClientBegin(slot int)
	ClientDisconnect(slot int)
	PlayerState(slot int) *state.PlayerState
}

// ConfigSource is implemented by games that publish configstrings for the
// level; the server reloads them on every level spawn.
type ConfigSource interface {
	ConfigStrings() map[int]string
}

// Oracle extends the selector's visibility questions with the area lookups
// the frame header needs.
type Oracle interface {
	selector.Oracle
	PointArea(p state.Vec3) int
	// AreaBits writes the areas visible from area into dst and returns the
	// byte count used.
	AreaBits(area int, dst []byte) int
}
