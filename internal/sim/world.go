// Package sim is a small reference game: bots wander a flat grid map and
// shoot at players, doors open and close between areas, and items hum in
// place. It drives the synchronization layer in the server binary and the
// end-to-end tests.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/themuffinator/q2repro-test-sub001/internal/state"
	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

// Model, sound and configstring indices the world uses.
const (
	ModelPlayer = 1 + iota
	ModelBot
	ModelRocket
	ModelItem
	ModelWeapon
	ModelDoor
)

const (
	SoundFire = 1 + iota
	SoundExplode
	SoundHum
	SoundDoor
)

const (
	CSName   = 0
	CSModels = 32
	CSSounds = CSModels + 256
)

const (
	BotAccel      = 400.0 // units/s²
	BotMaxSpeed   = 220.0
	BotFriction   = 0.9
	BotTurnSpeed  = 180.0 // degrees/s
	BotWander     = 90.0  // max degrees/s the wander heading drifts
	BotMaxHP      = 60
	BotFireRange  = 900.0
	BotFireCD     = 1.5 // seconds
	BotRespawn    = 3.0
	PlayerMaxHP   = 100
	RocketSpeed   = 650.0
	RocketLife    = 2.0
	RocketRadius  = 24.0
	RocketDamage  = 20
	RocketOffset  = 30.0
	ItemHeight    = 16.0
	PlayerViewZ   = 22.0
	footstepEvery = 4
)

var (
	// ErrNoSlot is returned when a client slot is out of range or taken.
	ErrNoSlot = errors.New("no such client slot")
	// ErrLevelEmpty is returned for a blank level name.
	ErrLevelEmpty = errors.New("empty level name")
)

// Config sizes the world.
type Config struct {
	MaxClients  int
	MaxEntities int
	Bots        int
	Items       int
	ViewRadius  float32
	// DoorPeriod toggles the doors every DoorPeriod ticks; 0 keeps them
	// open.
	DoorPeriod int
	TickRate   int
	Seed       int64
}

// DefaultConfig returns a lively default world.
func DefaultConfig() Config {
	return Config{
		MaxClients:  sv.DefaultMaxClients,
		MaxEntities: 512,
		Bots:        24,
		Items:       16,
		ViewRadius:  1024,
		DoorPeriod:  50,
		TickRate:    sv.DefaultTickRate,
		Seed:        1,
	}
}

type kind uint8

const (
	kindFree kind = iota
	kindPlayer
	kindBot
	kindRocket
	kindItem
	kindDoor
	kindMarker
)

// body is the simulation side of an edict.
type body struct {
	kind      kind
	vel       state.Vec3
	yaw       float32
	targetYaw float32
	life      float32 // rocket lifetime, respawn countdown
	fireCD    float32
	hp        int
	score     int
	dead      bool
	// areas a door separates
	areaA, areaB int
}

// World is the entity arena. Entity numbers 1..MaxClients belong to
// players; the rest are allocated on demand.
type World struct {
	cfg    Config
	legacy bool
	log    *slog.Logger
	rng    *rand.Rand
	grid   *Grid

	level   string
	tick    int
	edicts  []state.Edict
	bodies  []body
	players []state.PlayerState
	names   []string
	markers []int32

	sounds []state.SoundEvent
	temps  []state.TempEvent
	near   []int32
}

// NewWorld returns an empty world. Call SpawnLevel before use.
func NewWorld(cfg Config, log *slog.Logger) *World {
	d := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = d.MaxClients
	}
	if cfg.MaxEntities <= cfg.MaxClients+1 {
		cfg.MaxEntities = d.MaxEntities
	}
	if cfg.ViewRadius <= 0 {
		cfg.ViewRadius = d.ViewRadius
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = d.TickRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &World{
		cfg:     cfg,
		log:     log,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		grid:    NewGrid(cfg.ViewRadius),
		edicts:  make([]state.Edict, cfg.MaxEntities),
		bodies:  make([]body, cfg.MaxEntities),
		players: make([]state.PlayerState, cfg.MaxClients),
		names:   make([]string, cfg.MaxClients),
		markers: make([]int32, cfg.MaxClients),
	}
}

// Variant reports the current game API.
func (w *World) Variant() sv.GameVariant { return sv.GameCurrent }

// Grid returns the world's visibility oracle.
func (w *World) Grid() *Grid                       { return w.grid }

// Level returns the loaded level name.
func (w *World) Level() string { return w.level }

// PointArea, AreaBits and the visibility queries are answered by the grid.
func (w *World) PointArea(p state.Vec3) int        { return w.grid.PointArea(p) }
func (w *World) AreaBits(area int, dst []byte) int { return w.grid.AreaBits(area, dst) }
func (w *World) AreaConnected(a, b int) bool       { return w.grid.AreaConnected(a, b) }
func (w *World) InPVS(view, point state.Vec3) bool { return w.grid.InPVS(view, point) }
func (w *World) InPHS(view, point state.Vec3) bool { return w.grid.InPHS(view, point) }

// ConfigStrings returns the model and sound names clients need.
func (w *World) ConfigStrings() map[int]string {
	return map[int]string{
		CSName:                  w.level,
		CSModels + ModelPlayer:  "players/male/tris.md2",
		CSModels + ModelBot:     "models/monsters/soldier/tris.md2",
		CSModels + ModelRocket:  "models/objects/rocket/tris.md2",
		CSModels + ModelItem:    "models/items/armor/shard/tris.md2",
		CSModels + ModelWeapon:  "models/weapons/v_rocket/tris.md2",
		CSModels + ModelDoor:    "*1",
		CSSounds + SoundFire:    "weapons/rocklf1a.wav",
		CSSounds + SoundExplode: "weapons/rocklx1a.wav",
		CSSounds + SoundHum:     "world/amb10.wav",
		CSSounds + SoundDoor:    "doors/dr1_strt.wav",
	}
}

// SpawnLevel clears the arena and populates it with doors, items and bots.
func (w *World) SpawnLevel(name string) error {
	if name == "" {
		return ErrLevelEmpty
	}
	w.level = name
	w.tick = 0
	for i := range w.edicts {
		w.edicts[i] = state.Edict{}
		w.bodies[i] = body{}
	}
	w.grid = NewGrid(w.cfg.ViewRadius)
	for i := range w.players {
		w.markers[i] = 0
	}

	// doors across the middle column, one per row band
	for row := 2; row < GridRows; row += 4 {
		a := row*GridCols + GridCols/2
		if err := w.spawnDoor(a, a+1); err != nil {
			return fmt.Errorf("spawn door: %w", err)
		}
	}
	for i := 0; i < w.cfg.Items; i++ {
		if w.spawnItem() < 0 {
			break
		}
	}
	for i := 0; i < w.cfg.Bots; i++ {
		if w.spawnBot() < 0 {
			break
		}
	}
	for i := range w.players {
		if w.names[i] != "" && w.edicts[i+1].Client {
			w.spawnPlayer(i)
		}
	}
	w.log.Debug("level populated", "level", name, "bots", w.cfg.Bots, "items", w.cfg.Items)
	return nil
}

// Edicts returns the arena indexed by entity number.
func (w *World) Edicts() []state.Edict { return w.edicts }

// PlayerState returns slot's networked view state.
func (w *World) PlayerState(slot int) *state.PlayerState { return &w.players[slot] }

// ClientConnect reserves slot for name.
func (w *World) ClientConnect(slot int, name string) error {
	if slot < 0 || slot >= len(w.players) || w.names[slot] != "" {
		return fmt.Errorf("slot %d: %w", slot, ErrNoSlot)
	}
	w.names[slot] = name
	w.players[slot] = state.PlayerState{}
	return nil
}

// ClientBegin puts slot's player into the world.
func (w *World) ClientBegin(slot int) {
	if slot < 0 || slot >= len(w.players) {
		return
	}
	w.spawnPlayer(slot)
}

// ClientDisconnect frees slot and everything it owns.
func (w *World) ClientDisconnect(slot int) {
	if slot < 0 || slot >= len(w.players) {
		return
	}
	n := slot + 1
	for i := range w.edicts {
		if w.edicts[i].Owner == state.EntityID(n) {
			w.free(int32(i))
		}
	}
	w.free(int32(n))
	w.names[slot] = ""
	w.markers[slot] = 0
}

// Customize hides owner-only entities from everybody but their owner.
func (w *World) Customize(viewer int32, e *state.Edict, s *state.EntityState) bool {
	if e.SVFlags&state.SVFOwnerOnly != 0 {
		return e.Owner == state.EntityID(viewer)
	}
	return true
}

// PendingSounds hands the tick's sounds to the caller.
func (w *World) PendingSounds() []state.SoundEvent {
	s := w.sounds
	w.sounds = nil
	return s
}

// PendingTempEntities hands the tick's temporary effects to the caller.
func (w *World) PendingTempEntities() []state.TempEvent {
	t := w.temps
	w.temps = nil
	return t
}

// alloc returns a free entity number past the player slots, or -1.
func (w *World) alloc(k kind) int32 {
	for i := len(w.players) + 1; i < len(w.edicts); i++ {
		if !w.edicts[i].InUse && w.bodies[i].kind == kindFree {
			w.edicts[i] = state.Edict{InUse: true}
			w.edicts[i].State.Number = int32(i)
			w.bodies[i] = body{kind: k}
			return int32(i)
		}
	}
	return -1
}

func (w *World) free(n int32) {
	w.edicts[n] = state.Edict{}
	w.bodies[n] = body{}
}

func (w *World) spawnDoor(a, b int) error {
	n := w.alloc(kindDoor)
	if n < 0 {
		return errors.New("arena full")
	}
	e := &w.edicts[n]
	ax, ay := (a-1)%GridCols, (a-1)/GridCols
	e.State.Origin = state.Vec3{
		WorldMin + float32(ax+1)*CellSize,
		WorldMin + (float32(ay)+0.5)*CellSize,
		0,
	}
	e.State.ModelIndex[0] = ModelDoor
	e.Solid = state.SolidBSP
	e.Area, e.Area2 = a, b
	w.bodies[n].areaA, w.bodies[n].areaB = a, b
	return nil
}

func (w *World) spawnItem() int32 {
	n := w.alloc(kindItem)
	if n < 0 {
		return n
	}
	e := &w.edicts[n]
	e.State.Origin = randomPoint(w.rng)
	e.State.Origin[2] = ItemHeight
	e.State.ModelIndex[0] = ModelItem
	e.State.Effects = state.EffectRotate
	e.State.Sound = SoundHum
	e.Solid = state.SolidTrigger
	if !w.legacy {
		e.State.Alpha = 0.75
		e.State.Scale = 1.5
	}
	return n
}

func (w *World) spawnBot() int32 {
	n := w.alloc(kindBot)
	if n < 0 {
		return n
	}
	b := &w.bodies[n]
	b.hp = BotMaxHP
	b.yaw = angleMod(w.rng.Float32() * 360)
	b.targetYaw = b.yaw
	e := &w.edicts[n]
	e.State.Origin = randomPoint(w.rng)
	e.State.ModelIndex[0] = ModelBot
	e.State.ModelIndex[1] = ModelWeapon
	e.State.Angles[1] = b.yaw
	e.SVFlags = state.SVFMonster
	e.Solid = state.SolidBBox
	return n
}

func (w *World) spawnPlayer(slot int) {
	n := int32(slot + 1)
	w.edicts[n] = state.Edict{InUse: true, Client: true, Solid: state.SolidBBox}
	w.bodies[n] = body{kind: kindPlayer, hp: PlayerMaxHP}
	e := &w.edicts[n]
	e.State.Number = n
	e.State.Origin = randomPoint(w.rng)
	e.State.ModelIndex[0] = ModelPlayer
	e.State.Event = state.EventPlayerTeleport

	ps := &w.players[slot]
	*ps = state.PlayerState{FOV: 90, GunIndex: ModelWeapon}
	ps.ViewOffset[2] = PlayerViewZ
	if !w.legacy {
		ps.Fog = state.Fog{Color: [3]float32{0.3, 0.3, 0.35}, Density: 0.02}
		ps.GunRate = 10
	}

	// a waypoint only its owner can see
	if m := w.alloc(kindMarker); m >= 0 {
		me := &w.edicts[m]
		me.State.Origin = randomPoint(w.rng)
		me.State.ModelIndex[0] = ModelItem
		me.State.RenderFx = state.RenderGlow | state.RenderTranslucent
		me.SVFlags = state.SVFOwnerOnly | state.SVFNoCull
		me.Owner = state.EntityID(n)
		w.markers[slot] = m
	}
	w.link(n)
}

// link refreshes the derived fields of entity n after it moved.
func (w *World) link(n int32) {
	e := &w.edicts[n]
	if w.bodies[n].kind != kindDoor {
		e.Area = w.grid.PointArea(e.State.Origin)
	}
	if n >= 1 && int(n) <= len(w.players) {
		ps := &w.players[n-1]
		b := &w.bodies[n]
		for i := 0; i < 3; i++ {
			ps.PMove.Origin[i] = int32(e.State.Origin[i] * 8)
			ps.PMove.Velocity[i] = int32(b.vel[i] * 8)
		}
		ps.ViewAngles[1] = b.yaw
		ps.Stats[0] = int16(b.hp)
		ps.Stats[1] = int16(b.score)
		ps.GunFrame = int32(w.tick % 8)
		if b.dead {
			ps.PMove.Type = state.PMDead
		} else {
			ps.PMove.Type = state.PMNormal
		}
	}
}
