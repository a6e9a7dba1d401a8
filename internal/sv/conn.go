package sv

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/themuffinator/q2repro-test-sub001/internal/baseline"
	"github.com/themuffinator/q2repro-test-sub001/internal/codec"
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

// ConnState is the connection lifecycle.
type ConnState uint8

const (
	// StateConnected clients are loading baselines and get no frames.
	StateConnected ConnState = iota
	// StateActive clients get a frame every tick.
	StateActive
	// StateZombie connections are dropped and hold no resources.
	StateZombie
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	}
	return "zombie"
}

// Drop reasons shown to clients and persisted with the session.
const (
	ReasonReliableOverflow = "reliable buffer overflowed"
	ReasonDisconnected     = "disconnected"
	ReasonShutdown         = "server shutdown"
	ReasonKicked           = "kicked"
)

// ConnStats are per-connection counters.
type ConnStats struct {
	FramesSent        uint64
	FramesSuppressed  uint64
	FullFrames        uint64
	StaleReferences   uint64
	ResyncRequests    uint64
	EntityOverflow    uint64
	EntitiesOmitted   uint64
	UpdatesDeferred   uint64
	RemovalsDeferred  uint64
	UnreliableDropped uint64
	BytesSent         uint64
}

// ClientFrame is what one client was sent for one tick. Its entities live
// in the connection's entity ring at [FirstEntity, FirstEntity+NumEntities).
type ClientFrame struct {
	Number      int32
	Delta       int32
	FirstEntity int
	NumEntities int
	AreaBytes   int
	AreaBits    [proto.MaxAreaBytes]byte
	PS          state.PlayerState
	ClientNum   int32
	Sent        bool
}

// ConnectRequest carries the negotiated connect parameters.
type ConnectRequest struct {
	Name     string
	Addr     string
	Profile  proto.Profile
	Settings proto.Settings
	Rate     int
	Variant  transport.Variant
}

// Connection is the per-client context. It owns its rings and queues
// exclusively and is only touched with the server lock held.
type Connection struct {
	ID   uuid.UUID
	Name string
	Addr string

	srv      *Server
	slot     int
	profile  proto.Profile
	settings proto.Settings
	rate     int
	state    ConnState
	log      *slog.Logger

	netchan    *transport.Netchan
	reliable   *ReliableQueue
	unreliable *UnreliableQueue
	baselines  *baseline.Store

	frames     [proto.UpdateBackup]ClientFrame
	entities   []state.EntityState
	entityMask int
	nextEntity int
	lastAck    int32
	// acks at or below ackFloor predate a settings change
	ackFloor int32

	frameSizes    [proto.RateWindow]int
	suppressCount int
	frameFlags    proto.FrameFlags

	dropReason string
	done       chan struct{}
	stats      ConnStats
}

func newConnection(s *Server, slot int, req ConnectRequest, profile proto.Profile, out transport.Datagram) *Connection {
	limits := profile.Limits()
	ring := limits.MaxPacketEntities * proto.UpdateBackup
	c := &Connection{
		ID:         uuid.New(),
		Name:       req.Name,
		Addr:       req.Addr,
		srv:        s,
		slot:       slot,
		profile:    profile,
		settings:   req.Settings,
		rate:       ClampRate(req.Rate),
		netchan:    transport.NewNetchan(out, req.Variant),
		reliable:   NewReliableQueue(s.cfg.ReliableLimit),
		unreliable: NewUnreliableQueue(s.cfg.UnreliableLimit),
		baselines:  baseline.New(limits.MaxEdicts),
		entities:   make([]state.EntityState, ring),
		entityMask: ring - 1,
		lastAck:    proto.NoDelta,
		done:       make(chan struct{}),
	}
	if req.Rate <= 0 {
		c.rate = s.cfg.DefaultRate
	}
	c.log = s.log.With("conn", c.ID.String(), "slot", slot, "profile", profile.String())
	return c
}

// Slot returns the client slot.
func (c *Connection) Slot() int { return c.slot }

// PlayerNum returns the client's own entity number.
func (c *Connection) PlayerNum() int32 { return int32(c.slot + 1) }

// Profile returns the negotiated wire profile.
func (c *Connection) Profile() proto.Profile { return c.profile }

// Settings returns the client's suppression settings.
func (c *Connection) Settings() proto.Settings { return c.settings }

// Rate returns the bandwidth budget in bytes per second.
func (c *Connection) Rate() int { return c.rate }

// State returns the lifecycle state.
func (c *Connection) State() ConnState { return c.state }

// Stats returns a copy of the counters.
func (c *Connection) Stats() ConnStats { return c.stats }

// Netchan returns the connection's channel.
func (c *Connection) Netchan() *transport.Netchan { return c.netchan }

// DropReason returns why the connection was dropped.
func (c *Connection) DropReason() string { return c.dropReason }

// Done is closed when the connection is dropped.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Frame returns the recorded frame for tick, if still in the ring.
func (c *Connection) Frame(tick int32) (*ClientFrame, bool) {
	f := &c.frames[tick&proto.UpdateMask]
	return f, f.Number == tick && tick > 0
}

// FrameEntities returns the entity states recorded for f.
func (c *Connection) FrameEntities(f *ClientFrame) []state.EntityState {
	out := make([]state.EntityState, f.NumEntities)
	for i := range out {
		out[i] = c.entities[(f.FirstEntity+i)&c.entityMask]
	}
	return out
}

func (c *Connection) entity(f *ClientFrame, i int) *state.EntityState {
	return &c.entities[(f.FirstEntity+i)&c.entityMask]
}

func (c *Connection) session() SessionInfo {
	return SessionInfo{ID: c.ID, Name: c.Name, Addr: c.Addr, Profile: c.profile, Slot: c.slot}
}

// pushReliable queues m, dropping the client when the queue is exhausted.
func (c *Connection) pushReliable(m []byte) error {
	if c.state == StateZombie {
		return fmt.Errorf("connection dropped: %s", c.dropReason)
	}
	if err := c.reliable.Push(m); err != nil {
		c.srv.dropClient(c, ReasonReliableOverflow)
		return err
	}
	return nil
}

// maxPrint bounds reliable text so one message always fits a packet.
const maxPrint = 1000

func clip(s string) string {
	if len(s) > maxPrint {
		return s[:maxPrint]
	}
	return s
}

// Print queues a text message for the client.
func (c *Connection) Print(level int, text string) error {
	b := msg.NewBuffer(0)
	b.WriteUint8(uint8(proto.SvcPrint))
	b.WriteUint8(uint8(level))
	b.WriteString(clip(text))
	return c.pushReliable(b.Bytes())
}

// StuffText queues a console command for the client to run.
func (c *Connection) StuffText(text string) error {
	b := msg.NewBuffer(0)
	b.WriteUint8(uint8(proto.SvcStuffText))
	b.WriteString(clip(text))
	return c.pushReliable(b.Bytes())
}

// ConfigString queues a configstring update.
func (c *Connection) ConfigString(index int, value string) error {
	b := msg.NewBuffer(0)
	b.WriteUint8(uint8(proto.SvcConfigString))
	b.WriteUint16(uint16(index))
	b.WriteString(clip(value))
	return c.pushReliable(b.Bytes())
}

// signon queues the level change marker, every configstring and the
// baselines. The client answers with a begin carrying the spawn count.
func (c *Connection) signon() error {
	s := c.srv
	b := msg.NewBuffer(0)
	b.WriteUint8(uint8(proto.SvcLevelChange))
	b.WriteInt32(s.spawnCount)
	b.WriteString(clip(s.cfg.Level))
	if err := c.pushReliable(b.Bytes()); err != nil {
		return err
	}
	idx := make([]int, 0, len(s.configs))
	for i := range s.configs {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		if err := c.ConfigString(i, s.configs[i]); err != nil {
			return err
		}
	}
	return c.sendBaselines(s.spawn[c.profile])
}

// sendBaselines queues the level's baselines followed by the end marker.
func (c *Connection) sendBaselines(spawn *baseline.Store) error {
	c.baselines.CopyFrom(spawn)
	var err error
	b := msg.NewBuffer(0)
	c.baselines.Each(func(es *state.EntityState) bool {
		b.Reset()
		b.WriteUint8(uint8(proto.SvcSpawnBaseline))
		codec.WriteEntity(b, codec.EncodeEntity(nil, es, c.profile), c.profile)
		err = c.pushReliable(b.Bytes())
		return err == nil
	})
	if err != nil {
		return err
	}
	return c.pushReliable([]byte{byte(proto.SvcBaselinesDone)})
}

// resetFrames forgets everything sent, so the next frame is a full one.
func (c *Connection) resetFrames() {
	c.lastAck = proto.NoDelta
	for i := range c.frames {
		c.frames[i] = ClientFrame{}
	}
}

// receive handles one packet from the client.
func (c *Connection) receive(pkt []byte) error {
	reliable, unreliable, ok := c.netchan.Process(pkt)
	if !ok {
		return nil
	}
	if err := c.parseCommands(reliable); err != nil {
		return err
	}
	return c.parseCommands(unreliable)
}

func (c *Connection) parseCommands(data []byte) error {
	r := msg.NewReader(data)
	for r.Remaining() > 0 && c.state != StateZombie {
		op, err := r.ReadUint8()
		if err != nil {
			return err
		}
		switch proto.ClcOp(op) {
		case proto.ClcNop:
		case proto.ClcAck:
			frame, err := r.ReadInt32()
			if err != nil {
				return err
			}
			if err := c.ack(frame); err != nil {
				return err
			}
		case proto.ClcBegin:
			count, err := r.ReadInt32()
			if err != nil {
				return err
			}
			c.begin(count)
		case proto.ClcSettings:
			s, err := r.ReadUint8()
			if err != nil {
				return err
			}
			rate, err := r.ReadUint32()
			if err != nil {
				return err
			}
			c.applySettings(proto.Settings(s), int(rate))
		case proto.ClcDisconnect:
			c.srv.dropClient(c, ReasonDisconnected)
		default:
			return proto.Violation("clc", "unknown op %d", op)
		}
	}
	return nil
}

func (c *Connection) ack(frame int32) error {
	if frame == proto.NoDelta {
		c.lastAck = proto.NoDelta
		c.frameFlags |= proto.FrameClientDrop
		c.stats.ResyncRequests++
		return nil
	}
	if frame <= 0 || frame > c.srv.tick {
		return proto.Violation("clc_ack", "frame %d outside [1, %d]", frame, c.srv.tick)
	}
	if frame <= c.ackFloor {
		return nil
	}
	if c.lastAck == proto.NoDelta || frame > c.lastAck {
		c.lastAck = frame
	}
	return nil
}

func (c *Connection) begin(spawnCount int32) {
	if c.state != StateConnected {
		return
	}
	if spawnCount != c.srv.spawnCount {
		c.log.Debug("begin for an old level", "spawn", spawnCount, "want", c.srv.spawnCount)
		return
	}
	c.state = StateActive
	c.resetFrames()
	c.srv.game.ClientBegin(c.slot)
	c.log.Info("client entered the game", "name", c.Name)
}

func (c *Connection) applySettings(s proto.Settings, rate int) {
	if s != c.settings {
		// suppressed fields may now be stale on the client
		c.lastAck = proto.NoDelta
		c.ackFloor = c.srv.tick
	}
	c.settings = s
	if rate > 0 {
		c.rate = ClampRate(rate)
	}
}

// reference returns the frame to delta from, or nil for a full frame.
func (c *Connection) reference(tick int32) *ClientFrame {
	if c.lastAck == proto.NoDelta {
		return nil
	}
	if tick-c.lastAck >= proto.UpdateBackup-3 {
		c.stats.StaleReferences++
		c.log.Debug("delta reference too old", "ack", c.lastAck, "tick", tick)
		return nil
	}
	f, ok := c.Frame(c.lastAck)
	if !ok || !f.Sent {
		c.stats.StaleReferences++
		return nil
	}
	return f
}

// rateDrop reports whether this tick's frame must be suppressed to stay
// within the bandwidth budget.
func (c *Connection) rateDrop(tick int32, tickRate int) bool {
	c.frameSizes[int(tick)%proto.RateWindow] = 0
	total := 0
	for _, n := range c.frameSizes {
		total += n
	}
	if total > c.rate*proto.RateWindow/tickRate {
		c.suppressCount++
		c.frameFlags |= proto.FrameSuppressed
		c.stats.FramesSuppressed++
		return true
	}
	return false
}
