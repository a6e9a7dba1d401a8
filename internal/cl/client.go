// Package cl is the client half of the synchronization layer. It parses
// server messages and rebuilds each frame's entities and player state by
// applying deltas to a previously received frame or to the baselines.
package cl

import (
	"fmt"
	"log/slog"

	"github.com/themuffinator/q2repro-test-sub001/internal/baseline"
	"github.com/themuffinator/q2repro-test-sub001/internal/codec"
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// MaxConfigStrings bounds configstring indices.
const MaxConfigStrings = 4096

// State is the decoder state.
type State uint8

const (
	StateNoFrame State = iota
	StateHaveFrame
)

// Frame is one parsed server frame.
type Frame struct {
	Number      int32
	Delta       int32
	Valid       bool
	Suppressed  int
	Flags       proto.FrameFlags
	FirstEntity int
	NumEntities int
	AreaBytes   int
	AreaBits    [proto.MaxAreaBytes]byte
	PS          state.PlayerState
}

// Snapshot is the client's view of the world after the last frame.
type Snapshot struct {
	Frame    int32
	Entities []state.EntityState
	PS       state.PlayerState
	AreaBits []byte
	// Stale is set when the newest frame could not be decoded and the
	// snapshot still shows the last good one.
	Stale bool
}

// Stats are decoder counters.
type Stats struct {
	FramesParsed     uint64
	FullFrames       uint64
	InvalidFrames    uint64
	SuppressedFrames uint64
	EntitiesParsed   uint64
}

// Handlers receive the non-frame messages. Any may be nil.
type Handlers struct {
	Frame        func(*Client)
	Sound        func(state.SoundEvent)
	TempEntity   func(state.TempEvent)
	Print        func(level int, text string)
	StuffText    func(text string)
	ConfigString func(index int, value string)
	Disconnect   func(reason string)
}

// DisconnectError is returned when the server ends the connection.
type DisconnectError struct {
	Reason string
}

func (e *DisconnectError) Error() string { return "server disconnected: " + e.Reason }

// Client decodes one server stream. It is not safe for concurrent use;
// each datagram is parsed to completion before the next.
type Client struct {
	profile   proto.Profile
	playerNum int32
	log       *slog.Logger
	handlers  Handlers

	baselines     *baseline.Store
	baselinesDone bool
	configs       map[int]string
	spawnCount    int32
	level         string

	frames     [proto.UpdateBackup]Frame
	entities   []state.EntityState
	entityMask int
	nextEntity int

	frame     Frame // last valid frame
	lastFrame int32 // last parsed frame number
	lastValid bool
	state     State
	stats     Stats
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHandlers sets the message callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// New returns a decoder for a connection negotiated with profile.
func New(profile proto.Profile, playerNum int32, opts ...Option) *Client {
	limits := profile.Limits()
	ring := limits.MaxPacketEntities * proto.UpdateBackup
	c := &Client{
		profile:    profile,
		playerNum:  playerNum,
		log:        slog.Default(),
		baselines:  baseline.New(limits.MaxEdicts),
		configs:    make(map[int]string),
		entities:   make([]state.EntityState, ring),
		entityMask: ring - 1,
		lastFrame:  proto.NoDelta,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Profile returns the wire profile.
func (c *Client) Profile() proto.Profile { return c.profile }

// PlayerNum returns the client's own entity number.
func (c *Client) PlayerNum() int32 { return c.playerNum }

// State returns the decoder state.
func (c *Client) State() State { return c.state }

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats { return c.stats }

// BaselinesDone reports whether the connect-time baseline list ended.
func (c *Client) BaselinesDone() bool { return c.baselinesDone }

// Baseline returns the baseline for number.
func (c *Client) Baseline(number int32) (state.EntityState, bool) {
	es, ok := c.baselines.Get(number)
	if !ok {
		return state.EntityState{}, false
	}
	return *es, true
}

// SpawnCount returns the spawn count of the current signon.
func (c *Client) SpawnCount() int32 { return c.spawnCount }

// Level returns the level named by the last level change.
func (c *Client) Level() string { return c.level }

// ConfigString returns a configstring.
func (c *Client) ConfigString(index int) string { return c.configs[index] }

// AckFrame is the value to acknowledge: the last parsed frame when it was
// valid, otherwise NoDelta to ask for a full frame.
func (c *Client) AckFrame() int32 {
	if !c.lastValid {
		return proto.NoDelta
	}
	return c.lastFrame
}

// Snapshot returns the last good frame's state.
func (c *Client) Snapshot() Snapshot {
	f := &c.frame
	s := Snapshot{
		Frame:    f.Number,
		PS:       f.PS,
		AreaBits: append([]byte(nil), f.AreaBits[:f.AreaBytes]...),
		Stale:    c.state == StateHaveFrame && !c.lastValid,
	}
	if c.state == StateHaveFrame {
		s.Entities = make([]state.EntityState, f.NumEntities)
		for i := range s.Entities {
			s.Entities[i] = c.entities[(f.FirstEntity+i)&c.entityMask]
		}
	}
	return s
}

// ParseMessage parses every server message in data.
func (c *Client) ParseMessage(data []byte) error {
	r := msg.NewReader(data)
	for r.Remaining() > 0 {
		op, err := r.ReadUint8()
		if err != nil {
			return err
		}
		if err := c.parseOp(proto.SvcOp(op), r); err != nil {
			return fmt.Errorf("%s: %w", proto.SvcOp(op), err)
		}
	}
	return nil
}

func (c *Client) parseOp(op proto.SvcOp, r *msg.Reader) error {
	switch op {
	case proto.SvcNop:
	case proto.SvcDisconnect:
		reason, err := r.ReadString()
		if err != nil {
			return err
		}
		if c.handlers.Disconnect != nil {
			c.handlers.Disconnect(reason)
		}
		return &DisconnectError{Reason: reason}
	case proto.SvcPrint:
		level, err := r.ReadUint8()
		if err != nil {
			return err
		}
		text, err := r.ReadString()
		if err != nil {
			return err
		}
		if c.handlers.Print != nil {
			c.handlers.Print(int(level), text)
		}
	case proto.SvcStuffText:
		text, err := r.ReadString()
		if err != nil {
			return err
		}
		if c.handlers.StuffText != nil {
			c.handlers.StuffText(text)
		}
	case proto.SvcConfigString:
		idx, err := r.ReadUint16()
		if err != nil {
			return err
		}
		if idx >= MaxConfigStrings {
			return proto.Violation("configstring", "index %d", idx)
		}
		v, err := r.ReadString()
		if err != nil {
			return err
		}
		c.configs[int(idx)] = v
		if c.handlers.ConfigString != nil {
			c.handlers.ConfigString(int(idx), v)
		}
	case proto.SvcLevelChange:
		count, err := r.ReadInt32()
		if err != nil {
			return err
		}
		name, err := r.ReadString()
		if err != nil {
			return err
		}
		c.changeLevel(count, name)
	case proto.SvcSpawnBaseline:
		return c.parseBaseline(r)
	case proto.SvcBaselinesDone:
		c.baselinesDone = true
	case proto.SvcSound:
		s, err := codec.ReadSound(r, c.profile)
		if err != nil {
			return err
		}
		if c.handlers.Sound != nil {
			c.handlers.Sound(s)
		}
	case proto.SvcTempEntity:
		t, err := codec.ReadTempEntity(r, c.profile)
		if err != nil {
			return err
		}
		if c.handlers.TempEntity != nil {
			c.handlers.TempEntity(t)
		}
	case proto.SvcFrame:
		return c.parseFrame(r)
	default:
		return proto.Violation("message", "unexpected %s", op)
	}
	return nil
}

// changeLevel forgets everything tied to the previous level. Frames are
// invalidated so nothing from it can serve as a delta reference.
func (c *Client) changeLevel(count int32, name string) {
	c.spawnCount = count
	c.level = name
	c.baselines.Reset()
	c.baselinesDone = false
	c.configs = make(map[int]string)
	for i := range c.frames {
		c.frames[i] = Frame{}
	}
	c.frame = Frame{}
	c.lastFrame = proto.NoDelta
	c.lastValid = false
	c.state = StateNoFrame
	c.log.Debug("level change", "level", name, "spawn", count)
}

func (c *Client) parseBaseline(r *msg.Reader) error {
	num, bits, err := codec.ReadEntityHeader(r, c.profile)
	if err != nil {
		return err
	}
	if num == 0 || bits&codec.EntRemove != 0 {
		return proto.Violation("baseline", "bad record for %d", num)
	}
	d, err := codec.ReadEntityDelta(r, num, bits, c.profile)
	if err != nil {
		return err
	}
	c.baselines.Set(codec.DecodeEntity(nil, d, c.profile))
	return nil
}
