package sv

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/themuffinator/q2repro-test-sub001/internal/baseline"
	"github.com/themuffinator/q2repro-test-sub001/internal/codec"
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/selector"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

var (
	// ErrServerFull is returned by Connect when every slot is taken.
	ErrServerFull = errors.New("server is full")
)

// EventSource is implemented by games that emit sounds and temporary
// effects. The server drains it after every RunFrame.
type EventSource interface {
	PendingSounds() []state.SoundEvent
	PendingTempEntities() []state.TempEvent
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.rec = r }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.obs = append(s.obs, o) }
}

// Server is the authoritative side of the synchronization layer. All state
// is guarded by one lock so a tick runs every connection to completion
// before anything else touches them.
type Server struct {
	mu     sync.Mutex
	cfg    Config
	game   Game
	oracle Oracle
	log    *slog.Logger
	rec    Recorder
	obs    []Observer

	selectors [2]*selector.Selector
	spawn     [2]*baseline.Store
	configs   map[int]string

	// spawnCount numbers level loads; a begin for an older one is ignored
	spawnCount int32

	tick  int32
	conns []*Connection

	packet  *msg.Buffer
	scratch *msg.Buffer
	ops     []mergeOp
	window  []state.EntityState

	running bool
	stop    chan struct{}
}

// New returns a server driving game. The game may implement
// selector.Customizer and EventSource.
func New(cfg Config, game Game, oracle Oracle, opts ...Option) *Server {
	cfg.normalize()
	s := &Server{
		cfg:     cfg,
		game:    game,
		oracle:  oracle,
		log:     slog.Default(),
		rec:     nopRecorder{},
		configs: make(map[int]string),
		conns:   make([]*Connection, cfg.MaxClients),
		packet:  msg.NewBuffer(transport.MaxMessage),
		scratch: msg.NewBuffer(0),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	custom, _ := game.(selector.Customizer)
	for _, p := range []proto.Profile{proto.ProfileLegacy, proto.ProfileExtended} {
		s.selectors[p] = selector.New(oracle, custom, p.Limits().MaxPacketEntities)
		s.spawn[p] = baseline.New(p.Limits().MaxEdicts)
	}
	if game.Variant() == GameLegacy {
		s.cfg.Profile = proto.ProfileLegacy
	}
	return s
}

// Config returns the effective settings.
func (s *Server) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Tick returns the current tick number.
func (s *Server) Tick() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// SpawnLevel loads a level, captures its baselines and restarts every
// client's signon.
func (s *Server) SpawnLevel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.game.SpawnLevel(name); err != nil {
		return fmt.Errorf("spawn %s: %w", name, err)
	}
	s.cfg.Level = name
	s.spawnCount++
	if src, ok := s.game.(ConfigSource); ok {
		s.configs = make(map[int]string)
		for idx, v := range src.ConfigStrings() {
			s.configs[idx] = v
		}
	}
	for _, st := range s.spawn {
		st.Reset()
	}
	edicts := s.game.Edicts()
	for i := 1; i < len(edicts); i++ {
		e := &edicts[i]
		if !e.InUse || !e.State.Visible() {
			continue
		}
		es := e.State
		es.Number = int32(i)
		for _, st := range s.spawn {
			st.Set(es)
		}
	}
	s.log.Info("level spawned", "level", name, "baselines", s.spawn[proto.ProfileExtended].Len())
	for _, c := range s.conns {
		if c == nil {
			continue
		}
		c.state = StateConnected
		c.resetFrames()
		c.ackFloor = s.tick
		c.unreliable.Clear()
		// an overflow drops the client inside pushReliable
		_ = c.signon()
	}
	return nil
}

// SetConfigString stores a configstring and sends it to every client.
func (s *Server) SetConfigString(index int, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[index] = value
	for _, c := range s.conns {
		if c != nil {
			_ = c.ConfigString(index, value)
		}
	}
}

// Connect admits a client. The returned connection has its configstrings
// and baselines queued; it starts getting frames once the client begins.
func (s *Server) Connect(req ConnectRequest, out transport.Datagram) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	for i, c := range s.conns {
		if c == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrServerFull
	}
	profile := req.Profile
	if !profile.Valid() || profile > s.cfg.Profile {
		profile = s.cfg.Profile
	}
	if err := s.game.ClientConnect(slot, req.Name); err != nil {
		return nil, fmt.Errorf("game rejected %q: %w", req.Name, err)
	}
	c := newConnection(s, slot, req, profile, out)
	s.conns[slot] = c

	if err := c.signon(); err != nil {
		return nil, err
	}
	c.log.Info("client connected", "name", req.Name, "addr", req.Addr, "rate", c.rate)
	s.rec.Connections(s.countLocked())
	for _, o := range s.obs {
		o.ClientConnected(c.session())
	}
	return c, nil
}

// Deliver hands a packet received from c to the server.
func (s *Server) Deliver(c *Connection, pkt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.state == StateZombie {
		return
	}
	if err := c.receive(pkt); err != nil {
		if errors.Is(err, proto.ErrProtocolViolation) {
			s.dropClient(c, err.Error())
			return
		}
		c.log.Warn("bad client packet", "err", err)
	}
}

// Drop disconnects c with reason.
func (s *Server) Drop(c *Connection, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropClient(c, reason)
}

// dropClient frees everything c holds in the calling tick. A final
// unreliable disconnect notice is sent on a best-effort basis.
func (s *Server) dropClient(c *Connection, reason string) {
	if c.state == StateZombie {
		return
	}
	b := msg.NewBuffer(0)
	b.WriteUint8(uint8(proto.SvcDisconnect))
	b.WriteString(reason)
	c.netchan.Transmit(nil, b.Bytes())

	c.state = StateZombie
	c.dropReason = reason
	if reason == ReasonDisconnected || reason == ReasonShutdown {
		c.log.Info("client dropped", "reason", reason)
	} else {
		c.log.Warn("client dropped", "reason", reason)
	}
	s.game.ClientDisconnect(c.slot)
	c.reliable.Clear()
	c.unreliable.Clear()
	c.entities = nil
	c.baselines.Reset()
	if s.conns[c.slot] == c {
		s.conns[c.slot] = nil
	}
	close(c.done)

	s.rec.ClientDropped(reason)
	s.rec.Connections(s.countLocked())
	for _, o := range s.obs {
		o.ClientDropped(c.session(), reason, c.stats)
	}
}

func (s *Server) countLocked() int {
	n := 0
	for _, c := range s.conns {
		if c != nil {
			n++
		}
	}
	return n
}

// Connections returns the live connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Frame runs one tick: the simulation step, event multicast and the send
// pass for every connection in slot order.
func (s *Server) Frame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	s.game.RunFrame()
	if es, ok := s.game.(EventSource); ok {
		for _, snd := range es.PendingSounds() {
			s.startSound(snd)
		}
		for _, te := range es.PendingTempEntities() {
			s.tempEntity(te)
		}
	}
	for _, c := range s.conns {
		if c != nil {
			s.sendClient(c)
		}
	}
}

// Run ticks at the configured rate until Stop.
func (s *Server) Run() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Frame()
		case <-s.stop:
			return
		}
	}
}

// Stop ends Run and drops every client.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		close(s.stop)
	}
	for _, c := range s.conns {
		if c != nil {
			s.dropClient(c, ReasonShutdown)
		}
	}
}

// StartSound queues a sound for every client that can hear it.
func (s *Server) StartSound(ev state.SoundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startSound(ev)
}

// TempEntity queues a temporary effect for every client that can see it.
func (s *Server) TempEntity(ev state.TempEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempEntity(ev)
}

func (s *Server) startSound(ev state.SoundEvent) {
	origin := ev.Origin
	if !ev.Positioned {
		edicts := s.game.Edicts()
		if ev.Entity <= 0 || int(ev.Entity) >= len(edicts) {
			return
		}
		origin = edicts[ev.Entity].State.Origin
	}
	cat := CategoryEntitySound
	if ev.Positioned {
		cat = CategoryPositionedSound
	}
	s.multicast(cat, origin, true, func(b *msg.Buffer, p proto.Profile) {
		b.WriteUint8(uint8(proto.SvcSound))
		codec.WriteSound(b, &ev, p)
	})
}

func (s *Server) tempEntity(ev state.TempEvent) {
	s.multicast(CategoryTempEntity, ev.Origin, false, func(b *msg.Buffer, p proto.Profile) {
		b.WriteUint8(uint8(proto.SvcTempEntity))
		codec.WriteTempEntity(b, &ev, p)
	})
}

// multicast queues a message for active clients whose PHS (audible) or PVS
// contains origin. Each profile's encoding is built once.
func (s *Server) multicast(cat Category, origin state.Vec3, audible bool, write func(*msg.Buffer, proto.Profile)) {
	var enc [2][]byte
	for _, c := range s.conns {
		if c == nil || c.state != StateActive {
			continue
		}
		view := s.game.PlayerState(c.slot).ViewOrigin()
		if audible && !s.oracle.InPHS(view, origin) || !audible && !s.oracle.InPVS(view, origin) {
			continue
		}
		if enc[c.profile] == nil {
			b := msg.NewBuffer(0)
			write(b, c.profile)
			enc[c.profile] = b.Bytes()
		}
		lost := c.unreliable.Push(cat, enc[c.profile])
		s.countUnreliableLoss(c, lost)
	}
}

func (s *Server) countUnreliableLoss(c *Connection, lost [NumCategories]int) {
	for cat, n := range lost {
		if n > 0 {
			c.stats.UnreliableDropped += uint64(n)
			s.rec.UnreliableDropped(Category(cat), n)
		}
	}
}

// ConnStatus is a point-in-time copy of one connection for reporting.
type ConnStatus struct {
	SessionInfo
	State ConnState
	Rate  int
	Stats ConnStats
}

// Status returns a copy of every live connection's state.
func (s *Server) Status() []ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnStatus, 0, len(s.conns))
	for _, c := range s.conns {
		if c != nil {
			out = append(out, ConnStatus{
				SessionInfo: c.session(),
				State:       c.state,
				Rate:        c.rate,
				Stats:       c.stats,
			})
		}
	}
	return out
}
