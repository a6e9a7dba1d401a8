package sv

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/themuffinator/q2repro-test-sub001/internal/cl"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

type fakeGame struct {
	variant GameVariant
	edicts  []state.Edict
	players []state.PlayerState
	begun   []bool
	left    []bool
	sounds  []state.SoundEvent
	temps   []state.TempEvent
	reject  string
	onFrame func(g *fakeGame)
}

func newFakeGame(edicts int) *fakeGame {
	return &fakeGame{
		variant: GameCurrent,
		edicts:  make([]state.Edict, edicts),
		players: make([]state.PlayerState, 4),
		begun:   make([]bool, 4),
		left:    make([]bool, 4),
	}
}

func (g *fakeGame) Variant() GameVariant { return g.variant }

func (g *fakeGame) SpawnLevel(string) error { return nil }

func (g *fakeGame) RunFrame() {
	for i := range g.edicts {
		g.edicts[i].State.Event = state.EventNone
	}
	if g.onFrame != nil {
		g.onFrame(g)
	}
}

func (g *fakeGame) Edicts() []state.Edict { return g.edicts }

func (g *fakeGame) ClientConnect(slot int, name string) error {
	if name == g.reject {
		return errors.New("banned")
	}
	return nil
}

func (g *fakeGame) ClientBegin(slot int)      { g.begun[slot] = true }
func (g *fakeGame) ClientDisconnect(slot int) { g.left[slot] = true }

func (g *fakeGame) PlayerState(slot int) *state.PlayerState { return &g.players[slot] }

func (g *fakeGame) PendingSounds() []state.SoundEvent {
	s := g.sounds
	g.sounds = nil
	return s
}

func (g *fakeGame) PendingTempEntities() []state.TempEvent {
	t := g.temps
	g.temps = nil
	return t
}

// place puts a visible entity at x.
func (g *fakeGame) place(n int32, x float32) {
	e := &g.edicts[n]
	e.InUse = true
	e.State = state.EntityState{
		Number:     n,
		Origin:     state.Vec3{x, 32, 0},
		ModelIndex: [4]int32{1 + n%5},
	}
}

// fakeOracle sees everything unless hidden says otherwise.
type fakeOracle struct {
	hidden func(point state.Vec3) bool
}

func (o *fakeOracle) AreaConnected(a, b int) bool { return true }

func (o *fakeOracle) InPVS(view, point state.Vec3) bool {
	return o.hidden == nil || !o.hidden(point)
}

func (o *fakeOracle) InPHS(view, point state.Vec3) bool { return o.InPVS(view, point) }

func (o *fakeOracle) PointArea(state.Vec3) int { return 1 }

func (o *fakeOracle) AreaBits(area int, dst []byte) int {
	dst[0] = 0x03
	return 1
}

type fakeObserver struct {
	connected []SessionInfo
	dropped   []string
}

func (o *fakeObserver) ClientConnected(info SessionInfo) { o.connected = append(o.connected, info) }

func (o *fakeObserver) ClientDropped(info SessionInfo, reason string, stats ConnStats) {
	o.dropped = append(o.dropped, reason)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness runs one server client pair over a loopback link, one tick per
// step.
type harness struct {
	t      *testing.T
	game   *fakeGame
	oracle *fakeOracle
	srv    *Server
	link   *transport.Link
	conn   *Connection
	client *cl.Conn
	// largest datagram the server sent
	maxPacket int
	sounds    []state.SoundEvent
}

func newHarness(t *testing.T, cfg Config, game *fakeGame, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, game: game, oracle: &fakeOracle{}}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	h.srv = New(cfg, game, h.oracle, opts...)
	if err := h.srv.SpawnLevel("test"); err != nil {
		t.Fatalf("SpawnLevel: %v", err)
	}
	return h
}

func (h *harness) connect(req ConnectRequest, link transport.LinkConfig) {
	h.t.Helper()
	h.link = transport.NewLink(link)
	out := transport.DatagramFunc(func(p []byte) error {
		h.maxPacket = max(h.maxPacket, len(p))
		return h.link.A.Send(p)
	})
	conn, err := h.srv.Connect(req, out)
	if err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	h.conn = conn
	dec := cl.New(conn.Profile(), conn.PlayerNum(), cl.WithLogger(quietLogger()), cl.WithHandlers(cl.Handlers{
		Sound: func(s state.SoundEvent) { h.sounds = append(h.sounds, s) },
	}))
	h.client = cl.NewConn(dec, h.link.B, req.Variant)
}

// step runs one server tick and lets the client answer it.
func (h *harness) step() {
	h.t.Helper()
	h.srv.Frame()
	h.link.B.Flush()
	for {
		pkt, ok := h.link.B.Recv()
		if !ok {
			break
		}
		if err := h.client.Receive(pkt); err != nil {
			var de *cl.DisconnectError
			if errors.As(err, &de) {
				return
			}
			h.t.Fatalf("tick %d: client: %v", h.srv.Tick(), err)
		}
	}
	if err := h.client.SendCommands(); err != nil {
		h.t.Fatalf("SendCommands: %v", err)
	}
	h.link.A.Flush()
	for {
		pkt, ok := h.link.A.Recv()
		if !ok {
			break
		}
		h.srv.Deliver(h.conn, pkt)
	}
}

func (h *harness) run(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.step()
	}
}

// checkInSync compares the client's snapshot with the frame the server
// recorded for the same tick.
func (h *harness) checkInSync() {
	h.t.Helper()
	snap := h.client.Client().Snapshot()
	if snap.Stale {
		h.t.Fatalf("tick %d: client snapshot stale", h.srv.Tick())
	}
	f, ok := h.conn.Frame(snap.Frame)
	if !ok {
		h.t.Fatalf("tick %d: server no longer holds frame %d", h.srv.Tick(), snap.Frame)
	}
	want := h.conn.FrameEntities(f)
	if len(want) != len(snap.Entities) {
		h.t.Fatalf("frame %d: client has %d entities, server sent %d", snap.Frame, len(snap.Entities), len(want))
	}
	for i := range want {
		if want[i] != snap.Entities[i] {
			h.t.Fatalf("frame %d entity %d:\n got %+v\nwant %+v", snap.Frame, want[i].Number, snap.Entities[i], want[i])
		}
	}
	if snap.PS.PMove != f.PS.PMove {
		h.t.Fatalf("frame %d: pmove %+v, want %+v", snap.Frame, snap.PS.PMove, f.PS.PMove)
	}
}

func defaultRequest(p proto.Profile) ConnectRequest {
	return ConnectRequest{
		Name:    "tester",
		Addr:    "127.0.0.1:27910",
		Profile: p,
		Rate:    MaxRate,
		Variant: transport.VariantFragmenting,
	}
}
