package sv

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/themuffinator/q2repro-test-sub001/internal/cl"
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

func TestClientTracksServerUnderLoss(t *testing.T) {
	for _, p := range []proto.Profile{proto.ProfileLegacy, proto.ProfileExtended} {
		t.Run(p.String(), func(t *testing.T) {
			g := newFakeGame(96)
			for n := int32(2); n < 40; n++ {
				g.place(n, float32(n*10))
			}
			rng := rand.New(rand.NewSource(7))
			g.onFrame = func(g *fakeGame) {
				for k := 0; k < 6; k++ {
					n := 2 + rng.Intn(90)
					e := &g.edicts[n]
					switch rng.Intn(4) {
					case 0:
						e.InUse = !e.InUse
						if e.InUse {
							g.place(int32(n), float32(rng.Intn(2000)))
						}
					case 1:
						e.State.Origin[1] = float32(rng.Intn(1000))
					case 2:
						e.State.Event = state.EventFootstep
					default:
						e.State.Frame = int32(rng.Intn(300))
					}
				}
				g.players[0].PMove.Origin[0] = int32(rng.Intn(4000))
			}
			cfg := DefaultConfig()
			cfg.Profile = proto.ProfileExtended
			h := newHarness(t, cfg, g)
			h.connect(defaultRequest(p), transport.LinkConfig{Loss: 0.2, Reorder: 0.1, Seed: 3})

			synced := 0
			for i := 0; i < 400; i++ {
				h.step()
				if h.client.Client().Snapshot().Stale || h.client.Client().State() != cl.StateHaveFrame {
					continue
				}
				h.checkInSync()
				synced++
			}
			if synced < 200 {
				t.Fatalf("client in sync on only %d of 400 ticks", synced)
			}
			if h.conn.Profile() != p {
				t.Errorf("negotiated %s, want %s", h.conn.Profile(), p)
			}
		})
	}
}

func TestDeltaAgainstAckedFrame(t *testing.T) {
	g := newFakeGame(64)
	for _, n := range []int32{2, 5, 9, 12, 40} {
		g.place(n, float32(n*8))
	}
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})

	for h.srv.Tick() < 98 {
		h.step()
	}
	if f, ok := h.conn.Frame(98); !ok || !f.Sent {
		t.Fatal("frame 98 not sent")
	}

	g.onFrame = func(g *fakeGame) {
		g.edicts[9].InUse = false
		g.edicts[5].State.Origin[0] = 500
		g.place(41, 64)
		g.onFrame = nil
	}
	h.step()

	f, ok := h.conn.Frame(99)
	if !ok {
		t.Fatal("frame 99 missing")
	}
	if f.Delta != 98 {
		t.Fatalf("frame 99 deltas from %d, want 98", f.Delta)
	}
	snap := h.client.Client().Snapshot()
	var got []int32
	for _, es := range snap.Entities {
		got = append(got, es.Number)
	}
	want := []int32{2, 5, 12, 40, 41}
	if len(got) != len(want) {
		t.Fatalf("client entities %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("client entities %v, want %v", got, want)
		}
	}
	if snap.Entities[1].Origin[0] != 500 {
		t.Errorf("entity 5 origin %v", snap.Entities[1].Origin)
	}
	h.checkInSync()
	if st := h.conn.Stats(); st.FullFrames != 1 {
		t.Errorf("%d full frames, want only the first", st.FullFrames)
	}
}

func TestReinsertUsesBaseline(t *testing.T) {
	g := newFakeGame(32)
	g.place(7, 100)
	g.edicts[7].State.Skin = 3
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(5)

	base, ok := h.client.Client().Baseline(7)
	if !ok {
		t.Fatal("client has no baseline for 7")
	}
	if base.Skin != 3 {
		t.Fatalf("baseline skin %d", base.Skin)
	}

	g.edicts[7].InUse = false
	h.run(3)
	if n := len(h.client.Client().Snapshot().Entities); n != 0 {
		t.Fatalf("%d entities after removal", n)
	}
	g.edicts[7].InUse = true
	g.edicts[7].State.Frame = 12
	h.step()
	h.checkInSync()
	snap := h.client.Client().Snapshot()
	if len(snap.Entities) != 1 || snap.Entities[0].Skin != 3 || snap.Entities[0].Frame != 12 {
		t.Fatalf("reinserted entity %+v", snap.Entities)
	}
}

func TestRateSuppressionCountsExactly(t *testing.T) {
	g := newFakeGame(64)
	for n := int32(2); n < 50; n++ {
		g.place(n, float32(n*16))
	}
	tick := 0
	g.onFrame = func(g *fakeGame) {
		tick++
		for n := 2; n < 50; n++ {
			g.edicts[n].State.Origin[1] = float32(tick * 4)
		}
	}
	h := newHarness(t, DefaultConfig(), g)
	req := defaultRequest(proto.ProfileExtended)
	req.Rate = MinRate
	h.connect(req, transport.LinkConfig{})
	h.run(60)

	st := h.conn.Stats()
	if st.FramesSuppressed == 0 {
		t.Fatal("no frames suppressed at the minimum rate")
	}
	reported := h.client.Client().Stats().SuppressedFrames
	if reported+uint64(h.conn.suppressCount) != st.FramesSuppressed {
		t.Fatalf("client saw %d suppressed (+%d pending), server suppressed %d",
			reported, h.conn.suppressCount, st.FramesSuppressed)
	}

	// raise the rate and let the client catch up
	h.client.Settings(0, MaxRate)
	h.run(3)
	before := h.conn.Stats().FramesSuppressed
	h.run(10)
	if got := h.conn.Stats().FramesSuppressed; got != before {
		t.Errorf("%d frames suppressed after raising the rate", got-before)
	}
	h.checkInSync()
}

func TestTruncatedFrameFitsPacket(t *testing.T) {
	g := newFakeGame(200)
	limit := int32(proto.ProfileLegacy.Limits().MaxPacketEntities)
	for n := int32(2); n < 2+limit; n++ {
		g.place(n, float32(n*16))
		g.edicts[n].State.Angles = state.Vec3{10, 20, 30}
		g.edicts[n].State.OldOrigin = state.Vec3{1, 2, 3}
		g.edicts[n].State.Skin = 300
	}
	// move everything away from its baseline once
	g.onFrame = func(g *fakeGame) {
		for n := 2; n < 2+int(limit); n++ {
			s := &g.edicts[n].State
			s.Origin = state.Vec3{float32(-n * 24), float32(n * 8), 512}
			s.OldOrigin = state.Vec3{float32(n), 900, -900}
			s.Angles = state.Vec3{45, float32(n), 90}
			s.Frame = 400
		}
		g.onFrame = nil
	}
	cfg := DefaultConfig()
	cfg.Profile = proto.ProfileLegacy
	h := newHarness(t, cfg, g)
	req := defaultRequest(proto.ProfileLegacy)
	req.Variant = transport.VariantLegacy
	h.connect(req, transport.LinkConfig{})

	for i := 0; i < 40; i++ {
		h.step()
		if h.client.Client().State() == cl.StateHaveFrame {
			h.checkInSync()
		}
	}
	if h.maxPacket > transport.MTU {
		t.Fatalf("sent a %d byte datagram", h.maxPacket)
	}
	st := h.conn.Stats()
	if st.EntitiesOmitted == 0 {
		t.Fatal("expected the first frames to be truncated")
	}
	if n := len(h.client.Client().Snapshot().Entities); n != int(limit) {
		t.Errorf("client converged on %d entities, want %d", n, limit)
	}
}

func TestAckNoDeltaForcesFullFrame(t *testing.T) {
	g := newFakeGame(16)
	g.place(3, 0)
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(10)
	full := h.conn.Stats().FullFrames

	h.client.Resync()
	h.step()
	h.step()
	f, _ := h.conn.Frame(h.srv.Tick())
	if f.Delta != proto.NoDelta {
		t.Fatalf("frame after resync deltas from %d", f.Delta)
	}
	h.step()
	f, _ = h.conn.Frame(h.srv.Tick())
	if f.Delta == proto.NoDelta {
		t.Fatal("still sending full frames after resync")
	}
	if got := h.conn.Stats().FullFrames; got != full+1 {
		t.Errorf("full frames %d, want %d", got, full+1)
	}
	if got := h.conn.Stats().ResyncRequests; got != 1 {
		t.Errorf("resync requests %d", got)
	}
	h.checkInSync()
}

func TestStaleAckFallsBackToFullFrame(t *testing.T) {
	g := newFakeGame(16)
	g.place(3, 0)
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(5)

	// the client goes silent
	for i := 0; i < proto.UpdateBackup; i++ {
		h.srv.Frame()
		for {
			pkt, ok := h.link.B.Recv()
			if !ok {
				break
			}
			if err := h.client.Receive(pkt); err != nil {
				t.Fatal(err)
			}
		}
	}
	f, _ := h.conn.Frame(h.srv.Tick())
	if f.Delta != proto.NoDelta {
		t.Fatalf("frame %d deltas from %d despite a stale ack", f.Number, f.Delta)
	}
	if h.conn.Stats().StaleReferences == 0 {
		t.Error("stale reference not counted")
	}
	h.run(2)
	h.checkInSync()
}

func TestSettingsChangeForcesFullFrame(t *testing.T) {
	g := newFakeGame(16)
	g.place(3, 0)
	g.players[0].GunIndex = 4
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(5)
	full := h.conn.Stats().FullFrames

	h.client.Settings(proto.SettingNoGun, 0)
	h.run(3)
	if h.conn.Settings() != proto.SettingNoGun {
		t.Fatalf("settings %v", h.conn.Settings())
	}
	if got := h.conn.Stats().FullFrames; got != full+1 {
		t.Errorf("full frames %d, want %d", got, full+1)
	}
}

func TestSoundsReachClient(t *testing.T) {
	g := newFakeGame(16)
	g.place(3, 0)
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(3)

	g.sounds = append(g.sounds, state.SoundEvent{Entity: 3, Channel: 1, Index: 9, Volume: 255, Attenuation: 64})
	h.step()
	if len(h.sounds) != 1 || h.sounds[0].Index != 9 || h.sounds[0].Entity != 3 {
		t.Fatalf("sounds %+v", h.sounds)
	}

	// hidden from the PHS
	h.oracle.hidden = func(p state.Vec3) bool { return p[0] > 1000 }
	g.sounds = append(g.sounds, state.SoundEvent{Index: 2, Positioned: true, Origin: state.Vec3{2000, 0, 0}})
	h.step()
	if len(h.sounds) != 1 {
		t.Fatalf("sound outside the PHS delivered: %+v", h.sounds)
	}
}

func TestReliableOverflowDropsClient(t *testing.T) {
	g := newFakeGame(16)
	obs := &fakeObserver{}
	cfg := DefaultConfig()
	cfg.ReliableLimit = 4096
	h := newHarness(t, cfg, g, WithObserver(obs))
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})

	text := strings.Repeat("x", 900)
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = h.conn.Print(proto.PrintHigh, text)
	}
	if !errors.Is(err, proto.ErrResourceExhausted) {
		t.Fatalf("err = %v, want resource exhausted", err)
	}
	if h.conn.State() != StateZombie || h.conn.DropReason() != ReasonReliableOverflow {
		t.Fatalf("state %v reason %q", h.conn.State(), h.conn.DropReason())
	}
	select {
	case <-h.conn.Done():
	default:
		t.Error("done not closed")
	}
	if !g.left[0] {
		t.Error("game not told about the drop")
	}
	if len(obs.dropped) != 1 || obs.dropped[0] != ReasonReliableOverflow {
		t.Errorf("observer saw %v", obs.dropped)
	}
	if len(h.srv.Connections()) != 0 {
		t.Error("slot not freed")
	}
}

func TestBadCommandDropsClient(t *testing.T) {
	tests := []struct {
		name    string
		payload func(b *msg.Buffer)
	}{
		{"unknown op", func(b *msg.Buffer) { b.WriteUint8(200) }},
		{"future ack", func(b *msg.Buffer) {
			b.WriteUint8(uint8(proto.ClcAck))
			b.WriteInt32(1 << 20)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGame(16)
			h := newHarness(t, DefaultConfig(), g)
			h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
			h.run(2)

			b := msg.NewBuffer(0)
			tt.payload(b)
			if err := h.client.Netchan().Transmit(nil, b.Bytes()); err != nil {
				t.Fatal(err)
			}
			pkt, _ := h.link.A.Recv()
			h.srv.Deliver(h.conn, pkt)
			if h.conn.State() != StateZombie {
				t.Fatal("client not dropped")
			}
			if !strings.Contains(h.conn.DropReason(), "protocol violation") {
				t.Errorf("reason %q", h.conn.DropReason())
			}
		})
	}
}

func TestClientDisconnect(t *testing.T) {
	g := newFakeGame(16)
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(3)
	if err := h.client.Disconnect(); err != nil {
		t.Fatal(err)
	}
	for {
		pkt, ok := h.link.A.Recv()
		if !ok {
			break
		}
		h.srv.Deliver(h.conn, pkt)
	}
	if h.conn.DropReason() != ReasonDisconnected {
		t.Fatalf("reason %q", h.conn.DropReason())
	}
}

func TestConnectLimits(t *testing.T) {
	g := newFakeGame(16)
	g.reject = "banned"
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	srv := New(cfg, g, &fakeOracle{}, WithLogger(quietLogger()))
	out := transport.DatagramFunc(func([]byte) error { return nil })

	if _, err := srv.Connect(ConnectRequest{Name: "banned"}, out); err == nil {
		t.Error("game rejection ignored")
	}
	if _, err := srv.Connect(ConnectRequest{Name: "a", Profile: proto.ProfileExtended}, out); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Connect(ConnectRequest{Name: "b"}, out); !errors.Is(err, ErrServerFull) {
		t.Errorf("err = %v, want ErrServerFull", err)
	}
}

func TestLegacyGameForcesLegacyProfile(t *testing.T) {
	g := newFakeGame(16)
	g.variant = GameLegacy
	srv := New(DefaultConfig(), g, &fakeOracle{}, WithLogger(quietLogger()))
	c, err := srv.Connect(ConnectRequest{Name: "a", Profile: proto.ProfileExtended}, transport.DatagramFunc(func([]byte) error { return nil }))
	if err != nil {
		t.Fatal(err)
	}
	if c.Profile() != proto.ProfileLegacy {
		t.Errorf("profile %s", c.Profile())
	}
}

func TestStopDropsEveryone(t *testing.T) {
	g := newFakeGame(16)
	obs := &fakeObserver{}
	h := newHarness(t, DefaultConfig(), g, WithObserver(obs))
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.srv.Stop()
	if h.conn.DropReason() != ReasonShutdown {
		t.Errorf("reason %q", h.conn.DropReason())
	}
	if len(obs.connected) != 1 || len(obs.dropped) != 1 {
		t.Errorf("observer saw %d connects %d drops", len(obs.connected), len(obs.dropped))
	}
}

func TestRemovalsDeferredWhenFrameFull(t *testing.T) {
	g := newFakeGame(600)
	for n := int32(300); n < 556; n++ {
		g.place(n, float32(n-300))
	}
	cfg := DefaultConfig()
	cfg.Profile = proto.ProfileExtended
	h := newHarness(t, cfg, g)
	req := defaultRequest(proto.ProfileExtended)
	req.Variant = transport.VariantLegacy
	h.connect(req, transport.LinkConfig{})
	h.run(40)
	h.checkInSync()
	if n := len(h.client.Client().Snapshot().Entities); n != 256 {
		t.Fatalf("client holds %d entities before the removal, want 256", n)
	}

	// every entity leaves at once while a large reliable block takes half
	// the packet
	for n := 300; n < 556; n++ {
		g.edicts[n].InUse = false
	}
	h.srv.SetConfigString(5, strings.Repeat("c", 680))
	h.step()
	h.checkInSync()
	if h.conn.Stats().RemovalsDeferred == 0 {
		t.Fatal("expected removals to be deferred")
	}
	if h.maxPacket > transport.MTU {
		t.Fatalf("sent a %d byte datagram", h.maxPacket)
	}
	left := len(h.client.Client().Snapshot().Entities)
	if left == 0 || left == 256 {
		t.Fatalf("client holds %d entities after a partial removal", left)
	}

	h.run(5)
	h.checkInSync()
	if n := len(h.client.Client().Snapshot().Entities); n != 0 {
		t.Errorf("client still holds %d entities", n)
	}
	if got := h.client.Client().ConfigString(5); len(got) != 680 {
		t.Errorf("configstring length %d", len(got))
	}
}

func TestLevelChangeRestartsSignon(t *testing.T) {
	g := newFakeGame(32)
	for _, n := range []int32{3, 7, 11} {
		g.place(n, float32(n*10))
	}
	h := newHarness(t, DefaultConfig(), g)
	h.connect(defaultRequest(proto.ProfileExtended), transport.LinkConfig{})
	h.run(10)
	h.checkInSync()
	dec := h.client.Client()
	if _, ok := dec.Baseline(7); !ok {
		t.Fatal("baseline 7 missing before the level change")
	}
	oldSpawn := dec.SpawnCount()

	g.edicts[7].InUse = false
	g.place(20, 200)
	g.begun[0] = false
	if err := h.srv.SpawnLevel("next"); err != nil {
		t.Fatalf("SpawnLevel: %v", err)
	}
	changed := h.srv.Tick()
	if h.conn.State() != StateConnected {
		t.Fatalf("state %v after level change", h.conn.State())
	}

	// a begin left over from the previous level is ignored
	h.conn.begin(oldSpawn)
	if h.conn.State() != StateConnected {
		t.Fatal("begin for the old level accepted")
	}

	h.run(30)
	if h.conn.State() != StateActive || !g.begun[0] {
		t.Fatalf("state %v begun %v after 30 ticks", h.conn.State(), g.begun[0])
	}
	if dec.Level() != "next" || dec.SpawnCount() == oldSpawn {
		t.Errorf("client level %q spawn %d", dec.Level(), dec.SpawnCount())
	}
	if _, ok := dec.Baseline(7); ok {
		t.Error("baseline from the previous level kept")
	}
	if _, ok := dec.Baseline(20); !ok {
		t.Error("baseline of the new level missing")
	}
	snap := dec.Snapshot()
	if snap.Frame <= changed {
		t.Fatalf("client frame %d, level changed at %d", snap.Frame, changed)
	}
	h.checkInSync()
	if got := numbers(snap.Entities); len(got) != 3 || got[0] != 3 || got[1] != 11 || got[2] != 20 {
		t.Errorf("entities %v, want [3 11 20]", got)
	}
}

func numbers(list []state.EntityState) []int32 {
	out := make([]int32, len(list))
	for i := range list {
		out[i] = list[i].Number
	}
	return out
}
