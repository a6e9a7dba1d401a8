package selector

import (
	"testing"

	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// fakeOracle treats every point with x < wall as visible and areas as
// connected unless listed in closed. PHS reaches twice as far.
type fakeOracle struct {
	wall   float32
	closed map[int]bool
}

func (o *fakeOracle) AreaConnected(a, b int) bool { return !o.closed[b] }
func (o *fakeOracle) InPVS(view, p state.Vec3) bool { return p[0] < o.wall }
func (o *fakeOracle) InPHS(view, p state.Vec3) bool { return p[0] < 2*o.wall }

func edict(x float32, model int32) state.Edict {
	return state.Edict{
		InUse: true,
		Area:  1,
		State: state.EntityState{Origin: state.Vec3{x, 0, 0}, ModelIndex: [4]int32{model}},
	}
}

func numbers(list []Candidate) []int32 {
	out := make([]int32, len(list))
	for i := range list {
		out[i] = list[i].Number()
	}
	return out
}

func equal(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilterOrder(t *testing.T) {
	o := &fakeOracle{wall: 1000, closed: map[int]bool{9: true}}
	edicts := make([]state.Edict, 12)
	edicts[1] = edict(0, 1) // viewer
	edicts[2] = edict(100, 1)
	edicts[3] = edict(100, 1)
	edicts[3].InUse = false
	edicts[4] = edict(100, 1)
	edicts[4].SVFlags = state.SVFNoClient
	edicts[5] = edict(1500, 1) // outside PVS
	edicts[6] = edict(1500, 0)
	edicts[6].State.Sound = 3 // audible through PHS
	edicts[7] = edict(100, 0) // nothing to render, close
	edicts[8] = edict(900, 0) // nothing to render, far
	edicts[9] = edict(100, 1)
	edicts[9].Area = 9 // closed area
	edicts[10] = edict(100, 1)
	edicts[10].Area = 9
	edicts[10].SVFlags = state.SVFNoCull
	edicts[11] = edict(100, 1)
	edicts[11].Area = 9
	edicts[11].Area2 = 2 // straddles an open portal

	s := New(o, nil, 64)
	list, dropped := s.Select(Viewer{Number: 1, Area: 1}, edicts)
	want := []int32{1, 2, 6, 7, 10, 11}
	if got := numbers(list); !equal(got, want) || dropped != 0 {
		t.Errorf("selected %v dropped %d, want %v", got, dropped, want)
	}
}

func TestViewerAlwaysIncluded(t *testing.T) {
	o := &fakeOracle{wall: -1}
	edicts := make([]state.Edict, 3)
	edicts[1] = edict(50, 0)
	edicts[2] = edict(50, 1)
	list, _ := New(o, nil, 64).Select(Viewer{Number: 1}, edicts)
	if got := numbers(list); !equal(got, []int32{1}) {
		t.Errorf("selected %v, want only the viewer", got)
	}
}

type hideOdd struct{}

func (hideOdd) Customize(viewer int32, e *state.Edict, s *state.EntityState) bool {
	if s.Number%2 == 1 {
		return false
	}
	s.Skin = 99
	return true
}

func TestCustomizeWorksOnCopy(t *testing.T) {
	o := &fakeOracle{wall: 1000}
	edicts := make([]state.Edict, 5)
	for i := 1; i < 5; i++ {
		edicts[i] = edict(10, 1)
	}
	list, _ := New(o, hideOdd{}, 64).Select(Viewer{}, edicts)
	if got := numbers(list); !equal(got, []int32{2, 4}) {
		t.Fatalf("selected %v", got)
	}
	if list[0].State.Skin != 99 {
		t.Error("customized state not sent")
	}
	if edicts[2].State.Skin != 0 {
		t.Error("customize leaked into the arena")
	}
}

func TestOverflowKeepsPriorityThenNumberOrder(t *testing.T) {
	o := &fakeOracle{wall: 1e6}
	edicts := make([]state.Edict, 10)
	for i := 1; i < 10; i++ {
		edicts[i] = edict(float32(1000-i*10), 1)
	}
	// 9 and 2 are high, 1 and 8 are low, the rest default.
	edicts[9].Client = true
	edicts[2].SVFlags = state.SVFMonster
	edicts[1].SVFlags = state.SVFDeadMonster
	edicts[8].State.Effects = state.EffectGib

	s := New(o, nil, 4)
	list, dropped := s.Select(Viewer{Origin: state.Vec3{0, 0, 0}}, edicts)
	if dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
	// high: 9, 2; default by distance: 7 (930), 6 (940), ...
	want := []int32{2, 6, 7, 9}
	if got := numbers(list); !equal(got, want) {
		t.Errorf("kept %v, want %v", got, want)
	}
}

func TestTieBreakIsEntityNumber(t *testing.T) {
	o := &fakeOracle{wall: 1e6}
	edicts := make([]state.Edict, 8)
	for i := 1; i < 8; i++ {
		edicts[i] = edict(500, 1)
	}
	for run := 0; run < 5; run++ {
		list, _ := New(o, nil, 3).Select(Viewer{}, edicts)
		if got := numbers(list); !equal(got, []int32{1, 2, 3}) {
			t.Fatalf("run %d kept %v", run, got)
		}
	}
}

func TestRanks(t *testing.T) {
	list := []Candidate{
		{State: state.EntityState{Number: 1}, Class: PriorityLow},
		{State: state.EntityState{Number: 2}, Class: PriorityHigh, DistSq: 50},
		{State: state.EntityState{Number: 3}, Class: PriorityHigh, DistSq: 10},
	}
	r := Ranks(list)
	if r[0] != 2 || r[1] != 1 || r[2] != 0 {
		t.Errorf("ranks = %v", r)
	}
	if list[0].Number() != 1 {
		t.Error("Ranks reordered its input")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		e    state.Edict
		want Priority
	}{
		{state.Edict{Client: true}, PriorityHigh},
		{state.Edict{Solid: state.SolidBSP}, PriorityHigh},
		{state.Edict{State: state.EntityState{ModelIndex: [4]int32{3}}}, PriorityDefault},
		{state.Edict{State: state.EntityState{Effects: state.EffectRocket}}, PriorityDefault},
		{state.Edict{}, PriorityLow},
		{state.Edict{SVFlags: state.SVFDeadMonster, State: state.EntityState{ModelIndex: [4]int32{3}}}, PriorityLow},
	}
	for i, c := range cases {
		if got := Classify(&c.e, &c.e.State); got != c.want {
			t.Errorf("case %d: %s, want %s", i, got, c.want)
		}
	}
}
