package sim

import (
	"math"
	"math/rand"

	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// angleMod wraps a yaw in degrees to [-180, 180).
func angleMod(a float32) float32 {
	for a >= 180 {
		a -= 360
	}
	for a < -180 {
		a += 360
	}
	return a
}

// turnToward rotates yaw toward target by at most step degrees.
func turnToward(yaw, target, step float32) float32 {
	diff := clamp(angleMod(target-yaw), -step, step)
	return angleMod(yaw + diff)
}

// yawTo returns the yaw in degrees pointing from a to b.
func yawTo(a, b state.Vec3) float32 {
	d := b.Sub(a)
	return float32(math.Atan2(float64(d[1]), float64(d[0])) * 180 / math.Pi)
}

// forward returns the unit vector for yaw.
func forward(yaw float32) state.Vec3 {
	r := float64(yaw) * math.Pi / 180
	return state.Vec3{float32(math.Cos(r)), float32(math.Sin(r)), 0}
}

func scale(v state.Vec3, s float32) state.Vec3 {
	return state.Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func length(v state.Vec3) float32 {
	return float32(math.Sqrt(float64(v.LengthSq())))
}

// randomPoint returns a point inside the playable part of the grid.
func randomPoint(rng *rand.Rand) state.Vec3 {
	span := float32(WorldMax-WorldMin) - 2*CellSize
	return state.Vec3{
		WorldMin + CellSize + rng.Float32()*span,
		WorldMin + CellSize + rng.Float32()*span,
		0,
	}
}
