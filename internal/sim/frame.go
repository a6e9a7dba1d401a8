package sim

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

// RunFrame advances the world one tick.
func (w *World) RunFrame() {
	dt := float32(1) / float32(w.cfg.TickRate)
	w.tick++
	for i := range w.edicts {
		w.edicts[i].State.Event = state.EventNone
	}

	w.grid.Clear()
	for i := range w.edicts {
		k := w.bodies[i].kind
		if w.edicts[i].InUse && (k == kindPlayer || k == kindBot) && !w.bodies[i].dead {
			w.grid.Insert(w.edicts[i].State.Origin, int32(i))
		}
	}

	if w.cfg.DoorPeriod > 0 && w.tick%w.cfg.DoorPeriod == 0 {
		w.toggleDoors()
	}

	for i := range w.edicts {
		if !w.edicts[i].InUse {
			continue
		}
		n := int32(i)
		switch w.bodies[i].kind {
		case kindPlayer:
			w.updatePlayer(n, dt)
		case kindBot:
			w.updateBot(n, dt)
		case kindRocket:
			w.updateRocket(n, dt)
		}
	}
}

func (w *World) toggleDoors() {
	for i := range w.edicts {
		b := &w.bodies[i]
		if b.kind != kindDoor {
			continue
		}
		e := &w.edicts[i]
		open := !w.grid.PortalOpen(b.areaA, b.areaB)
		if err := w.grid.SetPortal(b.areaA, b.areaB, open); err != nil {
			w.log.Warn("door portal", "door", i, "err", err)
			continue
		}
		if open {
			e.State.Frame = 0
		} else {
			e.State.Frame = 1
		}
		w.sounds = append(w.sounds, state.SoundEvent{
			Entity:  int32(i),
			Channel: 2,
			Index:   SoundDoor,
			Volume:  255,
		})
	}
}

// steer applies the acceleration, friction and speed cap shared by bots and
// players.
func (w *World) steer(n int32, dt float32) {
	b := &w.bodies[n]
	e := &w.edicts[n]
	b.yaw = turnToward(b.yaw, b.targetYaw, BotTurnSpeed*dt)
	b.vel = b.vel.Add(scale(forward(b.yaw), BotAccel*dt))
	b.vel = scale(b.vel, BotFriction)
	if speed := length(b.vel); speed > BotMaxSpeed {
		b.vel = scale(b.vel, BotMaxSpeed/speed)
	}
	o := e.State.Origin.Add(scale(b.vel, dt))
	// bounce off the map edge
	for i := 0; i < 2; i++ {
		if o[i] < WorldMin+CellSize/2 || o[i] > WorldMax-CellSize/2 {
			b.vel[i] = -b.vel[i]
			b.targetYaw = angleMod(b.targetYaw + 180)
			o[i] = clamp(o[i], WorldMin+CellSize/2, WorldMax-CellSize/2)
		}
	}
	e.State.Origin = o
	e.State.Angles[1] = b.yaw
	if w.tick%footstepEvery == int(n)%footstepEvery && length(b.vel) > BotMaxSpeed/2 {
		e.State.Event = state.EventFootstep
	}
	e.State.Frame = int32(w.tick % 40)
}

func (w *World) wander(n int32, dt float32) {
	b := &w.bodies[n]
	b.targetYaw = angleMod(b.targetYaw + (w.rng.Float32()*2-1)*BotWander*dt)
}

// updatePlayer moves the player on autopilot; the sync layer carries no
// movement commands.
func (w *World) updatePlayer(n int32, dt float32) {
	b := &w.bodies[n]
	if b.dead {
		b.life -= dt
		if b.life <= 0 {
			b.dead = false
			b.hp = PlayerMaxHP
			w.edicts[n].State.Origin = randomPoint(w.rng)
			w.edicts[n].State.Event = state.EventPlayerTeleport
		}
		w.link(n)
		return
	}
	w.wander(n, dt)
	w.steer(n, dt)
	w.link(n)
}

func (w *World) updateBot(n int32, dt float32) {
	b := &w.bodies[n]
	e := &w.edicts[n]
	if b.dead {
		b.life -= dt
		if b.life > 0 {
			return
		}
		b.dead = false
		b.hp = BotMaxHP
		e.SVFlags = state.SVFMonster
		e.State.Effects &^= state.EffectGib
		e.State.Origin = randomPoint(w.rng)
		e.State.ModelIndex[0] = ModelBot
		e.State.Event = state.EventOtherTeleport
		w.link(n)
		return
	}

	b.fireCD -= dt
	target, ok := w.nearestPlayer(e.State.Origin)
	if ok {
		b.targetYaw = yawTo(e.State.Origin, w.edicts[target].State.Origin)
		if b.fireCD <= 0 && angleMod(b.targetYaw-b.yaw) < 15 && angleMod(b.targetYaw-b.yaw) > -15 {
			w.fire(n)
			b.fireCD = BotFireCD
		}
	} else {
		w.wander(n, dt)
	}
	w.steer(n, dt)
	w.link(n)
}

func (w *World) nearestPlayer(from state.Vec3) (int32, bool) {
	best, bestD := int32(0), float32(BotFireRange*BotFireRange)
	for i := 1; i <= len(w.players); i++ {
		e := &w.edicts[i]
		if !e.InUse || !e.Client || w.bodies[i].dead {
			continue
		}
		if d := state.DistanceSq(from, e.State.Origin); d < bestD {
			best, bestD = int32(i), d
		}
	}
	return best, best != 0
}

func (w *World) fire(owner int32) {
	n := w.alloc(kindRocket)
	if n < 0 {
		return
	}
	ob := &w.bodies[owner]
	oe := &w.edicts[owner]
	dir := forward(ob.yaw)
	b := &w.bodies[n]
	b.yaw = ob.yaw
	b.vel = scale(dir, RocketSpeed).Add(scale(ob.vel, 0.3))
	b.life = RocketLife
	e := &w.edicts[n]
	e.Owner = state.EntityID(owner)
	e.State.Origin = oe.State.Origin.Add(scale(dir, RocketOffset))
	e.State.OldOrigin = e.State.Origin
	e.State.Angles[1] = ob.yaw
	e.State.ModelIndex[0] = ModelRocket
	e.State.Effects = state.EffectRocket
	e.State.RenderFx = state.RenderFullbright
	if !w.legacy {
		e.State.Effects |= state.EffectDualFire
	}
	w.link(n)
	w.sounds = append(w.sounds, state.SoundEvent{Entity: owner, Channel: 1, Index: SoundFire, Volume: 255})
}

func (w *World) updateRocket(n int32, dt float32) {
	b := &w.bodies[n]
	e := &w.edicts[n]
	e.State.OldOrigin = e.State.Origin
	e.State.Origin = e.State.Origin.Add(scale(b.vel, dt))
	b.life -= dt

	out := e.State.Origin[0] < WorldMin || e.State.Origin[0] >= WorldMax ||
		e.State.Origin[1] < WorldMin || e.State.Origin[1] >= WorldMax
	if out || b.life <= 0 {
		w.explode(n)
		return
	}

	w.near = w.grid.QueryBuf(e.State.Origin, RocketRadius, w.near[:0])
	for _, t := range w.near {
		if state.EntityID(t) == e.Owner || w.bodies[t].dead {
			continue
		}
		if state.DistanceSq(e.State.Origin, w.edicts[t].State.Origin) > RocketRadius*RocketRadius {
			continue
		}
		w.damage(t, e.Owner, RocketDamage)
		w.temps = append(w.temps, state.TempEvent{Kind: state.TempBlood, Origin: e.State.Origin})
		w.explode(n)
		return
	}
	w.link(n)
}

func (w *World) explode(n int32) {
	origin := w.edicts[n].State.Origin
	w.temps = append(w.temps, state.TempEvent{Kind: state.TempExplosion, Origin: origin})
	w.sounds = append(w.sounds, state.SoundEvent{Index: SoundExplode, Volume: 255, Positioned: true, Origin: origin})
	w.free(n)
}

func (w *World) damage(target int32, attacker state.EntityID, amount int) {
	b := &w.bodies[target]
	b.hp -= amount
	if b.hp > 0 {
		return
	}
	b.dead = true
	b.vel = state.Vec3{}
	if a := int32(attacker); a > 0 && int(a) < len(w.bodies) {
		w.bodies[a].score++
	}
	e := &w.edicts[target]
	switch b.kind {
	case kindBot:
		b.life = BotRespawn
		e.SVFlags = state.SVFDeadMonster
		e.State.Effects |= state.EffectGib
	case kindPlayer:
		b.life = BotRespawn
	}
	w.link(target)
}
