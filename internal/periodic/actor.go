package periodic

import (
	"github.com/oar-team/batsim-go/internal/sim"
)

// msPerSecond converts the engine's millisecond period unit to the
// simulated-time seconds sim.Clock schedules in.
const msPerSecond = 1000.0

// OnFire is invoked once per elapsed slice with the fires due at that
// instant and the ids retired as a result, at the simulated `now` the
// slice boundary fell on. All entities due at the same slice share this
// single `now`.
type OnFire func(now float64, fires []Fire, retired []string)

// Actor drives Engine's schedule forward on clock, sleeping for the
// remaining duration of the current slice between fires. It re-evaluates
// the schedule lazily: Rearm is meant to be called again
// (by the caller, typically from OnFire) after every Add/Remove so a
// schedule rebuild mid-wait takes effect for the next slice boundary.
type Actor struct {
	engine *Engine
	clock  *sim.Clock
	onFire OnFire
	armed  bool
}

// NewActor creates a periodic-engine actor bound to engine and clock.
func NewActor(engine *Engine, clock *sim.Clock, onFire OnFire) *Actor {
	return &Actor{engine: engine, clock: clock, onFire: onFire}
}

// Rearm (re)schedules the next slice-boundary wake-up. Call it after every
// Engine.Add/Remove so a rebuilt schedule gets a wake-up; it is a no-op
// if the schedule is empty or a wake-up is already pending, in which case
// a rebuilt schedule's (possibly different) slice duration applies from
// the wake-up after the pending one.
func (a *Actor) Rearm() {
	if a.armed || a.engine.Empty() || a.engine.NbSlices() == 0 {
		return
	}
	a.armed = true
	a.clock.After(a.engine.SliceDuration()/msPerSecond, a.tick)
}

func (a *Actor) tick(now float64) {
	a.armed = false
	fires, retired := a.engine.Advance()
	for _, id := range retired {
		_ = a.engine.Remove(id)
	}
	if a.onFire != nil && len(fires) > 0 {
		a.onFire(now, fires, retired)
	}
	a.Rearm()
}
