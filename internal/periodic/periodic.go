// Package periodic implements the unified CallMeLater/Probe scheduler: a
// single time-sliced static schedule covering both periodic kinds,
// rebuilt whenever an entity is added or removed.
package periodic

import (
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// Kind distinguishes the two periodic entity flavors sharing one schedule.
type Kind string

const (
	KindCallMeLater Kind = "call_me_later"
	KindProbe       Kind = "probe"
)

// Aggregation selects how a Probe's per-resource samples are combined.
type Aggregation string

const (
	AggregationNone Aggregation = "none"
	AggregationSum  Aggregation = "sum"
	AggregationMean Aggregation = "mean"
)

// ProbeSpec is a Probe entity's sampling configuration.
type ProbeSpec struct {
	Metric      string // e.g. "power"
	Resources   []int
	Aggregation Aggregation
}

// Entity is one CallMeLater or Probe registered with the engine.
type Entity struct {
	ID              string
	PeriodMs        float64
	OffsetMs        float64 // must be zero; non-zero offsets are rejected
	Kind            Kind
	Infinite        bool
	RemainingPeriods int // meaningful only when !Infinite

	Probe *ProbeSpec // set iff Kind == KindProbe
}

// Fire is one entity's contribution at a single schedule slice.
type Fire struct {
	Entity Entity
	IsLast bool // true iff this fire exhausts RemainingPeriods
}

// Engine owns the live set of periodic entities and the static schedule
// derived from their periods.
type Engine struct {
	entities map[string]*Entity
	schedule []slice
	sliceMs  float64
	cursor   int
}

type slice struct {
	entityIDs []string
}

// NewEngine creates an empty periodic engine (no active entities, no
// schedule).
func NewEngine() *Engine {
	return &Engine{entities: make(map[string]*Entity)}
}

// Add registers or replaces entity e and rebuilds the schedule.
func (eng *Engine) Add(e Entity) error {
	if e.OffsetMs != 0 {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeNonMultiplePeriods,
			e.ID, "periodic entity %q: offsets must be zero in this core", e.ID)
	}
	if e.PeriodMs <= 0 {
		return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"periodic entity %q: period must be > 0", e.ID)
	}
	cp := e
	eng.entities[e.ID] = &cp
	return eng.rebuild()
}

// Remove retires entity id (idempotent) and rebuilds the schedule.
func (eng *Engine) Remove(id string) error {
	delete(eng.entities, id)
	return eng.rebuild()
}

// Has reports whether id is currently registered.
func (eng *Engine) Has(id string) bool {
	_, ok := eng.entities[id]
	return ok
}

// Get returns the entity registered under id, if any.
func (eng *Engine) Get(id string) (Entity, bool) {
	e, ok := eng.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// SliceDuration returns the rebuilt schedule's per-slice duration in
// milliseconds (the gcd of every active period).
func (eng *Engine) SliceDuration() float64 {
	return eng.sliceMs
}

// NbSlices returns the rebuilt schedule's slice count (lcm/gcd of the
// active periods).
func (eng *Engine) NbSlices() int {
	return len(eng.schedule)
}

// Empty reports whether no periodic entity is currently registered.
func (eng *Engine) Empty() bool {
	return len(eng.entities) == 0
}

// NbFinite counts registered entities with a bounded number of remaining
// fires. They behave like waiters: the simulation must not end before
// they have fired their last period.
func (eng *Engine) NbFinite() int {
	n := 0
	for _, e := range eng.entities {
		if !e.Infinite {
			n++
		}
	}
	return n
}

// rebuild recomputes the static slice schedule from the current entity
// set: normalize periods to a common slice
// duration (their gcd) and slice count (their lcm / gcd), then assign each
// entity to every slice index that is a multiple of its own period.
func (eng *Engine) rebuild() error {
	eng.cursor = 0
	eng.schedule = nil
	eng.sliceMs = 0
	if len(eng.entities) == 0 {
		return nil
	}

	periods := make([]int64, 0, len(eng.entities))
	for _, e := range eng.entities {
		periods = append(periods, int64(e.PeriodMs))
	}

	if err := checkMultiplicity(eng.entities); err != nil {
		return err
	}

	sliceDuration := periods[0]
	for _, p := range periods[1:] {
		sliceDuration = gcd(sliceDuration, p)
	}
	lcmAll := periods[0]
	for _, p := range periods[1:] {
		lcmAll = lcm(lcmAll, p)
	}
	nbSlices := int(lcmAll / sliceDuration)

	schedule := make([]slice, nbSlices)
	for k := 0; k < nbSlices; k++ {
		at := int64(k) * sliceDuration
		var ids []string
		for id, e := range eng.entities {
			if at%int64(e.PeriodMs) == 0 {
				ids = append(ids, id)
			}
		}
		schedule[k] = slice{entityIDs: ids}
	}

	eng.sliceMs = float64(sliceDuration)
	eng.schedule = schedule
	return nil
}

// checkMultiplicity enforces the pairwise period-multiple invariant,
// naming every offending pair in the diagnostic.
func checkMultiplicity(entities map[string]*Entity) error {
	type named struct {
		id     string
		period int64
	}
	all := make([]named, 0, len(entities))
	for id, e := range entities {
		all = append(all, named{id: id, period: int64(e.PeriodMs)})
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			lo, hi := all[i], all[j]
			if lo.period > hi.period {
				lo, hi = hi, lo
			}
			if lo.period == 0 || hi.period%lo.period != 0 {
				return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeNonMultiplePeriods,
					lo.id+","+hi.id,
					"periodic entities %q (period %dms) and %q (period %dms) are not in a multiple relationship",
					lo.id, lo.period, hi.id, hi.period)
			}
		}
	}
	return nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}

// Advance moves the schedule cursor forward one slice (wrapping), applies
// finite-period bookkeeping, and returns the fires due at the slice just
// left behind plus the ids of any entity retired by reaching zero
// remaining periods. The caller is responsible for actually removing
// retired entities via Remove; Actor.tick does so before handing them to
// its OnFire callback.
func (eng *Engine) Advance() (fires []Fire, retired []string) {
	if len(eng.schedule) == 0 {
		return nil, nil
	}
	s := eng.schedule[eng.cursor]
	eng.cursor = (eng.cursor + 1) % len(eng.schedule)

	for _, id := range s.entityIDs {
		e, ok := eng.entities[id]
		if !ok {
			continue
		}
		isLast := false
		if !e.Infinite {
			e.RemainingPeriods--
			isLast = e.RemainingPeriods <= 0
		}
		fires = append(fires, Fire{Entity: *e, IsLast: isLast})
		if isLast {
			retired = append(retired, id)
		}
	}
	return fires, retired
}
