// Package exec implements the job execution engine: it builds a BatTask
// tree from a job's profile and drives it to completion against a
// walltime budget, reporting progress when a kill interrupts it.
package exec

// Platform is the capability surface the external simulation engine must
// provide so this core can drive ptask execution without owning any
// flop/bandwidth physics itself.
type Platform interface {
	// ComputeDuration returns how long, in simulated seconds, a parallel
	// task with computation vector cpu and communication matrix com takes
	// to run on hosts. ParallelTask and HomogeneousParallel leaves pass
	// len(cpu) == len(hosts) and len(com) == len(hosts)^2; HomogeneousPfs
	// and DataStaging leaves pass a nil cpu and a single-element com
	// holding the total bytes moved.
	ComputeDuration(hosts []int, cpu, com []float64) float64
	// AccountFlop advances hosts' energy counters for a single-flop
	// accounting step, used by the pstate switcher's virtual-pstate phase.
	AccountFlop(hosts []int) float64
	// EnergyWatts returns each host's present power draw, read by Probe
	// sampling and AnswerEnergy.
	EnergyWatts(hosts []int) map[int]float64
}

// ReferencePlatform is a minimal, deterministic Platform good enough to
// drive the orchestration core end-to-end without a real physical
// simulator attached (e.g. in tests, or a dry-run mode): duration is the
// largest per-host computation requirement divided by a fixed per-host
// speed or the largest single communication amount divided by a fixed
// network speed, whichever is longer. It deliberately does not model
// contention, topology, or bandwidth sharing — those belong to the actual
// platform simulator this interface stands in for.
type ReferencePlatform struct {
	// FlopsPerSecond is every host's compute speed.
	FlopsPerSecond float64
	// BytesPerSecond is every host's network speed, used to convert a
	// communication amount into elapsed seconds.
	BytesPerSecond float64
	// EnergyWatts reports WattsIdle for every host; WattsComputing is not
	// read by any method.
	WattsIdle      float64
	WattsComputing float64

	flopAccounted map[int]float64
}

// NewReferencePlatform returns a ReferencePlatform with generic defaults.
func NewReferencePlatform() *ReferencePlatform {
	return &ReferencePlatform{
		FlopsPerSecond: 1e9,
		BytesPerSecond: 1e9,
		WattsIdle:      10,
		WattsComputing: 200,
		flopAccounted:  make(map[int]float64),
	}
}

func (p *ReferencePlatform) ComputeDuration(hosts []int, cpu, com []float64) float64 {
	var maxCompute, maxCom float64
	for _, v := range cpu {
		if v > maxCompute {
			maxCompute = v
		}
	}
	for _, v := range com {
		if v > maxCom {
			maxCom = v
		}
	}
	computeTime := maxCompute / p.FlopsPerSecond
	comTime := maxCom / p.BytesPerSecond
	if computeTime > comTime {
		return computeTime
	}
	return comTime
}

func (p *ReferencePlatform) AccountFlop(hosts []int) float64 {
	const oneFlopDuration = 1e-9
	if p.flopAccounted == nil {
		p.flopAccounted = make(map[int]float64)
	}
	for _, h := range hosts {
		p.flopAccounted[h]++
	}
	return oneFlopDuration
}

func (p *ReferencePlatform) EnergyWatts(hosts []int) map[int]float64 {
	out := make(map[int]float64, len(hosts))
	for _, h := range hosts {
		out[h] = p.WattsIdle
	}
	return out
}
