// Package workload implements loading and registration of job workloads:
// the static workload files named on the command line, plus workloads and
// profiles registered dynamically by the EDC at runtime.
package workload

import (
	"encoding/json"
	"fmt"

	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/profile"
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// Kind distinguishes a workload loaded from a file at startup from one
// registered dynamically by the EDC mid-run.
type Kind string

const (
	KindStatic  Kind = "static"
	KindDynamic Kind = "dynamic"
)

// Workload groups the jobs and profiles that share a namespace.
type Workload struct {
	Name    ids.WorkloadName
	Kind    Kind
	NbRes   int // nb_res declared by a static workload file, 0 for dynamic
	Profiles map[ids.ProfileName]*profile.Profile

	// tombstoned records profile names that "previously existed" but were
	// released once their refcount reached zero, so a later reference to
	// them fails loudly instead of looking like a fresh unknown profile.
	tombstoned map[ids.ProfileName]bool
	refcount   map[ids.ProfileName]int
}

// NewStatic creates a workload loaded from a file.
func NewStatic(name ids.WorkloadName, nbRes int) *Workload {
	return newWorkload(name, KindStatic, nbRes)
}

// NewDynamic creates a workload registered at runtime by the EDC.
func NewDynamic(name ids.WorkloadName) *Workload {
	return newWorkload(name, KindDynamic, 0)
}

func newWorkload(name ids.WorkloadName, kind Kind, nbRes int) *Workload {
	return &Workload{
		Name:       name,
		Kind:       kind,
		NbRes:      nbRes,
		Profiles:   make(map[ids.ProfileName]*profile.Profile),
		tombstoned: make(map[ids.ProfileName]bool),
		refcount:   make(map[ids.ProfileName]int),
	}
}

// RegisterProfile adds p to the workload's namespace, rejecting re-use of a
// tombstoned name and a duplicate live name.
func (w *Workload) RegisterProfile(name ids.ProfileName, p *profile.Profile) error {
	if w.tombstoned[name] {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeDuplicateJobID,
			fmt.Sprintf("workload=%s profile=%s", w.Name, name),
			"profile %q in workload %q previously existed and cannot be redefined", name, w.Name)
	}
	if _, exists := w.Profiles[name]; exists {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeDuplicateJobID,
			fmt.Sprintf("workload=%s profile=%s", w.Name, name),
			"profile %q already registered in workload %q", name, w.Name)
	}
	w.Profiles[name] = p
	return nil
}

// Lookup returns the live profile registered under name without touching
// its refcount, for execution-time resolution of a job's already-counted
// profile reference.
func (w *Workload) Lookup(name ids.ProfileName) (*profile.Profile, error) {
	p, ok := w.Profiles[name]
	if !ok {
		return nil, batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeUnknownJobID,
			fmt.Sprintf("workload=%s profile=%s", w.Name, name),
			"unknown profile %q in workload %q", name, w.Name)
	}
	return p, nil
}

// ResolveProfile looks up a profile by name, incrementing its refcount.
func (w *Workload) ResolveProfile(name ids.ProfileName) (*profile.Profile, error) {
	p, ok := w.Profiles[name]
	if !ok {
		return nil, batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeUnknownJobID,
			fmt.Sprintf("workload=%s profile=%s", w.Name, name),
			"unknown profile %q in workload %q", name, w.Name)
	}
	w.refcount[name]++
	return p, nil
}

// ReleaseProfile decrements a profile's refcount, tombstoning it once it
// reaches zero so any future reference is diagnosed precisely.
func (w *Workload) ReleaseProfile(name ids.ProfileName) {
	w.refcount[name]--
	if w.refcount[name] <= 0 {
		delete(w.Profiles, name)
		delete(w.refcount, name)
		w.tombstoned[name] = true
	}
}

// fileJob mirrors one entry of a workload file's "jobs" array.
type fileJob struct {
	ID             string  `json:"id"`
	Subtime        float64 `json:"subtime"`
	Walltime       float64 `json:"walltime"`
	Res            int     `json:"res"`
	Profile        string  `json:"profile"`
}

// fileDescription mirrors a workload JSON file's top-level shape:
// {"nb_res": N, "jobs": [...], "profiles": {...}}.
type fileDescription struct {
	NbRes    int                        `json:"nb_res"`
	Jobs     []fileJob                  `json:"jobs"`
	Profiles map[string]json.RawMessage `json:"profiles"`
}

// LoadFile parses a workload JSON file's bytes into a Workload plus the
// Jobs it declares (jobs are returned separately since they belong to the
// job registry, not the workload itself).
func LoadFile(name ids.WorkloadName, data []byte) (*Workload, []*job.Job, error) {
	var fd fileDescription
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"workload %q: invalid JSON: %v", name, err)
	}
	if fd.NbRes <= 0 {
		return nil, nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"workload %q: nb_res must be > 0", name)
	}

	w := NewStatic(name, fd.NbRes)
	for profileName, raw := range fd.Profiles {
		p, err := profile.FromJSON(profileName, raw)
		if err != nil {
			return nil, nil, err
		}
		if err := w.RegisterProfile(ids.ProfileName(profileName), p); err != nil {
			return nil, nil, err
		}
	}

	jobs := make([]*job.Job, 0, len(fd.Jobs))
	for _, fj := range fileJobsSorted(fd.Jobs) {
		if _, err := w.ResolveProfile(ids.ProfileName(fj.Profile)); err != nil {
			return nil, nil, err
		}
		jobID, err := ids.NewJobID(name, ids.JobName(fj.ID))
		if err != nil {
			return nil, nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
				"workload %q: %v", name, err)
		}
		walltime := fj.Walltime
		if walltime == 0 {
			walltime = -1
		}
		j, err := job.New(jobID, fj.Profile, fj.Subtime, walltime, fj.Res)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, j)
	}

	return w, jobs, nil
}

func fileJobsSorted(jobs []fileJob) []fileJob {
	return jobs
}

// Registry owns every Workload in the simulation, static and dynamic.
type Registry struct {
	workloads map[ids.WorkloadName]*Workload
}

// NewRegistry creates an empty workload registry.
func NewRegistry() *Registry {
	return &Registry{workloads: make(map[ids.WorkloadName]*Workload)}
}

// Add registers w, rejecting a duplicate name.
func (r *Registry) Add(w *Workload) error {
	if _, exists := r.workloads[w.Name]; exists {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeDuplicateJobID,
			fmt.Sprintf("workload=%s", w.Name), "workload %q already registered", w.Name)
	}
	r.workloads[w.Name] = w
	return nil
}

// Get looks up a workload by name.
func (r *Registry) Get(name ids.WorkloadName) (*Workload, error) {
	w, ok := r.workloads[name]
	if !ok {
		return nil, batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeUnknownJobID,
			fmt.Sprintf("workload=%s", name), "unknown workload %q", name)
	}
	return w, nil
}

// All returns every registered workload.
func (r *Registry) All() []*Workload {
	out := make([]*Workload, 0, len(r.workloads))
	for _, w := range r.workloads {
		out = append(out, w)
	}
	return out
}

// TotalNbRes sums nb_res across every static workload, used to validate
// platform size against --mmax-workload.
func (r *Registry) TotalNbRes() int {
	total := 0
	for _, w := range r.workloads {
		total += w.NbRes
	}
	return total
}
