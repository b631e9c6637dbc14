package exec

import (
	"github.com/oar-team/batsim-go/internal/machine"
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// Placement is the allocation a job runs under: the
// machine ids a job runs on, plus the optional executor->host and
// storage-label->host mappings an EDC may supply alongside ExecuteJob.
type Placement struct {
	Machines       []int
	ExecutorToHost map[int]int
	StorageMapping map[string]int
}

// ValidateAllocation enforces the placement checks that must hold before a
// job may be executed: sharing rules, pstate eligibility, and (for rigid
// profiles) allocation-size agreement with the job's requested_nb_res.
func ValidateAllocation(machines *machine.Registry, placement Placement, requestedNbRes int, rigid bool, sharingComputeEnabled, sharingStorageEnabled bool) error {
	for _, id := range placement.Machines {
		m, err := machines.Get(id)
		if err != nil {
			return err
		}
		if !m.IsAllocatable() {
			return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeNonComputeAlloc,
				machineIDsString(placement.Machines), "machine %d (role %s) is not allocatable", id, m.Role)
		}
		switch m.State {
		case machine.StateIdle, machine.StateComputing:
		default:
			return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
				machineIDsString(placement.Machines), "machine %d is in a non-compute pstate (state=%s)", id, m.State)
		}
		if !sharingComputeEnabled && m.Role == machine.RoleComputeNode && m.NbJobsBeingComputed() > 0 {
			return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeSharingViolation,
				machineIDsString(placement.Machines), "machine %d already hosts a job and compute sharing is disabled", id)
		}
		if !sharingStorageEnabled && m.Role == machine.RoleStorage && m.NbJobsBeingComputed() > 0 {
			return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeSharingViolation,
				machineIDsString(placement.Machines), "storage machine %d already hosts a job and storage sharing is disabled", id)
		}
	}

	if rigid {
		explicitMapping := len(placement.ExecutorToHost) > 0
		if explicitMapping {
			if len(placement.ExecutorToHost) != requestedNbRes {
				return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeNonComputeAlloc,
					machineIDsString(placement.Machines),
					"executor_to_host mapping has %d entries, expected requested_nb_res=%d", len(placement.ExecutorToHost), requestedNbRes)
			}
		} else if len(placement.Machines) != requestedNbRes {
			return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeNonComputeAlloc,
				machineIDsString(placement.Machines),
				"allocation size %d does not match requested_nb_res=%d", len(placement.Machines), requestedNbRes)
		}
	}
	return nil
}

func machineIDsString(ids []int) string {
	s := machine.NewAllocationSet(ids)
	return machine.HyphenRanges(s.Sorted())
}

// ResolveStorageHost picks the machine a HomogeneousPfs/DataStaging label
// resolves to: the explicit StorageMapping entry if present, else the
// platform's single storage host when no mapping was given.
func ResolveStorageHost(machines *machine.Registry, placement Placement, label string) (int, error) {
	if id, ok := placement.StorageMapping[label]; ok {
		return id, nil
	}
	storages := storageHosts(machines)
	if len(storages) == 1 {
		return storages[0], nil
	}
	return 0, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedProfile,
		"storage label %q has no explicit mapping and the platform does not have exactly one storage host (%d found)", label, len(storages))
}

func storageHosts(machines *machine.Registry) []int {
	var out []int
	for _, m := range machines.All() {
		if m.Role == machine.RoleStorage {
			out = append(out, m.ID)
		}
	}
	return out
}
