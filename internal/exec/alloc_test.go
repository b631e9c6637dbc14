package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-team/batsim-go/internal/machine"
)

func allocRegistry(t *testing.T) *machine.Registry {
	t.Helper()
	reg := machine.NewRegistry()
	require.NoError(t, reg.Add(machine.New(100, "master_host", machine.RoleMaster)))
	require.NoError(t, reg.Add(machine.New(0, "node0", machine.RoleComputeNode)))
	require.NoError(t, reg.Add(machine.New(1, "node1", machine.RoleComputeNode)))
	require.NoError(t, reg.Add(machine.New(50, "pfs", machine.RoleStorage)))
	require.NoError(t, reg.Finalize())
	return reg
}

func TestValidateAllocation_OK(t *testing.T) {
	reg := allocRegistry(t)
	err := ValidateAllocation(reg, Placement{Machines: []int{0, 1}}, 2, true, false, false)
	assert.NoError(t, err)
}

func TestValidateAllocation_SizeMismatchForRigidProfile(t *testing.T) {
	reg := allocRegistry(t)
	err := ValidateAllocation(reg, Placement{Machines: []int{0}}, 2, true, false, false)
	assert.Error(t, err)
}

func TestValidateAllocation_ExplicitMappingRelaxesSize(t *testing.T) {
	reg := allocRegistry(t)
	placement := Placement{
		Machines:       []int{0},
		ExecutorToHost: map[int]int{0: 0, 1: 0},
	}
	assert.NoError(t, ValidateAllocation(reg, placement, 2, true, false, false))
}

func TestValidateAllocation_NonRigidIgnoresSize(t *testing.T) {
	reg := allocRegistry(t)
	assert.NoError(t, ValidateAllocation(reg, Placement{Machines: []int{0}}, 2, false, false, false))
}

func TestValidateAllocation_RejectsMasterHost(t *testing.T) {
	reg := allocRegistry(t)
	err := ValidateAllocation(reg, Placement{Machines: []int{100}}, 1, true, false, false)
	assert.Error(t, err)
}

func TestValidateAllocation_SharingDisabledRejectsBusyHost(t *testing.T) {
	reg := allocRegistry(t)
	m, err := reg.Get(0)
	require.NoError(t, err)
	require.NoError(t, m.AddJob("w!other"))

	err = ValidateAllocation(reg, Placement{Machines: []int{0}}, 1, true, false, false)
	assert.Error(t, err)

	assert.NoError(t, ValidateAllocation(reg, Placement{Machines: []int{0}}, 1, true, true, false))
}

func TestValidateAllocation_RejectsNonComputePstate(t *testing.T) {
	reg := allocRegistry(t)
	m, err := reg.Get(1)
	require.NoError(t, err)
	m.State = machine.StateSleeping

	err = ValidateAllocation(reg, Placement{Machines: []int{1}}, 1, true, false, false)
	assert.Error(t, err)
}

func TestResolveStorageHost_ExplicitMappingWins(t *testing.T) {
	reg := allocRegistry(t)
	id, err := ResolveStorageHost(reg, Placement{StorageMapping: map[string]int{"pfs": 1}}, "pfs")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestResolveStorageHost_SingleStorageFallback(t *testing.T) {
	reg := allocRegistry(t)
	id, err := ResolveStorageHost(reg, Placement{}, "anything")
	require.NoError(t, err)
	assert.Equal(t, 50, id)
}

func TestResolveStorageHost_AmbiguousWithoutMapping(t *testing.T) {
	reg := allocRegistry(t)
	require.NoError(t, reg.Add(machine.New(51, "pfs2", machine.RoleStorage)))
	_, err := ResolveStorageHost(reg, Placement{}, "pfs")
	assert.Error(t, err)
}
