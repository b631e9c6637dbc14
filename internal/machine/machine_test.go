package machine

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New(0, "node0", RoleComputeNode)
	assert.Equal(t, StateIdle, m.State)
	assert.True(t, m.IsAllocatable())
}

func TestAddRemoveJob(t *testing.T) {
	m := New(0, "node0", RoleComputeNode)
	require.NoError(t, m.AddJob("wl!j1"))
	assert.Equal(t, StateComputing, m.State)
	assert.Equal(t, []string{"wl!j1"}, m.JobsBeingComputedSorted())

	require.NoError(t, m.AddJob("wl!j2"))
	assert.Equal(t, []string{"wl!j1", "wl!j2"}, m.JobsBeingComputedSorted())

	m.RemoveJob("wl!j1")
	assert.Equal(t, StateComputing, m.State)
	m.RemoveJob("wl!j2")
	assert.Equal(t, StateIdle, m.State)
}

func TestAddJob_RejectsNonComputeRole(t *testing.T) {
	m := New(0, "master", RoleMaster)
	err := m.AddJob("wl!j1")
	assert.Error(t, err)
}

func TestAddJob_RejectsWhileSleeping(t *testing.T) {
	m := New(0, "node0", RoleComputeNode)
	m.State = StateSleeping
	err := m.AddJob("wl!j1")
	assert.Error(t, err)
}

func TestRegistry_SingleMaster(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(New(0, "master", RoleMaster)))
	require.NoError(t, r.Add(New(1, "node0", RoleComputeNode)))
	require.NoError(t, r.Finalize())

	err := r.Add(New(2, "master2", RoleMaster))
	assert.Error(t, err)
}

func TestRegistry_MissingMaster(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(New(0, "node0", RoleComputeNode)))
	assert.Error(t, r.Finalize())
}

func TestRegistry_GetAllComputeNodes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(New(0, "master", RoleMaster)))
	require.NoError(t, r.Add(New(1, "node0", RoleComputeNode)))
	require.NoError(t, r.Add(New(2, "node1", RoleComputeNode)))

	assert.Len(t, r.All(), 3)
	assert.Len(t, r.ComputeNodes(), 2)

	m, err := r.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "node0", m.Name)

	_, err = r.Get(99)
	assert.Error(t, err)
}

func TestApplyMmax(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(New(0, "master", RoleMaster)))
	for i := 1; i <= 4; i++ {
		require.NoError(t, r.Add(New(i, "node"+strconv.Itoa(i), RoleComputeNode)))
	}
	r.ApplyMmax(2)

	avail := 0
	for _, m := range r.ComputeNodes() {
		if m.State != StateUnavailable {
			avail++
		}
	}
	assert.Equal(t, 2, avail)
}

func TestAllocationSet(t *testing.T) {
	s := NewAllocationSet([]int{3, 1, 2, 1})
	assert.Equal(t, []int{1, 2, 3}, s.Sorted())
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(2))
	assert.False(t, s.Contains(9))
}

func TestHyphenRanges(t *testing.T) {
	assert.Equal(t, "", HyphenRanges(nil))
	assert.Equal(t, "0", HyphenRanges([]int{0}))
	assert.Equal(t, "0-3", HyphenRanges([]int{0, 1, 2, 3}))
	assert.Equal(t, "0-1,3,5-6", HyphenRanges([]int{0, 1, 3, 5, 6}))
}
