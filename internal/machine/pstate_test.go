package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSleepPState(m *Machine) *Machine {
	m.PStates[1] = PStateTypeSleep
	m.SleepPStates[1] = SleepPState{SleepPState: 1, SwitchOffPState: 2, SwitchOnPState: 3}
	m.PStates[2] = PStateTypeComputation
	m.PStates[3] = PStateTypeComputation
	return m
}

func TestClassifySwitch_ComputeToCompute(t *testing.T) {
	m := New(0, "node0", RoleComputeNode)
	m.PStates[1] = PStateTypeComputation
	class, err := m.ClassifySwitch(1)
	require.NoError(t, err)
	assert.Equal(t, SwitchInstantComputeToCompute, class)
}

func TestClassifySwitch_SwitchOff(t *testing.T) {
	m := withSleepPState(New(0, "node0", RoleComputeNode))
	class, err := m.ClassifySwitch(1)
	require.NoError(t, err)
	assert.Equal(t, SwitchOff, class)
}

func TestClassifySwitch_SwitchOn(t *testing.T) {
	m := withSleepPState(New(0, "node0", RoleComputeNode))
	m.State = StateSleeping
	class, err := m.ClassifySwitch(2)
	require.NoError(t, err)
	assert.Equal(t, SwitchOn, class)
}

func TestClassifySwitch_SleepToSleepIsContradiction(t *testing.T) {
	m := withSleepPState(New(0, "node0", RoleComputeNode))
	m.State = StateSleeping
	_, err := m.ClassifySwitch(1)
	assert.Error(t, err)
}

func TestClassifySwitch_UnknownPState(t *testing.T) {
	m := New(0, "node0", RoleComputeNode)
	_, err := m.ClassifySwitch(99)
	assert.Error(t, err)
}

func TestSwitchOffLifecycle(t *testing.T) {
	m := withSleepPState(New(0, "node0", RoleComputeNode))
	require.NoError(t, m.BeginSwitchOff())
	assert.Equal(t, StateTransitingFromComputingToSleeping, m.State)
	m.CompleteSwitchOff(1)
	assert.Equal(t, StateSleeping, m.State)
	assert.Equal(t, 1, m.CurrentPState)
}

func TestSwitchOff_RejectsWithRunningJobs(t *testing.T) {
	m := withSleepPState(New(0, "node0", RoleComputeNode))
	require.NoError(t, m.AddJob("wl!j1"))
	err := m.BeginSwitchOff()
	assert.Error(t, err)
}

func TestSwitchOnLifecycle(t *testing.T) {
	m := withSleepPState(New(0, "node0", RoleComputeNode))
	m.State = StateSleeping
	require.NoError(t, m.BeginSwitchOn())
	assert.Equal(t, StateTransitingFromSleepingToComputing, m.State)
	m.CompleteSwitchOn(2)
	assert.Equal(t, StateIdle, m.State)
	assert.Equal(t, 2, m.CurrentPState)
}

func TestSwitchOn_RejectsWhenNotSleeping(t *testing.T) {
	m := New(0, "node0", RoleComputeNode)
	err := m.BeginSwitchOn()
	assert.Error(t, err)
}

func TestCurrentSwitches_BatchCompletion(t *testing.T) {
	cs := NewCurrentSwitches()
	cs.Add([]int{0, 1, 2}, []int{0, 2}, 1)
	cs.Add([]int{9}, []int{9}, 5)
	assert.Equal(t, 3, cs.NbSwitchingMachines())

	completed, found := cs.MarkDone(0, 1)
	require.True(t, found)
	assert.Nil(t, completed, "batch must not complete while machine 2 is transiting")

	completed, found = cs.MarkDone(2, 1)
	require.True(t, found)
	require.NotNil(t, completed)
	assert.Equal(t, []int{0, 1, 2}, completed.AllMachines)
	assert.Equal(t, 1, cs.NbSwitchingMachines())

	_, found = cs.MarkDone(2, 1)
	assert.False(t, found, "a completed batch is no longer tracked")

	completed, found = cs.MarkDone(9, 5)
	require.True(t, found)
	require.NotNil(t, completed)
	assert.Zero(t, cs.NbSwitchingMachines())
}
