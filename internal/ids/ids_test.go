package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobID(t *testing.T) {
	id, err := NewJobID("wl0", "job1")
	require.NoError(t, err)
	assert.Equal(t, "wl0!job1", id.String())
}

func TestNewJobID_RejectsBang(t *testing.T) {
	_, err := NewJobID("wl!0", "job1")
	assert.Error(t, err)

	_, err = NewJobID("wl0", "job!1")
	assert.Error(t, err)
}

func TestParseJobID(t *testing.T) {
	id, err := ParseJobID("wl0!job1")
	require.NoError(t, err)
	assert.Equal(t, WorkloadName("wl0"), id.Workload)
	assert.Equal(t, JobName("job1"), id.Job)
}

func TestParseJobID_Invalid(t *testing.T) {
	_, err := ParseJobID("no-separator")
	assert.Error(t, err)
}

func TestJobID_Less(t *testing.T) {
	a, _ := NewJobID("wl0", "job1")
	b, _ := NewJobID("wl0", "job2")
	c, _ := NewJobID("wl1", "job0")

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c))
}

func TestProfileID_String(t *testing.T) {
	id := ProfileID{Workload: "wl0", Profile: "compute"}
	assert.Equal(t, "wl0!compute", id.String())
}
