package workload

import (
	"strings"
	"testing"

	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkload = `{
  "nb_res": 4,
  "jobs": [
    {"id": "1", "subtime": 0, "walltime": 100, "res": 1, "profile": "compute"}
  ],
  "profiles": {
    "compute": {"type": "delay", "delay": 10}
  }
}`

func TestLoadFile(t *testing.T) {
	w, jobs, err := LoadFile("wl0", []byte(sampleWorkload))
	require.NoError(t, err)
	assert.Equal(t, 4, w.NbRes)
	assert.Len(t, jobs, 1)
	assert.Equal(t, "wl0!1", jobs[0].ID.String())
	assert.Equal(t, 100.0, jobs[0].Walltime)
}

func TestLoadFile_UnknownProfile(t *testing.T) {
	bad := strings.Replace(sampleWorkload, `"profile": "compute"`, `"profile": "missing"`, 1)
	_, _, err := LoadFile("wl0", []byte(bad))
	assert.Error(t, err)
}

func TestLoadFile_MissingNbRes(t *testing.T) {
	_, _, err := LoadFile("wl0", []byte(`{"jobs":[],"profiles":{}}`))
	assert.Error(t, err)
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	_, _, err := LoadFile("wl0", []byte(`{not json`))
	assert.Error(t, err)
}

func TestRegisterResolveReleaseProfile(t *testing.T) {
	w := NewDynamic("wl0")
	p, err := profile.FromJSON("compute", []byte(`{"type":"delay","delay":10}`))
	require.NoError(t, err)

	require.NoError(t, w.RegisterProfile("compute", p))
	_, err = w.ResolveProfile("compute")
	require.NoError(t, err)

	w.ReleaseProfile("compute")
	_, err = w.ResolveProfile("compute")
	assert.Error(t, err)

	err = w.RegisterProfile("compute", p)
	assert.Error(t, err, "tombstoned profile name must not be reusable")
}

func TestRegistry_DuplicateWorkload(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewStatic("wl0", 1)))
	assert.Error(t, r.Add(NewStatic("wl0", 1)))
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(ids.WorkloadName("missing"))
	assert.Error(t, err)
}

func TestRegistry_TotalNbRes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewStatic("wl0", 3)))
	require.NoError(t, r.Add(NewStatic("wl1", 5)))
	assert.Equal(t, 8, r.TotalNbRes())
}
