package workload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEvents_SortsByTimestampThenType(t *testing.T) {
	input := strings.Join([]string{
		`{"timestamp": 10, "type": "machine_available"}`,
		`{"timestamp": 5, "type": "notify"}`,
		`{"timestamp": 5, "type": "machine_unavailable"}`,
		``,
	}, "\n")

	events, err := LoadEvents(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 5.0, events[0].Timestamp)
	assert.Equal(t, EventMachineUnavailable, events[0].Type)
	assert.Equal(t, 5.0, events[1].Timestamp)
	assert.Equal(t, EventGenericNotify, events[1].Type)
	assert.Equal(t, 10.0, events[2].Timestamp)
}

func TestLoadEvents_InvalidLine(t *testing.T) {
	_, err := LoadEvents(strings.NewReader(`{not json}`))
	assert.Error(t, err)
}

func TestLoadEvents_Empty(t *testing.T) {
	events, err := LoadEvents(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, events)
}
