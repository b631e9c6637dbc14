package workload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// EventType names an external event's kind.
type EventType string

const (
	EventMachineUnavailable EventType = "machine_unavailable"
	EventMachineAvailable   EventType = "machine_available"
	EventGenericNotify      EventType = "notify"
)

// Event is a single timestamped external occurrence, surfaced to the EDC
// as an EventOccurred message at its Timestamp.
type Event struct {
	Timestamp float64         `json:"timestamp"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// LoadEvents parses a newline-delimited JSON external-events file, one
// Event object per line, and returns the events sorted by (timestamp,
// type) to match their emission order.
func LoadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
				"external events line %d: invalid JSON: %v", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading external events: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].Type < events[j].Type
	})
	return events, nil
}
