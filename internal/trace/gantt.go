package trace

import (
	"encoding/json"
)

// ganttEvent is one line of the gantt JSONL stream: a span opening or
// closing on a single machine. The stream is sufficient to reconstruct
// per-host colored job-activity spans without committing to a specific
// visualization format.
type ganttEvent struct {
	Event   string  `json:"event"` // "span_open" | "span_close"
	Time    float64 `json:"time"`
	Machine int     `json:"machine"`
	JobID   string  `json:"job_id"`
	Kind    string  `json:"kind"` // "job" | "switch"
}

// GanttTracer writes the gantt event stream, one JSON object per line.
type GanttTracer struct {
	out WriteFlusher
}

// NewGanttTracer creates an unbound gantt tracer.
func NewGanttTracer() *GanttTracer {
	return &GanttTracer{}
}

// SetContext binds the tracer to its output destination.
func (t *GanttTracer) SetContext(w WriteFlusher) {
	t.out = w
}

// WriteRow writes each element of fields as its own line; typed helpers
// below are the usual entry points.
func (t *GanttTracer) WriteRow(fields []string) error {
	if t.out == nil {
		return nil
	}
	for _, f := range fields {
		if err := t.out.WriteLine(f); err != nil {
			return err
		}
	}
	return nil
}

// SpanOpen records jobID starting on each machine of machineIDs at now.
func (t *GanttTracer) SpanOpen(now float64, machineIDs []int, jobID, kind string) error {
	return t.emit("span_open", now, machineIDs, jobID, kind)
}

// SpanClose records jobID leaving each machine of machineIDs at now.
func (t *GanttTracer) SpanClose(now float64, machineIDs []int, jobID, kind string) error {
	return t.emit("span_close", now, machineIDs, jobID, kind)
}

func (t *GanttTracer) emit(event string, now float64, machineIDs []int, jobID, kind string) error {
	if t.out == nil {
		return nil
	}
	for _, id := range machineIDs {
		line, err := json.Marshal(ganttEvent{Event: event, Time: now, Machine: id, JobID: jobID, Kind: kind})
		if err != nil {
			return err
		}
		if err := t.out.WriteLine(string(line)); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces buffered lines out.
func (t *GanttTracer) Flush() error {
	if t.out == nil {
		return nil
	}
	return t.out.Flush()
}

// Close flushes and releases the destination.
func (t *GanttTracer) Close() error {
	if t.out == nil {
		return nil
	}
	if err := t.Flush(); err != nil {
		return err
	}
	return t.out.Close()
}
