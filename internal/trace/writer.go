// Package trace implements the static exporters a run leaves behind:
// jobs.csv, schedule.csv, pstate_changes.csv, consumed_energy.csv,
// machine_states.csv, and a JSONL gantt event stream. Every exporter is a
// Tracer: a buffered text writer with a fixed flush size behind a narrow
// set-context/write-row/flush/close surface.
package trace

import (
	"bytes"
	"io"
)

// DefaultFlushSize is the buffer threshold past which a BufferedWriter
// spills to its underlying writer.
const DefaultFlushSize = 64 * 1024

// BufferedWriter accumulates lines in memory and writes them out whenever
// the buffer grows past a fixed flush size. Output order is append-only.
type BufferedWriter struct {
	w         io.Writer
	buf       bytes.Buffer
	flushSize int
}

// NewBufferedWriter wraps w with a flush threshold of flushSize bytes
// (DefaultFlushSize if flushSize <= 0).
func NewBufferedWriter(w io.Writer, flushSize int) *BufferedWriter {
	if flushSize <= 0 {
		flushSize = DefaultFlushSize
	}
	return &BufferedWriter{w: w, flushSize: flushSize}
}

// WriteLine appends line plus a trailing newline to the buffer, spilling
// to the underlying writer once the threshold is crossed.
func (b *BufferedWriter) WriteLine(line string) error {
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
	if b.buf.Len() >= b.flushSize {
		return b.Flush()
	}
	return nil
}

// Flush writes any buffered content to the underlying writer.
func (b *BufferedWriter) Flush() error {
	if b.buf.Len() == 0 {
		return nil
	}
	_, err := b.w.Write(b.buf.Bytes())
	b.buf.Reset()
	return err
}

// Close flushes and, when the underlying writer is an io.Closer, closes it.
func (b *BufferedWriter) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	if c, ok := b.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
