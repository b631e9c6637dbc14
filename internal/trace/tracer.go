package trace

import (
	"strings"
)

// Tracer is the capability every exporter implements. SetContext binds the
// destination; rows are appended in order; Flush forces buffered rows out;
// Close flushes and releases the destination. Concrete tracers add typed
// helpers that format their rows before calling WriteRow.
type Tracer interface {
	// SetContext binds the tracer to its output destination. Must be
	// called before the first WriteRow.
	SetContext(w WriteFlusher)
	// WriteRow appends one formatted row.
	WriteRow(fields []string) error
	// Flush forces buffered rows out to the destination.
	Flush() error
	// Close flushes and releases the destination.
	Close() error
}

// WriteFlusher is the destination surface a Tracer writes through,
// satisfied by BufferedWriter.
type WriteFlusher interface {
	WriteLine(line string) error
	Flush() error
	Close() error
}

// csvTracer is the shared base: a header written lazily before the first
// row, fields joined with commas, values quoted only when they would
// break the row.
type csvTracer struct {
	header      string
	out         WriteFlusher
	wroteHeader bool
}

func (t *csvTracer) SetContext(w WriteFlusher) {
	t.out = w
	t.wroteHeader = false
}

func (t *csvTracer) WriteRow(fields []string) error {
	if t.out == nil {
		return nil
	}
	if !t.wroteHeader {
		if err := t.out.WriteLine(t.header); err != nil {
			return err
		}
		t.wroteHeader = true
	}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escapeCSV(f)
	}
	return t.out.WriteLine(strings.Join(escaped, ","))
}

func (t *csvTracer) Flush() error {
	if t.out == nil {
		return nil
	}
	if !t.wroteHeader {
		if err := t.out.WriteLine(t.header); err != nil {
			return err
		}
		t.wroteHeader = true
	}
	return t.out.Flush()
}

func (t *csvTracer) Close() error {
	if t.out == nil {
		return nil
	}
	if err := t.Flush(); err != nil {
		return err
	}
	return t.out.Close()
}

func escapeCSV(field string) string {
	if !strings.ContainsAny(field, ",\"\n") {
		return field
	}
	return "\"" + strings.ReplaceAll(field, "\"", "\"\"") + "\""
}
