package history

import "lodregulator/internal/regulator"

// MultiWriter fans decisions out to multiple writers.
type MultiWriter struct {
	writers []regulator.DecisionWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...regulator.DecisionWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// WriteDecision sends a decision to all writers, returning the first
// error but still attempting every writer.
func (mw *MultiWriter) WriteDecision(d regulator.Decision) error {
	var first error
	for _, w := range mw.writers {
		if err := w.WriteDecision(d); err != nil && first == nil {
			first = err
		}
	}
	return first
}
