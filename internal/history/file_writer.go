package history

import (
	"encoding/json"
	"os"

	"lodregulator/internal/regulator"
)

// FileWriter appends decisions to a JSONL file for later inspection.
type FileWriter struct {
	file *os.File
	enc  *json.Encoder
}

// NewFileWriter creates a FileWriter truncating any existing file.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileWriter{file: f, enc: json.NewEncoder(f)}, nil
}

// WriteDecision logs a single decision row.
func (f *FileWriter) WriteDecision(d regulator.Decision) error {
	return f.enc.Encode(d)
}

// Close closes the underlying file.
func (f *FileWriter) Close() error {
	return f.file.Close()
}
