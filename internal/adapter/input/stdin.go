package input

import (
	"context"
	"io"
	"os"

	"github.com/jmylchreest/pushroute/internal/model"
)

// maxInputSize bounds how much a single source may hold.
const maxInputSize = 10 * 1024 * 1024

// StdinAdapter reads payloads from standard input.
type StdinAdapter struct {
	reader io.Reader
}

// NewStdinAdapter creates a new StdinAdapter reading from os.Stdin.
func NewStdinAdapter() *StdinAdapter {
	return &StdinAdapter{reader: os.Stdin}
}

// NewStdinAdapterWithReader creates a new StdinAdapter with a custom reader.
func NewStdinAdapterWithReader(r io.Reader) *StdinAdapter {
	return &StdinAdapter{reader: r}
}

// Name returns the adapter identifier.
func (a *StdinAdapter) Name() string {
	return "stdin"
}

// Import reads standard input to EOF and parses it.
func (a *StdinAdapter) Import(_ context.Context) ([]model.Payload, error) {
	data, err := io.ReadAll(io.LimitReader(a.reader, maxInputSize+1))
	if err != nil {
		return nil, &AdapterError{
			Source:  "stdin",
			Message: "failed to read stdin",
			Err:     err,
		}
	}
	if len(data) > maxInputSize {
		return nil, &AdapterError{
			Source:  "stdin",
			Message: "input exceeds 10MB",
		}
	}
	return ParsePayloads(data, "stdin")
}

// FileAdapter reads payloads from a file.
type FileAdapter struct {
	path string
}

// NewFileAdapter creates a FileAdapter for path.
func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

// Name returns the adapter identifier.
func (a *FileAdapter) Name() string {
	return "file"
}

// Import reads the whole file and parses it.
func (a *FileAdapter) Import(_ context.Context) ([]model.Payload, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, &AdapterError{
			Source:  a.path,
			Message: "failed to read payload file",
			Err:     err,
		}
	}
	return ParsePayloads(data, a.path)
}
