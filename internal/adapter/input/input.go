// Package input provides adapters that read push payloads for delivery.
package input

import (
	"context"
	"os"

	"github.com/jmylchreest/pushroute/internal/model"
)

// InputAdapter reads push payloads from a source.
type InputAdapter interface {
	// Name returns the adapter identifier (e.g., "stdin", "file").
	Name() string

	// Import reads and parses every payload the source holds.
	Import(ctx context.Context) ([]model.Payload, error)
}

// NewAdapter creates an InputAdapter for path. An empty path or "-" reads stdin.
func NewAdapter(path string) (InputAdapter, error) {
	if path == "" || path == "-" {
		return NewStdinAdapter(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &AdapterError{
			Source:  path,
			Message: "cannot read payload file",
			Err:     err,
		}
	}
	if info.IsDir() {
		return nil, &AdapterError{
			Source:  path,
			Message: "payload path is a directory",
		}
	}
	return NewFileAdapter(path), nil
}

// AdapterError represents an adapter-related error.
type AdapterError struct {
	Source  string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
