// Package output provides output formatters for history records.
package output

import (
	"fmt"
	"io"

	"github.com/jmylchreest/pushroute/internal/model"
)

// Formatter formats records for output.
type Formatter interface {
	// Format writes formatted records to the writer.
	Format(w io.Writer, records []model.Record) error
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatPlain FormatType = "plain"
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
	FormatIDs   FormatType = "ids"
)

// ValidFormats returns the accepted --format values.
func ValidFormats() []FormatType {
	return []FormatType{FormatPlain, FormatJSON, FormatYAML, FormatIDs}
}

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType, opts FormatterOptions) (Formatter, error) {
	switch format {
	case FormatPlain, "":
		return NewPlainFormatter(opts)
	case FormatJSON:
		return NewJSONFormatter(), nil
	case FormatYAML:
		return NewYAMLFormatter(), nil
	case FormatIDs:
		return NewIDsFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown format %q, must be one of: %v", format, ValidFormats())
	}
}

// FormatterOptions configures the plain formatter.
type FormatterOptions struct {
	Template       string // Custom text/template, executed once per record
	ShowIndex      bool   // Show 1-based index prefix
	ShowTime       bool   // Show relative time
	ShowSource     bool   // Show record source
	BodyMaxLen     int    // Maximum body length (0 = unlimited)
	IncludeNewline bool   // Keep newlines in body (default: replace with space)
}

// DefaultFormatterOptions returns the options used by `pushroute history`.
func DefaultFormatterOptions() FormatterOptions {
	return FormatterOptions{
		ShowIndex:  true,
		ShowTime:   true,
		ShowSource: true,
		BodyMaxLen: 80,
	}
}
