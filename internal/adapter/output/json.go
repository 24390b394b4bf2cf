package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/pushroute/internal/model"
)

// JSONFormatter formats records as an indented JSON array.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes records as a JSON array. An empty result is [] rather than null.
func (f *JSONFormatter) Format(w io.Writer, records []model.Record) error {
	if records == nil {
		records = []model.Record{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

// YAMLFormatter formats records as a YAML sequence.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// yamlRecord mirrors model.Record with YAML keys and readable timestamps.
type yamlRecord struct {
	ID          string            `yaml:"id"`
	Source      string            `yaml:"source"`
	SurfaceID   uint32            `yaml:"surface_id,omitempty"`
	Title       string            `yaml:"title"`
	Body        string            `yaml:"body,omitempty"`
	Icon        string            `yaml:"icon,omitempty"`
	Data        map[string]string `yaml:"data,omitempty"`
	ShownAt     string            `yaml:"shown_at"`
	ClickedAt   string            `yaml:"clicked_at,omitempty"`
	ClosedAt    string            `yaml:"closed_at,omitempty"`
	CloseReason string            `yaml:"close_reason,omitempty"`
}

// Format writes records as a YAML sequence.
func (f *YAMLFormatter) Format(w io.Writer, records []model.Record) error {
	out := make([]yamlRecord, len(records))
	for i := range records {
		r := &records[i]
		out[i] = yamlRecord{
			ID:          r.ID,
			Source:      r.Source,
			SurfaceID:   r.SurfaceID,
			Title:       r.Title,
			Body:        r.Body,
			Icon:        r.Icon,
			Data:        r.Data,
			ShownAt:     formatUnix(r.ShownAt),
			ClickedAt:   formatUnix(r.ClickedAt),
			ClosedAt:    formatUnix(r.ClosedAt),
			CloseReason: r.CloseReason,
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
