package output

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/pushroute/internal/model"
)

// PlainFormatter formats records as plain text.
type PlainFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewPlainFormatter creates a new plain text formatter. A custom template
// that fails to parse is an error.
func NewPlainFormatter(opts FormatterOptions) (*PlainFormatter, error) {
	f := &PlainFormatter{opts: opts}

	if opts.Template != "" {
		tmpl, err := template.New("plain").Funcs(templateFuncs()).Parse(opts.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template: %w", err)
		}
		f.template = tmpl
	}

	return f, nil
}

// Format writes records as plain text.
func (f *PlainFormatter) Format(w io.Writer, records []model.Record) error {
	for i := range records {
		if err := f.formatRecord(w, i+1, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// templateData provides data for custom templates.
type templateData struct {
	Index        int
	Record       *model.Record
	RelativeTime string
	URL          string
}

func (f *PlainFormatter) formatRecord(w io.Writer, index int, r *model.Record) error {
	if f.template != nil {
		data := templateData{
			Index:        index,
			Record:       r,
			RelativeTime: relativeTime(r.ShownAt),
			URL:          r.TargetURL(),
		}
		if err := f.template.Execute(w, data); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}

	// Default format: [index] title (time) [source] -> url status
	var sb strings.Builder

	if f.opts.ShowIndex {
		fmt.Fprintf(&sb, "[%d] ", index)
	}

	sb.WriteString(r.Title)

	if f.opts.ShowTime {
		fmt.Fprintf(&sb, " (%s)", relativeTime(r.ShownAt))
	}
	if f.opts.ShowSource && r.Source != "" {
		fmt.Fprintf(&sb, " [%s]", r.Source)
	}

	fmt.Fprintf(&sb, " -> %s", r.TargetURL())

	switch {
	case r.IsClicked():
		sb.WriteString(" clicked")
	case r.IsClosed():
		fmt.Fprintf(&sb, " %s", r.CloseReason)
	}

	sb.WriteString("\n")

	if r.Body != "" {
		body := sanitizeBody(r.Body, f.opts.BodyMaxLen, f.opts.IncludeNewline)
		if body != "" {
			sb.WriteString("    " + body + "\n")
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatField outputs a specific field from a record.
func FormatField(r *model.Record, field string) string {
	switch strings.ToLower(field) {
	case "id":
		return r.ID
	case "title":
		return r.Title
	case "body":
		return r.Body
	case "source":
		return r.Source
	case "url":
		return r.TargetURL()
	case "icon":
		return r.Icon
	case "surface_id":
		return fmt.Sprintf("%d", r.SurfaceID)
	case "reason", "close_reason":
		return r.CloseReason
	case "all", "full":
		return fmt.Sprintf("%s\n%s", r.Title, r.Body)
	default:
		if v, ok := r.Data[field]; ok {
			return v
		}
		return r.Title
	}
}

// templateFuncs returns template helper functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"truncate": func(s string, maxLen int) string {
			if maxLen <= 0 || len(s) <= maxLen {
				return s
			}
			if maxLen <= 3 {
				return s[:maxLen]
			}
			return s[:maxLen-3] + "..."
		},
		"reltime": relativeTime,
		"data": func(r *model.Record, key string) string {
			return r.Data[key]
		},
	}
}

// relativeTime returns a human-readable relative time string.
func relativeTime(timestamp int64) string {
	if timestamp == 0 {
		return "unknown"
	}
	return humanize.Time(time.Unix(timestamp, 0))
}

// formatUnix renders a unix timestamp as RFC 3339, or "" for zero.
func formatUnix(timestamp int64) string {
	if timestamp == 0 {
		return ""
	}
	return time.Unix(timestamp, 0).Format(time.RFC3339)
}

// sanitizeBody cleans up body text for single-line display.
func sanitizeBody(body string, maxLen int, includeNewline bool) string {
	if !includeNewline {
		body = strings.ReplaceAll(body, "\n", " ")
		body = strings.ReplaceAll(body, "\r", "")
	}

	for strings.Contains(body, "  ") {
		body = strings.ReplaceAll(body, "  ", " ")
	}

	body = strings.TrimSpace(body)

	if maxLen > 0 && len(body) > maxLen {
		if maxLen <= 3 {
			return body[:maxLen]
		}
		return body[:maxLen-3] + "..."
	}

	return body
}
