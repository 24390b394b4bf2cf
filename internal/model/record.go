// Package model defines the core data structures for pushroute.
package model

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record sources.
const (
	SourceDBus  = "dbus"
	SourceInbox = "inbox"
	SourceCLI   = "cli"
)

// Close reasons recorded on a Record.
const (
	CloseReasonClicked   = "clicked"
	CloseReasonExpired   = "expired"
	CloseReasonDismissed = "dismissed"
	CloseReasonClosed    = "closed"
	CloseReasonUnknown   = "unknown"
)

// Record is a notification that was shown for a push payload.
// It is the normalized format stored in the history.
type Record struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	SurfaceID uint32 `json:"surface_id,omitempty"` // org.freedesktop.Notifications id, 0 if unknown

	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon,omitempty"`
	Data  map[string]string `json:"data"`

	ShownAt     int64  `json:"shown_at"`
	ClickedAt   int64  `json:"clicked_at,omitempty"`
	ClosedAt    int64  `json:"closed_at,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`
}

// Validation errors.
var (
	ErrEmptyID          = errors.New("id cannot be empty")
	ErrEmptySource      = errors.New("source cannot be empty")
	ErrEmptyTitle       = errors.New("title cannot be empty")
	ErrInvalidTimestamp = errors.New("shown_at must be greater than 0")
)

// NewID returns a fresh ULID string.
func NewID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// NewRecord creates a new Record with a generated ULID.
func NewRecord(source string) (*Record, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:      id,
		Source:  source,
		Data:    map[string]string{},
		ShownAt: time.Now().Unix(),
	}, nil
}

// Validate checks that the record has all required fields.
func (r *Record) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.Source == "" {
		return ErrEmptySource
	}
	if r.Title == "" {
		return ErrEmptyTitle
	}
	if r.ShownAt <= 0 {
		return ErrInvalidTimestamp
	}
	return nil
}

// TargetURL returns the route the record should open when clicked.
func (r *Record) TargetURL() string {
	return TargetURL(r.Data)
}

// TargetURL extracts the url entry from attached data, defaulting to "/".
func TargetURL(data map[string]string) string {
	if u := data[DataKeyURL]; u != "" {
		return u
	}
	return DefaultTargetURL
}

// ShownTime returns ShownAt as a time.Time.
func (r *Record) ShownTime() time.Time {
	return time.Unix(r.ShownAt, 0)
}

// RelativeTime returns a short relative time string.
// Examples: "just now", "5m ago", "2h ago", "1d ago".
func (r *Record) RelativeTime() string {
	diff := time.Now().Unix() - r.ShownAt

	switch {
	case diff < 0:
		return "in the future"
	case diff < 60:
		return "just now"
	case diff < 3600:
		return fmt.Sprintf("%dm ago", diff/60)
	case diff < 86400:
		return fmt.Sprintf("%dh ago", diff/3600)
	default:
		return fmt.Sprintf("%dd ago", diff/86400)
	}
}

// BodyTruncated returns the body collapsed to one line and truncated to maxLen.
func (r *Record) BodyTruncated(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}

	body := strings.Join(strings.Fields(r.Body), " ")
	if len(body) <= maxLen {
		return body
	}
	if maxLen <= 3 {
		return body[:maxLen]
	}
	return body[:maxLen-3] + "..."
}

// Clone creates a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Data != nil {
		clone.Data = make(map[string]string, len(r.Data))
		for k, v := range r.Data {
			clone.Data[k] = v
		}
	}
	return &clone
}

// IsClicked returns true if the user clicked the notification.
func (r *Record) IsClicked() bool {
	return r.ClickedAt > 0
}

// MarkClicked records a click at the current time.
func (r *Record) MarkClicked() {
	if r.ClickedAt == 0 {
		r.ClickedAt = time.Now().Unix()
	}
}

// IsClosed returns true once the notification has left the screen.
func (r *Record) IsClosed() bool {
	return r.ClosedAt > 0
}

// MarkClosed records the close time and reason. The first reason wins.
func (r *Record) MarkClosed(reason string) {
	if r.ClosedAt > 0 {
		return
	}
	if reason == "" {
		reason = CloseReasonUnknown
	}
	r.ClosedAt = time.Now().Unix()
	r.CloseReason = reason
}
