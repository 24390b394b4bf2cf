package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultTitle is shown when neither the notification nor the data block
// carries a title.
const DefaultTitle = "Notification"

// DefaultTargetURL is the route used when a payload carries no url.
const DefaultTargetURL = "/"

// Well-known keys in the payload data block.
const (
	DataKeyTitle = "title"
	DataKeyBody  = "body"
	DataKeyURL   = "url"
)

// Payload is an inbound push message, shaped like an FCM message:
// an optional notification block and an optional string map of data.
type Payload struct {
	Notification *PayloadNotification `json:"notification,omitempty"`
	Data         Data                 `json:"data,omitempty"`

	// Meta is assigned by whoever ingests the payload and never travels on the wire.
	Meta PayloadMeta `json:"-"`
}

// PayloadNotification is the display block of a push message.
type PayloadNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// PayloadMeta carries ingestion details alongside a payload.
type PayloadMeta struct {
	ID     string // Record ID to use when the payload is shown (empty = generate)
	Source string // Where the payload came from (dbus, inbox, cli)
}

// ResolveTitle returns the first non-empty title from the notification
// block, then the data block, then fallback. An empty fallback means
// DefaultTitle.
func (p *Payload) ResolveTitle(fallback string) string {
	if fallback == "" {
		fallback = DefaultTitle
	}
	if p == nil {
		return fallback
	}
	if p.Notification != nil && p.Notification.Title != "" {
		return p.Notification.Title
	}
	if t := p.Data[DataKeyTitle]; t != "" {
		return t
	}
	return fallback
}

// ResolveBody returns the first non-empty body from the notification
// block, then the data block, or the empty string.
func (p *Payload) ResolveBody() string {
	if p == nil {
		return ""
	}
	if p.Notification != nil && p.Notification.Body != "" {
		return p.Notification.Body
	}
	return p.Data[DataKeyBody]
}

// AttachedData returns a copy of the data block, never nil.
func (p *Payload) AttachedData() map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p.Data.Clone()
}

// IsEmpty reports whether the payload carries neither a notification nor data.
func (p *Payload) IsEmpty() bool {
	if p == nil {
		return true
	}
	empty := p.Notification == nil || (p.Notification.Title == "" && p.Notification.Body == "")
	return empty && len(p.Data) == 0
}

// Data is the string map carried in a push payload.
// On decode it also accepts scalar values (numbers, bools) and stores
// their JSON text, since senders are not always strict about FCM's
// string-only rule.
type Data map[string]string

// Clone returns a copy of d, never nil.
func (d Data) Clone() map[string]string {
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Data) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("data must be an object: %w", err)
	}

	out := make(Data, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0, bytes.Equal(v, []byte("null")):
			continue
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("data[%q]: %w", k, err)
			}
			out[k] = s
		case v[0] == '{' || v[0] == '[':
			return fmt.Errorf("data[%q]: nested values are not supported", k)
		default:
			out[k] = string(v)
		}
	}
	*d = out
	return nil
}
