package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmylchreest/pushroute/internal/model"
)

// ParsePayloads parses data holding one JSON payload, a JSON array of
// payloads, or one payload per line (JSONL). FCM send-request envelopes
// ({"message": {...}}) are unwrapped. Empty input yields no payloads.
func ParsePayloads(data []byte, source string) ([]model.Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, &AdapterError{
				Source:  source,
				Message: "failed to parse JSON array",
				Err:     err,
			}
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		for {
			var raw json.RawMessage
			err := dec.Decode(&raw)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, &AdapterError{
					Source:  source,
					Message: fmt.Sprintf("failed to parse payload %d", len(raws)+1),
					Err:     err,
				}
			}
			raws = append(raws, raw)
		}
	}

	payloads := make([]model.Payload, 0, len(raws))
	for i, raw := range raws {
		p, err := ParsePayload(raw)
		if err != nil {
			return nil, &AdapterError{
				Source:  source,
				Message: fmt.Sprintf("invalid payload %d", i+1),
				Err:     err,
			}
		}
		payloads = append(payloads, *p)
	}
	return payloads, nil
}

// envelope is an FCM v1 send request body.
type envelope struct {
	Message      json.RawMessage `json:"message"`
	Notification json.RawMessage `json:"notification"`
	Data         json.RawMessage `json:"data"`
}

// ParsePayload parses a single JSON object into a Payload.
func ParsePayload(raw []byte) (*model.Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("payload must be a JSON object")
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if len(env.Message) > 0 && env.Notification == nil && env.Data == nil {
		return ParsePayload(env.Message)
	}

	var p model.Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, err
	}
	if p.Notification != nil {
		p.Notification.Title = sanitizeString(p.Notification.Title)
		p.Notification.Body = sanitizeString(p.Notification.Body)
	}
	return &p, nil
}

// sanitizeString replaces control characters other than newline and tab
// with spaces and trims the result.
func sanitizeString(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\t' {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}
