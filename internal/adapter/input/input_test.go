package input

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloads(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantCount  int
		wantTitles []string
		wantErr    bool
	}{
		{
			name:       "single object",
			input:      `{"notification":{"title":"Hi","body":"there"}}`,
			wantCount:  1,
			wantTitles: []string{"Hi"},
		},
		{
			name:       "data only",
			input:      `{"data":{"title":"Promo","url":"/offers"}}`,
			wantCount:  1,
			wantTitles: []string{"Promo"},
		},
		{
			name:       "array",
			input:      `[{"notification":{"title":"a"}},{"notification":{"title":"b"}}]`,
			wantCount:  2,
			wantTitles: []string{"a", "b"},
		},
		{
			name:       "jsonl",
			input:      "{\"notification\":{\"title\":\"a\"}}\n\n{\"data\":{\"title\":\"b\"}}\n",
			wantCount:  2,
			wantTitles: []string{"a", "b"},
		},
		{
			name:       "fcm envelope",
			input:      `{"message":{"token":"abc","notification":{"title":"Wrapped"},"data":{"url":"/x"}}}`,
			wantCount:  1,
			wantTitles: []string{"Wrapped"},
		},
		{
			name:       "empty object",
			input:      `{}`,
			wantCount:  1,
			wantTitles: []string{"Notification"},
		},
		{
			name:      "empty input",
			input:     "  \n",
			wantCount: 0,
		},
		{
			name:    "malformed",
			input:   `{"notification":`,
			wantErr: true,
		},
		{
			name:    "array element not an object",
			input:   `[{"data":{}}, "nope"]`,
			wantErr: true,
		},
		{
			name:    "data not an object",
			input:   `{"data":[1,2]}`,
			wantErr: true,
		},
		{
			name:    "scalar",
			input:   `42`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads, err := ParsePayloads([]byte(tt.input), "test")
			if tt.wantErr {
				var adapterErr *AdapterError
				require.ErrorAs(t, err, &adapterErr)
				assert.Equal(t, "test", adapterErr.Source)
				return
			}
			require.NoError(t, err)
			require.Len(t, payloads, tt.wantCount)
			for i, want := range tt.wantTitles {
				assert.Equal(t, want, payloads[i].ResolveTitle(""))
			}
		})
	}
}

func TestParsePayload_EnvelopeKeepsData(t *testing.T) {
	p, err := ParsePayload([]byte(`{"message":{"data":{"url":"/offers","count":3}}}`))
	require.NoError(t, err)
	assert.Equal(t, "/offers", p.Data["url"])
	assert.Equal(t, "3", p.Data["count"])
}

func TestParsePayload_SanitizesNotification(t *testing.T) {
	p, err := ParsePayload([]byte(`{"notification":{"title":" a\u0007b ","body":"line1\nline2"}}`))
	require.NoError(t, err)
	assert.Equal(t, "a b", p.Notification.Title)
	assert.Equal(t, "line1\nline2", p.Notification.Body)
}

func TestStdinAdapter(t *testing.T) {
	a := NewStdinAdapterWithReader(strings.NewReader(`{"data":{"title":"From stdin"}}`))
	assert.Equal(t, "stdin", a.Name())

	payloads, err := a.Import(context.Background())
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "From stdin", payloads[0].ResolveTitle(""))
}

func TestNewAdapter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"data":{"title":"a"}},{"data":{"title":"b"}}]`), 0600))

	a, err := NewAdapter(path)
	require.NoError(t, err)
	assert.Equal(t, "file", a.Name())

	payloads, err := a.Import(context.Background())
	require.NoError(t, err)
	assert.Len(t, payloads, 2)

	a, err = NewAdapter("-")
	require.NoError(t, err)
	assert.Equal(t, "stdin", a.Name())

	_, err = NewAdapter(filepath.Join(dir, "missing.json"))
	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Contains(t, err.Error(), "missing.json")

	_, err = NewAdapter(dir)
	assert.ErrorContains(t, err, "directory")
}

func TestAdapterError(t *testing.T) {
	err := &AdapterError{Source: "inbox/a.json", Message: "invalid payload 1"}
	assert.Equal(t, "inbox/a.json: invalid payload 1", err.Error())
	assert.Nil(t, err.Unwrap())
}
