package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/pushroute/internal/model"
)

func testRecords() []model.Record {
	now := time.Now()
	return []model.Record{
		{
			ID:      "01AAA",
			Source:  model.SourceDBus,
			Title:   "Promo",
			Body:    "50% off\nall week",
			Data:    map[string]string{"url": "/offers"},
			ShownAt: now.Add(-5 * time.Minute).Unix(),
		},
		{
			ID:          "01BBB",
			Source:      model.SourceInbox,
			Title:       "Order shipped",
			Data:        map[string]string{},
			ShownAt:     now.Add(-2 * time.Hour).Unix(),
			ClickedAt:   now.Add(-time.Hour).Unix(),
			ClosedAt:    now.Add(-time.Hour).Unix(),
			CloseReason: model.CloseReasonClicked,
		},
	}
}

func TestNewFormatter(t *testing.T) {
	for _, format := range ValidFormats() {
		f, err := NewFormatter(format, DefaultFormatterOptions())
		require.NoError(t, err, format)
		assert.NotNil(t, f)
	}

	f, err := NewFormatter("", DefaultFormatterOptions())
	require.NoError(t, err)
	assert.IsType(t, &PlainFormatter{}, f)

	_, err = NewFormatter("dmenu", DefaultFormatterOptions())
	assert.Error(t, err)
}

func TestPlainFormatter_Format(t *testing.T) {
	var buf bytes.Buffer

	f, err := NewPlainFormatter(DefaultFormatterOptions())
	require.NoError(t, err)
	require.NoError(t, f.Format(&buf, testRecords()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	assert.True(t, strings.HasPrefix(lines[0], "[1] Promo (5 minutes ago) [dbus] -> /offers"))
	assert.Equal(t, "    50% off all week", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "[2] Order shipped (2 hours ago) [inbox] -> /"))
	assert.True(t, strings.HasSuffix(lines[2], "clicked"))
}

func TestPlainFormatter_Options(t *testing.T) {
	var buf bytes.Buffer

	f, err := NewPlainFormatter(FormatterOptions{BodyMaxLen: 6})
	require.NoError(t, err)
	require.NoError(t, f.Format(&buf, testRecords()[:1]))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Promo -> /offers", lines[0])
	assert.Equal(t, "    50%...", lines[1])
}

func TestPlainFormatter_CustomTemplate(t *testing.T) {
	var buf bytes.Buffer

	f, err := NewPlainFormatter(FormatterOptions{
		Template: `{{.Index}}:{{.Record.ID}}:{{.URL}}:{{truncate .Record.Title 4}}:{{data .Record "url"}}`,
	})
	require.NoError(t, err)
	require.NoError(t, f.Format(&buf, testRecords()))

	assert.Equal(t, "1:01AAA:/offers:P...:/offers\n2:01BBB:/:O...:\n", buf.String())
}

func TestPlainFormatter_InvalidTemplate(t *testing.T) {
	_, err := NewPlainFormatter(FormatterOptions{Template: "{{.Index"})
	assert.Error(t, err)
}

func TestJSONFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONFormatter().Format(&buf, testRecords()))

	var decoded []model.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "01AAA", decoded[0].ID)
	assert.Equal(t, "/offers", decoded[0].Data["url"])

	buf.Reset()
	require.NoError(t, NewJSONFormatter().Format(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestYAMLFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewYAMLFormatter().Format(&buf, testRecords()))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Promo", decoded[0]["title"])
	assert.NotContains(t, decoded[0], "clicked_at")
	assert.Equal(t, "clicked", decoded[1]["close_reason"])

	_, err := time.Parse(time.RFC3339, decoded[1]["clicked_at"].(string))
	assert.NoError(t, err)
}

func TestIDsFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewIDsFormatter().Format(&buf, testRecords()))
	assert.Equal(t, "01AAA\n01BBB\n", buf.String())
}

func TestFormatField(t *testing.T) {
	r := &testRecords()[0]

	tests := []struct {
		field    string
		expected string
	}{
		{"id", "01AAA"},
		{"TITLE", "Promo"},
		{"url", "/offers"},
		{"source", "dbus"},
		{"surface_id", "0"},
		{"all", "Promo\n50% off\nall week"},
		{"unknown", "Promo"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatField(r, tt.field))
		})
	}
}

func TestSanitizeBody(t *testing.T) {
	assert.Equal(t, "a b c", sanitizeBody("a\n b\r\n  c ", 0, false))
	assert.Equal(t, "a\nb", sanitizeBody("a\nb", 0, true))
	assert.Equal(t, "ab", sanitizeBody("abcdef", 2, false))
}
