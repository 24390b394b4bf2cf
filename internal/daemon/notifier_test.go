package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type sent struct {
	summary string
	icon    string
	urgency byte
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) NotifyInternal(_ context.Context, summary, _, icon string, urgency byte) error {
	f.sent = append(f.sent, sent{summary: summary, icon: icon, urgency: urgency})
	return f.err
}

func TestInternalNotifier_Levels(t *testing.T) {
	tests := []struct {
		level   NotificationLevel
		icon    string
		urgency byte
	}{
		{NotificationLevelInfo, "dialog-information", 0},
		{NotificationLevelWarning, "dialog-warning", 1},
		{NotificationLevelError, "dialog-error", 2},
	}

	for _, tt := range tests {
		t.Run(tt.icon, func(t *testing.T) {
			sender := &fakeSender{}
			n := NewInternalNotifier(sender, discard)

			assert.True(t, n.Notify("k", "Summary", "Body", tt.level))
			assert.Equal(t, []sent{{"Summary", tt.icon, tt.urgency}}, sender.sent)
		})
	}
}

func TestInternalNotifier_RateLimit(t *testing.T) {
	sender := &fakeSender{}
	n := NewInternalNotifier(sender, discard)

	assert.True(t, n.Notify("config-error", "a", "", NotificationLevelWarning))
	assert.False(t, n.Notify("config-error", "b", "", NotificationLevelWarning))
	assert.True(t, n.Notify("other", "c", "", NotificationLevelWarning), "keys are limited independently")

	n.SetMinInterval(0)
	assert.True(t, n.Notify("config-error", "d", "", NotificationLevelWarning))

	summaries := make([]string, len(sender.sent))
	for i, s := range sender.sent {
		summaries[i] = s.summary
	}
	assert.Equal(t, []string{"a", "c", "d"}, summaries)
}

func TestInternalNotifier_Disabled(t *testing.T) {
	sender := &fakeSender{}
	n := NewInternalNotifier(sender, discard)
	n.SetEnabled(false)

	assert.False(t, n.Notify("k", "s", "b", NotificationLevelInfo))
	assert.Empty(t, sender.sent)

	assert.False(t, NewInternalNotifier(nil, discard).Notify("k", "s", "b", NotificationLevelInfo))
}

func TestInternalNotifier_SendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("no bus")}
	n := NewInternalNotifier(sender, discard)

	assert.False(t, n.Notify("k", "s", "b", NotificationLevelInfo))
	assert.Len(t, sender.sent, 1)
}

func TestInternalNotifier_Helpers(t *testing.T) {
	sender := &fakeSender{}
	n := NewInternalNotifier(sender, discard)
	n.SetMinInterval(time.Hour)

	n.NotifyConfigReloaded()
	n.NotifyConfigError(errors.New("bad urgency"))
	n.NotifyInboxError("001.json", errors.New("not json"))
	n.NotifyInboxError("002.json", errors.New("not json"))

	summaries := make([]string, len(sender.sent))
	for i, s := range sender.sent {
		summaries[i] = s.summary
	}
	assert.Equal(t, []string{"Configuration Reloaded", "Configuration Error", "Rejected Payload"}, summaries)
}
