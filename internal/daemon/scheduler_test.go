package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Schedule(t *testing.T) {
	s := NewScheduler(discard)

	require.NoError(t, s.Schedule("prune", "@hourly", func() {}))
	require.NoError(t, s.Schedule("sweep", "*/5 * * * *", func() {}))
	assert.Equal(t, 2, s.Jobs())

	// Same name replaces
	require.NoError(t, s.Schedule("prune", "@daily", func() {}))
	assert.Equal(t, 2, s.Jobs())
	assert.Len(t, s.cron.Entries(), 2)

	// Empty spec removes
	require.NoError(t, s.Schedule("prune", "", func() {}))
	assert.Equal(t, 1, s.Jobs())

	err := s.Schedule("broken", "every now and then", func() {})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Jobs())
}

func TestScheduler_Runs(t *testing.T) {
	s := NewScheduler(discard)

	var runs atomic.Int32
	require.NoError(t, s.Schedule("tick", "@every 1s", func() { runs.Add(1) }))
	require.NoError(t, s.Schedule("panics", "@every 1s", func() { panic("boom") }))

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
