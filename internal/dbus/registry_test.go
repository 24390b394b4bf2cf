package dbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	data := map[string]string{"url": "/sale"}
	r.Register("rec-1", 10, "Promo", data, time.Time{})
	data["url"] = "/mutated"

	byRecord, ok := r.GetByRecordID("rec-1")
	require.True(t, ok)
	assert.Equal(t, uint32(10), byRecord.SurfaceID)
	assert.Equal(t, "/sale", byRecord.Data["url"])
	assert.Equal(t, EntryStatusActive, byRecord.Status)

	bySurface, ok := r.GetBySurfaceID(10)
	require.True(t, ok)
	assert.Equal(t, "rec-1", bySurface.RecordID)

	_, ok = r.GetBySurfaceID(11)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()

	r.Register("rec-1", 10, "a", nil, time.Time{})
	r.Register("rec-1", 11, "a", nil, time.Time{})

	_, ok := r.GetBySurfaceID(10)
	assert.False(t, ok, "old surface id must be forgotten")
	_, ok = r.GetBySurfaceID(11)
	assert.True(t, ok)

	// Recycled surface id moves to the new record
	r.Register("rec-2", 11, "b", nil, time.Time{})
	_, ok = r.GetByRecordID("rec-1")
	assert.False(t, ok)
	e, ok := r.GetBySurfaceID(11)
	require.True(t, ok)
	assert.Equal(t, "rec-2", e.RecordID)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_StatusAndActiveCount(t *testing.T) {
	r := NewRegistry()
	r.Register("a", 1, "a", nil, time.Time{})
	r.Register("b", 2, "b", nil, time.Time{})
	assert.Equal(t, 2, r.ActiveCount())

	r.SetStatus("a", EntryStatusClicked)
	assert.Equal(t, 1, r.ActiveCount())
	assert.Equal(t, 2, r.Count())

	e, _ := r.GetByRecordID("a")
	assert.Equal(t, "clicked", e.Status.String())
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	r.Register("a", 1, "a", nil, time.Time{})
	r.Register("b", 2, "b", nil, time.Time{})

	e, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, uint32(1), e.SurfaceID)
	_, ok = r.GetBySurfaceID(1)
	assert.False(t, ok)

	e, ok = r.RemoveBySurfaceID(2)
	require.True(t, ok)
	assert.Equal(t, "b", e.RecordID)

	_, ok = r.Remove("a")
	assert.False(t, ok)
	_, ok = r.RemoveBySurfaceID(2)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Register("expired", 1, "a", nil, now.Add(-time.Minute))
	r.Register("fresh", 2, "b", nil, now.Add(time.Minute))
	r.Register("no-expiry", 3, "c", nil, time.Time{})

	removed := r.Sweep(now, 30*time.Second, time.Hour)
	require.Len(t, removed, 1)
	assert.Equal(t, "expired", removed[0].RecordID)
	assert.Equal(t, 2, r.Count())

	// Entries without expiry fall back to maxAge
	removed = r.Sweep(now.Add(2*time.Hour), 24*time.Hour, time.Hour)
	require.Len(t, removed, 1)
	assert.Equal(t, "no-expiry", removed[0].RecordID)
}
