package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/pushroute/internal/core"
	"github.com/jmylchreest/pushroute/internal/model"
)

func testRecord(id string) model.Record {
	return testRecordWithTime(id, time.Now().Unix())
}

func testRecordWithTime(id string, shownAt int64) model.Record {
	return model.Record{
		ID:      id,
		Source:  model.SourceDBus,
		Title:   "Title " + id,
		Body:    "Body " + id,
		Data:    map[string]string{"url": "/" + id},
		ShownAt: shownAt,
	}
}

func TestNewStore(t *testing.T) {
	s := NewStore(nil)
	assert.NotNil(t, s)
	assert.Equal(t, 0, s.Count())
}

func TestStore_Add(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	r := testRecord("a")
	require.NoError(t, s.Add(r))
	assert.Equal(t, 1, s.Count())

	// Same ID is ignored
	require.NoError(t, s.Add(r))
	assert.Equal(t, 1, s.Count())

	// Same content under a new ID is kept
	dup := r
	dup.ID = "b"
	require.NoError(t, s.Add(dup))
	assert.Equal(t, 2, s.Count())
}

func TestStore_AddRejectsInvalid(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	err := s.Add(model.Record{ID: "x", Source: model.SourceCLI, ShownAt: 1})
	assert.ErrorIs(t, err, model.ErrEmptyTitle)
	assert.Equal(t, 0, s.Count())
}

func TestStore_AddCopiesData(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	r := testRecord("a")
	require.NoError(t, s.Add(r))
	r.Data["url"] = "/mutated"

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "/a", got.Data["url"])
}

func TestStore_Get(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add(testRecord("a")))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "Title a", got.Title)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_All(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	now := time.Now().Unix()
	require.NoError(t, s.Add(testRecordWithTime("old", now-100)))
	require.NoError(t, s.Add(testRecordWithTime("new", now)))

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "old", all[1].ID)
}

func TestStore_Filter(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	now := time.Now()
	inbox := testRecordWithTime("inbox", now.Unix())
	inbox.Source = model.SourceInbox
	require.NoError(t, s.Add(inbox))
	require.NoError(t, s.Add(testRecordWithTime("recent", now.Add(-time.Minute).Unix())))
	require.NoError(t, s.Add(testRecordWithTime("stale", now.Add(-3*time.Hour).Unix())))

	result := s.Filter(core.FilterOptions{Since: time.Hour, Source: model.SourceDBus})
	require.Len(t, result, 1)
	assert.Equal(t, "recent", result[0].ID)
}

func TestStore_MarkClickedAndClosed(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add(testRecord("a")))
	require.NoError(t, s.MarkClicked("a"))
	require.NoError(t, s.MarkClosed("a", model.CloseReasonClicked))
	require.NoError(t, s.MarkClosed("a", model.CloseReasonExpired))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, got.IsClicked())
	assert.True(t, got.IsClosed())
	assert.Equal(t, model.CloseReasonClicked, got.CloseReason)

	assert.ErrorIs(t, s.MarkClicked("missing"), ErrNotFound)
}

func TestStore_SetSurfaceID(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add(testRecord("a")))
	require.NoError(t, s.SetSurfaceID("a", 42))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), got.SurfaceID)
}

func TestStore_Delete(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add(testRecord("a")))
	require.NoError(t, s.Add(testRecord("b")))

	require.NoError(t, s.Delete("a"))
	assert.Equal(t, 1, s.Count())

	_, err := s.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("b")
	assert.NoError(t, err, "index must be rebuilt after delete")

	assert.ErrorIs(t, s.Delete("a"), ErrNotFound)
}

func TestStore_Prune(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		opts        PruneOptions
		wantRemoved []string
		wantLeft    int
	}{
		{"older than", PruneOptions{OlderThan: 2 * time.Hour}, []string{"d", "e"}, 3},
		{"keep", PruneOptions{Keep: 2}, []string{"c", "d", "e"}, 2},
		{"both", PruneOptions{OlderThan: 2 * time.Hour, Keep: 1}, []string{"b", "c", "d", "e"}, 1},
		{"dry run", PruneOptions{Keep: 1, DryRun: true}, []string{"b", "c", "d", "e"}, 5},
		{"nothing", PruneOptions{}, []string{}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(nil)
			defer s.Close()

			// Inserted out of order to check newest-first selection
			require.NoError(t, s.Add(testRecordWithTime("c", now.Add(-90*time.Minute).Unix())))
			require.NoError(t, s.Add(testRecordWithTime("a", now.Unix())))
			require.NoError(t, s.Add(testRecordWithTime("e", now.Add(-5*time.Hour).Unix())))
			require.NoError(t, s.Add(testRecordWithTime("b", now.Add(-time.Hour).Unix())))
			require.NoError(t, s.Add(testRecordWithTime("d", now.Add(-3*time.Hour).Unix())))

			removed, err := s.Prune(tt.opts)
			require.NoError(t, err)

			ids := make([]string, len(removed))
			for i, r := range removed {
				ids[i] = r.ID
			}
			assert.Equal(t, tt.wantRemoved, ids)
			assert.Equal(t, tt.wantLeft, s.Count())
		})
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add(testRecord("a")))
	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Count())
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	ch := s.Subscribe()
	require.NoError(t, s.Add(testRecord("a")))

	select {
	case ev := <-ch:
		assert.Equal(t, ChangeTypeAdd, ev.Type)
		assert.Equal(t, 1, ev.Count)
		assert.Equal(t, "a", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	require.NoError(t, s.MarkClicked("a"))
	ev := <-ch
	assert.Equal(t, ChangeTypeUpdate, ev.Type)
	assert.Equal(t, "update", ev.Type.String())

	s.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestStore_Closed(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Add(testRecord("a")), ErrStoreClosed)
	assert.ErrorIs(t, s.Delete("a"), ErrStoreClosed)
	_, err := s.Prune(PruneOptions{Keep: 1})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_PersistAndHydrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	s := NewStore(p)

	require.NoError(t, s.Add(testRecord("a")))
	require.NoError(t, s.Add(testRecord("b")))
	require.NoError(t, s.MarkClicked("a"))
	require.NoError(t, s.Delete("b"))
	require.NoError(t, s.Close())

	p2, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	s2 := NewStore(p2)
	defer s2.Close()

	require.NoError(t, s2.Hydrate())
	assert.Equal(t, 1, s2.Count())

	got, err := s2.Get("a")
	require.NoError(t, err)
	assert.True(t, got.IsClicked())

	// Hydrating again adds nothing
	require.NoError(t, s2.Hydrate())
	assert.Equal(t, 1, s2.Count())
}

func TestStore_ReloadSeesExternalRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	daemonP, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	daemon := NewStore(daemonP)
	defer daemon.Close()

	require.NoError(t, daemon.Add(testRecord("a")))
	require.NoError(t, daemon.Add(testRecord("b")))

	// A second process prunes the file
	cliP, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	cli := NewStore(cliP)
	require.NoError(t, cli.Hydrate())
	require.NoError(t, cli.Delete("a"))
	require.NoError(t, cli.Close())

	require.NoError(t, daemon.Reload())
	assert.Equal(t, 1, daemon.Count())

	// Appends after reload land in the new file
	require.NoError(t, daemon.Add(testRecord("c")))

	check, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer check.Close()
	records, err := check.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "c", records[1].ID)
}

func TestStore_ConcurrentProcessesKeepRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	old := time.Now().Add(-48 * time.Hour).Unix()

	daemon, err := Open(path, nil)
	require.NoError(t, err)
	defer daemon.Close()
	require.NoError(t, daemon.Add(testRecordWithTime("old", old)))

	// The CLI opens the history, then the daemon keeps appending
	cli, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, daemon.Add(testRecord("fresh")))

	removed, err := cli.Prune(PruneOptions{OlderThan: 24 * time.Hour})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "old", removed[0].ID)
	require.NoError(t, cli.Close())

	// Appends after the CLI's rename land in the new file
	require.NoError(t, daemon.Add(testRecord("later")))

	check, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	records, err := check.Load()
	require.NoError(t, err)
	require.NoError(t, check.Close())

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"fresh", "later"}, ids)

	_, err = daemon.Get("fresh")
	require.NoError(t, err)

	require.NoError(t, daemon.Reload())
	_, err = daemon.Get("old")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, daemon.Count())
}

func TestStore_ModifyUsesCurrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	daemon, err := Open(path, nil)
	require.NoError(t, err)
	defer daemon.Close()

	cli, err := Open(path, nil)
	require.NoError(t, err)
	defer cli.Close()

	// The daemon appends a record the CLI has never loaded
	require.NoError(t, daemon.Add(testRecord("a")))
	require.NoError(t, daemon.Add(testRecord("b")))

	require.NoError(t, cli.MarkClicked("a"))
	assert.Equal(t, 2, cli.Count())

	got, err := cli.Get("b")
	require.NoError(t, err)
	assert.False(t, got.IsClicked())

	require.NoError(t, daemon.Reload())
	got, err = daemon.Get("a")
	require.NoError(t, err)
	assert.True(t, got.IsClicked())
}
