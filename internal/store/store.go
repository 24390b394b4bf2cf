// Package store provides the notification history store.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/pushroute/internal/core"
	"github.com/jmylchreest/pushroute/internal/model"
)

// ChangeType indicates the type of store change.
type ChangeType int

const (
	// ChangeTypeAdd indicates records were added.
	ChangeTypeAdd ChangeType = iota
	// ChangeTypeUpdate indicates a record changed (clicked, closed, edited).
	ChangeTypeUpdate
	// ChangeTypeDelete indicates a record was deleted.
	ChangeTypeDelete
	// ChangeTypePrune indicates records were pruned.
	ChangeTypePrune
	// ChangeTypeClear indicates all records were cleared.
	ChangeTypeClear
	// ChangeTypeReload indicates the store was reloaded from disk.
	ChangeTypeReload
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeTypeAdd:
		return "add"
	case ChangeTypeUpdate:
		return "update"
	case ChangeTypeDelete:
		return "delete"
	case ChangeTypePrune:
		return "prune"
	case ChangeTypeClear:
		return "clear"
	case ChangeTypeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// ChangeEvent signals store content changes.
type ChangeEvent struct {
	Type   ChangeType
	Count  int
	ID     string // Set for single-record changes
	Source string
}

// PruneOptions selects records to remove.
type PruneOptions struct {
	OlderThan time.Duration // Remove records shown before now-OlderThan (0 = no age limit)
	Keep      int           // Keep at most this many newest records (0 = unlimited)
	DryRun    bool          // Report what would be removed without removing it
}

// Errors
var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("record not found")
)

// Store manages the notification history with thread-safe operations.
// Records are kept in insertion order; read methods return newest first.
//
// With persistence, the file is authoritative: other processes append to
// and rewrite it, so every rewrite starts from the file's current contents
// rather than from the in-memory copy.
type Store struct {
	mu      sync.RWMutex
	records []model.Record
	index   map[string]int // record id -> slice index

	persistence Persistence

	subscribers []chan ChangeEvent
	closed      bool
}

// NewStore creates a new Store.
// If persistence is not nil, it will be used to persist records.
func NewStore(persistence Persistence) *Store {
	return &Store{
		index:       make(map[string]int),
		persistence: persistence,
	}
}

// Add adds a single record to the store. Records with an ID already in the
// store are ignored. A record that cannot be persisted is not kept.
func (s *Store) Add(r model.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.index[r.ID]; exists {
		return nil
	}

	r = *r.Clone()
	if s.persistence != nil {
		if err := s.persistence.Append(r); err != nil {
			return fmt.Errorf("failed to persist record: %w", err)
		}
	}
	s.index[r.ID] = len(s.records)
	s.records = append(s.records, r)

	s.notifyChange(ChangeEvent{Type: ChangeTypeAdd, Count: 1, ID: r.ID, Source: r.Source})
	return nil
}

// Get returns a copy of the record with the given ID.
func (s *Store) Get(id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.index[id]
	if !exists {
		return nil, ErrNotFound
	}
	return s.records[idx].Clone(), nil
}

// All returns copies of all records, newest first.
func (s *Store) All() []model.Record {
	s.mu.RLock()
	result := make([]model.Record, len(s.records))
	for i := range s.records {
		result[i] = *s.records[i].Clone()
	}
	s.mu.RUnlock()

	core.Sort(result, core.DefaultSortOptions())
	return result
}

// Filter returns records matching opts, newest first.
func (s *Store) Filter(opts core.FilterOptions) []model.Record {
	return core.Filter(s.All(), opts)
}

// MarkClicked records a click on the record with the given ID.
func (s *Store) MarkClicked(id string) error {
	return s.modify(id, func(r *model.Record) {
		r.MarkClicked()
	})
}

// MarkClosed records that the notification left the screen.
func (s *Store) MarkClosed(id, reason string) error {
	return s.modify(id, func(r *model.Record) {
		r.MarkClosed(reason)
	})
}

// SetSurfaceID records the D-Bus notification id assigned to a record.
func (s *Store) SetSurfaceID(id string, surfaceID uint32) error {
	return s.modify(id, func(r *model.Record) {
		r.SurfaceID = surfaceID
	})
}

func (s *Store) modify(id string, fn func(r *model.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var source string
	err := s.rewrite(func(records []model.Record) ([]model.Record, error) {
		idx := indexOf(records, id)
		if idx < 0 {
			return nil, ErrNotFound
		}
		fn(&records[idx])
		source = records[idx].Source
		return records, nil
	})
	if err != nil {
		return err
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypeUpdate, Count: 1, ID: id, Source: source})
	return nil
}

// Delete removes a record by its ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := s.rewrite(func(records []model.Record) ([]model.Record, error) {
		idx := indexOf(records, id)
		if idx < 0 {
			return nil, ErrNotFound
		}
		return append(records[:idx], records[idx+1:]...), nil
	})
	if err != nil {
		return err
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypeDelete, Count: 1, ID: id})
	return nil
}

// Prune removes records older than opts.OlderThan and trims the history to
// the newest opts.Keep records. It returns the removed records, newest first.
func (s *Store) Prune(opts PruneOptions) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := time.Now()
	if opts.DryRun {
		if err := s.load(); err != nil {
			return nil, err
		}
		_, removed := pruneRecords(s.records, opts, now)
		return removed, nil
	}

	var removed []model.Record
	err := s.rewrite(func(records []model.Record) ([]model.Record, error) {
		var remaining []model.Record
		remaining, removed = pruneRecords(records, opts, now)
		if len(removed) == 0 {
			return nil, errNothingToWrite
		}
		return remaining, nil
	})
	if errors.Is(err, errNothingToWrite) {
		return removed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist prune: %w", err)
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypePrune, Count: len(removed)})
	return removed, nil
}

// pruneRecords splits records into those kept and those removed by opts.
// Removed records are returned newest first; kept records keep their order.
func pruneRecords(records []model.Record, opts PruneOptions, now time.Time) (kept, removed []model.Record) {
	// Newest first, so keep-N is a prefix
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := records[order[a]], records[order[b]]
		if ra.ShownAt != rb.ShownAt {
			return ra.ShownAt > rb.ShownAt
		}
		return ra.ID > rb.ID
	})

	var cutoff int64
	if opts.OlderThan > 0 {
		cutoff = now.Add(-opts.OlderThan).Unix()
	}

	remove := make(map[int]bool)
	count := 0
	for _, idx := range order {
		r := records[idx]
		if (cutoff > 0 && r.ShownAt < cutoff) || (opts.Keep > 0 && count >= opts.Keep) {
			remove[idx] = true
			continue
		}
		count++
	}

	removed = make([]model.Record, 0, len(remove))
	for _, idx := range order {
		if remove[idx] {
			removed = append(removed, *records[idx].Clone())
		}
	}
	kept = make([]model.Record, 0, len(records)-len(removed))
	for i, r := range records {
		if !remove[i] {
			kept = append(kept, r)
		}
	}
	return kept, removed
}

// Clear removes all records from the store.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var count int
	err := s.rewrite(func(records []model.Record) ([]model.Record, error) {
		count = len(records)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist clear: %w", err)
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypeClear, Count: count})
	return nil
}

// Count returns the total number of records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Hydrate replaces the in-memory records with the persisted ones. It picks
// up records other processes appended and drops those they removed.
func (s *Store) Hydrate() error {
	if s.persistence == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	before := s.index
	if err := s.load(); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	added := 0
	for _, r := range s.records {
		if _, known := before[r.ID]; !known {
			added++
		}
	}
	if added > 0 {
		s.notifyChange(ChangeEvent{Type: ChangeTypeAdd, Count: added, Source: "persistence"})
	}
	return nil
}

// Reload reopens the persistence file and reloads the records from it.
// Used when another process replaced the history file.
func (s *Store) Reload() error {
	if s.persistence == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := s.persistence.Reopen(); err != nil {
		return fmt.Errorf("failed to reopen history: %w", err)
	}
	if err := s.load(); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypeReload, Count: len(s.records), Source: "persistence"})
	return nil
}

// load replaces the records with the persisted ones. Caller holds mu.
func (s *Store) load() error {
	if s.persistence == nil {
		return nil
	}
	records, err := s.persistence.Load()
	if err != nil {
		return err
	}
	s.records = records
	s.reindex()
	return nil
}

// errNothingToWrite aborts a rewrite that would not change the file.
var errNothingToWrite = errors.New("nothing to write")

// rewrite applies fn to the current records and keeps the result. With
// persistence, fn sees the file's contents under the file lock and its
// result replaces the file, so records other processes appended survive.
// Errors from fn are returned unchanged. Caller holds mu.
func (s *Store) rewrite(fn func(records []model.Record) ([]model.Record, error)) error {
	if s.persistence == nil {
		records, err := fn(s.records)
		if err != nil {
			return err
		}
		s.records = records
		s.reindex()
		return nil
	}

	records, err := s.persistence.Update(fn)
	if err != nil {
		return err
	}
	s.records = records
	s.reindex()
	return nil
}

func indexOf(records []model.Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// reindex rebuilds the id index. Caller holds mu.
func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, r := range s.records {
		s.index[r.ID] = i
	}
}

// Subscribe returns a channel that receives change events.
func (s *Store) Subscribe() <-chan ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ChangeEvent, 10)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(ch <-chan ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close releases resources and closes all subscriber channels.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil

	if s.persistence != nil {
		return s.persistence.Close()
	}
	return nil
}

// notifyChange sends a change event to all subscribers (non-blocking).
// Caller holds mu.
func (s *Store) notifyChange(event ChangeEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// Open opens the JSONL history at path and loads it. A history that fails
// to load is recovered line by line before a second attempt.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	persistence, err := NewJSONLPersistence(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	s := NewStore(persistence)
	if err := s.Hydrate(); err != nil {
		logger.Warn("history is corrupted, recovering", "path", path, "error", err)
		_ = persistence.Close()

		kept, rerr := RecoverFromCorruption(path)
		if rerr != nil {
			return nil, fmt.Errorf("failed to recover history: %w", rerr)
		}
		logger.Info("history recovered", "path", path, "records", kept)

		persistence, err = NewJSONLPersistence(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		s = NewStore(persistence)
		if err := s.Hydrate(); err != nil {
			_ = persistence.Close()
			return nil, err
		}
	}
	return s, nil
}
