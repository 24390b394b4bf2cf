package dbus

import (
	"sync"
	"time"
)

// EntryStatus is the on-screen status of a shown notification.
type EntryStatus int

const (
	// EntryStatusActive means the notification is currently displayed.
	EntryStatusActive EntryStatus = iota
	// EntryStatusClicked means the user clicked it and routing is in progress.
	EntryStatusClicked
	// EntryStatusClosed means the notification left the screen.
	EntryStatusClosed
)

// String returns the string representation of EntryStatus.
func (s EntryStatus) String() string {
	switch s {
	case EntryStatusActive:
		return "active"
	case EntryStatusClicked:
		return "clicked"
	case EntryStatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Entry is a notification the surface has shown. The notification server
// keeps only the id; the attached data lives here.
type Entry struct {
	RecordID  string            // pushroute record ULID
	SurfaceID uint32            // org.freedesktop.Notifications id
	Title     string            // Resolved title
	Data      map[string]string // Attached data
	Status    EntryStatus
	CreatedAt time.Time
	ExpiresAt time.Time // When the server should have expired it (zero = never)
}

// Registry maps record IDs and notification server ids to shown notifications.
type Registry struct {
	mu sync.RWMutex

	byRecordID  map[string]*Entry
	bySurfaceID map[uint32]string
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		byRecordID:  make(map[string]*Entry),
		bySurfaceID: make(map[uint32]string),
	}
}

// Register tracks a shown notification. The data map is copied.
func (r *Registry) Register(recordID string, surfaceID uint32, title string, data map[string]string, expiresAt time.Time) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Replacement: drop the old surface mapping
	if old, exists := r.byRecordID[recordID]; exists {
		delete(r.bySurfaceID, old.SurfaceID)
	}
	// The server may recycle ids
	if oldRecord, exists := r.bySurfaceID[surfaceID]; exists {
		delete(r.byRecordID, oldRecord)
	}

	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}

	entry := &Entry{
		RecordID:  recordID,
		SurfaceID: surfaceID,
		Title:     title,
		Data:      copied,
		Status:    EntryStatusActive,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	r.byRecordID[recordID] = entry
	r.bySurfaceID[surfaceID] = recordID
	return entry
}

// GetByRecordID returns a copy of the entry for a record ID.
func (r *Registry) GetByRecordID(recordID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.byRecordID[recordID]
	if !exists {
		return Entry{}, false
	}
	return *e, true
}

// GetBySurfaceID returns a copy of the entry for a notification server id.
func (r *Registry) GetBySurfaceID(surfaceID uint32) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recordID, exists := r.bySurfaceID[surfaceID]
	if !exists {
		return Entry{}, false
	}
	e, exists := r.byRecordID[recordID]
	if !exists {
		return Entry{}, false
	}
	return *e, true
}

// SetStatus updates the status of an entry.
func (r *Registry) SetStatus(recordID string, status EntryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.byRecordID[recordID]; exists {
		e.Status = status
	}
}

// Remove removes an entry by record ID and returns it.
func (r *Registry) Remove(recordID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byRecordID[recordID]
	if !exists {
		return Entry{}, false
	}
	delete(r.bySurfaceID, e.SurfaceID)
	delete(r.byRecordID, recordID)
	return *e, true
}

// RemoveBySurfaceID removes an entry by notification server id and returns it.
func (r *Registry) RemoveBySurfaceID(surfaceID uint32) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recordID, exists := r.bySurfaceID[surfaceID]
	if !exists {
		return Entry{}, false
	}
	e := r.byRecordID[recordID]
	delete(r.bySurfaceID, surfaceID)
	delete(r.byRecordID, recordID)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Sweep drops entries whose expiry passed more than grace ago, and entries
// without expiry older than maxAge. Servers do not always emit
// NotificationClosed (e.g. after a restart), so entries can leak otherwise.
// Returns the removed entries.
func (r *Registry) Sweep(now time.Time, grace, maxAge time.Duration) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry
	for id, e := range r.byRecordID {
		stale := false
		if !e.ExpiresAt.IsZero() {
			stale = now.Sub(e.ExpiresAt) > grace
		} else if maxAge > 0 {
			stale = now.Sub(e.CreatedAt) > maxAge
		}
		if stale {
			removed = append(removed, *e)
			delete(r.bySurfaceID, e.SurfaceID)
			delete(r.byRecordID, id)
		}
	}
	return removed
}

// Count returns the number of tracked notifications.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRecordID)
}

// ActiveCount returns the number of notifications still on screen.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.byRecordID {
		if e.Status == EntryStatusActive {
			count++
		}
	}
	return count
}
