package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jmylchreest/pushroute/internal/model"
)

// SchemaVersion is the current persistence schema version.
const SchemaVersion = 1

// maxLineSize bounds a single JSONL line; attached data can be large.
const maxLineSize = 1024 * 1024

// Persistence defines the interface for history storage.
type Persistence interface {
	// Load reads all records from storage in file order.
	Load() ([]model.Record, error)

	// Append adds a record to storage.
	Append(r model.Record) error

	// Update reads the current records, passes them to fn and writes back
	// what fn returns, all under one lock. An error from fn is returned
	// unchanged and nothing is written.
	Update(fn func(current []model.Record) ([]model.Record, error)) ([]model.Record, error)

	// Reopen re-acquires the file handle after another process replaced the file.
	Reopen() error

	// Close releases file handles and resources.
	Close() error
}

// schemaHeader is the first line of the JSONL file.
type schemaHeader struct {
	SchemaVersion int   `json:"pushroute_schema_version"`
	CreatedAt     int64 `json:"created_at"`
}

// ErrPersistenceClosed is returned when operations are attempted on a closed persistence.
var ErrPersistenceClosed = errors.New("persistence is closed")

// JSONLPersistence implements Persistence using JSONL files.
// The daemon and the CLI share the file, so every operation holds an
// advisory lock on a sibling .lock file.
type JSONLPersistence struct {
	mu     sync.Mutex
	path   string
	lock   *flock.Flock
	file   *os.File
	closed bool
}

// NewJSONLPersistence creates a new JSONLPersistence.
// Creates the file if it doesn't exist.
func NewJSONLPersistence(path string) (*JSONLPersistence, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	p := &JSONLPersistence{path: path, lock: flock.New(LockPath(path))}
	if err := p.withFileLock(p.open); err != nil {
		return nil, err
	}
	return p, nil
}

// LockPath returns the lock file guarding the history at path.
func LockPath(path string) string {
	return path + ".lock"
}

// Path returns the file path backing this persistence.
func (p *JSONLPersistence) Path() string {
	return p.path
}

// withFileLock runs fn holding the cross-process lock. Caller holds mu
// or owns p exclusively.
func (p *JSONLPersistence) withFileLock(fn func() error) error {
	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", p.lock.Path(), err)
	}
	defer p.lock.Unlock()
	return fn()
}

// open opens the file for appending and writes a header when it is empty.
// Caller holds the file lock.
func (p *JSONLPersistence) open() error {
	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", p.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat file %s: %w", p.path, err)
	}

	p.file = file
	if info.Size() == 0 {
		if err := p.writeHeader(); err != nil {
			file.Close()
			p.file = nil
			return err
		}
	}
	return nil
}

// writeHeader writes the schema version header to the file.
func (p *JSONLPersistence) writeHeader() error {
	data, err := json.Marshal(schemaHeader{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	_, err = p.file.Write(append(data, '\n'))
	return err
}

// refresh reopens the handle when the file at path is no longer the one it
// points at, because another process renamed a rewrite over it or removed
// it. Caller holds mu and the file lock.
func (p *JSONLPersistence) refresh() error {
	if p.file != nil {
		held, herr := p.file.Stat()
		current, cerr := os.Stat(p.path)
		if herr == nil && cerr == nil && os.SameFile(held, current) {
			return nil
		}
		p.file.Close()
		p.file = nil
	}
	return p.open()
}

// read returns the records in the current file. Caller holds mu and the
// file lock.
func (p *JSONLPersistence) read() ([]model.Record, error) {
	if err := p.refresh(); err != nil {
		return nil, err
	}
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %s: %w", p.path, err)
	}
	return readRecords(p.file)
}

// Load reads all records from storage. Malformed lines are skipped.
func (p *JSONLPersistence) Load() ([]model.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPersistenceClosed
	}

	var records []model.Record
	err := p.withFileLock(func() error {
		var err error
		records, err = p.read()
		return err
	})
	return records, err
}

// readRecords scans JSONL from r, validating the header if present.
func readRecords(r io.Reader) ([]model.Record, error) {
	var records []model.Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if first {
			first = false
			var header schemaHeader
			if err := json.Unmarshal(line, &header); err == nil && header.SchemaVersion > 0 {
				if header.SchemaVersion > SchemaVersion {
					return nil, fmt.Errorf("unsupported schema version %d (max: %d)",
						header.SchemaVersion, SchemaVersion)
				}
				continue
			}
		}

		var rec model.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.ID != "" {
			records = append(records, rec)
		}
	}

	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("error reading history: %w", err)
	}
	return records, nil
}

// Append adds a record to storage.
func (p *JSONLPersistence) Append(r model.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPersistenceClosed
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return p.withFileLock(func() error {
		if err := p.refresh(); err != nil {
			return err
		}
		if _, err := p.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to append record: %w", err)
		}
		return p.file.Sync()
	})
}

// Update implements Persistence. The new content is written to a temp
// file and renamed over the old one.
func (p *JSONLPersistence) Update(fn func(current []model.Record) ([]model.Record, error)) ([]model.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPersistenceClosed
	}

	var out []model.Record
	err := p.withFileLock(func() error {
		current, err := p.read()
		if err != nil {
			return err
		}
		out, err = fn(current)
		if err != nil {
			return err
		}
		return p.replace(out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// replace writes rs to a temp file and renames it over the history.
// Caller holds mu and the file lock.
func (p *JSONLPersistence) replace(rs []model.Record) error {
	tmpPath := p.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := writeAll(tmp, rs); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if p.file != nil {
		p.file.Close()
		p.file = nil
	}

	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		// Keep the old file usable
		if openErr := p.open(); openErr != nil {
			return errors.Join(fmt.Errorf("failed to replace history: %w", err), openErr)
		}
		return fmt.Errorf("failed to replace history: %w", err)
	}

	return p.open()
}

func writeAll(f *os.File, rs []model.Record) error {
	w := bufio.NewWriter(f)

	header, err := json.Marshal(schemaHeader{SchemaVersion: SchemaVersion, CreatedAt: time.Now().Unix()})
	if err != nil {
		return err
	}
	w.Write(append(header, '\n'))

	for _, r := range rs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
		}
		w.Write(append(data, '\n'))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return f.Sync()
}

// Reopen closes and reopens the file handle.
func (p *JSONLPersistence) Reopen() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPersistenceClosed
	}

	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
	return p.withFileLock(p.open)
}

// Close releases file handles and resources.
func (p *JSONLPersistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.file != nil {
		err := p.file.Close()
		p.file = nil
		return err
	}
	return nil
}

// RecoverFromCorruption rewrites path keeping only lines that parse as
// records. The original file is kept as a timestamped backup.
func RecoverFromCorruption(path string) (int, error) {
	lock := flock.New(LockPath(path))
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	defer lock.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	valid, readErr := readRecords(file)
	file.Close()
	if readErr != nil && len(valid) == 0 {
		return 0, readErr
	}

	backupPath := path + ".corrupted." + time.Now().Format("20060102-150405")
	if err := os.Rename(path, backupPath); err != nil {
		return 0, fmt.Errorf("failed to backup corrupted file: %w", err)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create history: %w", err)
	}
	if err := writeAll(out, valid); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close history: %w", err)
	}
	return len(valid), nil
}
