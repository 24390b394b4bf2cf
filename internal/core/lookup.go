package core

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jmylchreest/pushroute/internal/model"
)

// ErrAmbiguousID is returned when an ID prefix matches more than one record.
var ErrAmbiguousID = errors.New("ambiguous id prefix")

// LookupByID finds a record by its exact ID.
// Returns nil if not found.
func LookupByID(records []model.Record, id string) *model.Record {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

// LookupBySurfaceID finds the newest record shown under a D-Bus notification id.
// Records are expected newest first.
func LookupBySurfaceID(records []model.Record, surfaceID uint32) *model.Record {
	if surfaceID == 0 {
		return nil
	}
	for i := range records {
		if records[i].SurfaceID == surfaceID {
			return &records[i]
		}
	}
	return nil
}

// Resolve finds a record by full ID, case-insensitive ID prefix, or numeric
// D-Bus id. A prefix matching more than one record is an error.
func Resolve(records []model.Record, ref string) (*model.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("empty id")
	}

	if r := LookupByID(records, ref); r != nil {
		return r, nil
	}

	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		if r := LookupBySurfaceID(records, uint32(n)); r != nil {
			return r, nil
		}
	}

	upper := strings.ToUpper(ref)
	var match *model.Record
	for i := range records {
		if !strings.HasPrefix(records[i].ID, upper) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, ref)
		}
		match = &records[i]
	}
	if match == nil {
		return nil, fmt.Errorf("no record matches %q", ref)
	}
	return match, nil
}

// Search finds records matching a search term in title, body, or target URL.
// Case-insensitive substring match.
func Search(records []model.Record, term string) []model.Record {
	if term == "" {
		return records
	}

	term = strings.ToLower(term)
	var result []model.Record
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Title), term) ||
			strings.Contains(strings.ToLower(r.Body), term) ||
			strings.Contains(strings.ToLower(r.TargetURL()), term) {
			result = append(result, r)
		}
	}
	return result
}

// UniqueSources returns the sorted set of sources present in records.
func UniqueSources(records []model.Record) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, r := range records {
		if r.Source != "" && !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
	}
	slices.Sort(sources)
	return sources
}
