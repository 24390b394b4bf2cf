package core

import (
	"sort"
	"strings"

	"github.com/jmylchreest/pushroute/internal/model"
)

// SortField represents a field to sort by.
type SortField string

const (
	SortByShown  SortField = "shown"
	SortByTitle  SortField = "title"
	SortBySource SortField = "source"
)

// SortOrder represents ascending or descending order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortOptions specifies sorting criteria.
type SortOptions struct {
	Field SortField
	Order SortOrder
}

// DefaultSortOptions returns default sort options (newest first).
func DefaultSortOptions() SortOptions {
	return SortOptions{
		Field: SortByShown,
		Order: SortDesc,
	}
}

// Sort sorts records in place. Ties keep their relative order.
func Sort(records []model.Record, opts SortOptions) {
	if len(records) < 2 {
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if opts.Order == SortDesc {
			a, b = b, a
		}

		switch opts.Field {
		case SortByTitle:
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		case SortBySource:
			return a.Source < b.Source
		default:
			if a.ShownAt != b.ShownAt {
				return a.ShownAt < b.ShownAt
			}
			// ULIDs sort by creation time within the same second
			return a.ID < b.ID
		}
	})
}

// ParseSortField parses a sort field string, defaulting to shown.
func ParseSortField(s string) SortField {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "title", "t":
		return SortByTitle
	case "source", "s":
		return SortBySource
	default:
		return SortByShown
	}
}

// ParseSortOrder parses a sort order string, defaulting to desc.
func ParseSortOrder(s string) SortOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending", "a":
		return SortAsc
	default:
		return SortDesc
	}
}
