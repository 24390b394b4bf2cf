// Package core provides filtering, sorting, and lookup logic over history records.
package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/pushroute/internal/model"
)

// FilterOp represents a comparison operator.
type FilterOp string

const (
	FilterOpEqual     FilterOp = "="  // Exact match
	FilterOpNotEqual  FilterOp = "!=" // Not equal
	FilterOpContains  FilterOp = "~"  // Contains substring
	FilterOpRegex     FilterOp = "~=" // Regex match
	FilterOpGreater   FilterOp = ">"  // Greater than
	FilterOpLess      FilterOp = "<"  // Less than
	FilterOpGreaterEq FilterOp = ">=" // Greater than or equal
	FilterOpLessEq    FilterOp = "<=" // Less than or equal
)

// FilterCondition represents a single filter condition.
type FilterCondition struct {
	Field    string   // title, body, source, url, reason, clicked, closed, shown
	Operator FilterOp // Comparison operator
	Value    string   // Value to compare against

	regex   *regexp.Regexp
	cutoff  time.Time
	boolVal bool
}

// FilterExpr is a compound filter expression. Conditions are ANDed together.
type FilterExpr struct {
	Conditions []FilterCondition
}

// FilterOptions specifies criteria for filtering records.
type FilterOptions struct {
	Since       time.Duration // Only records shown after now-since (0=all)
	Source      string        // Exact match on source
	ClickedOnly bool          // Only records the user clicked
	Limit       int           // Maximum results (0=unlimited)
}

// Filter filters records based on the provided options, preserving order.
func Filter(records []model.Record, opts FilterOptions) []model.Record {
	var cutoff int64
	if opts.Since > 0 {
		cutoff = time.Now().Add(-opts.Since).Unix()
	}

	result := make([]model.Record, 0, len(records))
	for _, r := range records {
		if cutoff > 0 && r.ShownAt < cutoff {
			continue
		}
		if opts.Source != "" && r.Source != opts.Source {
			continue
		}
		if opts.ClickedOnly && !r.IsClicked() {
			continue
		}

		result = append(result, r)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}

	return result
}

// ParseDuration parses a duration string with extended formats.
// Supports: 48h, 7d, 1w, 0 (all time)
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if s == "0" || s == "" {
		return 0, nil
	}

	if daysStr, found := strings.CutSuffix(s, "d"); found {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	if weeksStr, found := strings.CutSuffix(s, "w"); found {
		weeks, err := strconv.Atoi(weeksStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

// ParseSource validates a record source name.
func ParseSource(s string) (string, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "", model.SourceDBus, model.SourceInbox, model.SourceCLI:
		return s, nil
	default:
		return "", fmt.Errorf("invalid source: %s (use dbus, inbox, or cli)", s)
	}
}

// ParseFilter parses a filter expression string into a FilterExpr.
// Format: "field=value,field2~value2,field3>value3"
//
// Supported fields: title, body, source, url, reason, clicked, closed, shown
// Supported operators: = (equal), != (not equal), ~ (contains), ~= (regex), >, <, >=, <=
//
// Examples:
//   - "source=inbox"
//   - "title~sale"
//   - "url=/offers,clicked=true"
//   - "shown>1h" - shown within the last hour
func ParseFilter(expr string) (*FilterExpr, error) {
	filter := &FilterExpr{}
	if expr == "" {
		return filter, nil
	}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		cond, err := parseCondition(part)
		if err != nil {
			return nil, err
		}
		filter.Conditions = append(filter.Conditions, cond)
	}

	return filter, nil
}

// parseCondition parses a single condition like "source=inbox".
func parseCondition(s string) (FilterCondition, error) {
	// Longest operators first
	operators := []FilterOp{
		FilterOpNotEqual,
		FilterOpGreaterEq,
		FilterOpLessEq,
		FilterOpRegex,
		FilterOpEqual,
		FilterOpContains,
		FilterOpGreater,
		FilterOpLess,
	}

	for _, op := range operators {
		idx := strings.Index(s, string(op))
		if idx <= 0 {
			continue
		}
		cond := FilterCondition{
			Field:    strings.ToLower(strings.TrimSpace(s[:idx])),
			Operator: op,
			Value:    strings.TrimSpace(s[idx+len(op):]),
		}
		if err := cond.init(); err != nil {
			return FilterCondition{}, err
		}
		return cond, nil
	}

	return FilterCondition{}, fmt.Errorf("invalid filter condition: %s (missing operator)", s)
}

// init normalizes the field name and pre-parses the value.
func (c *FilterCondition) init() error {
	switch c.Field {
	case "title", "summary":
		c.Field = "title"
	case "body", "message":
		c.Field = "body"
	case "source", "src":
		c.Field = "source"
	case "url", "target":
		c.Field = "url"
	case "reason", "close_reason":
		c.Field = "reason"
	case "clicked":
		c.boolVal = parseBool(c.Value)
	case "closed":
		c.boolVal = parseBool(c.Value)
	case "shown", "time", "ts":
		c.Field = "shown"
		dur, err := ParseDuration(c.Value)
		if err != nil {
			return fmt.Errorf("invalid shown value: %w", err)
		}
		c.cutoff = time.Now().Add(-dur)
	default:
		return fmt.Errorf("unknown filter field: %s", c.Field)
	}

	if c.Operator == FilterOpRegex {
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
		c.regex = re
	}

	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "y", "t":
		return true
	default:
		return false
	}
}

// Match tests if a record matches every condition.
func (f *FilterExpr) Match(r model.Record) bool {
	for i := range f.Conditions {
		if !f.Conditions[i].Match(r) {
			return false
		}
	}
	return true
}

// Match tests if a record matches this single condition.
func (c *FilterCondition) Match(r model.Record) bool {
	switch c.Field {
	case "title":
		return c.matchString(r.Title)
	case "body":
		return c.matchString(r.Body)
	case "source":
		return c.matchString(r.Source)
	case "url":
		return c.matchString(r.TargetURL())
	case "reason":
		return c.matchString(r.CloseReason)
	case "clicked":
		return c.matchBool(r.IsClicked())
	case "closed":
		return c.matchBool(r.IsClosed())
	case "shown":
		return c.matchTime(r.ShownTime())
	default:
		return false
	}
}

func (c *FilterCondition) matchString(v string) bool {
	switch c.Operator {
	case FilterOpEqual:
		return v == c.Value
	case FilterOpNotEqual:
		return v != c.Value
	case FilterOpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(c.Value))
	case FilterOpRegex:
		return c.regex != nil && c.regex.MatchString(v)
	default:
		return false
	}
}

func (c *FilterCondition) matchBool(v bool) bool {
	switch c.Operator {
	case FilterOpEqual:
		return v == c.boolVal
	case FilterOpNotEqual:
		return v != c.boolVal
	default:
		return false
	}
}

// matchTime compares against now-duration: "shown>1h" means newer than one hour ago.
func (c *FilterCondition) matchTime(v time.Time) bool {
	switch c.Operator {
	case FilterOpGreater:
		return v.After(c.cutoff)
	case FilterOpLess:
		return v.Before(c.cutoff)
	case FilterOpGreaterEq:
		return !v.Before(c.cutoff)
	case FilterOpLessEq:
		return !v.After(c.cutoff)
	default:
		return false
	}
}

// FilterWithExpr filters records using a filter expression.
func FilterWithExpr(records []model.Record, expr *FilterExpr) []model.Record {
	if expr == nil || len(expr.Conditions) == 0 {
		return records
	}

	result := make([]model.Record, 0, len(records))
	for _, r := range records {
		if expr.Match(r) {
			result = append(result, r)
		}
	}
	return result
}
