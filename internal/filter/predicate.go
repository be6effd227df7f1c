// Package filter decides which archive lines are kept and turns kept lines
// into records.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
)

var (
	ErrFieldMissing   = errors.New("field missing")
	ErrFieldNotString = errors.New("field is not a string")
)

// Predicate reports whether a lowercased field value is selected
type Predicate func(observed string) bool

// NewPredicate builds the predicate once from the configured values. Values
// must already be lowercased. A value matches when it equals the observed
// value or is contained in it.
func NewPredicate(values []string) Predicate {
	switch len(values) {
	case 0:
		return func(string) bool { return false }
	case 1:
		value := values[0]
		return func(observed string) bool {
			return observed == value || strings.Contains(observed, value)
		}
	}

	exact := make(map[string]struct{}, len(values))
	for _, v := range values {
		exact[v] = struct{}{}
	}
	return func(observed string) bool {
		if _, ok := exact[observed]; ok {
			return true
		}
		for _, v := range values {
			if strings.Contains(observed, v) {
				return true
			}
		}
		return false
	}
}

// Matcher applies a predicate to one field of JSON lines
type Matcher struct {
	field string
	match Predicate
}

// NewMatcher creates a matcher on field for the given lowercased values
func NewMatcher(field string, values []string) *Matcher {
	return &Matcher{
		field: field,
		match: NewPredicate(values),
	}
}

// Match parses line and evaluates the predicate on the configured field.
// The parsed record is returned only for matching lines. An error means the
// line is malformed for this filter and should be counted, not fatal.
func (m *Matcher) Match(line string) (Record, bool, error) {
	var record Record
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return nil, false, fmt.Errorf("invalid JSON: %w", err)
	}
	if record == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrFieldMissing, m.field)
	}

	raw, ok := record[m.field]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrFieldMissing, m.field)
	}
	observed, ok := raw.(string)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrFieldNotString, m.field)
	}

	if !m.match(strings.ToLower(observed)) {
		return nil, false, nil
	}
	return record, true, nil
}

// Describe renders the values for the startup log line
func Describe(values []string) string {
	switch {
	case len(values) > 5:
		return fmt.Sprintf("any of %d values", len(values))
	case len(values) == 1:
		return fmt.Sprintf("the value %s", values[0])
	default:
		return fmt.Sprintf("any of the values %s", strings.Join(values, ","))
	}
}
