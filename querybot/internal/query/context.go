// Package query holds the state a conversation accumulates while an
// operator builds a query, and the micro-syntax used to enter filters.
package query

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Mode is the branch the operator picked from the mode menu.
type Mode string

const (
	ModeNone   Mode = ""
	ModeBuild  Mode = "Build query"
	ModeSaved  Mode = "Use saved filter"
	ModeCustom Mode = "Custom management command"
)

// PeriodUnit is the unit of the lookback window.
type PeriodUnit string

const (
	Hours PeriodUnit = "hours"
	Days  PeriodUnit = "days"
	Weeks PeriodUnit = "weeks"
)

// Duration returns the length of one unit, or zero for an unknown unit.
func (u PeriodUnit) Duration() time.Duration {
	switch u {
	case Hours:
		return time.Hour
	case Days:
		return 24 * time.Hour
	case Weeks:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// AggregateType selects how matching records are summarized.
type AggregateType string

const (
	AggregateNone  AggregateType = ""
	AggregateCount AggregateType = "count"
	AggregateSum   AggregateType = "sum"
)

// Period is the lookback window of a built query.
type Period struct {
	Unit     PeriodUnit `json:"unit"`
	Quantity int        `json:"quantity"`
}

// ErrQuantityOutOfRange is returned for period quantities too large to
// represent as an integer.
var ErrQuantityOutOfRange = errors.New("period quantity out of range")

// MaxWindow is the longest lookback a Period yields, roughly 292 years.
const MaxWindow = time.Duration(math.MaxInt64)

// Duration is Quantity times Unit, capped at MaxWindow.
func (p Period) Duration() time.Duration {
	unit := p.Unit.Duration()
	if unit == 0 || p.Quantity <= 0 {
		return 0
	}
	if int64(p.Quantity) > int64(MaxWindow/unit) {
		return MaxWindow
	}
	return time.Duration(p.Quantity) * unit
}

// Filter is a single field equality constraint.
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Aggregate describes the requested summary. Property is only used by sums.
type Aggregate struct {
	Type     AggregateType `json:"type"`
	Property string        `json:"property,omitempty"`
}

// Context is the mutable state of one conversation. The zero value is the
// reset state. A Context is not safe for concurrent use; the owning
// conversation serializes access.
type Context struct {
	mode          Mode
	period        Period
	filters       []Filter
	aggregate     Aggregate
	savedFilter   string
	customCommand string
}

// Reset restores every field to its zero value.
func (c *Context) Reset() {
	*c = Context{}
}

// SetMode records the branch picked from the mode menu.
func (c *Context) SetMode(m Mode) { c.mode = m }

// Mode returns the selected branch.
func (c *Context) Mode() Mode { return c.mode }

// SetPeriodUnit records the lookback unit.
func (c *Context) SetPeriodUnit(u PeriodUnit) { c.period.Unit = u }

// SetPeriodQuantity coerces v to a non-negative integer.
// Values that cannot be coerced and negative values become 0. A string of
// digits too large for an int is rejected with ErrQuantityOutOfRange and
// leaves the quantity unchanged.
func (c *Context) SetPeriodQuantity(v any) error {
	if s, ok := v.(string); ok {
		// strip leading zeros so "010" is not read as octal
		s = strings.TrimLeft(strings.TrimSpace(s), "0")
		if s == "" {
			s = "0"
		}
		if isDigits(s) && !fitsInt(s) {
			return ErrQuantityOutOfRange
		}
		v = s
	}
	n, err := cast.ToIntE(v)
	if err != nil || n < 0 {
		n = 0
	}
	c.period.Quantity = n
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// fitsInt reports whether the digit string s is at most math.MaxInt.
func fitsInt(s string) bool {
	limit := strconv.Itoa(math.MaxInt)
	if len(s) != len(limit) {
		return len(s) < len(limit)
	}
	return s <= limit
}

// Period returns the lookback window.
func (c *Context) Period() Period { return c.period }

// AddFilter appends a filter, keeping insertion order.
func (c *Context) AddFilter(field, value string) {
	c.filters = append(c.filters, Filter{Field: field, Value: value})
}

// Filters returns a copy of the accumulated filters.
func (c *Context) Filters() []Filter {
	if len(c.filters) == 0 {
		return nil
	}
	out := make([]Filter, len(c.filters))
	copy(out, c.filters)
	return out
}

// SetAggregateType records the requested summary.
func (c *Context) SetAggregateType(t AggregateType) { c.aggregate.Type = t }

// SetAggregateProperty records the field a sum runs over.
func (c *Context) SetAggregateProperty(p string) { c.aggregate.Property = p }

// Aggregate returns the requested summary.
func (c *Context) Aggregate() Aggregate { return c.aggregate }

// SetSavedFilter records the selected saved filter.
func (c *Context) SetSavedFilter(name string) { c.savedFilter = name }

// SavedFilter returns the selected saved filter, or "".
func (c *Context) SavedFilter() string { return c.savedFilter }

// SetCustomCommand records the selected management command.
func (c *Context) SetCustomCommand(name string) { c.customCommand = name }

// CustomCommand returns the selected management command, or "".
func (c *Context) CustomCommand() string { return c.customCommand }

// HasFilters reports whether any filter was added.
func (c *Context) HasFilters() bool { return len(c.filters) > 0 }

// HasAggregate reports whether a summary was requested.
func (c *Context) HasAggregate() bool { return c.aggregate.Type != AggregateNone }

// SavedFilterSelected reports whether a saved filter was picked.
func (c *Context) SavedFilterSelected() bool { return c.savedFilter != "" }

// CustomCommandSelected reports whether a management command was picked.
func (c *Context) CustomCommandSelected() bool { return c.customCommand != "" }

// Snapshot is an immutable, serializable view of a Context.
type Snapshot struct {
	Mode          Mode      `json:"mode,omitempty"`
	Period        Period    `json:"period"`
	Filters       []Filter  `json:"filters,omitempty"`
	Aggregate     Aggregate `json:"aggregate"`
	SavedFilter   string    `json:"saved_filter,omitempty"`
	CustomCommand string    `json:"custom_command,omitempty"`
}

// Snapshot copies the current state.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		Mode:          c.mode,
		Period:        c.period,
		Filters:       c.Filters(),
		Aggregate:     c.aggregate,
		SavedFilter:   c.savedFilter,
		CustomCommand: c.customCommand,
	}
}
