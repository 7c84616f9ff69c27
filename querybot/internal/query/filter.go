package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned when a filter segment is not of the form field=value.
var ErrInvalidFilter = errors.New("invalid filter syntax")

// ParseFilters parses "field=value,field=value". Each segment is split on
// its first "=". Segments with no "=" or with an empty field are rejected.
// There is no escaping; values cannot contain ",".
func ParseFilters(text string) ([]Filter, error) {
	segments := strings.Split(text, ",")
	filters := make([]Filter, 0, len(segments))
	for _, segment := range segments {
		field, value, ok := strings.Cut(segment, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, segment)
		}
		filters = append(filters, Filter{Field: field, Value: strings.TrimSpace(value)})
	}
	return filters, nil
}
