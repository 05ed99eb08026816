package pagination

import "fmt"

// DefaultLimit applies when neither the caller nor the configuration sets one.
const DefaultLimit = 500

// Params holds the limit and offset of a list query.
type Params struct {
	Limit  int
	Offset int
}

// Clamp returns limit bounded by max, falling back to def when limit is not
// positive. A non-positive max disables the upper bound.
func Clamp(limit, def, max int) int {
	if def <= 0 {
		def = DefaultLimit
	}
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// NewWithCaps builds Params with the limit clamped to def and max.
func NewWithCaps(limit, offset, def, max int) Params {
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: Clamp(limit, def, max), Offset: offset}
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// Full reports whether a page of n rows filled the limit, so more rows may
// follow.
func (p Params) Full(n int) bool {
	return p.Limit > 0 && n >= p.Limit
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}
