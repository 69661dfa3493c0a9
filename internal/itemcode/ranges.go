// Package itemcode assigns and validates hierarchical item codes.
//
// A parent code is the prefix letter followed by an integer inside the
// category's range, e.g. "M1001". A child code appends a two-digit sequence
// to its parent, e.g. "M1001-01". Everything in this package is pure: callers
// fetch the last issued code in a scope and pass it in.
package itemcode

import (
	"fmt"
	"sort"
	"strings"
)

// Prefix is the letter every code starts with.
const Prefix = "M"

// Separator joins a parent code and its child sequence.
const Separator = "-"

// MaxChildSeq is the highest child sequence under one parent.
const MaxChildSeq = 99

// Category classifies an item and selects its numeric code range.
type Category string

const (
	Civil              Category = "civil"
	OHE                Category = "ohe"
	PWay               Category = "pway"
	StructuralSteel    Category = "structural_steel"
	ReinforcementSteel Category = "reinforcement_steel"
	RoofingSheets      Category = "roofing_sheets"
	FlushDoors         Category = "flush_doors"
	Mechanical         Category = "mechanical"
)

// Range is the closed numeric interval owned by a category. The first
// issuable parent code is Start+1.
type Range struct {
	Start int
	End   int
}

// Contains reports whether n is an issuable parent number.
func (r Range) Contains(n int) bool {
	return n > r.Start && n <= r.End
}

// ranges must never overlap and must never change once codes are issued.
var ranges = map[Category]Range{
	Civil:              {Start: 1000, End: 1999},
	OHE:                {Start: 2000, End: 2999},
	PWay:               {Start: 3000, End: 3999},
	StructuralSteel:    {Start: 4000, End: 4999},
	ReinforcementSteel: {Start: 5000, End: 5999},
	RoofingSheets:      {Start: 6000, End: 6999},
	FlushDoors:         {Start: 7000, End: 7999},
	Mechanical:         {Start: 8000, End: 8999},
}

// RangeFor returns the code range of c.
func RangeFor(c Category) (Range, bool) {
	r, ok := ranges[c]
	return r, ok
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := ranges[c]
	return ok
}

func (c Category) String() string { return string(c) }

// Categories returns every known category ordered by range start.
func Categories() []Category {
	out := make([]Category, 0, len(ranges))
	for c := range ranges {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return ranges[out[i]].Start < ranges[out[j]].Start
	})
	return out
}

// CategoryNames returns the known category names joined for messages.
func CategoryNames() string {
	cats := Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// ParseCategory normalizes s (trimmed, lower-cased) and checks it is known.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}
