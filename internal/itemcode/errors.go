package itemcode

import "errors"

var (
	// ErrUnknownCategory is returned for a category missing from the range table.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrRangeExhausted is returned when the next parent number passes the
	// category's upper bound.
	ErrRangeExhausted = errors.New("code range exhausted")

	// ErrChildRangeExhausted is returned when a parent already has 99 children.
	ErrChildRangeExhausted = errors.New("child code range exhausted")

	// ErrMalformedChildCode is returned when a stored child watermark cannot
	// be split into a parent code and a numeric sequence.
	ErrMalformedChildCode = errors.New("malformed child code")

	// ErrMalformedParentCode is returned when a stored parent watermark is not
	// a valid parent code for its category.
	ErrMalformedParentCode = errors.New("malformed parent code")
)
