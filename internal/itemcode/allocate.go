package itemcode

import (
	"fmt"
	"strconv"
)

// NextParentCode returns the parent code following last within category c.
// An empty last means nothing has been issued in the scope yet.
func NextParentCode(c Category, last string) (string, error) {
	r, ok := ranges[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	if last == "" {
		return FormatParent(r.Start + 1), nil
	}

	n, ok := parentNumber(c, last)
	if !ok {
		return "", fmt.Errorf("%w: %q for category %s", ErrMalformedParentCode, last, c)
	}
	if n+1 > r.End {
		return "", fmt.Errorf("%w: %s after %s (max %s)", ErrRangeExhausted, c, last, FormatParent(r.End))
	}
	return FormatParent(n + 1), nil
}

// NextChildCode returns the child code following last under parent. An empty
// last starts the sequence at 01.
func NextChildCode(parent, last string) (string, error) {
	if last == "" {
		return FormatChild(parent, 1), nil
	}

	_, seq, ok := splitChild(last)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMalformedChildCode, last)
	}
	n, err := strconv.Atoi(seq)
	if err != nil || !allDigits(seq) {
		return "", fmt.Errorf("%w: %q", ErrMalformedChildCode, last)
	}
	if n+1 > MaxChildSeq {
		return "", fmt.Errorf("%w: %s already has %d children", ErrChildRangeExhausted, parent, MaxChildSeq)
	}
	return FormatChild(parent, n+1), nil
}
