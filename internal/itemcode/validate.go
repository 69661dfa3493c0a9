package itemcode

import (
	"fmt"
	"strconv"
	"strings"
)

// IsValidParentCode reports whether code is a parent code inside c's range.
func IsValidParentCode(c Category, code string) bool {
	_, ok := parentNumber(c, code)
	return ok
}

// IsValidChildCode reports whether code is "<parent>-<NN>" with a valid
// parent for c and NN in 01..99.
func IsValidChildCode(c Category, code string) bool {
	parent, seq, ok := splitChild(code)
	if !ok || !IsValidParentCode(c, parent) {
		return false
	}
	_, ok = childSeq(seq)
	return ok
}

// IsValidCode accepts either shape.
func IsValidCode(c Category, code string) bool {
	if IsChildCode(code) {
		return IsValidChildCode(c, code)
	}
	return IsValidParentCode(c, code)
}

// IsChildCode reports whether code carries the child separator. It says
// nothing about validity.
func IsChildCode(code string) bool {
	return strings.Contains(code, Separator)
}

// ParentOf returns the implied parent code of a child code, or "" for a
// code without the separator.
func ParentOf(code string) string {
	i := strings.Index(code, Separator)
	if i < 0 {
		return ""
	}
	return code[:i]
}

// FormatParent renders parent number n.
func FormatParent(n int) string {
	return Prefix + strconv.Itoa(n)
}

// FormatChild renders child sequence seq under parent.
func FormatChild(parent string, seq int) string {
	return fmt.Sprintf("%s%s%02d", parent, Separator, seq)
}

func parentNumber(c Category, code string) (int, bool) {
	r, ok := ranges[c]
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutPrefix(code, Prefix)
	if !ok || !allDigits(digits) {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || !r.Contains(n) {
		return 0, false
	}
	// "M01001" would alias "M1001".
	if strconv.Itoa(n) != digits {
		return 0, false
	}
	return n, true
}

func splitChild(code string) (parent, seq string, ok bool) {
	parts := strings.Split(code, Separator)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// childSeq parses a two-digit sequence. "1" and "001" are rejected because
// they do not re-render to themselves.
func childSeq(s string) (int, bool) {
	if !allDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxChildSeq {
		return 0, false
	}
	if fmt.Sprintf("%02d", n) != s {
		return 0, false
	}
	return n, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
