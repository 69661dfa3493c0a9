package core

import (
	"errors"
	"strings"
)

var (
	ErrItemNotFound       = errors.New("item not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrParentNotInProject = errors.New("parent item belongs to a different project")
	ErrNestingTooDeep     = errors.New("items may only be nested one level")
	ErrCategoryMismatch   = errors.New("category does not match parent item")

	// ErrDuplicateCode is the unique (project, code) violation. Item creation
	// retries on it.
	ErrDuplicateCode = errors.New("code already exists in project")

	// ErrConsistency means a child's parent vanished between reconcile and
	// commit. The whole import is rolled back.
	ErrConsistency = errors.New("import consistency error")

	ErrNoRows         = errors.New("import contains no data rows")
	ErrTooManyRows    = errors.New("import exceeds the row limit")
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")
)

// InputError carries every field problem found in one request.
type InputError struct {
	Fields []ValidationError
}

func (e *InputError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}
