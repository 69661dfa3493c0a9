package core

// error_messages.go maps technical errors to user-facing messages with a
// code users can quote to support.
//
// Codes are grouped by category:
//
//	VAL001-VAL099  request and row validation
//	ALC001-ALC099  code allocation
//	REF001-REF099  references between projects and items
//	IMP001-IMP099  import files and throttling
//	DB001-DB099    storage
//	ERR000         fallback; check the logs for the technical error
//
// Sentinel errors are matched with errors.Is first. Anything else is matched
// case-insensitively by substring against errorPatterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

var sentinelMessages = []sentinelMessage{
	{itemcode.ErrUnknownCategory, UserMessage{"Unknown category", "Use one of: " + itemcode.CategoryNames(), "VAL005"}},

	{itemcode.ErrRangeExhausted, UserMessage{"No codes are left in this category's range", "Contact an administrator to review retired items", "ALC001"}},
	{itemcode.ErrChildRangeExhausted, UserMessage{"This item already has the maximum of 99 sub-items", "Create a new parent item", "ALC002"}},
	{ErrDuplicateCode, UserMessage{"Another item took this code at the same moment", "Please try again", "ALC003"}},
	{itemcode.ErrMalformedChildCode, UserMessage{"An existing sub-item code is malformed", "Fix or remove the malformed item and retry", "ALC004"}},
	{itemcode.ErrMalformedParentCode, UserMessage{"An existing item code is malformed", "Fix or remove the malformed item and retry", "ALC004"}},

	{ErrItemNotFound, UserMessage{"Item not found", "Refresh and check the item still exists", "REF001"}},
	{ErrProjectNotFound, UserMessage{"Project not found", "Verify the project id", "REF002"}},
	{ErrParentNotInProject, UserMessage{"The parent item belongs to another project", "Pick a parent from this project", "REF003"}},
	{ErrNestingTooDeep, UserMessage{"Sub-items cannot have sub-items", "Pick a top-level item as parent", "REF004"}},
	{ErrCategoryMismatch, UserMessage{"Category differs from the parent item", "Use the parent's category", "REF005"}},
	{ErrConsistency, UserMessage{"A parent item disappeared while importing", "Nothing was saved. Please retry the import", "REF006"}},

	{ErrTooManyImports, UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP001"}},
	{ErrNoRows, UserMessage{"The file has no data rows", "Add item rows below the header", "IMP002"}},
	{ErrTooManyRows, UserMessage{"The file has too many rows", "Split the file into smaller files", "IMP003"}},
	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "IMP006"}},
	{context.DeadlineExceeded, UserMessage{"Request timed out", "Try a smaller file or try again later", "IMP007"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors that arrive as text: driver errors and
// messages built by the web and sheet layers.
var errorPatterns = []errorPattern{
	{"invalid input", UserMessage{"Some fields are invalid", "Correct the highlighted fields", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Remove currency symbols and use standard decimal format", "VAL002"}},
	{"required field", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL003"}},
	{"missing required column", UserMessage{"Required column is missing from the file", "Use the headers SubType, Code, Item Name, Unit, Rate, Avg. Lead Time", "VAL004"}},
	{"no header row", UserMessage{"The file has no header row", "Start the first sheet with the column headers", "VAL004"}},
	{"invalid code", UserMessage{"Code does not fit the category's range", "Check the code against the category", "VAL006"}},

	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the file into smaller files", "IMP004"}},
	{"unsupported file", UserMessage{"Unsupported file type", "Upload an .xlsx or .csv file", "IMP005"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to import", "IMP008"}},

	{"duplicate key", UserMessage{"An item with this code already exists", "Use a different code", "DB001"}},
	{"unique constraint", UserMessage{"An item with this code already exists", "Use a different code", "DB001"}},
	{"foreign key", UserMessage{"Referenced record does not exist", "Ensure parent items exist first", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB004"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},
	{"database is locked", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return errorPatterns[0].msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
