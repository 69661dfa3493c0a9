package web

// errors.go renders every failure the same way: the technical error is
// logged with the request id, the client gets core.MapError's message.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/itemcode"
	"github.com/JonMunkholm/basicitems/internal/logging"
	"github.com/JonMunkholm/basicitems/internal/sheet"
)

var (
	errNotFound     = errors.New("route not found")
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large")
	errBadBody      = errors.New("invalid input: request body is not valid JSON")
	errBadID        = errors.New("invalid input: malformed id in path")
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Action  string                 `json:"action,omitempty"`
	Code    string                 `json:"code"`
	Fields  []core.ValidationError `json:"fields,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var inputErr *core.InputError
	switch {
	case errors.As(err, &inputErr),
		errors.Is(err, errBadBody),
		errors.Is(err, errBadID),
		errors.Is(err, errNoFile),
		errors.Is(err, itemcode.ErrUnknownCategory),
		errors.Is(err, core.ErrNoRows),
		errors.Is(err, sheet.ErrUnsupportedFormat),
		errors.Is(err, sheet.ErrMissingColumn),
		errors.Is(err, sheet.ErrEmptySheet):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrProjectNotFound),
		errors.Is(err, core.ErrItemNotFound),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrParentNotInProject),
		errors.Is(err, core.ErrNestingTooDeep),
		errors.Is(err, core.ErrCategoryMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, itemcode.ErrRangeExhausted),
		errors.Is(err, itemcode.ErrChildRangeExhausted),
		errors.Is(err, core.ErrDuplicateCode):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRows),
		errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user-facing form. A zero status is
// replaced by statusFor(err).
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	if errors.Is(err, errNotFound) {
		msg = core.UserMessage{Message: "No such endpoint", Action: "Check the URL and method", Code: "REQ001"}
	}

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= 500 {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	body := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var inputErr *core.InputError
	if errors.As(err, &inputErr) {
		body.Fields = inputErr.Fields
	}
	writeJSON(w, r, status, body)
}

// writeJSON encodes v with status. Encoding errors are logged since the
// header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
