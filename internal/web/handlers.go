package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/logging"
	"github.com/JonMunkholm/basicitems/internal/sheet"
)

const maxJSONBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"status": "ok", "imports": s.service.Limiter().Status()}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		logging.FromContext(ctx).Error("health check failed", "error", err)
		body["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func projectIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: project %q", errBadID, chi.URLParam(r, "projectID"))
	}
	return id, nil
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	p, err := s.service.CreateProject(r.Context(), req.Name)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if projects == nil {
		projects = []core.Project{}
	}
	writeJSON(w, r, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	p, err := s.service.GetProject(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	var in core.CreateItemInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	in.ProjectID = projectID

	item, err := s.service.CreateItem(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

// handleListItems returns a flat list filtered by q, limit and offset, or
// parents with nested children when nested=true.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if nested, _ := strconv.ParseBool(r.URL.Query().Get("nested")); nested {
		tree, err := s.service.ItemTree(r.Context(), projectID)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		if tree == nil {
			tree = []core.ItemNode{}
		}
		writeJSON(w, r, http.StatusOK, tree)
		return
	}

	q, err := itemQuery(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	items, err := s.service.SearchItems(r.Context(), projectID, q)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if items == nil {
		items = []core.Item{}
	}
	writeJSON(w, r, http.StatusOK, items)
}

// itemQuery reads q, limit and offset from the query string.
func itemQuery(r *http.Request) (core.ItemQuery, error) {
	params := r.URL.Query()
	q := core.ItemQuery{Query: params.Get("q")}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, &core.InputError{Fields: []core.ValidationError{{Field: name, Value: raw, Message: "must be a non-negative integer"}}}
		}
		*dst = n
	}
	return q, nil
}

func (s *Server) handleNextCode(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	q := r.URL.Query()
	var parentID *int64
	if raw := q.Get("parentItemId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			s.respondError(w, r, fmt.Errorf("%w: parentItemId %q", errBadID, raw), 0)
			return
		}
		parentID = &id
	}

	code, err := s.service.PeekNextCode(r.Context(), projectID, q.Get("category"), parentID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: item %q", errBadID, chi.URLParam(r, "itemID")), 0)
		return
	}

	if err := s.service.DeleteItem(r.Context(), projectID, itemID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImport reads a multipart "file" field (.xlsx or .csv) and imports
// its rows. The status code follows the report's outcome.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("%w: limit %d bytes", errFileTooLarge, maxSize), 0)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err), 0)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, 0)
		return
	}
	defer file.Close()

	rows, err := sheet.Read(header.Filename, file)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("import received",
		"project_id", projectID,
		"file", header.Filename,
		"size", header.Size,
		"rows", len(rows),
	)

	report, err := s.service.Import(r.Context(), projectID, rows)
	if err != nil {
		if report != nil {
			logging.FromContext(r.Context()).Error("import failed", "import_id", report.ImportID, "error", err)
			writeJSON(w, r, report.Status.HTTPStatus(), report)
			return
		}
		s.respondError(w, r, err, 0)
		return
	}
	if report.Errors == nil {
		report.Errors = []core.RowError{}
	}
	writeJSON(w, r, report.Status.HTTPStatus(), report)
}

// handleExport streams the project's items, optionally filtered by q, as
// xlsx (default) or csv.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	format := sheet.FormatXLSX
	if raw := r.URL.Query().Get("format"); raw != "" {
		if format, err = sheet.ParseFormat(raw); err != nil {
			s.respondError(w, r, err, 0)
			return
		}
	}

	items, err := s.service.SearchItems(r.Context(), projectID, core.ItemQuery{Query: r.URL.Query().Get("q")})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	var buf bytes.Buffer
	if err := sheet.Write(&buf, format, items); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("items-%s.%s", strings.SplitN(projectID.String(), "-", 2)[0], format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "error", err)
	}
}
