package web

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/basicitems/internal/config"
	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/store/memory"
)

type testServer struct {
	*httptest.Server
	store *memory.Store
}

func newTestServer(t *testing.T, env map[string]string) *testServer {
	t.Helper()
	vars := map[string]string{
		"DB_DRIVER":          config.DriverSQLite,
		"RATE_LIMIT_ENABLED": "false",
	}
	for k, v := range env {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(config.MapLookup(vars))
	require.NoError(t, err)

	st := memory.New()
	svc := core.NewService(st, core.Options{}, nil)
	srv := NewServer(svc, cfg, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) project(t *testing.T) core.Project {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "Depot"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[core.Project](t, resp)
}

func itemBody(category string, parent *int64) map[string]any {
	body := map[string]any{
		"name":        "Cement",
		"unit":        "bag",
		"rate":        "12.50",
		"avgLeadTime": 3,
		"category":    category,
	}
	if parent != nil {
		body["parentItemId"] = *parent
	}
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "imports")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestProjects(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.project(t)

	resp := ts.do(t, http.MethodGet, "/api/projects/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, p, decode[core.Project](t, resp))

	resp = ts.do(t, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]core.Project](t, resp), 1)

	resp = ts.do(t, http.MethodPost, "/api/projects", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestItemLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.project(t)
	base := "/api/projects/" + p.ID.String() + "/items"

	resp := ts.do(t, http.MethodGet, base+"/next-code?category=civil", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "M1001", decode[map[string]string](t, resp)["code"])

	resp = ts.do(t, http.MethodPost, base, itemBody("civil", nil))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	parent := decode[core.Item](t, resp)
	assert.Equal(t, "M1001", parent.Code)
	assert.Equal(t, p.ID, parent.ProjectID)

	resp = ts.do(t, http.MethodPost, base, itemBody("civil", &parent.ID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	child := decode[core.Item](t, resp)
	assert.Equal(t, "M1001-01", child.Code)

	resp = ts.do(t, http.MethodGet, base+"?nested=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tree := decode[[]core.ItemNode](t, resp)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "M1001-01", tree[0].Children[0].Code)

	resp = ts.do(t, http.MethodDelete, base+"/"+itoa(child.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]core.Item](t, resp), 1)

	resp = ts.do(t, http.MethodDelete, base+"/"+itoa(child.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateItem_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.project(t)
	base := "/api/projects/" + p.ID.String() + "/items"

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantField  string
	}{
		{"unknown category", base, itemBody("plumbing", nil), http.StatusBadRequest, "category"},
		{"missing name", base, map[string]any{"unit": "m", "avgLeadTime": 1, "category": "ohe"}, http.StatusBadRequest, "name"},
		{"unknown field", base, map[string]any{"colour": "red"}, http.StatusBadRequest, ""},
		{"bad project id", "/api/projects/not-a-uuid/items", itemBody("civil", nil), http.StatusBadRequest, ""},
		{"unknown project", "/api/projects/00000000-0000-0000-0000-000000000001/items", itemBody("civil", nil), http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Code)
			if tt.wantField != "" {
				var fields []string
				for _, f := range body.Fields {
					fields = append(fields, f.Field)
				}
				assert.Contains(t, fields, tt.wantField)
			}
		})
	}
}

func multipartCSV(t *testing.T, filename string, records [][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	cw := csv.NewWriter(fw)
	require.NoError(t, cw.WriteAll(records))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImport_Partial(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.project(t)
	base := "/api/projects/" + p.ID.String() + "/items"

	body, ctype := multipartCSV(t, "items.csv", [][]string{
		{"SubType", "Code", "Item Name", "Unit", "Rate", "Avg. Lead Time"},
		{"civil", "M1001", "Cement", "bag", "10", "2"},
		{"civil", "M1001-01", "Cement OPC", "bag", "11", "2"},
		{"civil", "M1500-01", "Orphan", "bag", "1", "1"},
	})
	resp, err := http.Post(ts.URL+base+"/import", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	report := decode[core.ImportReport](t, resp)
	assert.Equal(t, core.ImportPartial, report.Status)
	assert.Equal(t, 2, report.SuccessCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 4, report.Errors[0].Row)
	assert.Equal(t, 2, ts.store.Len())
}

func TestImport_Errors(t *testing.T) {
	ts := newTestServer(t, map[string]string{"IMPORT_MAX_FILE_SIZE": "2048"})
	p := ts.project(t)
	url := ts.URL + "/api/projects/" + p.ID.String() + "/items/import"

	t.Run("no file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("note", "x"))
		require.NoError(t, mw.Close())
		resp, err := http.Post(url, mw.FormDataContentType(), &buf)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported format", func(t *testing.T) {
		body, ctype := multipartCSV(t, "items.txt", [][]string{{"a"}})
		resp, err := http.Post(url, ctype, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing column", func(t *testing.T) {
		body, ctype := multipartCSV(t, "items.csv", [][]string{{"SubType", "Code"}, {"civil", "M1001"}})
		resp, err := http.Post(url, ctype, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		records := [][]string{{"SubType", "Code", "Item Name", "Unit"}}
		for range 200 {
			records = append(records, []string{"civil", "M1001", strings.Repeat("x", 20), "bag"})
		}
		body, ctype := multipartCSV(t, "items.csv", records)
		resp, err := http.Post(url, ctype, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("all rows invalid", func(t *testing.T) {
		body, ctype := multipartCSV(t, "items.csv", [][]string{
			{"SubType", "Code", "Item Name", "Unit"},
			{"civil", "M2001", "Wrong range", "bag"},
		})
		resp, err := http.Post(url, ctype, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		report := decode[core.ImportReport](t, resp)
		assert.Equal(t, core.ImportRejected, report.Status)
	})
}

func TestExport_CSV(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.project(t)
	base := "/api/projects/" + p.ID.String() + "/items"

	resp := ts.do(t, http.MethodPost, base, itemBody("mechanical", nil))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")

	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "SubType", records[0][0])
	assert.Equal(t, []string{"mechanical", "M8001"}, records[1][:2])

	resp = ts.do(t, http.MethodGet, base+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouteNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/api/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "REQ001", decode[ErrorResponse](t, resp).Code)
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "secret"})

	resp := ts.do(t, http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/projects", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	resp = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestListAndNextCode_Queries(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.project(t)
	base := "/api/projects/" + p.ID.String() + "/items"

	resp := ts.do(t, http.MethodPost, base, itemBody("civil", nil))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	parent := decode[core.Item](t, resp)
	resp = ts.do(t, http.MethodPost, base, itemBody("pway", nil))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/next-code?parentItemId="+itoa(parent.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "M1001-01", decode[map[string]string](t, resp)["code"])

	resp = ts.do(t, http.MethodGet, base+"?q=m300", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]core.Item](t, resp)
	require.Len(t, items, 1)
	assert.Equal(t, "M3001", items[0].Code)

	resp = ts.do(t, http.MethodGet, base+"?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items = decode[[]core.Item](t, resp)
	require.Len(t, items, 1)
	assert.Equal(t, "M3001", items[0].Code)

	resp = ts.do(t, http.MethodGet, base+"?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "limit", body.Fields[0].Field)
}
