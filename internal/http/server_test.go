package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/projmeta/internal/config"
	"github.com/fyrsmithlabs/projmeta/internal/workspace"
)

func newTestServer(t *testing.T) (*Server, *workspace.Workspace) {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Store.FlushDelay = config.Duration(5 * time.Millisecond)
	ws, err := workspace.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	s, err := NewServer(ws, nil, nil)
	require.NoError(t, err)
	return s, ws
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func openTestProject(t *testing.T, s *Server, dir string) ProjectResponse {
	t.Helper()

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects", `{"path":"`+dir+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOpenAndListProjects(t *testing.T) {
	s, _ := newTestServer(t)
	dir := t.TempDir()

	created := openTestProject(t, s, dir)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, dir, created.Path)
	assert.False(t, created.InMemory)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []ProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestOpenProjectValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/projects", `{"in_memory":true,"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenInMemoryProject(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects", `{"in_memory":true,"name":"scratch"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.InMemory)
	assert.Empty(t, resp.Path)

	// Duplicate name conflicts.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/projects", `{"in_memory":true,"name":"scratch"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetProjectNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects/00000000-0000-0000-0000-000000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseProject(t *testing.T) {
	s, _ := newTestServer(t)
	created := openTestProject(t, s, t.TempDir())

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/projects/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectProperties(t *testing.T) {
	s, _ := newTestServer(t)
	created := openTestProject(t, s, t.TempDir())

	rec := doRequest(t, s, http.MethodPut, "/api/v1/projects/"+created.ID+"/properties/theme", `{"value":"dark"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/properties/theme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"theme","value":"dark"}`, rec.Body.String())

	// Full listing includes the project ID.
	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/properties", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var props map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	assert.Equal(t, created.ID, props["id"])
	assert.Equal(t, "dark", props["theme"])

	// Null removes.
	rec = doRequest(t, s, http.MethodPut, "/api/v1/projects/"+created.ID+"/properties/theme", `{"value":null}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/properties/theme", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The ID property is read-only.
	rec = doRequest(t, s, http.MethodPut, "/api/v1/projects/"+created.ID+"/properties/id", `{"value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResourceProperties(t *testing.T) {
	s, _ := newTestServer(t)
	created := openTestProject(t, s, t.TempDir())

	body := `{"path":"scripts/q.sql","properties":{"bookmark":true,"position":7}}`
	rec := doRequest(t, s, http.MethodPut, "/api/v1/projects/"+created.ID+"/resources", body)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/resources?path=scripts/q.sql", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bookmark":true,"position":7}`, rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/resources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Contains(t, all, "scripts/q.sql")

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/resources?path=unknown.sql", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodPut, "/api/v1/projects/"+created.ID+"/resources", `{"properties":{"a":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataSources(t *testing.T) {
	s, _ := newTestServer(t)
	created := openTestProject(t, s, t.TempDir())

	body := `{"name":"main-db","driver":"postgres","url":"postgres://localhost/app"}`
	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects/"+created.ID+"/datasources", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ds struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.NotEmpty(t, ds.ID)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/datasources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "main-db")

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/projects/"+created.ID+"/datasources/"+ds.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/projects/"+created.ID+"/datasources/"+ds.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasks(t *testing.T) {
	s, _ := newTestServer(t)
	created := openTestProject(t, s, t.TempDir())

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects/"+created.ID+"/tasks", `{"type":"export","label":"nightly"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/api/v1/projects/"+created.ID+"/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nightly")

	rec = doRequest(t, s, http.MethodPost, "/api/v1/projects/"+created.ID+"/tasks", `{"type":"","label":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
