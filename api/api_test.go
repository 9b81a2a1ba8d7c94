package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/auth"
	"launchpad/cloudflare"
	"launchpad/store"
	"launchpad/types"
)

// fakeLifecycle keeps projects in memory and fails on demand.
type fakeLifecycle struct {
	mu       sync.Mutex
	projects map[string]types.Project
	runErr   error
	stopErr  error
	ran      []string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{projects: map[string]types.Project{}}
}

func (f *fakeLifecycle) Install(_ context.Context, url string) (types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(url)
	name = name[:len(name)-len(filepath.Ext(name))]
	if _, ok := f.projects[name]; ok {
		return types.Project{}, types.Errorf(types.CodeAlreadyExists, "install", name, "project already exists")
	}
	p := types.Project{Name: name, SourceURL: url, Status: types.StatusIdle, Environment: map[string]string{}}
	f.projects[name] = p
	return p, nil
}

func (f *fakeLifecycle) Run(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[name]; !ok {
		return types.Errorf(types.CodeNotFound, "run", name, "project not found")
	}
	f.ran = append(f.ran, name)
	return f.runErr
}

func (f *fakeLifecycle) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[name]; !ok {
		return types.Errorf(types.CodeNotFound, "stop", name, "project not found")
	}
	return f.stopErr
}

func (f *fakeLifecycle) UpdateSettings(_ context.Context, name string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[name]
	if !ok {
		return types.Errorf(types.CodeNotFound, "update settings", name, "project not found")
	}
	p.Environment = env
	f.projects[name] = p
	return nil
}

func (f *fakeLifecycle) Settings(ctx context.Context, name string) (map[string]string, error) {
	p, err := f.Get(ctx, name)
	return p.Environment, err
}

func (f *fakeLifecycle) Get(_ context.Context, name string) (types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[name]
	if !ok {
		return types.Project{}, types.Errorf(types.CodeNotFound, "get project", name, "project not found")
	}
	return p, nil
}

func (f *fakeLifecycle) List(context.Context) ([]types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.Project{}
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

type testServer struct {
	srv       *httptest.Server
	lifecycle *fakeLifecycle
	token     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	authSvc := auth.NewService(st, "secret", time.Hour, logger)
	lc := newFakeLifecycle()

	client, err := cloudflare.NewClient(types.CloudflareConfig{BaseDomain: "example.com"}, "127.0.0.1", logger)
	require.NoError(t, err)
	domains := cloudflare.NewManager(client, true, logger)

	router := Router{
		Projects: NewProjectHandler(lc, logger),
		Domains:  NewDomainHandler(domains, lc, logger),
		Auth:     NewAuthHandler(authSvc, logger),
		Guard:    authSvc.Middleware,
		Logger:   logger,
	}
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)

	ts := &testServer{srv: srv, lifecycle: lc}

	resp := ts.do(t, http.MethodPost, "/register", `{"username":"ada","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.status)

	resp = ts.do(t, http.MethodPost, "/login", `{"username":"ada","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.status)
	ts.token, _ = resp.body["token"].(string)
	require.NotEmpty(t, ts.token)
	return ts
}

type response struct {
	status int
	body   map[string]any
	raw    []byte
}

func (ts *testServer) do(t *testing.T, method, path, body string) response {
	t.Helper()
	return ts.doWithToken(t, method, path, body, ts.token)
}

func (ts *testServer) doWithToken(t *testing.T, method, path, body, token string) response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode, raw: raw}
	_ = json.Unmarshal(raw, &out.body)
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.doWithToken(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])
}

func TestLifecycleRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.doWithToken(t, http.MethodGet, "/projects", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = ts.doWithToken(t, http.MethodPost, "/run", `{"projectName":"x"}`, "garbage")
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Empty(t, ts.lifecycle.ran)
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.doWithToken(t, http.MethodPost, "/login", `{"username":"ada","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, false, resp.body["success"])
	assert.Equal(t, "UNAUTHORIZED", resp.body["code"])

	resp = ts.doWithToken(t, http.MethodPost, "/register", `{"username":"ada","password":"x"}`, "")
	assert.Equal(t, http.StatusConflict, resp.status)
}

func TestInstallAndList(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/install", `{"repoUrl":"https://example.com/sample.git"}`)
	require.Equal(t, http.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, true, resp.body["success"])
	assert.Equal(t, "sample", resp.body["projectName"])

	resp = ts.do(t, http.MethodPost, "/install", `{"repoUrl":"https://example.com/sample.git"}`)
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "ALREADY_EXISTS", resp.body["code"])
	assert.Equal(t, "project already exists", resp.body["error"])

	resp = ts.do(t, http.MethodPost, "/install", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = ts.do(t, http.MethodPost, "/install", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = ts.do(t, http.MethodGet, "/projects", "")
	require.Equal(t, http.StatusOK, resp.status)
	projects, ok := resp.body["projects"].([]any)
	require.True(t, ok)
	require.Len(t, projects, 1)
	first := projects[0].(map[string]any)
	assert.Equal(t, "sample", first["name"])
	assert.Equal(t, "https://example.com/sample.git", first["repoUrl"])
	assert.Equal(t, "idle", first["status"])

	resp = ts.do(t, http.MethodGet, "/project/sample", "")
	assert.Equal(t, http.StatusOK, resp.status)
	resp = ts.do(t, http.MethodGet, "/project/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestSettingsRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/install", `{"repoUrl":"https://example.com/sample.git"}`)

	resp := ts.do(t, http.MethodPost, "/project/sample/settings", `{"envVariables":{"B":"2","A":"1"}}`)
	require.Equal(t, http.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "Project settings updated successfully", resp.body["message"])

	resp = ts.do(t, http.MethodGet, "/project/sample/settings", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, map[string]any{"A": "1", "B": "2"}, resp.body["settings"])

	resp = ts.do(t, http.MethodPost, "/project/sample/settings", `{"envVariables":{"PORT":3000}}`)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "INVALID_INPUT", resp.body["code"])

	for _, body := range []string{`{}`, `{"envVariables":null}`, `{"env":{"A":"1"}}`} {
		resp = ts.do(t, http.MethodPost, "/project/sample/settings", body)
		assert.Equal(t, http.StatusBadRequest, resp.status, body)
		assert.Equal(t, "INVALID_INPUT", resp.body["code"], body)
	}

	resp = ts.do(t, http.MethodGet, "/project/sample/settings", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, map[string]any{"A": "1", "B": "2"}, resp.body["settings"], "rejected updates must leave settings intact")

	resp = ts.do(t, http.MethodPost, "/project/sample/settings", `{"envVariables":{}}`)
	require.Equal(t, http.StatusOK, resp.status)
	resp = ts.do(t, http.MethodGet, "/project/sample/settings", "")
	assert.Equal(t, map[string]any{}, resp.body["settings"])

	resp = ts.do(t, http.MethodGet, "/project/ghost/settings", "")
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestRunAndStopRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/install", `{"repoUrl":"https://example.com/sample.git"}`)

	resp := ts.do(t, http.MethodPost, "/run", `{"projectName":"sample"}`)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Project started successfully", resp.body["message"])
	assert.Equal(t, []string{"sample"}, ts.lifecycle.ran)

	resp = ts.do(t, http.MethodPost, "/run", `{"projectName":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = ts.do(t, http.MethodPost, "/run", `{"projectName":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = ts.do(t, http.MethodPost, "/stop", `{"projectName":"sample"}`)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Project stopped successfully", resp.body["message"])
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/install", `{"repoUrl":"https://example.com/sample.git"}`)

	tests := []struct {
		err  error
		want int
	}{
		{types.Errorf(types.CodeAlreadyRunning, "run", "sample", "project is already running"), http.StatusConflict},
		{types.Errorf(types.CodeManifest, "run", "sample", "no start or dev script"), http.StatusBadRequest},
		{types.Errorf(types.CodeSpawnFailed, "run", "sample", "exec failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ts.lifecycle.mu.Lock()
		ts.lifecycle.runErr = tt.err
		ts.lifecycle.mu.Unlock()

		resp := ts.do(t, http.MethodPost, "/run", `{"projectName":"sample"}`)
		assert.Equal(t, tt.want, resp.status, "code %s", types.CodeOf(tt.err))
		assert.Equal(t, string(types.CodeOf(tt.err)), resp.body["code"])
		assert.Equal(t, false, resp.body["success"])
	}

	ts.lifecycle.mu.Lock()
	ts.lifecycle.stopErr = types.Errorf(types.CodeTerminationFailed, "terminate", "sample", "did not exit")
	ts.lifecycle.mu.Unlock()
	resp := ts.do(t, http.MethodPost, "/stop", `{"projectName":"sample"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.Equal(t, "TERMINATION_FAILED", resp.body["code"])
}

func TestDomainRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/install", `{"repoUrl":"https://example.com/sample.git"}`)

	resp := ts.do(t, http.MethodGet, "/domains/sample", "")
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = ts.do(t, http.MethodPost, "/domains/sample", "")
	require.Equal(t, http.StatusCreated, resp.status, string(resp.raw))
	assert.Equal(t, "sample.example.com", resp.body["domain"])

	resp = ts.do(t, http.MethodPost, "/domains/sample", "")
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = ts.do(t, http.MethodPost, "/domains/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = ts.do(t, http.MethodGet, "/domains", "")
	require.Equal(t, http.StatusOK, resp.status)
	var list []types.ProjectDomain
	require.NoError(t, json.Unmarshal(resp.raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "sample", list[0].Project)

	resp = ts.do(t, http.MethodDelete, "/domains/sample", "")
	assert.Equal(t, http.StatusOK, resp.status)
	resp = ts.do(t, http.MethodDelete, "/domains/sample", "")
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(types.CodeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(types.CodeAlreadyExists))
	assert.Equal(t, http.StatusConflict, statusFor(types.CodeAlreadyRunning))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.CodeInvalidInput))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.CodeManifest))
	assert.Equal(t, http.StatusUnauthorized, statusFor(types.CodeUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(types.CodeFetchFailed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(types.CodeDatabase))
}
