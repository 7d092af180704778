package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conneroisu/sugar/internal/config"
	"github.com/conneroisu/sugar/internal/watcher"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Template: config.TemplateConfig{
			Root:           "src",
			ConfigFilename: "config",
			Ext:            ".html",
			Locals:         map[string]interface{}{"site": "Sugar"},
		},
		Watch: config.WatchConfig{
			Patterns: []string{"**/*.html"},
			Debounce: 10 * time.Millisecond,
		},
	}
}

func testFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"src/index.html":                 "<h1>{{ .site }}</h1>",
		"src/docs/config.yml":            "title: Docs\n",
		"src/docs/_layout.html":          "<html><body>{{ .content }}</body></html>",
		"src/docs/intro/index.html":      "<h1>{{ .config.title }}</h1>",
		"src/docs/components/alert.html": "<em>{{ .site }}</em>",
		"src/docs/app.css":               "body{}",
		"src/docs/broken.html":           "{{ if }}",
	}
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
	return fsys
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, testFS(t), nil)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	s := newTestServer(t, testConfig())

	assert.NotNil(t, s.router)
	assert.NotNil(t, s.view)
	assert.Nil(t, s.hub)
	assert.Nil(t, s.watcher)
	assert.Equal(t, "Sugar", s.templates.Locals()["site"])

	cfg := testConfig()
	cfg.Server.LiveReload = true
	s = newTestServer(t, cfg)
	defer s.watcher.Stop()
	assert.NotNil(t, s.hub)
	assert.NotNil(t, s.watcher)
}

func TestViewOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Template.ProjectGroup = true

	opts := ViewOptions(cfg)
	assert.Equal(t, "src", opts.Root)
	assert.True(t, opts.IsProjectGroup)
	assert.Equal(t, "config", opts.ConfigFilename)
	assert.Equal(t, ".html", opts.TemplateExt)
}

func TestPages(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		accept      string
		wantStatus  int
		wantBody    string
		contentType string
	}{
		{
			name:        "root page",
			method:      http.MethodGet,
			target:      "/",
			wantStatus:  http.StatusOK,
			wantBody:    "<h1>Sugar</h1>",
			contentType: "text/html; charset=utf-8",
		},
		{
			name:        "project page with layout and config",
			method:      http.MethodGet,
			target:      "/docs/intro",
			wantStatus:  http.StatusOK,
			wantBody:    "<html><body><h1>Docs</h1></body></html>",
			contentType: "text/html; charset=utf-8",
		},
		{
			name:        "component viewer",
			method:      http.MethodGet,
			target:      "/components/docs/alert",
			wantStatus:  http.StatusOK,
			wantBody:    "<em>Sugar</em>\n",
			contentType: "text/html; charset=utf-8",
		},
		{
			name:        "static file",
			method:      http.MethodGet,
			target:      "/docs/app.css",
			wantStatus:  http.StatusOK,
			wantBody:    "body{}",
			contentType: "text/css; charset=utf-8",
		},
		{
			name:       "config files are not served",
			method:     http.MethodGet,
			target:     "/docs/config.yml",
			wantStatus: http.StatusNotFound,
			wantBody:   "Not Found\n",
		},
		{
			name:       "missing page",
			method:     http.MethodGet,
			target:     "/nope",
			wantStatus: http.StatusNotFound,
			wantBody:   "Not Found\n",
		},
		{
			name:       "broken template",
			method:     http.MethodGet,
			target:     "/docs/broken.html",
			wantStatus: http.StatusNotFound,
			wantBody:   "Not Found\n",
		},
		{
			name:       "post",
			method:     http.MethodPost,
			target:     "/",
			wantStatus: http.StatusNotFound,
			wantBody:   "Not Found\n",
		},
		{
			name:       "json client",
			method:     http.MethodGet,
			target:     "/",
			accept:     "application/json",
			wantStatus: http.StatusNotFound,
			wantBody:   "Not Found\n",
		},
	}

	s := newTestServer(t, testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestPagesStayUnderRoot(t *testing.T) {
	fsys := testFS(t)
	require.NoError(t, afero.WriteFile(fsys, "secret.html", []byte("TOP-SECRET"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "private/index.html", []byte("PRIVATE-INDEX"), 0o644))
	s, err := New(testConfig(), fsys, nil)
	require.NoError(t, err)

	for _, target := range []string{"/../secret.html", "/../private", "/docs/../../secret.html", "/components/../../secret.html"} {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.NotContains(t, rec.Body.String(), "SECRET")
			assert.NotContains(t, rec.Body.String(), "PRIVATE")
		})
	}
}

func TestPagesInjectReloadScript(t *testing.T) {
	cfg := testConfig()
	cfg.Server.LiveReload = true
	s := newTestServer(t, cfg)
	defer s.watcher.Stop()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/intro", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, ReloadPath)
	assert.Regexp(t, `<h1>Docs</h1><script>.*</script></body></html>$`, body)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/app.css", nil))
	assert.Equal(t, "body{}", rec.Body.String(), "only html gets the script")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "src", health["root"])
	assert.Equal(t, false, health["live_reload"])
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleFileChangeResetsTemplates(t *testing.T) {
	fsys := testFS(t)
	s, err := New(testConfig(), fsys, nil)
	require.NoError(t, err)

	get := func() string {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Body.String()
	}
	assert.Equal(t, "<h1>Sugar</h1>", get())

	require.NoError(t, afero.WriteFile(fsys, "src/index.html", []byte("<h2>{{ .site }}</h2>"), 0o644))
	assert.Equal(t, "<h1>Sugar</h1>", get())

	require.NoError(t, s.handleFileChange([]watcher.ChangeEvent{{Path: "src/index.html", Type: watcher.EventTypeModified}}))
	assert.Equal(t, "<h2>Sugar</h2>", get())
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(t, testConfig())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, listener)
	}()

	url := "http://" + listener.Addr().String() + "/"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "<h1>Sugar</h1>", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	// a second shutdown is a no-op
	assert.NoError(t, s.Shutdown(context.Background()))
}
