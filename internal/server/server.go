// Package server runs the development HTTP server: static files, rendered
// templates and optional live reload.
//
// Every request the router does not match explicitly goes through the page
// pipeline: a buffered response, the static file stage, the template stage
// and, with live reload on, the reload script injector.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/sugar/internal/config"
	"github.com/conneroisu/sugar/internal/datasource"
	"github.com/conneroisu/sugar/internal/logging"
	"github.com/conneroisu/sugar/internal/renderer"
	"github.com/conneroisu/sugar/internal/version"
	"github.com/conneroisu/sugar/internal/view"
	"github.com/conneroisu/sugar/internal/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/afero"
)

const shutdownTimeout = 5 * time.Second

// Server serves a template root over HTTP
type Server struct {
	config    *config.Config
	logger    logging.Logger
	fs        afero.Fs
	router    *chi.Mux
	source    *datasource.Source
	templates *renderer.Renderer
	view      *view.Renderer
	hub       *ReloadHub
	watcher   *watcher.FileWatcher

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
}

// New creates a server for cfg reading templates from fsys.
func New(cfg *config.Config, fsys afero.Fs, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	source := datasource.New(fsys, logger)
	templates := renderer.New(fsys, logger)
	templates.SetLocals(cfg.Template.Locals)

	s := &Server{
		config:    cfg,
		logger:    logger.WithComponent("server"),
		fs:        fsys,
		router:    chi.NewRouter(),
		source:    source,
		templates: templates,
		view:      view.NewRenderer(ViewOptions(cfg), source, templates, logger),
	}

	if cfg.Server.LiveReload {
		s.hub = NewReloadHub(cfg.Server.AllowedOrigins, logger)
	}

	if cfg.Watch.Enabled || cfg.Server.LiveReload {
		fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		s.watcher = fw
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// ViewOptions maps the template config onto resolution options.
func ViewOptions(cfg *config.Config) view.Options {
	return view.Options{
		Root:           cfg.Template.Root,
		IsProjectGroup: cfg.Template.ProjectGroup,
		ConfigFilename: cfg.Template.ConfigFilename,
		TemplateExt:    cfg.Template.Ext,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(s.config.Server.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.hub != nil {
		s.router.Get(ReloadPath, s.hub.ServeHTTP)
	}

	s.router.NotFound(s.pages().ServeHTTP)
}

// pages builds the pipeline for everything outside the fixed routes.
func (s *Server) pages() http.Handler {
	tail := http.Handler(view.End)
	if s.hub != nil {
		tail = InjectReload(tail)
	}
	static := Static(s.fs, s.config.Template.Root, s.config.Template.Ext, s.config.Template.ConfigFilename)
	return view.Buffer(static(s.view.Middleware(tail)))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"version":     version.GetShortVersion(),
		"root":        s.config.Template.Root,
		"live_reload": s.hub != nil,
	}
	if s.hub != nil {
		health["clients"] = s.hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

// handleFileChange drops cached templates and configs and tells browsers to
// reload.
func (s *Server) handleFileChange(events []watcher.ChangeEvent) error {
	paths := make([]string, 0, len(events))
	for _, event := range events {
		s.logger.Debug(context.Background(), "File changed", "path", event.Path, "type", event.Type.String())
		paths = append(paths, event.Path)
	}

	s.templates.Reset()
	s.source.Invalidate()

	if s.hub != nil {
		s.hub.Broadcast(UpdateMessage{Type: "reload", Paths: paths, Timestamp: time.Now()})
	}
	return nil
}

func (s *Server) setupFileWatcher(ctx context.Context) error {
	root := s.config.Template.Root
	s.watcher.AddFilter(watcher.NoGitFilter)
	s.watcher.AddFilter(watcher.NoTempFilter)
	s.watcher.AddFilter(watcher.IgnoreFilter(root, s.config.Watch.Ignore))
	s.watcher.AddFilter(watcher.GlobFilter(root, s.config.Watch.Patterns))
	s.watcher.AddHandler(s.handleFileChange)

	if err := s.watcher.AddRecursive(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return s.watcher.Start(ctx)
}

// Start serves until ctx is done or the listener fails, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.watcher != nil {
		if err := s.setupFileWatcher(ctx); err != nil {
			s.logger.Warn(ctx, err, "File watching disabled")
		}
	}
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving templates",
		"url", "http://"+listener.Addr().String(),
		"root", s.config.Template.Root,
		"live_reload", s.hub != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the watcher and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop file watcher")
			}
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
