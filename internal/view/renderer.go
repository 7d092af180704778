package view

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/conneroisu/sugar/internal/logging"
)

// Request is a URL resolved against Options, ready to be rendered.
type Request struct {
	URL         string
	IsComponent bool
	ProjectDir  string
	ConfigPath  string
	Path        string
	Config      map[string]interface{}
	Locals      map[string]interface{}
	// Partial is the viewer template registered at Path for components.
	Partial string
}

// Renderer maps request URLs to template files and renders them.
type Renderer struct {
	opts      Options
	source    ConfigSource
	templates TemplateRenderer
	logger    logging.Logger

	// viewers share one registry entry per project
	viewerMu sync.Mutex
}

// NewRenderer creates a Renderer. source may be nil, in which case every
// project renders with an empty config.
func NewRenderer(opts Options, source ConfigSource, templates TemplateRenderer, logger logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{
		opts:      opts,
		source:    source,
		templates: templates,
		logger:    logger.WithComponent("view"),
	}
}

// Resolve works out which template a URL renders, with which config and
// locals. For components it also builds the viewer partial; Render registers
// it.
func (r *Renderer) Resolve(ctx context.Context, url string, locals map[string]interface{}) (*Request, error) {
	r.logger.Debug(ctx, "Resolving template", "url", url)

	// dot segments must not climb out of Root
	url = path.Clean("/" + url)

	req := &Request{
		URL:    url,
		Locals: mergeLocals(locals, State(ctx), r.templates.Locals()),
	}

	if strings.HasPrefix(url, componentsPrefix) {
		url = url[len(componentsPrefix)-1:]
		req.IsComponent = true
	}

	req.ProjectDir = ProjectDir(url, r.opts.IsProjectGroup)
	req.ConfigPath = path.Join(r.opts.Root, req.ProjectDir, r.opts.ConfigFilename)
	r.logger.Debug(ctx, "Resolved project", "project_dir", req.ProjectDir, "config_path", req.ConfigPath)

	config, err := r.fetchConfig(ctx, req.ConfigPath)
	if err != nil {
		return nil, err
	}
	req.Config = config

	if req.IsComponent {
		req.Path = path.Join(r.opts.Root, req.ProjectDir, viewerBaseName+r.opts.ext())
		name := componentName(url, req.ProjectDir, r.opts.ext())
		r.logger.Debug(ctx, "Rendering component", "component", name, "path", req.Path)
		req.Partial = viewerTemplate(name)
	} else {
		index := ""
		if extname(url) == "" {
			index = indexFile
		}
		req.Path = path.Join(r.opts.Root, url, index)
	}

	return req, nil
}

func (r *Renderer) fetchConfig(ctx context.Context, configPath string) (map[string]interface{}, error) {
	if r.source == nil {
		return map[string]interface{}{}, nil
	}
	config, found, err := r.source.Fetch(ctx, configPath, ConfigExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed to load project config %s: %w", configPath, err)
	}
	if !found || config == nil {
		r.logger.Debug(ctx, "No project config file found", "config_path", configPath)
		return map[string]interface{}{}, nil
	}
	return config, nil
}

// Render resolves url and renders the resulting template.
func (r *Renderer) Render(ctx context.Context, url string, locals map[string]interface{}) (string, error) {
	req, err := r.Resolve(ctx, url, locals)
	if err != nil {
		return "", err
	}
	if req.IsComponent {
		r.viewerMu.Lock()
		defer r.viewerMu.Unlock()
		r.templates.RegisterPartial(req.Path, req.Partial)
	}
	html, err := r.templates.Render(ctx, req.Path, req.ProjectDir, req.Locals, req.Config, r.opts)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", req.Path, err)
	}
	return html, nil
}

// Middleware renders eligible requests and always calls next afterwards.
// Render failures are logged; the response is left for later stages.
func (r *Renderer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !Validate(w, req, r.opts.ext()) {
			next.ServeHTTP(w, req)
			return
		}

		html, err := r.Render(req.Context(), req.URL.Path, nil)
		if err != nil {
			r.logger.Error(req.Context(), err, "Template render failed", "path", req.URL.Path)
			next.ServeHTTP(w, req)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if res, ok := ResponseOf(w); ok {
			res.SetBody([]byte(html))
		} else {
			w.WriteHeader(http.StatusOK)
			if req.Method != http.MethodHead {
				_, _ = w.Write([]byte(html))
			}
		}
		r.logger.Debug(req.Context(), "Attached rendered html", "path", req.URL.Path, "bytes", len(html))
		next.ServeHTTP(w, req)
	})
}

// componentName is the template name a component URL refers to: the URL
// below its project directory, without the template extension.
func componentName(url, projectDir, ext string) string {
	name := strings.TrimPrefix(url, "/")
	if projectDir != "" {
		name = strings.TrimPrefix(name, projectDir)
		name = strings.TrimPrefix(name, "/")
	}
	return strings.TrimSuffix(name, ext)
}

func viewerTemplate(name string) string {
	return "---\nlayout: false\n---\n{{ template " + strconv.Quote(name) + " . }}\n"
}
