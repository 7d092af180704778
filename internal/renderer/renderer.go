// Package renderer renders HTML pages from html/template files.
//
// A page may open with a YAML front matter block delimited by "---" lines.
// Its "layout" key picks the layout the rendered page is wrapped in: false
// disables layouts, a string names a layout file in the project directory,
// and without the key the project's _layout file is used when it exists.
// Every file under <project>/components is available to pages as a named
// template, named by its path below that directory without extension.
//
// Registered partials are in-memory files that shadow the filesystem. Parsed
// template sets are cached until Reset is called.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conneroisu/sugar/internal/logging"
	"github.com/conneroisu/sugar/internal/view"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	componentsDir = "components"
	layoutBase    = "_layout"
)

// compiled is a parsed page together with the components it can reach.
type compiled struct {
	tmpl *template.Template
	meta map[string]interface{}
}

// Renderer implements view.TemplateRenderer.
type Renderer struct {
	fs     afero.Fs
	logger logging.Logger
	funcs  template.FuncMap

	mu       sync.RWMutex
	partials map[string]string
	cache    map[string]*compiled
	locals   map[string]interface{}
}

var _ view.TemplateRenderer = (*Renderer)(nil)

// New creates a Renderer reading templates from fsys.
func New(fsys afero.Fs, logger logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{
		fs:       fsys,
		logger:   logger.WithComponent("renderer"),
		funcs:    defaultFuncs(),
		partials: make(map[string]string),
		cache:    make(map[string]*compiled),
		locals:   make(map[string]interface{}),
	}
}

// SetLocals replaces the renderer-wide default locals.
func (r *Renderer) SetLocals(locals map[string]interface{}) {
	copied := make(map[string]interface{}, len(locals))
	for k, v := range locals {
		copied[k] = v
	}
	r.mu.Lock()
	r.locals = copied
	r.mu.Unlock()
}

// Locals returns a copy of the default locals.
func (r *Renderer) Locals() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := make(map[string]interface{}, len(r.locals))
	for k, v := range r.locals {
		copied[k] = v
	}
	return copied
}

// RegisterPartial stores content under path. It shadows any file at path and
// drops cached templates built from the old content.
func (r *Renderer) RegisterPartial(path, content string) {
	path = filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.partials[path]; ok && old == content {
		return
	}
	r.partials[path] = content
	for key := range r.cache {
		if strings.HasPrefix(key, path+"\x00") {
			delete(r.cache, key)
		}
	}
}

// Reset drops every cached template. Registered partials are kept.
func (r *Renderer) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*compiled)
	r.mu.Unlock()
}

// Render executes the template at path and wraps it in its layout.
func (r *Renderer) Render(ctx context.Context, path, projectDir string, locals, config map[string]interface{}, opts view.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	page, err := r.compile(ctx, path, projectDir, opts)
	if err != nil {
		return "", err
	}

	data := make(map[string]interface{}, len(locals)+3)
	for k, v := range locals {
		data[k] = v
	}
	data["config"] = config
	data["page"] = page.meta

	var body bytes.Buffer
	if err := page.tmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}

	layoutPath, err := r.layoutFor(path, projectDir, page.meta, opts)
	if err != nil || layoutPath == "" {
		return body.String(), err
	}
	r.logger.Debug(ctx, "Applying layout", "path", path, "layout", layoutPath)

	layout, err := r.compile(ctx, layoutPath, projectDir, opts)
	if err != nil {
		return "", fmt.Errorf("layout for %s: %w", path, err)
	}
	data["content"] = template.HTML(body.String()) //nolint:gosec // rendered by html/template

	var out bytes.Buffer
	if err := layout.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("execute layout %s: %w", layoutPath, err)
	}
	return out.String(), nil
}

// layoutFor returns the layout path for a page, or "" for none.
func (r *Renderer) layoutFor(path, projectDir string, meta map[string]interface{}, opts view.Options) (string, error) {
	ext := templateExt(opts)
	layout, ok := meta["layout"]
	if !ok {
		candidate := filepath.Join(opts.Root, projectDir, layoutBase+ext)
		if filepath.Clean(path) == candidate || !r.exists(candidate) {
			return "", nil
		}
		return candidate, nil
	}

	switch v := layout.(type) {
	case bool:
		if v {
			return "", fmt.Errorf("%s: layout: true is not a layout name", path)
		}
		return "", nil
	case nil:
		return "", nil
	case string:
		if filepath.Ext(v) == "" {
			v += ext
		}
		return filepath.Join(opts.Root, projectDir, v), nil
	default:
		return "", fmt.Errorf("%s: layout must be false or a file name, got %T", path, layout)
	}
}

func (r *Renderer) compile(ctx context.Context, path, projectDir string, opts view.Options) (*compiled, error) {
	path = filepath.Clean(path)
	key := path + "\x00" + projectDir

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	src, err := r.read(path)
	if err != nil {
		return nil, err
	}
	meta, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, fmt.Errorf("front matter in %s: %w", path, err)
	}

	tmpl := template.New(path).Funcs(r.funcs)
	components, err := r.addComponents(tmpl, filepath.Join(opts.Root, projectDir, componentsDir), templateExt(opts))
	if err != nil {
		return nil, err
	}
	if _, err := tmpl.Parse(body); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := &compiled{tmpl: tmpl, meta: meta}
	r.mu.Lock()
	r.cache[key] = c
	r.mu.Unlock()

	r.logger.Debug(ctx, "Compiled template", "path", path, "components", components)
	return c, nil
}

// addComponents parses every template below dir into tmpl.
func (r *Renderer) addComponents(tmpl *template.Template, dir, ext string) (int, error) {
	exists, err := afero.DirExists(r.fs, dir)
	if err != nil || !exists {
		return 0, err
	}

	count := 0
	err = afero.Walk(r.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ext {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ext)

		src, err := r.read(path)
		if err != nil {
			return err
		}
		_, body, err := splitFrontMatter(src)
		if err != nil {
			return fmt.Errorf("front matter in %s: %w", path, err)
		}
		if _, err := tmpl.New(name).Parse(body); err != nil {
			return fmt.Errorf("parse component %s: %w", path, err)
		}
		count++
		return nil
	})
	return count, err
}

func (r *Renderer) read(path string) (string, error) {
	r.mu.RLock()
	content, ok := r.partials[filepath.Clean(path)]
	r.mu.RUnlock()
	if ok {
		return content, nil
	}

	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("template %s: %w", path, fs.ErrNotExist)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (r *Renderer) exists(path string) bool {
	r.mu.RLock()
	_, ok := r.partials[path]
	r.mu.RUnlock()
	if ok {
		return true
	}
	found, err := afero.Exists(r.fs, path)
	return err == nil && found
}

// splitFrontMatter separates a leading "---" YAML block from the template
// body. Sources without one have empty metadata.
func splitFrontMatter(src string) (map[string]interface{}, string, error) {
	meta := map[string]interface{}{}

	rest, ok := cutDelimiter(src)
	if !ok {
		return meta, src, nil
	}

	// prepend a newline so an empty block closes on its first line
	framed := "\n" + rest
	end := strings.Index(framed, "\n---")
	if end < 0 {
		return nil, "", errors.New("unterminated front matter")
	}
	block := ""
	if end > 0 {
		block = framed[1:end]
	}
	body := framed[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 && strings.TrimSpace(body[:i]) == "" {
		body = body[i+1:]
	} else if strings.TrimSpace(body) == "" {
		body = ""
	}

	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return nil, "", err
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return meta, body, nil
}

// cutDelimiter strips an opening "---" line.
func cutDelimiter(src string) (string, bool) {
	for _, prefix := range []string{"---\n", "---\r\n"} {
		if rest, ok := strings.CutPrefix(src, prefix); ok {
			return rest, true
		}
	}
	return "", false
}

func templateExt(opts view.Options) string {
	if opts.TemplateExt == "" {
		return ".html"
	}
	return opts.TemplateExt
}

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"default": func(fallback, value interface{}) interface{} {
			if value == nil || value == "" {
				return fallback
			}
			return value
		},
		"join": strings.Join,
	}
}
