// Package view resolves HTTP requests to template files and renders them.
//
// A request that no earlier stage has answered is mapped to a template under
// Options.Root. Requests below /components/ render a single named component
// through a synthetic viewer template instead of a full page. Per-project
// configuration is looked up next to the templates and handed to the
// TemplateRenderer together with the merged locals.
package view

import "context"

const (
	componentsPrefix = "/components/"
	viewerBaseName   = "__component_viewer__"
	indexFile        = "index.html"
	defaultExt       = ".html"
)

// ConfigExtensions are tried in order when looking up a project config file.
var ConfigExtensions = []string{".yml", ".yaml", ".json", ".js"}

// Options configures template resolution.
type Options struct {
	// Root is the directory all templates live under.
	Root string
	// IsProjectGroup makes projects two levels deep: /group/project/...
	IsProjectGroup bool
	// ConfigFilename is the project config base name, without extension.
	ConfigFilename string
	// TemplateExt is the only extension a page request may carry.
	TemplateExt string
}

func (o Options) ext() string {
	if o.TemplateExt == "" {
		return defaultExt
	}
	return o.TemplateExt
}

// ConfigSource finds and parses the first existing file among path+ext for
// each candidate extension. found is false when no candidate exists.
type ConfigSource interface {
	Fetch(ctx context.Context, path string, exts []string) (config map[string]interface{}, found bool, err error)
}

// TemplateRenderer renders template files.
type TemplateRenderer interface {
	Render(ctx context.Context, path, projectDir string, locals, config map[string]interface{}, opts Options) (string, error)
	// RegisterPartial stores in-memory template content under path, taking
	// precedence over any file at that path.
	RegisterPartial(path, content string)
	// Locals returns the renderer-wide default locals.
	Locals() map[string]interface{}
}
