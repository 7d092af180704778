package server

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Static serves plain files from root. Paths without an extension, template
// files and project config files are left to later stages.
func Static(fsys afero.Fs, root, templateExt, configFilename string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			urlPath := path.Clean("/" + r.URL.Path)
			ext := path.Ext(urlPath)
			base := strings.TrimSuffix(path.Base(urlPath), ext)
			if ext == "" || ext == templateExt || base == configFilename || strings.HasPrefix(path.Base(urlPath), ".") {
				next.ServeHTTP(w, r)
				return
			}

			name := filepath.Join(root, filepath.FromSlash(urlPath))
			f, err := fsys.Open(name)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil || info.IsDir() {
				next.ServeHTTP(w, r)
				return
			}

			http.ServeContent(w, r, info.Name(), info.ModTime(), f)
		})
	}
}
