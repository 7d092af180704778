package view

import (
	"path"
	"strings"
)

// ProjectDir returns the project a URL belongs to: its first directory
// segment, or its first two when projects are grouped. A trailing file name
// is not a directory. The result has no leading slash.
//
//	ProjectDir("/docs/intro", false)       == "docs"
//	ProjectDir("/team/docs/intro", true)   == "team/docs"
//	ProjectDir("/intro.html", false)       == ""
func ProjectDir(url string, isProjectGroup bool) string {
	trimmed := strings.Trim(path.Clean("/"+url), "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	if extname(segments[len(segments)-1]) != "" {
		segments = segments[:len(segments)-1]
	}

	depth := 1
	if isProjectGroup {
		depth = 2
	}
	if len(segments) < depth {
		depth = len(segments)
	}
	return strings.Join(segments[:depth], "/")
}

// extname returns the extension of the last path element, from its last dot.
// Dotfiles such as "/.env" have no extension.
func extname(p string) string {
	base := path.Base(p)
	i := strings.LastIndex(base, ".")
	if i <= 0 {
		return ""
	}
	return base[i:]
}
