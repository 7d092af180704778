package view

import (
	"net/http"
	"strconv"
	"strings"
)

// Validate reports whether a request should be answered with a rendered
// template: a GET or HEAD that no earlier stage has answered, that accepts
// HTML and whose path has no extension or exactly templateExt.
//
// Outside a Buffer the response is assumed untouched.
func Validate(w http.ResponseWriter, r *http.Request, templateExt string) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if res, ok := ResponseOf(w); ok {
		if res.BodySet() || res.Status() != http.StatusNotFound {
			return false
		}
	}
	if !acceptsHTML(r.Header.Values("Accept")) {
		return false
	}
	if ext := extname(r.URL.Path); ext != "" && ext != templateExt {
		return false
	}
	return true
}

// acceptsHTML negotiates text/html against Accept header values. A missing
// header accepts anything. The most specific matching range decides; among
// equally specific ranges the highest quality wins.
func acceptsHTML(values []string) bool {
	if len(values) == 0 {
		return true
	}

	specificity, quality := -1, 0.0
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			mediaRange, q := parseMediaRange(part)
			s, ok := htmlSpecificity[mediaRange]
			if !ok {
				continue
			}
			if s > specificity || (s == specificity && q > quality) {
				specificity, quality = s, q
			}
		}
	}
	return quality > 0
}

// htmlSpecificity ranks the media ranges that match text/html.
var htmlSpecificity = map[string]int{
	"*/*":       0,
	"text/*":    1,
	"text/html": 2,
}

func parseMediaRange(part string) (string, float64) {
	fields := strings.Split(part, ";")
	mediaRange := strings.ToLower(strings.TrimSpace(fields[0]))
	q := 1.0
	for _, param := range fields[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.TrimSpace(key) != "q" {
			continue
		}
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			q = parsed
		}
	}
	return mediaRange, q
}
