package view

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		accept  string
		prepare func(res *Response)
		want    bool
	}{
		{name: "get without extension", method: http.MethodGet, target: "/docs/intro", want: true},
		{name: "head", method: http.MethodHead, target: "/docs/intro", want: true},
		{name: "template extension", method: http.MethodGet, target: "/docs/intro.html", want: true},
		{name: "other extension", method: http.MethodGet, target: "/docs/intro.json", want: false},
		{name: "similar extension", method: http.MethodGet, target: "/docs/intro.htm", want: false},
		{name: "dotfile has no extension", method: http.MethodGet, target: "/docs/.well-known", want: true},
		{name: "post", method: http.MethodPost, target: "/docs/intro", want: false},
		{name: "put", method: http.MethodPut, target: "/docs/intro", want: false},
		{name: "browser accept", method: http.MethodGet, target: "/", accept: "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", want: true},
		{name: "wildcard accept", method: http.MethodGet, target: "/", accept: "*/*", want: true},
		{name: "json only", method: http.MethodGet, target: "/", accept: "application/json", want: false},
		{name: "html refused", method: http.MethodGet, target: "/", accept: "text/html;q=0, */*", want: false},
		{
			name:   "body already set",
			method: http.MethodGet,
			target: "/docs",
			prepare: func(res *Response) {
				res.SetBody([]byte("done"))
			},
			want: false,
		},
		{
			name:   "status already set",
			method: http.MethodGet,
			target: "/docs",
			prepare: func(res *Response) {
				res.WriteHeader(http.StatusNoContent)
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			res := NewResponse(httptest.NewRecorder())
			if tt.prepare != nil {
				tt.prepare(res)
			}

			assert.Equal(t, tt.want, Validate(res, req, ".html"))
		})
	}
}

func TestAcceptsHTML(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   bool
	}{
		{"no header", nil, true},
		{"html", []string{"text/html"}, true},
		{"text wildcard", []string{"text/*"}, true},
		{"case insensitive", []string{"Text/HTML"}, true},
		{"several headers", []string{"application/json", "text/html"}, true},
		{"zero quality wildcard", []string{"*/*;q=0"}, false},
		{"plain text", []string{"text/plain"}, false},
		{"quality with spaces", []string{"text/html ; q=0.5"}, true},
		{"specific zero beats wildcard", []string{"text/*;q=0, */*"}, false},
		{"specific html beats zero wildcard", []string{"*/*;q=0, text/html"}, true},
		{"html zero beats text wildcard", []string{"text/*, text/html;q=0"}, false},
		{"zero then positive html", []string{"text/html;q=0", "text/html;q=0.3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, acceptsHTML(tt.values))
		})
	}
}
