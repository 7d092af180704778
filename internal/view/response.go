package view

import (
	"bytes"
	"net/http"
)

// Response buffers the status and body of a request so that later stages can
// see what earlier ones produced. The status starts at 404 with no body; the
// first body write switches it to 200 unless a status was set explicitly.
// Headers go straight to the underlying writer's header map.
type Response struct {
	w              http.ResponseWriter
	status         int
	explicitStatus bool
	body           bytes.Buffer
	bodySet        bool
	flushed        bool
}

// NewResponse wraps w in a buffered Response.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusNotFound}
}

// ResponseOf returns the buffered Response behind w, if any.
func ResponseOf(w http.ResponseWriter) (*Response, bool) {
	res, ok := w.(*Response)
	return res, ok
}

func (r *Response) Header() http.Header {
	return r.w.Header()
}

// WriteHeader records the status; nothing is sent until Flush.
func (r *Response) WriteHeader(code int) {
	r.status = code
	r.explicitStatus = true
}

func (r *Response) Write(p []byte) (int, error) {
	r.markBody()
	return r.body.Write(p)
}

// Status returns the current status code.
func (r *Response) Status() int {
	return r.status
}

// BodySet reports whether any stage produced a body.
func (r *Response) BodySet() bool {
	return r.bodySet
}

// Body returns the buffered body.
func (r *Response) Body() []byte {
	return r.body.Bytes()
}

// SetBody replaces the buffered body.
func (r *Response) SetBody(p []byte) {
	r.body.Reset()
	r.markBody()
	r.body.Write(p)
}

func (r *Response) markBody() {
	r.bodySet = true
	if !r.explicitStatus {
		r.status = http.StatusOK
	}
}

// Flush sends the status and body to the underlying writer. A 404 without a
// body gets the standard status text. Flush is a no-op after the first call.
func (r *Response) Flush() error {
	if r.flushed {
		return nil
	}
	r.flushed = true

	if !r.bodySet && r.status == http.StatusNotFound {
		r.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		r.w.Header().Set("X-Content-Type-Options", "nosniff")
		r.w.WriteHeader(r.status)
		_, err := r.w.Write([]byte(http.StatusText(r.status) + "\n"))
		return err
	}

	r.w.WriteHeader(r.status)
	if !r.bodySet {
		return nil
	}
	_, err := r.body.WriteTo(r.w)
	return err
}

// Buffer is the outermost stage of a page pipeline: it gives the stages below
// a shared Response and flushes it once they are done.
func Buffer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ResponseOf(w); ok {
			next.ServeHTTP(w, r)
			return
		}
		res := NewResponse(w)
		next.ServeHTTP(res, r)
		_ = res.Flush()
	})
}

// End terminates a pipeline without touching the response.
var End = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
