package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Response buffers what an auth action writes so callers can inspect the
// status before deciding whether to forward it.
type Response struct {
	status      int
	header      http.Header
	body        bytes.Buffer
	wroteHeader bool
}

// NewResponse returns an empty buffered response with status 200.
func NewResponse() *Response {
	return &Response{
		status: http.StatusOK,
		header: make(http.Header),
	}
}

// Header returns the buffered header map
func (r *Response) Header() http.Header {
	return r.header
}

// WriteHeader captures the status code. Only the first call counts.
func (r *Response) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
}

// Write appends to the buffered body
func (r *Response) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// Status returns the captured status code
func (r *Response) Status() int {
	return r.status
}

// Body returns the buffered body bytes
func (r *Response) Body() []byte {
	return r.body.Bytes()
}

// Cookies parses the Set-Cookie headers written so far.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.header}).Cookies()
}

// Send copies the buffered response to w.
func (r *Response) Send(w http.ResponseWriter) error {
	dst := w.Header()
	for k, v := range r.header {
		dst[k] = append(dst[k][:0:0], v...)
	}
	w.WriteHeader(r.status)
	_, err := w.Write(r.body.Bytes())
	return err
}

func (r *Response) reset() {
	r.status = http.StatusOK
	r.header = make(http.Header)
	r.body.Reset()
	r.wroteHeader = false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
}
