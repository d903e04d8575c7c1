package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// MarshalBody serializes a structured body the same way finalization does.
func MarshalBody(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// statusEmpty lists codes that must carry no body.
func statusEmpty(code int) bool {
	return code == http.StatusNoContent || code == http.StatusResetContent ||
		code == http.StatusNotModified || (code >= 100 && code < 200)
}

// Response is the outgoing side of the context. Status and body live here
// until the application finalizes them; once headers hit the transport all
// header and status mutation becomes a no-op, never an error.
type Response struct {
	w http.ResponseWriter

	status         int
	explicitStatus bool
	body           interface{}
	explicitNull   bool
	headerWritten  bool
}

func newResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusNotFound}
}

// Header returns the outgoing header map.
func (r *Response) Header() http.Header { return r.w.Header() }

// Status returns the current response status, 404 until set.
func (r *Response) Status() int { return r.status }

// HeaderSent reports whether headers were transmitted to the transport.
func (r *Response) HeaderSent() bool { return r.headerWritten }

// SetStatus sets the response code. Invalid codes are a programming error and
// panic; the pipeline converts the panic to a 500-class failure. After
// headers are sent the call is silently ignored.
func (r *Response) SetStatus(code int) {
	if r.headerWritten {
		return
	}
	if code < 100 || code > 999 {
		panic(&PipelineError{Reason: fmt.Sprintf("invalid status code %d", code)})
	}
	r.status = code
	r.explicitStatus = true
	if r.body != nil && statusEmpty(code) {
		r.body = nil
	}
}

// Body returns the current body value.
func (r *Response) Body() interface{} { return r.body }

// SetBody assigns the response body. Accepted kinds: nil (explicit empty),
// string, []byte, io.Reader and anything else serialized as json. Setting nil
// transitions an unset status to 204 unless the content type is json, in
// which case the body becomes the json literal null.
func (r *Response) SetBody(v interface{}) {
	r.body = v

	if v == nil {
		if !statusEmpty(r.status) {
			if strings.Contains(r.Get("Content-Type"), "json") {
				r.body = "null"
				return
			}
			if !r.explicitStatus {
				r.status = http.StatusNoContent
			}
		}
		r.explicitNull = true
		r.Remove("Content-Type")
		r.Remove("Content-Length")
		r.Remove("Transfer-Encoding")
		return
	}

	r.explicitNull = false
	if !r.explicitStatus {
		r.status = http.StatusOK
	}

	// default content type for the body kind, set only if not defined yet
	if r.Get("Content-Type") == "" {
		switch b := v.(type) {
		case string:
			if strings.HasPrefix(strings.TrimSpace(b), "<") {
				r.Set("Content-Type", "text/html; charset=utf-8")
			} else {
				r.Set("Content-Type", "text/plain; charset=utf-8")
			}
		case []byte, io.Reader:
			r.Set("Content-Type", "application/octet-stream")
		default:
			r.Set("Content-Type", "application/json; charset=utf-8")
		}
	}
}

// ReplaceBody swaps the body value without touching status, content type or
// the explicit-null marker. Meant for middleware transforming an already set
// body, like compressors.
func (r *Response) ReplaceBody(v interface{}) {
	if r.headerWritten {
		return
	}
	r.body = v
}

// Length returns the derivable byte length of the body, ok=false for streams
// and unset bodies.
func (r *Response) Length() (int, bool) {
	switch b := r.body.(type) {
	case string:
		return len(b), true
	case []byte:
		return len(b), true
	}
	return 0, false
}

// Get returns an outgoing header value.
func (r *Response) Get(key string) string { return r.w.Header().Get(key) }

// Set sets an outgoing header, ignored after headers are sent.
func (r *Response) Set(key, value string) {
	if r.headerWritten {
		return
	}
	r.w.Header().Set(key, value)
}

// Append adds an outgoing header value, ignored after headers are sent.
func (r *Response) Append(key, value string) {
	if r.headerWritten {
		return
	}
	r.w.Header().Add(key, value)
}

// Remove deletes an outgoing header, ignored after headers are sent.
func (r *Response) Remove(key string) {
	if r.headerWritten {
		return
	}
	r.w.Header().Del(key)
}

// writeHeader transmits status and headers once.
func (r *Response) writeHeader() {
	if r.headerWritten {
		return
	}
	r.headerWritten = true
	r.w.WriteHeader(r.status)
}

// end transmits headers and an optional payload.
func (r *Response) end(payload []byte) {
	r.writeHeader()
	if len(payload) > 0 {
		_, _ = r.w.Write(payload)
	}
}

// setLength sets Content-Length unless headers are out already.
func (r *Response) setLength(n int) {
	r.Set("Content-Length", strconv.Itoa(n))
}
