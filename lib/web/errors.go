package web

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
)

// Error is an http-aware error: status code, message and optional headers to
// apply on failure. Only exposable errors leak their message to the client,
// everything else renders as the generic reason phrase for the code.
type Error struct {
	Code      int
	Message   string
	Exposable bool
	Header    http.Header
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// NewError makes an http error with the given status. Client errors (4xx) are
// exposable by default, server errors are not.
func NewError(code int, format string, args ...interface{}) *Error {
	if code < 100 || code > 999 {
		code = http.StatusInternalServerError
	}
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Exposable: code >= 400 && code < 500,
	}
}

// WrapError attaches an http status to an underlying error, keeping the cause
// reachable via errors.Unwrap.
func WrapError(code int, err error, msg string) *Error {
	res := NewError(code, "%s", msg)
	res.cause = err
	return res
}

// asError converts an arbitrary recovered value to an error. Values that are
// not error-shaped get wrapped with a descriptive message so every
// error-handling path can rely on a consistent shape.
func asError(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("non-error value thrown: %v", v)
}

// errorStatus picks a status for an arbitrary pipeline error: the error's own
// status first, then the not-found mapping for missing files, 500 otherwise.
func errorStatus(err error) int {
	var he *Error
	if errors.As(err, &he) && he.Code >= 100 && he.Code <= 999 {
		return he.Code
	}
	if errors.Is(err, fs.ErrNotExist) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
