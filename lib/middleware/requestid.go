package middleware

import (
	"github.com/google/uuid"

	"github.com/axonhttp/axon/lib/web"
)

// RequestIDHeader is the header carrying the request correlation id.
const RequestIDHeader = "X-Request-Id"

// RequestIDKey is the state key holding the id for downstream middleware.
const RequestIDKey = "request_id"

// RequestID tags every request with a correlation id, reusing the inbound
// header when the client supplied one.
func RequestID() web.Handler {
	return func(c *web.Context, next web.Next) error {
		id := c.Request.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.State[RequestIDKey] = id
		c.Response.Set(RequestIDHeader, id)
		return next()
	}
}
