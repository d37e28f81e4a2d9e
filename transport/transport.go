package transport

import (
	"context"
	"net/http"
	"net/url"
)

// Request is an outbound call relative to the platform base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy of r so a retry never observes mutations of the first attempt.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := &Request{
		Method: r.Method,
		Path:   r.Path,
		Header: r.Header.Clone(),
	}
	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// SetBearer sets the Authorization header to a bearer token.
func (r *Request) SetBearer(token string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set("Authorization", "Bearer "+token)
}

// Response is a 2xx reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Event is one server-push message.
type Event struct {
	Name string
	Data []byte
}

// EventStream yields server-push events until closed.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Transport performs requests against the platform.
//
// RoundTrip must return a *ServiceError for every non-2xx response. Stream must do the
// same when the stream cannot be opened.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (EventStream, error)
}
