package core

import "maps"

// Params is a free-form parameter map passed to request builders.
type Params map[string]any

// Request is a transport-neutral HTTP request descriptor produced by a
// Protocol. Path is always relative to the exchange host so that signing
// schemes which cover the request path can reuse it verbatim.
type Request struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       Params            `json:"query,omitempty"`
	Body        any               `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequireAuth bool              `json:"require_auth"`
}

// NewRequest creates a request descriptor for the given method and path.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Query:   make(Params),
		Headers: make(map[string]string),
	}
}

// SetQuery sets a single query parameter and returns the request for chaining.
func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

// SetQueryParams merges the given parameters into the query.
func (r *Request) SetQueryParams(params Params) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	maps.Copy(r.Query, params)
	return r
}

// SetBody sets the request body and returns the request for chaining.
func (r *Request) SetBody(body any) *Request {
	r.Body = body
	return r
}

// SetHeader sets a single header and returns the request for chaining.
func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// SetRequireAuth marks whether the request must be signed before dispatch.
func (r *Request) SetRequireAuth(require bool) *Request {
	r.RequireAuth = require
	return r
}
