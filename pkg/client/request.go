package client

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Scheme is the URL scheme used to reach the stub server.
type Scheme string

// Supported schemes.
const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// ErrInvalidRequest is returned when a Request cannot be constructed.
var ErrInvalidRequest = errors.New("invalid request")

// Request describes a single call to the stub server.
// It is immutable once constructed; use NewRequest or NewRequestWithBody.
type Request struct {
	scheme      Scheme
	method      string
	host        string
	port        int
	uri         string
	credentials string
	body        *string
}

// NewRequest creates a Request for a method that carries no payload.
// An empty credentials string means no Authorization header is sent.
func NewRequest(scheme Scheme, method, uri, host string, port int, credentials string) (*Request, error) {
	if carriesBody(method) {
		return nil, fmt.Errorf("%w: %s requires a body", ErrInvalidRequest, method)
	}
	return newRequest(scheme, method, uri, host, port, credentials, nil)
}

// NewRequestWithBody creates a Request for a payload-carrying method such as POST.
// The body may be empty but is always transmitted.
func NewRequestWithBody(scheme Scheme, method, uri, host string, port int, credentials, body string) (*Request, error) {
	if !carriesBody(method) {
		return nil, fmt.Errorf("%w: %s does not carry a body", ErrInvalidRequest, method)
	}
	return newRequest(scheme, method, uri, host, port, credentials, &body)
}

func newRequest(scheme Scheme, method, uri, host string, port int, credentials string, body *string) (*Request, error) {
	switch scheme {
	case SchemeHTTP, SchemeHTTPS:
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, scheme)
	}
	if method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, port)
	}

	return &Request{
		scheme:      scheme,
		method:      strings.ToUpper(method),
		host:        host,
		port:        port,
		uri:         normalizeURI(uri),
		credentials: credentials,
		body:        body,
	}, nil
}

// carriesBody reports whether requests with this method send a payload.
func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// normalizeURI makes the URI path-rooted.
func normalizeURI(uri string) string {
	if !strings.HasPrefix(uri, "/") {
		return "/" + uri
	}
	return uri
}

// Scheme returns the request scheme.
func (r *Request) Scheme() Scheme { return r.scheme }

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Host returns the target host.
func (r *Request) Host() string { return r.host }

// Port returns the target port.
func (r *Request) Port() int { return r.port }

// URI returns the path-rooted request URI, including any query string.
func (r *Request) URI() string { return r.uri }

// Credentials returns the pre-encoded Basic credentials and whether they are set.
func (r *Request) Credentials() (string, bool) {
	return r.credentials, r.credentials != ""
}

// Body returns the payload and whether the request carries one.
func (r *Request) Body() (string, bool) {
	if r.body == nil {
		return "", false
	}
	return *r.body, true
}

// URL composes the target URL by plain concatenation. The URI is not escaped.
func (r *Request) URL() string {
	return string(r.scheme) + "://" + r.host + ":" + strconv.Itoa(r.port) + r.uri
}
