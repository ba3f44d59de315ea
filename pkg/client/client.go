// Package client issues HTTP requests against a stub server (or any HTTP(S)
// endpoint) and returns fully-read responses.
//
// Every call builds its own connection and releases it before returning.
// Non-2xx statuses are returned as normal responses; only transport
// failures become errors.
package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/getmockd/stubby/pkg/logging"
)

// Defaults used by the convenience entry points.
const (
	DefaultHost      = "localhost"
	DefaultStubsPort = 8882
	DefaultAdminPort = 8889
	DefaultTLSPort   = 7443
)

// Client makes requests to a stub server.
type Client struct {
	tlsConfig *tls.Config
	timeout   time.Duration
	log       *slog.Logger
	transport *Transport
}

// Option configures a Client.
type Option func(*Client)

// WithTLSConfig sets the TLS configuration for HTTPS requests.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithInsecureStubTLS makes HTTPS requests accept any server certificate.
// See InsecureStubTLS.
func WithInsecureStubTLS() Option {
	return WithTLSConfig(InsecureStubTLS())
}

// WithTimeout bounds each request, including reading the body.
// By default no timeout is set and the context alone controls cancellation.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Client that verifies server certificates the platform way.
func New(opts ...Option) *Client {
	c := &Client{
		log: logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = NewTransport(c.tlsConfig, c.timeout, c.log)
	return c
}

// NewStubClient creates a Client for a locally-run stub server. HTTPS
// requests use InsecureStubTLS unless a later option overrides it.
func NewStubClient(opts ...Option) *Client {
	return New(append([]Option{WithInsecureStubTLS()}, opts...)...)
}

// Do sends req and returns the materialized response.
// The connection is released on every path out of Do.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	conn, err := c.transport.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer conn.Disconnect()

	if err := conn.Connect(); err != nil {
		return nil, err
	}

	resp, err := Materialize(conn)
	if err != nil {
		return nil, err
	}

	c.log.Debug("request completed",
		"method", req.Method(),
		"url", conn.URL(),
		"status", resp.StatusCode(),
		"bytes", len(resp.Body()),
	)
	return resp, nil
}

// Get makes a plain HTTP GET request. An empty credentials string sends no
// Authorization header.
func (c *Client) Get(ctx context.Context, host, uri string, port int, credentials string) (*Response, error) {
	req, err := NewRequest(SchemeHTTP, http.MethodGet, uri, host, port, credentials)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// GetOverTLS makes an HTTPS GET request on DefaultTLSPort.
// A client from New verifies the server certificate, so against a stub
// server with a self-signed certificate use NewStubClient or WithInsecureStubTLS.
func (c *Client) GetOverTLS(ctx context.Context, host, uri, credentials string) (*Response, error) {
	req, err := NewRequest(SchemeHTTPS, http.MethodGet, uri, host, DefaultTLSPort, credentials)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// GetWithDefaults makes a GET request to DefaultHost:DefaultStubsPort.
func (c *Client) GetWithDefaults(ctx context.Context, uri, credentials string) (*Response, error) {
	return c.Get(ctx, DefaultHost, uri, DefaultStubsPort, credentials)
}

// Post makes a plain HTTP POST request with body as the payload.
func (c *Client) Post(ctx context.Context, host, uri string, port int, credentials, body string) (*Response, error) {
	req, err := NewRequestWithBody(SchemeHTTP, http.MethodPost, uri, host, port, credentials, body)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// PostWithDefaults makes a POST request to DefaultHost:DefaultStubsPort.
func (c *Client) PostWithDefaults(ctx context.Context, uri, body, credentials string) (*Response, error) {
	return c.Post(ctx, DefaultHost, uri, DefaultStubsPort, credentials, body)
}
