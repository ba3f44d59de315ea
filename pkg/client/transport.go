package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getmockd/stubby/pkg/logging"
)

// TransportError wraps a network, DNS or TLS failure raised while talking
// to the server. It unwraps to the underlying error.
type TransportError struct {
	Op  string // "connect" or "read"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InsecureStubTLS returns the TLS policy used for stub traffic: any server
// certificate is accepted and the host name is not checked.
// It exists for locally-run stub servers with self-signed certificates and
// must not be used for anything else.
func InsecureStubTLS() *tls.Config {
	return &tls.Config{
		//nolint:gosec // G402: stub servers run with throwaway self-signed certificates
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
}

// Transport turns a Request into a Connection.
// Every Connection gets its own http.Transport; nothing is pooled between calls.
// Connections always go straight to the target: HTTP_PROXY and friends are ignored.
type Transport struct {
	tlsConfig *tls.Config
	timeout   time.Duration
	log       *slog.Logger
}

// NewTransport creates a Transport. A nil tlsConfig means the platform's
// default certificate verification. A zero timeout means none.
func NewTransport(tlsConfig *tls.Config, timeout time.Duration, log *slog.Logger) *Transport {
	if log == nil {
		log = logging.Nop()
	}
	return &Transport{
		tlsConfig: tlsConfig,
		timeout:   timeout,
		log:       log,
	}
}

// Prepare builds a Connection for req without touching the network.
// Headers may still be amended through Connection.Header until Connect is called.
func (t *Transport) Prepare(ctx context.Context, req *Request) (*Connection, error) {
	var body io.Reader
	payload, hasBody := req.Body()
	if hasBody {
		// Hide the concrete reader type so net/http does not infer a length.
		body = io.NopCloser(strings.NewReader(payload))
	}

	target := req.URL()
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if hasBody {
		httpReq.ContentLength = -1
	}
	if creds, ok := req.Credentials(); ok {
		httpReq.Header.Set(AuthorizationHeader, BasicAuthorization(creds))
	}

	rt := &http.Transport{
		DisableKeepAlives: true,
	}
	if req.Scheme() == SchemeHTTPS && t.tlsConfig != nil {
		rt.TLSClientConfig = t.tlsConfig.Clone()
	}

	t.log.Debug("connection prepared", "method", req.Method(), "url", target, "body", hasBody)

	return &Connection{
		url:       target,
		req:       httpReq,
		transport: rt,
		client:    &http.Client{Transport: rt, Timeout: t.timeout},
		log:       t.log,
	}, nil
}

// Connection is a prepared request bound to its own transport.
// It is not safe for concurrent use.
type Connection struct {
	url       string
	req       *http.Request
	transport *http.Transport
	client    *http.Client
	resp      *http.Response
	log       *slog.Logger
	connected bool
	released  bool
}

// Header returns the outgoing request headers. Changes made after Connect have no effect.
func (c *Connection) Header() http.Header {
	return c.req.Header
}

// URL returns the target URL of the connection.
func (c *Connection) URL() string {
	return c.url
}

// Connect transmits the request and waits for the response head.
func (c *Connection) Connect() error {
	if c.connected {
		return fmt.Errorf("connection to %s already used", c.url)
	}
	if c.released {
		return fmt.Errorf("connection to %s already released", c.url)
	}
	c.connected = true

	resp, err := c.client.Do(c.req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		c.log.Debug("connect failed", "url", c.url, "error", err)
		return &TransportError{Op: "connect", URL: c.url, Err: err}
	}
	c.resp = resp
	return nil
}

// Disconnect releases the underlying socket. It is safe to call more than once
// and on a connection that never connected.
func (c *Connection) Disconnect() {
	if c.released {
		return
	}
	c.released = true
	if c.resp != nil {
		_ = c.resp.Body.Close()
	}
	c.transport.CloseIdleConnections()
}
