package stubtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/getmockd/stubby/pkg/client"
	"github.com/getmockd/stubby/pkg/config"
	"github.com/getmockd/stubby/pkg/lifecycle"
	"github.com/getmockd/stubby/pkg/logging"
	"github.com/getmockd/stubby/pkg/requestlog"
	"github.com/getmockd/stubby/pkg/stubserver"
)

// Host is the loopback address the harness binds to.
const Host = "127.0.0.1"

// Server is a stub server started for one test.
type Server struct {
	t          testing.TB
	facade     *lifecycle.Facade
	server     *stubserver.Server
	client     *client.Client
	configPath string
	handler    http.Handler
	tls        bool
}

// Option configures a Server.
type Option func(*Server)

// WithHandler sets the handler answering stub requests. The default answers 404.
func WithHandler(h http.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithEcho answers stub requests with stubserver.EchoHandler.
func WithEcho() Option {
	return WithHandler(stubserver.EchoHandler())
}

// WithConfigFile starts the server from a YAML configuration file.
// Ports and host from the file are overridden so parallel tests never collide.
func WithConfigFile(path string) Option {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithoutTLS skips the TLS listener.
func WithoutTLS() Option {
	return func(s *Server) {
		s.tls = false
	}
}

// New starts a stub server on free loopback ports and stops it when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{t: t, tls: true}
	for _, opt := range opts {
		opt(s)
	}

	factory := stubserver.NewFactory(
		stubserver.WithHandler(s.handler),
		stubserver.WithLogger(logging.Nop()),
	)
	s.facade = lifecycle.New(s.configPath, lifecycle.FactoryFunc(
		func(configPath string, params config.Params) (lifecycle.Manager, error) {
			params[config.OptionAddress] = Host
			params[config.OptionTLSPort] = "0"
			mgr, err := factory.Construct(configPath, params)
			if err != nil {
				return nil, err
			}
			srv := mgr.(*stubserver.Server)
			srv.Config().TLS.Enabled = s.tls
			return srv, nil
		}))

	if err := s.facade.StartOn(context.Background(), 0, 0); err != nil {
		t.Fatalf("failed to start stub server: %v", err)
	}
	s.server = s.facade.Manager().(*stubserver.Server)
	s.client = client.NewStubClient()

	t.Cleanup(func() {
		if err := s.facade.Stop(context.Background()); err != nil {
			t.Errorf("failed to stop stub server: %v", err)
		}
	})
	return s
}

// Facade returns the lifecycle facade controlling the server.
func (s *Server) Facade() *lifecycle.Facade { return s.facade }

// Server returns the running stub server.
func (s *Server) Server() *stubserver.Server { return s.server }

// Client returns a stub client for the server.
func (s *Server) Client() *client.Client { return s.client }

// StubsPort returns the bound stubs port.
func (s *Server) StubsPort() int { return s.server.StubsPort() }

// AdminPort returns the bound admin port.
func (s *Server) AdminPort() int { return s.server.AdminPort() }

// TLSPort returns the bound TLS port, or 0 without TLS.
func (s *Server) TLSPort() int { return s.server.TLSPort() }

// URL returns the base URL of the stubs port.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s:%d", Host, s.StubsPort())
}

// TLSURL returns the base URL of the TLS port.
func (s *Server) TLSURL() string {
	return fmt.Sprintf("https://%s:%d", Host, s.TLSPort())
}

// AdminURL returns the base URL of the admin port.
func (s *Server) AdminURL() string {
	return fmt.Sprintf("http://%s:%d", Host, s.AdminPort())
}

// Get issues a GET to the stubs port. Transport errors fail the test.
func (s *Server) Get(uri string) *client.Response {
	s.t.Helper()
	resp, err := s.client.Get(context.Background(), Host, uri, s.StubsPort(), "")
	if err != nil {
		s.t.Fatalf("GET %s: %v", uri, err)
	}
	return resp
}

// GetTLS issues a GET to the TLS port.
func (s *Server) GetTLS(uri string) *client.Response {
	s.t.Helper()
	req, err := client.NewRequest(client.SchemeHTTPS, http.MethodGet, uri, Host, s.TLSPort(), "")
	if err != nil {
		s.t.Fatalf("GET %s: %v", uri, err)
	}
	return s.do(req)
}

// Post issues a POST with body to the stubs port.
func (s *Server) Post(uri, body string) *client.Response {
	s.t.Helper()
	resp, err := s.client.Post(context.Background(), Host, uri, s.StubsPort(), "", body)
	if err != nil {
		s.t.Fatalf("POST %s: %v", uri, err)
	}
	return resp
}

// Admin issues a GET to the admin port.
func (s *Server) Admin(uri string) *client.Response {
	s.t.Helper()
	resp, err := s.client.Get(context.Background(), Host, uri, s.AdminPort(), "")
	if err != nil {
		s.t.Fatalf("GET admin %s: %v", uri, err)
	}
	return resp
}

func (s *Server) do(req *client.Request) *client.Response {
	s.t.Helper()
	resp, err := s.client.Do(context.Background(), req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", req.Method(), req.URI(), err)
	}
	return resp
}

// Requests returns the requests received so far, oldest first.
func (s *Server) Requests() []*requestlog.Entry {
	return s.server.Requests().List(nil)
}

// Reset clears the request log.
func (s *Server) Reset() {
	s.server.Requests().Clear()
}

// AssertCalled asserts that at least one request matched method and path.
func (s *Server) AssertCalled(t testing.TB, method, path string) {
	t.Helper()
	if s.callCount(method, path) == 0 {
		t.Errorf("expected %s %s to be called, but it was not", method, path)
	}
}

// AssertCalledTimes asserts the exact number of requests to method and path.
func (s *Server) AssertCalledTimes(t testing.TB, method, path string, times int) {
	t.Helper()
	if got := s.callCount(method, path); got != times {
		t.Errorf("expected %s %s to be called %d times, but was called %d times", method, path, times, got)
	}
}

// AssertNotCalled asserts that no request matched method and path.
func (s *Server) AssertNotCalled(t testing.TB, method, path string) {
	t.Helper()
	if got := s.callCount(method, path); got != 0 {
		t.Errorf("expected %s %s not to be called, but it was called %d times", method, path, got)
	}
}

// WaitForRequest returns the first request matching method and path, waiting
// up to timeout for one to arrive. It fails t and returns nil on timeout.
// Use it when the code under test calls the stub from another goroutine.
func (s *Server) WaitForRequest(t testing.TB, method, path string, timeout time.Duration) *requestlog.Entry {
	t.Helper()

	entries, unsubscribe := s.server.Subscribe()
	defer unsubscribe()

	for _, e := range s.Requests() {
		if matchesRequest(e, method, path) {
			return e
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case e := <-entries:
			if matchesRequest(e, method, path) {
				return e
			}
		case <-timer.C:
			t.Fatalf("timed out after %s waiting for %s %s", timeout, method, path)
			return nil
		}
	}
}

func (s *Server) callCount(method, path string) int {
	count := 0
	for _, e := range s.Requests() {
		if matchesRequest(e, method, path) {
			count++
		}
	}
	return count
}

func matchesRequest(e *requestlog.Entry, method, path string) bool {
	return strings.EqualFold(e.Method, method) && matchesPath(e.Path, path)
}

// matchesPath matches exactly, or by prefix when pattern ends in "*".
func matchesPath(actual, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(actual, prefix)
	}
	return actual == pattern
}
