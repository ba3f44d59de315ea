// Package stubserver runs the stub server controlled by a lifecycle.Facade.
//
// A Server binds three listeners: the stubs port serving the configured
// handler over plain HTTP (and prior-knowledge HTTP/2 unless disabled), the
// TLS port serving the same handler over HTTPS with HTTP/2, and the admin
// port exposing health, status and the request log.
package stubserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/getmockd/stubby/pkg/certs"
	"github.com/getmockd/stubby/pkg/config"
	"github.com/getmockd/stubby/pkg/lifecycle"
	"github.com/getmockd/stubby/pkg/logging"
	"github.com/getmockd/stubby/pkg/requestlog"
)

// ErrServerRunning is returned by Start on a server that is already running.
var ErrServerRunning = errors.New("stub server is already running")

// defaultShutdownTimeout bounds Stop when the caller's context has no deadline.
const defaultShutdownTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithHandler sets the handler answering requests on the stubs and TLS ports.
func WithHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.handler = h
		}
	}
}

// WithLogger sets the operational logger. Without it the logger is built
// from the configuration's log section and writes to stderr.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Server is a stub server instance. It implements lifecycle.Manager.
type Server struct {
	cfg      *config.ServerConfiguration
	id       string
	handler  http.Handler
	log      *slog.Logger
	requests *requestlog.MemoryStore

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	servers   []*listener
	wg        sync.WaitGroup
}

type listener struct {
	name   string
	srv    *http.Server
	ln     net.Listener
	secure bool
}

var _ lifecycle.Manager = (*Server)(nil)

// New creates a stopped Server for cfg. A nil cfg means the defaults.
func New(cfg *config.ServerConfiguration, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultServerConfiguration()
	}
	s := &Server{
		cfg:      cfg,
		id:       uuid.NewString(),
		handler:  NotFoundHandler(),
		requests: requestlog.NewMemoryStore(cfg.MaxLogEntries),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Format: logging.ParseFormat(cfg.Log.Format),
			Output: os.Stderr,
		})
	}
	s.log = s.log.With("component", "stubserver", "instance", s.id)
	return s
}

// NewFactory returns a lifecycle.Factory that resolves the configuration
// file, environment and params into a ServerConfiguration and builds a Server.
func NewFactory(opts ...Option) lifecycle.Factory {
	return lifecycle.FactoryFunc(func(configPath string, params config.Params) (lifecycle.Manager, error) {
		cfg, err := config.Resolve(configPath, params)
		if err != nil {
			return nil, err
		}
		return New(cfg, opts...), nil
	})
}

// Start binds every listener and begins serving. It returns once the ports
// accept connections; a port that cannot be bound fails Start and releases
// the ports already bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerRunning
	}

	var lc net.ListenConfig
	var bound []*listener
	closeBound := func() {
		for _, l := range bound {
			_ = l.ln.Close()
		}
	}

	stubs, err := s.listenStubs(ctx, &lc)
	if err != nil {
		return err
	}
	bound = append(bound, stubs)

	admin, err := s.listen(ctx, &lc, "admin", s.cfg.AdminPort, s.adminHandler())
	if err != nil {
		closeBound()
		return err
	}
	bound = append(bound, admin)

	if s.cfg.TLS.Enabled {
		secure, err := s.listenTLS(ctx, &lc)
		if err != nil {
			closeBound()
			return err
		}
		bound = append(bound, secure)
	}

	for _, l := range bound {
		s.serve(l)
	}
	s.servers = bound
	s.running = true
	s.startTime = time.Now()
	s.log.Info("stub server started",
		"stubs_port", s.portLocked(requestlog.ListenerStubs),
		"admin_port", s.portLocked("admin"),
		"tls_port", s.portLocked(requestlog.ListenerTLS),
	)
	return nil
}

func (s *Server) listen(ctx context.Context, lc *net.ListenConfig, name string, port int, h http.Handler) (*listener, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s listener on %s: %w", name, addr, err)
	}
	return &listener{
		name: name,
		ln:   ln,
		srv: &http.Server{
			Handler:           h,
			ReadTimeout:       s.cfg.ReadTimeoutDuration(),
			ReadHeaderTimeout: s.cfg.ReadTimeoutDuration(),
			WriteTimeout:      s.cfg.WriteTimeoutDuration(),
			IdleTimeout:       s.cfg.IdleTimeoutDuration(),
		},
	}, nil
}

// http2Server returns the HTTP/2 settings for one listener.
func (s *Server) http2Server() *http2.Server {
	return &http2.Server{
		MaxConcurrentStreams: uint32(s.cfg.HTTP2.MaxConcurrentStreams), //nolint:gosec // validated non-negative
		IdleTimeout:          s.cfg.IdleTimeoutDuration(),
	}
}

func (s *Server) listenStubs(ctx context.Context, lc *net.ListenConfig) (*listener, error) {
	handler := s.record(requestlog.ListenerStubs, s.handler)
	if !s.cfg.HTTP2.Cleartext {
		return s.listen(ctx, lc, requestlog.ListenerStubs, s.cfg.StubsPort, handler)
	}

	h2s := s.http2Server()
	l, err := s.listen(ctx, lc, requestlog.ListenerStubs, s.cfg.StubsPort, h2c.NewHandler(handler, h2s))
	if err != nil {
		return nil, err
	}
	// Hooks h2c connections into Shutdown so they get a GOAWAY.
	if err := http2.ConfigureServer(l.srv, h2s); err != nil {
		_ = l.ln.Close()
		return nil, fmt.Errorf("failed to enable h2c: %w", err)
	}
	return l, nil
}

func (s *Server) listenTLS(ctx context.Context, lc *net.ListenConfig) (*listener, error) {
	tlsCfg, err := certs.ServerConfig(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to setup TLS: %w", err)
	}

	l, err := s.listen(ctx, lc, requestlog.ListenerTLS, s.cfg.TLSPort,
		s.record(requestlog.ListenerTLS, s.handler))
	if err != nil {
		return nil, err
	}
	l.secure = true
	l.srv.TLSConfig = tlsCfg
	if err := http2.ConfigureServer(l.srv, s.http2Server()); err != nil {
		_ = l.ln.Close()
		return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
	}
	return l, nil
}

func (s *Server) serve(l *listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if l.secure {
			err = l.srv.ServeTLS(l.ln, "", "")
		} else {
			err = l.srv.Serve(l.ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("listener stopped", "listener", l.name, "error", err)
		}
	}()
}

// Stop shuts every listener down, waiting for in-flight requests until ctx
// ends. Stopping a stopped server does nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	servers := s.servers
	s.servers = nil
	s.running = false
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	var errs []error
	for _, l := range servers {
		if err := l.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", l.name, err))
			_ = l.srv.Close()
		}
	}
	s.wg.Wait()

	s.log.Info("stub server stopped")
	return errors.Join(errs...)
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ID returns the instance id.
func (s *Server) ID() string {
	return s.id
}

// Config returns the configuration the server was built with.
func (s *Server) Config() *config.ServerConfiguration {
	return s.cfg
}

// Requests returns the request log.
func (s *Server) Requests() requestlog.Store {
	return s.requests
}

// Subscribe streams request log entries as they are recorded. The returned
// function unsubscribes and closes the channel.
func (s *Server) Subscribe() (requestlog.Subscriber, func()) {
	return s.requests.Subscribe()
}

// StubsPort returns the bound stubs port, or 0 when not running.
func (s *Server) StubsPort() int {
	return s.port(requestlog.ListenerStubs)
}

// AdminPort returns the bound admin port, or 0 when not running.
func (s *Server) AdminPort() int {
	return s.port("admin")
}

// TLSPort returns the bound TLS port, or 0 when not running or TLS is disabled.
func (s *Server) TLSPort() int {
	return s.port(requestlog.ListenerTLS)
}

func (s *Server) port(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portLocked(name)
}

func (s *Server) portLocked(name string) int {
	for _, l := range s.servers {
		if l.name == name {
			if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
				return addr.Port
			}
		}
	}
	return 0
}

// uptime returns how long the server has been running.
func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startTime)
}
