// Package lifecycle starts and stops a stub server on caller-chosen ports.
//
// A Facade owns at most one server Manager. It turns ports into the Params
// the Manager's factory expects and forwards Start and Stop; configuration
// loading and request handling belong to the Manager.
//
//	f := lifecycle.New("stubby.yaml", stubserver.NewFactory())
//	if err := f.StartOn(ctx, 8882, 8889); err != nil {
//	    return err
//	}
//	defer f.Stop(ctx)
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getmockd/stubby/pkg/config"
	"github.com/getmockd/stubby/pkg/logging"
)

// Manager is a server instance the Facade can start and stop.
// Start returns once the server is ready to accept connections.
type Manager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory constructs a Manager from a configuration file path and params.
type Factory interface {
	Construct(configPath string, params config.Params) (Manager, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(configPath string, params config.Params) (Manager, error)

// Construct calls f.
func (f FactoryFunc) Construct(configPath string, params config.Params) (Manager, error) {
	return f(configPath, params)
}

// Errors returned by the Facade.
var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNilFactory     = errors.New("no server factory configured")
)

// State is the lifecycle state of a Facade.
type State int

// Lifecycle states.
const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DoubleStartPolicy decides what Start does when the Facade is already running.
type DoubleStartPolicy int

// Double start policies.
const (
	// DoubleStartError rejects the call with ErrAlreadyRunning.
	DoubleStartError DoubleStartPolicy = iota
	// DoubleStartReplace constructs and starts a new Manager and drops the
	// old one without stopping it. The old server keeps its ports.
	DoubleStartReplace
	// DoubleStartRestart stops the running Manager before starting a new one.
	DoubleStartRestart
)

func (p DoubleStartPolicy) String() string {
	switch p {
	case DoubleStartError:
		return "error"
	case DoubleStartReplace:
		return "replace"
	case DoubleStartRestart:
		return "restart"
	default:
		return fmt.Sprintf("DoubleStartPolicy(%d)", int(p))
	}
}

// ParseDoubleStartPolicy parses "error", "replace" or "restart".
func ParseDoubleStartPolicy(s string) (DoubleStartPolicy, error) {
	switch s {
	case "error", "":
		return DoubleStartError, nil
	case "replace":
		return DoubleStartReplace, nil
	case "restart":
		return DoubleStartRestart, nil
	default:
		return DoubleStartError, fmt.Errorf("unknown double start policy %q", s)
	}
}

// Option configures a Facade.
type Option func(*Facade)

// WithDoubleStart sets the policy applied when Start is called while running.
func WithDoubleStart(p DoubleStartPolicy) Option {
	return func(f *Facade) {
		f.policy = p
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Facade) {
		if log != nil {
			f.log = log
		}
	}
}

// Facade controls one stub server. Its methods are safe for concurrent use;
// transitions are serialized.
type Facade struct {
	configPath string
	factory    Factory
	policy     DoubleStartPolicy
	log        *slog.Logger

	mu      sync.Mutex
	state   State
	manager Manager
	params  config.Params
}

// New creates a stopped Facade for the configuration file at configPath.
func New(configPath string, factory Factory, opts ...Option) *Facade {
	f := &Facade{
		configPath: configPath,
		factory:    factory,
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start starts the server on config.DefaultStubsPort and config.DefaultAdminPort.
func (f *Facade) Start(ctx context.Context) error {
	return f.StartOn(ctx, config.DefaultStubsPort, config.DefaultAdminPort)
}

// StartOn constructs a Manager for the given ports and starts it.
// Construction and start errors are returned wrapped; the Facade stays in its
// previous state.
func (f *Facade) StartOn(ctx context.Context, clientPort, adminPort int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.factory == nil {
		return ErrNilFactory
	}

	if f.state == StateRunning {
		switch f.policy {
		case DoubleStartReplace:
			f.log.Warn("starting a second server; the previous one is left running",
				"previous_params", f.params)
		case DoubleStartRestart:
			if err := f.stopLocked(ctx); err != nil {
				return fmt.Errorf("restart: %w", err)
			}
		default:
			return ErrAlreadyRunning
		}
	}

	params := config.PortParams(clientPort, adminPort)
	mgr, err := f.factory.Construct(f.configPath, params.Clone())
	if err != nil {
		return fmt.Errorf("construct server manager: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start server manager: %w", err)
	}

	f.manager = mgr
	f.params = params
	f.state = StateRunning
	f.log.Info("server started", "client_port", clientPort, "admin_port", adminPort, "config", f.configPath)
	return nil
}

// Stop stops the server if one is running. Without a running server it does nothing.
// If the Manager fails to stop, the Facade stays running so Stop can be retried.
func (f *Facade) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopLocked(ctx)
}

func (f *Facade) stopLocked(ctx context.Context) error {
	if f.manager == nil {
		return nil
	}
	if err := f.manager.Stop(ctx); err != nil {
		return fmt.Errorf("stop server manager: %w", err)
	}
	f.manager = nil
	f.state = StateStopped
	f.log.Info("server stopped", "config", f.configPath)
	return nil
}

// State returns the current lifecycle state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Manager returns the running Manager, or nil when stopped.
func (f *Facade) Manager() Manager {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manager
}

// Params returns a copy of the params used for the most recent successful start.
func (f *Facade) Params() config.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params.Clone()
}

// ConfigPath returns the configuration file path handed to the factory.
func (f *Facade) ConfigPath() string {
	return f.configPath
}
