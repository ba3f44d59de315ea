package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/stubby/pkg/config"
	"github.com/getmockd/stubby/pkg/lifecycle"
	"github.com/getmockd/stubby/pkg/logging"
	"github.com/getmockd/stubby/pkg/stubserver"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 10 * time.Second

// notifyReload registers c for the signal that reloads a running server.
var notifyReload = func(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGHUP)
}

type serveFlags struct {
	configPath  string
	doubleStart string
	host        string
	stubsPort   int
	adminPort   int
	tlsPort     int
	noTLS       bool
	echo        bool
	logLevel    string
	logFormat   string
	printConfig bool
}

func newServeCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a stub server in the foreground",
		Long: `Start a stub server and block until interrupted.

The stubs port answers stub requests over HTTP, the TLS port answers the same
requests over HTTPS with a generated self-signed certificate unless one is
configured, and the admin port serves /health, /status and /requests.

SIGHUP re-reads the configuration and starts the server again; --double-start
decides what happens to the running one.`,
		Example: `  # Defaults: stubs 8882, admin 8889, TLS 7443
  stubby serve

  # Echo every request back as JSON on custom ports
  stubby serve --echo --stubs-port 9000 --admin-port 9001

  # Show the effective configuration and exit
  stubby serve -c stubby.yaml --print-config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML configuration file")
	f.StringVar(&flags.host, "host", "", "Address to bind (default localhost)")
	f.IntVar(&flags.stubsPort, "stubs-port", config.DefaultStubsPort, "Stubs port")
	f.IntVar(&flags.adminPort, "admin-port", config.DefaultAdminPort, "Admin port")
	f.IntVar(&flags.tlsPort, "tls-port", config.DefaultTLSPort, "TLS port")
	f.BoolVar(&flags.noTLS, "no-tls", false, "Do not start the TLS listener")
	f.BoolVar(&flags.echo, "echo", false, "Answer stub requests by echoing them as JSON")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&flags.logFormat, "log-format", "", "Log format (text, json)")
	f.BoolVar(&flags.printConfig, "print-config", false, "Print the effective configuration and exit")
	f.StringVar(&flags.doubleStart, "double-start", "restart", "On SIGHUP: restart, replace (leave the old server running) or error")
	return cmd
}

// serveParams turns the flags the user set into Params overrides.
func serveParams(cmd *cobra.Command, flags *serveFlags) config.Params {
	params := config.Params{}
	changed := cmd.Flags().Changed
	if changed("stubs-port") {
		params[config.OptionClientPort] = strconv.Itoa(flags.stubsPort)
	}
	if changed("admin-port") {
		params[config.OptionAdminPort] = strconv.Itoa(flags.adminPort)
	}
	if changed("tls-port") {
		params[config.OptionTLSPort] = strconv.Itoa(flags.tlsPort)
	}
	if changed("host") {
		params[config.OptionAddress] = flags.host
	}
	return params
}

// resolveServeConfig applies file, env and params, then the flags that have
// no Params equivalent.
func resolveServeConfig(flags *serveFlags, params config.Params) (*config.ServerConfiguration, error) {
	cfg, err := config.Resolve(flags.configPath, params)
	if err != nil {
		return nil, err
	}
	if flags.noTLS {
		cfg.TLS.Enabled = false
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	policy, err := lifecycle.ParseDoubleStartPolicy(flags.doubleStart)
	if err != nil {
		return err
	}

	params := serveParams(cmd, flags)
	cfg, err := resolveServeConfig(flags, params)
	if err != nil {
		return err
	}

	if flags.printConfig {
		data, err := config.ToYAML(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: cmd.ErrOrStderr(),
	})

	var handler http.Handler
	if flags.echo {
		handler = stubserver.EchoHandler()
	}
	factory := stubserver.NewFactory(stubserver.WithHandler(handler), stubserver.WithLogger(log))

	// The facade only carries the two ports; the rest of the overrides
	// ride along here.
	facade := lifecycle.New(flags.configPath, lifecycle.FactoryFunc(
		func(configPath string, p config.Params) (lifecycle.Manager, error) {
			for k, v := range params {
				if _, set := p[k]; !set {
					p[k] = v
				}
			}
			mgr, err := factory.Construct(configPath, p)
			if err != nil {
				return nil, err
			}
			mgr.(*stubserver.Server).Config().TLS.Enabled = cfg.TLS.Enabled
			return mgr, nil
		}),
		lifecycle.WithDoubleStart(policy),
		lifecycle.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := facade.StartOn(ctx, cfg.StubsPort, cfg.AdminPort); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printListeners(out, facade)

	reload := make(chan os.Signal, 1)
	notifyReload(reload)
	defer signal.Stop(reload)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return facade.Stop(shutdownCtx)

		case <-reload:
			next, err := resolveServeConfig(flags, params)
			if err == nil {
				cfg = next
				err = facade.StartOn(ctx, cfg.StubsPort, cfg.AdminPort)
			}
			if err != nil {
				if facade.State() == lifecycle.StateStopped {
					return fmt.Errorf("reload: %w", err)
				}
				log.Error("reload failed, keeping the running server", "error", err)
				continue
			}
			fmt.Fprintln(out, "Reloaded")
			printListeners(out, facade)
		}
	}
}

func printListeners(out io.Writer, facade *lifecycle.Facade) {
	server, ok := facade.Manager().(*stubserver.Server)
	if !ok {
		return
	}
	host := server.Config().Host
	fmt.Fprintf(out, "stubs: http://%s:%d\n", host, server.StubsPort())
	fmt.Fprintf(out, "admin: http://%s:%d\n", host, server.AdminPort())
	if port := server.TLSPort(); port != 0 {
		fmt.Fprintf(out, "tls:   https://%s:%d\n", host, port)
	}
}
