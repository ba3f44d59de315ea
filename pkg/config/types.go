package config

import (
	"errors"
	"fmt"
	"time"
)

// Default ports and host of the stub server.
const (
	DefaultHost      = "localhost"
	DefaultStubsPort = 8882
	DefaultAdminPort = 8889
	DefaultTLSPort   = 7443
)

// ServerConfiguration configures the stub server.
// A port of 0 asks the OS for a free one.
type ServerConfiguration struct {
	Host          string      `yaml:"host" json:"host"`
	StubsPort     int         `yaml:"stubsPort" json:"stubsPort"`
	AdminPort     int         `yaml:"adminPort" json:"adminPort"`
	TLSPort       int         `yaml:"tlsPort" json:"tlsPort"`
	TLS           TLSConfig   `yaml:"tls" json:"tls"`
	ReadTimeout   int         `yaml:"readTimeout" json:"readTimeout"`   // seconds, 0 = none
	WriteTimeout  int         `yaml:"writeTimeout" json:"writeTimeout"` // seconds, 0 = none
	MaxLogEntries int         `yaml:"maxLogEntries" json:"maxLogEntries"`
	HTTP2         HTTP2Config `yaml:"http2" json:"http2"`
	Log           LogConfig   `yaml:"log" json:"log"`
}

// TLSConfig configures the TLS listener.
// Without files a self-signed certificate is generated at start.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"certFile,omitempty" json:"certFile,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
}

// HTTP2Config tunes HTTP/2 on the stub listeners. HTTP/2 is always offered on
// the TLS port; Cleartext also accepts prior-knowledge HTTP/2 (h2c) on the
// stubs port.
type HTTP2Config struct {
	Cleartext            bool `yaml:"cleartext" json:"cleartext"`
	MaxConcurrentStreams int  `yaml:"maxConcurrentStreams" json:"maxConcurrentStreams"` // 0 = library default
	IdleTimeout          int  `yaml:"idleTimeout" json:"idleTimeout"`                   // seconds, 0 = none
}

// LogConfig selects the operational log level and format.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultServerConfiguration returns the stock configuration.
func DefaultServerConfiguration() *ServerConfiguration {
	return &ServerConfiguration{
		Host:          DefaultHost,
		StubsPort:     DefaultStubsPort,
		AdminPort:     DefaultAdminPort,
		TLSPort:       DefaultTLSPort,
		TLS:           TLSConfig{Enabled: true},
		ReadTimeout:   30,
		WriteTimeout:  30,
		MaxLogEntries: 1000,
		Log:           LogConfig{Level: "info", Format: "text"},
		HTTP2: HTTP2Config{
			Cleartext:            true,
			MaxConcurrentStreams: 250,
			IdleTimeout:          120,
		},
	}
}

// IdleTimeoutDuration returns HTTP2.IdleTimeout as a time.Duration.
func (c *ServerConfiguration) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.HTTP2.IdleTimeout) * time.Second
}

// ReadTimeoutDuration returns ReadTimeout as a time.Duration.
func (c *ServerConfiguration) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns WriteTimeout as a time.Duration.
func (c *ServerConfiguration) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// Validate checks the resolved configuration.
func (c *ServerConfiguration) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	ports := map[string]int{"stubsPort": c.StubsPort, "adminPort": c.AdminPort}
	if c.TLS.Enabled {
		ports["tlsPort"] = c.TLSPort
	}
	seen := make(map[int]string)
	for _, name := range []string{"stubsPort", "adminPort", "tlsPort"} {
		port, ok := ports[name]
		if !ok {
			continue
		}
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
			continue
		}
		if port == 0 {
			continue
		}
		if other, dup := seen[port]; dup {
			errs = append(errs, fmt.Errorf("%s and %s both use port %d", other, name, port))
		}
		seen[port] = name
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.certFile and tls.keyFile must be set together"))
	}
	if c.HTTP2.MaxConcurrentStreams < 0 {
		errs = append(errs, errors.New("http2.maxConcurrentStreams cannot be negative"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.HTTP2.IdleTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	return errors.Join(errs...)
}
