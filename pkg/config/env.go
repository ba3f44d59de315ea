package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by ApplyEnv.
const (
	EnvHost      = "STUBBY_HOST"
	EnvStubsPort = "STUBBY_STUBS_PORT"
	EnvAdminPort = "STUBBY_ADMIN_PORT"
	EnvTLSPort   = "STUBBY_TLS_PORT"
	EnvLogLevel  = "STUBBY_LOG_LEVEL"
	EnvLogFormat = "STUBBY_LOG_FORMAT"
)

// ApplyEnv overrides cfg with any STUBBY_* variables that are set.
// A port variable that is not an integer is an error.
func ApplyEnv(cfg *ServerConfiguration) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *ServerConfiguration, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok && v != "" {
		cfg.Host = v
	}

	ports := []struct {
		env string
		dst *int
	}{
		{EnvStubsPort, &cfg.StubsPort},
		{EnvAdminPort, &cfg.AdminPort},
		{EnvTLSPort, &cfg.TLSPort},
	}
	for _, p := range ports {
		v, ok := lookup(p.env)
		if !ok || v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", p.env, v)
		}
		*p.dst = port
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		cfg.Log.Format = v
	}
	return nil
}
