package config

import (
	"fmt"
	"strconv"
)

// Option names understood in Params.
const (
	OptionClientPort = "clientport"
	OptionAdminPort  = "adminport"
	OptionTLSPort    = "tlsport"
	OptionAddress    = "address"
)

// Params maps option names to string values. It is how callers hand
// command-line style overrides to a server at construction.
type Params map[string]string

// PortParams builds the Params used to start a server on the given ports.
func PortParams(clientPort, adminPort int) Params {
	return Params{
		OptionClientPort: strconv.Itoa(clientPort),
		OptionAdminPort:  strconv.Itoa(adminPort),
	}
}

// Clone returns a copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ApplyParams overrides cfg with the recognized options in params.
// Unknown options are ignored.
func ApplyParams(cfg *ServerConfiguration, params Params) error {
	ports := []struct {
		key string
		dst *int
	}{
		{OptionClientPort, &cfg.StubsPort},
		{OptionAdminPort, &cfg.AdminPort},
		{OptionTLSPort, &cfg.TLSPort},
	}
	for _, p := range ports {
		v, ok := params[p.key]
		if !ok {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("option %s: invalid port %q", p.key, v)
		}
		*p.dst = port
	}
	if v, ok := params[OptionAddress]; ok && v != "" {
		cfg.Host = v
	}
	return nil
}

// Resolve loads path, then applies the environment and params, and validates the result.
func Resolve(path string, params Params) (*ServerConfiguration, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := ApplyParams(cfg, params); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
