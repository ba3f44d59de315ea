// Package config loads the stub server configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. DefaultServerConfiguration
//  2. the YAML file passed to Load (validated against an embedded JSON Schema)
//  3. STUBBY_* environment variables (ApplyEnv)
//  4. Params handed to the server at construction (ApplyParams)
//
// A minimal file:
//
//	host: localhost
//	stubsPort: 8882
//	adminPort: 8889
//	tlsPort: 7443
//	tls:
//	  enabled: true
//	log:
//	  level: debug
package config
