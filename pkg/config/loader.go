package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "stubby-config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// ConfigError reports a problem with a configuration file.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Path + ": " + e.Message
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. Environment variables and params are not applied here.
func Load(path string) (*ServerConfiguration, error) {
	cfg := DefaultServerConfiguration()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, err
	}
	return cfg, nil
}

// Parse validates YAML data against the configuration schema and decodes it into cfg.
func Parse(data []byte, cfg *ServerConfiguration) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &ConfigError{Path: "<input>", Message: err.Error()}
	}
	if err := validateSchema(raw); err != nil {
		return &ConfigError{Path: "<input>", Message: err.Error()}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &ConfigError{Path: "<input>", Message: err.Error()}
	}
	return nil
}

func validateSchema(raw any) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to add config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	if schemaErr != nil {
		return schemaErr
	}

	// Round-trip through JSON so the validator sees JSON-native types.
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return compiledSchema.Validate(doc)
}

// ToYAML renders cfg as YAML, e.g. for "stubby serve --print-config".
func ToYAML(cfg *ServerConfiguration) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	return data, nil
}
