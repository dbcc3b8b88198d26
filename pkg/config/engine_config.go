package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/provengine/pkg/telemetry"
	"github.com/openfroyo/provengine/pkg/touchpoint/native"
)

// DefaultDataDir is used when neither the configuration nor the
// environment name a data directory.
const DefaultDataDir = ".provengine"

// EnvDataDir overrides the configured data directory.
const EnvDataDir = "PROVENGINE_DATA_DIR"

// DefaultEngineConfig returns the configuration used without a config file.
func DefaultEngineConfig() *EngineConfig {
	dataDir := DefaultDataDir
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, DefaultDataDir)
	}
	cfg := &EngineConfig{
		DataDir:       dataDir,
		ScriptTimeout: native.DefaultScriptTimeout,
		Trust: TrustConfig{
			Unsigned: "prompt",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
	cfg.applyDefaults("")
	return cfg
}

// LoadEngineConfig reads the YAML configuration at path. An empty path
// returns DefaultEngineConfig. Relative paths in the file are resolved
// against the file's directory.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	if path == "" {
		return ParseEngineConfig(nil, "")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseEngineConfig(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseEngineConfig decodes a YAML configuration. baseDir anchors relative
// paths; an empty baseDir leaves them as written.
func ParseEngineConfig(data []byte, baseDir string) (*EngineConfig, error) {
	cfg := &EngineConfig{Telemetry: telemetry.DefaultConfig()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EngineConfig) applyDefaults(baseDir string) {
	if c.DataDir == "" {
		c.DataDir = DefaultEngineConfig().DataDir
	}
	c.DataDir = resolve(baseDir, os.ExpandEnv(c.DataDir))
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "provengine.db")
	} else if c.Store.Path != ":memory:" {
		c.Store.Path = resolve(baseDir, os.ExpandEnv(c.Store.Path))
	}
	if c.Trust.Unsigned == "" {
		c.Trust.Unsigned = "prompt"
	}
	for i := range c.Trust.Stores {
		c.Trust.Stores[i].Path = resolve(baseDir, os.ExpandEnv(c.Trust.Stores[i].Path))
	}
	for i, p := range c.Trust.Policies {
		c.Trust.Policies[i] = resolve(baseDir, os.ExpandEnv(p))
	}
	for i := range c.Repositories {
		loc := os.ExpandEnv(c.Repositories[i].Location)
		if !isRemote(loc) {
			loc = resolve(baseDir, loc)
		}
		c.Repositories[i].Location = loc
	}
	if c.ScriptTimeout == 0 {
		c.ScriptTimeout = native.DefaultScriptTimeout
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
}

func (c *EngineConfig) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
}

// Validate checks the configuration.
func (c *EngineConfig) Validate() error {
	if err := validateStruct(c, ""); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "sftp://") || strings.HasPrefix(location, "ssh://")
}
