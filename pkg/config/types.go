package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/telemetry"
	"github.com/openfroyo/provengine/pkg/transports/ssh"
)

// EngineConfig is the configuration of the provisioning engine.
type EngineConfig struct {
	// DataDir holds one directory per profile with collected artifacts and
	// touchpoint backups.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Store configures trace and profile persistence.
	Store StoreConfig `yaml:"store"`

	// Trust configures signature checking of collected artifacts.
	Trust TrustConfig `yaml:"trust"`

	// Repositories are searched in order for artifacts.
	Repositories []RepositoryConfig `yaml:"repositories" validate:"dive"`

	// ForcedUninstall lets uninstall and unconfigure continue past failing actions.
	ForcedUninstall bool `yaml:"forced_uninstall"`

	// ScriptTimeout bounds native script actions.
	ScriptTimeout time.Duration `yaml:"script_timeout" validate:"gte=0"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file. Defaults to <data_dir>/provengine.db.
	Path string `yaml:"path"`

	// Disabled turns persistence off.
	Disabled bool `yaml:"disabled"`
}

// TrustConfig configures the trust check.
type TrustConfig struct {
	// Unsigned is the unsigned content policy: allow, prompt or fail.
	Unsigned string `yaml:"unsigned" validate:"oneof=allow prompt fail"`

	// Stores are the PEM trust stores. Writable stores receive newly
	// trusted certificates.
	Stores []TrustStoreConfig `yaml:"stores" validate:"dive"`

	// Policies are .rego files or directories overriding the built-in
	// trust policy.
	Policies []string `yaml:"policies"`

	// WatchPolicies reloads the policies when they change on disk.
	WatchPolicies bool `yaml:"watch_policies"`

	// Data is exposed to the policies as data.provengine.config.
	Data map[string]interface{} `yaml:"data"`
}

// TrustStoreConfig is one PEM trust store.
type TrustStoreConfig struct {
	Path     string `yaml:"path" validate:"required"`
	ReadOnly bool   `yaml:"read_only"`
}

// RepositoryConfig is one artifact repository.
type RepositoryConfig struct {
	// Location is a local directory or an sftp:// URL.
	Location string `yaml:"location" validate:"required"`

	// SSH supplies credentials and host key settings for sftp:// locations.
	SSH *ssh.Config `yaml:"ssh,omitempty" validate:"-"`

	// Workers bounds concurrent transfers inside one fetch.
	Workers int `yaml:"workers" validate:"gte=0"`
}

// Plan describes one transaction: the profile to change and the operands
// to apply to it.
type Plan struct {
	Profile  ProfileConfig    `json:"profile" yaml:"profile"`
	Units    []*metadata.Unit `json:"units,omitempty" yaml:"units" validate:"dive,required"`
	Operands []OperandConfig  `json:"operands" yaml:"operands" validate:"required,min=1,dive"`

	// Source is the file the plan was loaded from.
	Source string `json:"-" yaml:"-"`
}

// ProfileConfig identifies the target profile.
type ProfileConfig struct {
	ID         string            `json:"id" yaml:"id" validate:"required"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// OperandConfig references the before and after units of an operand by
// id@version. At least one must be set.
type OperandConfig struct {
	Before string `json:"before,omitempty" yaml:"before,omitempty" validate:"required_without=After"`
	After  string `json:"after,omitempty" yaml:"after,omitempty" validate:"required_without=Before"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "units.0.version").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ValidationErrors is a list of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
