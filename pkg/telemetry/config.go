package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config groups the logging, tracing and metrics settings of the engine.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error or disabled.
	Level string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`

	// Format is console (human readable) or json.
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stderr, stdout or a file path the log is appended to.
	Output string `yaml:"output"`

	EnableCaller bool `yaml:"enable_caller"`
	NoColor      bool `yaml:"no_color"`

	// TimeFormat selects the timestamp encoding: rfc3339, unix or unixms.
	// Console output also accepts kitchen.
	TimeFormat string `yaml:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms kitchen"`
}

// TracingConfig configures span export. With Enabled false no provider is
// installed and spans are not recorded.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string            `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Headers  map[string]string `yaml:"headers"`
	Insecure bool              `yaml:"insecure"`

	SamplingRate  float64       `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// MetricsConfig configures the Prometheus collectors and their HTTP
// endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`

	// DefaultHistogramBuckets are the phase duration buckets, in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "provengine",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       make(map[string]string),
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "provengine",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field constraints and reports the first violation as
// "section.field: rule".
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fe := fieldErrs[0]
	path := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	if fe.Param() != "" {
		return fmt.Errorf("%s: %s=%s, got %v", path, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s: %s", path, fe.Tag())
}
