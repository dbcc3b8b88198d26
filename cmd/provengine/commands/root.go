package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/provengine/pkg/config"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit code: 2 for a failed
// transaction, 130 for a cancelled one and 1 otherwise.
func ExitCode(err error) int {
	var st *status.StatusError
	switch {
	case err == nil:
		return 0
	case status.IsCancel(err):
		return 130
	case errors.As(err, &st):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provengine",
		Short: "Provengine - transactional software provisioning",
		Long: `Provengine installs, updates and uninstalls units into a profile as one
transaction. Each transaction runs a fixed sequence of phases (collect,
check trust, unconfigure, uninstall, install, configure); a transaction that
fails is rolled back and the profile restored.

Features:
  - Plans written in CUE or YAML
  - Native touchpoint with file actions and Starlark scripts
  - Artifact download from local and SFTP repositories
  - Signature checks with OPA trust policies
  - Session history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				zerolog.SetGlobalLevel(telemetry.ParseLogLevel(logLevel))
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "engine config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newSignCommand())
	rootCmd.AddCommand(newVerifyCommand())

	return rootCmd
}

// loadConfig loads the engine config named by --config and applies
// --log-level to it.
func loadConfig() (*config.EngineConfig, error) {
	cfg, err := config.LoadEngineConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	return cfg, nil
}
