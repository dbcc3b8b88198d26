package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/provengine/pkg/config"
	"github.com/openfroyo/provengine/pkg/stores"
	"github.com/openfroyo/provengine/pkg/trust"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfig = `# Provengine configuration

data_dir: %s

store:
  path: %s

trust:
  # allow, prompt or fail
  unsigned: prompt
  stores:
    - path: %s
  policies: []

repositories:
  - location: %s

# script_timeout: 30s

telemetry:
  logging:
    level: info
    format: console
`

func newInitCommand() *cobra.Command {
	var identity bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a provengine workspace",
		Long: `Initialize a workspace: the data directory, the session store, a trust store
and a config file. With --identity a self-signed signing identity is created and
its certificate added to the trust store.`,
		Example: `  # Initialize in the current directory
  provengine init --identity

  # Initialize elsewhere
  provengine init /srv/provisioning`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			dataDir := filepath.Join(root, config.DefaultDataDir)
			log.Info().Str("data_dir", dataDir).Bool("identity", identity).Msg("Initializing workspace")

			out := cmd.OutOrStdout()
			for _, dir := range []string{dataDir, filepath.Join(dataDir, "keys"), filepath.Join(root, "repository")} {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintf(out, "✓ Created directory: %s\n", dir)
			}

			dbPath := filepath.Join(dataDir, "provengine.db")
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintf(out, "✓ Initialized session store: %s\n", dbPath)

			trustPath := filepath.Join(dataDir, "trust.pem")
			if identity {
				keyPath, certPath := signingPaths(dataDir)
				if _, err := os.Stat(keyPath); os.IsNotExist(err) {
					id, err := trust.NewIdentity("provengine workspace", 5*365*24*time.Hour)
					if err != nil {
						return err
					}
					if err := id.Save(keyPath, certPath); err != nil {
						return fmt.Errorf("failed to write signing identity: %w", err)
					}
					if err := trust.NewPEMStore(trustPath, false).AddTrustAnchor(id.Leaf(), "workspace"); err != nil {
						return fmt.Errorf("failed to add trust anchor: %w", err)
					}
					fmt.Fprintf(out, "✓ Generated signing identity: %s\n", keyPath)
				} else {
					fmt.Fprintf(out, "✓ Signing identity already exists: %s\n", keyPath)
				}
			}

			path := configPath
			if path == "" {
				path = filepath.Join(root, "provengine.yaml")
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// Paths in the config resolve against its directory.
				rel := func(p string) string {
					if r, err := filepath.Rel(filepath.Dir(path), p); err == nil {
						return r
					}
					return p
				}
				content := fmt.Sprintf(defaultConfig, rel(dataDir), rel(dbPath), rel(trustPath), rel(filepath.Join(root, "repository")))
				if err := os.WriteFile(path, []byte(content), 0644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				fmt.Fprintf(out, "✓ Created config file: %s\n", path)
			}

			fmt.Fprintf(out, "\n✅ Workspace initialized successfully!\n\n")
			fmt.Fprintf(out, "Next steps:\n")
			fmt.Fprintf(out, "  1. Put artifacts into ./repository/<classifier>/<id>_<version>\n")
			fmt.Fprintf(out, "  2. Check a plan:\n")
			fmt.Fprintf(out, "     provengine -c %s validate plan.cue\n", path)
			fmt.Fprintf(out, "  3. Apply it:\n")
			fmt.Fprintf(out, "     provengine -c %s apply --plan plan.cue\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&identity, "identity", false, "create a self-signed signing identity")

	return cmd
}
