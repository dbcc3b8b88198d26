package commands

import (
	"fmt"
	"path/filepath"

	"github.com/openfroyo/provengine/pkg/trust"
	"github.com/spf13/cobra"
)

func signingPaths(dataDir string) (string, string) {
	return filepath.Join(dataDir, "keys", "signing.key"), filepath.Join(dataDir, "keys", "signing.crt")
}

func newSignCommand() *cobra.Command {
	var keyPath, certPath string

	cmd := &cobra.Command{
		Use:   "sign <artifact>...",
		Short: "Write detached signatures for artifacts",
		Long: `Sign artifacts with a key and certificate chain. The signature of
<artifact> is written to <artifact>.sig. The key and certificate default to
the signing identity created by init.`,
		Example: `  # Sign with the workspace identity
  provengine sign repo/binary/web_2.0.0

  # Sign with another identity
  provengine sign --key release.key --cert release.crt repo/binary/*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyPath == "" || certPath == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				defKey, defCert := signingPaths(cfg.DataDir)
				if keyPath == "" {
					keyPath = defKey
				}
				if certPath == "" {
					certPath = defCert
				}
			}

			id, err := trust.LoadIdentity(keyPath, certPath)
			if err != nil {
				return fmt.Errorf("failed to load signing identity: %w", err)
			}
			for _, path := range args {
				if err := id.Sign(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Signed %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "PKCS#8 PEM private key")
	cmd.Flags().StringVar(&certPath, "cert", "", "PEM certificate chain, leaf first")

	return cmd
}
