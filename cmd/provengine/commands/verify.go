package commands

import (
	"fmt"

	"github.com/openfroyo/provengine/pkg/policy"
	"github.com/openfroyo/provengine/pkg/trust"
	"github.com/spf13/cobra"
)

type verifyResult struct {
	Path    string   `json:"path"`
	Signed  bool     `json:"signed"`
	Trusted bool     `json:"trusted"`
	Signers []string `json:"signers,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <artifact>...",
		Short: "Inspect artifact signatures against the trust stores",
		Long: `Report for each artifact whether it is signed and whether its signer chain
verifies against the anchors of the configured trust stores.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var stores []trust.Store
			for _, sc := range cfg.Trust.Stores {
				stores = append(stores, trust.NewPEMStore(sc.Path, sc.ReadOnly))
			}
			verifier := trust.NewVerifier(stores...)

			var results []verifyResult
			failed := 0
			for _, path := range args {
				r := verifyResult{Path: path}
				content, err := verifier.Inspect(path)
				if err != nil {
					r.Error = err.Error()
					failed++
					results = append(results, r)
					continue
				}
				r.Signed = content.Signed
				r.Trusted = content.Signed
				for _, s := range content.Signers {
					r.Trusted = r.Trusted && s.Trusted
					r.Signers = append(r.Signers, fmt.Sprintf("%s (%s)", s.Leaf().Subject.CommonName, policy.Fingerprint(s.Leaf())))
				}
				results = append(results, r)
			}

			if jsonOutput {
				printJSON(cmd.OutOrStdout(), results)
			} else {
				out := cmd.OutOrStdout()
				for _, r := range results {
					switch {
					case r.Error != "":
						fmt.Fprintf(out, "✗ %s: %s\n", r.Path, r.Error)
					case !r.Signed:
						fmt.Fprintf(out, "- %s: unsigned\n", r.Path)
					case r.Trusted:
						fmt.Fprintf(out, "✓ %s: trusted, signed by %v\n", r.Path, r.Signers)
					default:
						fmt.Fprintf(out, "? %s: untrusted, signed by %v\n", r.Path, r.Signers)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d artifacts failed verification", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}
