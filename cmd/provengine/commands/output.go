package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/spf13/cobra"
)

type reportOutput struct {
	Session     string           `json:"session,omitempty"`
	Status      *status.Status   `json:"status"`
	Rollback    *status.Status   `json:"rollback,omitempty"`
	Diagnostics []*status.Status `json:"diagnostics,omitempty"`
	Duration    string           `json:"duration"`
}

func printReport(cmd *cobra.Command, report *engine.Report) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		ro := reportOutput{
			Status:      report.Status,
			Rollback:    report.Rollback,
			Diagnostics: report.Diagnostics,
			Duration:    report.Duration.String(),
		}
		if report.Session != nil {
			ro.Session = report.Session.ID()
		}
		printJSON(out, ro)
		return
	}

	if report.Session != nil {
		fmt.Fprintf(out, "Session:  %s\n", report.Session.ID())
	}
	fmt.Fprintf(out, "Result:   %s\n", report.Status.Severity)
	fmt.Fprintf(out, "Duration: %s\n", report.Duration)
	if !report.Status.IsOK() {
		fmt.Fprintf(out, "\n%s\n", indent(report.Status.String()))
	}
	if report.Rollback != nil {
		fmt.Fprintf(out, "\nRolled back: %s\n", report.Rollback.Severity)
		if !report.Rollback.IsOK() {
			fmt.Fprintf(out, "%s\n", indent(report.Rollback.String()))
		}
	}
}

func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}
