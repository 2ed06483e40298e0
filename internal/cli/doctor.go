package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/doctor"
)

var (
	doctorJSON bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the index state of a workspace",
	Long: `Check the index state of a workspace.

Verifies that CURRENT names a generation, that its manifest loads with this
binary's format version, that its engines were written with the current
schema and open cleanly, and whether the build lock and the daemon record
agree with what is actually running.

Exits non-zero when any check fails.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output as JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	report := doctor.Run(ctx, s.layout)
	if doctorJSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		formatReport(cmd.OutOrStdout(), report)
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d check(s) failed", n)
	}
	return nil
}

func formatReport(w io.Writer, r doctor.Report) {
	for _, c := range r.Checks {
		fmt.Fprintf(w, "  [%-4s] %-19s %s\n", c.Severity, c.Name, c.Detail)
	}
}
