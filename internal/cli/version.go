package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/storage"
)

var (
	// Version information - typically set via ldflags at build time
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Cortex",
	Long:  `Print the build version and the on-disk formats this binary reads and writes.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cortex %s\n", Version)
		fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
		fmt.Fprintf(out, "Build date: %s\n", BuildDate)
		fmt.Fprintf(out, "Manifest:   v%d\n", manifest.Version)
		fmt.Fprintf(out, "Index:      %s\n", storage.SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
