package commands

import (
	"fmt"

	"github.com/roasbeef/troupe/internal/build"
	"github.com/spf13/cobra"
)

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("troupe version %s (go %s)\n",
			build.Version(), build.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
