package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cmd.Version=v1.2.3".
var Version = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the termhost version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "termhost %s\n", version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func version() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
