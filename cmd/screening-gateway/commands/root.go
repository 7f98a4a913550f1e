package commands

import (
	"github.com/spf13/cobra"
)

// version is stamped at build time with
// -ldflags "-X .../commands.version=v1.2.3".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "screening-gateway",
	Short: "Multimodal behavioral screening gateway",
	Long: `screening-gateway ingests landmark frames and audio spectra from
capture collaborators, runs the three-stage screening protocol over
them, and reports fused assessments.

Commands:
  serve    run the WebSocket gateway
  replay   feed a recorded capture through the pipeline on virtual time
  version  print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
