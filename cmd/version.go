package cmd

import (
	"github.com/spf13/cobra"

	"github.com/praetorian-inc/privmap/internal/message"
	"github.com/praetorian-inc/privmap/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the privmap version",
	Run: func(cmd *cobra.Command, args []string) {
		message.Plain("%s", version.FullVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
