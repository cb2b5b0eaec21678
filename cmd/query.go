package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/praetorian-inc/privmap/internal/message"
	"github.com/praetorian-inc/privmap/pkg/query"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a query against a stored graph snapshot",
	Long: `Run a query against the newest snapshot for the active profile.
Supported forms:

  preset <name> <principal|*>
  can <principal> do <action> [on <resource>]
  who can do <action> [on <resource>]
  reach <source> <target>

Run "privmap query presets" to list the built-in presets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("query")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")

		snapshot, err := snapshotStore().Load(viper.GetString("profile"))
		if err != nil {
			return err
		}

		engine := query.NewEngine(snapshot.Graph(), snapshot.Grants)
		engine.SetMaxDepth(maxDepth)

		result, err := engine.Run(input)
		if err != nil {
			return err
		}
		if result.Empty() {
			message.Info("No results")
			return nil
		}
		message.Section(input)
		for _, note := range result.Notes {
			message.Plain("%s", note)
		}
		for _, path := range result.Paths {
			message.Plain("%s", path)
		}
		return nil
	},
}

var queryPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in query presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range query.Presets() {
			message.Plain("%-12s %s", p.Name, p.Description)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringP("query", "s", "", "query string to execute")
	queryCmd.MarkFlagRequired("query")
	queryCmd.Flags().Int("max-depth", query.DefaultMaxDepth, "maximum escalation path length")

	queryCmd.AddCommand(queryPresetsCmd)
	rootCmd.AddCommand(queryCmd)
}
