package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/praetorian-inc/privmap/internal/message"
	"github.com/praetorian-inc/privmap/pkg/graph"
	"github.com/praetorian-inc/privmap/pkg/pipeline"
	"github.com/praetorian-inc/privmap/pkg/store"
	"github.com/praetorian-inc/privmap/pkg/types"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Create and manage account graph snapshots",
}

var graphCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Ingest an account and build its privilege-escalation graph",
	Long: `Ingest the account's IAM identities and policies, resolve effective
permissions, evaluate the escalation technique catalog, and persist the
resulting graph. With --gaad-file the identity set is read from a saved
get-account-authorization-details dump instead of the live API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		profile := viper.GetString("profile")
		gaadFile, _ := cmd.Flags().GetString("gaad-file")
		workers, _ := cmd.Flags().GetInt("workers")

		if gaadFile != "" {
			message.Info("Building graph for profile %s from %s", profile, gaadFile)
		} else {
			message.Info("Building graph for profile %s", profile)
		}

		snapshot, err := pipeline.Create(ctx, snapshotStore(), pipeline.CreateOptions{
			Profile:  profile,
			GaadFile: gaadFile,
			Workers:  workers,
		})
		if err != nil {
			return err
		}

		printCreateSummary(snapshot)
		return nil
	},
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored graph snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := snapshotStore()
		snaps, err := st.List()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			message.Info("No snapshots under %s", st.Root())
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Profile", "Account", "Nodes", "Edges", "Generated"})
		table.SetBorder(false)
		for _, s := range snaps {
			table.Append([]string{
				s.Profile,
				s.AccountID,
				fmt.Sprintf("%d", len(s.Nodes)),
				fmt.Sprintf("%d", len(s.Edges)),
				s.GeneratedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

var graphRmCmd = &cobra.Command{
	Use:   "rm <account-id>",
	Short: "Remove the snapshot for a profile and account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := viper.GetString("profile")
		if err := snapshotStore().Delete(profile, args[0]); err != nil {
			return err
		}
		message.Success("Removed snapshot for %s/%s", profile, args[0])
		return nil
	},
}

func printCreateSummary(s *store.Snapshot) {
	var users, roles, groups, admins int
	for _, n := range s.Nodes {
		switch n.Kind {
		case types.KindUser:
			users++
		case types.KindRole:
			roles++
		case types.KindGroup:
			groups++
		}
		if n.Admin {
			admins++
		}
	}
	var escalations int
	for _, e := range s.Edges {
		if e.Label != graph.EdgeLabelMemberOf {
			escalations++
		}
	}

	message.Success("Graph for account %s written (generation %s)", s.AccountID, s.GenerationID)
	message.Plain("  %d users, %d roles, %d groups (%d admin)", users, roles, groups, admins)
	message.Plain("  %d escalation edges, %d edges total", escalations, len(s.Edges))

	if len(s.Warnings) > 0 {
		message.Warning("%d ingestion warnings; the graph may be incomplete:", len(s.Warnings))
		for _, w := range s.Warnings {
			message.Plain("    %s", w)
		}
	}
}

func init() {
	graphCreateCmd.Flags().String("gaad-file", "", "build from a saved authorization-details JSON dump instead of the live API")
	graphCreateCmd.Flags().Int("workers", 0, "bound ingestion and evaluation parallelism (0 = default)")

	graphCmd.AddCommand(graphCreateCmd)
	graphCmd.AddCommand(graphListCmd)
	graphCmd.AddCommand(graphRmCmd)
	rootCmd.AddCommand(graphCmd)
}
