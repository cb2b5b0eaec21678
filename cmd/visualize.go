package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/praetorian-inc/privmap/internal/message"
	"github.com/praetorian-inc/privmap/pkg/render"
)

var visualizeCmd = &cobra.Command{
	Use:   "visualize",
	Short: "Render a stored graph snapshot with Graphviz",
	Long: `Render the newest snapshot for the active profile. ` + "`--filetype dot`" + `
writes plain DOT; other types shell out to the Graphviz dot binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		filetype, _ := cmd.Flags().GetString("filetype")
		output, _ := cmd.Flags().GetString("output")

		switch filetype {
		case "dot", "png", "svg":
		default:
			return fmt.Errorf("unsupported filetype %q (want dot, png or svg)", filetype)
		}

		snapshot, err := snapshotStore().Load(viper.GetString("profile"))
		if err != nil {
			return err
		}
		if output == "" {
			output = fmt.Sprintf("privesc-%s.%s", snapshot.AccountID, filetype)
		}

		if err := render.Render(ctx, snapshot.Graph(), output, filetype); err != nil {
			return err
		}
		message.Success("Wrote %s", output)
		return nil
	},
}

func init() {
	visualizeCmd.Flags().String("filetype", "png", "output format (png, svg, dot)")
	visualizeCmd.Flags().StringP("output", "o", "", "output path (default privesc-<account>.<filetype>)")
	rootCmd.AddCommand(visualizeCmd)
}
