package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/praetorian-inc/privmap/internal/logs"
	"github.com/praetorian-inc/privmap/internal/message"
	"github.com/praetorian-inc/privmap/pkg/store"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "privmap",
	Short: "privmap maps IAM privilege-escalation paths in an AWS account.",
	Long: `privmap ingests an account's IAM identities and policies, resolves each
principal's effective permissions, evaluates a catalog of privilege
escalation techniques, and stores the result as a queryable graph.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		message.SetQuiet(viper.GetBool("quiet"))
		message.SetNoColor(viper.GetBool("no-color"))
		logs.Configure(logLevel())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		message.Error("%v", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.privmap.yaml)")
	rootCmd.PersistentFlags().String("storage-root", defaultStorageRoot(), "directory holding persisted graph snapshots")
	rootCmd.PersistentFlags().StringP("profile", "p", "default", "AWS shared-config profile to use")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress informational output")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("storage-root", rootCmd.PersistentFlags().Lookup("storage-root"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".privmap" (without
		// extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".privmap")
	}

	viper.SetEnvPrefix("PRIVMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func defaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".privmap/graphs"
	}
	return filepath.Join(home, ".privmap", "graphs")
}

func snapshotStore() *store.Store {
	return store.New(viper.GetString("storage-root"))
}

func logLevel() slog.Level {
	switch viper.GetString("log-level") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
