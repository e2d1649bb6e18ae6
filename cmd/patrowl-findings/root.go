package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/D-E-N/PatrowlManager/importer"
)

var (
	flagConfig string
	flagLevel  string

	version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:           "patrowl-findings",
	Short:         "Security findings manager",
	Long:          "patrowl-findings tracks security findings across scans: it imports scanner reports, serves the findings API and builds per-finding timelines.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and supported import engines",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "patrowl-findings %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "engines: %v\n", importer.Engines())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default: patrowl.yaml in the current directory)")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, workerCmd, importCmd, workersCmd, timelineCmd, versionCmd)
}
