// Package cmd wires the analyzer's command line interface: one-shot train
// and find-anomalies runs, and a serve mode that schedules both while
// exposing health and metrics endpoints.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	migrationsPath string
)

var rootCmd = &cobra.Command{
	Use:   "analyzer",
	Short: "X-Road Metrics anomaly analyzer",
	Long: `analyzer detects anomalous service call behavior in X-Road
operational monitoring data.

It trains historic averages models over pre-aggregated request metrics and
flags periods whose metrics deviate from the baseline, alongside rule-based
detectors for failed request ratios, duplicate message ids and time sync
errors. Detected anomalies are persisted as incidents for review.`,
	Version: "1.0.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&migrationsPath, "migrations", "migrations", "database migrations directory")
}
