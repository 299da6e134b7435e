package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xroad-metrics/analyzer/internal/service"
)

var findCmd = &cobra.Command{
	Use:   "find-anomalies",
	Short: "Run one anomaly detection pass",
	Long: `Runs the rule-based detectors and scores fresh aggregated data
against the stored historic averages models. Every detected anomaly is
persisted as a new incident.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		finder := service.NewFinder(a.repo, a.repo, a.cfg.Analyzer, a.hb, a.pub, a.logger)
		return finder.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}
