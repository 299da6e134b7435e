package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xroad-metrics/analyzer/internal/service"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit or update the historic averages models",
	Long: `Runs one training pass: partitions service calls into their
training stages, fits fresh baselines for calls past their training period
and folds new data into the models of mature calls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		trainer := service.NewTrainer(a.repo, a.repo, a.cfg.Analyzer, a.hb, a.logger)
		return trainer.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
}
