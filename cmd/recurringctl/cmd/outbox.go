package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"example.com/recurring/internal/app"
)

func newOutboxCmd(root *rootOptions) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the ledger event outbox",
	}

	var (
		batch      int
		maxRetries int
		baseDelay  time.Duration
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Requeue dead-lettered ledger events for delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, false, log)
			if err != nil {
				return err
			}
			defer a.Close()

			replayer, err := a.DLQReplayer(maxRetries, baseDelay)
			if err != nil {
				return err
			}
			result, runErr := replayer.RunOnce(cmd.Context(), batch)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
				return err
			}
			return runErr
		},
	}
	replay.Flags().IntVar(&batch, "batch", 100, "maximum entries to handle")
	replay.Flags().IntVar(&maxRetries, "max-retries", 5, "attempts before an entry is quarantined")
	replay.Flags().DurationVar(&baseDelay, "base-delay", time.Minute, "backoff base between attempts")

	outbox.AddCommand(replay)
	return outbox
}
