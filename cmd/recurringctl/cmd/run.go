package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/recurring/internal/app"
	"example.com/recurring/internal/domain"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		today   string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Materialize every due occurrence once and print the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now()
			if today != "" {
				parsed, err := domain.ParseDate(today)
				if err != nil {
					return fmt.Errorf("--today: %w", err)
				}
				day = parsed
			}

			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, migrate, log)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Orchestrator.Run(cmd.Context(), day)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "run as of this date (YYYY-MM-DD, default is the current date)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the postgres schema before running")
	return cmd
}
