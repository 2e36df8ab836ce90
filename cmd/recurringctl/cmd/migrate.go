package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/recurring/internal/app"
	"example.com/recurring/internal/config"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, true, log)
			if err != nil {
				return err
			}
			defer a.Close()

			where := cfg.StoreDriver
			if cfg.StoreDriver == config.DriverSQLite {
				where = cfg.SQLitePath
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", where)
			return err
		},
	}
}
