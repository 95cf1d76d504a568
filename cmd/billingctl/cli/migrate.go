package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/migrations"
)

func newMigrateCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or revert the billing schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := env.Services(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(services)

			applied, err := migrations.Up(cmd.Context(), services.Pool)
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the latest migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := env.Services(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(services)

			version, err := migrations.Down(cmd.Context(), services.Pool)
			if err != nil {
				return err
			}
			if version == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", version)
			return nil
		},
	})
	return cmd
}
