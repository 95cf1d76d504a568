package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

var permissionDescriptions = map[string]string{
	shared.PermQuotationsCreate:  "Create quotations",
	shared.PermQuotationsEdit:    "Edit draft quotations",
	shared.PermQuotationsApprove: "Approve or reject quotations",
	shared.PermQuotationsDelete:  "Delete quotations",
	shared.PermQuotationsViewAll: "View quotations owned by other users",
	shared.PermInvoicesManage:    "Create, send and settle invoices",
	shared.PermSettingsManage:    "Manage tax, invoice and email settings",
}

func newRBACCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Manage billing permissions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Upsert every billing permission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := env.Services(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(services)

			log := logger(cmd)
			for _, name := range shared.BillingScopes() {
				p, err := services.RBAC.EnsurePermission(cmd.Context(), name, permissionDescriptions[name])
				if err != nil {
					return fmt.Errorf("ensure permission %s: %w", name, err)
				}
				log.Info("permission ensured", slog.String("name", p.Name), slog.Int64("id", p.ID))
			}
			return nil
		},
	})
	return cmd
}
