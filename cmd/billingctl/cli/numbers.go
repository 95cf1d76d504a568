package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
)

func newNextNumberCommand(env Env) *cobra.Command {
	var invoiceType string
	cmd := &cobra.Command{
		Use:       "next-number quotation|invoice",
		Short:     "Preview the next quotation or invoice number",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"quotation", "invoice"},
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := env.Services(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(services)

			var number string
			switch args[0] {
			case "quotation":
				number, err = services.QuotationNumbers.Next(cmd.Context())
			default:
				t, perr := invoices.ParseType(invoiceType)
				if perr != nil {
					return perr
				}
				number, err = services.InvoiceNumbers.Next(cmd.Context(), string(t))
			}
			if err != nil {
				return fmt.Errorf("next %s number: %w", args[0], err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), number)
			return err
		},
	}
	cmd.Flags().StringVar(&invoiceType, "type", string(invoices.TypeGSTPST), "invoice type for invoice numbers")
	return cmd
}
