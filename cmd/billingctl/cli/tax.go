package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

type calcTaxOptions struct {
	subtotal float64
	gst      float64
	pst      float64
	taxType  string
	json     bool
}

func newCalcTaxCommand() *cobra.Command {
	var opts calcTaxOptions
	cmd := &cobra.Command{
		Use:   "calc-tax",
		Short: "Compute the GST/PST breakdown for a subtotal",
		Example: "  billingctl calc-tax --subtotal 100 --gst 5 --pst 7\n" +
			"  billingctl calc-tax --subtotal 200 --pst 7 --type PST_ONLY --json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCalcTax(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&opts.subtotal, "subtotal", 0, "amount before tax")
	f.Float64Var(&opts.gst, "gst", 0, "GST percentage")
	f.Float64Var(&opts.pst, "pst", 0, "PST percentage")
	f.StringVar(&opts.taxType, "type", "", "NO_TAX, GST_ONLY, PST_ONLY or GST_AND_PST; inferred from the rates when empty")
	f.BoolVar(&opts.json, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("subtotal")
	return cmd
}

func runCalcTax(cmd *cobra.Command, opts calcTaxOptions) error {
	if opts.subtotal < 0 {
		return fmt.Errorf("subtotal must not be negative")
	}
	if err := tax.ValidateRate("gst", opts.gst); err != nil {
		return err
	}
	if err := tax.ValidateRate("pst", opts.pst); err != nil {
		return err
	}
	taxType := tax.TypeFor(opts.gst, opts.pst)
	if opts.taxType != "" {
		parsed, err := tax.ParseType(opts.taxType)
		if err != nil {
			return err
		}
		taxType = parsed
	}
	b, err := tax.Calculate(opts.subtotal, opts.gst, opts.pst, taxType)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Tax type\t%s\n", b.TaxType)
	fmt.Fprintf(w, "Subtotal\t%s\n", notify.FormatMoney(b.Subtotal))
	fmt.Fprintf(w, "GST (%s)\t%s\n", notify.FormatRate(b.GSTRate), notify.FormatMoney(b.GSTAmount))
	fmt.Fprintf(w, "PST (%s)\t%s\n", notify.FormatRate(b.PSTRate), notify.FormatMoney(b.PSTAmount))
	fmt.Fprintf(w, "Total tax\t%s\n", notify.FormatMoney(b.CombinedTaxAmount))
	fmt.Fprintf(w, "Total\t%s\n", notify.FormatMoney(b.TotalAmount))
	return w.Flush()
}
