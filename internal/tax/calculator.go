// Package tax computes GST/PST amounts for quotations and invoices.
package tax

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
)

// Type selects which tax components apply to a subtotal.
type Type string

const (
	NoTax     Type = "NO_TAX"
	GSTOnly   Type = "GST_ONLY"
	PSTOnly   Type = "PST_ONLY"
	GSTAndPST Type = "GST_AND_PST"
)

// Types lists every recognised selector.
func Types() []Type {
	return []Type{NoTax, GSTOnly, PSTOnly, GSTAndPST}
}

// Valid reports whether t is a recognised selector.
func (t Type) Valid() bool {
	switch t {
	case NoTax, GSTOnly, PSTOnly, GSTAndPST:
		return true
	}
	return false
}

func (t Type) appliesGST() bool { return t == GSTOnly || t == GSTAndPST }

func (t Type) appliesPST() bool { return t == PSTOnly || t == GSTAndPST }

// ParseType normalises user input into a Type.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", httpx.Validationf("invalid tax type %q", raw)
	}
	return t, nil
}

// TypeFor derives the selector implied by which rates are nonzero.
func TypeFor(gstRate, pstRate float64) Type {
	switch {
	case gstRate > 0 && pstRate > 0:
		return GSTAndPST
	case gstRate > 0:
		return GSTOnly
	case pstRate > 0:
		return PSTOnly
	default:
		return NoTax
	}
}

// ValidateRate ensures a percentage lies in [0, 100].
func ValidateRate(name string, rate float64) error {
	if !(rate >= 0 && rate <= 100) {
		return httpx.Validationf("%s must be between 0 and 100", name)
	}
	return nil
}

// Breakdown is the result of applying a tax selector to a subtotal.
type Breakdown struct {
	Subtotal          float64 `json:"subtotal"`
	TaxType           Type    `json:"taxType"`
	GSTRate           float64 `json:"gstPercentage"`
	GSTAmount         float64 `json:"gstAmount"`
	PSTRate           float64 `json:"pstPercentage"`
	PSTAmount         float64 `json:"pstAmount"`
	CombinedTaxAmount float64 `json:"combinedTaxAmount"`
	TotalAmount       float64 `json:"totalAmount"`
}

// LegacyTaxPercentage mirrors gst+pst for older consumers of tax_percentage.
func (b Breakdown) LegacyTaxPercentage() float64 {
	var pct decimal.Decimal
	if b.TaxType.appliesGST() {
		pct = pct.Add(decimal.NewFromFloat(b.GSTRate))
	}
	if b.TaxType.appliesPST() {
		pct = pct.Add(decimal.NewFromFloat(b.PSTRate))
	}
	return pct.InexactFloat64()
}

var hundred = decimal.NewFromInt(100)

// Calculate applies the selected tax components to subtotal. Amounts are
// rounded half-up to two decimals; unselected components are always zero.
func Calculate(subtotal, gstRate, pstRate float64, taxType Type) (Breakdown, error) {
	if !taxType.Valid() {
		return Breakdown{}, httpx.Validationf("invalid tax type %q", taxType)
	}
	base := decimal.NewFromFloat(subtotal)

	gst := decimal.Zero
	if taxType.appliesGST() {
		gst = percentOf(base, gstRate)
	}
	pst := decimal.Zero
	if taxType.appliesPST() {
		pst = percentOf(base, pstRate)
	}
	combined := gst.Add(pst)

	return Breakdown{
		Subtotal:          subtotal,
		TaxType:           taxType,
		GSTRate:           gstRate,
		GSTAmount:         gst.InexactFloat64(),
		PSTRate:           pstRate,
		PSTAmount:         pst.InexactFloat64(),
		CombinedTaxAmount: combined.InexactFloat64(),
		TotalAmount:       base.Add(combined).InexactFloat64(),
	}, nil
}

// MustCalculate is Calculate for selectors already known to be valid.
func MustCalculate(subtotal, gstRate, pstRate float64, taxType Type) Breakdown {
	b, err := Calculate(subtotal, gstRate, pstRate, taxType)
	if err != nil {
		panic(fmt.Sprintf("tax: %v", err))
	}
	return b
}

func percentOf(base decimal.Decimal, rate float64) decimal.Decimal {
	return base.Mul(decimal.NewFromFloat(rate)).Div(hundred).Round(2)
}
