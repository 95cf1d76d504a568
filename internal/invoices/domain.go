// Package invoices issues tax invoices for approved quotations and manages
// their payment lifecycle.
package invoices

import (
	"errors"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

// Type enumerates invoice kinds; each implies one tax selector.
type Type string

const (
	TypeGST    Type = "TAX_INVOICE_GST"
	TypePST    Type = "TAX_INVOICE_PST"
	TypeGSTPST Type = "TAX_INVOICE_GST_PST"
	TypeNoTax  Type = "TAX_INVOICE_NO_TAX"
)

// TaxType returns the selector implied by the invoice type.
func (t Type) TaxType() tax.Type {
	switch t {
	case TypeGST:
		return tax.GSTOnly
	case TypePST:
		return tax.PSTOnly
	case TypeGSTPST:
		return tax.GSTAndPST
	default:
		return tax.NoTax
	}
}

// Valid reports whether t is a known invoice type.
func (t Type) Valid() bool {
	switch t {
	case TypeGST, TypePST, TypeGSTPST, TypeNoTax:
		return true
	}
	return false
}

// TypeFor maps a tax selector onto its invoice type.
func TypeFor(t tax.Type) Type {
	switch t {
	case tax.GSTOnly:
		return TypeGST
	case tax.PSTOnly:
		return TypePST
	case tax.GSTAndPST:
		return TypeGSTPST
	default:
		return TypeNoTax
	}
}

// ParseType normalises user input into a Type.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", httpx.Validationf("invalid invoice type %q", raw)
	}
	return t, nil
}

// Status enumerates invoice lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusApproved  Status = "APPROVED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusSent, StatusApproved, StatusPaid, StatusCancelled},
	StatusSent:     {StatusApproved, StatusPaid, StatusCancelled},
	StatusApproved: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus normalises user input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusSent, StatusApproved, StatusPaid, StatusCancelled:
		return s, nil
	}
	return "", httpx.Validationf("invalid invoice status %q", raw)
}

// Invoice is a billing document derived from an approved quotation.
type Invoice struct {
	ID                int64      `json:"id"`
	InvoiceNumber     string     `json:"invoiceNumber"`
	Type              Type       `json:"type"`
	QuotationID       int64      `json:"quotationId"`
	ClientID          int64      `json:"clientId"`
	CreatedBy         int64      `json:"createdBy"`
	Status            Status     `json:"status"`
	Subtotal          float64    `json:"subtotal"`
	GSTPercentage     float64    `json:"gstPercentage"`
	GSTAmount         float64    `json:"gstAmount"`
	PSTPercentage     float64    `json:"pstPercentage"`
	PSTAmount         float64    `json:"pstAmount"`
	CombinedTaxAmount float64    `json:"combinedTaxAmount"`
	TaxPercentage     float64    `json:"taxPercentage"`
	TaxAmount         float64    `json:"taxAmount"`
	TotalAmount       float64    `json:"totalAmount"`
	DueDate           time.Time  `json:"dueDate"`
	PaidDate          *time.Time `json:"paidDate,omitempty"`
	EmailSent         bool       `json:"emailSent"`
	EmailSentAt       *time.Time `json:"emailSentAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// ApplyBreakdown copies tax figures, including the legacy combined fields.
func (inv *Invoice) ApplyBreakdown(b tax.Breakdown) {
	inv.Subtotal = b.Subtotal
	inv.GSTPercentage = b.GSTRate
	inv.GSTAmount = b.GSTAmount
	inv.PSTPercentage = b.PSTRate
	inv.PSTAmount = b.PSTAmount
	inv.CombinedTaxAmount = b.CombinedTaxAmount
	inv.TaxPercentage = b.LegacyTaxPercentage()
	inv.TaxAmount = b.CombinedTaxAmount
	inv.TotalAmount = b.TotalAmount
}

// Locked reports whether the invoice can no longer change.
func (inv *Invoice) Locked() bool {
	return inv.Status == StatusPaid || inv.Status == StatusCancelled
}

// QuotationRef is the slice of a quotation invoices need.
type QuotationRef struct {
	ID            int64      `json:"id"`
	Number        string     `json:"quotationNumber"`
	Title         string     `json:"title"`
	ClientID      int64      `json:"clientId"`
	OwnerID       int64      `json:"userId"`
	Status        string     `json:"status"`
	TaxType       tax.Type   `json:"taxType"`
	Subtotal      float64    `json:"subtotal"`
	GSTPercentage float64    `json:"gstPercentage"`
	PSTPercentage float64    `json:"pstPercentage"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
}

// QuotationApproved matches the quotation status string for approval.
const QuotationApproved = "APPROVED"

// AppliedTaxRates echoes the rates used for a created invoice.
type AppliedTaxRates struct {
	TaxType tax.Type `json:"taxType"`
	GSTRate float64  `json:"gstRate"`
	PSTRate float64  `json:"pstRate"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Status      Status
	QuotationID int64
	ClientID    int64
	Page        shared.PageRequest
}

// ErrDuplicateNumber is returned by repositories when invoice_number collides.
var ErrDuplicateNumber = errors.New("invoice number already exists")
