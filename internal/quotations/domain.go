// Package quotations manages priced proposals to clients and their approval
// workflow, including invoice generation and client notification on approval.
package quotations

import (
	"errors"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

// Status enumerates quotation states.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus normalises user input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusDraft, StatusApproved, StatusRejected:
		return s, nil
	}
	return "", httpx.Validationf("invalid quotation status %q", raw)
}

// Quotation is a priced proposal to a client.
type Quotation struct {
	ID                int64          `json:"id"`
	QuotationNumber   string         `json:"quotationNumber"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	ClientID          int64          `json:"clientId"`
	UserID            int64          `json:"userId"`
	Status            Status         `json:"status"`
	TaxType           tax.Type       `json:"taxType"`
	Subtotal          float64        `json:"subtotal"`
	GSTPercentage     float64        `json:"gstPercentage"`
	GSTAmount         float64        `json:"gstAmount"`
	PSTPercentage     float64        `json:"pstPercentage"`
	PSTAmount         float64        `json:"pstAmount"`
	CombinedTaxAmount float64        `json:"combinedTaxAmount"`
	TaxPercentage     float64        `json:"taxPercentage"`
	TaxAmount         float64        `json:"taxAmount"`
	TotalAmount       float64        `json:"totalAmount"`
	ValidUntil        *time.Time     `json:"validUntil,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	FormData          map[string]any `json:"formData,omitempty"`
	ApprovedBy        *int64         `json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time     `json:"approvedAt,omitempty"`
	RejectedBy        *int64         `json:"rejectedBy,omitempty"`
	RejectedAt        *time.Time     `json:"rejectedAt,omitempty"`
	RejectionReason   string         `json:"rejectionReason,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// ApplyBreakdown copies tax figures, including the legacy combined fields.
func (q *Quotation) ApplyBreakdown(b tax.Breakdown) {
	q.TaxType = b.TaxType
	q.Subtotal = b.Subtotal
	q.GSTPercentage = b.GSTRate
	q.GSTAmount = b.GSTAmount
	q.PSTPercentage = b.PSTRate
	q.PSTAmount = b.PSTAmount
	q.CombinedTaxAmount = b.CombinedTaxAmount
	q.TaxPercentage = b.LegacyTaxPercentage()
	q.TaxAmount = b.CombinedTaxAmount
	q.TotalAmount = b.TotalAmount
}

// Breakdown reconstructs the stored tax figures.
func (q *Quotation) Breakdown() tax.Breakdown {
	return tax.Breakdown{
		Subtotal:          q.Subtotal,
		TaxType:           q.TaxType,
		GSTRate:           q.GSTPercentage,
		GSTAmount:         q.GSTAmount,
		PSTRate:           q.PSTPercentage,
		PSTAmount:         q.PSTAmount,
		CombinedTaxAmount: q.CombinedTaxAmount,
		TotalAmount:       q.TotalAmount,
	}
}

// Ref projects the quotation onto the view invoices need.
func (q *Quotation) Ref() invoices.QuotationRef {
	return invoices.QuotationRef{
		ID:            q.ID,
		Number:        q.QuotationNumber,
		Title:         q.Title,
		ClientID:      q.ClientID,
		OwnerID:       q.UserID,
		Status:        string(q.Status),
		TaxType:       q.TaxType,
		Subtotal:      q.Subtotal,
		GSTPercentage: q.GSTPercentage,
		PSTPercentage: q.PSTPercentage,
		ValidUntil:    q.ValidUntil,
	}
}

// CreateRequest is the input for a new quotation. Missing rates default to
// the configured tax settings.
type CreateRequest struct {
	Title         string         `json:"title" validate:"required,max=200"`
	Description   string         `json:"description"`
	ClientID      int64          `json:"clientId" validate:"required,gt=0"`
	Subtotal      float64        `json:"subtotal" validate:"gte=0"`
	TaxType       string         `json:"taxType"`
	GSTPercentage *float64       `json:"gstPercentage" validate:"omitempty,gte=0,lte=100"`
	PSTPercentage *float64       `json:"pstPercentage" validate:"omitempty,gte=0,lte=100"`
	ValidUntil    *time.Time     `json:"validUntil"`
	Notes         string         `json:"notes"`
	FormData      map[string]any `json:"formData"`
}

// UpdateRequest patches a DRAFT quotation. Nil fields are left unchanged.
type UpdateRequest struct {
	Title         *string        `json:"title" validate:"omitempty,min=1,max=200"`
	Description   *string        `json:"description"`
	ClientID      *int64         `json:"clientId" validate:"omitempty,gt=0"`
	Subtotal      *float64       `json:"subtotal" validate:"omitempty,gte=0"`
	TaxType       *string        `json:"taxType"`
	GSTPercentage *float64       `json:"gstPercentage" validate:"omitempty,gte=0,lte=100"`
	PSTPercentage *float64       `json:"pstPercentage" validate:"omitempty,gte=0,lte=100"`
	ValidUntil    *time.Time     `json:"validUntil"`
	Notes         *string        `json:"notes"`
	FormData      map[string]any `json:"formData"`
}

func (r UpdateRequest) touchesTax() bool {
	return r.Subtotal != nil || r.TaxType != nil || r.GSTPercentage != nil || r.PSTPercentage != nil
}

// StatusRequest asks for a status transition.
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=1000"`
}

// StatusChange is what repositories persist for a transition.
type StatusChange struct {
	Status  Status
	ActorID int64
	Reason  string
	At      time.Time
}

// StatusChangeResult reports a transition and its side effects.
type StatusChangeResult struct {
	Quotation        *Quotation        `json:"quotation"`
	GeneratedInvoice *invoices.Invoice `json:"generatedInvoice"`
	EmailSent        bool              `json:"emailSent"`
	EmailError       string            `json:"emailError,omitempty"`
	InvoiceError     string            `json:"invoiceError,omitempty"`
}

// ListFilter narrows quotation listings. OwnerID zero lists every owner.
type ListFilter struct {
	Status   Status
	ClientID int64
	OwnerID  int64
	Search   string
	Page     shared.PageRequest
}

// ErrDuplicateNumber is returned by repositories when quotation_number collides.
var ErrDuplicateNumber = errors.New("quotation number already exists")
