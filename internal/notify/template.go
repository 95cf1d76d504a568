// Package notify renders templated client emails and delivers them.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

// Event names a lifecycle moment that produces an email.
type Event string

const (
	EventQuotationApproved Event = "quotation_approved"
	EventQuotationRejected Event = "quotation_rejected"
	EventInvoiceReady      Event = "invoice_ready"
)

// Events lists every event with a built-in template.
func Events() []Event {
	return []Event{EventQuotationApproved, EventQuotationRejected, EventInvoiceReady}
}

// Key returns the template key for the event, optionally narrowed by variant.
func (e Event) Key(variant string) string {
	variant = strings.TrimSpace(strings.ToLower(variant))
	if variant == "" {
		return string(e)
	}
	return string(e) + "_" + variant
}

// VariantFor maps a tax selector onto a template variant.
func VariantFor(t tax.Type) string {
	return strings.ToLower(string(t))
}

// KnownKey reports whether key names an event or one of its tax variants.
func KnownKey(key string) bool {
	for _, e := range Events() {
		if key == string(e) {
			return true
		}
		for _, t := range tax.Types() {
			if key == e.Key(VariantFor(t)) {
				return true
			}
		}
	}
	return false
}

// ErrTemplateNotFound is returned by stores for unknown keys.
var ErrTemplateNotFound = errors.New("email template not found")

// Template is an administrator-editable email template.
type Template struct {
	ID          int64     `json:"id"`
	Key         string    `json:"templateKey"`
	Subject     string    `json:"subject" validate:"required,max=255"`
	HTMLContent string    `json:"htmlContent" validate:"required"`
	Enabled     bool      `json:"enabled"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TemplateStore looks up stored templates by key.
type TemplateStore interface {
	GetTemplate(ctx context.Context, key string) (Template, error)
}
