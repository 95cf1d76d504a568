package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

type memoryTemplates struct {
	items map[string]Template
	err   error
}

func (m *memoryTemplates) GetTemplate(_ context.Context, key string) (Template, error) {
	if m.err != nil {
		return Template{}, m.err
	}
	tpl, ok := m.items[key]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return tpl, nil
}

func (m *memoryTemplates) ListTemplates(context.Context) ([]Template, error) {
	out := make([]Template, 0, len(m.items))
	for _, t := range m.items {
		out = append(out, t)
	}
	return out, nil
}

func (m *memoryTemplates) SaveTemplate(_ context.Context, t Template) (Template, error) {
	if m.items == nil {
		m.items = map[string]Template{}
	}
	t.Version = m.items[t.Key].Version + 1
	m.items[t.Key] = t
	return t, nil
}

func TestRenderPrefersVariant(t *testing.T) {
	store := &memoryTemplates{items: map[string]Template{
		"invoice_ready":          {Key: "invoice_ready", Subject: "General {{invoice_number}}", HTMLContent: "<p>general</p>", Enabled: true},
		"invoice_ready_gst_only": {Key: "invoice_ready_gst_only", Subject: "GST {{invoice_number}}", HTMLContent: "<p>{{gst_amount}}</p>", Enabled: true},
	}}
	r := NewResolver(store, nil)

	msg, err := r.Render(context.Background(), EventInvoiceReady, VariantFor(tax.GSTOnly), TemplateData{InvoiceNumber: "INV-GST-1", GSTAmount: 5})
	require.NoError(t, err)
	assert.Equal(t, "invoice_ready_gst_only", msg.Key)
	assert.Equal(t, SourceVariant, msg.Source)
	assert.Equal(t, "GST INV-GST-1", msg.Subject)
	assert.Equal(t, "<p>$5.00</p>", msg.HTML)
}

func TestRenderFallsBackToGeneralThenBuiltin(t *testing.T) {
	store := &memoryTemplates{items: map[string]Template{
		"invoice_ready_pst_only": {Key: "invoice_ready_pst_only", Subject: "x", HTMLContent: "x", Enabled: false},
		"invoice_ready":          {Key: "invoice_ready", Subject: "General", HTMLContent: "<p>general</p>", Enabled: true},
	}}
	r := NewResolver(store, nil)

	msg, err := r.Render(context.Background(), EventInvoiceReady, "pst_only", TemplateData{})
	require.NoError(t, err)
	assert.Equal(t, SourceStored, msg.Source)
	assert.Equal(t, "General", msg.Subject)

	store.items["invoice_ready"] = Template{Key: "invoice_ready", Subject: "General", HTMLContent: "<p>general</p>", Enabled: false}
	msg, err = r.Render(context.Background(), EventInvoiceReady, "pst_only", TemplateData{InvoiceNumber: "INV-PST-9"})
	require.NoError(t, err)
	assert.Equal(t, SourceBuiltin, msg.Source)
	assert.Equal(t, "invoice_ready", msg.Key)
	assert.Contains(t, msg.Subject, "INV-PST-9")
	assert.NotEmpty(t, msg.HTML)
	assert.True(t, strings.HasPrefix(msg.HTML, "<!DOCTYPE html>"))
}

func TestRenderStoreErrorDegradesToBuiltin(t *testing.T) {
	r := NewResolver(&memoryTemplates{err: errors.New("db down")}, nil)
	for _, e := range Events() {
		msg, err := r.Render(context.Background(), e, "", TemplateData{ClientName: "Ada"})
		require.NoError(t, err)
		assert.Equal(t, SourceBuiltin, msg.Source)
		assert.NotEmpty(t, msg.Subject)
		assert.Contains(t, msg.HTML, "Ada")
	}
}

func TestRenderEscapesBodyButNotSubject(t *testing.T) {
	store := &memoryTemplates{items: map[string]Template{
		"quotation_rejected": {Key: "quotation_rejected", Subject: "Re: {{quotation_title}}", HTMLContent: "<p>{{rejection_reason}}</p>", Enabled: true},
	}}
	r := NewResolver(store, nil)
	msg, err := r.Render(context.Background(), EventQuotationRejected, "", TemplateData{
		QuotationTitle:  "Tom & Jerry",
		RejectionReason: "<script>alert(1)</script>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Re: Tom & Jerry", msg.Subject)
	assert.Equal(t, "<p>&lt;script&gt;alert(1)&lt;/script&gt;</p>", msg.HTML)
}

func TestRenderLeavesUnknownTokens(t *testing.T) {
	store := &memoryTemplates{items: map[string]Template{
		"quotation_approved": {Key: "quotation_approved", Subject: "{{ client_name }} {{password}}", HTMLContent: "{{unknown_field}}", Enabled: true},
	}}
	msg, err := NewResolver(store, nil).Render(context.Background(), EventQuotationApproved, "", TemplateData{ClientName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada {{password}}", msg.Subject)
	assert.Equal(t, "{{unknown_field}}", msg.HTML)
}

func TestRenderUnknownEvent(t *testing.T) {
	_, err := NewResolver(nil, nil).Render(context.Background(), Event("payment_reminder"), "", TemplateData{})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestKnownKeyAndSplitKey(t *testing.T) {
	assert.True(t, KnownKey("invoice_ready"))
	assert.True(t, KnownKey("invoice_ready_gst_and_pst"))
	assert.False(t, KnownKey("invoice_ready_vat"))

	e, v := SplitKey("quotation_approved_no_tax")
	assert.Equal(t, EventQuotationApproved, e)
	assert.Equal(t, "no_tax", v)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$112.00", FormatMoney(112))
	assert.Equal(t, "$0.51", FormatMoney(0.505+0.0049))
	assert.Equal(t, "-$3.50", FormatMoney(-3.5))
	assert.Equal(t, "7%", FormatRate(7))
	assert.Equal(t, "9.975%", FormatRate(9.975))
}
