package notify

const layoutHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; color: #1f2933; background: #f5f7fa; margin: 0; padding: 24px; }
.card { max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 6px; padding: 32px; }
h1 { font-size: 20px; margin: 0 0 16px; }
table.summary { width: 100%; border-collapse: collapse; margin: 16px 0; }
table.summary td { padding: 6px 0; border-bottom: 1px solid #e4e7eb; }
table.summary td.amount { text-align: right; }
tr.total td { font-weight: bold; border-bottom: none; }
.footer { color: #7b8794; font-size: 12px; margin-top: 24px; }
</style>
</head>
<body>
<div class="card">
`

const layoutFoot = `<p class="footer">{{company_name}}</p>
</div>
</body>
</html>
`

var builtinTemplates = map[Event]Template{
	EventQuotationApproved: {
		Key:     string(EventQuotationApproved),
		Subject: "Quotation {{quotation_number}} approved",
		HTMLContent: layoutHead + `<h1>Your quotation has been approved</h1>
<p>Dear {{client_name}},</p>
<p>Quotation <strong>{{quotation_number}}</strong> ({{quotation_title}}) has been approved.</p>
<table class="summary">
<tr><td>Subtotal</td><td class="amount">{{subtotal}}</td></tr>
<tr><td>GST ({{gst_rate}})</td><td class="amount">{{gst_amount}}</td></tr>
<tr><td>PST ({{pst_rate}})</td><td class="amount">{{pst_amount}}</td></tr>
<tr class="total"><td>Total</td><td class="amount">{{total_amount}}</td></tr>
</table>
<p>An invoice will follow shortly.</p>
` + layoutFoot,
		Enabled: true,
	},
	EventQuotationRejected: {
		Key:     string(EventQuotationRejected),
		Subject: "Quotation {{quotation_number}} was not approved",
		HTMLContent: layoutHead + `<h1>Quotation update</h1>
<p>Dear {{client_name}},</p>
<p>Quotation <strong>{{quotation_number}}</strong> ({{quotation_title}}) was not approved.</p>
<p>Reason: {{rejection_reason}}</p>
<p>Please contact us if you would like a revised quotation.</p>
` + layoutFoot,
		Enabled: true,
	},
	EventInvoiceReady: {
		Key:     string(EventInvoiceReady),
		Subject: "Invoice {{invoice_number}} from {{company_name}}",
		HTMLContent: layoutHead + `<h1>Invoice {{invoice_number}}</h1>
<p>Dear {{client_name}},</p>
<p>Please find the details of your invoice for quotation {{quotation_number}} below.</p>
<table class="summary">
<tr><td>Subtotal</td><td class="amount">{{subtotal}}</td></tr>
<tr><td>GST ({{gst_rate}})</td><td class="amount">{{gst_amount}}</td></tr>
<tr><td>PST ({{pst_rate}})</td><td class="amount">{{pst_amount}}</td></tr>
<tr><td>Total tax</td><td class="amount">{{tax_amount}}</td></tr>
<tr class="total"><td>Amount due</td><td class="amount">{{total_amount}}</td></tr>
</table>
<p>Payment is due by <strong>{{due_date}}</strong>.</p>
` + layoutFoot,
		Enabled: true,
	},
}
