// Package settings holds tax, invoice and email configuration edited at runtime.
package settings

const (
	keyTax     = "tax"
	keyInvoice = "invoice"
	keyEmail   = "email"
)

// TaxSettings supplies default rates when a request carries none.
type TaxSettings struct {
	DefaultGSTRate           float64 `json:"defaultGstRate" validate:"gte=0,lte=100"`
	DefaultPSTRate           float64 `json:"defaultPstRate" validate:"gte=0,lte=100"`
	EnableAutoTaxCalculation bool    `json:"enableAutoTaxCalculation"`
}

// InvoiceSettings governs numbering and automation policy.
type InvoiceSettings struct {
	SequencePrefix         string `json:"sequencePrefix" validate:"required,max=16"`
	StartingNumber         int    `json:"startingNumber" validate:"gte=0"`
	DefaultDueDays         int    `json:"defaultDueDays" validate:"gte=0,lte=365"`
	AutoGenerateOnApproval bool   `json:"autoGenerateOnApproval"`
	AutoSendEmail          bool   `json:"autoSendEmail"`
}

// EmailSettings configures outbound SMTP delivery.
type EmailSettings struct {
	SMTPHost     string `json:"smtpHost" validate:"required,hostname_rfc1123|ip"`
	SMTPPort     int    `json:"smtpPort" validate:"gte=1,lte=65535"`
	SMTPUsername string `json:"smtpUsername"`
	SMTPPassword string `json:"smtpPassword,omitempty"`
	FromAddress  string `json:"fromAddress" validate:"required,email"`
	FromName     string `json:"fromName"`
	CompanyName  string `json:"companyName"`
}

// Redacted hides the SMTP password for API responses.
func (e EmailSettings) Redacted() EmailSettings {
	if e.SMTPPassword != "" {
		e.SMTPPassword = "********"
	}
	return e
}

// Hardcoded fallbacks used whenever stored settings are missing or unreadable.
const (
	DefaultSequencePrefix = "INV-"
	DefaultStartingNumber = 1000
	DefaultDueDays        = 30
)

// DefaultTax returns the fallback tax settings.
func DefaultTax() TaxSettings {
	return TaxSettings{EnableAutoTaxCalculation: true}
}

// DefaultInvoice returns the fallback invoice settings.
func DefaultInvoice() InvoiceSettings {
	return InvoiceSettings{
		SequencePrefix:         DefaultSequencePrefix,
		StartingNumber:         DefaultStartingNumber,
		DefaultDueDays:         DefaultDueDays,
		AutoGenerateOnApproval: true,
	}
}
