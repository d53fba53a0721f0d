package payout

import (
	"github.com/shopspring/decimal"
)

// RecipientType identifies how the payout rail addresses the instructor.
type RecipientType string

const (
	RecipientEmail   RecipientType = "email"
	RecipientPhone   RecipientType = "phone"
	RecipientAccount RecipientType = "account_id"
)

// Recipient describes where a disbursement goes.
type Recipient struct {
	Type    RecipientType
	Value   string
	Country string
}

// Request is a disbursement order in the settlement currency. The
// ExternalReference doubles as the idempotency anchor: retried submissions
// with the same reference can never double-pay.
type Request struct {
	Amount            decimal.Decimal
	CurrencyCode      string
	Recipient         Recipient
	ExternalReference string
}

// Result is the normalized rail outcome.
type Result struct {
	ID                string
	Status            string
	Amount            decimal.Decimal
	CurrencyCode      string
	ExternalReference string
}

// paymentMethods maps (country, recipient type) to the rail's payment-method
// identifier. The outer keys double as documentation of which corridors each
// recipient type supports.
var paymentMethods = map[string]map[RecipientType]string{
	"MX": {
		RecipientEmail:   "mx_email_transfer",
		RecipientPhone:   "mx_spei_phone",
		RecipientAccount: "mx_clabe",
	},
	"CO": {
		RecipientEmail:   "co_email_transfer",
		RecipientAccount: "co_bank_account",
	},
	"AR": {
		RecipientEmail:   "ar_email_transfer",
		RecipientPhone:   "ar_cvu_phone",
		RecipientAccount: "ar_cbu",
	},
	"PE": {
		RecipientEmail:   "pe_email_transfer",
		RecipientAccount: "pe_cci",
	},
}

func paymentMethod(country string, rt RecipientType) (string, bool) {
	methods, ok := paymentMethods[country]
	if !ok {
		return "", false
	}
	method, ok := methods[rt]
	return method, ok
}
