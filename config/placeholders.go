package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
)

// Required-placeholder table per document type. Static per deployment:
// loaded once at startup, optionally overridden via REQUIRED_PLACEHOLDERS_JSON
// (a JSON object mapping document type to a list of placeholder names).
var requiredPlaceholders = map[string][]string{
	"invoice": {
		"invoice_number", "guest_name", "checkin_date", "checkout_date",
		"amount_gross", "company_name",
	},
	"credit_note": {
		"credit_note_number", "guest_name", "amount_gross", "company_name",
	},
	"payment_receipt": {
		"receipt_number", "guest_name", "amount_gross", "company_name",
	},
	"bill": {
		"bill_number", "supplier_name", "amount_gross", "company_name",
	},
	"tax_declaration": {
		"declaration_number", "period_start", "period_end", "amount_gross",
		"company_name",
	},
	"report": {
		"report_title", "period_start", "period_end", "company_name",
	},
}

func init() {
	raw := strings.TrimSpace(os.Getenv("REQUIRED_PLACEHOLDERS_JSON"))
	if raw == "" {
		return
	}
	override := map[string][]string{}
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		log.Printf("invalid REQUIRED_PLACEHOLDERS_JSON; using built-in table: %v", err)
		return
	}
	for docType, names := range override {
		requiredPlaceholders[docType] = names
	}
}

// GetRequiredPlaceholders returns a copy so callers cannot mutate the table.
func GetRequiredPlaceholders() map[string][]string {
	out := make(map[string][]string, len(requiredPlaceholders))
	for k, v := range requiredPlaceholders {
		names := make([]string, len(v))
		copy(names, v)
		out[k] = names
	}
	return out
}

func IsAllowedDocumentType(t string) bool {
	_, ok := requiredPlaceholders[t]
	return ok
}
