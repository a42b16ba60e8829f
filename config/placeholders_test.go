package config

import (
	"testing"
)

func TestGetRequiredPlaceholders_ReturnsCopy(t *testing.T) {
	first := GetRequiredPlaceholders()
	first["invoice"][0] = "tampered"
	delete(first, "report")

	second := GetRequiredPlaceholders()
	if second["invoice"][0] != "invoice_number" {
		t.Fatal("callers must not be able to mutate the required-placeholder table")
	}
	if _, ok := second["report"]; !ok {
		t.Fatal("callers must not be able to remove document types")
	}
}

func TestIsAllowedDocumentType(t *testing.T) {
	for _, docType := range []string{"invoice", "credit_note", "payment_receipt", "bill", "tax_declaration", "report"} {
		if !IsAllowedDocumentType(docType) {
			t.Fatalf("%s should be allowed", docType)
		}
	}
	if IsAllowedDocumentType("postcard") {
		t.Fatal("unknown document types are rejected")
	}
}
