package template

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testRequired = map[string][]string{
	"invoice": {"invoice_number", "guest_name", "checkin_date", "checkout_date", "amount_gross", "company_name"},
}

const validInvoiceTemplate = `<html><body>
<h1>{{ company_name }}</h1>
<p>Invoice {{ invoice_number }} for {{ guest_name }}</p>
<p>{{ checkin_date }} to {{ checkout_date }}</p>
<p>Total: {{ amount_gross }}</p>
</body></html>`

func TestValidate_ValidInvoice(t *testing.T) {
	v := NewValidator(testRequired)
	result := v.Validate("invoice", validInvoiceTemplate)

	if !result.IsValid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
	want := []string{"html_syntax", "required_placeholders", "security_scan", "file_size"}
	if diff := cmp.Diff(want, result.ChecksPerformed); diff != "" {
		t.Fatalf("checks performed mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_MissingInvoiceNumber(t *testing.T) {
	content := strings.Replace(validInvoiceTemplate, "Invoice {{ invoice_number }} for", "Invoice for", 1)
	v := NewValidator(testRequired)

	result := v.Validate("invoice", content)

	if result.IsValid {
		t.Fatal("expected invalid result")
	}
	found := false
	for _, f := range result.Errors {
		if f.Kind == FindingMissingPlaceholder && f.Context == "invoice_number" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing_placeholder for invoice_number, got %v", result.Errors)
	}
}

func TestValidate_ScriptBlockIsError(t *testing.T) {
	v := NewValidator(testRequired)
	result := v.Validate("invoice", validInvoiceTemplate+`<script>fetch("https://evil.example")</script>`)

	if result.IsValid {
		t.Fatal("expected invalid result")
	}
	found := false
	for _, f := range result.Errors {
		if f.Kind == FindingSecurityError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a security_error finding, got %v", result.Errors)
	}
}

func TestValidate_FileTooLarge(t *testing.T) {
	v := NewValidator(testRequired)
	v.MaxContentBytes = 64

	result := v.Validate("invoice", validInvoiceTemplate)

	found := false
	for _, f := range result.Errors {
		if f.Kind == FindingFileTooLarge {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected file_too_large, got %v", result.Errors)
	}
}

func TestValidate_AllChecksRunEvenWhenFailing(t *testing.T) {
	v := NewValidator(testRequired)
	v.MaxContentBytes = 8

	// Broken markup, missing placeholders, forbidden element, oversized: the
	// result must carry findings from every check, not stop at the first.
	result := v.Validate("invoice", `<div><script>x</script>`)

	if result.IsValid {
		t.Fatal("expected invalid result")
	}
	kinds := map[string]bool{}
	for _, f := range result.Errors {
		kinds[f.Kind] = true
	}
	for _, kind := range []string{FindingSyntaxError, FindingMissingPlaceholder, FindingSecurityError, FindingFileTooLarge} {
		if !kinds[kind] {
			t.Fatalf("expected %s among errors, got %v", kind, result.Errors)
		}
	}
	if len(result.ChecksPerformed) != 4 {
		t.Fatalf("expected 4 checks performed, got %v", result.ChecksPerformed)
	}
}

func TestValidate_Deterministic(t *testing.T) {
	v := NewValidator(testRequired)
	content := `<div><p>{{ amount_gross }}<script src="x.js"></script>`

	first := v.Validate("invoice", content)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, v.Validate("invoice", content)); diff != "" {
			t.Fatalf("validation is not deterministic (run %d):\n%s", i, diff)
		}
	}
}

func TestValidate_UnknownDocumentTypeHasNoRequiredSet(t *testing.T) {
	v := NewValidator(testRequired)
	result := v.Validate("report", `<p>{{ anything }}</p>`)

	for _, f := range result.Errors {
		if f.Kind == FindingMissingPlaceholder {
			t.Fatalf("no required set configured for report, got %v", result.Errors)
		}
	}
}
