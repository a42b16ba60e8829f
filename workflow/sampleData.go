package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/doctemplates_backend/config"
)

const sampleCacheTTL = time.Hour

// CachedSampleProvider serves representative data contexts for preview
// rendering. Contexts are cached per tenant and document type in Redis so
// repeated previews during an editing session stay cheap; a cold or absent
// Redis degrades to the built-in defaults.
type CachedSampleProvider struct{}

func (p CachedSampleProvider) SampleContext(ctx context.Context, tenantId, documentType string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := "SampleData:" + tenantId + ":" + documentType
	var cached map[string]any
	found, err := config.GetRedisObject(key, &cached)
	if err == nil && found {
		return cached, nil
	}
	if err != nil {
		// Unreadable cache entry (corrupt payload or redis error): evict it
		// so the next preview repopulates cleanly.
		_ = config.RemoveRedisKey(key)
	}

	data := defaultSampleContext(documentType)
	_ = config.SetRedisObject(key, data, sampleCacheTTL)
	return data, nil
}

// defaultSampleContext builds a plausible record for each document type. The
// shapes mirror what the document generators feed the renderer in production,
// including nested records and line arrays.
func defaultSampleContext(documentType string) map[string]any {
	guest := map[string]any{
		"name":  "Anna Schmidt",
		"email": "anna.schmidt@example.com",
	}
	company := map[string]any{
		"name":       "Seaside Hotel GmbH",
		"vat_number": "DE812345678",
		"address":    "Strandweg 1, 18609 Binz",
	}
	lines := []any{
		map[string]any{"description": "Deluxe room, 3 nights", "amount": "360.00"},
		map[string]any{"description": "Breakfast", "amount": "45.00"},
		map[string]any{"description": "City tax", "amount": "9.00"},
	}

	base := map[string]any{
		"guest":          guest,
		"company":        company,
		"guest_name":     "Anna Schmidt",
		"company_name":   "Seaside Hotel GmbH",
		"checkin_date":   "2026-08-21",
		"checkout_date":  "2026-08-24",
		"amount_gross":   "414.00",
		"amount_net":     "389.47",
		"currency":       "EUR",
		"lines":          lines,
	}

	switch documentType {
	case "invoice":
		base["invoice_number"] = "INV-2026-000123"
	case "credit_note":
		base["credit_note_number"] = "CN-2026-000017"
		base["invoice_number"] = "INV-2026-000123"
		base["amount_gross"] = "-120.00"
	case "payment_receipt":
		base["receipt_number"] = "RCPT-2026-000456"
		base["payment_method"] = "card"
	case "bill":
		base["bill_number"] = "BILL-2026-000032"
		base["supplier_name"] = "Nordic Linen Supplies"
	case "tax_declaration":
		base["declaration_number"] = "TD-2026-Q2"
		base["period_start"] = "2026-04-01"
		base["period_end"] = "2026-06-30"
		base["tax_amount"] = "2845.12"
	case "report":
		base["report_title"] = "Occupancy Summary"
		base["period_start"] = "2026-08-01"
		base["period_end"] = "2026-08-31"
	}
	return base
}
