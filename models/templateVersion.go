package models

import (
	"time"

	"bitbucket.org/mmdatafocus/doctemplates_backend/template"
)

// TemplateVersion is one approved template per (tenant, document type).
// Versions are append-only: created only by a successful approval, archived
// exactly once when a newer version becomes Active, never deleted (retained
// for rollback and audit).
//
// Invariant: for each (tenant_id, document_type) at most one row has
// status = Active.
type TemplateVersion struct {
	ID int `gorm:"primary_key" json:"id"`

	TenantId     string `gorm:"not null;size:64;uniqueIndex:idx_tv_key,priority:1;index:idx_tv_active,priority:1" json:"tenant_id"`
	DocumentType string `gorm:"not null;size:50;uniqueIndex:idx_tv_key,priority:2;index:idx_tv_active,priority:2" json:"document_type"`
	Version      int    `gorm:"not null;uniqueIndex:idx_tv_key,priority:3" json:"version"`

	// ContentRef is the opaque blob-store id of the template bytes.
	ContentRef string `gorm:"not null;size:255" json:"content_ref"`

	// MappingSpecJson is stored as JSON text to avoid requiring MySQL JSON
	// column support. Parsed and validated before it is ever written here.
	MappingSpecJson string `gorm:"type:longtext" json:"mapping_spec_json"`

	Status TemplateStatus `gorm:"not null;size:10;index:idx_tv_active,priority:3" json:"status"`

	ApprovedBy         string    `gorm:"size:100" json:"approved_by"`
	ApprovedAt         time.Time `json:"approved_at"`
	Notes              string    `gorm:"type:text" json:"notes"`
	PreviousVersionRef *string   `gorm:"size:255" json:"previous_version_ref"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// MappingSpec parses the attached mapping spec. The stored JSON was validated
// at approval time, so an error here means the row was tampered with.
func (t *TemplateVersion) MappingSpec() (*template.MappingSpec, error) {
	return template.ParseMappingSpec([]byte(t.MappingSpecJson))
}
