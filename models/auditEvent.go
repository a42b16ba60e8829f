package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// AuditEvent records one admin action against a tenant's templates. The table
// is append-only: rows are inserted by AuditLog.Append and never updated or
// deleted. Every workflow operation writes one, including failed ones.
type AuditEvent struct {
	ID int `gorm:"primary_key" json:"id"`

	TenantId     string      `gorm:"not null;size:64;index:idx_audit_key,priority:1" json:"tenant_id"`
	DocumentType string      `gorm:"not null;size:50;index:idx_audit_key,priority:2" json:"document_type"`
	Action       AuditAction `gorm:"not null;size:20" json:"action"`
	Actor        string      `gorm:"not null;size:100" json:"actor"`
	Outcome      string      `gorm:"not null;size:30" json:"outcome"`
	Detail       string      `gorm:"type:text" json:"detail"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_audit_key,priority:3" json:"created_at"`
}

type AuditLog struct {
	DB *gorm.DB
}

func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{DB: db}
}

func (l *AuditLog) Append(ctx context.Context, event *AuditEvent) error {
	return l.DB.WithContext(ctx).Create(event).Error
}

// List returns the newest events first, scoped to one tenant and document type.
func (l *AuditLog) List(ctx context.Context, tenantId, documentType string, limit int) ([]*AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []*AuditEvent
	err := l.DB.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ?", tenantId, documentType).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
