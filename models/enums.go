package models

import (
	"encoding/json"
	"errors"
)

type TemplateStatus string

const (
	TemplateStatusActive   TemplateStatus = "Active"
	TemplateStatusArchived TemplateStatus = "Archived"
)

func (s *TemplateStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("template status must be string")
	}
	switch TemplateStatus(str) {
	case TemplateStatusActive, TemplateStatusArchived:
		*s = TemplateStatus(str)
	default:
		return errors.New("invalid template status")
	}
	return nil
}

type AuditAction string

const (
	AuditActionValidate AuditAction = "validate"
	AuditActionPreview  AuditAction = "preview"
	AuditActionApprove  AuditAction = "approve"
	AuditActionReject   AuditAction = "reject"
)

// Outbox publish statuses for TemplateEventRecord.PublishStatus.
// Keep these as strings (DB values).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

const TemplateEventActivated = "template.activated"
