package models

import (
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/doctemplates_backend/config"
	"bitbucket.org/mmdatafocus/doctemplates_backend/utils"
)

// TemplateEventRecord is the transactional outbox row for template lifecycle
// events. Enqueued in the same transaction that activates a version, published
// to Pub/Sub by the dispatcher after commit. Activation never blocks on the
// broker being up.
type TemplateEventRecord struct {
	ID int `gorm:"primary_key" json:"id"`

	TenantId     string `gorm:"not null;size:64;index" json:"tenant_id"`
	DocumentType string `gorm:"not null;size:50" json:"document_type"`
	Version      int    `gorm:"not null" json:"version"`
	ContentRef   string `gorm:"not null;size:255" json:"content_ref"`
	EventType    string `gorm:"not null;size:50" json:"event_type"`

	ApprovedBy    string    `gorm:"size:100" json:"approved_by"`
	ApprovedAt    time.Time `json:"approved_at"`
	CorrelationId string    `gorm:"size:64" json:"correlation_id"`

	PublishStatus    string     `gorm:"not null;size:20;index;default:PENDING" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"size:1024" json:"last_publish_error"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:128" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:128" json:"pubsub_message_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// EnqueueTemplateActivated inserts the outbox row inside the caller's
// transaction so the event and the version activation commit or roll back
// together.
func EnqueueTemplateActivated(tx *gorm.DB, v *TemplateVersion) error {
	correlationId := ""
	if tx.Statement != nil && tx.Statement.Context != nil {
		correlationId, _ = utils.GetCorrelationIdFromContext(tx.Statement.Context)
	}
	record := TemplateEventRecord{
		TenantId:      v.TenantId,
		DocumentType:  v.DocumentType,
		Version:       v.Version,
		ContentRef:    v.ContentRef,
		EventType:     TemplateEventActivated,
		ApprovedBy:    v.ApprovedBy,
		ApprovedAt:    v.ApprovedAt,
		CorrelationId: correlationId,
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func ConvertToTemplateEvent(record *TemplateEventRecord) config.TemplateEvent {
	return config.TemplateEvent{
		ID:            record.ID,
		TenantId:      record.TenantId,
		DocumentType:  record.DocumentType,
		Version:       record.Version,
		ContentRef:    record.ContentRef,
		EventType:     record.EventType,
		ApprovedBy:    record.ApprovedBy,
		ApprovedAt:    record.ApprovedAt,
		CorrelationId: record.CorrelationId,
	}
}
