package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/doctemplates_backend/models"
)

// The engine talks to infrastructure through these interfaces so the approval
// semantics can be tested without MySQL, GCS or Redis.

type VersionStore interface {
	// ActiveVersion returns utils.ErrorRecordNotFound when the tenant has no
	// active template for the document type.
	ActiveVersion(ctx context.Context, tenantId, documentType string) (*models.TemplateVersion, error)
	VersionByContentRef(ctx context.Context, tenantId, documentType, contentRef string) (*models.TemplateVersion, error)
	Versions(ctx context.Context, tenantId, documentType string) ([]*models.TemplateVersion, error)
	// CreateVersion atomically activates v and archives its predecessor,
	// returning utils.ErrorVersionConflict when a concurrent approval won.
	CreateVersion(ctx context.Context, v *models.TemplateVersion) error
}

type AuditSink interface {
	Append(ctx context.Context, event *models.AuditEvent) error
}

type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type SampleDataProvider interface {
	SampleContext(ctx context.Context, tenantId, documentType string) (map[string]any, error)
}
