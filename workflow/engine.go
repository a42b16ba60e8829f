package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/doctemplates_backend/config"
	"bitbucket.org/mmdatafocus/doctemplates_backend/models"
	"bitbucket.org/mmdatafocus/doctemplates_backend/template"
	"bitbucket.org/mmdatafocus/doctemplates_backend/utils"
)

const defaultPreviewTimeout = 3 * time.Second

// Candidate is a template draft submitted for validation, preview or approval.
// Drafts are never persisted; only approval creates a version.
type Candidate struct {
	DocumentType string                `json:"document_type"`
	Content      string                `json:"content"`
	MappingSpec  *template.MappingSpec `json:"mapping_spec"`
}

// ValidationFailedError carries the full validation result when an approval is
// refused because the candidate did not pass all checks.
type ValidationFailedError struct {
	Result template.ValidationResult
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("candidate failed validation with %d errors", len(e.Result.Errors))
}

type PreviewResult struct {
	PreviewText    string                    `json:"preview_text"`
	Validation     template.ValidationResult `json:"validation"`
	RenderWarnings []template.Finding        `json:"render_warnings"`
}

// Engine drives the template approval workflow. All state lives behind the
// injected interfaces; the engine itself is stateless and safe for concurrent
// use.
type Engine struct {
	Store     VersionStore
	Audit     AuditSink
	Blobs     BlobStore
	Samples   SampleDataProvider
	Validator *template.Validator
	Logger    *logrus.Logger

	// PreviewTimeout bounds sample-data lookup during preview. A slow provider
	// degrades preview to validation-only, it never blocks the admin surface.
	PreviewTimeout time.Duration
}

func NewEngine(store VersionStore, audit AuditSink, blobs BlobStore, samples SampleDataProvider, validator *template.Validator, logger *logrus.Logger) *Engine {
	return &Engine{
		Store:          store,
		Audit:          audit,
		Blobs:          blobs,
		Samples:        samples,
		Validator:      validator,
		Logger:         logger,
		PreviewTimeout: defaultPreviewTimeout,
	}
}

// Validate runs the full check pipeline and audits the outcome. It never
// mutates version state.
func (e *Engine) Validate(ctx context.Context, tenantId string, candidate *Candidate) (template.ValidationResult, error) {
	result := e.Validator.Validate(candidate.DocumentType, candidate.Content)
	e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionValidate,
		validationOutcome(result), validationDetail(result))
	return result, nil
}

// Preview validates the candidate and, when valid, renders it against the
// given data context (or the tenant's sample context when data is nil).
// An invalid candidate or unavailable sample data yields a validation-only
// result with a render_skipped warning, not an error.
func (e *Engine) Preview(ctx context.Context, tenantId string, candidate *Candidate, data map[string]any) (*PreviewResult, error) {
	result := &PreviewResult{
		Validation:     e.Validator.Validate(candidate.DocumentType, candidate.Content),
		RenderWarnings: []template.Finding{},
	}
	if !result.Validation.IsValid {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionPreview,
			"invalid", validationDetail(result.Validation))
		return result, nil
	}

	if data == nil {
		sampleCtx, cancel := context.WithTimeout(ctx, e.previewTimeout())
		defer cancel()
		sample, err := e.Samples.SampleContext(sampleCtx, tenantId, candidate.DocumentType)
		if err != nil {
			result.RenderWarnings = append(result.RenderWarnings, template.Finding{
				Kind:     template.FindingRenderSkipped,
				Message:  fmt.Sprintf("sample data unavailable: %v", err),
				Severity: template.SeverityWarning,
			})
			e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionPreview,
				"render_skipped", err.Error())
			return result, nil
		}
		data = sample
	}

	output, warnings, err := template.Render(candidate.Content, candidate.MappingSpec, data)
	if err != nil {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionPreview, "failure", err.Error())
		return nil, err
	}
	result.PreviewText = output
	result.RenderWarnings = append(result.RenderWarnings, warnings...)
	e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionPreview,
		"success", fmt.Sprintf("%d render warnings", len(warnings)))
	return result, nil
}

// Approve re-validates the candidate, uploads its content, and activates it
// as the next version. The decision is all-or-nothing: on any failure after
// validation the version state is unchanged (an orphaned blob may remain; it
// is unreferenced and harmless).
//
// Returns *ValidationFailedError when checks fail and utils.ErrorVersionConflict
// when a concurrent approval won the race; the caller retries the latter from
// a fresh read.
func (e *Engine) Approve(ctx context.Context, tenantId string, candidate *Candidate, notes string) (*models.TemplateVersion, error) {
	result := e.Validator.Validate(candidate.DocumentType, candidate.Content)
	if !result.IsValid {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionApprove,
			"rejected_invalid", validationDetail(result))
		return nil, &ValidationFailedError{Result: result}
	}

	current, err := e.Store.ActiveVersion(ctx, tenantId, candidate.DocumentType)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionApprove, "failure", err.Error())
		return nil, err
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		current = nil
	}
	nextVersion, previousRef := models.NextVersion(current)

	contentRef, err := e.Blobs.Put(ctx, []byte(candidate.Content), "text/html")
	if err != nil {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionApprove, "failure", err.Error())
		return nil, fmt.Errorf("store template content: %w", err)
	}

	specJSON, err := json.Marshal(candidate.MappingSpec)
	if err != nil {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionApprove, "failure", err.Error())
		return nil, err
	}

	actor, _ := utils.GetUsernameFromContext(ctx)
	version := &models.TemplateVersion{
		TenantId:           tenantId,
		DocumentType:       candidate.DocumentType,
		Version:            nextVersion,
		ContentRef:         contentRef,
		MappingSpecJson:    string(specJSON),
		Status:             models.TemplateStatusActive,
		ApprovedBy:         actor,
		ApprovedAt:         time.Now().UTC(),
		Notes:              notes,
		PreviousVersionRef: previousRef,
	}
	if err := e.Store.CreateVersion(ctx, version); err != nil {
		e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionApprove, "failure", err.Error())
		return nil, err
	}

	e.audit(ctx, tenantId, candidate.DocumentType, models.AuditActionApprove,
		"success", fmt.Sprintf("version %d activated", version.Version))
	return version, nil
}

// Reject declines a candidate. Rejection changes no version state; its only
// effect is the audit record, so a repeated reject is naturally idempotent
// with respect to versions.
func (e *Engine) Reject(ctx context.Context, tenantId, documentType, reason string) error {
	actor, _ := utils.GetUsernameFromContext(ctx)
	if actor == "" {
		actor = "system"
	}
	return e.Audit.Append(ctx, &models.AuditEvent{
		TenantId:     tenantId,
		DocumentType: documentType,
		Action:       models.AuditActionReject,
		Actor:        actor,
		Outcome:      "success",
		Detail:       reason,
	})
}

// Rollback re-activates the predecessor of the current active version by
// approving its stored content as a brand-new version. History stays
// append-only: rolling back from v3 yields v4 carrying v2's content, never a
// reactivated v2 row.
//
// Rollback fails closed: a missing predecessor row or unreadable blob aborts
// with the active version unchanged.
func (e *Engine) Rollback(ctx context.Context, tenantId, documentType, notes string) (*models.TemplateVersion, error) {
	current, err := e.Store.ActiveVersion(ctx, tenantId, documentType)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, utils.ErrorNothingToRollBack
	}
	if err != nil {
		return nil, err
	}
	if current.PreviousVersionRef == nil {
		return nil, utils.ErrorNothingToRollBack
	}

	previous, err := e.Store.VersionByContentRef(ctx, tenantId, documentType, *current.PreviousVersionRef)
	if err != nil {
		e.audit(ctx, tenantId, documentType, models.AuditActionApprove, "failure",
			fmt.Sprintf("rollback target %q not found", *current.PreviousVersionRef))
		return nil, fmt.Errorf("rollback target missing: %w", err)
	}
	content, err := e.Blobs.Get(ctx, previous.ContentRef)
	if err != nil {
		e.audit(ctx, tenantId, documentType, models.AuditActionApprove, "failure",
			fmt.Sprintf("rollback content %q unreadable: %v", previous.ContentRef, err))
		return nil, fmt.Errorf("rollback content unreadable: %w", err)
	}
	spec, err := previous.MappingSpec()
	if err != nil {
		return nil, fmt.Errorf("rollback mapping spec invalid: %w", err)
	}

	if notes == "" {
		notes = fmt.Sprintf("rollback to content of version %d", previous.Version)
	}
	candidate := &Candidate{
		DocumentType: documentType,
		Content:      string(content),
		MappingSpec:  spec,
	}
	return e.Approve(ctx, tenantId, candidate, notes)
}

func (e *Engine) previewTimeout() time.Duration {
	if e.PreviewTimeout > 0 {
		return e.PreviewTimeout
	}
	return defaultPreviewTimeout
}

// audit appends a workflow audit record. Append failures are logged, not
// propagated: a broken audit table must not block validation or preview
// responses. Approve relies on CreateVersion for its transactional guarantees.
func (e *Engine) audit(ctx context.Context, tenantId, documentType string, action models.AuditAction, outcome, detail string) {
	actor, _ := utils.GetUsernameFromContext(ctx)
	if actor == "" {
		actor = "system"
	}
	event := &models.AuditEvent{
		TenantId:     tenantId,
		DocumentType: documentType,
		Action:       action,
		Actor:        actor,
		Outcome:      outcome,
		Detail:       detail,
	}
	if err := e.Audit.Append(ctx, event); err != nil {
		config.LogError(e.Logger, "workflow", "audit", string(action), event, err)
	}
}

func validationOutcome(result template.ValidationResult) string {
	if result.IsValid {
		return "valid"
	}
	return "invalid"
}

func validationDetail(result template.ValidationResult) string {
	return fmt.Sprintf("%d errors, %d warnings", len(result.Errors), len(result.Warnings))
}
