package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/doctemplates_backend/models"
	"bitbucket.org/mmdatafocus/doctemplates_backend/template"
	"bitbucket.org/mmdatafocus/doctemplates_backend/utils"
)

// NOTE: These tests are intentionally DB-free. They validate the approval
// semantics against in-memory fakes:
// - at most one Active version per (tenant, document type)
// - versions are gapless and monotonically increasing
// - concurrent approvals lose via version conflict, never via corruption
//
// Full MySQL+GCS integration tests belong in an environment that can run them.

type fakeStore struct {
	mu   sync.Mutex
	rows []*models.TemplateVersion

	// beforeCreate runs once, before the next CreateVersion takes effect.
	// Used to inject a racing approval between read and write.
	beforeCreate func()
}

func (s *fakeStore) insertActive(v models.TemplateVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.TenantId == v.TenantId && row.DocumentType == v.DocumentType && row.Status == models.TemplateStatusActive {
			row.Status = models.TemplateStatusArchived
		}
	}
	row := v
	s.rows = append(s.rows, &row)
}

func (s *fakeStore) ActiveVersion(ctx context.Context, tenantId, documentType string) (*models.TemplateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.TenantId == tenantId && row.DocumentType == documentType && row.Status == models.TemplateStatusActive {
			out := *row
			return &out, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeStore) VersionByContentRef(ctx context.Context, tenantId, documentType, contentRef string) (*models.TemplateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.TemplateVersion
	for _, row := range s.rows {
		if row.TenantId == tenantId && row.DocumentType == documentType && row.ContentRef == contentRef {
			if found == nil || row.Version > found.Version {
				found = row
			}
		}
	}
	if found == nil {
		return nil, utils.ErrorRecordNotFound
	}
	out := *found
	return &out, nil
}

func (s *fakeStore) Versions(ctx context.Context, tenantId, documentType string) ([]*models.TemplateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TemplateVersion
	for _, row := range s.rows {
		if row.TenantId == tenantId && row.DocumentType == documentType {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateVersion(ctx context.Context, v *models.TemplateVersion) error {
	if s.beforeCreate != nil {
		hook := s.beforeCreate
		s.beforeCreate = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Unique (tenant_id, document_type, version) is the CAS.
	for _, row := range s.rows {
		if row.TenantId == v.TenantId && row.DocumentType == v.DocumentType && row.Version == v.Version {
			return utils.ErrorVersionConflict
		}
	}
	if v.Version > 1 {
		archived := false
		for _, row := range s.rows {
			if row.TenantId == v.TenantId && row.DocumentType == v.DocumentType &&
				row.Version == v.Version-1 && row.Status == models.TemplateStatusActive {
				row.Status = models.TemplateStatusArchived
				archived = true
			}
		}
		if !archived {
			return utils.ErrorVersionConflict
		}
	}
	row := *v
	s.rows = append(s.rows, &row)
	return nil
}

func (s *fakeStore) activeCount(tenantId, documentType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.TenantId == tenantId && row.DocumentType == documentType && row.Status == models.TemplateStatusActive {
			n++
		}
	}
	return n
}

type fakeAudit struct {
	mu        sync.Mutex
	events    []*models.AuditEvent
	appendErr error
}

func (a *fakeAudit) Append(ctx context.Context, event *models.AuditEvent) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) byAction(action models.AuditAction) []*models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range a.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErr  error
}

func (b *fakeBlobs) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.puts++
	ref := fmt.Sprintf("blob-%d", b.puts)
	b.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (b *fakeBlobs) Get(ctx context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[ref]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

type fakeSamples struct {
	data  map[string]any
	block bool
}

func (s fakeSamples) SampleContext(ctx context.Context, tenantId, documentType string) (map[string]any, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.data, nil
}

type testEnv struct {
	engine *Engine
	store  *fakeStore
	audit  *fakeAudit
	blobs  *fakeBlobs
}

func newTestEnv() *testEnv {
	store := &fakeStore{}
	audit := &fakeAudit{}
	blobs := &fakeBlobs{}
	validator := template.NewValidator(map[string][]string{
		"invoice": {"invoice_number"},
	})
	logger := logrus.New()
	engine := NewEngine(store, audit, blobs, fakeSamples{data: map[string]any{}}, validator, logger)
	return &testEnv{engine: engine, store: store, audit: audit, blobs: blobs}
}

func validCandidate(marker string) *Candidate {
	spec, _ := template.ParseMappingSpec([]byte(`{"fields": {"invoice_number": {"path": "invoice.number", "format": "text"}}}`))
	return &Candidate{
		DocumentType: "invoice",
		Content:      "<p>" + marker + " {{ invoice_number }}</p>",
		MappingSpec:  spec,
	}
}

const tenant = "tenant-1"

func TestApprove_FirstVersion(t *testing.T) {
	env := newTestEnv()
	ctx := utils.SetUsernameInContext(context.Background(), "mary")

	version, err := env.engine.Approve(ctx, tenant, validCandidate("draft-a"), "initial layout")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if version.Version != 1 || version.Status != models.TemplateStatusActive {
		t.Fatalf("expected active v1, got %+v", version)
	}
	if version.PreviousVersionRef != nil {
		t.Fatalf("first version has no predecessor, got %v", *version.PreviousVersionRef)
	}
	if version.ApprovedBy != "mary" {
		t.Fatalf("expected approver from context, got %q", version.ApprovedBy)
	}

	stored, err := env.blobs.Get(ctx, version.ContentRef)
	if err != nil {
		t.Fatalf("blob missing: %v", err)
	}
	if !strings.Contains(string(stored), "draft-a") {
		t.Fatalf("blob does not hold the approved content: %q", stored)
	}

	approvals := env.audit.byAction(models.AuditActionApprove)
	if len(approvals) != 1 || approvals[0].Outcome != "success" {
		t.Fatalf("expected one success approve audit entry, got %+v", approvals)
	}
}

func TestApprove_VersionsAreGaplessAndSingleActive(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		version, err := env.engine.Approve(ctx, tenant, validCandidate(fmt.Sprintf("rev-%d", i)), "")
		if err != nil {
			t.Fatalf("Approve %d: %v", i, err)
		}
		if version.Version != i {
			t.Fatalf("expected version %d, got %d", i, version.Version)
		}
		if n := env.store.activeCount(tenant, "invoice"); n != 1 {
			t.Fatalf("active-count invariant violated after approve %d: %d", i, n)
		}
	}

	versions, _ := env.store.Versions(ctx, tenant, "invoice")
	if len(versions) != 4 {
		t.Fatalf("expected 4 retained versions, got %d", len(versions))
	}
}

func TestApprove_InvalidCandidateIsRefused(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	candidate := validCandidate("bad")
	candidate.Content = "<p>no number here</p>"

	_, err := env.engine.Approve(ctx, tenant, candidate, "")
	var invalid *ValidationFailedError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationFailedError, got %v", err)
	}
	if len(invalid.Result.Errors) == 0 {
		t.Fatal("expected validation errors in the refusal")
	}
	if versions, _ := env.store.Versions(ctx, tenant, "invoice"); len(versions) != 0 {
		t.Fatal("a refused approval must not create versions")
	}
	approvals := env.audit.byAction(models.AuditActionApprove)
	if len(approvals) != 1 || approvals[0].Outcome != "rejected_invalid" {
		t.Fatalf("expected rejected_invalid audit entry, got %+v", approvals)
	}
}

func TestApprove_ValidateAndApproveAgree(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	candidate := validCandidate("agree")

	result, err := env.engine.Validate(ctx, tenant, candidate)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid candidate, got %v", result.Errors)
	}
	if _, err := env.engine.Approve(ctx, tenant, candidate, ""); err != nil {
		t.Fatalf("a candidate that validated must approve: %v", err)
	}
}

func TestApprove_ConcurrentLoserGetsConflictThenRetries(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.Approve(ctx, tenant, validCandidate("base"), ""); err != nil {
		t.Fatalf("Approve v1: %v", err)
	}

	// A racing approval commits v2 after our read of v1 but before our write.
	env.store.beforeCreate = func() {
		env.store.insertActive(models.TemplateVersion{
			TenantId:     tenant,
			DocumentType: "invoice",
			Version:      2,
			ContentRef:   "racer-blob",
			Status:       models.TemplateStatusActive,
		})
	}

	_, err := env.engine.Approve(ctx, tenant, validCandidate("loser"), "")
	if !errors.Is(err, utils.ErrorVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if n := env.store.activeCount(tenant, "invoice"); n != 1 {
		t.Fatalf("conflict must leave exactly one active version, got %d", n)
	}

	// Retry from a fresh read succeeds as v3.
	version, err := env.engine.Approve(ctx, tenant, validCandidate("retry"), "")
	if err != nil {
		t.Fatalf("retry Approve: %v", err)
	}
	if version.Version != 3 {
		t.Fatalf("expected v3 on retry, got %d", version.Version)
	}
}

func TestApprove_BlobFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.blobs.putErr = errors.New("gcs unavailable")

	_, err := env.engine.Approve(ctx, tenant, validCandidate("x"), "")
	if err == nil {
		t.Fatal("expected approve failure")
	}
	if versions, _ := env.store.Versions(ctx, tenant, "invoice"); len(versions) != 0 {
		t.Fatal("infrastructure failure must not create versions")
	}
	approvals := env.audit.byAction(models.AuditActionApprove)
	if len(approvals) != 1 || approvals[0].Outcome != "failure" {
		t.Fatalf("expected failure audit entry, got %+v", approvals)
	}
}

func TestReject_IsIdempotentOnVersionState(t *testing.T) {
	env := newTestEnv()
	ctx := utils.SetUsernameInContext(context.Background(), "mary")

	if err := env.engine.Reject(ctx, tenant, "invoice", "logo is off-brand"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if err := env.engine.Reject(ctx, tenant, "invoice", "logo is off-brand"); err != nil {
		t.Fatalf("repeat Reject: %v", err)
	}

	rejects := env.audit.byAction(models.AuditActionReject)
	if len(rejects) != 2 {
		t.Fatalf("every reject leaves its own audit entry, got %d", len(rejects))
	}
	if versions, _ := env.store.Versions(ctx, tenant, "invoice"); len(versions) != 0 {
		t.Fatal("reject must not touch version state")
	}
}

func TestRollback_NewVersionWithOldContent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.Approve(ctx, tenant, validCandidate("first-layout"), ""); err != nil {
		t.Fatalf("Approve v1: %v", err)
	}
	if _, err := env.engine.Approve(ctx, tenant, validCandidate("second-layout"), ""); err != nil {
		t.Fatalf("Approve v2: %v", err)
	}
	if _, err := env.engine.Approve(ctx, tenant, validCandidate("third-layout"), ""); err != nil {
		t.Fatalf("Approve v3: %v", err)
	}

	rolled, err := env.engine.Rollback(ctx, tenant, "invoice", "")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	// History stays append-only: rollback mints v4 carrying v2's content.
	if rolled.Version != 4 {
		t.Fatalf("expected v4, got %d", rolled.Version)
	}
	content, err := env.blobs.Get(ctx, rolled.ContentRef)
	if err != nil {
		t.Fatalf("rolled-back blob: %v", err)
	}
	if !strings.Contains(string(content), "second-layout") {
		t.Fatalf("expected v2 content after rollback, got %q", content)
	}
	if n := env.store.activeCount(tenant, "invoice"); n != 1 {
		t.Fatalf("expected one active version, got %d", n)
	}

	// Rolling back the rollback returns to what was active before it: v3.
	rolledAgain, err := env.engine.Rollback(ctx, tenant, "invoice", "")
	if err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
	content, _ = env.blobs.Get(ctx, rolledAgain.ContentRef)
	if !strings.Contains(string(content), "third-layout") {
		t.Fatalf("expected v3 content, got %q", content)
	}
}

func TestRollback_NothingToRollBack(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.Rollback(ctx, tenant, "invoice", ""); !errors.Is(err, utils.ErrorNothingToRollBack) {
		t.Fatalf("no versions: expected ErrorNothingToRollBack, got %v", err)
	}

	if _, err := env.engine.Approve(ctx, tenant, validCandidate("only"), ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := env.engine.Rollback(ctx, tenant, "invoice", ""); !errors.Is(err, utils.ErrorNothingToRollBack) {
		t.Fatalf("v1 has no predecessor: expected ErrorNothingToRollBack, got %v", err)
	}
}

func TestRollback_FailsClosedWhenTargetMissing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.Approve(ctx, tenant, validCandidate("a"), ""); err != nil {
		t.Fatalf("Approve v1: %v", err)
	}
	v2, err := env.engine.Approve(ctx, tenant, validCandidate("b"), "")
	if err != nil {
		t.Fatalf("Approve v2: %v", err)
	}

	// Corrupt the chain: the predecessor reference points nowhere.
	bogus := "gone"
	env.store.mu.Lock()
	for _, row := range env.store.rows {
		if row.Version == v2.Version {
			row.PreviousVersionRef = &bogus
		}
	}
	env.store.mu.Unlock()

	if _, err := env.engine.Rollback(ctx, tenant, "invoice", ""); err == nil {
		t.Fatal("expected rollback to fail closed")
	}
	active, err := env.store.ActiveVersion(ctx, tenant, "invoice")
	if err != nil || active.Version != v2.Version {
		t.Fatalf("failed rollback must leave the active version unchanged, got %+v (%v)", active, err)
	}
}

func TestPreview_RendersWithProvidedData(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	spec, _ := template.ParseMappingSpec([]byte(`{"fields": {
		"invoice_number": {"path": "invoice.number", "format": "text"},
		"guest_name":     {"path": "guest.name", "format": "text"}
	}}`))
	candidate := &Candidate{
		DocumentType: "invoice",
		Content:      "<p>{{ invoice_number }} for {{ guest_name }}</p>",
		MappingSpec:  spec,
	}
	data := map[string]any{
		"invoice": map[string]any{"number": "INV-9"},
		"guest":   map[string]any{"name": "Anna Schmidt"},
	}

	result, err := env.engine.Preview(ctx, tenant, candidate, data)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(result.PreviewText, "INV-9 for Anna Schmidt") {
		t.Fatalf("expected substituted preview, got %q", result.PreviewText)
	}
}

func TestPreview_InvalidCandidateSkipsRender(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	candidate := validCandidate("x")
	candidate.Content = "<p>{{ guest_name }}</p>" // missing invoice_number

	result, err := env.engine.Preview(ctx, tenant, candidate, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if result.Validation.IsValid {
		t.Fatal("expected invalid validation")
	}
	if result.PreviewText != "" {
		t.Fatalf("invalid candidates are not rendered, got %q", result.PreviewText)
	}
}

func TestPreview_SampleDataTimeoutDegradesToValidationOnly(t *testing.T) {
	env := newTestEnv()
	env.engine.Samples = fakeSamples{block: true}
	env.engine.PreviewTimeout = 10 * time.Millisecond
	ctx := context.Background()

	result, err := env.engine.Preview(ctx, tenant, validCandidate("slow"), nil)
	if err != nil {
		t.Fatalf("a slow sample provider must not fail preview: %v", err)
	}
	if result.PreviewText != "" {
		t.Fatalf("expected no rendered text, got %q", result.PreviewText)
	}
	skipped := false
	for _, w := range result.RenderWarnings {
		if w.Kind == template.FindingRenderSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected render_skipped warning, got %v", result.RenderWarnings)
	}
}

func TestAudit_AppendFailureDoesNotBreakValidate(t *testing.T) {
	env := newTestEnv()
	env.audit.appendErr = errors.New("audit table down")
	ctx := context.Background()

	result, err := env.engine.Validate(ctx, tenant, validCandidate("x"))
	if err != nil {
		t.Fatalf("Validate must survive a broken audit sink: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("unexpected validation errors: %v", result.Errors)
	}
}
