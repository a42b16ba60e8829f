package models

import (
	"context"
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/doctemplates_backend/utils"
)

// TemplateVersionStore is the MySQL-backed version store. Concurrency control
// is optimistic: no row locks are taken on read, and the unique index on
// (tenant_id, document_type, version) is the compare-and-swap. Two approvals
// racing from the same read both compute the same next version; the loser's
// insert hits a duplicate key and surfaces as ErrorVersionConflict.
type TemplateVersionStore struct {
	DB *gorm.DB
}

func NewTemplateVersionStore(db *gorm.DB) *TemplateVersionStore {
	return &TemplateVersionStore{DB: db}
}

func (s *TemplateVersionStore) ActiveVersion(ctx context.Context, tenantId, documentType string) (*TemplateVersion, error) {
	var v TemplateVersion
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ? AND status = ?", tenantId, documentType, TemplateStatusActive).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *TemplateVersionStore) VersionByContentRef(ctx context.Context, tenantId, documentType, contentRef string) (*TemplateVersion, error) {
	var v TemplateVersion
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ? AND content_ref = ?", tenantId, documentType, contentRef).
		Order("version DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *TemplateVersionStore) Versions(ctx context.Context, tenantId, documentType string) ([]*TemplateVersion, error) {
	var versions []*TemplateVersion
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ?", tenantId, documentType).
		Order("version DESC").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// CreateVersion activates a new version atomically: insert the new Active row,
// archive the predecessor, enqueue the activation event. All three commit or
// roll back together, so readers never observe zero or two Active rows.
//
// The insert is the CAS. If another approval committed v.Version first, the
// unique index rejects ours. If the predecessor we read was already archived
// by a racer, the guarded archive update matches no row. Both cases return
// ErrorVersionConflict and leave the database untouched.
func (s *TemplateVersionStore) CreateVersion(ctx context.Context, v *TemplateVersion) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return utils.ErrorVersionConflict
			}
			return err
		}

		if v.Version > 1 {
			res := tx.Model(&TemplateVersion{}).
				Where("tenant_id = ? AND document_type = ? AND status = ? AND version = ?",
					v.TenantId, v.DocumentType, TemplateStatusActive, v.Version-1).
				Update("status", TemplateStatusArchived)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return utils.ErrorVersionConflict
			}
		}

		return EnqueueTemplateActivated(tx, v)
	})
}

// isDuplicateKeyErr reports whether err is a MySQL duplicate-key violation
// (error 1062), which is how the unique version index signals a lost race.
func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// NextVersion computes the successor version for a fresh approval read.
func NextVersion(current *TemplateVersion) (int, *string) {
	if current == nil {
		return 1, nil
	}
	ref := current.ContentRef
	return current.Version + 1, &ref
}

// CheckActiveInvariant is a diagnostic used by the readiness probe: it fails
// when any (tenant, document type) pair carries more than one Active row.
func CheckActiveInvariant(ctx context.Context, db *gorm.DB) error {
	type violation struct {
		TenantId     string
		DocumentType string
		N            int
	}
	var violations []violation
	err := db.WithContext(ctx).
		Model(&TemplateVersion{}).
		Select("tenant_id, document_type, COUNT(*) AS n").
		Where("status = ?", TemplateStatusActive).
		Group("tenant_id, document_type").
		Having("COUNT(*) > 1").
		Scan(&violations).Error
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d tenant/document-type pairs have multiple active template versions", len(violations))
	}
	return nil
}
