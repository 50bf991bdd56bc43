package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// Defaults applied when a tenant has not configured its SLA policy.
const (
	DefaultAutoResumeHours = 48
	DefaultAutoApproveDays = 7
)

// TenantRepository reads tenant rows and their approval SLA settings.
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetSettings returns the tenant's SLA settings, substituting defaults for
// unset values. Unknown tenants get pure defaults rather than an error so
// the sweep never stalls on a missing settings row.
func (r *TenantRepository) GetSettings(ctx context.Context, tenantID string) (*TenantSettings, error) {
	query := `
		SELECT approval_auto_resume_hours, approval_auto_approve_days
		FROM tenant_settings
		WHERE tenant_id = $1
	`

	s := &TenantSettings{TenantID: tenantID}
	var resumeHours, approveDays *int
	err := r.db.QueryRow(ctx, query, tenantID).Scan(&resumeHours, &approveDays)
	if err != nil && err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read tenant settings")
	}

	s.ApprovalAutoResumeHours = DefaultAutoResumeHours
	if resumeHours != nil && *resumeHours > 0 {
		s.ApprovalAutoResumeHours = *resumeHours
	}
	s.ApprovalAutoApproveDays = DefaultAutoApproveDays
	if approveDays != nil && *approveDays > 0 {
		s.ApprovalAutoApproveDays = *approveDays
	}
	return s, nil
}

// ListActiveTenantIDs returns the ids of tenants the SLA sweep covers.
func (r *TenantRepository) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT id
		FROM tenants
		WHERE is_active = TRUE
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active tenants")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan tenant id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
