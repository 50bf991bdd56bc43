package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// DelegationRepository reads delegation rules. The engine never writes
// delegations; they are managed by the directory surface upstream.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// FindActive returns the delegation redirecting delegatorID's tasks at the
// given moment, preferring a flow-scoped rule over a global one. Returns nil
// when no delegation applies.
func (r *DelegationRepository) FindActive(ctx context.Context, tenantID, delegatorID, flowID string, at time.Time) (*Delegation, error) {
	query := `
		SELECT id, tenant_id, delegator_id, delegatee_id, type, flow_id,
		       start_time, end_time, is_active
		FROM approval_delegations
		WHERE tenant_id = $1 AND delegator_id = $2
		  AND is_active = TRUE
		  AND start_time <= $3 AND end_time >= $3
		  AND (type = 'GLOBAL' OR (type = 'FLOW' AND flow_id = $4))
		ORDER BY CASE type WHEN 'FLOW' THEN 0 ELSE 1 END
		LIMIT 1
	`

	d := &Delegation{}
	err := r.db.QueryRow(ctx, query, tenantID, delegatorID, at, flowID).Scan(
		&d.ID,
		&d.TenantID,
		&d.DelegatorID,
		&d.DelegateeID,
		&d.Type,
		&d.FlowID,
		&d.StartTime,
		&d.EndTime,
		&d.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up delegation")
	}
	return d, nil
}
