package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// InstanceRepository manages approval instance rows.
type InstanceRepository struct {
	db *database.DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *database.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create inserts a new approval instance.
func (r *InstanceRepository) Create(ctx context.Context, inst *Instance) error {
	payloadJSON, err := json.Marshal(inst.Payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal instance payload")
	}

	query := `
		INSERT INTO approval_instances
		    (tenant_id, flow_id, flow_code, entity_type, entity_id,
		     requester_id, status, current_node_id, amount, payload)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7::approval_instance_status, $8, $9, $10)
		RETURNING id, submitted_at, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		inst.TenantID,
		inst.FlowID,
		inst.FlowCode,
		inst.EntityType,
		inst.EntityID,
		inst.RequesterID,
		inst.Status,
		inst.CurrentNodeID,
		inst.Amount,
		payloadJSON,
	).Scan(&inst.ID, &inst.SubmittedAt, &inst.CreatedAt, &inst.UpdatedAt)
}

// GetByID retrieves an instance by primary key.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*Instance, error) {
	query := selectInstance + ` WHERE id = $1`

	inst, err := r.scanInstance(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_instance", id)
	}
	return inst, err
}

// GetActiveByEntity returns the PENDING instance for a business document,
// or nil when none is in flight.
func (r *InstanceRepository) GetActiveByEntity(ctx context.Context, tenantID string, entityType EntityType, entityID string) (*Instance, error) {
	query := selectInstance + `
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND status = 'PENDING'
		ORDER BY submitted_at DESC
		LIMIT 1
	`

	inst, err := r.scanInstance(r.db.QueryRow(ctx, query, tenantID, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// SetCurrentNode moves the instance pointer to another node (nil when the
// instance is leaving PENDING).
func (r *InstanceRepository) SetCurrentNode(ctx context.Context, id string, nodeID *string) error {
	query := `
		UPDATE approval_instances
		SET current_node_id = $2,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, nodeID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_instance", id)
	}
	return err
}

// Complete moves the instance to a terminal status and stamps completed_at.
func (r *InstanceRepository) Complete(ctx context.Context, id string, status InstanceStatus, completedAt time.Time) error {
	query := `
		UPDATE approval_instances
		SET status          = $2::approval_instance_status,
		    current_node_id = NULL,
		    completed_at    = $3,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_instance", id)
	}
	return err
}

// Reopen resets a PENDING instance's pointer during an approver revoke.
func (r *InstanceRepository) Reopen(ctx context.Context, id, nodeID string) error {
	query := `
		UPDATE approval_instances
		SET current_node_id = $2,
		    updated_at      = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, nodeID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "instance not found or not pending")
	}
	return err
}

const selectInstance = `
	SELECT id, tenant_id, flow_id, flow_code, entity_type, entity_id,
	       requester_id, status, current_node_id, amount, payload,
	       submitted_at, completed_at, created_at, updated_at
	FROM approval_instances
`

func (r *InstanceRepository) scanInstance(row rowScanner) (*Instance, error) {
	inst := &Instance{}
	var payloadJSON []byte

	err := row.Scan(
		&inst.ID,
		&inst.TenantID,
		&inst.FlowID,
		&inst.FlowCode,
		&inst.EntityType,
		&inst.EntityID,
		&inst.RequesterID,
		&inst.Status,
		&inst.CurrentNodeID,
		&inst.Amount,
		&payloadJSON,
		&inst.SubmittedAt,
		&inst.CompletedAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &inst.Payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal instance payload")
		}
	}
	return inst, nil
}
