package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// FlowRepository manages flow definitions and their published nodes.
// Nodes are only ever replaced as a whole set (publish), never patched.
type FlowRepository struct {
	db *database.DB
}

// NewFlowRepository creates a new FlowRepository.
func NewFlowRepository(db *database.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

// GetActiveByCode returns the active flow for (tenant, code).
func (r *FlowRepository) GetActiveByCode(ctx context.Context, tenantID, code string) (*Flow, error) {
	query := `
		SELECT id, tenant_id, code, name, is_active, created_at, updated_at
		FROM approval_flows
		WHERE tenant_id = $1 AND code = $2 AND is_active = TRUE
	`

	flow, err := r.scanFlow(r.db.QueryRow(ctx, query, tenantID, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_flow", code)
	}
	return flow, err
}

// GetByID retrieves a flow by primary key.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (*Flow, error) {
	query := `
		SELECT id, tenant_id, code, name, is_active, created_at, updated_at
		FROM approval_flows
		WHERE id = $1
	`

	flow, err := r.scanFlow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_flow", id)
	}
	return flow, err
}

// ListNodes returns a flow's published nodes ordered by sort_order.
func (r *FlowRepository) ListNodes(ctx context.Context, flowID string) ([]*FlowNode, error) {
	query := `
		SELECT id, flow_id, sort_order, name,
		       approver_type, approver_user_id, approver_role, approver_mode,
		       conditions, min_amount, max_amount,
		       timeout_hours, timeout_action, created_at
		FROM approval_flow_nodes
		WHERE flow_id = $1
		ORDER BY sort_order ASC
	`

	rows, err := r.db.Query(ctx, query, flowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list flow nodes")
	}
	defer rows.Close()

	var nodes []*FlowNode
	for rows.Next() {
		node, err := r.scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// GetNode retrieves a single flow node by primary key.
func (r *FlowRepository) GetNode(ctx context.Context, nodeID string) (*FlowNode, error) {
	query := `
		SELECT id, flow_id, sort_order, name,
		       approver_type, approver_user_id, approver_role, approver_mode,
		       conditions, min_amount, max_amount,
		       timeout_hours, timeout_action, created_at
		FROM approval_flow_nodes
		WHERE id = $1
	`

	node, err := r.scanNode(r.db.QueryRow(ctx, query, nodeID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_flow_node", nodeID)
	}
	return node, err
}

// Publish upserts the flow row for (tenant, code) and replaces its node set
// in one transaction. Old nodes are deleted, never updated in place.
func (r *FlowRepository) Publish(ctx context.Context, flow *Flow, nodes []*FlowNode) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		flowQuery := `
			INSERT INTO approval_flows (tenant_id, code, name, is_active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, code) DO UPDATE
			SET name       = EXCLUDED.name,
			    is_active  = EXCLUDED.is_active,
			    updated_at = NOW()
			RETURNING id, created_at, updated_at
		`

		err := r.db.QueryRow(ctx, flowQuery,
			flow.TenantID,
			flow.Code,
			flow.Name,
			flow.IsActive,
		).Scan(&flow.ID, &flow.CreatedAt, &flow.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert approval flow")
		}

		if _, err := r.db.Exec(ctx, `DELETE FROM approval_flow_nodes WHERE flow_id = $1`, flow.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear flow nodes")
		}

		nodeQuery := `
			INSERT INTO approval_flow_nodes
			    (flow_id, sort_order, name,
			     approver_type, approver_user_id, approver_role, approver_mode,
			     conditions, min_amount, max_amount,
			     timeout_hours, timeout_action)
			VALUES ($1, $2, $3,
			        $4, $5, $6, $7,
			        $8, $9, $10,
			        $11, $12)
			RETURNING id, created_at
		`

		for _, node := range nodes {
			node.FlowID = flow.ID

			conditionsJSON, err := json.Marshal(node.Conditions)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal node conditions")
			}

			err = r.db.QueryRow(ctx, nodeQuery,
				node.FlowID,
				node.SortOrder,
				node.Name,
				node.ApproverType,
				node.ApproverUserID,
				node.ApproverRole,
				node.ApproverMode,
				conditionsJSON,
				node.MinAmount,
				node.MaxAmount,
				node.TimeoutHours,
				node.TimeoutAction,
			).Scan(&node.ID, &node.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert flow node")
			}
		}

		return nil
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FlowRepository) scanFlow(row rowScanner) (*Flow, error) {
	f := &Flow{}
	err := row.Scan(
		&f.ID,
		&f.TenantID,
		&f.Code,
		&f.Name,
		&f.IsActive,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *FlowRepository) scanNode(row rowScanner) (*FlowNode, error) {
	n := &FlowNode{}
	var conditionsJSON []byte

	err := row.Scan(
		&n.ID,
		&n.FlowID,
		&n.SortOrder,
		&n.Name,
		&n.ApproverType,
		&n.ApproverUserID,
		&n.ApproverRole,
		&n.ApproverMode,
		&conditionsJSON,
		&n.MinAmount,
		&n.MaxAmount,
		&n.TimeoutHours,
		&n.TimeoutAction,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &n.Conditions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal node conditions")
		}
	}
	return n, nil
}
