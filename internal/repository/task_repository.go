package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// TaskRepository manages approval task rows. Task creation happens when a
// node is entered (one row per resolved approver) or via add-approver.
type TaskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const selectTask = `
	SELECT id, approval_id, node_id, tenant_id, approver_id, delegated_from,
	       status, comment, acted_at, is_dynamic, parent_task_id,
	       timeout_at, paused_at, created_at, updated_at
	FROM approval_tasks
`

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO approval_tasks
		    (approval_id, node_id, tenant_id, approver_id, delegated_from,
		     status, is_dynamic, parent_task_id, timeout_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6::approval_task_status, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		task.ApprovalID,
		task.NodeID,
		task.TenantID,
		task.ApproverID,
		task.DelegatedFrom,
		task.Status,
		task.IsDynamic,
		task.ParentTaskID,
		task.TimeoutAt,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
}

// GetByID retrieves a task by primary key.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	task, err := r.scanTask(r.db.QueryRow(ctx, selectTask+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_task", id)
	}
	return task, err
}

// ListByNode returns all tasks (any status) for one node occurrence of an
// instance, the sibling set governing ANY/ALL/MAJORITY accounting.
func (r *TaskRepository) ListByNode(ctx context.Context, approvalID, nodeID string) ([]*Task, error) {
	query := selectTask + `
		WHERE approval_id = $1 AND node_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approvalID, nodeID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list node tasks")
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListByInstance returns every task of an instance ordered oldest-first.
func (r *TaskRepository) ListByInstance(ctx context.Context, approvalID string) ([]*Task, error) {
	query := selectTask + `
		WHERE approval_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approvalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list instance tasks")
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListPendingForUser returns a user's open work queue within a tenant.
func (r *TaskRepository) ListPendingForUser(ctx context.Context, tenantID, userID string) ([]*Task, error) {
	query := selectTask + `
		WHERE tenant_id = $1 AND approver_id = $2 AND status = 'PENDING'
		ORDER BY timeout_at ASC NULLS LAST, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending tasks")
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// UpdateAction records the outcome of an approval action on a PENDING task.
func (r *TaskRepository) UpdateAction(ctx context.Context, id string, status TaskStatus, comment *string) error {
	query := `
		UPDATE approval_tasks
		SET status     = $2::approval_task_status,
		    comment    = $3,
		    acted_at   = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, comment).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "task not found or already processed")
	}
	return err
}

// CancelPendingForNode cancels the remaining undecided siblings of a node,
// excluding one task, annotating each with the given note. PAUSED siblings
// are undecided too; a passed node must not leave them live.
func (r *TaskRepository) CancelPendingForNode(ctx context.Context, approvalID, nodeID, excludeTaskID, note string) error {
	query := `
		UPDATE approval_tasks
		SET status     = 'CANCELED'::approval_task_status,
		    comment    = $4,
		    acted_at   = NOW(),
		    updated_at = NOW()
		WHERE approval_id = $1 AND node_id = $2 AND id <> $3
		  AND status IN ('PENDING', 'PAUSED')
	`

	_, err := r.db.Exec(ctx, query, approvalID, nodeID, excludeTaskID, note)
	return err
}

// CancelPending cancels every undecided (PENDING or PAUSED) task of an
// instance, so a terminal instance carries no live tasks.
func (r *TaskRepository) CancelPending(ctx context.Context, approvalID, note string) error {
	query := `
		UPDATE approval_tasks
		SET status     = 'CANCELED'::approval_task_status,
		    comment    = $2,
		    acted_at   = NOW(),
		    updated_at = NOW()
		WHERE approval_id = $1 AND status IN ('PENDING', 'PAUSED')
	`

	_, err := r.db.Exec(ctx, query, approvalID, note)
	return err
}

// ResetToPending rewinds a processed task during an approver revoke.
func (r *TaskRepository) ResetToPending(ctx context.Context, id string) error {
	query := `
		UPDATE approval_tasks
		SET status     = 'PENDING'::approval_task_status,
		    comment    = NULL,
		    acted_at   = NULL,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_task", id)
	}
	return err
}

// DeletePendingCreatedAfter removes undecided tasks created at or after the
// given moment, excluding one task. Used by approver revoke to drop
// downstream tasks spawned by the revoked approval; those share the
// approval's transaction timestamp, so the comparison is inclusive. A
// downstream task its approver paused is still undecided and must not
// survive the rewind.
func (r *TaskRepository) DeletePendingCreatedAfter(ctx context.Context, approvalID string, after time.Time, excludeTaskID string) error {
	query := `
		DELETE FROM approval_tasks
		WHERE approval_id = $1 AND created_at >= $2 AND id <> $3
		  AND status IN ('PENDING', 'PAUSED')
	`

	_, err := r.db.Exec(ctx, query, approvalID, after, excludeTaskID)
	return err
}

// ListOverduePending returns PENDING tasks whose deadline has passed.
func (r *TaskRepository) ListOverduePending(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	query := selectTask + `
		WHERE status = 'PENDING' AND timeout_at IS NOT NULL AND timeout_at < $1
		ORDER BY timeout_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list overdue tasks")
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListPausedBefore returns a tenant's PAUSED tasks paused before the cutoff.
func (r *TaskRepository) ListPausedBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]*Task, error) {
	query := selectTask + `
		WHERE tenant_id = $1 AND status = 'PAUSED' AND paused_at < $2
		ORDER BY paused_at ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list paused tasks")
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListPendingBefore returns a tenant's PENDING tasks created before the cutoff.
func (r *TaskRepository) ListPendingBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]*Task, error) {
	query := selectTask + `
		WHERE tenant_id = $1 AND status = 'PENDING' AND created_at < $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list stale pending tasks")
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ExtendTimeout pushes a PENDING task's deadline out and annotates it.
func (r *TaskRepository) ExtendTimeout(ctx context.Context, id string, until time.Time, note string) error {
	query := `
		UPDATE approval_tasks
		SET timeout_at = $2,
		    comment    = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, until, note).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "task not found or not pending")
	}
	return err
}

// MarkTimeout moves a PAUSED task to TIMEOUT (tenant SLA sweep).
func (r *TaskRepository) MarkTimeout(ctx context.Context, id string) error {
	query := `
		UPDATE approval_tasks
		SET status     = 'TIMEOUT'::approval_task_status,
		    acted_at   = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PAUSED'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "task not found or not paused")
	}
	return err
}

// SetPaused pauses a PENDING task.
func (r *TaskRepository) SetPaused(ctx context.Context, id string, pausedAt time.Time) error {
	query := `
		UPDATE approval_tasks
		SET status     = 'PAUSED'::approval_task_status,
		    paused_at  = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, pausedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "task not found or not pending")
	}
	return err
}

// SetResumed returns a PAUSED task to PENDING.
func (r *TaskRepository) SetResumed(ctx context.Context, id string) error {
	query := `
		UPDATE approval_tasks
		SET status     = 'PENDING'::approval_task_status,
		    paused_at  = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PAUSED'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "task not found or not paused")
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *TaskRepository) scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	err := row.Scan(
		&t.ID,
		&t.ApprovalID,
		&t.NodeID,
		&t.TenantID,
		&t.ApproverID,
		&t.DelegatedFrom,
		&t.Status,
		&t.Comment,
		&t.ActedAt,
		&t.IsDynamic,
		&t.ParentTaskID,
		&t.TimeoutAt,
		&t.PausedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TaskRepository) scanRows(rows pgx.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval task")
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
