package service

import (
	"context"
	"time"

	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// The engine consumes narrow store interfaces rather than concrete
// repositories so the state machine can be exercised without a database.
// The pgx repositories in internal/repository satisfy them one-to-one.

// TxRunner runs fn as one atomic unit. Every engine entry point executes
// inside exactly one transaction; nested calls join the outer one.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// FlowStore reads and publishes flow definitions.
type FlowStore interface {
	GetActiveByCode(ctx context.Context, tenantID, code string) (*repository.Flow, error)
	GetByID(ctx context.Context, id string) (*repository.Flow, error)
	ListNodes(ctx context.Context, flowID string) ([]*repository.FlowNode, error)
	GetNode(ctx context.Context, nodeID string) (*repository.FlowNode, error)
	Publish(ctx context.Context, flow *repository.Flow, nodes []*repository.FlowNode) error
}

// InstanceStore manages approval instance rows.
type InstanceStore interface {
	Create(ctx context.Context, inst *repository.Instance) error
	GetByID(ctx context.Context, id string) (*repository.Instance, error)
	GetActiveByEntity(ctx context.Context, tenantID string, entityType repository.EntityType, entityID string) (*repository.Instance, error)
	SetCurrentNode(ctx context.Context, id string, nodeID *string) error
	Complete(ctx context.Context, id string, status repository.InstanceStatus, completedAt time.Time) error
	Reopen(ctx context.Context, id, nodeID string) error
}

// TaskStore manages approval task rows.
type TaskStore interface {
	Create(ctx context.Context, task *repository.Task) error
	GetByID(ctx context.Context, id string) (*repository.Task, error)
	ListByNode(ctx context.Context, approvalID, nodeID string) ([]*repository.Task, error)
	ListByInstance(ctx context.Context, approvalID string) ([]*repository.Task, error)
	ListPendingForUser(ctx context.Context, tenantID, userID string) ([]*repository.Task, error)
	UpdateAction(ctx context.Context, id string, status repository.TaskStatus, comment *string) error
	CancelPendingForNode(ctx context.Context, approvalID, nodeID, excludeTaskID, note string) error
	CancelPending(ctx context.Context, approvalID, note string) error
	ResetToPending(ctx context.Context, id string) error
	DeletePendingCreatedAfter(ctx context.Context, approvalID string, after time.Time, excludeTaskID string) error
	ListOverduePending(ctx context.Context, now time.Time, limit int) ([]*repository.Task, error)
	ListPausedBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]*repository.Task, error)
	ListPendingBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]*repository.Task, error)
	ExtendTimeout(ctx context.Context, id string, until time.Time, note string) error
	MarkTimeout(ctx context.Context, id string) error
	SetPaused(ctx context.Context, id string, pausedAt time.Time) error
	SetResumed(ctx context.Context, id string) error
}

// DelegationStore reads delegation rules; always queried fresh at the moment
// a task would be assigned.
type DelegationStore interface {
	FindActive(ctx context.Context, tenantID, delegatorID, flowID string, at time.Time) (*repository.Delegation, error)
}

// Directory resolves role membership and reporting lines; always queried
// fresh, never cached across a transaction.
type Directory interface {
	UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error)
	ManagerOf(ctx context.Context, tenantID, userID string) (*string, error)
}

// TenantStore reads tenant SLA settings for the second timeout sweep.
type TenantStore interface {
	GetSettings(ctx context.Context, tenantID string) (*repository.TenantSettings, error)
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
}

// AuditStore appends immutable audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByRecord(ctx context.Context, tableName, recordID string) ([]*repository.AuditEntry, error)
}

// EntityStatusUpdater writes approval outcomes back to business documents.
// Implemented by entity.Registry.
type EntityStatusUpdater interface {
	Update(ctx context.Context, entityType repository.EntityType, entityID, tenantID string, status repository.EntityStatus) error
}

// NotificationGateway is best-effort and asynchronous; calls happen after the
// transaction commits and failures are logged, never returned.
type NotificationGateway interface {
	NotifyTaskCreated(ctx context.Context, task *repository.Task)
	NotifyTaskReminder(ctx context.Context, task *repository.Task)
	NotifyTaskEscalated(ctx context.Context, task *repository.Task)
	NotifyTaskTimedOut(ctx context.Context, task *repository.Task)
	NotifyResult(ctx context.Context, inst *repository.Instance)
}
