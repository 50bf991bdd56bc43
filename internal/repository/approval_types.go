package repository

import "time"

// ── Enumerations ─────────────────────────────────────────────────────────────

// ApproverType says how a node's candidate approver set is resolved.
type ApproverType string

const (
	ApproverTypeUser           ApproverType = "USER"
	ApproverTypeRole           ApproverType = "ROLE"
	ApproverTypeCreatorManager ApproverType = "CREATOR_MANAGER"
)

// ApproverMode is the parallel-approval tie-break mode for a node with
// multiple approvers.
type ApproverMode string

const (
	ApproverModeAny      ApproverMode = "ANY"
	ApproverModeAll      ApproverMode = "ALL"
	ApproverModeMajority ApproverMode = "MAJORITY"
)

// TimeoutAction is the per-node policy applied when a pending task passes
// its deadline.
type TimeoutAction string

const (
	TimeoutActionRemind      TimeoutAction = "REMIND"
	TimeoutActionAutoApprove TimeoutAction = "AUTO_APPROVE"
	TimeoutActionAutoReject  TimeoutAction = "AUTO_REJECT"
	TimeoutActionEscalate    TimeoutAction = "ESCALATE"
)

// InstanceStatus is the lifecycle state of an approval instance.
// CANCELED covers both requester withdrawal and initiator revoke; the audit
// trail records which path was taken.
type InstanceStatus string

const (
	InstanceStatusPending  InstanceStatus = "PENDING"
	InstanceStatusApproved InstanceStatus = "APPROVED"
	InstanceStatusRejected InstanceStatus = "REJECTED"
	InstanceStatusCanceled InstanceStatus = "CANCELED"
)

// TaskStatus is the lifecycle state of one approver's task.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "PENDING"
	TaskStatusApproved TaskStatus = "APPROVED"
	TaskStatusRejected TaskStatus = "REJECTED"
	TaskStatusCanceled TaskStatus = "CANCELED"
	TaskStatusPaused   TaskStatus = "PAUSED"
	TaskStatusTimeout  TaskStatus = "TIMEOUT"
)

// ConditionOperator is the closed set of predicate operators a condition
// node may carry after parsing.
type ConditionOperator string

const (
	OpEq  ConditionOperator = "eq"
	OpNe  ConditionOperator = "ne"
	OpGt  ConditionOperator = "gt"
	OpLt  ConditionOperator = "lt"
	OpGte ConditionOperator = "gte"
	OpLte ConditionOperator = "lte"
	OpIn  ConditionOperator = "in"
)

// DelegationType scopes a delegation to everything or to one flow.
type DelegationType string

const (
	DelegationTypeGlobal DelegationType = "GLOBAL"
	DelegationTypeFlow   DelegationType = "FLOW"
)

// EntityType identifies the kind of business document under approval.
type EntityType string

const (
	EntityTypeQuote       EntityType = "QUOTE"
	EntityTypeOrder       EntityType = "ORDER"
	EntityTypeReceiptBill EntityType = "RECEIPT_BILL"
	EntityTypeMeasureTask EntityType = "MEASURE_TASK"
	EntityTypeLeadRestore EntityType = "LEAD_RESTORE"
)

// EntityStatus is the status value the engine writes back to a business
// document. RESTORED is a sentinel the lead updater resolves from the
// lead's status history.
type EntityStatus string

const (
	EntityStatusDraft           EntityStatus = "DRAFT"
	EntityStatusPendingApproval EntityStatus = "PENDING_APPROVAL"
	EntityStatusApproved        EntityStatus = "APPROVED"
	EntityStatusRejected        EntityStatus = "REJECTED"
	EntityStatusCancelled       EntityStatus = "CANCELLED"
	EntityStatusRestored        EntityStatus = "RESTORED"
	EntityStatusVoid            EntityStatus = "VOID"
)

// FlowCodeOrderCancellation marks the order-cancellation flow, whose approval
// cancels and locks the order instead of approving it.
const FlowCodeOrderCancellation = "ORDER_CANCELLATION_APPROVAL"

// ── Domain types ─────────────────────────────────────────────────────────────

// Condition is one parsed predicate attached to a flow node. All conditions
// on a node must evaluate true against the submission payload for the node
// to match at entry.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value"`
}

// Flow is a tenant-scoped approval flow definition. Nodes are replaced as a
// whole on publish, never patched in place.
type Flow struct {
	ID        string
	TenantID  string
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FlowNode is one step of a published flow. SortOrder defines the linear
// position produced by graph flattening.
type FlowNode struct {
	ID             string
	FlowID         string
	SortOrder      int
	Name           string
	ApproverType   ApproverType
	ApproverUserID *string
	ApproverRole   *string
	ApproverMode   ApproverMode
	Conditions     []Condition
	MinAmount      *int64 // cents; nil = 0
	MaxAmount      *int64 // cents; nil = unbounded
	TimeoutHours   int    // deadline for tasks on this node; 0 = service default
	TimeoutAction  TimeoutAction
	CreatedAt      time.Time
}

// Instance is one run of a flow against one business document.
// While Status is PENDING, CurrentNodeID is non-nil.
type Instance struct {
	ID            string
	TenantID      string
	FlowID        string
	FlowCode      string
	EntityType    EntityType
	EntityID      string
	RequesterID   string
	Status        InstanceStatus
	CurrentNodeID *string
	Amount        int64
	Payload       map[string]any
	SubmittedAt   time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Task is one approver's unit of work for one node occurrence.
// ApproverID is the effective assignee after delegation; DelegatedFrom keeps
// the original candidate when a delegation redirected the task.
type Task struct {
	ID            string
	ApprovalID    string
	NodeID        string
	TenantID      string
	ApproverID    string
	DelegatedFrom *string
	Status        TaskStatus
	Comment       *string
	ActedAt       *time.Time
	IsDynamic     bool
	ParentTaskID  *string
	TimeoutAt     *time.Time
	PausedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Delegation is a time-bounded substitution rule. Read-only to the engine;
// resolved fresh at the moment a task would be assigned.
type Delegation struct {
	ID          string
	TenantID    string
	DelegatorID string
	DelegateeID string
	Type        DelegationType
	FlowID      *string // set when Type is FLOW
	StartTime   time.Time
	EndTime     time.Time
	IsActive    bool
}

// User is a tenant directory entry, the source for role and manager lookups.
type User struct {
	ID        string
	TenantID  string
	Name      string
	Roles     []string
	ManagerID *string
	IsActive  bool
}

// TenantSettings carries the tenant-level SLA policy for the second
// timeout sweep.
type TenantSettings struct {
	TenantID                string
	ApprovalAutoResumeHours int
	ApprovalAutoApproveDays int
}

// AuditEntry is one immutable audit log record.
type AuditEntry struct {
	ID          string
	TenantID    string
	TableName   string
	RecordID    string
	Action      string
	UserID      string
	Details     map[string]any
	PerformedAt time.Time
}
