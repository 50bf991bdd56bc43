package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

const (
	// defaultNodeTimeoutHours applies when a node carries no explicit deadline.
	defaultNodeTimeoutHours = 24

	// initiatorRevokeWindow bounds how long after submission the requester
	// may revoke the whole instance.
	initiatorRevokeWindow = 24 * time.Hour

	// approverRevokeWindow bounds how long an approver may undo their own
	// action, provided nothing downstream has acted.
	approverRevokeWindow = 30 * time.Minute
)

// ProcessAction is the decision an approver submits for a task.
type ProcessAction string

const (
	ActionApprove ProcessAction = "APPROVE"
	ActionReject  ProcessAction = "REJECT"
)

// ApprovalEngine owns the instance/task state machine. Every exported entry
// point runs as one atomic transaction; notifications are gathered during
// the transaction and dispatched only after commit.
type ApprovalEngine struct {
	tx          TxRunner
	flows       FlowStore
	instances   InstanceStore
	tasks       TaskStore
	resolver    *NodeResolver
	delegations *DelegationResolver
	audit       AuditStore
	entities    EntityStatusUpdater
	notifier    NotificationGateway
	log         *logger.Logger
	now         func() time.Time
}

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(
	tx TxRunner,
	flows FlowStore,
	instances InstanceStore,
	tasks TaskStore,
	resolver *NodeResolver,
	delegations *DelegationResolver,
	audit AuditStore,
	entities EntityStatusUpdater,
	notifier NotificationGateway,
	log *logger.Logger,
) *ApprovalEngine {
	return &ApprovalEngine{
		tx:          tx,
		flows:       flows,
		instances:   instances,
		tasks:       tasks,
		resolver:    resolver,
		delegations: delegations,
		audit:       audit,
		entities:    entities,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
	}
}

// engineEvents accumulates notifications during a transaction. Dispatch
// happens after commit so a rollback never leaks events.
type engineEvents struct {
	newTasks []*repository.Task
	result   *repository.Instance
}

func (e *ApprovalEngine) dispatch(ctx context.Context, ev *engineEvents) {
	for _, task := range ev.newTasks {
		e.notifier.NotifyTaskCreated(ctx, task)
	}
	if ev.result != nil {
		e.notifier.NotifyResult(ctx, ev.result)
	}
}

// ── Submit ───────────────────────────────────────────────────────────────────

// SubmitApprovalRequest starts an approval run for one business document.
// Payload carries the named fields conditions evaluate against; Amount is
// also exposed to conditions under the "amount" key.
type SubmitApprovalRequest struct {
	FlowCode   string
	EntityType repository.EntityType
	EntityID   string
	Amount     int64
	Payload    map[string]any
}

// SubmitResult reports the created instance.
type SubmitResult struct {
	ApprovalID string
}

// Submit resolves the flow and entry node, creates the instance and its
// first round of tasks, and flips the business document to PENDING_APPROVAL.
// Fails before any row is written when the flow or entry node cannot be
// resolved.
func (e *ApprovalEngine) Submit(ctx context.Context, tenantID, requesterID string, req *SubmitApprovalRequest) (*SubmitResult, error) {
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}

	var result *SubmitResult
	var ev engineEvents

	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		flow, err := e.flows.GetActiveByCode(ctx, tenantID, req.FlowCode)
		if err != nil {
			return err
		}
		nodes, err := e.flows.ListNodes(ctx, flow.ID)
		if err != nil {
			return err
		}

		payload := make(map[string]any, len(req.Payload)+1)
		for k, v := range req.Payload {
			payload[k] = v
		}
		if _, ok := payload["amount"]; !ok {
			payload["amount"] = req.Amount
		}

		entry, err := MatchEntryNode(nodes, req.Amount, payload)
		if err != nil {
			return err
		}

		if existing, err := e.instances.GetActiveByEntity(ctx, tenantID, req.EntityType, req.EntityID); err != nil {
			return err
		} else if existing != nil {
			return errors.New(errors.ErrCodeConflict, "an approval is already pending for this document")
		}

		candidates, err := e.resolver.ResolveApprovers(ctx, entry, tenantID, requesterID)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return errors.New(errors.ErrCodeConflict, "entry node resolves to no approvers; fix the flow configuration")
		}

		inst := &repository.Instance{
			TenantID:      tenantID,
			FlowID:        flow.ID,
			FlowCode:      flow.Code,
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			RequesterID:   requesterID,
			Status:        repository.InstanceStatusPending,
			CurrentNodeID: &entry.ID,
			Amount:        req.Amount,
			Payload:       payload,
		}
		if err := e.instances.Create(ctx, inst); err != nil {
			return err
		}

		created, err := e.createNodeTasks(ctx, inst, entry)
		if err != nil {
			return err
		}
		ev.newTasks = append(ev.newTasks, created...)

		if err := e.entities.Update(ctx, inst.EntityType, inst.EntityID, tenantID, repository.EntityStatusPendingApproval); err != nil {
			return err
		}

		e.appendAudit(ctx, inst, requesterID, "submitted", map[string]any{
			"flow_code": flow.Code,
			"amount":    req.Amount,
		})

		result = &SubmitResult{ApprovalID: inst.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, &ev)
	return result, nil
}

// createNodeTasks inserts one PENDING task per resolved approver of a node,
// applying delegation at assignment time.
func (e *ApprovalEngine) createNodeTasks(ctx context.Context, inst *repository.Instance, node *repository.FlowNode) ([]*repository.Task, error) {
	candidates, err := e.resolver.ResolveApprovers(ctx, node, inst.TenantID, inst.RequesterID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval node %q resolves to no approvers; fix the flow configuration", node.Name))
	}

	var created []*repository.Task
	for _, candidate := range candidates {
		task, err := e.createTaskFor(ctx, inst, node, candidate)
		if err != nil {
			return nil, err
		}
		created = append(created, task)
	}
	return created, nil
}

func (e *ApprovalEngine) createTaskFor(ctx context.Context, inst *repository.Instance, node *repository.FlowNode, candidate string) (*repository.Task, error) {
	effective, delegation, err := e.delegations.Resolve(ctx, inst.TenantID, candidate, inst.FlowID, e.now())
	if err != nil {
		return nil, err
	}

	task := &repository.Task{
		ApprovalID: inst.ID,
		NodeID:     node.ID,
		TenantID:   inst.TenantID,
		ApproverID: effective,
		Status:     repository.TaskStatusPending,
		TimeoutAt:  e.nodeDeadline(node),
	}
	if delegation != nil {
		task.DelegatedFrom = &delegation.DelegatorID
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (e *ApprovalEngine) nodeDeadline(node *repository.FlowNode) *time.Time {
	hours := node.TimeoutHours
	if hours <= 0 {
		hours = defaultNodeTimeoutHours
	}
	deadline := e.now().Add(time.Duration(hours) * time.Hour)
	return &deadline
}

// ── Process ──────────────────────────────────────────────────────────────────

// ProcessResult reports the outcome of one approve/reject call.
type ProcessResult struct {
	Message   string
	Completed bool
}

// Process records an approver's decision and advances or halts the instance.
func (e *ApprovalEngine) Process(ctx context.Context, actorID, taskID string, action ProcessAction, comment *string) (*ProcessResult, error) {
	var result *ProcessResult
	var ev engineEvents

	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		r, err := e.processTask(ctx, taskID, action, comment, actorID, false, &ev)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, &ev)
	return result, nil
}

// SystemProcess drives a task through the normal state-machine path on
// behalf of its assignee (timeout auto-approval, tenant SLA). It bypasses
// the assignee check but nothing else.
func (e *ApprovalEngine) SystemProcess(ctx context.Context, taskID string, action ProcessAction, comment string) (*ProcessResult, error) {
	var result *ProcessResult
	var ev engineEvents

	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		r, err := e.processTask(ctx, taskID, action, &comment, "", true, &ev)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, &ev)
	return result, nil
}

func (e *ApprovalEngine) processTask(ctx context.Context, taskID string, action ProcessAction, comment *string, actorID string, system bool, ev *engineEvents) (*ProcessResult, error) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != repository.TaskStatusPending {
		return nil, errors.New(errors.ErrCodeConflict, "task already processed")
	}
	if !system && task.ApproverID != actorID {
		return nil, errors.Forbidden("task is assigned to another approver")
	}
	if system {
		actorID = task.ApproverID
	}

	inst, err := e.instances.GetByID(ctx, task.ApprovalID)
	if err != nil {
		return nil, err
	}
	if inst.Status != repository.InstanceStatusPending {
		return nil, errors.New(errors.ErrCodeConflict, "approval instance is no longer pending")
	}

	node, err := e.flows.GetNode(ctx, task.NodeID)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionApprove:
		return e.applyApprove(ctx, inst, node, task, actorID, comment, ev)
	case ActionReject:
		return e.applyReject(ctx, inst, node, task, actorID, comment, ev)
	default:
		return nil, errors.InvalidInput("action", "action must be APPROVE or REJECT")
	}
}

// applyReject records a rejection. The default policy rejects the whole
// instance; MAJORITY nodes only finalize once rejections exceed half the
// sibling tasks.
func (e *ApprovalEngine) applyReject(ctx context.Context, inst *repository.Instance, node *repository.FlowNode, task *repository.Task, actorID string, comment *string, ev *engineEvents) (*ProcessResult, error) {
	if err := e.tasks.UpdateAction(ctx, task.ID, repository.TaskStatusRejected, comment); err != nil {
		return nil, err
	}

	rejectWholeFlow := true
	if node.ApproverMode == repository.ApproverModeMajority {
		siblings, err := e.tasks.ListByNode(ctx, inst.ID, node.ID)
		if err != nil {
			return nil, err
		}
		rejected := countStatus(siblings, repository.TaskStatusRejected)
		rejectWholeFlow = rejected*2 > len(siblings)
	}

	if !rejectWholeFlow {
		e.appendAudit(ctx, inst, actorID, "rejection_recorded", map[string]any{"task_id": task.ID})
		return &ProcessResult{Message: "rejection recorded; waiting for other approvers"}, nil
	}

	if err := e.tasks.CancelPending(ctx, inst.ID, "canceled after rejection"); err != nil {
		return nil, err
	}
	if err := e.instances.Complete(ctx, inst.ID, repository.InstanceStatusRejected, e.now()); err != nil {
		return nil, err
	}
	inst.Status = repository.InstanceStatusRejected

	if status, ok := rejectedEntityStatus(inst.EntityType, inst.FlowCode); ok {
		if err := e.entities.Update(ctx, inst.EntityType, inst.EntityID, inst.TenantID, status); err != nil {
			return nil, err
		}
	}

	e.appendAudit(ctx, inst, actorID, "rejected", map[string]any{"task_id": task.ID})
	ev.result = inst
	return &ProcessResult{Message: "approval rejected", Completed: true}, nil
}

// applyApprove records an approval and, when the node passes under its mode,
// advances through subsequent nodes. The self-approval shortcut is an
// iterative loop bounded by the flow's node count, never recursion.
func (e *ApprovalEngine) applyApprove(ctx context.Context, inst *repository.Instance, node *repository.FlowNode, task *repository.Task, actorID string, comment *string, ev *engineEvents) (*ProcessResult, error) {
	if err := e.tasks.UpdateAction(ctx, task.ID, repository.TaskStatusApproved, comment); err != nil {
		return nil, err
	}
	e.appendAudit(ctx, inst, actorID, "approved", map[string]any{"task_id": task.ID, "node_id": node.ID})

	passed, err := e.nodePassed(ctx, inst, node, task.ID)
	if err != nil {
		return nil, err
	}
	if !passed {
		return &ProcessResult{Message: "approved; waiting for other approvers"}, nil
	}

	nodes, err := e.flows.ListNodes(ctx, inst.FlowID)
	if err != nil {
		return nil, err
	}

	current := node
	// Each pass strictly advances sortOrder, so len(nodes) iterations is a
	// hard bound even under misconfiguration.
	for range len(nodes) + 1 {
		next := NextNode(nodes, current.SortOrder)
		if next == nil {
			return e.finalizeApproved(ctx, inst, actorID, ev)
		}

		if err := e.instances.SetCurrentNode(ctx, inst.ID, &next.ID); err != nil {
			return nil, err
		}
		inst.CurrentNodeID = &next.ID

		candidates, err := e.resolver.ResolveApprovers(ctx, next, inst.TenantID, inst.RequesterID)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("approval node %q resolves to no approvers; fix the flow configuration", next.Name))
		}

		// Self-approval shortcut: sole pre-delegation candidate is the actor
		// and delegation does not redirect the assignment.
		if len(candidates) == 1 && candidates[0] == actorID {
			created, err := e.createTaskFor(ctx, inst, next, candidates[0])
			if err != nil {
				return nil, err
			}
			if created.ApproverID == actorID {
				autoComment := fmt.Sprintf("auto-approved: same approver as previous step (%s)", actorID)
				if err := e.tasks.UpdateAction(ctx, created.ID, repository.TaskStatusApproved, &autoComment); err != nil {
					return nil, err
				}
				e.appendAudit(ctx, inst, actorID, "auto_approved", map[string]any{"task_id": created.ID, "node_id": next.ID})
				current = next
				continue
			}
			// Delegated elsewhere: the new assignee gets a normal task.
			ev.newTasks = append(ev.newTasks, created)
			return &ProcessResult{Message: "approved; moved to next step"}, nil
		}

		created, err := e.createNodeTasks(ctx, inst, next)
		if err != nil {
			return nil, err
		}
		ev.newTasks = append(ev.newTasks, created...)
		return &ProcessResult{Message: "approved; moved to next step"}, nil
	}

	return nil, errors.New(errors.ErrCodeInternal, "node advancement exceeded flow length")
}

// nodePassed applies the node's parallel-approval mode to the sibling task
// set, canceling leftover PENDING siblings when the node passes early.
func (e *ApprovalEngine) nodePassed(ctx context.Context, inst *repository.Instance, node *repository.FlowNode, approvedTaskID string) (bool, error) {
	siblings, err := e.tasks.ListByNode(ctx, inst.ID, node.ID)
	if err != nil {
		return false, err
	}

	switch node.ApproverMode {
	case repository.ApproverModeAny:
		if err := e.tasks.CancelPendingForNode(ctx, inst.ID, node.ID, approvedTaskID, "auto-canceled by parallel approval"); err != nil {
			return false, err
		}
		return true, nil

	case repository.ApproverModeAll:
		// A paused sibling is still an undecided approver.
		undecided := countStatus(siblings, repository.TaskStatusPending) +
			countStatus(siblings, repository.TaskStatusPaused)
		return undecided == 0, nil

	case repository.ApproverModeMajority:
		approved := countStatus(siblings, repository.TaskStatusApproved)
		if approved*2 > len(siblings) {
			if err := e.tasks.CancelPendingForNode(ctx, inst.ID, node.ID, approvedTaskID, "pass by majority"); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	return false, errors.New(errors.ErrCodeInternal, "unknown approver mode "+string(node.ApproverMode))
}

func (e *ApprovalEngine) finalizeApproved(ctx context.Context, inst *repository.Instance, actorID string, ev *engineEvents) (*ProcessResult, error) {
	if err := e.instances.Complete(ctx, inst.ID, repository.InstanceStatusApproved, e.now()); err != nil {
		return nil, err
	}
	inst.Status = repository.InstanceStatusApproved
	inst.CurrentNodeID = nil

	if err := e.entities.Update(ctx, inst.EntityType, inst.EntityID, inst.TenantID, approvedEntityStatus(inst.EntityType, inst.FlowCode)); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, inst, actorID, "completed", map[string]any{"status": string(inst.Status)})
	ev.result = inst
	return &ProcessResult{Message: "approval completed", Completed: true}, nil
}

// ── Add approver ─────────────────────────────────────────────────────────────

// AddApprover inserts an ad-hoc co-signer task next to a PENDING source
// task. The new task participates in whatever mode accounting already
// governs the node.
func (e *ApprovalEngine) AddApprover(ctx context.Context, actorID, taskID, targetUserID string, comment *string) error {
	if targetUserID == "" {
		return errors.InvalidInput("target_user_id", "target user is required")
	}

	var ev engineEvents
	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		source, err := e.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if source.Status != repository.TaskStatusPending {
			return errors.New(errors.ErrCodeConflict, "source task is not pending")
		}
		if source.ApproverID != actorID {
			return errors.Forbidden("only the task's approver can add a co-approver")
		}

		inst, err := e.instances.GetByID(ctx, source.ApprovalID)
		if err != nil {
			return err
		}
		node, err := e.flows.GetNode(ctx, source.NodeID)
		if err != nil {
			return err
		}

		task := &repository.Task{
			ApprovalID:   inst.ID,
			NodeID:       node.ID,
			TenantID:     inst.TenantID,
			ApproverID:   targetUserID,
			Status:       repository.TaskStatusPending,
			Comment:      comment,
			IsDynamic:    true,
			ParentTaskID: &source.ID,
			TimeoutAt:    e.nodeDeadline(node),
		}
		if err := e.tasks.Create(ctx, task); err != nil {
			return err
		}
		ev.newTasks = append(ev.newTasks, task)

		e.appendAudit(ctx, inst, actorID, "approver_added", map[string]any{
			"task_id":        task.ID,
			"parent_task_id": source.ID,
			"target_user_id": targetUserID,
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.dispatch(ctx, &ev)
	return nil
}

// ── Withdraw ─────────────────────────────────────────────────────────────────

// Withdraw lets the original requester cancel a PENDING instance, reverting
// the business document to draft.
func (e *ApprovalEngine) Withdraw(ctx context.Context, actorID, instanceID string, reason *string) error {
	return e.tx.InTransaction(ctx, func(ctx context.Context) error {
		inst, err := e.instances.GetByID(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.RequesterID != actorID {
			return errors.Forbidden("only the requester can withdraw the approval")
		}
		if inst.Status != repository.InstanceStatusPending {
			return errors.New(errors.ErrCodeConflict, "approval instance is no longer pending")
		}

		if err := e.tasks.CancelPending(ctx, inst.ID, "canceled by requester withdrawal"); err != nil {
			return err
		}
		if err := e.instances.Complete(ctx, inst.ID, repository.InstanceStatusCanceled, e.now()); err != nil {
			return err
		}
		if err := e.entities.Update(ctx, inst.EntityType, inst.EntityID, inst.TenantID, revertEntityStatus(inst.EntityType, inst.FlowCode)); err != nil {
			return err
		}

		details := map[string]any{}
		if reason != nil {
			details["reason"] = *reason
		}
		e.appendAudit(ctx, inst, actorID, "withdrawn", details)
		return nil
	})
}

// ── Revoke ───────────────────────────────────────────────────────────────────

// Revoke handles both rollback modes. The requester cancels the whole
// instance within 24 hours of submission; an approver undoes their own
// approval within 30 minutes, provided no downstream node has acted, which
// rewinds the instance to their node.
func (e *ApprovalEngine) Revoke(ctx context.Context, actorID, approvalID string) (*ProcessResult, error) {
	var result *ProcessResult

	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		inst, err := e.instances.GetByID(ctx, approvalID)
		if err != nil {
			return err
		}
		if inst.Status != repository.InstanceStatusPending {
			return errors.New(errors.ErrCodeConflict, "approval instance is no longer pending")
		}

		if inst.RequesterID == actorID {
			r, err := e.revokeAsInitiator(ctx, inst, actorID)
			if err != nil {
				return err
			}
			result = r
			return nil
		}

		r, err := e.revokeAsApprover(ctx, inst, actorID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *ApprovalEngine) revokeAsInitiator(ctx context.Context, inst *repository.Instance, actorID string) (*ProcessResult, error) {
	if e.now().Sub(inst.SubmittedAt) > initiatorRevokeWindow {
		return nil, errors.New(errors.ErrCodeConflict, "revoke window has passed (24 hours after submission)")
	}

	if err := e.tasks.CancelPending(ctx, inst.ID, "canceled by initiator revoke"); err != nil {
		return nil, err
	}
	if err := e.instances.Complete(ctx, inst.ID, repository.InstanceStatusCanceled, e.now()); err != nil {
		return nil, err
	}
	if err := e.entities.Update(ctx, inst.EntityType, inst.EntityID, inst.TenantID, revertEntityStatus(inst.EntityType, inst.FlowCode)); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, inst, actorID, "revoked", map[string]any{"mode": "initiator"})
	return &ProcessResult{Message: "approval revoked", Completed: true}, nil
}

func (e *ApprovalEngine) revokeAsApprover(ctx context.Context, inst *repository.Instance, actorID string) (*ProcessResult, error) {
	all, err := e.tasks.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	var mine *repository.Task
	for _, t := range all {
		if t.ApproverID != actorID || t.Status != repository.TaskStatusApproved || t.ActedAt == nil {
			continue
		}
		if mine == nil || t.ActedAt.After(*mine.ActedAt) {
			mine = t
		}
	}
	if mine == nil {
		return nil, errors.New(errors.ErrCodeConflict, "no approval by this user to revoke")
	}
	if e.now().Sub(*mine.ActedAt) > approverRevokeWindow {
		return nil, errors.New(errors.ErrCodeConflict, "revoke window has passed (30 minutes after approval)")
	}

	nodes, err := e.flows.ListNodes(ctx, inst.FlowID)
	if err != nil {
		return nil, err
	}
	sortOrders := make(map[string]int, len(nodes))
	for _, n := range nodes {
		sortOrders[n.ID] = n.SortOrder
	}

	myOrder := sortOrders[mine.NodeID]
	for _, t := range all {
		if sortOrders[t.NodeID] <= myOrder {
			continue
		}
		if t.Status == repository.TaskStatusApproved || t.Status == repository.TaskStatusRejected {
			return nil, errors.New(errors.ErrCodeConflict, "a later approval step has already acted")
		}
	}

	actedAt := *mine.ActedAt
	if err := e.tasks.ResetToPending(ctx, mine.ID); err != nil {
		return nil, err
	}
	if err := e.instances.Reopen(ctx, inst.ID, mine.NodeID); err != nil {
		return nil, err
	}
	if err := e.tasks.DeletePendingCreatedAfter(ctx, inst.ID, actedAt, mine.ID); err != nil {
		return nil, err
	}
	if err := e.entities.Update(ctx, inst.EntityType, inst.EntityID, inst.TenantID, repository.EntityStatusPendingApproval); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, inst, actorID, "approval_revoked", map[string]any{
		"mode":    "approver",
		"task_id": mine.ID,
	})
	return &ProcessResult{Message: "approval action revoked; task reopened"}, nil
}

// ── Pause / resume ───────────────────────────────────────────────────────────

// PauseTask puts the approver's own PENDING task on hold. Paused tasks fall
// under the tenant SLA auto-resume sweep.
func (e *ApprovalEngine) PauseTask(ctx context.Context, actorID, taskID string) error {
	return e.tx.InTransaction(ctx, func(ctx context.Context) error {
		task, err := e.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if task.ApproverID != actorID {
			return errors.Forbidden("task is assigned to another approver")
		}
		return e.tasks.SetPaused(ctx, taskID, e.now())
	})
}

// ResumeTask returns the approver's PAUSED task to PENDING.
func (e *ApprovalEngine) ResumeTask(ctx context.Context, actorID, taskID string) error {
	return e.tx.InTransaction(ctx, func(ctx context.Context) error {
		task, err := e.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if task.ApproverID != actorID {
			return errors.Forbidden("task is assigned to another approver")
		}
		return e.tasks.SetResumed(ctx, taskID)
	})
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetPendingForUser returns a user's open task queue.
func (e *ApprovalEngine) GetPendingForUser(ctx context.Context, tenantID, userID string) ([]*repository.Task, error) {
	return e.tasks.ListPendingForUser(ctx, tenantID, userID)
}

// InstanceDetail pairs an instance with all its tasks.
type InstanceDetail struct {
	Instance *repository.Instance
	Tasks    []*repository.Task
}

// GetInstanceDetail returns one instance with its full task list.
func (e *ApprovalEngine) GetInstanceDetail(ctx context.Context, instanceID string) (*InstanceDetail, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.tasks.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &InstanceDetail{Instance: inst, Tasks: tasks}, nil
}

// GetAuditTrail returns the audit entries recorded for an instance.
func (e *ApprovalEngine) GetAuditTrail(ctx context.Context, instanceID string) ([]*repository.AuditEntry, error) {
	return e.audit.ListByRecord(ctx, "approval_instances", instanceID)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// appendAudit writes an audit entry and logs a warning on failure (never
// returns an error).
func (e *ApprovalEngine) appendAudit(ctx context.Context, inst *repository.Instance, userID, action string, details map[string]any) {
	err := e.audit.Append(ctx, &repository.AuditEntry{
		TenantID:  inst.TenantID,
		TableName: "approval_instances",
		RecordID:  inst.ID,
		Action:    action,
		UserID:    userID,
		Details:   details,
	})
	if err != nil {
		e.log.Warn().Err(err).
			Str("approval_id", inst.ID).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func countStatus(tasks []*repository.Task, status repository.TaskStatus) int {
	n := 0
	for _, t := range tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// approvedEntityStatus maps an approved instance to the business document's
// terminal status. Cancellation flows cancel the order; lead restores return
// the lead to its pre-void status (RESTORED sentinel).
func approvedEntityStatus(entityType repository.EntityType, flowCode string) repository.EntityStatus {
	switch entityType {
	case repository.EntityTypeOrder:
		if flowCode == repository.FlowCodeOrderCancellation {
			return repository.EntityStatusCancelled
		}
		return repository.EntityStatusApproved
	case repository.EntityTypeLeadRestore:
		return repository.EntityStatusRestored
	default:
		return repository.EntityStatusApproved
	}
}

// rejectedEntityStatus maps a rejected instance to the document's status.
// The second return is false when no write-back applies.
func rejectedEntityStatus(entityType repository.EntityType, flowCode string) (repository.EntityStatus, bool) {
	switch entityType {
	case repository.EntityTypeQuote:
		return repository.EntityStatusRejected, true
	case repository.EntityTypeMeasureTask:
		return repository.EntityStatusCancelled, true
	case repository.EntityTypeOrder:
		if flowCode == repository.FlowCodeOrderCancellation {
			// Cancellation denied: the order keeps its approved state.
			return repository.EntityStatusApproved, true
		}
		return repository.EntityStatusRejected, true
	case repository.EntityTypeLeadRestore:
		// Restore denied: the lead stays void.
		return repository.EntityStatusVoid, true
	default:
		return repository.EntityStatusRejected, true
	}
}

// revertEntityStatus maps withdraw/revoke/auto-reject back to the pre-submit
// status of the document.
func revertEntityStatus(entityType repository.EntityType, flowCode string) repository.EntityStatus {
	switch entityType {
	case repository.EntityTypeOrder:
		if flowCode == repository.FlowCodeOrderCancellation {
			return repository.EntityStatusApproved
		}
		return repository.EntityStatusDraft
	case repository.EntityTypeLeadRestore:
		return repository.EntityStatusVoid
	default:
		return repository.EntityStatusDraft
	}
}
