package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// memStore is an in-memory backend implementing every store interface the
// engine consumes. InTransaction is a pass-through so the state machine
// logic can be exercised without a database.
type memStore struct {
	flows       map[string]*repository.Flow
	nodes       map[string]*repository.FlowNode
	instances   map[string]*repository.Instance
	tasks       map[string]*repository.Task
	taskOrder   []string
	delegations []*repository.Delegation
	roleMembers map[string][]string // tenantID + "|" + role
	managers    map[string]string   // userID -> managerID
	settings    map[string]*repository.TenantSettings
	tenantIDs   []string
	audits      []*repository.AuditEntry

	clock time.Time
}

func newMemStore() *memStore {
	return &memStore{
		flows:       make(map[string]*repository.Flow),
		nodes:       make(map[string]*repository.FlowNode),
		instances:   make(map[string]*repository.Instance),
		tasks:       make(map[string]*repository.Task),
		roleMembers: make(map[string][]string),
		managers:    make(map[string]string),
		settings:    make(map[string]*repository.TenantSettings),
		clock:       time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) now() time.Time { return m.clock }

func (m *memStore) advance(d time.Duration) { m.clock = m.clock.Add(d) }

// addFlow registers an active flow with its nodes and returns the flow.
func (m *memStore) addFlow(tenantID, code string, nodes ...*repository.FlowNode) *repository.Flow {
	flow := &repository.Flow{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Code:     code,
		Name:     code,
		IsActive: true,
	}
	m.flows[flow.ID] = flow
	for _, n := range nodes {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		n.FlowID = flow.ID
		m.nodes[n.ID] = n
	}
	return flow
}

// ── TxRunner ──

func (m *memStore) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ── FlowStore ──

func (m *memStore) GetActiveByCode(ctx context.Context, tenantID, code string) (*repository.Flow, error) {
	for _, f := range m.flows {
		if f.TenantID == tenantID && f.Code == code && f.IsActive {
			return f, nil
		}
	}
	return nil, errors.NotFound("approval flow", code)
}

func (m *memStore) GetByID(ctx context.Context, id string) (*repository.Flow, error) {
	if f, ok := m.flows[id]; ok {
		return f, nil
	}
	return nil, errors.NotFound("approval flow", id)
}

func (m *memStore) ListNodes(ctx context.Context, flowID string) ([]*repository.FlowNode, error) {
	var out []*repository.FlowNode
	for _, n := range m.nodes {
		if n.FlowID == flowID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *memStore) GetNode(ctx context.Context, nodeID string) (*repository.FlowNode, error) {
	if n, ok := m.nodes[nodeID]; ok {
		return n, nil
	}
	return nil, errors.NotFound("flow node", nodeID)
}

func (m *memStore) Publish(ctx context.Context, flow *repository.Flow, nodes []*repository.FlowNode) error {
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	for id, n := range m.nodes {
		if n.FlowID == flow.ID {
			delete(m.nodes, id)
		}
	}
	flow.IsActive = true
	m.flows[flow.ID] = flow
	for _, n := range nodes {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		n.FlowID = flow.ID
		m.nodes[n.ID] = n
	}
	return nil
}

// ── InstanceStore ──

func (m *memStore) Create(ctx context.Context, inst *repository.Instance) error {
	inst.ID = uuid.NewString()
	inst.SubmittedAt = m.clock
	inst.CreatedAt = m.clock
	m.instances[inst.ID] = inst
	return nil
}

func (m *memStore) getInstance(ctx context.Context, id string) (*repository.Instance, error) {
	if inst, ok := m.instances[id]; ok {
		return inst, nil
	}
	return nil, errors.NotFound("approval instance", id)
}

func (m *memStore) GetActiveByEntity(ctx context.Context, tenantID string, entityType repository.EntityType, entityID string) (*repository.Instance, error) {
	for _, inst := range m.instances {
		if inst.TenantID == tenantID && inst.EntityType == entityType && inst.EntityID == entityID && inst.Status == repository.InstanceStatusPending {
			return inst, nil
		}
	}
	return nil, nil
}

func (m *memStore) SetCurrentNode(ctx context.Context, id string, nodeID *string) error {
	inst, err := m.getInstance(ctx, id)
	if err != nil {
		return err
	}
	inst.CurrentNodeID = nodeID
	return nil
}

func (m *memStore) Complete(ctx context.Context, id string, status repository.InstanceStatus, completedAt time.Time) error {
	inst, err := m.getInstance(ctx, id)
	if err != nil {
		return err
	}
	inst.Status = status
	inst.CurrentNodeID = nil
	inst.CompletedAt = &completedAt
	return nil
}

func (m *memStore) Reopen(ctx context.Context, id, nodeID string) error {
	inst, err := m.getInstance(ctx, id)
	if err != nil {
		return err
	}
	inst.Status = repository.InstanceStatusPending
	inst.CurrentNodeID = &nodeID
	inst.CompletedAt = nil
	return nil
}

// ── TaskStore ──

func (m *memStore) getTask(id string) (*repository.Task, error) {
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	return nil, errors.NotFound("approval task", id)
}

func (m *memStore) createTask(task *repository.Task) {
	task.ID = uuid.NewString()
	task.CreatedAt = m.clock
	m.tasks[task.ID] = task
	m.taskOrder = append(m.taskOrder, task.ID)
}

func (m *memStore) ListByNode(ctx context.Context, approvalID, nodeID string) ([]*repository.Task, error) {
	var out []*repository.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if t != nil && t.ApprovalID == approvalID && t.NodeID == nodeID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListByInstance(ctx context.Context, approvalID string) ([]*repository.Task, error) {
	var out []*repository.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if t != nil && t.ApprovalID == approvalID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListPendingForUser(ctx context.Context, tenantID, userID string) ([]*repository.Task, error) {
	var out []*repository.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if t != nil && t.TenantID == tenantID && t.ApproverID == userID && t.Status == repository.TaskStatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) UpdateAction(ctx context.Context, id string, status repository.TaskStatus, comment *string) error {
	t, err := m.getTask(id)
	if err != nil {
		return err
	}
	if t.Status != repository.TaskStatusPending {
		return errors.New(errors.ErrCodeConflict, "task already processed")
	}
	actedAt := m.clock
	t.Status = status
	t.Comment = comment
	t.ActedAt = &actedAt
	return nil
}

func undecided(t *repository.Task) bool {
	return t.Status == repository.TaskStatusPending || t.Status == repository.TaskStatusPaused
}

func (m *memStore) CancelPendingForNode(ctx context.Context, approvalID, nodeID, excludeTaskID, note string) error {
	for _, t := range m.tasks {
		if t.ApprovalID == approvalID && t.NodeID == nodeID && t.ID != excludeTaskID && undecided(t) {
			t.Status = repository.TaskStatusCanceled
			n := note
			t.Comment = &n
		}
	}
	return nil
}

func (m *memStore) CancelPending(ctx context.Context, approvalID, note string) error {
	for _, t := range m.tasks {
		if t.ApprovalID == approvalID && undecided(t) {
			t.Status = repository.TaskStatusCanceled
			n := note
			t.Comment = &n
		}
	}
	return nil
}

func (m *memStore) ResetToPending(ctx context.Context, id string) error {
	t, err := m.getTask(id)
	if err != nil {
		return err
	}
	t.Status = repository.TaskStatusPending
	t.ActedAt = nil
	t.Comment = nil
	return nil
}

func (m *memStore) DeletePendingCreatedAfter(ctx context.Context, approvalID string, after time.Time, excludeTaskID string) error {
	for id, t := range m.tasks {
		if t.ApprovalID == approvalID && t.ID != excludeTaskID && undecided(t) && !t.CreatedAt.Before(after) {
			delete(m.tasks, id)
		}
	}
	return nil
}

func (m *memStore) ListOverduePending(ctx context.Context, now time.Time, limit int) ([]*repository.Task, error) {
	var out []*repository.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if t != nil && t.Status == repository.TaskStatusPending && t.TimeoutAt != nil && t.TimeoutAt.Before(now) {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListPausedBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]*repository.Task, error) {
	var out []*repository.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if t != nil && t.TenantID == tenantID && t.Status == repository.TaskStatusPaused && t.PausedAt != nil && t.PausedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListPendingBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]*repository.Task, error) {
	var out []*repository.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if t != nil && t.TenantID == tenantID && t.Status == repository.TaskStatusPending && t.CreatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ExtendTimeout(ctx context.Context, id string, until time.Time, note string) error {
	t, err := m.getTask(id)
	if err != nil {
		return err
	}
	t.TimeoutAt = &until
	t.Comment = &note
	return nil
}

func (m *memStore) MarkTimeout(ctx context.Context, id string) error {
	t, err := m.getTask(id)
	if err != nil {
		return err
	}
	t.Status = repository.TaskStatusTimeout
	return nil
}

func (m *memStore) SetPaused(ctx context.Context, id string, pausedAt time.Time) error {
	t, err := m.getTask(id)
	if err != nil {
		return err
	}
	if t.Status != repository.TaskStatusPending {
		return errors.New(errors.ErrCodeConflict, "task is not pending")
	}
	t.Status = repository.TaskStatusPaused
	t.PausedAt = &pausedAt
	return nil
}

func (m *memStore) SetResumed(ctx context.Context, id string) error {
	t, err := m.getTask(id)
	if err != nil {
		return err
	}
	if t.Status != repository.TaskStatusPaused {
		return errors.New(errors.ErrCodeConflict, "task is not paused")
	}
	t.Status = repository.TaskStatusPending
	t.PausedAt = nil
	return nil
}

// ── DelegationStore ──

func (m *memStore) FindActive(ctx context.Context, tenantID, delegatorID, flowID string, at time.Time) (*repository.Delegation, error) {
	var global *repository.Delegation
	for _, d := range m.delegations {
		if d.TenantID != tenantID || d.DelegatorID != delegatorID || !d.IsActive {
			continue
		}
		if at.Before(d.StartTime) || at.After(d.EndTime) {
			continue
		}
		switch d.Type {
		case repository.DelegationTypeFlow:
			if d.FlowID != nil && *d.FlowID == flowID {
				return d, nil
			}
		case repository.DelegationTypeGlobal:
			if global == nil {
				global = d
			}
		}
	}
	return global, nil
}

// ── Directory ──

func (m *memStore) UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error) {
	return m.roleMembers[tenantID+"|"+role], nil
}

func (m *memStore) ManagerOf(ctx context.Context, tenantID, userID string) (*string, error) {
	if mgr, ok := m.managers[userID]; ok {
		return &mgr, nil
	}
	return nil, nil
}

// ── TenantStore ──

func (m *memStore) GetSettings(ctx context.Context, tenantID string) (*repository.TenantSettings, error) {
	if s, ok := m.settings[tenantID]; ok {
		return s, nil
	}
	return &repository.TenantSettings{
		TenantID:                tenantID,
		ApprovalAutoResumeHours: 48,
		ApprovalAutoApproveDays: 7,
	}, nil
}

func (m *memStore) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	return m.tenantIDs, nil
}

// ── AuditStore ──

func (m *memStore) Append(ctx context.Context, entry *repository.AuditEntry) error {
	entry.ID = uuid.NewString()
	entry.PerformedAt = m.clock
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) ListByRecord(ctx context.Context, tableName, recordID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, a := range m.audits {
		if a.TableName == tableName && a.RecordID == recordID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ── Split views ──
// The engine takes InstanceStore and TaskStore as separate interfaces whose
// method sets collide on GetByID and Create, so the fake exposes each
// through a thin view.

type memInstances struct{ *memStore }

func (v memInstances) Create(ctx context.Context, inst *repository.Instance) error {
	return v.memStore.Create(ctx, inst)
}

func (v memInstances) GetByID(ctx context.Context, id string) (*repository.Instance, error) {
	return v.memStore.getInstance(ctx, id)
}

type memTasks struct{ *memStore }

func (v memTasks) Create(ctx context.Context, task *repository.Task) error {
	v.memStore.createTask(task)
	return nil
}

func (v memTasks) GetByID(ctx context.Context, id string) (*repository.Task, error) {
	return v.memStore.getTask(id)
}

// ── Collaborator fakes ──

type entityUpdate struct {
	entityType repository.EntityType
	entityID   string
	tenantID   string
	status     repository.EntityStatus
}

type fakeEntities struct {
	updates []entityUpdate
}

func (f *fakeEntities) Update(ctx context.Context, entityType repository.EntityType, entityID, tenantID string, status repository.EntityStatus) error {
	f.updates = append(f.updates, entityUpdate{entityType, entityID, tenantID, status})
	return nil
}

func (f *fakeEntities) last() *entityUpdate {
	if len(f.updates) == 0 {
		return nil
	}
	return &f.updates[len(f.updates)-1]
}

type fakeNotifier struct {
	created   []*repository.Task
	reminders []*repository.Task
	escalated []*repository.Task
	timedOut  []*repository.Task
	results   []*repository.Instance
}

func (f *fakeNotifier) NotifyTaskCreated(ctx context.Context, task *repository.Task) {
	f.created = append(f.created, task)
}

func (f *fakeNotifier) NotifyTaskReminder(ctx context.Context, task *repository.Task) {
	f.reminders = append(f.reminders, task)
}

func (f *fakeNotifier) NotifyTaskEscalated(ctx context.Context, task *repository.Task) {
	f.escalated = append(f.escalated, task)
}

func (f *fakeNotifier) NotifyTaskTimedOut(ctx context.Context, task *repository.Task) {
	f.timedOut = append(f.timedOut, task)
}

func (f *fakeNotifier) NotifyResult(ctx context.Context, inst *repository.Instance) {
	f.results = append(f.results, inst)
}
