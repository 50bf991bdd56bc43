package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

const testTenant = "tenant-1"

func newTestEngine(m *memStore) (*ApprovalEngine, *fakeEntities, *fakeNotifier) {
	entities := &fakeEntities{}
	notifier := &fakeNotifier{}
	eng := NewApprovalEngine(
		m,
		m,
		memInstances{m},
		memTasks{m},
		NewNodeResolver(m),
		NewDelegationResolver(m),
		m,
		entities,
		notifier,
		logger.Nop(),
	)
	eng.now = m.now
	return eng, entities, notifier
}

func userNode(order int, userID string, mode repository.ApproverMode) *repository.FlowNode {
	uid := userID
	return &repository.FlowNode{
		SortOrder:      order,
		Name:           userID + " review",
		ApproverType:   repository.ApproverTypeUser,
		ApproverUserID: &uid,
		ApproverMode:   mode,
	}
}

func roleNode(order int, role string, mode repository.ApproverMode) *repository.FlowNode {
	r := role
	return &repository.FlowNode{
		SortOrder:    order,
		Name:         role + " review",
		ApproverType: repository.ApproverTypeRole,
		ApproverRole: &r,
		ApproverMode: mode,
	}
}

func submit(t *testing.T, eng *ApprovalEngine, flowCode, entityID string, amount int64) *SubmitResult {
	t.Helper()
	result, err := eng.Submit(context.Background(), testTenant, "requester", &SubmitApprovalRequest{
		FlowCode:   flowCode,
		EntityType: repository.EntityTypeQuote,
		EntityID:   entityID,
		Amount:     amount,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ApprovalID)
	return result
}

func pendingTaskFor(t *testing.T, m *memStore, approvalID, userID string) *repository.Task {
	t.Helper()
	for _, id := range m.taskOrder {
		task := m.tasks[id]
		if task != nil && task.ApprovalID == approvalID && task.ApproverID == userID && task.Status == repository.TaskStatusPending {
			return task
		}
	}
	t.Fatalf("no pending task for %s", userID)
	return nil
}

func TestSubmitCreatesInstanceAndTasks(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, entities, notifier := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)

	inst := m.instances[result.ApprovalID]
	require.NotNil(t, inst)
	assert.Equal(t, repository.InstanceStatusPending, inst.Status)
	require.NotNil(t, inst.CurrentNodeID)

	task := pendingTaskFor(t, m, result.ApprovalID, "alice")
	assert.NotNil(t, task.TimeoutAt)

	require.NotNil(t, entities.last())
	assert.Equal(t, repository.EntityStatusPendingApproval, entities.last().status)
	assert.Len(t, notifier.created, 1)
}

func TestSubmitRejectsDuplicateActiveInstance(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)

	_, err := eng.Submit(context.Background(), testTenant, "requester", &SubmitApprovalRequest{
		FlowCode:   "QUOTE_APPROVAL",
		EntityType: repository.EntityTypeQuote,
		EntityID:   "quote-1",
		Amount:     10_000,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestSubmitFailsWhenNoNodeMatches(t *testing.T) {
	m := newMemStore()
	min := int64(100_000)
	node := userNode(1, "alice", repository.ApproverModeAny)
	node.MinAmount = &min
	m.addFlow(testTenant, "QUOTE_APPROVAL", node)
	eng, entities, _ := newTestEngine(m)

	_, err := eng.Submit(context.Background(), testTenant, "requester", &SubmitApprovalRequest{
		FlowCode:   "QUOTE_APPROVAL",
		EntityType: repository.EntityTypeQuote,
		EntityID:   "quote-1",
		Amount:     5_000,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
	assert.Empty(t, entities.updates)
	assert.Empty(t, m.instances)
}

func TestSubmitFailsOnZeroApproverRole(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeAll))
	eng, _, _ := newTestEngine(m)

	_, err := eng.Submit(context.Background(), testTenant, "requester", &SubmitApprovalRequest{
		FlowCode:   "QUOTE_APPROVAL",
		EntityType: repository.EntityTypeQuote,
		EntityID:   "quote-1",
		Amount:     10_000,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestEntryNodeSelectionByAmount(t *testing.T) {
	m := newMemStore()
	low := userNode(1, "alice", repository.ApproverModeAny)
	lowMax := int64(50_000)
	low.MaxAmount = &lowMax
	high := userNode(2, "bob", repository.ApproverModeAny)
	highMin := int64(50_001)
	high.MinAmount = &highMin
	m.addFlow(testTenant, "QUOTE_APPROVAL", low, high)
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-big", 80_000)

	pendingTaskFor(t, m, result.ApprovalID, "bob")
}

func TestApproveAnyModeCancelsSiblings(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeAny))
	eng, entities, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)

	assert.Equal(t, repository.TaskStatusApproved, aliceTask.Status)
	assert.Equal(t, repository.TaskStatusCanceled, bobTask.Status)
	assert.Equal(t, repository.InstanceStatusApproved, m.instances[result.ApprovalID].Status)
	assert.Equal(t, repository.EntityStatusApproved, entities.last().status)
}

func TestApproveAllModeWaitsForEveryApprover(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeAll))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusPending, m.instances[result.ApprovalID].Status)

	pr, err = eng.Process(context.Background(), "bob", bobTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusApproved, m.instances[result.ApprovalID].Status)
}

func TestApproveMajorityMode(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob", "carol"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeMajority))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")
	carolTask := pendingTaskFor(t, m, result.ApprovalID, "carol")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	pr, err = eng.Process(context.Background(), "bob", bobTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)

	assert.Equal(t, repository.TaskStatusCanceled, carolTask.Status)
	assert.Equal(t, repository.InstanceStatusApproved, m.instances[result.ApprovalID].Status)
}

func TestRejectDefaultRejectsWholeFlow(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeAll))
	eng, entities, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")

	reason := "numbers do not add up"
	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionReject, &reason)
	require.NoError(t, err)
	assert.True(t, pr.Completed)

	assert.Equal(t, repository.InstanceStatusRejected, m.instances[result.ApprovalID].Status)
	assert.Equal(t, repository.TaskStatusCanceled, bobTask.Status)
	assert.Equal(t, repository.EntityStatusRejected, entities.last().status)
}

func TestRejectMajorityModeNeedsMajority(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob", "carol"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeMajority))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionReject, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusPending, m.instances[result.ApprovalID].Status)

	pr, err = eng.Process(context.Background(), "bob", bobTask.ID, ActionReject, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusRejected, m.instances[result.ApprovalID].Status)
}

func TestProcessIdempotence(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	task := pendingTaskFor(t, m, result.ApprovalID, "alice")

	_, err := eng.Process(context.Background(), "alice", task.ID, ActionApprove, nil)
	require.NoError(t, err)

	_, err = eng.Process(context.Background(), "alice", task.ID, ActionApprove, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestProcessForbiddenForWrongActor(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	task := pendingTaskFor(t, m, result.ApprovalID, "alice")

	_, err := eng.Process(context.Background(), "mallory", task.ID, ActionApprove, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(err))
	assert.Equal(t, repository.TaskStatusPending, task.Status)
}

func TestMultiNodeAdvancement(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "bob", repository.ApproverModeAny),
	)
	eng, _, notifier := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")
	inst := m.instances[result.ApprovalID]
	require.NotNil(t, inst.CurrentNodeID)
	assert.Equal(t, bobTask.NodeID, *inst.CurrentNodeID)

	// submit + advancement each announce the new task
	assert.Len(t, notifier.created, 2)

	pr, err = eng.Process(context.Background(), "bob", bobTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusApproved, inst.Status)
}

func TestDelegationRedirectsTask(t *testing.T) {
	m := newMemStore()
	flow := m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "dana", repository.ApproverModeAny))
	m.delegations = append(m.delegations, &repository.Delegation{
		ID:          "d1",
		TenantID:    testTenant,
		DelegatorID: "dana",
		DelegateeID: "erik",
		Type:        repository.DelegationTypeGlobal,
		StartTime:   m.clock.Add(-time.Hour),
		EndTime:     m.clock.Add(time.Hour),
		IsActive:    true,
	})
	_ = flow
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)

	task := pendingTaskFor(t, m, result.ApprovalID, "erik")
	require.NotNil(t, task.DelegatedFrom)
	assert.Equal(t, "dana", *task.DelegatedFrom)
}

func TestSelfApprovalChain(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "alice", repository.ApproverModeAny),
		userNode(3, "bob", repository.ApproverModeAny),
	)
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	// Node 2 auto-approved in the same call, flow went straight to bob.
	tasks, err := eng.GetInstanceDetail(context.Background(), result.ApprovalID)
	require.NoError(t, err)
	require.Len(t, tasks.Tasks, 3)

	approvedByAlice := 0
	for _, task := range tasks.Tasks {
		if task.ApproverID == "alice" && task.Status == repository.TaskStatusApproved {
			approvedByAlice++
		}
	}
	assert.Equal(t, 2, approvedByAlice)
	pendingTaskFor(t, m, result.ApprovalID, "bob")
}

func TestSelfApprovalChainCompletesFlow(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "alice", repository.ApproverModeAny),
	)
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusApproved, m.instances[result.ApprovalID].Status)
}

func TestSelfApprovalSuppressedByDelegation(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "alice", repository.ApproverModeAny),
	)
	m.delegations = append(m.delegations, &repository.Delegation{
		ID:          "d1",
		TenantID:    testTenant,
		DelegatorID: "alice",
		DelegateeID: "erik",
		Type:        repository.DelegationTypeGlobal,
		StartTime:   m.clock.Add(-time.Hour),
		EndTime:     m.clock.Add(time.Hour),
		IsActive:    true,
	})
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	// The entry node task is also delegated to erik.
	entryTask := pendingTaskFor(t, m, result.ApprovalID, "erik")

	pr, err := eng.Process(context.Background(), "erik", entryTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	// Node 2 resolves to alice, delegates to erik, who is not the submitter
	// of the earlier approval shortcut check, so a fresh PENDING task exists.
	pendingTaskFor(t, m, result.ApprovalID, "erik")
	assert.Equal(t, repository.InstanceStatusPending, m.instances[result.ApprovalID].Status)
}

func TestAddApprover(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAll))
	eng, _, notifier := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	err := eng.AddApprover(context.Background(), "alice", aliceTask.ID, "carol", nil)
	require.NoError(t, err)

	carolTask := pendingTaskFor(t, m, result.ApprovalID, "carol")
	assert.True(t, carolTask.IsDynamic)
	require.NotNil(t, carolTask.ParentTaskID)
	assert.Equal(t, aliceTask.ID, *carolTask.ParentTaskID)
	assert.Len(t, notifier.created, 2)

	// ALL mode now requires both approvals.
	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	pr, err = eng.Process(context.Background(), "carol", carolTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
}

func TestAddApproverRequiresOwnPendingTask(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAll))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	err := eng.AddApprover(context.Background(), "mallory", aliceTask.ID, "carol", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(err))
}

func TestWithdraw(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, entities, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	task := pendingTaskFor(t, m, result.ApprovalID, "alice")

	reason := "submitted too early"
	err := eng.Withdraw(context.Background(), "requester", result.ApprovalID, &reason)
	require.NoError(t, err)

	assert.Equal(t, repository.InstanceStatusCanceled, m.instances[result.ApprovalID].Status)
	assert.Equal(t, repository.TaskStatusCanceled, task.Status)
	assert.Equal(t, repository.EntityStatusDraft, entities.last().status)
}

func TestWithdrawOnlyByRequester(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)

	err := eng.Withdraw(context.Background(), "alice", result.ApprovalID, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(err))
}

func TestRevokeAsInitiatorWithinWindow(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, entities, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	m.advance(2 * time.Hour)

	pr, err := eng.Revoke(context.Background(), "requester", result.ApprovalID)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusCanceled, m.instances[result.ApprovalID].Status)
	assert.Equal(t, repository.EntityStatusDraft, entities.last().status)
}

func TestRevokeAsInitiatorOutsideWindow(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	m.advance(25 * time.Hour)

	_, err := eng.Revoke(context.Background(), "requester", result.ApprovalID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestRevokeAsApproverRewindsInstance(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "bob", repository.ApproverModeAny),
	)
	eng, entities, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	_, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")

	m.advance(10 * time.Minute)
	pr, err := eng.Revoke(context.Background(), "alice", result.ApprovalID)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	assert.Equal(t, repository.TaskStatusPending, aliceTask.Status)
	inst := m.instances[result.ApprovalID]
	require.NotNil(t, inst.CurrentNodeID)
	assert.Equal(t, aliceTask.NodeID, *inst.CurrentNodeID)

	// bob's downstream task was deleted
	_, ok := m.tasks[bobTask.ID]
	assert.False(t, ok)
	assert.Equal(t, repository.EntityStatusPendingApproval, entities.last().status)
}

func TestRevokeAsApproverOutsideWindow(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "bob", repository.ApproverModeAny),
	)
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")

	_, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)

	m.advance(31 * time.Minute)
	_, err = eng.Revoke(context.Background(), "alice", result.ApprovalID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestRevokeAsApproverBlockedByDownstreamAction(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "bob", repository.ApproverModeAny),
		userNode(3, "carol", repository.ApproverModeAny),
	)
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	_, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)

	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")
	_, err = eng.Process(context.Background(), "bob", bobTask.ID, ActionApprove, nil)
	require.NoError(t, err)

	// alice is still inside her window, but bob has acted downstream.
	_, err = eng.Revoke(context.Background(), "alice", result.ApprovalID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestPauseAndResumeTask(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	task := pendingTaskFor(t, m, result.ApprovalID, "alice")

	require.NoError(t, eng.PauseTask(context.Background(), "alice", task.ID))
	assert.Equal(t, repository.TaskStatusPaused, task.Status)
	require.NotNil(t, task.PausedAt)

	require.NoError(t, eng.ResumeTask(context.Background(), "alice", task.ID))
	assert.Equal(t, repository.TaskStatusPending, task.Status)
	assert.Nil(t, task.PausedAt)
}

func TestApproveAllModeWaitsForPausedApprover(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeAll))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")

	require.NoError(t, eng.PauseTask(context.Background(), "bob", bobTask.ID))

	// bob has not decided; alice alone must not pass the node.
	pr, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusPending, m.instances[result.ApprovalID].Status)
	assert.Equal(t, repository.TaskStatusPaused, bobTask.Status)

	require.NoError(t, eng.ResumeTask(context.Background(), "bob", bobTask.ID))
	pr, err = eng.Process(context.Background(), "bob", bobTask.ID, ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, pr.Completed)
	assert.Equal(t, repository.InstanceStatusApproved, m.instances[result.ApprovalID].Status)
}

func TestRevokeAsApproverDeletesPausedDownstreamTask(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL",
		userNode(1, "alice", repository.ApproverModeAny),
		userNode(2, "bob", repository.ApproverModeAny),
	)
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	aliceTask := pendingTaskFor(t, m, result.ApprovalID, "alice")
	_, err := eng.Process(context.Background(), "alice", aliceTask.ID, ActionApprove, nil)
	require.NoError(t, err)

	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")
	require.NoError(t, eng.PauseTask(context.Background(), "bob", bobTask.ID))

	m.advance(10 * time.Minute)
	pr, err := eng.Revoke(context.Background(), "alice", result.ApprovalID)
	require.NoError(t, err)
	assert.False(t, pr.Completed)

	// bob's paused task does not survive the rewind.
	_, ok := m.tasks[bobTask.ID]
	assert.False(t, ok)
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(eng.ResumeTask(context.Background(), "bob", bobTask.ID)))

	inst := m.instances[result.ApprovalID]
	require.NotNil(t, inst.CurrentNodeID)
	assert.Equal(t, aliceTask.NodeID, *inst.CurrentNodeID)
}

func TestWithdrawCancelsPausedTask(t *testing.T) {
	m := newMemStore()
	m.roleMembers[testTenant+"|finance"] = []string{"alice", "bob"}
	m.addFlow(testTenant, "QUOTE_APPROVAL", roleNode(1, "finance", repository.ApproverModeAll))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	bobTask := pendingTaskFor(t, m, result.ApprovalID, "bob")
	require.NoError(t, eng.PauseTask(context.Background(), "bob", bobTask.ID))

	require.NoError(t, eng.Withdraw(context.Background(), "requester", result.ApprovalID, nil))

	assert.Equal(t, repository.InstanceStatusCanceled, m.instances[result.ApprovalID].Status)
	assert.Equal(t, repository.TaskStatusCanceled, bobTask.Status)
}

func TestWithdrawAuditTrail(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, "QUOTE_APPROVAL", userNode(1, "alice", repository.ApproverModeAny))
	eng, _, _ := newTestEngine(m)

	result := submit(t, eng, "QUOTE_APPROVAL", "quote-1", 10_000)
	require.NoError(t, eng.Withdraw(context.Background(), "requester", result.ApprovalID, nil))

	entries, err := eng.GetAuditTrail(context.Background(), result.ApprovalID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "submitted", entries[0].Action)
	assert.Equal(t, "withdrawn", entries[1].Action)
}

func TestOrderCancellationFlowStatuses(t *testing.T) {
	m := newMemStore()
	m.addFlow(testTenant, repository.FlowCodeOrderCancellation, userNode(1, "alice", repository.ApproverModeAny))
	eng, entities, _ := newTestEngine(m)

	result, err := eng.Submit(context.Background(), testTenant, "requester", &SubmitApprovalRequest{
		FlowCode:   repository.FlowCodeOrderCancellation,
		EntityType: repository.EntityTypeOrder,
		EntityID:   "order-1",
		Amount:     10_000,
	})
	require.NoError(t, err)

	task := pendingTaskFor(t, m, result.ApprovalID, "alice")
	_, err = eng.Process(context.Background(), "alice", task.ID, ActionApprove, nil)
	require.NoError(t, err)

	// Approving a cancellation flow cancels the order.
	assert.Equal(t, repository.EntityStatusCancelled, entities.last().status)
}
