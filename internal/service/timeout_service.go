package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

const (
	remindExtension   = 12 * time.Hour
	escalateExtension = 24 * time.Hour

	// overdueBatchSize caps how many overdue tasks one sweep picks up.
	overdueBatchSize = 500
)

// SweepItem records the outcome of one task within a sweep. Err is empty on
// success; a failed item never aborts the rest of the sweep.
type SweepItem struct {
	TaskID string `json:"taskId"`
	Action string `json:"action"`
	Err    string `json:"error,omitempty"`
}

// SweepResult aggregates one full sweep run.
type SweepResult struct {
	Processed int         `json:"processed"`
	Results   []SweepItem `json:"results"`
}

// TimeoutService runs the two periodic sweeps: per-node timeout policy on
// overdue tasks, and tenant-level SLA auto-resolution. Each task is handled
// in its own transaction so one failure cannot roll back its siblings.
type TimeoutService struct {
	tx        TxRunner
	flows     FlowStore
	instances InstanceStore
	tasks     TaskStore
	tenants   TenantStore
	entities  EntityStatusUpdater
	notifier  NotificationGateway
	engine    *ApprovalEngine
	log       *logger.Logger
	now       func() time.Time
}

// NewTimeoutService creates a new TimeoutService.
func NewTimeoutService(
	tx TxRunner,
	flows FlowStore,
	instances InstanceStore,
	tasks TaskStore,
	tenants TenantStore,
	entities EntityStatusUpdater,
	notifier NotificationGateway,
	engine *ApprovalEngine,
	log *logger.Logger,
) *TimeoutService {
	return &TimeoutService{
		tx:        tx,
		flows:     flows,
		instances: instances,
		tasks:     tasks,
		tenants:   tenants,
		entities:  entities,
		notifier:  notifier,
		engine:    engine,
		log:       log,
		now:       time.Now,
	}
}

// ProcessTimeouts runs both sweeps and returns the combined per-item results.
func (s *TimeoutService) ProcessTimeouts(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	if err := s.sweepOverdueTasks(ctx, result); err != nil {
		return nil, err
	}
	if err := s.sweepTenantSLA(ctx, result); err != nil {
		return nil, err
	}

	result.Processed = len(result.Results)
	return result, nil
}

// sweepOverdueTasks applies each node's timeoutAction to PENDING tasks past
// their deadline.
func (s *TimeoutService) sweepOverdueTasks(ctx context.Context, result *SweepResult) error {
	overdue, err := s.tasks.ListOverduePending(ctx, s.now(), overdueBatchSize)
	if err != nil {
		return err
	}

	for _, task := range overdue {
		item := s.handleOverdueTask(ctx, task)
		if item.Err != "" {
			s.log.Warn().
				Str("task_id", item.TaskID).
				Str("action", item.Action).
				Str("error", item.Err).
				Msg("Timeout sweep item failed")
		}
		result.Results = append(result.Results, item)
	}
	return nil
}

func (s *TimeoutService) handleOverdueTask(ctx context.Context, task *repository.Task) SweepItem {
	node, err := s.flows.GetNode(ctx, task.NodeID)
	if err != nil {
		return SweepItem{TaskID: task.ID, Action: "lookup", Err: err.Error()}
	}

	action := node.TimeoutAction
	if action == "" {
		action = repository.TimeoutActionRemind
	}
	item := SweepItem{TaskID: task.ID, Action: string(action)}

	switch action {
	case repository.TimeoutActionAutoApprove:
		comment := fmt.Sprintf("auto-approved: no action before deadline %s", task.TimeoutAt.Format(time.RFC3339))
		if _, err := s.engine.SystemProcess(ctx, task.ID, ActionApprove, comment); err != nil {
			item.Err = err.Error()
		}

	case repository.TimeoutActionAutoReject:
		if err := s.autoReject(ctx, task); err != nil {
			item.Err = err.Error()
		}

	case repository.TimeoutActionEscalate:
		until := s.now().Add(escalateExtension)
		if err := s.tasks.ExtendTimeout(ctx, task.ID, until, "escalated: deadline extended by 24h"); err != nil {
			item.Err = err.Error()
		} else {
			s.notifier.NotifyTaskEscalated(ctx, task)
		}

	case repository.TimeoutActionRemind:
		until := s.now().Add(remindExtension)
		if err := s.tasks.ExtendTimeout(ctx, task.ID, until, "reminder sent, deadline extended by 12h"); err != nil {
			item.Err = err.Error()
		} else {
			s.notifier.NotifyTaskReminder(ctx, task)
		}

	default:
		item.Err = "unknown timeout action " + string(action)
	}

	return item
}

// autoReject terminates the whole instance when an AUTO_REJECT deadline
// passes. Unlike a human rejection, the business document reverts to its
// pre-submit status rather than a rejected one.
func (s *TimeoutService) autoReject(ctx context.Context, task *repository.Task) error {
	var inst *repository.Instance

	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		fresh, err := s.tasks.GetByID(ctx, task.ID)
		if err != nil {
			return err
		}
		if fresh.Status != repository.TaskStatusPending {
			// Acted on between listing and handling; nothing to do.
			return nil
		}

		inst, err = s.instances.GetByID(ctx, fresh.ApprovalID)
		if err != nil {
			return err
		}
		if inst.Status != repository.InstanceStatusPending {
			inst = nil
			return nil
		}

		comment := "auto-rejected: no action before deadline"
		if err := s.tasks.UpdateAction(ctx, fresh.ID, repository.TaskStatusRejected, &comment); err != nil {
			return err
		}
		if err := s.tasks.CancelPending(ctx, inst.ID, "canceled after timeout auto-rejection"); err != nil {
			return err
		}
		if err := s.instances.Complete(ctx, inst.ID, repository.InstanceStatusRejected, s.now()); err != nil {
			return err
		}
		inst.Status = repository.InstanceStatusRejected
		return s.entities.Update(ctx, inst.EntityType, inst.EntityID, inst.TenantID, revertEntityStatus(inst.EntityType, inst.FlowCode))
	})
	if err != nil {
		return err
	}

	if inst != nil {
		s.notifier.NotifyTaskTimedOut(ctx, task)
		s.notifier.NotifyResult(ctx, inst)
	}
	return nil
}

// sweepTenantSLA enforces tenant-level policies: PAUSED tasks older than the
// auto-resume threshold are expired, PENDING tasks older than the
// auto-approve threshold are driven through normal approval.
func (s *TimeoutService) sweepTenantSLA(ctx context.Context, result *SweepResult) error {
	tenantIDs, err := s.tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		return err
	}

	for _, tenantID := range tenantIDs {
		settings, err := s.tenants.GetSettings(ctx, tenantID)
		if err != nil {
			s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Skipping tenant in SLA sweep")
			continue
		}

		pausedCutoff := s.now().Add(-time.Duration(settings.ApprovalAutoResumeHours) * time.Hour)
		paused, err := s.tasks.ListPausedBefore(ctx, tenantID, pausedCutoff)
		if err != nil {
			return err
		}
		for _, task := range paused {
			item := SweepItem{TaskID: task.ID, Action: "SLA_EXPIRE_PAUSED"}
			if err := s.tasks.MarkTimeout(ctx, task.ID); err != nil {
				item.Err = err.Error()
			} else {
				s.notifier.NotifyTaskTimedOut(ctx, task)
			}
			result.Results = append(result.Results, item)
		}

		approveCutoff := s.now().Add(-time.Duration(settings.ApprovalAutoApproveDays) * 24 * time.Hour)
		stale, err := s.tasks.ListPendingBefore(ctx, tenantID, approveCutoff)
		if err != nil {
			return err
		}
		for _, task := range stale {
			item := SweepItem{TaskID: task.ID, Action: "SLA_AUTO_APPROVE"}
			comment := fmt.Sprintf("auto-approved by tenant SLA policy (%d days)", settings.ApprovalAutoApproveDays)
			if _, err := s.engine.SystemProcess(ctx, task.ID, ActionApprove, comment); err != nil {
				item.Err = err.Error()
			}
			result.Results = append(result.Results, item)
		}
	}
	return nil
}
