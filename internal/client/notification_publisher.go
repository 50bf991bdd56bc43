package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	natsclient "github.com/aurelia-erp/be-approvals/internal/common/nats"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: task_created, task_reminder, task_escalated, task_timed_out,
//              approval_result
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	TenantID     string         `json:"tenant_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// NotifyTaskCreated announces a newly assigned PENDING task to its approver.
func (p *NotificationPublisher) NotifyTaskCreated(ctx context.Context, task *repository.Task) {
	p.publish(ctx, "task_created", task.TenantID, []string{task.ApproverID}, "approval_task", task.ID, map[string]any{
		"approval_id": task.ApprovalID,
		"node_id":     task.NodeID,
	})
}

// NotifyTaskReminder nudges an approver about an overdue task.
func (p *NotificationPublisher) NotifyTaskReminder(ctx context.Context, task *repository.Task) {
	p.publish(ctx, "task_reminder", task.TenantID, []string{task.ApproverID}, "approval_task", task.ID, map[string]any{
		"approval_id": task.ApprovalID,
	})
}

// NotifyTaskEscalated signals that a task blew its deadline under an
// ESCALATE policy; the notification layer routes it up the chain.
func (p *NotificationPublisher) NotifyTaskEscalated(ctx context.Context, task *repository.Task) {
	p.publish(ctx, "task_escalated", task.TenantID, []string{task.ApproverID}, "approval_task", task.ID, map[string]any{
		"approval_id": task.ApprovalID,
		"node_id":     task.NodeID,
	})
}

// NotifyTaskTimedOut tells an approver their paused task expired under the
// tenant SLA.
func (p *NotificationPublisher) NotifyTaskTimedOut(ctx context.Context, task *repository.Task) {
	p.publish(ctx, "task_timed_out", task.TenantID, []string{task.ApproverID}, "approval_task", task.ID, nil)
}

// NotifyResult tells the requester their instance reached a terminal state.
func (p *NotificationPublisher) NotifyResult(ctx context.Context, inst *repository.Instance) {
	p.publish(ctx, "approval_result", inst.TenantID, []string{inst.RequesterID}, "approval_instance", inst.ID, map[string]any{
		"status":      string(inst.Status),
		"entity_type": string(inst.EntityType),
		"entity_id":   inst.EntityID,
	})
}

// publish marshals and sends one event, logging (not returning) failures.
func (p *NotificationPublisher) publish(ctx context.Context, eventType, tenantID string, recipients []string, resourceType, resourceID string, payload map[string]any) {
	if p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		TenantID:     tenantID,
		Recipients:   recipients,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IsActionable: true,
		Severity:     "info",
		Category:     "approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
