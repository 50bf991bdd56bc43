package handler

import (
	"encoding/json"
	"net/http"

	"github.com/aurelia-erp/be-approvals/internal/common/auth"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/repository"
	"github.com/aurelia-erp/be-approvals/internal/service"
)

// HTTPHandler exposes the approval engine over HTTP. Every response uses the
// {success, ...} envelope; failures carry {success:false, error}.
type HTTPHandler struct {
	engine    *service.ApprovalEngine
	publisher *service.FlowPublishService
	timeouts  *service.TimeoutService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	engine *service.ApprovalEngine,
	publisher *service.FlowPublishService,
	timeouts *service.TimeoutService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		publisher: publisher,
		timeouts:  timeouts,
		log:       log,
	}
}

// Register wires all approval routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals/submit", h.SubmitApproval)
	mux.HandleFunc("/api/v1/approvals/process", h.ProcessApproval)
	mux.HandleFunc("/api/v1/approvals/add-approver", h.AddApprover)
	mux.HandleFunc("/api/v1/approvals/withdraw", h.WithdrawApproval)
	mux.HandleFunc("/api/v1/approvals/revoke", h.RevokeApproval)
	mux.HandleFunc("/api/v1/approvals/tasks/pause", h.PauseTask)
	mux.HandleFunc("/api/v1/approvals/tasks/resume", h.ResumeTask)
	mux.HandleFunc("/api/v1/approvals/pending", h.ListPending)
	mux.HandleFunc("/api/v1/approvals/instance", h.GetInstance)
	mux.HandleFunc("/api/v1/approvals/audit", h.GetAuditTrail)
	mux.HandleFunc("/api/v1/flows/publish", h.PublishFlow)
	mux.HandleFunc("/api/v1/timeouts/run", h.RunTimeouts)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode HTTP response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, errors.HTTPStatus(err), map[string]any{
		"success": false,
		"error":   errors.Message(err),
	})
}

func (h *HTTPHandler) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		h.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"success": false,
			"error":   "method not allowed",
		})
		return false
	}
	return true
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.InvalidInput("body", "invalid request body")
	}
	return nil
}

// SubmitApproval starts an approval run for a business document.
func (h *HTTPHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		FlowCode   string         `json:"flowCode"`
		EntityType string         `json:"entityType"`
		EntityID   string         `json:"entityId"`
		Amount     int64          `json:"amount"`
		Payload    map[string]any `json:"payload"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.engine.Submit(r.Context(), uc.TenantID, uc.UserID, &service.SubmitApprovalRequest{
		FlowCode:   req.FlowCode,
		EntityType: repository.EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Amount:     req.Amount,
		Payload:    req.Payload,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"approvalId": result.ApprovalID,
	})
}

// ProcessApproval records an approve or reject decision on a task.
func (h *HTTPHandler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		TaskID  string  `json:"taskId"`
		Action  string  `json:"action"`
		Comment *string `json:"comment,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.engine.Process(r.Context(), uc.UserID, req.TaskID, service.ProcessAction(req.Action), req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   result.Message,
		"completed": result.Completed,
	})
}

// AddApprover inserts an ad-hoc co-approver next to a pending task.
func (h *HTTPHandler) AddApprover(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		TaskID       string  `json:"taskId"`
		TargetUserID string  `json:"targetUserId"`
		Comment      *string `json:"comment,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.engine.AddApprover(r.Context(), uc.UserID, req.TaskID, req.TargetUserID, req.Comment); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// WithdrawApproval cancels a pending instance on behalf of the requester.
func (h *HTTPHandler) WithdrawApproval(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		InstanceID string  `json:"instanceId"`
		Reason     *string `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.engine.Withdraw(r.Context(), uc.UserID, req.InstanceID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RevokeApproval rolls back an instance (requester) or a prior approval
// action (approver), depending on who calls it.
func (h *HTTPHandler) RevokeApproval(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		ApprovalID string `json:"approvalId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.engine.Revoke(r.Context(), uc.UserID, req.ApprovalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": result.Message,
	})
}

// PauseTask puts the caller's pending task on hold.
func (h *HTTPHandler) PauseTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.engine.PauseTask(r.Context(), uc.UserID, req.TaskID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ResumeTask returns the caller's paused task to pending.
func (h *HTTPHandler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.engine.ResumeTask(r.Context(), uc.UserID, req.TaskID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListPending returns the caller's open task queue.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	tasks, err := h.engine.GetPendingForUser(r.Context(), uc.TenantID, uc.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tasks":   tasks,
	})
}

// GetInstance returns one approval instance with its task list.
func (h *HTTPHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}

	instanceID := r.URL.Query().Get("id")
	if instanceID == "" {
		h.writeError(w, errors.InvalidInput("id", "instance id is required"))
		return
	}

	detail, err := h.engine.GetInstanceDetail(r.Context(), instanceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"instance": detail.Instance,
		"tasks":    detail.Tasks,
	})
}

// GetAuditTrail returns the audit entries recorded for an instance.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}

	instanceID := r.URL.Query().Get("id")
	if instanceID == "" {
		h.writeError(w, errors.InvalidInput("id", "instance id is required"))
		return
	}

	entries, err := h.engine.GetAuditTrail(r.Context(), instanceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
	})
}

// PublishFlow flattens a designer graph and activates it as the tenant's
// flow for its code.
func (h *HTTPHandler) PublishFlow(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req service.PublishFlowRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	flow, err := h.publisher.Publish(r.Context(), uc.TenantID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"flowId":  flow.ID,
	})
}

// RunTimeouts triggers the timeout and SLA sweeps on demand. The sweeps also
// run on the background ticker; this endpoint exists for operators.
func (h *HTTPHandler) RunTimeouts(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := h.timeouts.ProcessTimeouts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": result.Processed,
		"results":   result.Results,
	})
}
