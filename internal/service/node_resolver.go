package service

import (
	"context"

	"github.com/samber/lo"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// NodeResolver decides which node a submission enters at and who the
// candidate approvers of a node are. Role membership is read fresh on every
// resolution — it can change between calls.
type NodeResolver struct {
	directory Directory
}

// NewNodeResolver creates a new NodeResolver.
func NewNodeResolver(directory Directory) *NodeResolver {
	return &NodeResolver{directory: directory}
}

// NodeMatches reports whether a node applies to the submission: the amount
// falls inside [min, max] (defaults 0 and unbounded) and every attached
// condition evaluates true against the payload.
func NodeMatches(node *repository.FlowNode, amount int64, payload map[string]any) bool {
	minAmount := int64(0)
	if node.MinAmount != nil {
		minAmount = *node.MinAmount
	}
	if amount < minAmount {
		return false
	}
	if node.MaxAmount != nil && amount > *node.MaxAmount {
		return false
	}
	return EvalConditions(node.Conditions, payload)
}

// MatchEntryNode returns the first node (lowest sort order) matching the
// submission, or a validation error when none does. There is no
// auto-approve fallback.
func MatchEntryNode(nodes []*repository.FlowNode, amount int64, payload map[string]any) (*repository.FlowNode, error) {
	for _, node := range nodes {
		if NodeMatches(node, amount, payload) {
			return node, nil
		}
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "no approval node matches the submitted amount and conditions")
}

// NextNode returns the node with the smallest sort order strictly greater
// than the current one, or nil at the end of the flow.
func NextNode(nodes []*repository.FlowNode, currentSortOrder int) *repository.FlowNode {
	var next *repository.FlowNode
	for _, node := range nodes {
		if node.SortOrder <= currentSortOrder {
			continue
		}
		if next == nil || node.SortOrder < next.SortOrder {
			next = node
		}
	}
	return next
}

// ResolveApprovers returns the candidate approver ids for a node. An empty
// result is a configuration error for the caller to surface — a node with
// no approvers must never auto-pass.
func (r *NodeResolver) ResolveApprovers(ctx context.Context, node *repository.FlowNode, tenantID, requesterID string) ([]string, error) {
	switch node.ApproverType {
	case repository.ApproverTypeUser:
		if node.ApproverUserID == nil || *node.ApproverUserID == "" {
			return nil, nil
		}
		return []string{*node.ApproverUserID}, nil

	case repository.ApproverTypeRole:
		if node.ApproverRole == nil || *node.ApproverRole == "" {
			return nil, nil
		}
		users, err := r.directory.UsersWithRole(ctx, tenantID, *node.ApproverRole)
		if err != nil {
			return nil, err
		}
		return lo.Uniq(users), nil

	case repository.ApproverTypeCreatorManager:
		manager, err := r.directory.ManagerOf(ctx, tenantID, requesterID)
		if err != nil {
			return nil, err
		}
		if manager == nil {
			return nil, nil
		}
		return []string{*manager}, nil
	}

	return nil, errors.New(errors.ErrCodeInvalidInput, "unknown approver type "+string(node.ApproverType))
}
