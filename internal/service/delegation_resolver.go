package service

import (
	"context"
	"time"

	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// DelegationResolver substitutes an active delegate for a candidate
// approver. Resolution happens at the moment a task would be assigned, and
// always before the self-approval shortcut — delegating away must suppress
// auto-approval.
type DelegationResolver struct {
	delegations DelegationStore
}

// NewDelegationResolver creates a new DelegationResolver.
func NewDelegationResolver(delegations DelegationStore) *DelegationResolver {
	return &DelegationResolver{delegations: delegations}
}

// Resolve returns the effective approver for a candidate, plus the matched
// delegation when one redirected the assignment (nil otherwise).
func (r *DelegationResolver) Resolve(ctx context.Context, tenantID, candidateID, flowID string, now time.Time) (string, *repository.Delegation, error) {
	d, err := r.delegations.FindActive(ctx, tenantID, candidateID, flowID, now)
	if err != nil {
		return "", nil, err
	}
	if d == nil {
		return candidateID, nil, nil
	}
	return d.DelegateeID, d, nil
}
