// Package entity writes approval outcomes back to the business documents.
// Each document kind gets its own updater; the engine only ever sees the
// registry and the single status field it sets.
package entity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// Updater applies a status transition to one kind of business document.
type Updater interface {
	Update(ctx context.Context, entityID, tenantID string, status repository.EntityStatus) error
}

// Registry dispatches status write-backs by entity type.
type Registry struct {
	updaters map[repository.EntityType]Updater
	log      *logger.Logger
}

// NewRegistry builds the registry with one updater per supported kind.
func NewRegistry(db *database.DB, log *logger.Logger) *Registry {
	return &Registry{
		updaters: map[repository.EntityType]Updater{
			repository.EntityTypeQuote:       &quoteUpdater{db: db},
			repository.EntityTypeOrder:       &orderUpdater{db: db},
			repository.EntityTypeReceiptBill: &receiptBillUpdater{db: db, log: log},
			repository.EntityTypeMeasureTask: &measureTaskUpdater{db: db},
			repository.EntityTypeLeadRestore: &leadRestoreUpdater{db: db},
		},
		log: log,
	}
}

// Update routes the transition to the kind-specific updater.
func (r *Registry) Update(ctx context.Context, entityType repository.EntityType, entityID, tenantID string, status repository.EntityStatus) error {
	u, ok := r.updaters[entityType]
	if !ok {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("no status updater for entity type %s", entityType))
	}
	return u.Update(ctx, entityID, tenantID, status)
}

// updateStatus is the shared single-column write used by the simple kinds.
func updateStatus(ctx context.Context, db *database.DB, table, entityID, tenantID string, status repository.EntityStatus) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status     = $3,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING id
	`, table)

	var returnedID string
	err := db.QueryRow(ctx, query, entityID, tenantID, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound(table, entityID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update "+table+" status")
	}
	return nil
}

// ── Quote ────────────────────────────────────────────────────────────────────

type quoteUpdater struct {
	db *database.DB
}

func (u *quoteUpdater) Update(ctx context.Context, entityID, tenantID string, status repository.EntityStatus) error {
	return updateStatus(ctx, u.db, "quotes", entityID, tenantID, status)
}

// ── Order ────────────────────────────────────────────────────────────────────

// orderUpdater locks the order when a cancellation approval lands, so no
// further edits or shipments can be recorded against it.
type orderUpdater struct {
	db *database.DB
}

func (u *orderUpdater) Update(ctx context.Context, entityID, tenantID string, status repository.EntityStatus) error {
	query := `
		UPDATE orders
		SET status     = $3,
		    is_locked  = (CASE WHEN $3 = 'CANCELLED' THEN TRUE ELSE is_locked END),
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING id
	`

	var returnedID string
	err := u.db.QueryRow(ctx, query, entityID, tenantID, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("orders", entityID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order status")
	}
	return nil
}

// ── Receipt bill ─────────────────────────────────────────────────────────────

// receiptBillUpdater stamps confirmed_at when a receipt bill is approved,
// which downstream reconciliation reads as "funds confirmed".
type receiptBillUpdater struct {
	db  *database.DB
	log *logger.Logger
}

func (u *receiptBillUpdater) Update(ctx context.Context, entityID, tenantID string, status repository.EntityStatus) error {
	if err := updateStatus(ctx, u.db, "receipt_bills", entityID, tenantID, status); err != nil {
		return err
	}
	if status != repository.EntityStatusApproved {
		return nil
	}

	query := `
		UPDATE receipt_bills
		SET confirmed_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND confirmed_at IS NULL
	`
	if _, err := u.db.Exec(ctx, query, entityID, tenantID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to stamp receipt confirmation")
	}
	u.log.Info().Str("receipt_bill_id", entityID).Msg("Receipt bill confirmed after approval")
	return nil
}

// ── Measurement task ─────────────────────────────────────────────────────────

type measureTaskUpdater struct {
	db *database.DB
}

func (u *measureTaskUpdater) Update(ctx context.Context, entityID, tenantID string, status repository.EntityStatus) error {
	return updateStatus(ctx, u.db, "measure_tasks", entityID, tenantID, status)
}

// ── Lead restoration ─────────────────────────────────────────────────────────

// leadRestoreUpdater handles the RESTORED sentinel: the lead goes back to
// whatever status it held before it was voided, read from its status history.
type leadRestoreUpdater struct {
	db *database.DB
}

func (u *leadRestoreUpdater) Update(ctx context.Context, entityID, tenantID string, status repository.EntityStatus) error {
	if status != repository.EntityStatusRestored {
		return updateStatus(ctx, u.db, "leads", entityID, tenantID, status)
	}

	historyQuery := `
		SELECT from_status
		FROM lead_status_history
		WHERE lead_id = $1 AND tenant_id = $2 AND to_status = 'VOID'
		ORDER BY changed_at DESC
		LIMIT 1
	`

	var previousStatus string
	err := u.db.QueryRow(ctx, historyQuery, entityID, tenantID).Scan(&previousStatus)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "lead has no void record to restore from")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read lead status history")
	}

	return updateStatus(ctx, u.db, "leads", entityID, tenantID, repository.EntityStatus(previousStatus))
}
