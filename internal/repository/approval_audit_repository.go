package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit details")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (tenant_id, table_name, record_id, action, user_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.TenantID,
		entry.TableName,
		entry.RecordID,
		entry.Action,
		entry.UserID,
		detailsJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// ListByRecord returns the audit trail for one record ordered oldest-first.
func (r *AuditRepository) ListByRecord(ctx context.Context, tableName, recordID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, tenant_id, table_name, record_id, action, user_id,
		       details, performed_at
		FROM approval_audit_log
		WHERE table_name = $1 AND record_id = $2
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, tableName, recordID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *AuditRepository) scanEntry(rows pgx.Rows) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var detailsJSON []byte

	err := rows.Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.TableName,
		&entry.RecordID,
		&entry.Action,
		&entry.UserID,
		&detailsJSON,
		&entry.PerformedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit details")
		}
	}
	return entry, nil
}
