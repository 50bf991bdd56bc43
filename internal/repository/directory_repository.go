package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// DirectoryRepository reads the tenant user directory: role membership and
// reporting lines. Read fresh at resolution time, never cached across a
// transaction, since membership can change between calls.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// UsersWithRole returns the ids of active tenant users holding the role.
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error) {
	query := `
		SELECT id
		FROM users
		WHERE tenant_id = $1 AND is_active = TRUE AND $2 = ANY(roles)
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, tenantID, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users with role")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ManagerOf returns the id of a user's manager, or nil when the user has
// no active manager on record.
func (r *DirectoryRepository) ManagerOf(ctx context.Context, tenantID, userID string) (*string, error) {
	query := `
		SELECT m.id
		FROM users u
		JOIN users m ON m.id = u.manager_id AND m.is_active = TRUE
		WHERE u.tenant_id = $1 AND u.id = $2
	`

	var managerID string
	err := r.db.QueryRow(ctx, query, tenantID, userID).Scan(&managerID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up manager")
	}
	return &managerID, nil
}
