package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/paddock/internal/domain"
)

// MountRepository defines domain-specific operations for mounts
type MountRepository interface {
	Repository[domain.Mount, int64]
	FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Mount, error)
	Attach(ctx context.Context, mountID, nodeID int64) error
	Detach(ctx context.Context, mountID, nodeID int64) error
}

// mountRepositoryImpl implements MountRepository
type mountRepositoryImpl struct {
	conn
}

// NewMountRepository creates a new mount repository
func NewMountRepository(db *sql.DB) MountRepository {
	return &mountRepositoryImpl{conn: conn{db: db}}
}

// Save creates or updates a mount
func (r *mountRepositoryImpl) Save(ctx context.Context, m domain.Mount) (domain.Mount, error) {
	if m.Name == "" || m.Source == "" || m.Target == "" {
		return domain.Mount{}, fmt.Errorf("mount requires name, source and target: %w", ErrInvalidEntity)
	}

	if m.ID == 0 {
		if m.UUID == "" {
			m.UUID = uuid.NewString()
		}
		result, err := r.q().ExecContext(ctx,
			"INSERT INTO mounts (uuid, name, source, target, read_only) VALUES (?, ?, ?, ?, ?)",
			m.UUID, m.Name, m.Source, m.Target, m.ReadOnly)
		if err != nil {
			return domain.Mount{}, fmt.Errorf("failed to create mount: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Mount{}, fmt.Errorf("failed to get mount ID: %w", err)
		}
		m.ID = id
		return m, nil
	}

	result, err := r.q().ExecContext(ctx,
		"UPDATE mounts SET name = ?, source = ?, target = ?, read_only = ? WHERE id = ?",
		m.Name, m.Source, m.Target, m.ReadOnly, m.ID)
	if err != nil {
		return domain.Mount{}, fmt.Errorf("failed to update mount: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.Mount{}, fmt.Errorf("mount with ID %d: %w", m.ID, ErrNotFound)
	}
	return m, nil
}

// FindByID retrieves a mount by its ID
func (r *mountRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Mount, error) {
	var m domain.Mount
	err := r.q().QueryRowContext(ctx,
		"SELECT id, uuid, name, source, target, read_only FROM mounts WHERE id = ?", id).
		Scan(&m.ID, &m.UUID, &m.Name, &m.Source, &m.Target, &m.ReadOnly)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mount{}, fmt.Errorf("mount with ID %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Mount{}, fmt.Errorf("failed to find mount: %w", err)
	}
	return m, nil
}

// FindAll retrieves all mounts
func (r *mountRepositoryImpl) FindAll(ctx context.Context) ([]domain.Mount, error) {
	return r.list(ctx, "SELECT id, uuid, name, source, target, read_only FROM mounts ORDER BY id")
}

// FindByNodeID retrieves the mounts attached to a node
func (r *mountRepositoryImpl) FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Mount, error) {
	return r.list(ctx, `
		SELECT m.id, m.uuid, m.name, m.source, m.target, m.read_only
		FROM mounts m JOIN mount_node mn ON mn.mount_id = m.id
		WHERE mn.node_id = ? ORDER BY m.id`, nodeID)
}

// Attach makes a mount available on a node
func (r *mountRepositoryImpl) Attach(ctx context.Context, mountID, nodeID int64) error {
	_, err := r.q().ExecContext(ctx,
		"INSERT INTO mount_node (mount_id, node_id) VALUES (?, ?) ON CONFLICT DO NOTHING", mountID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to attach mount %d to node %d: %w", mountID, nodeID, err)
	}
	return nil
}

// Detach removes a mount from a node
func (r *mountRepositoryImpl) Detach(ctx context.Context, mountID, nodeID int64) error {
	_, err := r.q().ExecContext(ctx, "DELETE FROM mount_node WHERE mount_id = ? AND node_id = ?", mountID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to detach mount %d from node %d: %w", mountID, nodeID, err)
	}
	return nil
}

// DeleteByID removes a mount by its ID
func (r *mountRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.q().ExecContext(ctx, "DELETE FROM mounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete mount: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mount with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// ExistsByID checks if a mount exists by its ID
func (r *mountRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM mounts WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check mount existence: %w", err)
	}
	return count > 0, nil
}

func (r *mountRepositoryImpl) list(ctx context.Context, query string, args ...any) ([]domain.Mount, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mounts: %w", err)
	}
	defer rows.Close()

	var mounts []domain.Mount
	for rows.Next() {
		var m domain.Mount
		if err := rows.Scan(&m.ID, &m.UUID, &m.Name, &m.Source, &m.Target, &m.ReadOnly); err != nil {
			return nil, fmt.Errorf("failed to scan mount: %w", err)
		}
		mounts = append(mounts, m)
	}
	return mounts, rows.Err()
}
