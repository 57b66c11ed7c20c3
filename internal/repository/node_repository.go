package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/secret"
)

// NodeRepository defines domain-specific operations for nodes
type NodeRepository interface {
	Repository[domain.Node, int64]
	FindByUUID(ctx context.Context, uuid string) (domain.Node, error)
	FindByName(ctx context.Context, name string) (domain.Node, error)
	WithTx(tx *sql.Tx) NodeRepository
}

// nodeRepositoryImpl implements NodeRepository. The daemon token is
// encrypted on write and decrypted on read.
type nodeRepositoryImpl struct {
	conn
	codec secret.Codec
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(db *sql.DB, codec secret.Codec) NodeRepository {
	return &nodeRepositoryImpl{conn: conn{db: db}, codec: codec}
}

// WithTx returns a copy of the repository bound to tx
func (r *nodeRepositoryImpl) WithTx(tx *sql.Tx) NodeRepository {
	return &nodeRepositoryImpl{conn: conn{db: r.db, tx: tx}, codec: r.codec}
}

const nodeColumns = `id, uuid, name, fqdn, scheme, behind_proxy, maintenance_mode,
	memory, memory_overallocate, disk, disk_overallocate, upload_size,
	daemon_listen, daemon_sftp, daemon_base, daemon_token_id, daemon_token`

// Save creates or updates a node
func (r *nodeRepositoryImpl) Save(ctx context.Context, node domain.Node) (domain.Node, error) {
	if node.Name == "" || node.FQDN == "" || node.DaemonTokenID == "" {
		return domain.Node{}, fmt.Errorf("node requires name, fqdn and token id: %w", ErrInvalidEntity)
	}

	sealed, err := r.codec.Encrypt(node.DaemonToken)
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to encrypt daemon token: %w", err)
	}

	if node.ID == 0 {
		if node.UUID == "" {
			node.UUID = uuid.NewString()
		}
		result, err := r.q().ExecContext(ctx, `
			INSERT INTO nodes (uuid, name, fqdn, scheme, behind_proxy, maintenance_mode,
				memory, memory_overallocate, disk, disk_overallocate, upload_size,
				daemon_listen, daemon_sftp, daemon_base, daemon_token_id, daemon_token)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			node.UUID, node.Name, node.FQDN, node.Scheme, node.BehindProxy, node.MaintenanceMode,
			node.Memory, node.MemoryOverallocate, node.Disk, node.DiskOverallocate, node.UploadSize,
			node.DaemonListen, node.DaemonSFTP, node.DaemonBase, node.DaemonTokenID, sealed)
		if err != nil {
			return domain.Node{}, fmt.Errorf("failed to create node: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Node{}, fmt.Errorf("failed to get node ID: %w", err)
		}
		node.ID = id
		return node, nil
	}

	result, err := r.q().ExecContext(ctx, `
		UPDATE nodes SET name = ?, fqdn = ?, scheme = ?, behind_proxy = ?, maintenance_mode = ?,
			memory = ?, memory_overallocate = ?, disk = ?, disk_overallocate = ?, upload_size = ?,
			daemon_listen = ?, daemon_sftp = ?, daemon_base = ?, daemon_token_id = ?, daemon_token = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		node.Name, node.FQDN, node.Scheme, node.BehindProxy, node.MaintenanceMode,
		node.Memory, node.MemoryOverallocate, node.Disk, node.DiskOverallocate, node.UploadSize,
		node.DaemonListen, node.DaemonSFTP, node.DaemonBase, node.DaemonTokenID, sealed, node.ID)
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to update node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.Node{}, fmt.Errorf("node with ID %d: %w", node.ID, ErrNotFound)
	}
	return node, nil
}

// FindByID retrieves a node by its ID
func (r *nodeRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Node, error) {
	row := r.q().QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)
	node, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, fmt.Errorf("node with ID %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to find node: %w", err)
	}
	return node, nil
}

// FindByUUID retrieves a node by its UUID
func (r *nodeRepositoryImpl) FindByUUID(ctx context.Context, id string) (domain.Node, error) {
	row := r.q().QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE uuid = ?", id)
	node, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, fmt.Errorf("node with UUID %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to find node by UUID: %w", err)
	}
	return node, nil
}

// FindByName retrieves a node by its name
func (r *nodeRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Node, error) {
	row := r.q().QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE name = ?", name)
	node, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, fmt.Errorf("node with name %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to find node by name: %w", err)
	}
	return node, nil
}

// FindAll retrieves all nodes
func (r *nodeRepositoryImpl) FindAll(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.q().QueryContext(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		node, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// DeleteByID removes a node by its ID. Allocations and mount attachments go
// with it; servers must be removed first.
func (r *nodeRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.q().ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("node with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// ExistsByID checks if a node exists by its ID
func (r *nodeRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check node existence: %w", err)
	}
	return count > 0, nil
}

func (r *nodeRepositoryImpl) scan(row scanner) (domain.Node, error) {
	var node domain.Node
	var sealed string
	err := row.Scan(&node.ID, &node.UUID, &node.Name, &node.FQDN, &node.Scheme,
		&node.BehindProxy, &node.MaintenanceMode,
		&node.Memory, &node.MemoryOverallocate, &node.Disk, &node.DiskOverallocate, &node.UploadSize,
		&node.DaemonListen, &node.DaemonSFTP, &node.DaemonBase, &node.DaemonTokenID, &sealed)
	if err != nil {
		return domain.Node{}, err
	}
	node.DaemonToken, err = r.codec.Decrypt(sealed)
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to decrypt daemon token for node %d: %w", node.ID, err)
	}
	return node, nil
}
