package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/paddock/internal/domain"
)

// ServerRepository defines domain-specific operations for servers
type ServerRepository interface {
	Repository[domain.Server, int64]
	WithTx(tx *sql.Tx) ServerRepository
	FindByUUID(ctx context.Context, uuid string) (domain.Server, error)
	FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Server, error)
	CountByNodeID(ctx context.Context, nodeID int64) (int, error)
	UsageByNodeID(ctx context.Context, nodeID int64) (domain.NodeUsage, error)
	FindVariables(ctx context.Context, serverID int64) ([]domain.ServerVariable, error)
	SaveVariables(ctx context.Context, serverID int64, values map[string]string) error
}

// serverRepositoryImpl implements ServerRepository
type serverRepositoryImpl struct {
	conn
}

// NewServerRepository creates a new server repository
func NewServerRepository(db *sql.DB) ServerRepository {
	return &serverRepositoryImpl{conn: conn{db: db}}
}

// WithTx returns a copy of the repository bound to tx
func (r *serverRepositoryImpl) WithTx(tx *sql.Tx) ServerRepository {
	return &serverRepositoryImpl{conn: conn{db: r.db, tx: tx}}
}

const serverColumns = `id, uuid, uuid_short, name, description, node_id, owner_id, egg_id,
	allocation_id, pack_uuid, memory, swap, disk, io, cpu, threads, oom_disabled,
	startup, image, skip_scripts`

// Save creates or updates a server. UUIDs are generated on create when unset.
func (r *serverRepositoryImpl) Save(ctx context.Context, s domain.Server) (domain.Server, error) {
	if s.Name == "" || s.NodeID == 0 || s.EggID == 0 || s.AllocationID == 0 {
		return domain.Server{}, fmt.Errorf("server requires name, node, egg and allocation: %w", ErrInvalidEntity)
	}

	if s.ID == 0 {
		if s.UUID == "" {
			s.UUID = uuid.NewString()
		}
		if s.UUIDShort == "" {
			s.UUIDShort = strings.SplitN(s.UUID, "-", 2)[0]
		}
		result, err := r.q().ExecContext(ctx, `
			INSERT INTO servers (uuid, uuid_short, name, description, node_id, owner_id, egg_id,
				allocation_id, pack_uuid, memory, swap, disk, io, cpu, threads, oom_disabled,
				startup, image, skip_scripts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.UUID, s.UUIDShort, s.Name, s.Description, s.NodeID, s.OwnerID, s.EggID,
			s.AllocationID, nullString(s.PackUUID), s.Memory, s.Swap, s.Disk, s.IO, s.CPU, s.Threads, s.OOMDisabled,
			s.Startup, s.Image, s.SkipScripts)
		if err != nil {
			return domain.Server{}, fmt.Errorf("failed to create server: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Server{}, fmt.Errorf("failed to get server ID: %w", err)
		}
		s.ID = id
		return s, nil
	}

	result, err := r.q().ExecContext(ctx, `
		UPDATE servers SET name = ?, description = ?, owner_id = ?, egg_id = ?, allocation_id = ?,
			pack_uuid = ?, memory = ?, swap = ?, disk = ?, io = ?, cpu = ?, threads = ?, oom_disabled = ?,
			startup = ?, image = ?, skip_scripts = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		s.Name, s.Description, s.OwnerID, s.EggID, s.AllocationID,
		nullString(s.PackUUID), s.Memory, s.Swap, s.Disk, s.IO, s.CPU, s.Threads, s.OOMDisabled,
		s.Startup, s.Image, s.SkipScripts, s.ID)
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to update server: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.Server{}, fmt.Errorf("server with ID %d: %w", s.ID, ErrNotFound)
	}
	return s, nil
}

// FindByID retrieves a server by its ID
func (r *serverRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Server, error) {
	row := r.q().QueryRowContext(ctx, "SELECT "+serverColumns+" FROM servers WHERE id = ?", id)
	s, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Server{}, fmt.Errorf("server with ID %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to find server: %w", err)
	}
	return s, nil
}

// FindByUUID retrieves a server by its UUID
func (r *serverRepositoryImpl) FindByUUID(ctx context.Context, id string) (domain.Server, error) {
	row := r.q().QueryRowContext(ctx, "SELECT "+serverColumns+" FROM servers WHERE uuid = ?", id)
	s, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Server{}, fmt.Errorf("server with UUID %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to find server by UUID: %w", err)
	}
	return s, nil
}

// FindAll retrieves all servers
func (r *serverRepositoryImpl) FindAll(ctx context.Context) ([]domain.Server, error) {
	return r.list(ctx, "SELECT "+serverColumns+" FROM servers ORDER BY id")
}

// FindByNodeID retrieves every server placed on a node
func (r *serverRepositoryImpl) FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Server, error) {
	return r.list(ctx, "SELECT "+serverColumns+" FROM servers WHERE node_id = ? ORDER BY id", nodeID)
}

// CountByNodeID counts the servers placed on a node
func (r *serverRepositoryImpl) CountByNodeID(ctx context.Context, nodeID int64) (int, error) {
	var count int
	err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM servers WHERE node_id = ?", nodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return count, nil
}

// UsageByNodeID sums the memory and disk of servers on a node
func (r *serverRepositoryImpl) UsageByNodeID(ctx context.Context, nodeID int64) (domain.NodeUsage, error) {
	var usage domain.NodeUsage
	err := r.q().QueryRowContext(ctx,
		"SELECT COALESCE(SUM(memory), 0), COALESCE(SUM(disk), 0) FROM servers WHERE node_id = ?", nodeID).
		Scan(&usage.Memory, &usage.Disk)
	if err != nil {
		return domain.NodeUsage{}, fmt.Errorf("failed to sum node usage: %w", err)
	}
	return usage, nil
}

// DeleteByID removes a server, releasing its allocations back to the pool
func (r *serverRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return r.atomic(ctx, func(q DBTX) error {
		if _, err := q.ExecContext(ctx,
			"UPDATE allocations SET server_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE server_id = ?", id); err != nil {
			return fmt.Errorf("failed to release allocations: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM server_variables WHERE server_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete server variables: %w", err)
		}
		result, err := q.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete server: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("server with ID %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ExistsByID checks if a server exists by its ID
func (r *serverRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM servers WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check server existence: %w", err)
	}
	return count > 0, nil
}

// FindVariables retrieves the environment values set on a server
func (r *serverRepositoryImpl) FindVariables(ctx context.Context, serverID int64) ([]domain.ServerVariable, error) {
	rows, err := r.q().QueryContext(ctx,
		"SELECT id, server_id, env_variable, value FROM server_variables WHERE server_id = ? ORDER BY env_variable", serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list server variables: %w", err)
	}
	defer rows.Close()

	var vars []domain.ServerVariable
	for rows.Next() {
		var v domain.ServerVariable
		if err := rows.Scan(&v.ID, &v.ServerID, &v.EnvVariable, &v.Value); err != nil {
			return nil, fmt.Errorf("failed to scan server variable: %w", err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// SaveVariables upserts environment values on a server
func (r *serverRepositoryImpl) SaveVariables(ctx context.Context, serverID int64, values map[string]string) error {
	return r.atomic(ctx, func(q DBTX) error {
		for name, value := range values {
			_, err := q.ExecContext(ctx, `
				INSERT INTO server_variables (server_id, env_variable, value) VALUES (?, ?, ?)
				ON CONFLICT (server_id, env_variable) DO UPDATE SET value = excluded.value`,
				serverID, name, value)
			if err != nil {
				return fmt.Errorf("failed to save server variable %s: %w", name, err)
			}
		}
		return nil
	})
}

func (r *serverRepositoryImpl) list(ctx context.Context, query string, args ...any) ([]domain.Server, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

func scanServer(row scanner) (domain.Server, error) {
	var s domain.Server
	var pack sql.NullString
	err := row.Scan(&s.ID, &s.UUID, &s.UUIDShort, &s.Name, &s.Description, &s.NodeID, &s.OwnerID, &s.EggID,
		&s.AllocationID, &pack, &s.Memory, &s.Swap, &s.Disk, &s.IO, &s.CPU, &s.Threads, &s.OOMDisabled,
		&s.Startup, &s.Image, &s.SkipScripts)
	if err != nil {
		return domain.Server{}, err
	}
	s.PackUUID = stringPtr(pack)
	return s, nil
}
