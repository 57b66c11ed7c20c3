package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/ports"
)

// AllocationRepository manages ip:port pairs and their assignment to servers.
//
// Reservation is two-phase: ReserveExisting checks availability before a
// server exists, then EnsureFree and Claim run inside the transaction that
// creates the server. Claim only assigns rows that are still unowned, so two
// creators racing for the same pair cannot both win.
type AllocationRepository interface {
	Repository[domain.Allocation, int64]
	WithTx(tx *sql.Tx) AllocationRepository
	FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Allocation, error)
	FindByServerID(ctx context.Context, serverID int64) ([]domain.Allocation, error)
	CreateFromPorts(ctx context.Context, nodeID int64, ip string, alias *string, tokens []string) ([]domain.Allocation, error)
	ReserveExisting(ctx context.Context, nodeID int64, ids []int64) ([]domain.Allocation, error)
	EnsureFree(ctx context.Context, nodeID int64, ids []int64) error
	Claim(ctx context.Context, serverID, nodeID int64, ids []int64) error
	Release(ctx context.Context, id int64) error
	ReleaseByServerID(ctx context.Context, serverID int64) error
}

// allocationRepositoryImpl implements AllocationRepository
type allocationRepositoryImpl struct {
	conn
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *sql.DB) AllocationRepository {
	return &allocationRepositoryImpl{conn: conn{db: db}}
}

// WithTx returns a copy of the repository bound to tx
func (r *allocationRepositoryImpl) WithTx(tx *sql.Tx) AllocationRepository {
	return &allocationRepositoryImpl{conn: conn{db: r.db, tx: tx}}
}

const allocationColumns = "id, node_id, ip, port, ip_alias, server_id"

// Save creates or updates a single allocation
func (r *allocationRepositoryImpl) Save(ctx context.Context, a domain.Allocation) (domain.Allocation, error) {
	if !isIPv4(a.IP) {
		return domain.Allocation{}, fmt.Errorf("allocation IP %q is not IPv4: %w", a.IP, ErrInvalidEntity)
	}
	if a.Port < ports.MinPort || a.Port > ports.MaxPort {
		return domain.Allocation{}, fmt.Errorf("allocation port %d out of range: %w", a.Port, ErrInvalidEntity)
	}

	if a.ID == 0 {
		result, err := r.q().ExecContext(ctx,
			"INSERT INTO allocations (node_id, ip, port, ip_alias, server_id) VALUES (?, ?, ?, ?, ?)",
			a.NodeID, a.IP, a.Port, nullString(a.IPAlias), nullInt64(a.ServerID))
		if err != nil {
			return domain.Allocation{}, fmt.Errorf("failed to create allocation: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Allocation{}, fmt.Errorf("failed to get allocation ID: %w", err)
		}
		a.ID = id
		return a, nil
	}

	result, err := r.q().ExecContext(ctx, `
		UPDATE allocations SET ip = ?, port = ?, ip_alias = ?, server_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		a.IP, a.Port, nullString(a.IPAlias), nullInt64(a.ServerID), a.ID)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("failed to update allocation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.Allocation{}, fmt.Errorf("allocation with ID %d: %w", a.ID, ErrNotFound)
	}
	return a, nil
}

// FindByID retrieves an allocation by its ID
func (r *allocationRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Allocation, error) {
	row := r.q().QueryRowContext(ctx, "SELECT "+allocationColumns+" FROM allocations WHERE id = ?", id)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Allocation{}, fmt.Errorf("allocation with ID %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("failed to find allocation: %w", err)
	}
	return a, nil
}

// FindAll retrieves all allocations
func (r *allocationRepositoryImpl) FindAll(ctx context.Context) ([]domain.Allocation, error) {
	return r.list(ctx, "SELECT "+allocationColumns+" FROM allocations ORDER BY node_id, ip, port")
}

// FindByNodeID retrieves every allocation on a node
func (r *allocationRepositoryImpl) FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Allocation, error) {
	return r.list(ctx, "SELECT "+allocationColumns+" FROM allocations WHERE node_id = ? ORDER BY ip, port", nodeID)
}

// FindByServerID retrieves the allocations a server owns
func (r *allocationRepositoryImpl) FindByServerID(ctx context.Context, serverID int64) ([]domain.Allocation, error) {
	return r.list(ctx, "SELECT "+allocationColumns+" FROM allocations WHERE server_id = ? ORDER BY id", serverID)
}

// DeleteByID removes a free allocation. Assigned allocations return ErrInUse.
func (r *allocationRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.q().ExecContext(ctx, "DELETE FROM allocations WHERE id = ? AND server_id IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete allocation: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	exists, err := r.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("allocation with ID %d is assigned: %w", id, ErrInUse)
	}
	return fmt.Errorf("allocation with ID %d: %w", id, ErrNotFound)
}

// ExistsByID checks if an allocation exists by its ID
func (r *allocationRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM allocations WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check allocation existence: %w", err)
	}
	return count > 0, nil
}

// CreateFromPorts normalizes port tokens and inserts one free allocation per
// port on ip. Pairs that already exist are left untouched. It returns every
// allocation now present for the requested ports.
func (r *allocationRepositoryImpl) CreateFromPorts(ctx context.Context, nodeID int64, ip string, alias *string, tokens []string) ([]domain.Allocation, error) {
	if !isIPv4(ip) {
		return nil, apperr.Validation(fmt.Sprintf("invalid IPv4 address %q", ip), "allocations are created on a single IPv4 address")
	}

	normalized := ports.Normalize(tokens)
	if len(normalized.Ports) == 0 {
		return nil, apperr.Validation("no valid ports given", "use single ports like 25565 or ranges like 25565-25570")
	}

	wanted := make(map[int]struct{}, len(normalized.Ports))
	for _, p := range normalized.Ports {
		wanted[p] = struct{}{}
	}

	var created []domain.Allocation
	err := r.atomic(ctx, func(q DBTX) error {
		var count int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes WHERE id = ?", nodeID).Scan(&count); err != nil {
			return fmt.Errorf("failed to check node existence: %w", err)
		}
		if count == 0 {
			return apperr.Newf(apperr.KindNotFound, "node %d not found", nodeID)
		}

		for _, p := range normalized.Ports {
			_, err := q.ExecContext(ctx, `
				INSERT INTO allocations (node_id, ip, port, ip_alias) VALUES (?, ?, ?, ?)
				ON CONFLICT (node_id, ip, port) DO NOTHING`,
				nodeID, ip, p, nullString(alias))
			if err != nil {
				return fmt.Errorf("failed to create allocation %s:%d: %w", ip, p, err)
			}
		}

		// Filtered in Go: a 65536-port range exceeds SQLite's bound parameter limit.
		rows, err := q.QueryContext(ctx,
			"SELECT "+allocationColumns+" FROM allocations WHERE node_id = ? AND ip = ? ORDER BY port", nodeID, ip)
		if err != nil {
			return fmt.Errorf("failed to list allocations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAllocation(rows)
			if err != nil {
				return fmt.Errorf("failed to scan allocation: %w", err)
			}
			if _, ok := wanted[a.Port]; ok {
				created = append(created, a)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ReserveExisting checks that every id names a free allocation on nodeID and
// returns them in request order.
func (r *allocationRepositoryImpl) ReserveExisting(ctx context.Context, nodeID int64, ids []int64) ([]domain.Allocation, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("at least one allocation is required", "")
	}

	reserved := make([]domain.Allocation, 0, len(ids))
	for _, id := range ids {
		a, err := r.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Newf(apperr.KindAllocationUnavailable, "allocation %d does not exist", id)
		}
		if err != nil {
			return nil, err
		}
		if a.NodeID != nodeID {
			return nil, apperr.Newf(apperr.KindAllocationUnavailable, "allocation %d does not belong to node %d", id, nodeID)
		}
		if a.Assigned() {
			return nil, apperr.Newf(apperr.KindAllocationUnavailable, "allocation %d is already assigned", id)
		}
		reserved = append(reserved, a)
	}
	return reserved, nil
}

// EnsureFree re-checks inside the claiming transaction that no other server
// took any of ids since they were reserved.
func (r *allocationRepositoryImpl) EnsureFree(ctx context.Context, nodeID int64, ids []int64) error {
	for _, id := range ids {
		var serverID sql.NullInt64
		err := r.q().QueryRowContext(ctx,
			"SELECT server_id FROM allocations WHERE id = ? AND node_id = ?", id, nodeID).Scan(&serverID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Newf(apperr.KindAllocationConflict, "allocation %d was removed from node %d", id, nodeID)
		}
		if err != nil {
			return fmt.Errorf("failed to check allocation %d: %w", id, err)
		}
		if serverID.Valid {
			return apperr.Newf(apperr.KindAllocationConflict, "allocation %d was claimed by server %d", id, serverID.Int64)
		}
	}
	return nil
}

// Claim assigns ids to serverID. An allocation that is no longer free on
// nodeID fails the whole claim with an allocation conflict.
func (r *allocationRepositoryImpl) Claim(ctx context.Context, serverID, nodeID int64, ids []int64) error {
	return r.atomic(ctx, func(q DBTX) error {
		for _, id := range ids {
			result, err := q.ExecContext(ctx, `
				UPDATE allocations SET server_id = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND node_id = ? AND server_id IS NULL`,
				serverID, id, nodeID)
			if err != nil {
				return fmt.Errorf("failed to claim allocation %d: %w", id, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to claim allocation %d: %w", id, err)
			}
			if n != 1 {
				return apperr.Newf(apperr.KindAllocationConflict, "allocation %d is no longer available", id)
			}
		}
		return nil
	})
}

// Release returns an allocation to the free pool
func (r *allocationRepositoryImpl) Release(ctx context.Context, id int64) error {
	result, err := r.q().ExecContext(ctx,
		"UPDATE allocations SET server_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to release allocation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("allocation with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// ReleaseByServerID frees every allocation a server owns
func (r *allocationRepositoryImpl) ReleaseByServerID(ctx context.Context, serverID int64) error {
	_, err := r.q().ExecContext(ctx,
		"UPDATE allocations SET server_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE server_id = ?", serverID)
	if err != nil {
		return fmt.Errorf("failed to release allocations of server %d: %w", serverID, err)
	}
	return nil
}

func (r *allocationRepositoryImpl) list(ctx context.Context, query string, args ...any) ([]domain.Allocation, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []domain.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func scanAllocation(row scanner) (domain.Allocation, error) {
	var a domain.Allocation
	var alias sql.NullString
	var serverID sql.NullInt64
	if err := row.Scan(&a.ID, &a.NodeID, &a.IP, &a.Port, &alias, &serverID); err != nil {
		return domain.Allocation{}, err
	}
	a.IPAlias = stringPtr(alias)
	a.ServerID = int64Ptr(serverID)
	return a, nil
}

func isIPv4(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	return err == nil && addr.Is4()
}
