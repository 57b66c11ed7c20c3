package repository

import (
	"context"
	"database/sql"

	"github.com/jbweber/homelab/paddock/internal/secret"
)

// Repository defines the basic CRUD operations for any entity type.
// This follows a similar pattern to Spring Data's Repository interface.
type Repository[T any, ID comparable] interface {
	// Save creates or updates an entity
	Save(ctx context.Context, entity T) (T, error)

	// FindByID retrieves an entity by its ID
	// Returns ErrNotFound if the entity doesn't exist
	FindByID(ctx context.Context, id ID) (T, error)

	// FindAll retrieves all entities
	FindAll(ctx context.Context) ([]T, error)

	// DeleteByID deletes an entity by its ID
	// Returns ErrNotFound if the entity doesn't exist
	DeleteByID(ctx context.Context, id ID) error

	// ExistsByID checks if an entity exists by its ID
	ExistsByID(ctx context.Context, id ID) (bool, error)
}

// Repositories bundles every repository the panel services use
type Repositories struct {
	Nodes       NodeRepository
	Allocations AllocationRepository
	Servers     ServerRepository
	Eggs        EggRepository
	Mounts      MountRepository
}

// NewRepositories creates every repository over one pool
func NewRepositories(db *sql.DB, codec secret.Codec) Repositories {
	return Repositories{
		Nodes:       NewNodeRepository(db, codec),
		Allocations: NewAllocationRepository(db),
		Servers:     NewServerRepository(db),
		Eggs:        NewEggRepository(db),
		Mounts:      NewMountRepository(db),
	}
}
