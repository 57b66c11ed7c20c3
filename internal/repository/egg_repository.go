package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/paddock/internal/domain"
)

// EggRepository defines domain-specific operations for eggs
type EggRepository interface {
	Repository[domain.Egg, int64]
	WithTx(tx *sql.Tx) EggRepository
	FindVariables(ctx context.Context, eggID int64) ([]domain.EggVariable, error)
	SaveVariable(ctx context.Context, v domain.EggVariable) (domain.EggVariable, error)
}

// eggRepositoryImpl implements EggRepository
type eggRepositoryImpl struct {
	conn
}

// NewEggRepository creates a new egg repository
func NewEggRepository(db *sql.DB) EggRepository {
	return &eggRepositoryImpl{conn: conn{db: db}}
}

// WithTx returns a copy of the repository bound to tx
func (r *eggRepositoryImpl) WithTx(tx *sql.Tx) EggRepository {
	return &eggRepositoryImpl{conn: conn{db: r.db, tx: tx}}
}

// Save creates or updates an egg
func (r *eggRepositoryImpl) Save(ctx context.Context, egg domain.Egg) (domain.Egg, error) {
	if egg.Name == "" || egg.DockerImage == "" {
		return domain.Egg{}, fmt.Errorf("egg requires name and docker image: %w", ErrInvalidEntity)
	}

	if egg.ID == 0 {
		if egg.UUID == "" {
			egg.UUID = uuid.NewString()
		}
		result, err := r.q().ExecContext(ctx,
			"INSERT INTO eggs (uuid, name, service, docker_image, startup) VALUES (?, ?, ?, ?, ?)",
			egg.UUID, egg.Name, egg.Service, egg.DockerImage, egg.Startup)
		if err != nil {
			return domain.Egg{}, fmt.Errorf("failed to create egg: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Egg{}, fmt.Errorf("failed to get egg ID: %w", err)
		}
		egg.ID = id
		return egg, nil
	}

	result, err := r.q().ExecContext(ctx, `
		UPDATE eggs SET name = ?, service = ?, docker_image = ?, startup = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		egg.Name, egg.Service, egg.DockerImage, egg.Startup, egg.ID)
	if err != nil {
		return domain.Egg{}, fmt.Errorf("failed to update egg: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.Egg{}, fmt.Errorf("egg with ID %d: %w", egg.ID, ErrNotFound)
	}
	return egg, nil
}

// FindByID retrieves an egg by its ID
func (r *eggRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Egg, error) {
	var egg domain.Egg
	err := r.q().QueryRowContext(ctx,
		"SELECT id, uuid, name, service, docker_image, startup FROM eggs WHERE id = ?", id).
		Scan(&egg.ID, &egg.UUID, &egg.Name, &egg.Service, &egg.DockerImage, &egg.Startup)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Egg{}, fmt.Errorf("egg with ID %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Egg{}, fmt.Errorf("failed to find egg: %w", err)
	}
	return egg, nil
}

// FindAll retrieves all eggs
func (r *eggRepositoryImpl) FindAll(ctx context.Context) ([]domain.Egg, error) {
	rows, err := r.q().QueryContext(ctx, "SELECT id, uuid, name, service, docker_image, startup FROM eggs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list eggs: %w", err)
	}
	defer rows.Close()

	var eggs []domain.Egg
	for rows.Next() {
		var egg domain.Egg
		if err := rows.Scan(&egg.ID, &egg.UUID, &egg.Name, &egg.Service, &egg.DockerImage, &egg.Startup); err != nil {
			return nil, fmt.Errorf("failed to scan egg: %w", err)
		}
		eggs = append(eggs, egg)
	}
	return eggs, rows.Err()
}

// DeleteByID removes an egg. Eggs still used by servers return ErrInUse.
func (r *eggRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	var inUse int
	if err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM servers WHERE egg_id = ?", id).Scan(&inUse); err != nil {
		return fmt.Errorf("failed to check egg usage: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("egg with ID %d is used by %d servers: %w", id, inUse, ErrInUse)
	}

	result, err := r.q().ExecContext(ctx, "DELETE FROM eggs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete egg: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("egg with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// ExistsByID checks if an egg exists by its ID
func (r *eggRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM eggs WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check egg existence: %w", err)
	}
	return count > 0, nil
}

// FindVariables retrieves the variables an egg declares
func (r *eggRepositoryImpl) FindVariables(ctx context.Context, eggID int64) ([]domain.EggVariable, error) {
	rows, err := r.q().QueryContext(ctx,
		"SELECT id, egg_id, env_variable, default_value FROM egg_variables WHERE egg_id = ? ORDER BY env_variable", eggID)
	if err != nil {
		return nil, fmt.Errorf("failed to list egg variables: %w", err)
	}
	defer rows.Close()

	var vars []domain.EggVariable
	for rows.Next() {
		var v domain.EggVariable
		if err := rows.Scan(&v.ID, &v.EggID, &v.EnvVariable, &v.DefaultValue); err != nil {
			return nil, fmt.Errorf("failed to scan egg variable: %w", err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// SaveVariable creates or replaces a variable declaration by name
func (r *eggRepositoryImpl) SaveVariable(ctx context.Context, v domain.EggVariable) (domain.EggVariable, error) {
	if v.EnvVariable == "" {
		return domain.EggVariable{}, fmt.Errorf("egg variable requires a name: %w", ErrInvalidEntity)
	}
	err := r.q().QueryRowContext(ctx, `
		INSERT INTO egg_variables (egg_id, env_variable, default_value) VALUES (?, ?, ?)
		ON CONFLICT (egg_id, env_variable) DO UPDATE SET default_value = excluded.default_value
		RETURNING id`,
		v.EggID, v.EnvVariable, v.DefaultValue).Scan(&v.ID)
	if err != nil {
		return domain.EggVariable{}, fmt.Errorf("failed to save egg variable: %w", err)
	}
	return v, nil
}
