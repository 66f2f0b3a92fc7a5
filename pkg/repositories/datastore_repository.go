package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/database"
	"github.com/fusehq/fuse-engine/pkg/models"
)

// DataStoreRepository defines the interface for data store data access.
type DataStoreRepository interface {
	// Create inserts a new data store. Returns apperrors.ErrConflict if the
	// name is taken.
	Create(ctx context.Context, store *models.DataStore) error

	// GetByID retrieves a data store by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataStore, error)

	// List retrieves all data stores.
	List(ctx context.Context) ([]*models.DataStore, error)

	// Delete removes a data store by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

// dataStoreRepository implements DataStoreRepository using PostgreSQL.
type dataStoreRepository struct {
	db *database.DB
}

// NewDataStoreRepository creates a new data store repository.
func NewDataStoreRepository(db *database.DB) DataStoreRepository {
	return &dataStoreRepository{db: db}
}

func (r *dataStoreRepository) Create(ctx context.Context, store *models.DataStore) error {
	now := time.Now()
	store.CreatedAt = now
	store.UpdatedAt = now

	err := r.db.QueryRow(ctx, `
		INSERT INTO fuse_data_stores (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		store.Name, store.Description, store.CreatedAt, store.UpdatedAt,
	).Scan(&store.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create data store: %w", err)
	}

	return nil
}

func (r *dataStoreRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataStore, error) {
	var store models.DataStore
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM fuse_data_stores WHERE id = $1`, id,
	).Scan(&store.ID, &store.Name, &store.Description, &store.CreatedAt, &store.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data store: %w", err)
	}
	return &store, nil
}

func (r *dataStoreRepository) List(ctx context.Context) ([]*models.DataStore, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM fuse_data_stores ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list data stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.DataStore
	for rows.Next() {
		var store models.DataStore
		if err := rows.Scan(&store.ID, &store.Name, &store.Description, &store.CreatedAt, &store.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan data store: %w", err)
		}
		stores = append(stores, &store)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data stores: %w", err)
	}

	return stores, nil
}

func (r *dataStoreRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM fuse_data_stores WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data store: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Ensure dataStoreRepository implements DataStoreRepository at compile time.
var _ DataStoreRepository = (*dataStoreRepository)(nil)
