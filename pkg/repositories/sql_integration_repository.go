package repositories

import (
	"context"
	"encoding/json"
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

// SQLIntegrationRepository defines the interface for SQL integration data access.
type SQLIntegrationRepository interface {
	// Create inserts a new integration. Returns apperrors.ErrConflict if the
	// name is taken or the data store already has an integration.
	Create(ctx context.Context, integration *models.SQLIntegration) error

	// GetByID retrieves an integration by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.SQLIntegration, error)

	// List retrieves all integrations.
	List(ctx context.Context) ([]*models.SQLIntegration, error)

	// Update modifies an existing integration.
	Update(ctx context.Context, integration *models.SQLIntegration) error

	// Delete removes an integration by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

// sqlIntegrationRepository implements SQLIntegrationRepository using PostgreSQL.
type sqlIntegrationRepository struct {
	db *database.DB
}

// NewSQLIntegrationRepository creates a new SQL integration repository.
func NewSQLIntegrationRepository(db *database.DB) SQLIntegrationRepository {
	return &sqlIntegrationRepository{db: db}
}

func (r *sqlIntegrationRepository) Create(ctx context.Context, integration *models.SQLIntegration) error {
	now := time.Now()
	integration.CreatedAt = now
	integration.UpdatedAt = now

	configJSON, err := json.Marshal(integration.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO fuse_sql_integrations (name, integration_type, data_store_id, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		integration.Name,
		integration.IntegrationType,
		integration.DataStoreID,
		configJSON,
		integration.CreatedAt,
		integration.UpdatedAt,
	).Scan(&integration.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create integration: %w", err)
	}

	return nil
}

func (r *sqlIntegrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SQLIntegration, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, integration_type, data_store_id, config, created_at, updated_at
		FROM fuse_sql_integrations WHERE id = $1`, id)

	integration, err := scanIntegration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return integration, nil
}

func (r *sqlIntegrationRepository) List(ctx context.Context) ([]*models.SQLIntegration, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, integration_type, data_store_id, config, created_at, updated_at
		FROM fuse_sql_integrations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*models.SQLIntegration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, integration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate integrations: %w", err)
	}

	return integrations, nil
}

func (r *sqlIntegrationRepository) Update(ctx context.Context, integration *models.SQLIntegration) error {
	integration.UpdatedAt = time.Now()

	configJSON, err := json.Marshal(integration.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE fuse_sql_integrations
		SET name = $2, integration_type = $3, data_store_id = $4, config = $5, updated_at = $6
		WHERE id = $1`,
		integration.ID,
		integration.Name,
		integration.IntegrationType,
		integration.DataStoreID,
		configJSON,
		integration.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *sqlIntegrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM fuse_sql_integrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanIntegration(row pgx.Row) (*models.SQLIntegration, error) {
	var integration models.SQLIntegration
	var configJSON []byte

	err := row.Scan(
		&integration.ID,
		&integration.Name,
		&integration.IntegrationType,
		&integration.DataStoreID,
		&configJSON,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &integration.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &integration, nil
}

// Ensure sqlIntegrationRepository implements SQLIntegrationRepository at compile time.
var _ SQLIntegrationRepository = (*sqlIntegrationRepository)(nil)
