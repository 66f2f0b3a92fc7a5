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

// AccountRepository defines the interface for account data access.
type AccountRepository interface {
	// Create inserts a new account. Returns apperrors.ErrConflict if the name
	// is taken.
	Create(ctx context.Context, account *models.Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// List retrieves all accounts.
	List(ctx context.Context) ([]*models.Account, error)

	// Update modifies an existing account.
	Update(ctx context.Context, account *models.Account) error

	// ReplaceGrants replaces an account's grant set wholesale.
	ReplaceGrants(ctx context.Context, id uuid.UUID, grants []models.Grant) error

	// Delete removes an account by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

// accountRepository implements AccountRepository using PostgreSQL.
type accountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *database.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, name, kind, username, COALESCE(data_store_id, '00000000-0000-0000-0000-000000000000'::uuid), grants, created_at, updated_at`

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	grantsJSON, err := json.Marshal(account.Grants)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	query := `
		INSERT INTO fuse_accounts (name, kind, username, data_store_id, grants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		account.Name,
		account.Kind,
		account.Username,
		nullableUUID(account.DataStoreID),
		grantsJSON,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM fuse_accounts WHERE id = $1`, id)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (r *accountRepository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+accountColumns+` FROM fuse_accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now()

	grantsJSON, err := json.Marshal(account.Grants)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE fuse_accounts
		SET name = $2, kind = $3, username = $4, data_store_id = $5, grants = $6, updated_at = $7
		WHERE id = $1`,
		account.ID,
		account.Name,
		account.Kind,
		account.Username,
		nullableUUID(account.DataStoreID),
		grantsJSON,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *accountRepository) ReplaceGrants(ctx context.Context, id uuid.UUID, grants []models.Grant) error {
	grantsJSON, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE fuse_accounts SET grants = $2, updated_at = $3 WHERE id = $1`,
		id, grantsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to replace grants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *accountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM fuse_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	var grantsJSON []byte

	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Kind,
		&account.Username,
		&account.DataStoreID,
		&grantsJSON,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(grantsJSON, &account.Grants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grants: %w", err)
	}

	return &account, nil
}

// nullableUUID maps uuid.Nil to SQL NULL for optional foreign keys.
func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// Ensure accountRepository implements AccountRepository at compile time.
var _ AccountRepository = (*accountRepository)(nil)
