package services

import (
	"context"
	"fmt"

	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/repositories"
)

// SnapshotProvider loads a read-only view of the domain data.
// The permissions engine takes one snapshot per refresh so a sweep sees a
// consistent set of accounts and integrations; it never mutates domain data
// through this interface.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context) (*models.Snapshot, error)
}

type snapshotProvider struct {
	accountRepo     repositories.AccountRepository
	dataStoreRepo   repositories.DataStoreRepository
	integrationRepo repositories.SQLIntegrationRepository
}

// NewSnapshotProvider creates a snapshot provider backed by the repositories.
func NewSnapshotProvider(
	accountRepo repositories.AccountRepository,
	dataStoreRepo repositories.DataStoreRepository,
	integrationRepo repositories.SQLIntegrationRepository,
) SnapshotProvider {
	return &snapshotProvider{
		accountRepo:     accountRepo,
		dataStoreRepo:   dataStoreRepo,
		integrationRepo: integrationRepo,
	}
}

func (p *snapshotProvider) GetSnapshot(ctx context.Context) (*models.Snapshot, error) {
	accounts, err := p.accountRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	dataStores, err := p.dataStoreRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load data stores: %w", err)
	}

	integrations, err := p.integrationRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load integrations: %w", err)
	}

	return &models.Snapshot{
		Accounts:        accounts,
		DataStores:      dataStores,
		SQLIntegrations: integrations,
	}, nil
}

var _ SnapshotProvider = (*snapshotProvider)(nil)
