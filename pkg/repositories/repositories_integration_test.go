package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/testhelpers"
)

func strPtr(s string) *string { return &s }

func createTestDataStore(t *testing.T, repo DataStoreRepository) *models.DataStore {
	t.Helper()
	dataStore := &models.DataStore{
		ID:   uuid.New(),
		Name: fmt.Sprintf("test-store-%s", uuid.NewString()[:8]),
	}
	if err := repo.Create(context.Background(), dataStore); err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(context.Background(), dataStore.ID) })
	return dataStore
}

func TestAccountRepository_CRUD(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewAccountRepository(engineDB.DB)
	dataStoreRepo := NewDataStoreRepository(engineDB.DB)
	ctx := context.Background()

	dataStore := createTestDataStore(t, dataStoreRepo)

	account := &models.Account{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("svc-%s", uuid.NewString()[:8]),
		Kind:        models.AccountKindDataStore,
		Username:    "svc_sales",
		DataStoreID: dataStore.ID,
		Grants: []models.Grant{
			{Database: strPtr("Sales"), Schema: strPtr("dbo"), Privileges: []models.SQLPrivilege{models.PrivilegeSelect}},
		},
	}
	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(ctx, account.ID) })

	loaded, err := repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if loaded.Name != account.Name {
		t.Errorf("expected name %q, got %q", account.Name, loaded.Name)
	}
	if loaded.DataStoreID != dataStore.ID {
		t.Errorf("expected data store %s, got %s", dataStore.ID, loaded.DataStoreID)
	}
	if len(loaded.Grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(loaded.Grants))
	}
	if loaded.Grants[0].Database == nil || *loaded.Grants[0].Database != "Sales" {
		t.Error("expected grant database 'Sales' to round-trip through JSONB")
	}

	loaded.Username = "svc_sales_renamed"
	if err := repo.Update(ctx, loaded); err != nil {
		t.Fatalf("failed to update account: %v", err)
	}
	reloaded, err := repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if reloaded.Username != "svc_sales_renamed" {
		t.Errorf("expected updated username, got %q", reloaded.Username)
	}

	newGrants := []models.Grant{
		{Database: strPtr("Sales"), Privileges: []models.SQLPrivilege{models.PrivilegeConnect}},
		{Database: strPtr("Sales"), Schema: strPtr("dbo"), Privileges: []models.SQLPrivilege{models.PrivilegeSelect, models.PrivilegeInsert}},
	}
	if err := repo.ReplaceGrants(ctx, account.ID, newGrants); err != nil {
		t.Fatalf("failed to replace grants: %v", err)
	}
	reloaded, err = repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if len(reloaded.Grants) != 2 {
		t.Errorf("expected 2 grants after replacement, got %d", len(reloaded.Grants))
	}

	if err := repo.Delete(ctx, account.ID); err != nil {
		t.Fatalf("failed to delete account: %v", err)
	}
	if _, err := repo.GetByID(ctx, account.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after deletion, got %v", err)
	}
}

func TestAccountRepository_DuplicateNameConflicts(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewAccountRepository(engineDB.DB)
	ctx := context.Background()

	name := fmt.Sprintf("svc-%s", uuid.NewString()[:8])
	first := &models.Account{ID: uuid.New(), Name: name, Kind: models.AccountKindApplication}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(ctx, first.ID) })

	second := &models.Account{ID: uuid.New(), Name: name, Kind: models.AccountKindApplication}
	if err := repo.Create(ctx, second); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}
}

func TestSQLIntegrationRepository_OneIntegrationPerDataStore(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewSQLIntegrationRepository(engineDB.DB)
	dataStoreRepo := NewDataStoreRepository(engineDB.DB)
	ctx := context.Background()

	dataStore := createTestDataStore(t, dataStoreRepo)

	first := &models.SQLIntegration{
		ID:              uuid.New(),
		Name:            fmt.Sprintf("int-%s", uuid.NewString()[:8]),
		IntegrationType: "postgres",
		DataStoreID:     dataStore.ID,
		Config:          map[string]any{"host": "db.internal", "port": 5432},
	}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("failed to create integration: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(ctx, first.ID) })

	loaded, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("failed to load integration: %v", err)
	}
	if loaded.Config["host"] != "db.internal" {
		t.Error("expected config to round-trip through JSONB")
	}

	second := &models.SQLIntegration{
		ID:              uuid.New(),
		Name:            fmt.Sprintf("int-%s", uuid.NewString()[:8]),
		IntegrationType: "mssql",
		DataStoreID:     dataStore.ID,
	}
	if err := repo.Create(ctx, second); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict for second integration on one data store, got %v", err)
	}
}

func TestDataStoreRepository_List(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewDataStoreRepository(engineDB.DB)
	ctx := context.Background()

	dataStore := createTestDataStore(t, repo)

	dataStores, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list data stores: %v", err)
	}

	found := false
	for _, candidate := range dataStores {
		if candidate.ID == dataStore.ID {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected the created data store in the listing")
	}
}
