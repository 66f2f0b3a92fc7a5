package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/secrets"
)

func newActionFixture(t *testing.T) (*cacheFixture, PermissionsActionService, *mockAccountRepo) {
	t.Helper()
	f := newCacheFixture(t)
	repo := &mockAccountRepo{}
	actions := NewPermissionsActionService(
		&mockSnapshotProvider{snapshot: f.snapshot},
		f.factory,
		f.service,
		repo,
		secrets.NewEnvResolver(),
		zap.NewNop(),
	)
	return f, actions, repo
}

func TestResolveDrift_AppliesChangesAndRefreshes(t *testing.T) {
	f, actions, _ := newActionFixture(t)
	f.inspector.applyOps = []models.DriftResolutionOperation{
		{Target: "Sales.dbo", Action: "grant", Succeeded: true},
	}

	result, err := actions.ResolveDrift(context.Background(), f.accountB.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "svc_etl", result.PrincipalName)
	require.Len(t, result.Operations, 1)
	require.Len(t, f.inspector.applied, 1, "inspector must receive the computed comparisons")

	// The write refreshed the account entry, so readers see the new state
	// before the next sweep.
	_, ok := f.service.GetCachedAccountStatus(f.accountB.ID)
	assert.True(t, ok)
}

func TestResolveDrift_InSyncAccountAppliesNothing(t *testing.T) {
	f, actions, _ := newActionFixture(t)

	result, err := actions.ResolveDrift(context.Background(), f.accountA.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Operations)
	assert.Empty(t, f.inspector.applied)
}

func TestResolveDrift_MissingPrincipalFailsWithoutApplying(t *testing.T) {
	f, actions, _ := newActionFixture(t)
	delete(f.inspector.permissions, "svc_etl")

	result, err := actions.ResolveDrift(context.Background(), f.accountB.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "does not exist")
	assert.Empty(t, f.inspector.applied)
}

func TestResolveDrift_UnknownAccountIsAnError(t *testing.T) {
	_, actions, _ := newActionFixture(t)

	_, err := actions.ResolveDrift(context.Background(), uuid.New())
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveDrift_PartialApplyReportsMixedResult(t *testing.T) {
	f, actions, _ := newActionFixture(t)
	f.inspector.applyOps = []models.DriftResolutionOperation{
		{Target: "Sales.dbo", Action: "grant", Succeeded: true},
		{Target: "Sales.dbo", Action: "revoke", Succeeded: false, Error: "permission denied"},
	}

	result, err := actions.ResolveDrift(context.Background(), f.accountB.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Operations, 2)
	assert.True(t, result.Operations[0].Succeeded)
	assert.False(t, result.Operations[1].Succeeded)
}

func TestCreateSQLAccount_ResolvesSecretAndGrants(t *testing.T) {
	f, actions, _ := newActionFixture(t)
	t.Setenv("ETL_PASSWORD", "s3cret")
	delete(f.inspector.permissions, "svc_etl")
	f.inspector.applyOps = []models.DriftResolutionOperation{
		{Target: "Sales.dbo", Action: "grant", Succeeded: true},
	}

	result, err := actions.CreateSQLAccount(context.Background(), f.accountB.ID, "env://ETL_PASSWORD")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"svc_etl"}, f.inspector.created)
	require.Len(t, result.Operations, 2)
	assert.Equal(t, "create_principal", result.Operations[0].Action)
	assert.Equal(t, "grant", result.Operations[1].Action)
}

func TestCreateSQLAccount_UnresolvableSecretFailsCleanly(t *testing.T) {
	f, actions, _ := newActionFixture(t)

	result, err := actions.CreateSQLAccount(context.Background(), f.accountB.ID, "env://MISSING_SECRET")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
	assert.Empty(t, f.inspector.created)
}

func TestCreateSQLAccount_ExistingPrincipalFailsCleanly(t *testing.T) {
	f, actions, _ := newActionFixture(t)
	f.inspector.createErr = apperrors.ErrPrincipalExists

	result, err := actions.CreateSQLAccount(context.Background(), f.accountB.ID, "hunter2")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "already exists")
}

func TestBulkResolve_OneFailureDoesNotStopTheBatch(t *testing.T) {
	f, actions, _ := newActionFixture(t)
	f.inspector.applyOps = []models.DriftResolutionOperation{
		{Target: "Sales.dbo", Action: "grant", Succeeded: true},
	}
	missing := uuid.New()

	results, err := actions.BulkResolve(context.Background(),
		[]uuid.UUID{f.accountA.ID, missing, f.accountB.ID})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].ErrorMessage)
	assert.True(t, results[2].Success)
}

func TestImportOrphan_CreatesLinkedAccount(t *testing.T) {
	f, actions, repo := newActionFixture(t)
	f.inspector.permissions["svc_legacy"] = &models.PrincipalPermissions{
		PrincipalName: "svc_legacy",
		Exists:        true,
	}

	account, err := actions.ImportOrphan(context.Background(), f.integration.ID, "svc_legacy")
	require.NoError(t, err)

	assert.Equal(t, "svc_legacy", account.Username)
	assert.Equal(t, models.AccountKindDataStore, account.Kind)
	assert.Equal(t, f.dataStore.ID, account.DataStoreID)
	require.Len(t, repo.created, 1)
}

func TestImportOrphan_UnknownPrincipalRejected(t *testing.T) {
	f, actions, repo := newActionFixture(t)

	// "svc_legcay" is nobody: the typo'd import must fail before any account
	// is created, not produce a permanently missing principal.
	_, err := actions.ImportOrphan(context.Background(), f.integration.ID, "svc_legcay")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, repo.created)
}

func TestImportOrphan_AlreadyManagedPrincipalConflicts(t *testing.T) {
	f, actions, _ := newActionFixture(t)

	_, err := actions.ImportOrphan(context.Background(), f.integration.ID, "svc_sales")
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestImportOrphan_RejectsHostileIdentifier(t *testing.T) {
	f, actions, _ := newActionFixture(t)

	_, err := actions.ImportOrphan(context.Background(), f.integration.ID, "x'; DROP TABLE users;--")
	require.Error(t, err)
}
