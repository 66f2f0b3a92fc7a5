package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/config"
	"github.com/fusehq/fuse-engine/pkg/models"
)

// cacheFixture builds one integration with two accounts (one in sync, one
// drifted) and one orphan principal in the target database.
type cacheFixture struct {
	clock     *fakeClock
	snapshot  *models.Snapshot
	inspector *mockInspector
	factory   *mockInspectorFactory
	service   *permissionsCacheService

	dataStore   *models.DataStore
	integration *models.SQLIntegration
	accountA    *models.Account
	accountB    *models.Account
}

func newCacheFixture(t *testing.T) *cacheFixture {
	t.Helper()

	dataStore := &models.DataStore{ID: uuid.New(), Name: "Sales DB"}
	integration := &models.SQLIntegration{
		ID:              uuid.New(),
		Name:            "sales-mssql",
		IntegrationType: "mssql",
		DataStoreID:     dataStore.ID,
	}

	accountA := &models.Account{
		ID:          uuid.New(),
		Name:        "svc_sales",
		Kind:        models.AccountKindDataStore,
		Username:    "svc_sales",
		DataStoreID: dataStore.ID,
		Grants: []models.Grant{
			{Database: strPtr("Sales"), Schema: strPtr("dbo"), Privileges: []models.SQLPrivilege{models.PrivilegeSelect}},
		},
	}
	accountB := &models.Account{
		ID:          uuid.New(),
		Name:        "svc_etl",
		Kind:        models.AccountKindDataStore,
		Username:    "svc_etl",
		DataStoreID: dataStore.ID,
		Grants: []models.Grant{
			{Database: strPtr("Sales"), Schema: strPtr("dbo"), Privileges: []models.SQLPrivilege{models.PrivilegeSelect, models.PrivilegeInsert}},
		},
	}

	inspector := &mockInspector{
		permissions: map[string]*models.PrincipalPermissions{
			"svc_sales": {
				PrincipalName: "svc_sales",
				Exists:        true,
				Grants: []models.ActualGrant{
					{Database: strPtr("Sales"), Schema: strPtr("dbo"), Privileges: []models.SQLPrivilege{models.PrivilegeSelect}},
				},
			},
			"svc_etl": {
				PrincipalName: "svc_etl",
				Exists:        true,
				Grants: []models.ActualGrant{
					{Database: strPtr("Sales"), Schema: strPtr("dbo"), Privileges: []models.SQLPrivilege{models.PrivilegeSelect}},
				},
			},
		},
		principals: []string{"svc_sales", "svc_etl", "svc_legacy"},
	}

	snapshot := &models.Snapshot{
		Accounts:        []*models.Account{accountA, accountB},
		DataStores:      []*models.DataStore{dataStore},
		SQLIntegrations: []*models.SQLIntegration{integration},
	}

	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	factory := &mockInspectorFactory{
		inspectors: map[uuid.UUID]*mockInspector{integration.ID: inspector},
	}

	service := newPermissionsCacheService(
		&mockSnapshotProvider{snapshot: snapshot},
		factory,
		config.PermissionsCacheConfig{WarmupDelaySeconds: 0, RefreshIntervalSeconds: 300},
		zap.NewNop(),
		clock.Now,
	)

	return &cacheFixture{
		clock:       clock,
		snapshot:    snapshot,
		inspector:   inspector,
		factory:     factory,
		service:     service,
		dataStore:   dataStore,
		integration: integration,
		accountA:    accountA,
		accountB:    accountB,
	}
}

func TestRefreshIntegration_CachesOverview(t *testing.T) {
	f := newCacheFixture(t)

	overview, err := f.service.RefreshIntegration(context.Background(), f.integration.ID)
	require.NoError(t, err)
	require.NotNil(t, overview)

	assert.Equal(t, f.integration.ID, overview.IntegrationID)
	assert.Equal(t, 2, overview.Summary.TotalAccounts)
	assert.Equal(t, 1, overview.Summary.InSync)
	assert.Equal(t, 1, overview.Summary.DriftDetected)
	assert.Equal(t, []string{"svc_legacy"}, overview.OrphanPrincipals)

	cached, ok := f.service.GetCachedOverview(f.integration.ID)
	require.True(t, ok)
	assert.Equal(t, overview.Summary, cached.Summary)
	assert.Equal(t, overview.OrphanPrincipals, cached.OrphanPrincipals)

	status, ok := f.service.GetCachedAccountStatus(f.accountB.ID)
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusDriftDetected, status.Status)
	require.Len(t, status.PermissionComparisons, 1)
	assert.Equal(t, []models.SQLPrivilege{models.PrivilegeInsert}, status.PermissionComparisons[0].MissingPrivileges)
}

func TestGetCachedOverview_MissingAccountEntryForcesMiss(t *testing.T) {
	f := newCacheFixture(t)

	_, err := f.service.RefreshIntegration(context.Background(), f.integration.ID)
	require.NoError(t, err)

	f.service.InvalidateAccount(f.accountA.ID)

	_, ok := f.service.GetCachedOverview(f.integration.ID)
	assert.False(t, ok, "overview must be a miss when a referenced account entry is gone")
}

func TestGetCachedOverview_MissingOrphanEntryStillReconstructs(t *testing.T) {
	f := newCacheFixture(t)

	_, err := f.service.RefreshIntegration(context.Background(), f.integration.ID)
	require.NoError(t, err)

	f.service.store.DeleteOrphan(f.integration.ID, "svc_legacy")

	overview, ok := f.service.GetCachedOverview(f.integration.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"svc_legacy"}, overview.OrphanPrincipals)
}

func TestGetCachedOverview_LeastFreshEntryWins(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)
	firstSweep := f.clock.Now()

	f.clock.Advance(2 * time.Minute)
	_, err = f.service.RefreshAccount(ctx, f.accountA.ID)
	require.NoError(t, err)

	overview, ok := f.service.GetCachedOverview(f.integration.ID)
	require.True(t, ok)
	assert.Equal(t, firstSweep, overview.CachedAt,
		"overview freshness is the oldest referenced entry, not the newest")
}

func TestRefreshIntegration_DeletedIntegrationInvalidates(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)

	f.snapshot.SQLIntegrations = nil

	overview, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)
	assert.Nil(t, overview)

	_, ok := f.service.GetCachedOverview(f.integration.ID)
	assert.False(t, ok)
	_, ok = f.service.GetCachedAccountStatus(f.accountA.ID)
	assert.False(t, ok)
}

func TestRefreshIntegration_EvictsEntriesForRemovedAccounts(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)

	f.snapshot.Accounts = []*models.Account{f.accountA}
	f.inspector.principals = []string{"svc_sales"}

	overview, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, overview.Summary.TotalAccounts)
	assert.Empty(t, overview.OrphanPrincipals)

	_, ok := f.service.GetCachedAccountStatus(f.accountB.ID)
	assert.False(t, ok, "entry for the removed account must be evicted")
	_, ok = f.service.store.GetOrphan(f.integration.ID, "svc_legacy")
	assert.False(t, ok, "entry for the vanished orphan must be evicted")
}

func TestRefreshIntegration_IsolatesAccountInspectionFailure(t *testing.T) {
	f := newCacheFixture(t)
	f.inspector.errByPrincipal = map[string]error{"svc_etl": errors.New("login timeout")}

	overview, err := f.service.RefreshIntegration(context.Background(), f.integration.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, overview.Summary.InSync)
	assert.Equal(t, 1, overview.Summary.Errored)

	status, ok := f.service.GetCachedAccountStatus(f.accountB.ID)
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusError, status.Status)
	assert.Contains(t, status.ErrorMessage, "login timeout")
}

func TestRefreshAccount_NotApplicableShortCircuit(t *testing.T) {
	f := newCacheFixture(t)

	appAccount := &models.Account{
		ID:   uuid.New(),
		Name: "jira-bot",
		Kind: models.AccountKindApplication,
	}
	f.snapshot.Accounts = append(f.snapshot.Accounts, appAccount)

	status, err := f.service.RefreshAccount(context.Background(), appAccount.ID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, models.SyncStatusNotApplicable, status.Status)
	assert.Empty(t, f.inspector.inspectedFor, "no SQL round-trip for non-datastore accounts")

	cached, ok := f.service.GetCachedAccountStatus(appAccount.ID)
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusNotApplicable, cached.Status)
}

func TestRefreshAccount_DeletedAccountInvalidates(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)

	deleted := f.accountB.ID
	f.snapshot.Accounts = []*models.Account{f.accountA}

	status, err := f.service.RefreshAccount(ctx, deleted)
	require.NoError(t, err)
	assert.Nil(t, status)

	_, ok := f.service.GetCachedAccountStatus(deleted)
	assert.False(t, ok)
}

// Single-account refreshes mutate the integration's metadata index while
// overview reads walk it. Run with -race.
func TestRefreshAccount_ConcurrentWithOverviewReads(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, err := f.service.RefreshAccount(ctx, f.accountA.ID); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			f.service.GetCachedOverview(f.integration.ID)
		}
	}()
	wg.Wait()

	overview, ok := f.service.GetCachedOverview(f.integration.ID)
	require.True(t, ok)
	assert.Len(t, overview.Accounts, 2)
}

// Metadata handed out by the store is a copy: writing into its account index
// must not leak into subsequent reads.
func TestCacheStore_MetadataCopiesDoNotAliasStoreState(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshIntegration(ctx, f.integration.ID)
	require.NoError(t, err)

	metadata, ok := f.service.store.GetMetadata(f.integration.ID)
	require.True(t, ok)
	metadata.Accounts[uuid.New()] = models.CachedAccountRef{AccountName: "stray"}

	fresh, ok := f.service.store.GetMetadata(f.integration.ID)
	require.True(t, ok)
	assert.Len(t, fresh.Accounts, 2)
}

func TestCacheEntriesExpireAfterTTL(t *testing.T) {
	f := newCacheFixture(t)

	_, err := f.service.RefreshIntegration(context.Background(), f.integration.ID)
	require.NoError(t, err)

	// TTL is twice the refresh interval.
	f.clock.Advance(10*time.Minute + time.Second)

	_, ok := f.service.GetCachedAccountStatus(f.accountA.ID)
	assert.False(t, ok)
	_, ok = f.service.GetCachedOverview(f.integration.ID)
	assert.False(t, ok)
}

func TestCacheEntriesSurviveOneMissedSweep(t *testing.T) {
	f := newCacheFixture(t)

	_, err := f.service.RefreshIntegration(context.Background(), f.integration.ID)
	require.NoError(t, err)

	// One refresh interval later the entry is stale but still served.
	f.clock.Advance(5*time.Minute + time.Second)

	_, ok := f.service.GetCachedAccountStatus(f.accountA.ID)
	assert.True(t, ok)
}

func TestSweep_IsolatesIntegrationFailure(t *testing.T) {
	f := newCacheFixture(t)

	brokenStore := &models.DataStore{ID: uuid.New(), Name: "Broken DB"}
	broken := &models.SQLIntegration{
		ID:              uuid.New(),
		Name:            "broken-pg",
		IntegrationType: "postgres",
		DataStoreID:     brokenStore.ID,
	}
	secondStore := &models.DataStore{ID: uuid.New(), Name: "Reporting DB"}
	second := &models.SQLIntegration{
		ID:              uuid.New(),
		Name:            "reporting-pg",
		IntegrationType: "postgres",
		DataStoreID:     secondStore.ID,
	}

	f.snapshot.DataStores = append(f.snapshot.DataStores, brokenStore, secondStore)
	f.snapshot.SQLIntegrations = append(f.snapshot.SQLIntegrations, broken, second)
	f.factory.errs = map[uuid.UUID]error{broken.ID: errors.New("connection refused")}
	f.factory.inspectors[second.ID] = &mockInspector{principals: []string{"reporter"}}

	f.service.sweep(context.Background())

	_, ok := f.service.GetCachedOverview(f.integration.ID)
	assert.True(t, ok, "healthy integration before the failure must refresh")
	_, ok = f.service.GetCachedOverview(second.ID)
	assert.True(t, ok, "healthy integration after the failure must refresh")
	_, ok = f.service.GetCachedOverview(broken.ID)
	assert.False(t, ok)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newCacheFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.service.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
