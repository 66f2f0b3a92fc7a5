package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/config"
	"github.com/fusehq/fuse-engine/pkg/models"
)

// PermissionsCacheService owns the reconciliation cache: it serves cached
// permission overviews and account statuses, refreshes them on demand, and
// runs the background sweep that keeps them warm.
//
// Reads are non-blocking against whatever is stored; refreshes overwrite
// entries atomically. The cache is memory-only and rebuilds from the domain
// snapshot after a restart.
type PermissionsCacheService interface {
	// GetCachedOverview reconstructs an integration overview from cached
	// entries. It returns false when the metadata is absent or any referenced
	// account entry is missing or expired, because a partial overview would
	// silently hide drift.
	GetCachedOverview(integrationID uuid.UUID) (*models.SQLIntegrationPermissionsOverview, bool)

	// GetCachedAccountStatus returns one account's cached status, or false
	// when absent or expired.
	GetCachedAccountStatus(accountID uuid.UUID) (*models.CachedAccountSQLStatus, bool)

	// RefreshIntegration inspects the integration's target database and
	// rewrites its cache entries. A (nil, nil) return means the integration
	// no longer exists; its stale entries are invalidated as a side effect.
	RefreshIntegration(ctx context.Context, integrationID uuid.UUID) (*models.SQLIntegrationPermissionsOverview, error)

	// RefreshAccount inspects a single account and upserts its cache entry.
	// Non-datastore accounts and accounts without an integration get a
	// NotApplicable status without touching SQL. A (nil, nil) return means
	// the account no longer exists.
	RefreshAccount(ctx context.Context, accountID uuid.UUID) (*models.CachedAccountSQLStatus, error)

	// InvalidateIntegration removes the integration's metadata and every
	// entry it owns.
	InvalidateIntegration(integrationID uuid.UUID)

	// InvalidateAccount removes one account entry. Metadata still referencing
	// it makes the next overview read a miss, which forces a full refresh.
	InvalidateAccount(accountID uuid.UUID)

	// Run executes the background sweep until ctx is cancelled: warm-up
	// delay, then refresh every integration each interval. One integration's
	// failure never aborts the sweep.
	Run(ctx context.Context)
}

type permissionsCacheService struct {
	snapshots       SnapshotProvider
	builder         *overviewBuilder
	store           *permissionsCacheStore
	logger          *zap.Logger
	warmupDelay     time.Duration
	refreshInterval time.Duration
	now             func() time.Time
}

// NewPermissionsCacheService wires the cache service from the snapshot
// provider and the inspector factory.
func NewPermissionsCacheService(
	snapshots SnapshotProvider,
	factory sqlinspector.Factory,
	cfg config.PermissionsCacheConfig,
	logger *zap.Logger,
) PermissionsCacheService {
	return newPermissionsCacheService(snapshots, factory, cfg, logger, time.Now)
}

// newPermissionsCacheService takes the clock explicitly so TTL and freshness
// behavior is deterministic in tests.
func newPermissionsCacheService(
	snapshots SnapshotProvider,
	factory sqlinspector.Factory,
	cfg config.PermissionsCacheConfig,
	logger *zap.Logger,
	now func() time.Time,
) *permissionsCacheService {
	return &permissionsCacheService{
		snapshots:       snapshots,
		builder:         newOverviewBuilder(factory, logger, now),
		store:           newPermissionsCacheStore(cfg.EntryTTL(), now),
		logger:          logger.Named("permissions-cache"),
		warmupDelay:     cfg.WarmupDelay(),
		refreshInterval: cfg.RefreshInterval(),
		now:             now,
	}
}

func (s *permissionsCacheService) GetCachedOverview(integrationID uuid.UUID) (*models.SQLIntegrationPermissionsOverview, bool) {
	metadata, ok := s.store.GetMetadata(integrationID)
	if !ok {
		return nil, false
	}

	overview := &models.SQLIntegrationPermissionsOverview{
		IntegrationID:    metadata.IntegrationID,
		IntegrationName:  metadata.IntegrationName,
		OrphanPrincipals: metadata.OrphanPrincipals,
		CachedAt:         metadata.CachedAt,
	}

	for _, accountID := range sortedAccountIDs(metadata.Accounts) {
		status, ok := s.store.GetAccount(accountID)
		if !ok {
			return nil, false
		}
		overview.Accounts = append(overview.Accounts, *status)
		if status.CachedAt.Before(overview.CachedAt) {
			overview.CachedAt = status.CachedAt
		}
	}

	// Orphan entries only contribute a freshness sample; a missing one does
	// not fail reconstruction because the principal name lives in the
	// metadata itself.
	for _, principal := range metadata.OrphanPrincipals {
		if cachedAt, ok := s.store.GetOrphan(integrationID, principal); ok && cachedAt.Before(overview.CachedAt) {
			overview.CachedAt = cachedAt
		}
	}

	overview.Summarize()
	return overview, true
}

func (s *permissionsCacheService) GetCachedAccountStatus(accountID uuid.UUID) (*models.CachedAccountSQLStatus, bool) {
	return s.store.GetAccount(accountID)
}

func (s *permissionsCacheService) RefreshIntegration(ctx context.Context, integrationID uuid.UUID) (*models.SQLIntegrationPermissionsOverview, error) {
	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	integration := snapshot.IntegrationByID(integrationID)
	if integration == nil {
		s.logger.Info("integration no longer exists, invalidating its cache",
			zap.String("integration_id", integrationID.String()))
		s.store.InvalidateIntegration(integrationID)
		return nil, nil
	}

	statuses, orphans, err := s.builder.inspectIntegration(ctx, snapshot, integration)
	if err != nil {
		return nil, err
	}

	previous, hadPrevious := s.store.GetMetadata(integrationID)

	// Account entries go in before the metadata that references them, so a
	// concurrent reconstruction never sees dangling references.
	metadata := models.IntegrationCacheMetadata{
		IntegrationID:    integration.ID,
		IntegrationName:  integration.Name,
		Accounts:         make(map[uuid.UUID]models.CachedAccountRef, len(statuses)),
		OrphanPrincipals: orphans,
		CachedAt:         s.now(),
	}
	for i := range statuses {
		s.store.SetAccount(statuses[i])
		metadata.Accounts[statuses[i].AccountID] = models.CachedAccountRef{
			AccountName:   statuses[i].AccountName,
			PrincipalName: statuses[i].PrincipalName,
		}
	}
	for _, principal := range orphans {
		s.store.SetOrphan(integration.ID, principal, metadata.CachedAt)
	}
	s.store.SetMetadata(metadata)

	if hadPrevious {
		s.evictRemoved(previous, &metadata)
	}

	overview := &models.SQLIntegrationPermissionsOverview{
		IntegrationID:    integration.ID,
		IntegrationName:  integration.Name,
		Accounts:         statuses,
		OrphanPrincipals: orphans,
		CachedAt:         metadata.CachedAt,
	}
	for i := range statuses {
		if statuses[i].CachedAt.Before(overview.CachedAt) {
			overview.CachedAt = statuses[i].CachedAt
		}
	}
	overview.Summarize()
	return overview, nil
}

// evictRemoved drops entries for accounts and orphans that the previous
// metadata referenced but the current one does not. Without this, deleting or
// reassigning an account would leave its stale entry behind until TTL.
func (s *permissionsCacheService) evictRemoved(previous, current *models.IntegrationCacheMetadata) {
	for accountID := range previous.Accounts {
		if _, still := current.Accounts[accountID]; !still {
			s.store.DeleteAccount(accountID)
		}
	}
	currentOrphans := make(map[string]bool, len(current.OrphanPrincipals))
	for _, principal := range current.OrphanPrincipals {
		currentOrphans[principal] = true
	}
	for _, principal := range previous.OrphanPrincipals {
		if !currentOrphans[principal] {
			s.store.DeleteOrphan(previous.IntegrationID, principal)
		}
	}
}

func (s *permissionsCacheService) RefreshAccount(ctx context.Context, accountID uuid.UUID) (*models.CachedAccountSQLStatus, error) {
	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	account := snapshot.AccountByID(accountID)
	if account == nil {
		s.logger.Info("account no longer exists, invalidating its cache entry",
			zap.String("account_id", accountID.String()))
		s.store.DeleteAccount(accountID)
		return nil, nil
	}

	var integration *models.SQLIntegration
	if account.Kind == models.AccountKindDataStore {
		integration = snapshot.IntegrationForDataStore(account.DataStoreID)
	}
	if integration == nil {
		// Nothing to inspect: cache the short-circuit so repeated reads do
		// not retry SQL. Not linked to any integration metadata.
		status := models.CachedAccountSQLStatus{
			AccountID:     account.ID,
			AccountName:   account.Name,
			PrincipalName: account.PrincipalName(),
			Status:        models.SyncStatusNotApplicable,
			StatusSummary: summarizeStatus(models.SyncStatusNotApplicable, nil),
			CachedAt:      s.now(),
		}
		s.store.SetAccount(status)
		return &status, nil
	}

	inspector, err := s.builder.factory.NewInspector(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to open inspector for integration %s: %w", integration.ID, err)
	}
	defer inspector.Close()

	status := s.builder.inspectAccount(ctx, inspector, account, integration)
	s.store.SetAccount(status)
	s.store.UpsertAccountRef(integration.ID, integration.Name, account.ID, models.CachedAccountRef{
		AccountName:   account.Name,
		PrincipalName: account.PrincipalName(),
	})
	return &status, nil
}

func (s *permissionsCacheService) InvalidateIntegration(integrationID uuid.UUID) {
	s.store.InvalidateIntegration(integrationID)
}

func (s *permissionsCacheService) InvalidateAccount(accountID uuid.UUID) {
	s.store.DeleteAccount(accountID)
}

func (s *permissionsCacheService) Run(ctx context.Context) {
	s.logger.Info("permissions cache sweep starting",
		zap.Duration("warmup_delay", s.warmupDelay),
		zap.Duration("refresh_interval", s.refreshInterval))

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.warmupDelay):
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("permissions cache sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep refreshes every known integration once. Failures are per-integration:
// logged, skipped, retried on the next interval.
func (s *permissionsCacheService) sweep(ctx context.Context) {
	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		s.logger.Error("sweep aborted, snapshot unavailable", zap.Error(err))
		return
	}

	for _, integration := range snapshot.SQLIntegrations {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RefreshIntegration(ctx, integration.ID); err != nil {
			s.logger.Warn("integration refresh failed, continuing sweep",
				zap.String("integration_id", integration.ID.String()),
				zap.String("integration_name", integration.Name),
				zap.Error(err))
		}
	}
}

func sortedAccountIDs(accounts map[uuid.UUID]models.CachedAccountRef) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		if accounts[ids[a]].AccountName != accounts[ids[b]].AccountName {
			return accounts[ids[a]].AccountName < accounts[ids[b]].AccountName
		}
		return ids[a].String() < ids[b].String()
	})
	return ids
}

var _ PermissionsCacheService = (*permissionsCacheService)(nil)
