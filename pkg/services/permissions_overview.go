package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/logging"
	"github.com/fusehq/fuse-engine/pkg/models"
)

// overviewBuilder performs the live inspection for one integration: it opens
// a single inspector connection, reads every account's principal, and lists
// the principals nobody claims.
//
// Inspection failures are isolated per account: one account failing to
// inspect marks that account errored and the sweep moves on. Only a failure
// to open the inspector at all aborts the refresh.
type overviewBuilder struct {
	factory sqlinspector.Factory
	logger  *zap.Logger
	now     func() time.Time
}

func newOverviewBuilder(factory sqlinspector.Factory, logger *zap.Logger, now func() time.Time) *overviewBuilder {
	return &overviewBuilder{
		factory: factory,
		logger:  logger.Named("permissions-overview"),
		now:     now,
	}
}

// inspectIntegration inspects every datastore account targeting the
// integration's data store and detects orphan principals.
func (b *overviewBuilder) inspectIntegration(
	ctx context.Context,
	snapshot *models.Snapshot,
	integration *models.SQLIntegration,
) ([]models.CachedAccountSQLStatus, []string, error) {
	inspector, err := b.factory.NewInspector(ctx, integration)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open inspector for integration %s: %w", integration.ID, err)
	}
	defer inspector.Close()

	accounts := snapshot.AccountsForDataStore(integration.DataStoreID)
	statuses := make([]models.CachedAccountSQLStatus, 0, len(accounts))
	claimed := make(map[string]bool, len(accounts))

	for _, account := range accounts {
		claimed[account.PrincipalName()] = true
		statuses = append(statuses, b.inspectAccount(ctx, inspector, account, integration))
	}

	orphans := b.detectOrphans(ctx, inspector, integration, claimed)
	return statuses, orphans, nil
}

// inspectAccount reads one principal's live permissions and classifies the
// account. Inspection errors become an errored status instead of propagating.
func (b *overviewBuilder) inspectAccount(
	ctx context.Context,
	inspector sqlinspector.Inspector,
	account *models.Account,
	integration *models.SQLIntegration,
) models.CachedAccountSQLStatus {
	entry := models.CachedAccountSQLStatus{
		AccountID:          account.ID,
		AccountName:        account.Name,
		PrincipalName:      account.PrincipalName(),
		SQLIntegrationID:   integration.ID,
		SQLIntegrationName: integration.Name,
		CachedAt:           b.now(),
	}

	permissions, err := inspector.GetPrincipalPermissions(ctx, account.PrincipalName())
	if err != nil {
		b.logger.Warn("principal inspection failed",
			zap.String("account_id", account.ID.String()),
			zap.String("integration_id", integration.ID.String()),
			zap.String("error", logging.SanitizeError(err)))
		entry.Status = models.SyncStatusError
		entry.StatusSummary = "Inspection failed"
		entry.ErrorMessage = logging.SanitizeError(err)
		return entry
	}

	comparisons, status := ComparePermissions(account.Grants, permissions)
	entry.Status = status
	entry.PermissionComparisons = comparisons
	entry.StatusSummary = summarizeStatus(status, comparisons)
	return entry
}

func (b *overviewBuilder) detectOrphans(
	ctx context.Context,
	inspector sqlinspector.Inspector,
	integration *models.SQLIntegration,
	claimed map[string]bool,
) []string {
	principals, err := inspector.ListPrincipals(ctx)
	if err != nil {
		// Orphan detection is advisory; a failed listing must not discard
		// the per-account statuses already collected.
		b.logger.Warn("principal listing failed, skipping orphan detection",
			zap.String("integration_id", integration.ID.String()),
			zap.String("error", logging.SanitizeError(err)))
		return nil
	}

	var orphans []string
	for _, principal := range principals {
		if !claimed[principal] {
			orphans = append(orphans, principal)
		}
	}
	sort.Strings(orphans)
	return orphans
}

// summarizeStatus renders a short human-readable line for a sync status.
func summarizeStatus(status models.SyncStatus, comparisons []models.PermissionComparison) string {
	switch status {
	case models.SyncStatusInSync:
		return "All configured privileges match"
	case models.SyncStatusMissingPrincipal:
		return "Principal does not exist in the target database"
	case models.SyncStatusDriftDetected:
		drifted := 0
		for i := range comparisons {
			if comparisons[i].HasDrift() {
				drifted++
			}
		}
		if drifted == 1 {
			return "Drift detected in 1 scope"
		}
		return fmt.Sprintf("Drift detected in %d scopes", drifted)
	case models.SyncStatusNotApplicable:
		return "No SQL permissions to reconcile"
	default:
		return "Inspection failed"
	}
}

// scopeLabel renders a comparison's scope for operation targets and logs,
// e.g. "Sales.dbo", "Sales", or "(database)" when unscoped.
func scopeLabel(database, schema *string) string {
	var parts []string
	if database != nil {
		parts = append(parts, *database)
	}
	if schema != nil {
		parts = append(parts, *schema)
	}
	if len(parts) == 0 {
		return "(database)"
	}
	return strings.Join(parts, ".")
}
