package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/logging"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/repositories"
	"github.com/fusehq/fuse-engine/pkg/secrets"
	"github.com/fusehq/fuse-engine/pkg/sqlident"
)

// PermissionsActionService executes the write-path actions: applying grant
// and revoke statements to resolve drift, creating SQL principals, and
// importing orphan principals as managed accounts.
//
// SQL-side failures (connectivity, unresolvable secret, principal already
// present) never escape as errors; they come back as a structured result with
// Success=false so callers can show partial-success detail. Errors are
// reserved for missing domain entities and infrastructure faults.
type PermissionsActionService interface {
	// ResolveDrift re-inspects one account and applies the grants and
	// revokes needed to match its configured permission model.
	ResolveDrift(ctx context.Context, accountID uuid.UUID) (*models.DriftResolutionResult, error)

	// CreateSQLAccount creates the account's principal in the target
	// database, resolving the password reference first, then applies the
	// account's configured grants.
	CreateSQLAccount(ctx context.Context, accountID uuid.UUID, passwordRef string) (*models.DriftResolutionResult, error)

	// BulkResolve runs ResolveDrift for each account independently. One
	// account failing never stops the batch; the result list has one entry
	// per attempted account.
	BulkResolve(ctx context.Context, accountIDs []uuid.UUID) ([]models.DriftResolutionResult, error)

	// ImportOrphan creates a managed account for a principal that exists in
	// the target database but is not linked to any account.
	ImportOrphan(ctx context.Context, integrationID uuid.UUID, principalName string) (*models.Account, error)
}

type permissionsActionService struct {
	snapshots   SnapshotProvider
	factory     sqlinspector.Factory
	cache       PermissionsCacheService
	accountRepo repositories.AccountRepository
	resolver    secrets.Resolver
	logger      *zap.Logger
}

// NewPermissionsActionService wires the write-path action service.
func NewPermissionsActionService(
	snapshots SnapshotProvider,
	factory sqlinspector.Factory,
	cache PermissionsCacheService,
	accountRepo repositories.AccountRepository,
	resolver secrets.Resolver,
	logger *zap.Logger,
) PermissionsActionService {
	return &permissionsActionService{
		snapshots:   snapshots,
		factory:     factory,
		cache:       cache,
		accountRepo: accountRepo,
		resolver:    resolver,
		logger:      logger.Named("permissions-actions"),
	}
}

func (s *permissionsActionService) ResolveDrift(ctx context.Context, accountID uuid.UUID) (*models.DriftResolutionResult, error) {
	account, integration, err := s.resolveTarget(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &models.DriftResolutionResult{
		AccountID:     account.ID,
		PrincipalName: account.PrincipalName(),
	}

	inspector, err := s.factory.NewInspector(ctx, integration)
	if err != nil {
		return s.failResult(result, err), nil
	}
	defer inspector.Close()

	permissions, err := inspector.GetPrincipalPermissions(ctx, account.PrincipalName())
	if err != nil {
		return s.failResult(result, err), nil
	}
	if !permissions.Exists {
		result.ErrorMessage = fmt.Sprintf("principal %s does not exist in the target database; create it first", account.PrincipalName())
		return result, nil
	}

	comparisons, status := ComparePermissions(account.Grants, permissions)
	if status == models.SyncStatusInSync {
		result.Success = true
		s.refreshAfterWrite(ctx, account.ID)
		return result, nil
	}

	operations, err := inspector.ApplyPermissionChanges(ctx, account.PrincipalName(), comparisons)
	result.Operations = operations
	if err != nil {
		return s.failResult(result, err), nil
	}
	result.Success = sqlinspector.OperationsSucceeded(operations)
	if !result.Success {
		result.ErrorMessage = "some permission changes failed"
	}

	s.refreshAfterWrite(ctx, account.ID)
	return result, nil
}

func (s *permissionsActionService) CreateSQLAccount(ctx context.Context, accountID uuid.UUID, passwordRef string) (*models.DriftResolutionResult, error) {
	account, integration, err := s.resolveTarget(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &models.DriftResolutionResult{
		AccountID:     account.ID,
		PrincipalName: account.PrincipalName(),
	}

	password, err := s.resolver.Resolve(passwordRef)
	if err != nil {
		return s.failResult(result, err), nil
	}
	if password == "" {
		result.ErrorMessage = "no password provided for the new principal"
		return result, nil
	}

	inspector, err := s.factory.NewInspector(ctx, integration)
	if err != nil {
		return s.failResult(result, err), nil
	}
	defer inspector.Close()

	if err := inspector.CreatePrincipal(ctx, account.PrincipalName(), password); err != nil {
		if errors.Is(err, apperrors.ErrPrincipalExists) {
			result.ErrorMessage = fmt.Sprintf("principal %s already exists in the target database", account.PrincipalName())
			return result, nil
		}
		return s.failResult(result, err), nil
	}
	result.Operations = append(result.Operations, models.DriftResolutionOperation{
		Target:    account.PrincipalName(),
		Action:    "create_principal",
		Succeeded: true,
	})

	// The new principal starts with nothing; grant its configured model in
	// the same action so the account comes up in sync.
	if len(account.Grants) > 0 {
		comparisons, _ := ComparePermissions(account.Grants, &models.PrincipalPermissions{
			PrincipalName: account.PrincipalName(),
			Exists:        true,
		})
		operations, err := inspector.ApplyPermissionChanges(ctx, account.PrincipalName(), comparisons)
		result.Operations = append(result.Operations, operations...)
		if err != nil {
			return s.failResult(result, err), nil
		}
	}

	result.Success = sqlinspector.OperationsSucceeded(result.Operations)
	if !result.Success {
		result.ErrorMessage = "principal created but some grants failed"
	}

	s.refreshAfterWrite(ctx, account.ID)
	return result, nil
}

func (s *permissionsActionService) BulkResolve(ctx context.Context, accountIDs []uuid.UUID) ([]models.DriftResolutionResult, error) {
	results := make([]models.DriftResolutionResult, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		result, err := s.ResolveDrift(ctx, accountID)
		if err != nil {
			// Missing account or integration: record and keep going, the
			// batch contract is one result per attempted account.
			results = append(results, models.DriftResolutionResult{
				AccountID:    accountID,
				ErrorMessage: err.Error(),
			})
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

func (s *permissionsActionService) ImportOrphan(ctx context.Context, integrationID uuid.UUID, principalName string) (*models.Account, error) {
	if err := sqlident.CheckIdentifier("principal name", principalName); err != nil {
		return nil, err
	}

	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	integration := snapshot.IntegrationByID(integrationID)
	if integration == nil {
		return nil, fmt.Errorf("integration %s: %w", integrationID, apperrors.ErrNotFound)
	}

	for _, existing := range snapshot.Accounts {
		if existing.Kind == models.AccountKindDataStore &&
			existing.DataStoreID == integration.DataStoreID &&
			existing.PrincipalName() == principalName {
			return nil, fmt.Errorf("principal %s is already managed by account %s: %w",
				principalName, existing.Name, apperrors.ErrConflict)
		}
	}

	// Pre-flight existence check: importing a typo'd name would otherwise
	// create a managed account that immediately reports a missing principal.
	inspector, err := s.factory.NewInspector(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect target database: %s", logging.SanitizeError(err))
	}
	defer inspector.Close()
	permissions, err := inspector.GetPrincipalPermissions(ctx, principalName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect target database: %s", logging.SanitizeError(err))
	}
	if !permissions.Exists {
		return nil, fmt.Errorf("principal %s does not exist in the target database: %w", principalName, apperrors.ErrNotFound)
	}

	account := &models.Account{
		ID:          uuid.New(),
		Name:        principalName,
		Kind:        models.AccountKindDataStore,
		Username:    principalName,
		DataStoreID: integration.DataStoreID,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account for imported principal: %w", err)
	}

	s.logger.Info("imported orphan principal",
		zap.String("integration_id", integration.ID.String()),
		zap.String("account_id", account.ID.String()),
		zap.String("principal", principalName))

	// A full integration refresh both caches the new account's status and
	// drops the principal from the orphan list.
	if _, err := s.cache.RefreshIntegration(ctx, integration.ID); err != nil {
		s.logger.Warn("cache refresh after orphan import failed",
			zap.String("integration_id", integration.ID.String()),
			zap.Error(err))
	}
	return account, nil
}

// resolveTarget loads the account and its integration, enforcing the
// preconditions every SQL write action shares.
func (s *permissionsActionService) resolveTarget(ctx context.Context, accountID uuid.UUID) (*models.Account, *models.SQLIntegration, error) {
	snapshot, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	account := snapshot.AccountByID(accountID)
	if account == nil {
		return nil, nil, fmt.Errorf("account %s: %w", accountID, apperrors.ErrNotFound)
	}
	if account.Kind != models.AccountKindDataStore {
		return nil, nil, fmt.Errorf("account %s is not a datastore account: %w", account.Name, apperrors.ErrNoIntegration)
	}

	integration := snapshot.IntegrationForDataStore(account.DataStoreID)
	if integration == nil {
		return nil, nil, fmt.Errorf("no SQL integration for account %s: %w", account.Name, apperrors.ErrNoIntegration)
	}
	return account, integration, nil
}

// failResult stamps a sanitized failure message onto the result.
func (s *permissionsActionService) failResult(result *models.DriftResolutionResult, err error) *models.DriftResolutionResult {
	result.Success = false
	result.ErrorMessage = logging.SanitizeError(err)
	s.logger.Warn("write action failed",
		zap.String("account_id", result.AccountID.String()),
		zap.String("principal", result.PrincipalName),
		zap.String("error", result.ErrorMessage))
	return result
}

// refreshAfterWrite refreshes the account's cache entry after a SQL mutation
// so readers see the new state before the next scheduled sweep.
func (s *permissionsActionService) refreshAfterWrite(ctx context.Context, accountID uuid.UUID) {
	if _, err := s.cache.RefreshAccount(ctx, accountID); err != nil {
		s.logger.Warn("cache refresh after write failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
}

var _ PermissionsActionService = (*permissionsActionService)(nil)
