package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/models"
)

// mockCacheService is a configurable mock for handler tests.
type mockCacheService struct {
	overview   *models.SQLIntegrationPermissionsOverview
	overviewOK bool
	status     *models.CachedAccountSQLStatus
	statusOK   bool

	refreshOverview *models.SQLIntegrationPermissionsOverview
	refreshStatus   *models.CachedAccountSQLStatus
	refreshErr      error

	refreshedIntegrations   []uuid.UUID
	refreshedAccounts       []uuid.UUID
	invalidatedIntegrations []uuid.UUID
	invalidatedAccounts     []uuid.UUID
}

func (m *mockCacheService) GetCachedOverview(_ uuid.UUID) (*models.SQLIntegrationPermissionsOverview, bool) {
	return m.overview, m.overviewOK
}

func (m *mockCacheService) GetCachedAccountStatus(_ uuid.UUID) (*models.CachedAccountSQLStatus, bool) {
	return m.status, m.statusOK
}

func (m *mockCacheService) RefreshIntegration(_ context.Context, integrationID uuid.UUID) (*models.SQLIntegrationPermissionsOverview, error) {
	m.refreshedIntegrations = append(m.refreshedIntegrations, integrationID)
	return m.refreshOverview, m.refreshErr
}

func (m *mockCacheService) RefreshAccount(_ context.Context, accountID uuid.UUID) (*models.CachedAccountSQLStatus, error) {
	m.refreshedAccounts = append(m.refreshedAccounts, accountID)
	return m.refreshStatus, m.refreshErr
}

func (m *mockCacheService) InvalidateIntegration(integrationID uuid.UUID) {
	m.invalidatedIntegrations = append(m.invalidatedIntegrations, integrationID)
}

func (m *mockCacheService) InvalidateAccount(accountID uuid.UUID) {
	m.invalidatedAccounts = append(m.invalidatedAccounts, accountID)
}

func (m *mockCacheService) Run(_ context.Context) {}

// mockActionService is a configurable mock for the write-path actions.
type mockActionService struct {
	result  *models.DriftResolutionResult
	results []models.DriftResolutionResult
	account *models.Account
	err     error

	resolved []uuid.UUID
}

func (m *mockActionService) ResolveDrift(_ context.Context, accountID uuid.UUID) (*models.DriftResolutionResult, error) {
	m.resolved = append(m.resolved, accountID)
	return m.result, m.err
}

func (m *mockActionService) CreateSQLAccount(_ context.Context, _ uuid.UUID, _ string) (*models.DriftResolutionResult, error) {
	return m.result, m.err
}

func (m *mockActionService) BulkResolve(_ context.Context, _ []uuid.UUID) ([]models.DriftResolutionResult, error) {
	return m.results, m.err
}

func (m *mockActionService) ImportOrphan(_ context.Context, _ uuid.UUID, _ string) (*models.Account, error) {
	return m.account, m.err
}

// mockAccountRepository keeps accounts in a map.
type mockAccountRepository struct {
	accounts map[uuid.UUID]*models.Account
	err      error

	replacedGrants map[uuid.UUID][]models.Grant
}

func newMockAccountRepository(accounts ...*models.Account) *mockAccountRepository {
	m := &mockAccountRepository{
		accounts:       make(map[uuid.UUID]*models.Account),
		replacedGrants: make(map[uuid.UUID][]models.Grant),
	}
	for _, account := range accounts {
		m.accounts[account.ID] = account
	}
	return m
}

func (m *mockAccountRepository) Create(_ context.Context, account *models.Account) error {
	if m.err != nil {
		return m.err
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *mockAccountRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	if account, ok := m.accounts[id]; ok {
		return account, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockAccountRepository) List(_ context.Context) ([]*models.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	accounts := make([]*models.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (m *mockAccountRepository) Update(_ context.Context, account *models.Account) error {
	if m.err != nil {
		return m.err
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *mockAccountRepository) ReplaceGrants(_ context.Context, id uuid.UUID, grants []models.Grant) error {
	if m.err != nil {
		return m.err
	}
	m.replacedGrants[id] = grants
	return nil
}

func (m *mockAccountRepository) Delete(_ context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	delete(m.accounts, id)
	return nil
}

// mockIntegrationRepository keeps integrations in a map.
type mockIntegrationRepository struct {
	integrations map[uuid.UUID]*models.SQLIntegration
	err          error
}

func newMockIntegrationRepository(integrations ...*models.SQLIntegration) *mockIntegrationRepository {
	m := &mockIntegrationRepository{integrations: make(map[uuid.UUID]*models.SQLIntegration)}
	for _, integration := range integrations {
		m.integrations[integration.ID] = integration
	}
	return m
}

func (m *mockIntegrationRepository) Create(_ context.Context, integration *models.SQLIntegration) error {
	if m.err != nil {
		return m.err
	}
	m.integrations[integration.ID] = integration
	return nil
}

func (m *mockIntegrationRepository) GetByID(_ context.Context, id uuid.UUID) (*models.SQLIntegration, error) {
	if m.err != nil {
		return nil, m.err
	}
	if integration, ok := m.integrations[id]; ok {
		return integration, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockIntegrationRepository) List(_ context.Context) ([]*models.SQLIntegration, error) {
	if m.err != nil {
		return nil, m.err
	}
	integrations := make([]*models.SQLIntegration, 0, len(m.integrations))
	for _, integration := range m.integrations {
		integrations = append(integrations, integration)
	}
	return integrations, nil
}

func (m *mockIntegrationRepository) Update(_ context.Context, integration *models.SQLIntegration) error {
	if m.err != nil {
		return m.err
	}
	m.integrations[integration.ID] = integration
	return nil
}

func (m *mockIntegrationRepository) Delete(_ context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	delete(m.integrations, id)
	return nil
}

// mockFactory returns a fixed inspector or error.
type mockFactory struct {
	inspector sqlinspector.Inspector
	err       error
	types     []sqlinspector.InspectorInfo
}

func (f *mockFactory) NewInspector(_ context.Context, _ *models.SQLIntegration) (sqlinspector.Inspector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.inspector, nil
}

func (f *mockFactory) ListTypes() []sqlinspector.InspectorInfo { return f.types }

// mockTestInspector only supports connection tests.
type mockTestInspector struct {
	testErr error
}

func (m *mockTestInspector) TestConnection(_ context.Context) error { return m.testErr }

func (m *mockTestInspector) GetPrincipalPermissions(_ context.Context, principalName string) (*models.PrincipalPermissions, error) {
	return &models.PrincipalPermissions{PrincipalName: principalName}, nil
}

func (m *mockTestInspector) ListPrincipals(_ context.Context) ([]string, error) { return nil, nil }

func (m *mockTestInspector) ApplyPermissionChanges(_ context.Context, _ string, _ []models.PermissionComparison) ([]models.DriftResolutionOperation, error) {
	return nil, nil
}

func (m *mockTestInspector) CreatePrincipal(_ context.Context, _, _ string) error { return nil }

func (m *mockTestInspector) Close() error { return nil }
