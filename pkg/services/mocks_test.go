package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/models"
)

type mockSnapshotProvider struct {
	snapshot *models.Snapshot
	err      error
}

func (m *mockSnapshotProvider) GetSnapshot(_ context.Context) (*models.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

// mockInspector serves canned principal state. Principals absent from the
// permissions map report Exists=false.
type mockInspector struct {
	mu sync.Mutex

	permissions map[string]*models.PrincipalPermissions
	principals  []string

	getErr         error
	errByPrincipal map[string]error
	listErr        error
	applyErr       error
	createErr      error

	applyOps     []models.DriftResolutionOperation
	applied      [][]models.PermissionComparison
	created      []string
	closed       bool
	inspectedFor []string
}

func (m *mockInspector) TestConnection(_ context.Context) error { return nil }

func (m *mockInspector) GetPrincipalPermissions(_ context.Context, principalName string) (*models.PrincipalPermissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inspectedFor = append(m.inspectedFor, principalName)
	if m.getErr != nil {
		return nil, m.getErr
	}
	if err, ok := m.errByPrincipal[principalName]; ok {
		return nil, err
	}
	if perms, ok := m.permissions[principalName]; ok {
		return perms, nil
	}
	return &models.PrincipalPermissions{PrincipalName: principalName, Exists: false}, nil
}

func (m *mockInspector) ListPrincipals(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.principals, nil
}

func (m *mockInspector) ApplyPermissionChanges(_ context.Context, _ string, comparisons []models.PermissionComparison) ([]models.DriftResolutionOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, comparisons)
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return m.applyOps, nil
}

func (m *mockInspector) CreatePrincipal(_ context.Context, principalName, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, principalName)
	return nil
}

func (m *mockInspector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// mockInspectorFactory hands out one mock inspector per integration ID.
type mockInspectorFactory struct {
	inspectors map[uuid.UUID]*mockInspector
	errs       map[uuid.UUID]error
}

func (f *mockInspectorFactory) NewInspector(_ context.Context, integration *models.SQLIntegration) (sqlinspector.Inspector, error) {
	if err, ok := f.errs[integration.ID]; ok {
		return nil, err
	}
	inspector, ok := f.inspectors[integration.ID]
	if !ok {
		return nil, fmt.Errorf("no mock inspector for integration %s", integration.ID)
	}
	return inspector, nil
}

func (f *mockInspectorFactory) ListTypes() []sqlinspector.InspectorInfo { return nil }

// fakeClock is a manually advanced time source for deterministic TTL and
// freshness tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockAccountRepo struct {
	mu        sync.Mutex
	created   []*models.Account
	createErr error
}

func (m *mockAccountRepo) Create(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, account)
	return nil
}

func (m *mockAccountRepo) GetByID(_ context.Context, _ uuid.UUID) (*models.Account, error) {
	return nil, nil
}

func (m *mockAccountRepo) List(_ context.Context) ([]*models.Account, error) { return nil, nil }

func (m *mockAccountRepo) Update(_ context.Context, _ *models.Account) error { return nil }

func (m *mockAccountRepo) ReplaceGrants(_ context.Context, _ uuid.UUID, _ []models.Grant) error {
	return nil
}

func (m *mockAccountRepo) Delete(_ context.Context, _ uuid.UUID) error { return nil }
