package sqlinspector

import (
	"context"

	"github.com/fusehq/fuse-engine/pkg/models"
)

// Inspector is the engine's window into one target database. It reads the
// live permission state of principals and applies permission changes.
// Each instance owns its connection and must be closed when done.
//
// Inspectors never decide policy: drift classification happens in the
// comparator, and error-to-status conversion happens in the services that
// call them.
type Inspector interface {
	// TestConnection verifies the target database is reachable with valid
	// credentials.
	TestConnection(ctx context.Context) error

	// GetPrincipalPermissions reads the live grants of one principal.
	// A principal that does not exist yields Exists=false, not an error.
	GetPrincipalPermissions(ctx context.Context, principalName string) (*models.PrincipalPermissions, error)

	// ListPrincipals returns the names of all non-system principals present
	// in the target database. Used for orphan detection.
	ListPrincipals(ctx context.Context) ([]string, error)

	// ApplyPermissionChanges issues one GRANT per comparison with missing
	// privileges and one REVOKE per comparison with extra privileges.
	// Statements are independent: one failing does not abort the rest, and
	// every attempt is recorded as an operation. The returned error is
	// non-nil only when no statement could be attempted at all.
	ApplyPermissionChanges(ctx context.Context, principalName string, comparisons []models.PermissionComparison) ([]models.DriftResolutionOperation, error)

	// CreatePrincipal creates a new login/user in the target database.
	// Returns apperrors.ErrPrincipalExists if the principal is already there.
	CreatePrincipal(ctx context.Context, principalName, password string) error

	// Close releases the database connection.
	Close() error
}

// OperationsSucceeded reports whether every operation in a best-effort apply
// succeeded. An empty list counts as success (nothing needed changing).
func OperationsSucceeded(ops []models.DriftResolutionOperation) bool {
	for i := range ops {
		if !ops[i].Succeeded {
			return false
		}
	}
	return true
}
