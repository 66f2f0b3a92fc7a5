package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/sqlident"
)

// Inspector reads and mutates principal permissions in a SQL Server database.
// One instance per integration connection; not shared across refreshes.
type Inspector struct {
	config *Config
	db     *sql.DB
}

// NewInspector opens a connection to the target SQL Server database.
// Secret references in the password are resolved through opts.Secrets.
func NewInspector(ctx context.Context, config map[string]any, opts sqlinspector.Options) (sqlinspector.Inspector, error) {
	cfg, err := FromMap(config)
	if err != nil {
		return nil, fmt.Errorf("invalid mssql config: %w", err)
	}

	if opts.Secrets != nil {
		password, err := opts.Secrets.Resolve(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("resolve integration password: %w", err)
		}
		cfg.Password = password
	}

	if cfg.ConnectionTimeout == 0 && opts.ConnectTimeout > 0 {
		cfg.ConnectionTimeout = int(opts.ConnectTimeout.Seconds())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mssql config: %w", err)
	}

	db, err := sql.Open("sqlserver", connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return &Inspector{config: cfg, db: db}, nil
}

func connectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		query.Encode(),
	)
}

// TestConnection verifies the database is reachable with valid credentials.
func (i *Inspector) TestConnection(ctx context.Context) error {
	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := i.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	return nil
}

// GetPrincipalPermissions reads the live grants of one principal.
func (i *Inspector) GetPrincipalPermissions(ctx context.Context, principalName string) (*models.PrincipalPermissions, error) {
	perms := &models.PrincipalPermissions{PrincipalName: principalName}

	var count int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sys.database_principals WHERE name = @p1`,
		principalName).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("check principal existence: %w", err)
	}
	if count == 0 {
		return perms, nil
	}
	perms.Exists = true

	// Database-scope permissions (class 0) and schema-scope permissions
	// (class 3). Object-level grants are outside the managed model and are
	// deliberately not surfaced here.
	rows, err := i.db.QueryContext(ctx, `
		SELECT dp.permission_name, dp.class, ISNULL(SCHEMA_NAME(dp.major_id), '')
		FROM sys.database_permissions dp
		JOIN sys.database_principals pr ON pr.principal_id = dp.grantee_principal_id
		WHERE pr.name = @p1 AND dp.state IN ('G', 'W') AND dp.class IN (0, 3)`,
		principalName)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	type scope struct {
		database string
		schema   string
	}
	grouped := make(map[scope][]models.SQLPrivilege)

	for rows.Next() {
		var permissionName string
		var class int
		var schemaName string
		if err := rows.Scan(&permissionName, &class, &schemaName); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}

		privilege := models.SQLPrivilege(strings.ToUpper(strings.TrimSpace(permissionName)))
		if !privilege.IsKnown() {
			continue
		}

		key := scope{database: i.config.Database}
		if class == 3 {
			key.schema = schemaName
		}
		grouped[key] = append(grouped[key], privilege)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission rows: %w", err)
	}

	keys := make([]scope, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].database != keys[b].database {
			return keys[a].database < keys[b].database
		}
		return keys[a].schema < keys[b].schema
	})

	for _, key := range keys {
		grant := models.ActualGrant{Privileges: grouped[key]}
		if key.database != "" {
			db := key.database
			grant.Database = &db
		}
		if key.schema != "" {
			schema := key.schema
			grant.Schema = &schema
		}
		perms.Grants = append(perms.Grants, grant)
	}

	return perms, nil
}

// ListPrincipals returns all non-system SQL users in the database.
func (i *Inspector) ListPrincipals(ctx context.Context) ([]string, error) {
	// principal_id <= 4 are dbo, guest, INFORMATION_SCHEMA and sys.
	rows, err := i.db.QueryContext(ctx, `
		SELECT name FROM sys.database_principals
		WHERE type IN ('S', 'U') AND principal_id > 4
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query principals: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan principal row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principal rows: %w", err)
	}

	return names, nil
}

// ApplyPermissionChanges issues GRANT/REVOKE statements per comparison,
// best-effort. Every attempted statement yields one operation record.
func (i *Inspector) ApplyPermissionChanges(ctx context.Context, principalName string, comparisons []models.PermissionComparison) ([]models.DriftResolutionOperation, error) {
	if err := sqlident.CheckIdentifier("principal name", principalName); err != nil {
		return nil, err
	}

	var operations []models.DriftResolutionOperation
	for idx := range comparisons {
		comparison := &comparisons[idx]

		if len(comparison.MissingPrivileges) > 0 {
			operations = append(operations, i.applyStatement(ctx, "grant", principalName, comparison, comparison.MissingPrivileges))
		}
		if len(comparison.ExtraPrivileges) > 0 {
			operations = append(operations, i.applyStatement(ctx, "revoke", principalName, comparison, comparison.ExtraPrivileges))
		}
	}

	return operations, nil
}

func (i *Inspector) applyStatement(ctx context.Context, action, principalName string, comparison *models.PermissionComparison, privileges []models.SQLPrivilege) models.DriftResolutionOperation {
	op := models.DriftResolutionOperation{
		Target: scopeLabel(i.config.Database, comparison),
		Action: action,
	}

	if comparison.Database != nil && !strings.EqualFold(*comparison.Database, i.config.Database) {
		op.Error = fmt.Sprintf("scope database %q is outside integration database %q", *comparison.Database, i.config.Database)
		return op
	}

	stmt, err := buildStatement(action, principalName, comparison, privileges)
	if err != nil {
		op.Error = err.Error()
		return op
	}

	if _, err := i.db.ExecContext(ctx, stmt); err != nil {
		op.Error = err.Error()
		return op
	}

	op.Succeeded = true
	return op
}

func buildStatement(action, principalName string, comparison *models.PermissionComparison, privileges []models.SQLPrivilege) (string, error) {
	names := make([]string, len(privileges))
	for idx, privilege := range privileges {
		names[idx] = string(privilege)
	}
	privilegeList := strings.Join(names, ", ")

	var verb, preposition string
	switch action {
	case "grant":
		verb, preposition = "GRANT", "TO"
	case "revoke":
		verb, preposition = "REVOKE", "FROM"
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}

	if comparison.Schema == nil {
		// Database-scope grant: GRANT CONNECT TO [user]
		return fmt.Sprintf("%s %s %s %s", verb, privilegeList, preposition, quoteIdent(principalName)), nil
	}

	if err := sqlident.CheckIdentifier("schema name", *comparison.Schema); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s ON SCHEMA::%s %s %s",
		verb, privilegeList, quoteIdent(*comparison.Schema), preposition, quoteIdent(principalName)), nil
}

// CreatePrincipal creates a contained database user with a password.
func (i *Inspector) CreatePrincipal(ctx context.Context, principalName, password string) error {
	if err := sqlident.CheckIdentifier("principal name", principalName); err != nil {
		return err
	}

	var count int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sys.database_principals WHERE name = @p1`,
		principalName).Scan(&count)
	if err != nil {
		return fmt.Errorf("check principal existence: %w", err)
	}
	if count > 0 {
		return apperrors.ErrPrincipalExists
	}

	stmt := fmt.Sprintf("CREATE USER %s WITH PASSWORD = N'%s'",
		quoteIdent(principalName), strings.ReplaceAll(password, "'", "''"))
	if _, err := i.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create principal: %w", err)
	}

	return nil
}

// Close releases the database connection.
func (i *Inspector) Close() error {
	return i.db.Close()
}

func scopeLabel(defaultDatabase string, comparison *models.PermissionComparison) string {
	database := defaultDatabase
	if comparison.Database != nil {
		database = *comparison.Database
	}
	if comparison.Schema != nil {
		return database + "." + *comparison.Schema
	}
	return database
}

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// Ensure Inspector implements the interface at compile time.
var _ sqlinspector.Inspector = (*Inspector)(nil)
