package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/sqlident"
)

// Inspector reads and mutates role permissions in a PostgreSQL database.
// One instance per integration connection; not shared across refreshes.
type Inspector struct {
	config *Config
	db     *sql.DB
}

// NewInspector opens a connection to the target PostgreSQL database.
// Secret references in the password are resolved through opts.Secrets.
func NewInspector(ctx context.Context, config map[string]any, opts sqlinspector.Options) (sqlinspector.Inspector, error) {
	cfg, err := FromMap(config)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
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
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	db, err := sql.Open("pgx", connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return &Inspector{config: cfg, db: db}, nil
}

func connectionString(cfg *Config) string {
	parts := []string{
		fmt.Sprintf("host=%s", cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("user=%s", cfg.Username),
		fmt.Sprintf("dbname=%s", cfg.Database),
		fmt.Sprintf("sslmode=%s", cfg.SSLMode),
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}
	if cfg.ConnectionTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", cfg.ConnectionTimeout))
	}
	return strings.Join(parts, " ")
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

// GetPrincipalPermissions reads the live grants of one role.
func (i *Inspector) GetPrincipalPermissions(ctx context.Context, principalName string) (*models.PrincipalPermissions, error) {
	perms := &models.PrincipalPermissions{PrincipalName: principalName}

	var count int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_roles WHERE rolname = $1`,
		principalName).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("check role existence: %w", err)
	}
	if count == 0 {
		return perms, nil
	}
	perms.Exists = true

	schemaPrivileges := make(map[string]map[models.SQLPrivilege]bool)
	databasePrivileges := make(map[models.SQLPrivilege]bool)

	// Explicit database-level grants (CONNECT and friends) from the database ACL.
	// has_database_privilege would also count what PUBLIC has, which is not an
	// explicit grant to this role and must not show up as "extra".
	rows, err := i.db.QueryContext(ctx, `
		SELECT acl.privilege_type
		FROM (SELECT (aclexplode(datacl)).* FROM pg_database WHERE datname = current_database()) acl
		JOIN pg_roles r ON r.oid = acl.grantee
		WHERE r.rolname = $1`,
		principalName)
	if err != nil {
		return nil, fmt.Errorf("query database grants: %w", err)
	}
	for rows.Next() {
		var privilegeType string
		if err := rows.Scan(&privilegeType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan database grant row: %w", err)
		}
		if privilege := models.SQLPrivilege(strings.ToUpper(privilegeType)); privilege.IsKnown() {
			databasePrivileges[privilege] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate database grant rows: %w", err)
	}

	// Table grants, aggregated to schema level.
	rows, err = i.db.QueryContext(ctx, `
		SELECT table_schema, privilege_type
		FROM information_schema.role_table_grants
		WHERE grantee = $1
		GROUP BY table_schema, privilege_type`,
		principalName)
	if err != nil {
		return nil, fmt.Errorf("query table grants: %w", err)
	}
	for rows.Next() {
		var schemaName, privilegeType string
		if err := rows.Scan(&schemaName, &privilegeType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table grant row: %w", err)
		}
		privilege := models.SQLPrivilege(strings.ToUpper(privilegeType))
		if !privilege.IsKnown() {
			continue
		}
		if schemaPrivileges[schemaName] == nil {
			schemaPrivileges[schemaName] = make(map[models.SQLPrivilege]bool)
		}
		schemaPrivileges[schemaName][privilege] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table grant rows: %w", err)
	}

	// Routine grants give EXECUTE per schema.
	rows, err = i.db.QueryContext(ctx, `
		SELECT DISTINCT routine_schema
		FROM information_schema.role_routine_grants
		WHERE grantee = $1 AND privilege_type = 'EXECUTE'`,
		principalName)
	if err != nil {
		return nil, fmt.Errorf("query routine grants: %w", err)
	}
	for rows.Next() {
		var schemaName string
		if err := rows.Scan(&schemaName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan routine grant row: %w", err)
		}
		if schemaPrivileges[schemaName] == nil {
			schemaPrivileges[schemaName] = make(map[models.SQLPrivilege]bool)
		}
		schemaPrivileges[schemaName][models.PrivilegeExecute] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routine grant rows: %w", err)
	}

	database := i.config.Database

	if len(databasePrivileges) > 0 {
		db := database
		perms.Grants = append(perms.Grants, models.ActualGrant{
			Database:   &db,
			Privileges: sortedPrivileges(databasePrivileges),
		})
	}

	schemas := make([]string, 0, len(schemaPrivileges))
	for schemaName := range schemaPrivileges {
		schemas = append(schemas, schemaName)
	}
	sort.Strings(schemas)

	for _, schemaName := range schemas {
		db := database
		schema := schemaName
		perms.Grants = append(perms.Grants, models.ActualGrant{
			Database:   &db,
			Schema:     &schema,
			Privileges: sortedPrivileges(schemaPrivileges[schemaName]),
		})
	}

	return perms, nil
}

// ListPrincipals returns all non-system login roles in the cluster.
func (i *Inspector) ListPrincipals(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT rolname FROM pg_roles
		WHERE rolcanlogin AND rolname NOT LIKE 'pg\_%'
		ORDER BY rolname`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role rows: %w", err)
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
			operations = append(operations, i.applyStatements(ctx, "grant", principalName, comparison, comparison.MissingPrivileges))
		}
		if len(comparison.ExtraPrivileges) > 0 {
			operations = append(operations, i.applyStatements(ctx, "revoke", principalName, comparison, comparison.ExtraPrivileges))
		}
	}

	return operations, nil
}

func (i *Inspector) applyStatements(ctx context.Context, action, principalName string, comparison *models.PermissionComparison, privileges []models.SQLPrivilege) models.DriftResolutionOperation {
	op := models.DriftResolutionOperation{
		Target: scopeLabel(i.config.Database, comparison),
		Action: action,
	}

	if comparison.Database != nil && *comparison.Database != i.config.Database {
		op.Error = fmt.Sprintf("scope database %q is outside integration database %q", *comparison.Database, i.config.Database)
		return op
	}

	statements, err := i.buildStatements(action, principalName, comparison, privileges)
	if err != nil {
		op.Error = err.Error()
		return op
	}

	for _, stmt := range statements {
		if _, err := i.db.ExecContext(ctx, stmt); err != nil {
			op.Error = err.Error()
			return op
		}
	}

	op.Succeeded = true
	return op
}

func (i *Inspector) buildStatements(action, principalName string, comparison *models.PermissionComparison, privileges []models.SQLPrivilege) ([]string, error) {
	var verb, preposition string
	switch action {
	case "grant":
		verb, preposition = "GRANT", "TO"
	case "revoke":
		verb, preposition = "REVOKE", "FROM"
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}

	role := quoteIdent(principalName)

	if comparison.Schema == nil {
		var statements []string
		for _, privilege := range privileges {
			if privilege != models.PrivilegeConnect {
				return nil, fmt.Errorf("privilege %s is not supported at database scope by the postgres integration", privilege)
			}
			statements = append(statements,
				fmt.Sprintf("%s CONNECT ON DATABASE %s %s %s", verb, quoteIdent(i.config.Database), preposition, role))
		}
		return statements, nil
	}

	if err := sqlident.CheckIdentifier("schema name", *comparison.Schema); err != nil {
		return nil, err
	}
	schema := quoteIdent(*comparison.Schema)

	var tablePrivileges []string
	var wantsExecute bool
	for _, privilege := range privileges {
		switch privilege {
		case models.PrivilegeSelect, models.PrivilegeInsert, models.PrivilegeUpdate, models.PrivilegeDelete:
			tablePrivileges = append(tablePrivileges, string(privilege))
		case models.PrivilegeExecute:
			wantsExecute = true
		default:
			return nil, fmt.Errorf("privilege %s is not supported at schema scope by the postgres integration", privilege)
		}
	}

	var statements []string
	if len(tablePrivileges) > 0 {
		statements = append(statements,
			fmt.Sprintf("%s %s ON ALL TABLES IN SCHEMA %s %s %s",
				verb, strings.Join(tablePrivileges, ", "), schema, preposition, role))
	}
	if wantsExecute {
		statements = append(statements,
			fmt.Sprintf("%s EXECUTE ON ALL FUNCTIONS IN SCHEMA %s %s %s", verb, schema, preposition, role))
	}
	return statements, nil
}

// CreatePrincipal creates a new login role with a password.
func (i *Inspector) CreatePrincipal(ctx context.Context, principalName, password string) error {
	if err := sqlident.CheckIdentifier("principal name", principalName); err != nil {
		return err
	}

	var count int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_roles WHERE rolname = $1`,
		principalName).Scan(&count)
	if err != nil {
		return fmt.Errorf("check role existence: %w", err)
	}
	if count > 0 {
		return apperrors.ErrPrincipalExists
	}

	stmt := fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD '%s'",
		quoteIdent(principalName), strings.ReplaceAll(password, "'", "''"))
	if _, err := i.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create role: %w", err)
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

func sortedPrivileges(set map[models.SQLPrivilege]bool) []models.SQLPrivilege {
	var privileges []models.SQLPrivilege
	for _, known := range models.KnownPrivileges {
		if set[known] {
			privileges = append(privileges, known)
		}
	}
	return privileges
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Ensure Inspector implements the interface at compile time.
var _ sqlinspector.Inspector = (*Inspector)(nil)
