package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus classifies how an account's actual grants relate to its
// configured grants.
type SyncStatus string

const (
	// SyncStatusInSync means actual grants exactly match configured grants.
	SyncStatusInSync SyncStatus = "in_sync"
	// SyncStatusDriftDetected means at least one grant scope has missing or
	// extra privileges.
	SyncStatusDriftDetected SyncStatus = "drift_detected"
	// SyncStatusMissingPrincipal means the SQL principal does not exist in the
	// target database at all. Takes priority over any grant analysis.
	SyncStatusMissingPrincipal SyncStatus = "missing_principal"
	// SyncStatusError means the inspection itself failed (connectivity, auth).
	SyncStatusError SyncStatus = "error"
	// SyncStatusNotApplicable means the account has no SQL permissions to
	// reconcile (not a datastore account, or no integration configured).
	SyncStatusNotApplicable SyncStatus = "not_applicable"
)

// PermissionComparison is the diff unit for one normalized (database, schema)
// scope: the configured privileges, the observed privileges, and the two
// difference sets.
type PermissionComparison struct {
	Database             *string        `json:"database"`
	Schema               *string        `json:"schema"`
	ConfiguredPrivileges []SQLPrivilege `json:"configured_privileges"`
	ActualPrivileges     []SQLPrivilege `json:"actual_privileges"`
	MissingPrivileges    []SQLPrivilege `json:"missing_privileges"`
	ExtraPrivileges      []SQLPrivilege `json:"extra_privileges"`
}

// HasDrift reports whether this scope has any missing or extra privileges.
func (c *PermissionComparison) HasDrift() bool {
	return len(c.MissingPrivileges) > 0 || len(c.ExtraPrivileges) > 0
}

// CachedAccountSQLStatus is the per-account cache entry: the account's sync
// status against its SQL integration, plus the comparisons that justify it.
type CachedAccountSQLStatus struct {
	AccountID             uuid.UUID              `json:"account_id"`
	AccountName           string                 `json:"account_name"`
	PrincipalName         string                 `json:"principal_name"`
	SQLIntegrationID      uuid.UUID              `json:"sql_integration_id"`
	SQLIntegrationName    string                 `json:"sql_integration_name"`
	Status                SyncStatus             `json:"status"`
	StatusSummary         string                 `json:"status_summary"`
	PermissionComparisons []PermissionComparison `json:"permission_comparisons"`
	ErrorMessage          string                 `json:"error_message,omitempty"`
	CachedAt              time.Time              `json:"cached_at"`
}

// CachedAccountRef is the per-account index record inside
// IntegrationCacheMetadata.
type CachedAccountRef struct {
	AccountName   string `json:"account_name"`
	PrincipalName string `json:"principal_name"`
}

// IntegrationCacheMetadata indexes the per-account and per-orphan cache
// entries belonging to one integration, so a full overview can be
// reconstructed without touching the target database.
type IntegrationCacheMetadata struct {
	IntegrationID    uuid.UUID                      `json:"integration_id"`
	IntegrationName  string                         `json:"integration_name"`
	Accounts         map[uuid.UUID]CachedAccountRef `json:"accounts"`
	OrphanPrincipals []string                       `json:"orphan_principals"`
	CachedAt         time.Time                      `json:"cached_at"`
}

// OverviewSummary aggregates account counts by sync status.
type OverviewSummary struct {
	TotalAccounts    int `json:"total_accounts"`
	InSync           int `json:"in_sync"`
	DriftDetected    int `json:"drift_detected"`
	MissingPrincipal int `json:"missing_principal"`
	Errored          int `json:"errored"`
	OrphanPrincipals int `json:"orphan_principals"`
}

// SQLIntegrationPermissionsOverview is the integration-wide permissions view:
// one status per account targeting the integration's data store, the orphan
// principals found in the database, and aggregate counts.
//
// CachedAt is the age of the *least* fresh piece the overview was built from.
type SQLIntegrationPermissionsOverview struct {
	IntegrationID    uuid.UUID                `json:"integration_id"`
	IntegrationName  string                   `json:"integration_name"`
	Accounts         []CachedAccountSQLStatus `json:"accounts"`
	OrphanPrincipals []string                 `json:"orphan_principals"`
	Summary          OverviewSummary          `json:"summary"`
	CachedAt         time.Time                `json:"cached_at"`
}

// Summarize recomputes the Summary from the overview's accounts and orphans.
func (o *SQLIntegrationPermissionsOverview) Summarize() {
	summary := OverviewSummary{
		TotalAccounts:    len(o.Accounts),
		OrphanPrincipals: len(o.OrphanPrincipals),
	}
	for i := range o.Accounts {
		switch o.Accounts[i].Status {
		case SyncStatusInSync:
			summary.InSync++
		case SyncStatusDriftDetected:
			summary.DriftDetected++
		case SyncStatusMissingPrincipal:
			summary.MissingPrincipal++
		case SyncStatusError:
			summary.Errored++
		}
	}
	o.Summary = summary
}

// DriftResolutionOperation records one attempted GRANT/REVOKE/CREATE statement
// during a write-path action. Operations are independent: one failing does not
// abort the rest.
type DriftResolutionOperation struct {
	Target    string `json:"target"` // human-readable scope, e.g. "Sales.dbo"
	Action    string `json:"action"` // "grant", "revoke", "create_principal"
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// DriftResolutionResult is the structured outcome of a write-path action for
// one account, including partial-success detail.
type DriftResolutionResult struct {
	AccountID     uuid.UUID                  `json:"account_id"`
	PrincipalName string                     `json:"principal_name"`
	Success       bool                       `json:"success"`
	Operations    []DriftResolutionOperation `json:"operations"`
	ErrorMessage  string                     `json:"error_message,omitempty"`
}
