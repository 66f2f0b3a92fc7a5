package services

import (
	"sort"
	"strings"

	"github.com/fusehq/fuse-engine/pkg/models"
)

// ComparePermissions diffs an account's configured grants against the live
// permissions observed for its principal. It emits exactly one comparison per
// distinct normalized (database, schema) scope appearing in either input:
// configured-only scopes get empty actual sets, and scopes present in SQL but
// configured nowhere surface with every privilege as extra.
//
// The existence check runs before any grant analysis: a principal that is
// absent from the target database is always MissingPrincipal, even when it
// also has no grants.
func ComparePermissions(configured []models.Grant, actual *models.PrincipalPermissions) ([]models.PermissionComparison, models.SyncStatus) {
	actualByScope := make(map[scopeKey][]models.SQLPrivilege)
	actualDisplay := make(map[scopeKey]scopeDisplay)
	var actualOrder []scopeKey

	if actual != nil {
		for i := range actual.Grants {
			grant := &actual.Grants[i]
			key := normalizeScope(grant.Database, grant.Schema)
			if _, seen := actualByScope[key]; !seen {
				actualOrder = append(actualOrder, key)
				actualDisplay[key] = scopeDisplay{database: normalizeValue(grant.Database), schema: normalizeValue(grant.Schema)}
			}
			actualByScope[key] = append(actualByScope[key], grant.Privileges...)
		}
	}

	var comparisons []models.PermissionComparison
	processed := make(map[scopeKey]int) // scope -> index into comparisons

	for i := range configured {
		grant := &configured[i]
		key := normalizeScope(grant.Database, grant.Schema)

		if idx, seen := processed[key]; seen {
			// Several configured grants can share one scope; union them.
			comparison := &comparisons[idx]
			comparison.ConfiguredPrivileges = unionPrivileges(comparison.ConfiguredPrivileges, grant.Privileges)
			comparison.MissingPrivileges = subtractPrivileges(comparison.ConfiguredPrivileges, comparison.ActualPrivileges)
			comparison.ExtraPrivileges = subtractPrivileges(comparison.ActualPrivileges, comparison.ConfiguredPrivileges)
			continue
		}

		configuredSet := unionPrivileges(nil, grant.Privileges)
		actualSet := unionPrivileges(nil, actualByScope[key])

		comparisons = append(comparisons, models.PermissionComparison{
			Database:             normalizeValue(grant.Database),
			Schema:               normalizeValue(grant.Schema),
			ConfiguredPrivileges: configuredSet,
			ActualPrivileges:     actualSet,
			MissingPrivileges:    subtractPrivileges(configuredSet, actualSet),
			ExtraPrivileges:      subtractPrivileges(actualSet, configuredSet),
		})
		processed[key] = len(comparisons) - 1
	}

	// Scopes that exist in SQL but are configured nowhere: pure drift,
	// everything observed is extra.
	var unprocessed []scopeKey
	for _, key := range actualOrder {
		if _, seen := processed[key]; !seen {
			unprocessed = append(unprocessed, key)
		}
	}
	sort.Slice(unprocessed, func(a, b int) bool {
		if unprocessed[a].database != unprocessed[b].database {
			return unprocessed[a].database < unprocessed[b].database
		}
		return unprocessed[a].schema < unprocessed[b].schema
	})

	for _, key := range unprocessed {
		actualSet := unionPrivileges(nil, actualByScope[key])
		display := actualDisplay[key]
		comparisons = append(comparisons, models.PermissionComparison{
			Database:             display.database,
			Schema:               display.schema,
			ConfiguredPrivileges: nil,
			ActualPrivileges:     actualSet,
			MissingPrivileges:    nil,
			ExtraPrivileges:      actualSet,
		})
	}

	return comparisons, deriveStatus(comparisons, actual)
}

func deriveStatus(comparisons []models.PermissionComparison, actual *models.PrincipalPermissions) models.SyncStatus {
	if actual == nil || !actual.Exists {
		return models.SyncStatusMissingPrincipal
	}
	for i := range comparisons {
		if comparisons[i].HasDrift() {
			return models.SyncStatusDriftDetected
		}
	}
	return models.SyncStatusInSync
}

// scopeKey is the normalized comparison key: trimmed, case-folded, with empty
// and whitespace-only values collapsed to the canonical null ("").
type scopeKey struct {
	database string
	schema   string
}

type scopeDisplay struct {
	database *string
	schema   *string
}

func normalizeScope(database, schema *string) scopeKey {
	return scopeKey{
		database: foldValue(database),
		schema:   foldValue(schema),
	}
}

func foldValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*value))
}

// normalizeValue trims a nullable scope value, collapsing empty and
// whitespace-only strings to nil so "" and null render identically.
func normalizeValue(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// unionPrivileges merges privilege lists into a set, returned in canonical
// privilege order.
func unionPrivileges(base []models.SQLPrivilege, extra []models.SQLPrivilege) []models.SQLPrivilege {
	set := make(map[models.SQLPrivilege]bool, len(base)+len(extra))
	for _, p := range base {
		set[p] = true
	}
	for _, p := range extra {
		set[p] = true
	}
	return sortedPrivilegeSet(set)
}

// subtractPrivileges returns a − b in canonical privilege order.
func subtractPrivileges(a, b []models.SQLPrivilege) []models.SQLPrivilege {
	remove := make(map[models.SQLPrivilege]bool, len(b))
	for _, p := range b {
		remove[p] = true
	}
	set := make(map[models.SQLPrivilege]bool, len(a))
	for _, p := range a {
		if !remove[p] {
			set[p] = true
		}
	}
	return sortedPrivilegeSet(set)
}

func sortedPrivilegeSet(set map[models.SQLPrivilege]bool) []models.SQLPrivilege {
	if len(set) == 0 {
		return nil
	}
	result := make([]models.SQLPrivilege, 0, len(set))
	for _, known := range models.KnownPrivileges {
		if set[known] {
			result = append(result, known)
			delete(set, known)
		}
	}
	if len(set) > 0 {
		// Privileges outside the managed enum keep deterministic order too.
		var rest []models.SQLPrivilege
		for p := range set {
			rest = append(rest, p)
		}
		sort.Slice(rest, func(a, b int) bool { return rest[a] < rest[b] })
		result = append(result, rest...)
	}
	return result
}
