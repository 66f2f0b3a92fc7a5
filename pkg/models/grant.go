package models

// SQLPrivilege is a single database privilege that can be granted to a principal.
type SQLPrivilege string

const (
	PrivilegeSelect  SQLPrivilege = "SELECT"
	PrivilegeInsert  SQLPrivilege = "INSERT"
	PrivilegeUpdate  SQLPrivilege = "UPDATE"
	PrivilegeDelete  SQLPrivilege = "DELETE"
	PrivilegeExecute SQLPrivilege = "EXECUTE"
	PrivilegeConnect SQLPrivilege = "CONNECT"
	PrivilegeAlter   SQLPrivilege = "ALTER"
	PrivilegeControl SQLPrivilege = "CONTROL"
)

// KnownPrivileges lists every privilege the engine understands, in display order.
var KnownPrivileges = []SQLPrivilege{
	PrivilegeSelect,
	PrivilegeInsert,
	PrivilegeUpdate,
	PrivilegeDelete,
	PrivilegeExecute,
	PrivilegeConnect,
	PrivilegeAlter,
	PrivilegeControl,
}

// IsKnown reports whether p is one of the privileges the engine manages.
func (p SQLPrivilege) IsKnown() bool {
	for _, known := range KnownPrivileges {
		if p == known {
			return true
		}
	}
	return false
}

// Grant is a configured permission set owned by an account.
// Database and Schema are nullable: nil means "not scoped to a database/schema".
// Grants are immutable once created; editing replaces an account's grant set
// wholesale.
type Grant struct {
	Database   *string        `json:"database"`
	Schema     *string        `json:"schema"`
	Privileges []SQLPrivilege `json:"privileges"`
}

// ActualGrant is a permission set observed by live inspection of a target
// database. Same shape as Grant but never persisted.
type ActualGrant struct {
	Database   *string        `json:"database"`
	Schema     *string        `json:"schema"`
	Privileges []SQLPrivilege `json:"privileges"`
}

// PrincipalPermissions is the result of inspecting one principal in a target
// database. Transient, produced per inspection call.
type PrincipalPermissions struct {
	PrincipalName string        `json:"principal_name"`
	Exists        bool          `json:"exists"`
	Grants        []ActualGrant `json:"grants"`
}
