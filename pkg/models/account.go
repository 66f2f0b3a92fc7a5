package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountKind distinguishes what an account's target is.
type AccountKind string

const (
	// AccountKindDataStore accounts target a data store and carry SQL grants.
	AccountKindDataStore AccountKind = "datastore"
	// AccountKindApplication accounts target an application; they have no SQL
	// permissions to reconcile.
	AccountKindApplication AccountKind = "application"
)

// Account represents a managed account in the inventory.
// For datastore accounts, Username is the SQL principal name inside the
// target database and Grants is the declared permission model.
type Account struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Kind        AccountKind `json:"kind"`
	Username    string      `json:"username"`
	DataStoreID uuid.UUID   `json:"data_store_id"` // uuid.Nil for non-datastore accounts
	Grants      []Grant     `json:"grants"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// PrincipalName resolves the SQL principal name for this account.
// Falls back to the account name when no explicit username is configured.
func (a *Account) PrincipalName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Name
}
