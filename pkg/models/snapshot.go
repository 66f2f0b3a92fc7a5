package models

import "github.com/google/uuid"

// Snapshot is a read-only view of the domain data the permissions engine
// operates on. It is loaded once per refresh so that a sweep sees a
// consistent set of accounts and integrations.
type Snapshot struct {
	Accounts        []*Account
	DataStores      []*DataStore
	SQLIntegrations []*SQLIntegration
}

// AccountByID returns the account with the given ID, or nil.
func (s *Snapshot) AccountByID(id uuid.UUID) *Account {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// IntegrationByID returns the SQL integration with the given ID, or nil.
func (s *Snapshot) IntegrationByID(id uuid.UUID) *SQLIntegration {
	for _, i := range s.SQLIntegrations {
		if i.ID == id {
			return i
		}
	}
	return nil
}

// IntegrationForDataStore returns the SQL integration configured for the
// given data store, or nil if none is configured.
func (s *Snapshot) IntegrationForDataStore(dataStoreID uuid.UUID) *SQLIntegration {
	if dataStoreID == uuid.Nil {
		return nil
	}
	for _, i := range s.SQLIntegrations {
		if i.DataStoreID == dataStoreID {
			return i
		}
	}
	return nil
}

// AccountsForDataStore returns all datastore accounts targeting the given
// data store.
func (s *Snapshot) AccountsForDataStore(dataStoreID uuid.UUID) []*Account {
	var accounts []*Account
	for _, a := range s.Accounts {
		if a.Kind == AccountKindDataStore && a.DataStoreID == dataStoreID {
			accounts = append(accounts, a)
		}
	}
	return accounts
}
