package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusehq/fuse-engine/pkg/models"
)

// permissionsCacheStore is the in-memory two-tier cache: integration metadata
// entries index per-account and per-orphan entries. Every write stamps an
// absolute expiration; expired entries behave as absent on read and are
// removed lazily.
//
// The store guards each map with one mutex. Callers never hold the lock
// across inspector I/O, so contention stays on fast map operations only.
type permissionsCacheStore struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	accounts map[uuid.UUID]*accountCacheEntry
	orphans  map[orphanKey]*orphanCacheEntry
	metadata map[uuid.UUID]*metadataCacheEntry
}

type orphanKey struct {
	integrationID uuid.UUID
	principal     string
}

type accountCacheEntry struct {
	status    models.CachedAccountSQLStatus
	expiresAt time.Time
}

type orphanCacheEntry struct {
	cachedAt  time.Time
	expiresAt time.Time
}

type metadataCacheEntry struct {
	metadata  models.IntegrationCacheMetadata
	expiresAt time.Time
}

func newPermissionsCacheStore(ttl time.Duration, now func() time.Time) *permissionsCacheStore {
	if now == nil {
		now = time.Now
	}
	return &permissionsCacheStore{
		ttl:      ttl,
		now:      now,
		accounts: make(map[uuid.UUID]*accountCacheEntry),
		orphans:  make(map[orphanKey]*orphanCacheEntry),
		metadata: make(map[uuid.UUID]*metadataCacheEntry),
	}
}

// SetAccount stores one account status. The entry's CachedAt is preserved as
// written by the caller; only the expiration is stamped here.
func (s *permissionsCacheStore) SetAccount(status models.CachedAccountSQLStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[status.AccountID] = &accountCacheEntry{
		status:    status,
		expiresAt: s.now().Add(s.ttl),
	}
}

// GetAccount returns a copy of the cached status, or false if absent or
// expired. Expired entries are removed on the way out.
func (s *permissionsCacheStore) GetAccount(accountID uuid.UUID) (*models.CachedAccountSQLStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.accounts[accountID]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.accounts, accountID)
		return nil, false
	}
	status := entry.status
	return &status, true
}

func (s *permissionsCacheStore) DeleteAccount(accountID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, accountID)
}

// SetOrphan stores the freshness sample for one orphan principal.
func (s *permissionsCacheStore) SetOrphan(integrationID uuid.UUID, principal string, cachedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans[orphanKey{integrationID, principal}] = &orphanCacheEntry{
		cachedAt:  cachedAt,
		expiresAt: s.now().Add(s.ttl),
	}
}

func (s *permissionsCacheStore) GetOrphan(integrationID uuid.UUID, principal string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orphanKey{integrationID, principal}
	entry, ok := s.orphans[key]
	if !ok {
		return time.Time{}, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.orphans, key)
		return time.Time{}, false
	}
	return entry.cachedAt, true
}

func (s *permissionsCacheStore) DeleteOrphan(integrationID uuid.UUID, principal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orphans, orphanKey{integrationID, principal})
}

// SetMetadata publishes the integration's index entry. Callers must have
// written the referenced account entries first so a concurrent reconstruction
// never sees metadata pointing at entries that do not exist yet.
// The account index is copied in so the caller's map never aliases store state.
func (s *permissionsCacheStore) SetMetadata(metadata models.IntegrationCacheMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metadata.Accounts = copyAccountRefs(metadata.Accounts)
	s.metadata[metadata.IntegrationID] = &metadataCacheEntry{
		metadata:  metadata,
		expiresAt: s.now().Add(s.ttl),
	}
}

// GetMetadata returns a copy of the integration's index entry, or false if
// absent or expired. The account index is copied out so readers never alias
// the map that UpsertAccountRef mutates.
func (s *permissionsCacheStore) GetMetadata(integrationID uuid.UUID) (*models.IntegrationCacheMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.metadata[integrationID]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.metadata, integrationID)
		return nil, false
	}
	metadata := entry.metadata
	metadata.Accounts = copyAccountRefs(entry.metadata.Accounts)
	return &metadata, true
}

// UpsertAccountRef adds one account to the integration's metadata index,
// creating the metadata when this is the first cached account for the
// integration. The whole read-modify-write happens under the store lock.
// An existing metadata's CachedAt is preserved: a single-account refresh does
// not make the rest of the overview any fresher.
func (s *permissionsCacheStore) UpsertAccountRef(integrationID uuid.UUID, integrationName string, accountID uuid.UUID, ref models.CachedAccountRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.metadata[integrationID]
	if ok && s.now().After(entry.expiresAt) {
		delete(s.metadata, integrationID)
		ok = false
	}
	if !ok {
		entry = &metadataCacheEntry{
			metadata: models.IntegrationCacheMetadata{
				IntegrationID:   integrationID,
				IntegrationName: integrationName,
				Accounts:        make(map[uuid.UUID]models.CachedAccountRef, 1),
				CachedAt:        s.now(),
			},
		}
		s.metadata[integrationID] = entry
	}
	entry.metadata.Accounts[accountID] = ref
	entry.expiresAt = s.now().Add(s.ttl)
}

func copyAccountRefs(refs map[uuid.UUID]models.CachedAccountRef) map[uuid.UUID]models.CachedAccountRef {
	out := make(map[uuid.UUID]models.CachedAccountRef, len(refs))
	for id, ref := range refs {
		out[id] = ref
	}
	return out
}

func (s *permissionsCacheStore) DeleteMetadata(integrationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, integrationID)
}

// InvalidateIntegration removes the metadata entry plus every account and
// orphan entry belonging to the integration.
func (s *permissionsCacheStore) InvalidateIntegration(integrationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, integrationID)
	for accountID, entry := range s.accounts {
		if entry.status.SQLIntegrationID == integrationID {
			delete(s.accounts, accountID)
		}
	}
	for key := range s.orphans {
		if key.integrationID == integrationID {
			delete(s.orphans, key)
		}
	}
}
