package sqlinspector

import (
	"context"
	"sync"
	"time"

	"github.com/fusehq/fuse-engine/pkg/secrets"
)

// InspectorInfo describes a registered inspector type for UI discovery.
type InspectorInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// Options carries cross-cutting dependencies into inspector factories.
type Options struct {
	// Secrets resolves secret references in integration configs.
	Secrets secrets.Resolver
	// ConnectTimeout bounds connection establishment to the target database.
	ConnectTimeout time.Duration
}

// Registration contains info + a factory for creating inspectors of one type.
type Registration struct {
	Info    InspectorInfo
	Factory func(ctx context.Context, config map[string]any, opts Options) (Inspector, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each inspector's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredInspectors returns info for all registered inspector types.
func RegisteredInspectors() []InspectorInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]InspectorInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetFactory returns the factory for an inspector type.
// Returns nil if type is not registered.
func GetFactory(integrationType string) func(ctx context.Context, config map[string]any, opts Options) (Inspector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[integrationType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if an inspector type is available.
func IsRegistered(integrationType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[integrationType]
	return ok
}
