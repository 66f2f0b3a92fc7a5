package sqlinspector

import (
	"context"
	"fmt"

	"github.com/fusehq/fuse-engine/pkg/models"
)

// Factory creates inspectors from the registry.
//
// The factory itself is safe for concurrent use: the cache service's
// background loop and write-path actions running on request goroutines create
// inspectors independently, each owning its own connection.
type Factory interface {
	// NewInspector opens an inspector for the given integration.
	NewInspector(ctx context.Context, integration *models.SQLIntegration) (Inspector, error)

	// ListTypes returns info for all registered inspector types.
	ListTypes() []InspectorInfo
}

type registryFactory struct {
	opts Options
}

// NewFactory returns a factory that uses the global registry.
func NewFactory(opts Options) Factory {
	return &registryFactory{opts: opts}
}

func (f *registryFactory) NewInspector(ctx context.Context, integration *models.SQLIntegration) (Inspector, error) {
	factory := GetFactory(integration.IntegrationType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported integration type: %s (not compiled in)", integration.IntegrationType)
	}
	return factory(ctx, integration.Config, f.opts)
}

func (f *registryFactory) ListTypes() []InspectorInfo {
	return RegisteredInspectors()
}

// Ensure registryFactory implements Factory at compile time.
var _ Factory = (*registryFactory)(nil)
