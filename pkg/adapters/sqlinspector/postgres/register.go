package postgres

import (
	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
)

func init() {
	sqlinspector.Register(sqlinspector.Registration{
		Info: sqlinspector.InspectorInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Inspect PostgreSQL 12+",
		},
		Factory: NewInspector,
	})
}
