package mssql

import (
	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
)

func init() {
	sqlinspector.Register(sqlinspector.Registration{
		Info: sqlinspector.InspectorInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "Inspect SQL Server 2019+, Azure SQL Database",
		},
		Factory: NewInspector,
	})
}
