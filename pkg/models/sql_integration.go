package models

import (
	"time"

	"github.com/google/uuid"
)

// SQLIntegration represents a live connection to a target database.
// The Config field contains connection details (host, database, credentials)
// whose structure varies by integration type. Secret-valued fields may hold
// references (e.g. "env://FUSE_SALES_DB_PASSWORD") resolved at connect time.
type SQLIntegration struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	IntegrationType string         `json:"integration_type"` // "postgres", "mssql"
	DataStoreID     uuid.UUID      `json:"data_store_id"`
	Config          map[string]any `json:"config"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
