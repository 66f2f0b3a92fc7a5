package models

import (
	"time"

	"github.com/google/uuid"
)

// DataStore represents a tracked database asset (a server/database that
// accounts can target).
type DataStore struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
