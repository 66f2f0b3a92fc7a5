package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/repositories"
)

// DataStoreResponse is the wire shape of a data store.
type DataStoreResponse struct {
	DataStoreID string `json:"data_store_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ListDataStoresResponse wraps the data store list.
type ListDataStoresResponse struct {
	DataStores []DataStoreResponse `json:"data_stores"`
}

// CreateDataStoreRequest for POST body.
type CreateDataStoreRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DataStoresHandler handles data store CRUD requests.
type DataStoresHandler struct {
	dataStoreRepo repositories.DataStoreRepository
	logger        *zap.Logger
}

// NewDataStoresHandler creates a new data stores handler.
func NewDataStoresHandler(dataStoreRepo repositories.DataStoreRepository, logger *zap.Logger) *DataStoresHandler {
	return &DataStoresHandler{dataStoreRepo: dataStoreRepo, logger: logger}
}

// RegisterRoutes registers the data stores handler's routes on the given mux.
func (h *DataStoresHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datastores", h.List)
	mux.HandleFunc("POST /api/datastores", h.Create)
	mux.HandleFunc("GET /api/datastores/{id}", h.Get)
	mux.HandleFunc("DELETE /api/datastores/{id}", h.Delete)
}

// List handles GET /api/datastores.
func (h *DataStoresHandler) List(w http.ResponseWriter, r *http.Request) {
	dataStores, err := h.dataStoreRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list data stores", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list data stores"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ListDataStoresResponse{DataStores: make([]DataStoreResponse, len(dataStores))}
	for i, dataStore := range dataStores {
		response.DataStores[i] = dataStoreResponse(dataStore)
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/datastores.
func (h *DataStoresHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDataStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Data store name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dataStore := &models.DataStore{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.dataStoreRepo.Create(r.Context(), dataStore); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "duplicate_name", "A data store with this name already exists"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to create data store", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "create_failed", "Failed to create data store"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, dataStoreResponse(dataStore)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/datastores/{id}.
func (h *DataStoresHandler) Get(w http.ResponseWriter, r *http.Request) {
	dataStoreID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_data_store_id", "Invalid data store ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dataStore, err := h.dataStoreRepo.GetByID(r.Context(), dataStoreID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Data store not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to load data store",
			zap.String("data_store_id", dataStoreID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load data store"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, dataStoreResponse(dataStore)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/datastores/{id}.
func (h *DataStoresHandler) Delete(w http.ResponseWriter, r *http.Request) {
	dataStoreID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_data_store_id", "Invalid data store ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.dataStoreRepo.Delete(r.Context(), dataStoreID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Data store not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to delete data store",
			zap.String("data_store_id", dataStoreID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "delete_failed", "Failed to delete data store"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func dataStoreResponse(dataStore *models.DataStore) DataStoreResponse {
	return DataStoreResponse{
		DataStoreID: dataStore.ID.String(),
		Name:        dataStore.Name,
		Description: dataStore.Description,
		CreatedAt:   dataStore.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   dataStore.UpdatedAt.Format(time.RFC3339),
	}
}
