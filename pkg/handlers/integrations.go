package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/logging"
	"github.com/fusehq/fuse-engine/pkg/models"
	"github.com/fusehq/fuse-engine/pkg/repositories"
	"github.com/fusehq/fuse-engine/pkg/services"
)

// IntegrationResponse is the wire shape of a SQL integration.
// Config is returned as stored; secret values should be env:// references,
// which are resolved only at connection time.
type IntegrationResponse struct {
	IntegrationID   string         `json:"integration_id"`
	Name            string         `json:"name"`
	IntegrationType string         `json:"integration_type"`
	DataStoreID     string         `json:"data_store_id"`
	Config          map[string]any `json:"config"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// ListIntegrationsResponse wraps the integration list.
type ListIntegrationsResponse struct {
	Integrations []IntegrationResponse `json:"integrations"`
}

// CreateIntegrationRequest for POST body.
type CreateIntegrationRequest struct {
	Name            string         `json:"name"`
	IntegrationType string         `json:"integration_type"`
	DataStoreID     string         `json:"data_store_id"`
	Config          map[string]any `json:"config"`
}

// UpdateIntegrationRequest for PUT body.
type UpdateIntegrationRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// TestConnectionRequest for POST test body: an unsaved integration config.
type TestConnectionRequest struct {
	IntegrationType string         `json:"integration_type"`
	Config          map[string]any `json:"config"`
}

// TestConnectionResponse for connection test result.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IntegrationsHandler handles SQL integration CRUD and connection testing.
type IntegrationsHandler struct {
	integrationRepo repositories.SQLIntegrationRepository
	factory         sqlinspector.Factory
	cache           services.PermissionsCacheService
	logger          *zap.Logger
}

// NewIntegrationsHandler creates a new integrations handler.
func NewIntegrationsHandler(
	integrationRepo repositories.SQLIntegrationRepository,
	factory sqlinspector.Factory,
	cache services.PermissionsCacheService,
	logger *zap.Logger,
) *IntegrationsHandler {
	return &IntegrationsHandler{
		integrationRepo: integrationRepo,
		factory:         factory,
		cache:           cache,
		logger:          logger,
	}
}

// RegisterRoutes registers the integrations handler's routes on the given mux.
func (h *IntegrationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/integrations", h.List)
	mux.HandleFunc("POST /api/integrations", h.Create)
	mux.HandleFunc("GET /api/integrations/types", h.ListTypes)
	mux.HandleFunc("POST /api/integrations/test", h.TestConnection)
	mux.HandleFunc("GET /api/integrations/{id}", h.Get)
	mux.HandleFunc("PUT /api/integrations/{id}", h.Update)
	mux.HandleFunc("DELETE /api/integrations/{id}", h.Delete)
}

// List handles GET /api/integrations.
func (h *IntegrationsHandler) List(w http.ResponseWriter, r *http.Request) {
	integrations, err := h.integrationRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list integrations", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list integrations"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ListIntegrationsResponse{Integrations: make([]IntegrationResponse, len(integrations))}
	for i, integration := range integrations {
		response.Integrations[i] = integrationResponse(integration)
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListTypes handles GET /api/integrations/types.
// Returns the inspector types compiled into this build.
func (h *IntegrationsHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]any{"types": h.factory.ListTypes()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/integrations.
func (h *IntegrationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Integration name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if !sqlinspector.IsRegistered(req.IntegrationType) {
		if err := ErrorResponse(w, http.StatusBadRequest, "unknown_type", "Unknown integration type: "+req.IntegrationType); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	dataStoreID, err := uuid.Parse(req.DataStoreID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_data_store_id", "Invalid data store ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	integration := &models.SQLIntegration{
		ID:              uuid.New(),
		Name:            req.Name,
		IntegrationType: req.IntegrationType,
		DataStoreID:     dataStoreID,
		Config:          req.Config,
	}
	if err := h.integrationRepo.Create(r.Context(), integration); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "duplicate_integration", "The data store already has a SQL integration"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to create integration", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "create_failed", "Failed to create integration"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, integrationResponse(integration)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/integrations/{id}.
func (h *IntegrationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}
	if err := WriteJSON(w, http.StatusOK, integrationResponse(integration)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/integrations/{id}.
func (h *IntegrationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}

	var req UpdateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name != "" {
		integration.Name = req.Name
	}
	if req.Config != nil {
		integration.Config = req.Config
	}

	if err := h.integrationRepo.Update(r.Context(), integration); err != nil {
		h.logger.Error("Failed to update integration",
			zap.String("integration_id", integration.ID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "update_failed", "Failed to update integration"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// New connection settings make every cached status for this integration
	// suspect.
	h.cache.InvalidateIntegration(integration.ID)

	if err := WriteJSON(w, http.StatusOK, integrationResponse(integration)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/integrations/{id}.
func (h *IntegrationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}

	if err := h.integrationRepo.Delete(r.Context(), integration.ID); err != nil {
		h.logger.Error("Failed to delete integration",
			zap.String("integration_id", integration.ID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "delete_failed", "Failed to delete integration"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.cache.InvalidateIntegration(integration.ID)

	w.WriteHeader(http.StatusNoContent)
}

// TestConnection handles POST /api/integrations/test.
// Accepts an unsaved config so the UI can verify credentials before saving.
func (h *IntegrationsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	transient := &models.SQLIntegration{
		IntegrationType: req.IntegrationType,
		Config:          req.Config,
	}
	inspector, err := h.factory.NewInspector(r.Context(), transient)
	if err != nil {
		if err := WriteJSON(w, http.StatusOK, TestConnectionResponse{Success: false, Message: logging.SanitizeError(err)}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}
	defer inspector.Close()

	if err := inspector.TestConnection(r.Context()); err != nil {
		if err := WriteJSON(w, http.StatusOK, TestConnectionResponse{Success: false, Message: logging.SanitizeError(err)}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, TestConnectionResponse{Success: true, Message: "Connection successful"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *IntegrationsHandler) loadIntegration(w http.ResponseWriter, r *http.Request) (*models.SQLIntegration, bool) {
	integrationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_integration_id", "Invalid integration ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}

	integration, err := h.integrationRepo.GetByID(r.Context(), integrationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Integration not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		h.logger.Error("Failed to load integration",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load integration"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return integration, true
}

func integrationResponse(integration *models.SQLIntegration) IntegrationResponse {
	return IntegrationResponse{
		IntegrationID:   integration.ID.String(),
		Name:            integration.Name,
		IntegrationType: integration.IntegrationType,
		DataStoreID:     integration.DataStoreID.String(),
		Config:          integration.Config,
		CreatedAt:       integration.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       integration.UpdatedAt.Format(time.RFC3339),
	}
}
