package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
	"github.com/fusehq/fuse-engine/pkg/services"
)

// CreateSQLAccountRequest for POST sql-account body. Password may be a plain
// value or an env:// reference resolved server-side.
type CreateSQLAccountRequest struct {
	Password string `json:"password"`
}

// BulkResolveRequest for POST bulk-resolve body.
type BulkResolveRequest struct {
	AccountIDs []string `json:"account_ids"`
}

// ImportOrphanRequest for POST orphan import body.
type ImportOrphanRequest struct {
	PrincipalName string `json:"principal_name"`
}

// PermissionsHandler exposes the reconciliation cache and the write-path
// actions over HTTP.
type PermissionsHandler struct {
	cache   services.PermissionsCacheService
	actions services.PermissionsActionService
	logger  *zap.Logger
}

// NewPermissionsHandler creates a new permissions handler.
func NewPermissionsHandler(
	cache services.PermissionsCacheService,
	actions services.PermissionsActionService,
	logger *zap.Logger,
) *PermissionsHandler {
	return &PermissionsHandler{
		cache:   cache,
		actions: actions,
		logger:  logger,
	}
}

// RegisterRoutes registers the permissions handler's routes on the given mux.
func (h *PermissionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/integrations/{id}/permissions", h.GetOverview)
	mux.HandleFunc("POST /api/integrations/{id}/permissions/refresh", h.RefreshIntegration)
	mux.HandleFunc("DELETE /api/integrations/{id}/permissions/cache", h.InvalidateIntegration)
	mux.HandleFunc("POST /api/integrations/{id}/orphans/import", h.ImportOrphan)
	mux.HandleFunc("GET /api/accounts/{id}/sql-status", h.GetAccountStatus)
	mux.HandleFunc("POST /api/accounts/{id}/resolve-drift", h.ResolveDrift)
	mux.HandleFunc("POST /api/accounts/{id}/sql-account", h.CreateSQLAccount)
	mux.HandleFunc("POST /api/permissions/bulk-resolve", h.BulkResolve)
}

// GetOverview handles GET /api/integrations/{id}/permissions.
// Serves the cached overview when it is reconstructible; a cache miss
// triggers an on-demand refresh instead of surfacing an error.
func (h *PermissionsHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	integrationID, ok := h.pathID(w, r, "invalid_integration_id", "Invalid integration ID format")
	if !ok {
		return
	}

	if overview, ok := h.cache.GetCachedOverview(integrationID); ok {
		if err := WriteJSON(w, http.StatusOK, overview); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	overview, err := h.cache.RefreshIntegration(r.Context(), integrationID)
	if err != nil {
		h.logger.Error("On-demand permissions refresh failed",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "refresh_failed", "Could not inspect the target database"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if overview == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Integration not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, overview); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RefreshIntegration handles POST /api/integrations/{id}/permissions/refresh.
func (h *PermissionsHandler) RefreshIntegration(w http.ResponseWriter, r *http.Request) {
	integrationID, ok := h.pathID(w, r, "invalid_integration_id", "Invalid integration ID format")
	if !ok {
		return
	}

	overview, err := h.cache.RefreshIntegration(r.Context(), integrationID)
	if err != nil {
		h.logger.Error("Permissions refresh failed",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "refresh_failed", "Could not inspect the target database"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if overview == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Integration not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, overview); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// InvalidateIntegration handles DELETE /api/integrations/{id}/permissions/cache.
func (h *PermissionsHandler) InvalidateIntegration(w http.ResponseWriter, r *http.Request) {
	integrationID, ok := h.pathID(w, r, "invalid_integration_id", "Invalid integration ID format")
	if !ok {
		return
	}
	h.cache.InvalidateIntegration(integrationID)
	w.WriteHeader(http.StatusNoContent)
}

// GetAccountStatus handles GET /api/accounts/{id}/sql-status.
func (h *PermissionsHandler) GetAccountStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "invalid_account_id", "Invalid account ID format")
	if !ok {
		return
	}

	if status, ok := h.cache.GetCachedAccountStatus(accountID); ok {
		if err := WriteJSON(w, http.StatusOK, status); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	status, err := h.cache.RefreshAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error("On-demand account refresh failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "refresh_failed", "Could not inspect the target database"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if status == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Account not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, status); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ResolveDrift handles POST /api/accounts/{id}/resolve-drift.
func (h *PermissionsHandler) ResolveDrift(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "invalid_account_id", "Invalid account ID format")
	if !ok {
		return
	}

	result, err := h.actions.ResolveDrift(r.Context(), accountID)
	if err != nil {
		h.writeActionError(w, accountID, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateSQLAccount handles POST /api/accounts/{id}/sql-account.
func (h *PermissionsHandler) CreateSQLAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "invalid_account_id", "Invalid account ID format")
	if !ok {
		return
	}

	var req CreateSQLAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.actions.CreateSQLAccount(r.Context(), accountID, req.Password)
	if err != nil {
		h.writeActionError(w, accountID, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// BulkResolve handles POST /api/permissions/bulk-resolve.
func (h *PermissionsHandler) BulkResolve(w http.ResponseWriter, r *http.Request) {
	var req BulkResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.AccountIDs) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_account_ids", "At least one account ID is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	accountIDs := make([]uuid.UUID, 0, len(req.AccountIDs))
	for _, raw := range req.AccountIDs {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_account_id", "Invalid account ID: "+raw); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		accountIDs = append(accountIDs, accountID)
	}

	results, err := h.actions.BulkResolve(r.Context(), accountIDs)
	if err != nil {
		h.logger.Error("Bulk resolve failed", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "bulk_resolve_failed", "Bulk resolve failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"results": results}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ImportOrphan handles POST /api/integrations/{id}/orphans/import.
func (h *PermissionsHandler) ImportOrphan(w http.ResponseWriter, r *http.Request) {
	integrationID, ok := h.pathID(w, r, "invalid_integration_id", "Invalid integration ID format")
	if !ok {
		return
	}

	var req ImportOrphanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.PrincipalName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_principal", "Principal name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	account, err := h.actions.ImportOrphan(r.Context(), integrationID, req.PrincipalName)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Integration or principal not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		case errors.Is(err, apperrors.ErrConflict):
			if err := ErrorResponse(w, http.StatusConflict, "already_managed", "The principal is already managed by an account"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		default:
			h.logger.Error("Orphan import failed",
				zap.String("integration_id", integrationID.String()),
				zap.Error(err))
			if err := ErrorResponse(w, http.StatusBadRequest, "import_failed", err.Error()); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, accountResponse(account)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *PermissionsHandler) pathID(w http.ResponseWriter, r *http.Request, code, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

func (h *PermissionsHandler) writeActionError(w http.ResponseWriter, accountID uuid.UUID, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Account not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	case errors.Is(err, apperrors.ErrNoIntegration):
		if err := ErrorResponse(w, http.StatusBadRequest, "no_integration", "The account has no SQL integration to act on"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	default:
		h.logger.Error("Write action failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "action_failed", "The action could not be completed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}
