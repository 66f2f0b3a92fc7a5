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
	"github.com/fusehq/fuse-engine/pkg/services"
	"github.com/fusehq/fuse-engine/pkg/sqlident"
)

// AccountResponse is the wire shape of a managed account.
type AccountResponse struct {
	AccountID   string         `json:"account_id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Username    string         `json:"username,omitempty"`
	DataStoreID string         `json:"data_store_id,omitempty"`
	Grants      []models.Grant `json:"grants"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// ListAccountsResponse wraps the account list.
type ListAccountsResponse struct {
	Accounts []AccountResponse `json:"accounts"`
}

// CreateAccountRequest for POST body.
type CreateAccountRequest struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Username    string         `json:"username"`
	DataStoreID string         `json:"data_store_id"`
	Grants      []models.Grant `json:"grants"`
}

// UpdateAccountRequest for PUT body.
type UpdateAccountRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// ReplaceGrantsRequest for PUT grants body. Grants are immutable units; an
// edit replaces the whole set.
type ReplaceGrantsRequest struct {
	Grants []models.Grant `json:"grants"`
}

// AccountsHandler handles account CRUD requests.
type AccountsHandler struct {
	accountRepo repositories.AccountRepository
	cache       services.PermissionsCacheService
	logger      *zap.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(
	accountRepo repositories.AccountRepository,
	cache services.PermissionsCacheService,
	logger *zap.Logger,
) *AccountsHandler {
	return &AccountsHandler{
		accountRepo: accountRepo,
		cache:       cache,
		logger:      logger,
	}
}

// RegisterRoutes registers the accounts handler's routes on the given mux.
func (h *AccountsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/accounts", h.List)
	mux.HandleFunc("POST /api/accounts", h.Create)
	mux.HandleFunc("GET /api/accounts/{id}", h.Get)
	mux.HandleFunc("PUT /api/accounts/{id}", h.Update)
	mux.HandleFunc("PUT /api/accounts/{id}/grants", h.ReplaceGrants)
	mux.HandleFunc("DELETE /api/accounts/{id}", h.Delete)
}

// List handles GET /api/accounts.
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list accounts", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list accounts"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ListAccountsResponse{Accounts: make([]AccountResponse, len(accounts))}
	for i, account := range accounts {
		response.Accounts[i] = accountResponse(account)
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/accounts.
func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	account := &models.Account{
		ID:       uuid.New(),
		Name:     req.Name,
		Kind:     models.AccountKind(req.Kind),
		Username: req.Username,
		Grants:   req.Grants,
	}
	if req.DataStoreID != "" {
		dataStoreID, err := uuid.Parse(req.DataStoreID)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_data_store_id", "Invalid data store ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		account.DataStoreID = dataStoreID
	}

	if code, message := validateAccount(account); code != "" {
		if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.accountRepo.Create(r.Context(), account); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "duplicate_name", "An account with this name already exists"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to create account", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "create_failed", "Failed to create account"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, accountResponse(account)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/accounts/{id}.
func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	if err := WriteJSON(w, http.StatusOK, accountResponse(account)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/accounts/{id}.
// Only name and username are editable; grants have their own endpoint and
// kind/data-store bindings are fixed at creation.
func (h *AccountsHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name != "" {
		account.Name = req.Name
	}
	if req.Username != "" {
		if err := sqlident.CheckIdentifier("username", req.Username); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_username", err.Error()); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		account.Username = req.Username
	}

	if err := h.accountRepo.Update(r.Context(), account); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "duplicate_name", "An account with this name already exists"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to update account",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "update_failed", "Failed to update account"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// The principal name may have changed; the cached status is stale.
	h.cache.InvalidateAccount(account.ID)

	if err := WriteJSON(w, http.StatusOK, accountResponse(account)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ReplaceGrants handles PUT /api/accounts/{id}/grants.
func (h *AccountsHandler) ReplaceGrants(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	var req ReplaceGrantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if code, message := validateGrants(req.Grants); code != "" {
		if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.accountRepo.ReplaceGrants(r.Context(), account.ID, req.Grants); err != nil {
		h.logger.Error("Failed to replace grants",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "update_failed", "Failed to replace grants"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// The configured model changed, so the cached comparison is stale.
	h.cache.InvalidateAccount(account.ID)

	account.Grants = req.Grants
	if err := WriteJSON(w, http.StatusOK, accountResponse(account)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/accounts/{id}.
func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	if err := h.accountRepo.Delete(r.Context(), account.ID); err != nil {
		h.logger.Error("Failed to delete account",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "delete_failed", "Failed to delete account"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.cache.InvalidateAccount(account.ID)

	w.WriteHeader(http.StatusNoContent)
}

// loadAccount parses the {id} path value and fetches the account, writing the
// appropriate error response on failure.
func (h *AccountsHandler) loadAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_account_id", "Invalid account ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}

	account, err := h.accountRepo.GetByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Account not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		h.logger.Error("Failed to load account",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load account"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return account, true
}

func validateAccount(account *models.Account) (code, message string) {
	if account.Name == "" {
		return "missing_name", "Account name is required"
	}
	switch account.Kind {
	case models.AccountKindDataStore, models.AccountKindApplication:
	default:
		return "invalid_kind", "Account kind must be datastore or application"
	}
	if account.Kind == models.AccountKindDataStore {
		if account.DataStoreID == uuid.Nil {
			return "missing_data_store", "Datastore accounts must reference a data store"
		}
		if err := sqlident.CheckIdentifier("username", account.PrincipalName()); err != nil {
			return "invalid_username", err.Error()
		}
	}
	return validateGrants(account.Grants)
}

func validateGrants(grants []models.Grant) (code, message string) {
	for i := range grants {
		if len(grants[i].Privileges) == 0 {
			return "empty_grant", "Each grant must name at least one privilege"
		}
		for _, privilege := range grants[i].Privileges {
			if !privilege.IsKnown() {
				return "unknown_privilege", "Unknown privilege: " + string(privilege)
			}
		}
	}
	return "", ""
}

func accountResponse(account *models.Account) AccountResponse {
	response := AccountResponse{
		AccountID: account.ID.String(),
		Name:      account.Name,
		Kind:      string(account.Kind),
		Username:  account.Username,
		Grants:    account.Grants,
		CreatedAt: account.CreatedAt.Format(time.RFC3339),
		UpdatedAt: account.UpdatedAt.Format(time.RFC3339),
	}
	if account.DataStoreID != uuid.Nil {
		response.DataStoreID = account.DataStoreID.String()
	}
	return response
}
