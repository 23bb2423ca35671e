package users

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/roles"
)

// Handler exposes the user service over HTTP.
type Handler struct {
	service *Service
	logger  *observability.Logger
}

// NewHandler creates a user HTTP handler.
func NewHandler(service *Service, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers user routes on the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/users/by-role/{roleId}", h.ListByRole).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/roles", h.AssignRoles).Methods(http.MethodPut)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roles.ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, roles.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, roles.ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, roles.ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	default:
		h.logger.WithError(err).Error("user operation failed")
		httputil.WriteInternalError(w, err)
	}
}

// Create handles POST /users.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// Get handles GET /users/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// AssignRoles handles PUT /users/{id}/roles.
func (h *Handler) AssignRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req AssignRolesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.AssignRoles(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// ListByRole handles GET /users/by-role/{roleId}.
func (h *Handler) ListByRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	list, err := h.service.ListByRole(r.Context(), roleID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}
