package roles

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
)

// Handler exposes the role service over HTTP.
type Handler struct {
	service *Service
	logger  *observability.Logger
}

// NewHandler creates a role HTTP handler.
func NewHandler(service *Service, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers role routes on the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/roles", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/roles", h.List).Methods(http.MethodGet)
	r.HandleFunc("/roles/name/{name}", h.GetByName).Methods(http.MethodGet)
	r.HandleFunc("/roles/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/roles/{id}", h.Update).Methods(http.MethodPatch)
	r.HandleFunc("/roles/{id}/permissions", h.UpdatePermissions).Methods(http.MethodPatch)
	r.HandleFunc("/roles/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)
	r.HandleFunc("/roles/{id}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/roles/{id}/effective-permissions", h.EffectivePermissions).Methods(http.MethodGet)
}

// writeServiceError maps service errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	default:
		h.logger.WithError(err).Error("role operation failed")
		httputil.WriteInternalError(w, err)
	}
}

// validNames reports the first unknown role name, if any.
func validNames(names []RoleName) (RoleName, bool) {
	for _, n := range names {
		if !n.Valid() {
			return n, false
		}
	}
	return "", true
}

// Create handles POST /roles.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !req.Name.Valid() {
		httputil.WriteBadRequest(w, "invalid role name: "+req.Name.String())
		return
	}
	if bad, ok := validNames(req.InheritedRoles); !ok {
		httputil.WriteBadRequest(w, "invalid inherited role name: "+bad.String())
		return
	}

	role, err := h.service.Create(r.Context(), req, middleware.ActorID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// List handles GET /roles. The limit is capped at MaxPageSize here, not in
// the service.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts := ListOptions{
		Page:     httputil.QueryInt(r, "page", 1),
		Limit:    httputil.QueryInt(r, "limit", DefaultPageSize),
		Search:   r.URL.Query().Get("search"),
		IsActive: httputil.QueryBool(r, "isActive"),
	}
	if opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}

	list, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// Get handles GET /roles/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// GetByName handles GET /roles/name/{name}.
func (h *Handler) GetByName(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	role, err := h.service.GetByName(r.Context(), RoleName(name))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// Update handles PATCH /roles/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Name != nil && !req.Name.Valid() {
		httputil.WriteBadRequest(w, "invalid role name: "+req.Name.String())
		return
	}
	if req.InheritedRoles != nil {
		if bad, ok := validNames(*req.InheritedRoles); !ok {
			httputil.WriteBadRequest(w, "invalid inherited role name: "+bad.String())
			return
		}
	}

	role, err := h.service.Update(r.Context(), id, req, middleware.ActorID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdatePermissions handles PATCH /roles/{id}/permissions.
func (h *Handler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdatePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdatePermissions(r.Context(), id, req, middleware.ActorID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateStatus handles PATCH /roles/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateStatus(r.Context(), id, req, middleware.ActorID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// Delete handles DELETE /roles/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// EffectivePermissions handles GET /roles/{id}/effective-permissions.
func (h *Handler) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.service.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}
