package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
)

// AdminHandler exposes registered-client administration.
type AdminHandler struct {
	RegistryService *service.RegistryService
}

type clientView struct {
	ClientID         string    `json:"client_id"`
	ClientName       string    `json:"client_name"`
	ClientType       string    `json:"client_type"`
	RedirectURIs     []string  `json:"redirect_uris"`
	Scope            string    `json:"scope"`
	RequiresApproval bool      `json:"requires_approval"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func viewClient(c domain.Client) clientView {
	return clientView{
		ClientID:         c.ID,
		ClientName:       c.Name,
		ClientType:       string(c.Type),
		RedirectURIs:     c.RedirectURIs,
		Scope:            strings.Join(c.Scopes, " "),
		RequiresApproval: c.RequiresApproval,
		Active:           c.Active,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	clients, err := h.RegistryService.List(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to list clients")
		return
	}

	views := make([]clientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, viewClient(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"clients": views})
}

func (h *AdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	client, err := h.RegistryService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewClient(client))
}

type updateClientRequest struct {
	ClientName       *string   `json:"client_name"`
	Scope            *string   `json:"scope"`
	RedirectURIs     *[]string `json:"redirect_uris"`
	RequiresApproval *bool     `json:"requires_approval"`
}

// HandleUpdate applies the provided fields; absent fields stay untouched.
func (h *AdminHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	if req.ClientName != nil {
		if err := h.RegistryService.UpdateName(ctx, id, *req.ClientName); err != nil {
			h.writeAdminError(w, err)
			return
		}
	}
	if req.Scope != nil {
		if err := h.RegistryService.UpdateScopes(ctx, id, httpx.ParseSpaceDelimitedFields(*req.Scope)); err != nil {
			h.writeAdminError(w, err)
			return
		}
	}
	if req.RedirectURIs != nil {
		if err := h.RegistryService.UpdateRedirectURIs(ctx, id, *req.RedirectURIs); err != nil {
			h.writeAdminError(w, err)
			return
		}
	}
	if req.RequiresApproval != nil {
		if err := h.RegistryService.SetRequiresApproval(ctx, id, *req.RequiresApproval); err != nil {
			h.writeAdminError(w, err)
			return
		}
	}

	client, err := h.RegistryService.Get(ctx, id)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewClient(client))
}

func (h *AdminHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.RegistryService.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		h.writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.RegistryService.RotateSecret(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
}

func (h *AdminHandler) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeNotFound(w)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidScope):
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "server_error", "client administration failed")
	}
}
