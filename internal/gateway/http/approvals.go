package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
)

// ApprovalsHandler exposes the approval correlator: list and inspect parked
// tool calls, and answer them.
type ApprovalsHandler struct {
	ApprovalService *service.ApprovalService
}

type approvalView struct {
	ID                 string          `json:"id"`
	Tool               string          `json:"tool"`
	ArgumentsDigest    string          `json:"arguments_digest"`
	ClientID           string          `json:"client_id"`
	SubjectID          string          `json:"subject_id"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	Status             string          `json:"status"`
	Result             json.RawMessage `json:"result,omitempty"`
	ResolverID         string          `json:"resolver_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ExpiresAt          time.Time       `json:"expires_at"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
}

// viewApproval renders a request without its stored arguments: resolvers
// approve the digest, not an editable payload.
func viewApproval(a domain.ApprovalRequest) approvalView {
	return approvalView{
		ID:                 a.ID,
		Tool:               a.ToolName,
		ArgumentsDigest:    a.ArgumentsDigest,
		ClientID:           a.ClientID,
		SubjectID:          a.SubjectID,
		PreviousResponseID: a.PreviousResponseID,
		Status:             string(a.Status),
		Result:             a.Result,
		ResolverID:         a.ResolverID,
		CreatedAt:          a.CreatedAt,
		ExpiresAt:          a.ExpiresAt,
		ResolvedAt:         a.ResolvedAt,
	}
}

func resolverFromContext(r *http.Request) service.Resolver {
	ctx := r.Context()
	return service.Resolver{
		SubjectID: httpx.SubjectID(ctx),
		Scopes:    httpx.Scopes(ctx),
	}
}

func (h *ApprovalsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.ApprovalService.ListForSubject(r.Context(), httpx.SubjectID(r.Context()), limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to list approvals")
		return
	}

	views := make([]approvalView, 0, len(list))
	for _, a := range list {
		views = append(views, viewApproval(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"approvals": views})
}

func (h *ApprovalsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	appr, err := h.ApprovalService.Get(r.Context(), r.PathValue("id"), resolverFromContext(r))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to load approval")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewApproval(appr))
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

func (h *ApprovalsHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	var approve bool
	switch req.Decision {
	case string(domain.ApprovalApproved):
		approve = true
	case string(domain.ApprovalRejected):
		approve = false
	default:
		writeAPIError(w, http.StatusBadRequest, "invalid_request", `decision must be "approved" or "rejected"`)
		return
	}

	final, err := h.ApprovalService.Resolve(r.Context(), r.PathValue("id"), approve, resolverFromContext(r))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to resolve approval")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewApproval(final))
}
