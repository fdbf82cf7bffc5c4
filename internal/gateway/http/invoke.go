package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/httpx"
)

// maxInvokeWait caps how long a caller may long-poll a parked call before
// being handed the pending approval instead.
const maxInvokeWait = 30 * time.Second

// InvokeHandler dispatches tool calls on POST /mcp/{tool}. Sensitive calls
// come back 202 with a pending approval the caller can poll or wait on.
type InvokeHandler struct {
	InvokeService   *service.InvokeService
	ApprovalService *service.ApprovalService
}

type invokeRequest struct {
	Arguments          json.RawMessage `json:"arguments"`
	PreviousResponseID string          `json:"previous_response_id"`
}

func (h *InvokeHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	inv := tools.Invocation{
		SubjectID: httpx.SubjectID(ctx),
		ClientID:  httpx.ClientID(ctx),
		Scopes:    httpx.Scopes(ctx),
	}

	res, err := h.InvokeService.Invoke(ctx, inv, r.PathValue("tool"), req.Arguments, req.PreviousResponseID)
	if err != nil {
		h.writeInvokeError(w, err)
		return
	}

	if res.Parked == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"output": res.Output})
		return
	}

	appr := *res.Parked
	if wait := parseWait(r); wait > 0 {
		resolver := service.Resolver{SubjectID: inv.SubjectID, Scopes: inv.Scopes}
		if settled, werr := h.ApprovalService.Wait(ctx, appr.ID, resolver, wait); werr == nil && settled.Resolved() {
			httpx.WriteJSON(w, http.StatusOK, viewApproval(settled))
			return
		}
		// A Wait error (deadline, caller hung up) is not a failure of the
		// parked call: the approval stays pending and the caller gets the
		// 202 below to poll or wait again.
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"error":                "approval_pending",
		"error_description":    "the call is parked until a resolver approves it",
		"approval_request_id":  appr.ID,
		"previous_response_id": appr.PreviousResponseID,
		"status":               string(appr.Status),
		"expires_at":           appr.ExpiresAt,
	})
}

func (h *InvokeHandler) writeInvokeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeNotFound(w)
	case errors.Is(err, service.ErrInsufficientScope):
		writeAPIError(w, http.StatusForbidden, "insufficient_scope", "the token does not carry the scope this tool requires")
	case errors.Is(err, service.ErrInvalidRequest):
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "server_error", "tool invocation failed")
	}
}

// parseWait reads the optional wait query parameter, in seconds.
func parseWait(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw + "s")
	if err != nil || d <= 0 {
		return 0
	}
	if d > maxInvokeWait {
		return maxInvokeWait
	}
	return d
}
