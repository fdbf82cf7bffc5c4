package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// ErrInsufficientScope is returned when the caller's token lacks the scope
// a tool requires.
var ErrInsufficientScope = errors.New("insufficient_scope")

// InvokeService dispatches authenticated tool calls, parking the sensitive
// ones with the approval correlator instead of executing them.
type InvokeService struct {
	Store     store.Store
	Tools     *tools.Registry
	Approvals *ApprovalService
	Metrics   *metricsx.Metrics
}

// InvokeResult is either an executed call's output or a parked approval,
// never both.
type InvokeResult struct {
	Output json.RawMessage
	Parked *domain.ApprovalRequest
}

// Invoke runs or parks a tool call for the authenticated invocation.
func (s *InvokeService) Invoke(
	ctx context.Context,
	inv tools.Invocation,
	toolName string,
	args json.RawMessage,
	previousResponseID string,
) (InvokeResult, error) {
	log := slogx.FromContext(ctx)

	executor, err := s.Tools.Get(toolName)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("%w: %s", ErrNotFound, toolName)
	}

	if !slices.Contains(inv.Scopes, executor.RequiredScope()) {
		s.Metrics.ToolInvocations.WithLabelValues(toolName, "denied").Inc()
		return InvokeResult{}, fmt.Errorf("%w: %s", ErrInsufficientScope, executor.RequiredScope())
	}

	if s.needsApproval(ctx, executor, inv.ClientID) {
		appr, err := s.Approvals.Park(ctx, inv, toolName, args, previousResponseID)
		if err != nil {
			return InvokeResult{}, err
		}
		s.Metrics.ToolInvocations.WithLabelValues(toolName, "parked").Inc()
		return InvokeResult{Parked: &appr}, nil
	}

	out, err := executor.Execute(ctx, args, inv)
	if err != nil {
		s.Metrics.ToolInvocations.WithLabelValues(toolName, "error").Inc()
		if errors.Is(err, tools.ErrBadArguments) {
			return InvokeResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return InvokeResult{}, err
	}

	s.Metrics.ToolInvocations.WithLabelValues(toolName, "ok").Inc()
	log.Info("tool call executed", "tool", toolName, "subject_id", inv.SubjectID)
	return InvokeResult{Output: out}, nil
}

// needsApproval combines the tool's default with the client's forced flag.
// An unreadable client row fails closed.
func (s *InvokeService) needsApproval(ctx context.Context, executor tools.Executor, clientID string) bool {
	if executor.RequiresApproval() {
		return true
	}
	if clientID == "" {
		return false
	}
	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return true
		}
		return false
	}
	return client.RequiresApproval
}
