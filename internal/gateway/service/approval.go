package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/asoos/integration-gateway/pkg/slogx"
	"github.com/google/uuid"
)

// DefaultApprovalTimeout is how long a parked call waits for a resolver
// before expiring.
const DefaultApprovalTimeout = 15 * time.Minute

const sweepBatchSize = 200

// Resolver identifies who is answering an approval request.
type Resolver struct {
	SubjectID string
	Scopes    []string
}

// entitled reports whether the resolver may act on the request: the
// original subject, or an admin.
func (r Resolver) entitled(a domain.ApprovalRequest) bool {
	return r.SubjectID == a.SubjectID || slices.Contains(r.Scopes, ScopeAdminWrite)
}

// ApprovalService parks sensitive tool calls and correlates their later
// resolution. The stored arguments are what executes on approval; nothing
// the resolver sends can change them.
type ApprovalService struct {
	Store   store.Store
	Tools   *tools.Registry
	Metrics *metricsx.Metrics
	Timeout time.Duration

	mu      sync.Mutex
	waiters map[string][]chan domain.ApprovalRequest
}

// Park persists a pending approval request for a tool call and returns it.
// No transaction stays open; the caller polls or waits for resolution.
func (s *ApprovalService) Park(
	ctx context.Context,
	inv tools.Invocation,
	toolName string,
	args json.RawMessage,
	previousResponseID string,
) (domain.ApprovalRequest, error) {
	now := time.Now().UTC()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}

	appr := domain.ApprovalRequest{
		ID:                 uuid.NewString(),
		ToolName:           toolName,
		Arguments:          args,
		ArgumentsDigest:    domain.DigestArguments(args),
		ClientID:           inv.ClientID,
		SubjectID:          inv.SubjectID,
		Scopes:             inv.Scopes,
		PreviousResponseID: previousResponseID,
		Status:             domain.ApprovalPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(timeout),
	}
	if err := s.Store.Approvals().CreateApproval(ctx, appr); err != nil {
		return domain.ApprovalRequest{}, err
	}

	slogx.FromContext(ctx).Info("tool call parked for approval",
		"approval_id", appr.ID,
		"tool", toolName,
		"subject_id", inv.SubjectID,
		"client_id", inv.ClientID,
	)
	return appr, nil
}

// Get returns an approval request, enforcing resolver entitlement.
func (s *ApprovalService) Get(ctx context.Context, id string, resolver Resolver) (domain.ApprovalRequest, error) {
	appr, err := s.Store.Approvals().GetApprovalByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ApprovalRequest{}, ErrNotFound
		}
		return domain.ApprovalRequest{}, err
	}
	if !resolver.entitled(appr) {
		// Indistinguishable from absent: don't confirm ids across
		// subjects.
		return domain.ApprovalRequest{}, ErrNotFound
	}
	return appr, nil
}

// ListForSubject returns a subject's own requests, newest first.
func (s *ApprovalService) ListForSubject(ctx context.Context, subjectID string, limit int) ([]domain.ApprovalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Store.Approvals().ListApprovalsBySubject(ctx, subjectID, limit)
}

// Resolve answers a pending request. Approval executes the stored arguments
// under the original caller's grant and records the output. Re-resolving an
// already-settled request is idempotent: the recorded outcome comes back
// without re-execution.
func (s *ApprovalService) Resolve(ctx context.Context, id string, approve bool, resolver Resolver) (domain.ApprovalRequest, error) {
	now := time.Now().UTC()
	log := slogx.FromContext(ctx)

	appr, err := s.Get(ctx, id, resolver)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	if appr.Resolved() {
		return appr, nil
	}
	if appr.Overdue(now) {
		// Settle it as expired rather than racing the sweeper.
		if err := s.expire(ctx, id, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.ApprovalRequest{}, err
		}
		return s.Get(ctx, id, resolver)
	}

	status := domain.ApprovalRejected
	if approve {
		status = domain.ApprovalApproved
	}

	err = s.Store.Approvals().ResolveApproval(ctx, id, status, resolver.SubjectID, now)
	if errors.Is(err, store.ErrNotFound) {
		// Lost the race to another resolver; return what they decided.
		return s.Get(ctx, id, resolver)
	}
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	s.Metrics.ApprovalsTotal.WithLabelValues(string(status)).Inc()
	s.Metrics.ApprovalLatency.Observe(now.Sub(appr.CreatedAt).Seconds())

	var result json.RawMessage
	if approve {
		// Execution happens outside any store transaction, under the
		// original caller's identity.
		result = s.executeStored(ctx, appr)
	} else {
		result = json.RawMessage(`{"rejected":true}`)
		log.Info("approval rejected", "approval_id", id, "resolver_id", resolver.SubjectID)
	}

	if err := s.Store.Approvals().UpdateApprovalResult(ctx, id, result); err != nil {
		return domain.ApprovalRequest{}, err
	}

	final, err := s.Get(ctx, id, resolver)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	s.notify(final)
	return final, nil
}

// executeStored runs the parked tool call with its stored arguments and
// returns the JSON to record. Tool failures are recorded, not returned:
// the approval itself succeeded.
func (s *ApprovalService) executeStored(ctx context.Context, appr domain.ApprovalRequest) json.RawMessage {
	log := slogx.FromContext(ctx)

	executor, err := s.Tools.Get(appr.ToolName)
	if err != nil {
		log.Error("approved tool vanished from registry", "approval_id", appr.ID, "tool", appr.ToolName)
		return errorResult(err)
	}

	out, err := executor.Execute(ctx, appr.Arguments, tools.Invocation{
		SubjectID: appr.SubjectID,
		ClientID:  appr.ClientID,
		Scopes:    appr.Scopes,
	})
	if err != nil {
		s.Metrics.ToolInvocations.WithLabelValues(appr.ToolName, "error").Inc()
		log.Warn("approved tool call failed", "approval_id", appr.ID, "tool", appr.ToolName, "err", err)
		return errorResult(err)
	}

	s.Metrics.ToolInvocations.WithLabelValues(appr.ToolName, "ok").Inc()
	log.Info("approved tool call executed", "approval_id", appr.ID, "tool", appr.ToolName)
	return out
}

// Wait blocks until the request resolves, the deadline passes, or ctx is
// done. It answers from the store first so resolutions are never missed.
func (s *ApprovalService) Wait(ctx context.Context, id string, resolver Resolver, timeout time.Duration) (domain.ApprovalRequest, error) {
	ch := s.subscribe(id)
	defer s.unsubscribe(id, ch)

	appr, err := s.Get(ctx, id, resolver)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if appr.Resolved() {
		return appr, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case final := <-ch:
		return final, nil
	case <-timer.C:
		return s.Get(ctx, id, resolver)
	case <-ctx.Done():
		return domain.ApprovalRequest{}, ctx.Err()
	}
}

// Sweep expires overdue pending requests. Returns how many it settled.
func (s *ApprovalService) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	ids, err := s.Store.Approvals().ListOverdueApprovals(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	var expired int
	for _, id := range ids {
		err := s.expire(ctx, id, now)
		if errors.Is(err, store.ErrNotFound) {
			continue // resolved while we were sweeping
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// RunSweeper expires overdue approvals on an interval until ctx is done.
func (s *ApprovalService) RunSweeper(ctx context.Context, interval time.Duration) error {
	log := slogx.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Error("approval sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("expired overdue approvals", "count", n)
			}
		}
	}
}

func (s *ApprovalService) expire(ctx context.Context, id string, now time.Time) error {
	if err := s.Store.Approvals().ExpireApproval(ctx, id, now); err != nil {
		return err
	}
	s.Metrics.ApprovalsTotal.WithLabelValues(string(domain.ApprovalExpired)).Inc()

	if appr, err := s.Store.Approvals().GetApprovalByID(ctx, id); err == nil {
		s.notify(appr)
	}
	return nil
}

func (s *ApprovalService) subscribe(id string) chan domain.ApprovalRequest {
	ch := make(chan domain.ApprovalRequest, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters == nil {
		s.waiters = make(map[string][]chan domain.ApprovalRequest)
	}
	s.waiters[id] = append(s.waiters[id], ch)
	return ch
}

func (s *ApprovalService) unsubscribe(id string, ch chan domain.ApprovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[id]
	for i, c := range chans {
		if c == ch {
			s.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.waiters[id]) == 0 {
		delete(s.waiters, id)
	}
}

func (s *ApprovalService) notify(appr domain.ApprovalRequest) {
	s.mu.Lock()
	chans := s.waiters[appr.ID]
	delete(s.waiters, appr.ID)
	s.mu.Unlock()

	for _, ch := range chans {
		ch <- appr // buffered; never blocks
	}
}

func errorResult(err error) json.RawMessage {
	out, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return json.RawMessage(fmt.Sprintf("{%q:%q}", "error", "tool execution failed"))
	}
	return out
}
