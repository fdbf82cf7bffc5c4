package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/stretchr/testify/require"
)

var testInvocation = tools.Invocation{
	SubjectID: "subject-1",
	ClientID:  "client-1",
	Scopes:    []string{"mcp:fetch"},
}

func ownerResolver() service.Resolver {
	return service.Resolver{SubjectID: "subject-1", Scopes: []string{"approvals:write"}}
}

func TestApprovalLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	args := json.RawMessage(`{"id":"doc-1"}`)

	t.Run("approve executes the stored arguments", func(t *testing.T) {
		appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", args, "resp-41")
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalPending, appr.Status)
		require.Equal(t, domain.DigestArguments(args), appr.ArgumentsDigest)
		require.Equal(t, "resp-41", appr.PreviousResponseID)

		final, err := f.Approvals.Resolve(ctx, appr.ID, true, ownerResolver())
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalApproved, final.Status)
		require.Equal(t, "subject-1", final.ResolverID)

		var doc tools.Document
		require.NoError(t, json.Unmarshal(final.Result, &doc))
		require.Equal(t, "Deployment runbook", doc.Title)
	})

	t.Run("reject records no execution", func(t *testing.T) {
		appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", args, "")
		require.NoError(t, err)

		final, err := f.Approvals.Resolve(ctx, appr.ID, false, ownerResolver())
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalRejected, final.Status)
		require.JSONEq(t, `{"rejected":true}`, string(final.Result))
	})

	t.Run("re-resolution is idempotent", func(t *testing.T) {
		appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", args, "")
		require.NoError(t, err)

		first, err := f.Approvals.Resolve(ctx, appr.ID, true, ownerResolver())
		require.NoError(t, err)

		// A contradictory second answer changes nothing.
		second, err := f.Approvals.Resolve(ctx, appr.ID, false, ownerResolver())
		require.NoError(t, err)
		require.Equal(t, first.Status, second.Status)
		require.Equal(t, string(first.Result), string(second.Result))
	})

	t.Run("approved execution failure is recorded, approval stands", func(t *testing.T) {
		bad := json.RawMessage(`{"id":"doc-404"}`)
		appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", bad, "")
		require.NoError(t, err)

		final, err := f.Approvals.Resolve(ctx, appr.ID, true, ownerResolver())
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalApproved, final.Status)

		var res map[string]string
		require.NoError(t, json.Unmarshal(final.Result, &res))
		require.Contains(t, res["error"], "document not found")
	})
}

func TestApprovalEntitlement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", json.RawMessage(`{"id":"doc-1"}`), "")
	require.NoError(t, err)

	t.Run("stranger sees nothing", func(t *testing.T) {
		stranger := service.Resolver{SubjectID: "subject-9", Scopes: []string{"approvals:write"}}
		_, err := f.Approvals.Get(ctx, appr.ID, stranger)
		require.ErrorIs(t, err, service.ErrNotFound)
		_, err = f.Approvals.Resolve(ctx, appr.ID, true, stranger)
		require.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("admin may resolve", func(t *testing.T) {
		admin := service.Resolver{SubjectID: "ops-1", Scopes: []string{"approvals:write", "admin:write"}}
		final, err := f.Approvals.Resolve(ctx, appr.ID, false, admin)
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalRejected, final.Status)
		require.Equal(t, "ops-1", final.ResolverID)
	})
}

func TestApprovalExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.Approvals.Timeout = -time.Second // park already overdue
	ctx := context.Background()

	appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", json.RawMessage(`{"id":"doc-1"}`), "")
	require.NoError(t, err)

	t.Run("sweep expires overdue requests", func(t *testing.T) {
		n, err := f.Approvals.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := f.Approvals.Get(ctx, appr.ID, ownerResolver())
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalExpired, got.Status)
	})

	t.Run("resolving an overdue request settles it as expired", func(t *testing.T) {
		late, err := f.Approvals.Park(ctx, testInvocation, "fetch", json.RawMessage(`{"id":"doc-1"}`), "")
		require.NoError(t, err)

		final, err := f.Approvals.Resolve(ctx, late.ID, true, ownerResolver())
		require.NoError(t, err)
		require.Equal(t, domain.ApprovalExpired, final.Status)
	})
}

func TestApprovalConcurrentResolvers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", json.RawMessage(`{"id":"doc-1"}`), "")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	statuses := make(chan domain.ApprovalStatus, attempts)
	for i := range attempts {
		approve := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			final, err := f.Approvals.Resolve(ctx, appr.ID, approve, ownerResolver())
			require.NoError(t, err)
			statuses <- final.Status
		}()
	}
	wg.Wait()
	close(statuses)

	// Whatever won, everyone observed the same settled outcome.
	var first domain.ApprovalStatus
	for status := range statuses {
		if first == "" {
			first = status
		}
		require.Equal(t, first, status)
	}
	require.Contains(t, []domain.ApprovalStatus{domain.ApprovalApproved, domain.ApprovalRejected}, first)
}

func TestApprovalWait(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	appr, err := f.Approvals.Park(ctx, testInvocation, "fetch", json.RawMessage(`{"id":"doc-1"}`), "")
	require.NoError(t, err)

	done := make(chan domain.ApprovalRequest, 1)
	go func() {
		final, werr := f.Approvals.Wait(ctx, appr.ID, ownerResolver(), 5*time.Second)
		require.NoError(t, werr)
		done <- final
	}()

	// Give the waiter a moment to subscribe, then resolve.
	time.Sleep(50 * time.Millisecond)
	_, err = f.Approvals.Resolve(ctx, appr.ID, true, ownerResolver())
	require.NoError(t, err)

	select {
	case final := <-done:
		require.Equal(t, domain.ApprovalApproved, final.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestListForSubject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		_, err := f.Approvals.Park(ctx, testInvocation, "fetch", json.RawMessage(`{"id":"doc-1"}`), "")
		require.NoError(t, err)
	}

	list, err := f.Approvals.ListForSubject(ctx, "subject-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = f.Approvals.ListForSubject(ctx, "someone-else", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}
