package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/store"
)

// resolvedApprovalRetention is how long settled approval requests stay
// queryable before the cleaner prunes them.
const resolvedApprovalRetention = 30 * 24 * time.Hour

// HousekeepingService periodically deletes expired rows so the codes,
// tokens, revocations, and resolved approvals tables don't grow without
// bound.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the service. A non-positive interval
// defaults to one hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", "interval", s.Interval)
}

// Stop shuts the worker down, blocking until any in-progress cleanup ends.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// One pass immediately so restarts don't postpone cleanup.
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup runs each deletion independently; one failing doesn't stop the
// others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now().UTC()

	var total int64

	if n, err := s.Store.AuthorizationCodes().DeleteExpiredCodes(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired authorization codes", "err", err)
	} else {
		total += n
	}

	if n, err := s.Store.RefreshTokens().DeleteExpiredTokens(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "err", err)
	} else {
		total += n
	}

	if n, err := s.Store.RevokedAccessTokens().DeleteExpiredRevocations(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired revocations", "err", err)
	} else {
		total += n
	}

	if n, err := s.Store.Approvals().DeleteResolvedBefore(ctx, now.Add(-resolvedApprovalRetention)); err != nil {
		s.Logger.Error("failed to prune resolved approvals", "err", err)
	} else {
		total += n
	}

	s.Logger.Info("housekeeping pass completed", "rows_deleted", total)
}
