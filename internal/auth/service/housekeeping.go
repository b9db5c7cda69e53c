package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store"
)

// HousekeepingService periodically deletes expired pending-2FA challenges so
// the table does not grow without bound from abandoned logins and setups, and
// clears provisional TOTP secrets those abandoned setups left behind.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. An interval of 0 or
// less defaults to 1 hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Non-blocking; pair with Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", "interval", s.Interval)
}

// Stop shuts the worker down, blocking until any in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Sweep once on startup so restarts don't leave stale rows sitting
	// around for a full interval.
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep deletes challenges that have already expired, then clears secrets on
// users whose enrollment died with them: two-factor still off, a secret
// stored, and no setup challenge left to confirm it.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	if err := s.Store.Challenges().DeleteExpiredChallenges(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired challenges", "error", err)
		return
	}
	if err := s.Store.Users().ClearAbandonedTOTPSecrets(ctx, now); err != nil {
		s.Logger.Error("failed to clear abandoned setup secrets", "error", err)
		return
	}
	s.Logger.Debug("expired challenges swept")
}
