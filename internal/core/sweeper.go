package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

// ExpirySweeper periodically releases holds whose deadline has passed. The
// release itself is a guarded status flip, so any number of sweepers (or
// replicas) can run concurrently without double-releasing a hold.
type ExpirySweeper struct {
	reservations ReservationService
	interval     time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewExpirySweeper(reservations ReservationService, interval time.Duration, log *zap.Logger, clock func() time.Time) *ExpirySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &ExpirySweeper{reservations: reservations, interval: interval, log: log, now: clock}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Intended to
// be launched as a goroutine from main.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce releases all currently due holds and logs the count.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) {
	expired, err := s.reservations.ExpireDue(ctx, s.now())
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("released expired holds", zap.Int("count", expired))
	}
}
