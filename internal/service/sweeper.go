package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ExpiredCodeDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes expired one-time codes. Verification never
// relies on it; expiry is checked on read.
type Sweeper struct {
	store    ExpiredCodeDeleter
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewSweeper(store ExpiredCodeDeleter, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, log: log, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("otp sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	deleted, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("otp sweep failed", zap.Error(err))
		}
		return 0
	}
	if deleted > 0 {
		s.log.Debug("otp sweep", zap.Int64("deleted", deleted))
	}
	return deleted
}
