package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunStaleCallMonitor abandons ledger rows left pending past twice the upstream
// timeout, which only happens when the relay stopped mid-call.
func (s *Service) RunStaleCallMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleCalls(ctx)
		}
	}
}

func (s *Service) sweepStaleCalls(ctx context.Context) {
	// Without an upstream timeout a pending call may legitimately run forever.
	if s.upstreamTimeout <= 0 {
		return
	}

	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-2 * s.upstreamTimeout)
	n, err := s.store.AbandonStaleCalls(sweepCtx, cutoff)
	if err != nil {
		s.logger.Warn("stale call sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("abandoned stale relay calls", zap.Int64("count", n))
	}
}
