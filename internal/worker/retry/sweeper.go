// Package retryworker periodically drains due pending SMS and email so
// scheduled retries actually get sent.
package retryworker

import (
	"context"
	"time"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Queue is anything that can dispatch a batch of due messages.
type Queue interface {
	SweepOnce(ctx context.Context, limit int) (int, error)
}

// Sweeper drives the SMS and email queues on a shared ticker.
type Sweeper struct {
	sms       Queue
	email     Queue
	logger    *logging.Logger
	interval  time.Duration
	batchSize int
}

func NewSweeper(sms, email Queue, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		sms:       sms,
		email:     email,
		logger:    logger.WithComponent("retry_sweeper"),
		interval:  30 * time.Second,
		batchSize: 25,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// Run sweeps immediately and then on every tick until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Sweeper) drain(ctx context.Context) {
	if s.sms != nil {
		if n, err := s.sms.SweepOnce(ctx, s.batchSize); err != nil {
			s.logger.Error("sms sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("sms sweep dispatched", "count", n)
		}
	}
	if s.email != nil {
		if n, err := s.email.SweepOnce(ctx, s.batchSize); err != nil {
			s.logger.Error("email sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("email sweep dispatched", "count", n)
		}
	}
}
