package retryworker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingQueue struct {
	calls atomic.Int32
	limit int
	err   error
}

func (q *countingQueue) SweepOnce(_ context.Context, limit int) (int, error) {
	q.calls.Add(1)
	q.limit = limit
	if q.err != nil {
		return 0, q.err
	}
	return 1, nil
}

func TestSweeperDrainsBothQueues(t *testing.T) {
	sms := &countingQueue{}
	email := &countingQueue{}
	s := NewSweeper(sms, email, nil).WithInterval(5 * time.Millisecond).WithBatchSize(10)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if sms.calls.Load() < 2 || email.calls.Load() < 2 {
		t.Fatalf("expected repeated sweeps, got sms=%d email=%d", sms.calls.Load(), email.calls.Load())
	}
	if sms.limit != 10 || email.limit != 10 {
		t.Fatalf("batch size not applied: sms=%d email=%d", sms.limit, email.limit)
	}
}

func TestSweeperSurvivesQueueErrors(t *testing.T) {
	sms := &countingQueue{err: errors.New("db down")}
	email := &countingQueue{}
	s := NewSweeper(sms, email, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if email.calls.Load() == 0 {
		t.Fatalf("email queue should still be swept when sms sweep errors")
	}
}

func TestSweeperHandlesNilQueues(t *testing.T) {
	s := NewSweeper(nil, nil, nil).WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	s.Run(ctx) // must not panic
}
