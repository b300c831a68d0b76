package services

import (
	"context"
	"errors"
	"time"
)

// ExpirySweeperDeps bundles the collaborators required to construct the sweeper.
type ExpirySweeperDeps struct {
	Orders    OrderService
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// ExpirySweeper periodically expires pending orders whose deadline passed
// without a payment confirmation.
type ExpirySweeper struct {
	orders    OrderService
	interval  time.Duration
	batchSize int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewExpirySweeper constructs the sweeper.
func NewExpirySweeper(deps ExpirySweeperDeps) (*ExpirySweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("expiry sweeper: order service is required")
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &ExpirySweeper{
		orders:    deps.Orders,
		interval:  interval,
		batchSize: batchSize,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) {
	expired, err := s.orders.ExpireDue(ctx, s.clock(), s.batchSize)
	if err != nil {
		s.logger(ctx, "expiry.sweep_failed", map[string]any{"error": err.Error()})
		return
	}
	if expired > 0 {
		s.logger(ctx, "expiry.swept", map[string]any{"expired": expired})
	}
}
