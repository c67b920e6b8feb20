package usecase

import (
	"context"
	"time"

	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/metrics"
)

const sweepLockName = "checkout:pending-sweep"

// ExpirySweeper fails stale PENDING orders in two tiers. Orders holding a
// provider session get the long window, because the provider's own expiry
// webhook usually beats the sweep; sessionless orders never got a session and
// die fast.
type ExpirySweeper struct {
	orders OrderRepo
	locker AdvisoryLocker
	audit  AuditPublisher

	withSessionTTL    time.Duration
	withoutSessionTTL time.Duration
}

func NewExpirySweeper(orders OrderRepo, locker AdvisoryLocker, audit AuditPublisher, withSessionTTL, withoutSessionTTL time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		orders:            orders,
		locker:            locker,
		audit:             audit,
		withSessionTTL:    withSessionTTL,
		withoutSessionTTL: withoutSessionTTL,
	}
}

// SweepNow runs one sweep pass. Called inline before status-sensitive reads
// and from the periodic loop.
func (s *ExpirySweeper) SweepNow(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	swept, err := s.orders.ExpirePending(ctx,
		now.Add(-s.withSessionTTL),
		now.Add(-s.withoutSessionTTL),
	)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		metrics.SweptOrders.Add(float64(swept))
		metrics.OrderTransitions.WithLabelValues("FAILED").Add(float64(swept))
		logging.FromCtx(ctx).Info("expired stale pending orders", "count", swept)
		if s.audit != nil {
			_ = s.audit.Publish(ctx, AuditEvent{Kind: "sweep", Detail: "expired stale pending orders", Count: swept})
		}
	}
	return swept, nil
}

// Run drives the periodic sweep until ctx is canceled. Each tick takes the
// cross-instance advisory lock; losing the race just means another instance
// swept this tick.
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	l := logging.FromCtx(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		release, acquired, err := s.locker.TryLock(ctx, sweepLockName)
		if err != nil {
			l.Warn("sweep lock error", "error", err.Error())
			continue
		}
		if !acquired {
			continue
		}
		if _, err := s.SweepNow(ctx); err != nil {
			l.Error("pending sweep failed", "error", err.Error())
		}
		release()
	}
}
