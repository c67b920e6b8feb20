package usecase

import (
	"context"
	"strings"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/metrics"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

type StatusInput struct {
	OrderID       string
	CancelToken   string
	IdentityEmail string
}

type StatusOutput struct {
	OrderID string
	Status  domain.Status
}

// StatusQuery answers "is my order paid yet". A PENDING answer is refreshed
// against the provider before it is returned, so the page polled during the
// redirect dance converges without waiting on webhook delivery.
type StatusQuery struct {
	orders   OrderRepo
	gateways map[domain.Provider]PaymentGateway
	tokens   *security.TokenService
	cache    StatusCache
	sweeper  *ExpirySweeper
}

func NewStatusQuery(orders OrderRepo, gateways map[domain.Provider]PaymentGateway, tokens *security.TokenService, cache StatusCache, sweeper *ExpirySweeper) *StatusQuery {
	return &StatusQuery{orders: orders, gateways: gateways, tokens: tokens, cache: cache, sweeper: sweeper}
}

func (uc *StatusQuery) Execute(ctx context.Context, in StatusInput) (StatusOutput, error) {
	l := logging.FromCtx(ctx)

	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return StatusOutput{}, Invalid("Order id is required.")
	}

	// Stale PENDING rows must not be reported as still payable.
	if uc.sweeper != nil {
		if _, err := uc.sweeper.SweepNow(ctx); err != nil {
			l.Warn("inline sweep failed", "error", err.Error())
		}
	}

	order, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return StatusOutput{}, err
	}
	if order == nil {
		return StatusOutput{}, ErrNotFound
	}
	if !orderAccessAllowed(uc.tokens, order, in.IdentityEmail, in.CancelToken) {
		return StatusOutput{}, ErrAuthorization
	}

	if order.Status.Terminal() {
		_ = uc.cache.SetStatus(ctx, order.ID, order.Status)
		return StatusOutput{OrderID: order.ID, Status: order.Status}, nil
	}

	// Terminal answers are cached; a hit means a webhook or another poll
	// already resolved this order and the row read above raced the write.
	if cached, ok, cerr := uc.cache.GetStatus(ctx, order.ID); cerr == nil && ok && cached.Terminal() {
		return StatusOutput{OrderID: order.ID, Status: cached}, nil
	}

	status := uc.syncPending(ctx, order)
	return StatusOutput{OrderID: order.ID, Status: status}, nil
}

// syncPending pulls live provider state for each bound correlation id and
// adopts the first terminal answer. Provider trouble degrades to the stored
// status rather than erroring the poll.
func (uc *StatusQuery) syncPending(ctx context.Context, order *domain.Order) domain.Status {
	l := logging.FromCtx(ctx)

	type binding struct {
		provider      domain.Provider
		correlationID string
	}
	var bindings []binding
	if order.StripeSessionID != "" {
		bindings = append(bindings, binding{domain.ProviderStripe, order.StripeSessionID})
	}
	if order.PayPalOrderID != "" {
		bindings = append(bindings, binding{domain.ProviderPayPal, order.PayPalOrderID})
	}

	for _, b := range bindings {
		gateway, ok := uc.gateways[b.provider]
		if !ok || !gateway.Configured() {
			continue
		}
		state, err := gateway.Fetch(ctx, b.correlationID)
		if err != nil {
			l.Warn("provider fetch failed during status sync",
				"order_id", order.ID, "provider", string(b.provider), "error", err.Error())
			continue
		}

		res := Resolve(order, state)
		switch res.Status {
		case domain.StatusPaid:
			if changed, err := uc.orders.MarkPaid(ctx, order.ID, correlationUpdate(b.provider, state)); err != nil {
				l.Error("mark paid failed during status sync", "order_id", order.ID, "error", err.Error())
			} else if changed {
				metrics.OrderTransitions.WithLabelValues(string(domain.StatusPaid)).Inc()
				_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusPaid)
			}
			return domain.StatusPaid
		case domain.StatusFailed:
			if changed, err := uc.orders.MarkFailed(ctx, order.ID, correlationUpdate(b.provider, state)); err != nil {
				l.Error("mark failed failed during status sync", "order_id", order.ID, "error", err.Error())
			} else if changed {
				metrics.OrderTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
				_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusFailed)
			}
			return domain.StatusFailed
		default:
			if res.Mismatch {
				metrics.ReconciliationMismatches.WithLabelValues(string(b.provider)).Inc()
				l.Error("completed provider state does not match stored order",
					"order_id", order.ID, "provider", string(b.provider))
			}
		}
	}
	return order.Status
}
