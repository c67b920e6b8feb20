package usecase

import (
	"context"
	"strings"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/metrics"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

type CancelInput struct {
	OrderID       string
	PayPalOrderID string
	CancelToken   string
	IdentityEmail string
}

type CancelOutput struct {
	Canceled bool
	Status   domain.Status
}

// Cancellation cancels a PENDING order after checking for live payment
// evidence: a payment that completed moments before the cancel request is
// adopted, not clobbered. Provider-side invalidation is best effort.
type Cancellation struct {
	orders   OrderRepo
	gateways map[domain.Provider]PaymentGateway
	tokens   *security.TokenService
	cache    StatusCache
}

func NewCancellation(orders OrderRepo, gateways map[domain.Provider]PaymentGateway, tokens *security.TokenService, cache StatusCache) *Cancellation {
	return &Cancellation{orders: orders, gateways: gateways, tokens: tokens, cache: cache}
}

// orderAccessAllowed implements the shared access rule for cancel and status:
// the authenticated identity must own the order's email, or the request must
// carry a valid cancel token scoped to exactly this (order, email) pair.
func orderAccessAllowed(tokens *security.TokenService, order *domain.Order, identityEmail, cancelToken string) bool {
	orderEmail := strings.ToLower(strings.TrimSpace(order.Email))
	if orderEmail == "" {
		return false
	}
	if identityEmail != "" && strings.EqualFold(identityEmail, orderEmail) {
		return true
	}
	if strings.TrimSpace(cancelToken) == "" {
		return false
	}
	tokenOrderID, tokenEmail, err := tokens.VerifyCancelToken(cancelToken)
	if err != nil {
		return false
	}
	return tokenOrderID == order.ID && tokenEmail == orderEmail
}

func (uc *Cancellation) Execute(ctx context.Context, in CancelInput) (CancelOutput, error) {
	l := logging.FromCtx(ctx)

	orderID := strings.TrimSpace(in.OrderID)
	paypalOrderID := strings.TrimSpace(in.PayPalOrderID)

	var order *domain.Order
	var err error
	if orderID != "" {
		order, err = uc.orders.GetByID(ctx, orderID)
		if err != nil {
			return CancelOutput{}, err
		}
	}
	if order == nil && paypalOrderID != "" {
		order, err = uc.orders.GetByPayPalOrderID(ctx, paypalOrderID)
		if err != nil {
			return CancelOutput{}, err
		}
	}
	if order == nil {
		return CancelOutput{}, ErrNotFound
	}

	allowed := orderAccessAllowed(uc.tokens, order, in.IdentityEmail, in.CancelToken)
	// Knowing the wallet correlation id is itself proof of having gone
	// through this checkout's redirect.
	if !allowed && paypalOrderID != "" && order.PayPalOrderID == paypalOrderID {
		allowed = true
	}
	if !allowed {
		l.Warn("cancel denied", "order_id", order.ID)
		// "Not found", never "forbidden": existence must not leak.
		return CancelOutput{}, ErrAuthorization
	}

	switch order.Status {
	case domain.StatusPaid:
		return CancelOutput{Canceled: false, Status: domain.StatusPaid}, nil
	case domain.StatusCanceled, domain.StatusFailed:
		return CancelOutput{Canceled: true, Status: order.Status}, nil
	}

	if out, done := uc.reconcileBeforeCancel(ctx, order); done {
		return out, nil
	}

	if changed, err := uc.orders.MarkCanceled(ctx, order.ID); err != nil {
		l.Error("mark canceled failed", "order_id", order.ID, "error", err.Error())
	} else if changed {
		metrics.OrderTransitions.WithLabelValues(string(domain.StatusCanceled)).Inc()
		_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusCanceled)
	}
	return CancelOutput{Canceled: true, Status: domain.StatusCanceled}, nil
}

// reconcileBeforeCancel fetches live provider state for every correlation id
// the order holds. Payment evidence wins over the cancel request; an open or
// approvable session is invalidated best-effort.
func (uc *Cancellation) reconcileBeforeCancel(ctx context.Context, order *domain.Order) (CancelOutput, bool) {
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
			l.Warn("provider fetch failed during cancel",
				"order_id", order.ID, "provider", string(b.provider), "error", err.Error())
			continue
		}

		res := Resolve(order, state)
		switch res.Status {
		case domain.StatusPaid:
			if changed, err := uc.orders.MarkPaid(ctx, order.ID, correlationUpdate(b.provider, state)); err == nil && changed {
				metrics.OrderTransitions.WithLabelValues(string(domain.StatusPaid)).Inc()
				_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusPaid)
			}
			return CancelOutput{Canceled: false, Status: domain.StatusPaid}, true
		case domain.StatusFailed:
			if changed, err := uc.orders.MarkFailed(ctx, order.ID, correlationUpdate(b.provider, state)); err == nil && changed {
				metrics.OrderTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
				_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusFailed)
			}
			return CancelOutput{Canceled: true, Status: domain.StatusFailed}, true
		}

		if voidable(b.provider, state.RawStatus) {
			if err := gateway.Void(ctx, b.correlationID); err != nil {
				l.Warn("provider void failed during cancel",
					"order_id", order.ID, "provider", string(b.provider), "error", err.Error())
			}
		}
	}
	return CancelOutput{}, false
}

func voidable(provider domain.Provider, rawStatus string) bool {
	switch provider {
	case domain.ProviderStripe:
		return strings.EqualFold(rawStatus, "open")
	case domain.ProviderPayPal:
		switch strings.ToUpper(rawStatus) {
		case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
			return true
		}
	}
	return false
}
