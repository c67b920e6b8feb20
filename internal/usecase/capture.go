package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/metrics"
)

type CaptureInput struct {
	PayPalOrderID string
}

type CaptureOutput struct {
	OrderID string
	Status  domain.Status
}

// WalletCapture is the browser-return capture path: the buyer approved the
// wallet order and the storefront calls back before any webhook lands. It
// captures synchronously and reports the resulting status.
type WalletCapture struct {
	orders   OrderRepo
	gateway  PaymentGateway
	notifier PaidNotifier
	audit    AuditPublisher
	cache    StatusCache
}

func NewWalletCapture(orders OrderRepo, gateway PaymentGateway, notifier PaidNotifier, audit AuditPublisher, cache StatusCache) *WalletCapture {
	return &WalletCapture{orders: orders, gateway: gateway, notifier: notifier, audit: audit, cache: cache}
}

func (uc *WalletCapture) Execute(ctx context.Context, in CaptureInput) (CaptureOutput, error) {
	l := logging.FromCtx(ctx)

	paypalOrderID := strings.TrimSpace(in.PayPalOrderID)
	if paypalOrderID == "" {
		return CaptureOutput{}, Invalid("PayPal order id is required.")
	}
	if uc.gateway == nil || !uc.gateway.Configured() {
		return CaptureOutput{}, fmt.Errorf("%w: paypal", ErrNotConfigured)
	}

	state, err := uc.gateway.Fetch(ctx, paypalOrderID)
	if err != nil {
		return CaptureOutput{}, fmt.Errorf("%w: %v", ErrProviderTransient, err)
	}

	order, err := uc.locate(ctx, state.OrderRef, paypalOrderID)
	if err != nil {
		return CaptureOutput{}, err
	}
	if order == nil {
		return CaptureOutput{}, ErrNotFound
	}
	if order.PayPalOrderID != "" && order.PayPalOrderID != paypalOrderID {
		return CaptureOutput{}, fmt.Errorf("%w: order %s already bound to a different paypal id",
			ErrIntegrityConflict, order.ID)
	}
	if order.Status.Terminal() {
		return CaptureOutput{OrderID: order.ID, Status: order.Status}, nil
	}

	// The buyer-visible amount must match before money moves.
	if state.AmountCents != nil &&
		(*state.AmountCents != order.TotalCents || !strings.EqualFold(state.Currency, order.Currency)) {
		metrics.ReconciliationMismatches.WithLabelValues(string(domain.ProviderPayPal)).Inc()
		uc.publishAudit(ctx, AuditEvent{
			Kind: "amount_mismatch", OrderID: order.ID, Provider: string(domain.ProviderPayPal),
			AmountCents: state.AmountCents, ExpectedCents: order.TotalCents, Currency: state.Currency,
		})
		return CaptureOutput{}, Invalid("Order amount mismatch.")
	}

	if strings.EqualFold(state.RawStatus, "APPROVED") {
		state, err = uc.gateway.Capture(ctx, paypalOrderID)
		if err != nil {
			if errors.Is(err, ErrProviderRejected) {
				// A definitive decline fails the order right away instead of
				// stranding it PENDING until the sweep.
				if changed, ferr := uc.orders.MarkFailed(ctx, order.ID, CorrelationIDs{PayPalOrderID: paypalOrderID}); ferr != nil {
					l.Error("mark failed after capture decline", "order_id", order.ID, "error", ferr.Error())
				} else if changed {
					metrics.OrderTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
					_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusFailed)
				}
				return CaptureOutput{OrderID: order.ID, Status: domain.StatusFailed}, nil
			}
			return CaptureOutput{}, fmt.Errorf("%w: %v", ErrProviderTransient, err)
		}
	}

	res := Resolve(order, state)
	switch res.Status {
	case domain.StatusPaid:
		changed, err := uc.orders.MarkPaid(ctx, order.ID, correlationUpdate(domain.ProviderPayPal, state))
		if err != nil {
			return CaptureOutput{}, err
		}
		if changed {
			metrics.OrderTransitions.WithLabelValues(string(domain.StatusPaid)).Inc()
			_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusPaid)
			uc.publishAudit(ctx, AuditEvent{
				Kind: "transition", OrderID: order.ID,
				Provider: string(domain.ProviderPayPal), Status: string(domain.StatusPaid),
			})
			order.Status = domain.StatusPaid
			if uc.notifier != nil {
				if err := uc.notifier.NotifyPaid(ctx, order); err != nil {
					l.Error("paid notification failed", "order_id", order.ID, "error", err.Error())
				}
			}
		}
		return CaptureOutput{OrderID: order.ID, Status: domain.StatusPaid}, nil

	case domain.StatusFailed:
		if changed, err := uc.orders.MarkFailed(ctx, order.ID, correlationUpdate(domain.ProviderPayPal, state)); err != nil {
			l.Error("mark failed after capture", "order_id", order.ID, "error", err.Error())
		} else if changed {
			metrics.OrderTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
			_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusFailed)
		}
		return CaptureOutput{OrderID: order.ID, Status: domain.StatusFailed}, nil
	}

	if res.Mismatch {
		metrics.ReconciliationMismatches.WithLabelValues(string(domain.ProviderPayPal)).Inc()
		uc.publishAudit(ctx, AuditEvent{
			Kind: "amount_mismatch", OrderID: order.ID, Provider: string(domain.ProviderPayPal),
			AmountCents: state.AmountCents, ExpectedCents: order.TotalCents, Currency: state.Currency,
		})
		return CaptureOutput{}, Invalid("Order amount mismatch.")
	}

	if order.PayPalOrderID == "" {
		if err := uc.orders.SetPayPalIDs(ctx, order.ID, paypalOrderID, state.CaptureID); err != nil {
			l.Error("bind paypal ids failed", "order_id", order.ID, "error", err.Error())
		}
	}
	return CaptureOutput{OrderID: order.ID, Status: order.Status}, nil
}

func (uc *WalletCapture) locate(ctx context.Context, orderRef, paypalOrderID string) (*domain.Order, error) {
	if orderRef != "" {
		order, err := uc.orders.GetByID(ctx, orderRef)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	return uc.orders.GetByPayPalOrderID(ctx, paypalOrderID)
}

func (uc *WalletCapture) publishAudit(ctx context.Context, ev AuditEvent) {
	if uc.audit == nil {
		return
	}
	if err := uc.audit.Publish(ctx, ev); err != nil {
		logging.FromCtx(ctx).Error("audit publish failed", "kind", ev.Kind, "order_id", ev.OrderID, "error", err.Error())
	}
}
