package usecase

import (
	"context"
	"fmt"
	"log/slog"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/metrics"
)

// Event types the ingestor acts on. Everything else is durably marked
// handled so the provider stops redelivering it.
var supportedEvents = map[domain.Provider]map[string]bool{
	domain.ProviderStripe: {
		"checkout.session.completed":               true,
		"checkout.session.async_payment_succeeded": true,
		"checkout.session.expired":                 true,
		"checkout.session.async_payment_failed":    true,
	},
	domain.ProviderPayPal: {
		"CHECKOUT.ORDER.APPROVED":   true,
		"CHECKOUT.ORDER.COMPLETED":  true,
		"CHECKOUT.ORDER.VOIDED":     true,
		"PAYMENT.CAPTURE.COMPLETED": true,
		"PAYMENT.CAPTURE.DECLINED":  true,
		"PAYMENT.CAPTURE.DENIED":    true,
	},
}

// An approved wallet order is captured, not just fetched, so the money moves
// before we credit it.
var captureEvents = map[domain.Provider]map[string]bool{
	domain.ProviderPayPal: {"CHECKOUT.ORDER.APPROVED": true},
}

// IngestEvent is a provider webhook envelope after signature verification
// and parsing: the canonical event id, the event type, and whatever order
// references the envelope carried.
type IngestEvent struct {
	Provider      domain.Provider
	EventID       string
	Type          string
	OrderRef      string // embedded internal order id, if present
	CorrelationID string // provider-native session/order id, if present
}

// WebhookIngestor runs the shared idempotent ingestion protocol: dedup,
// live reconciliation against the provider API, conditional transition,
// side-effect dispatch, then the write-once dedup marker.
type WebhookIngestor struct {
	events   WebhookEventRepo
	orders   OrderRepo
	gateways map[domain.Provider]PaymentGateway
	notifier PaidNotifier
	audit    AuditPublisher
	cache    StatusCache
}

func NewWebhookIngestor(
	events WebhookEventRepo,
	orders OrderRepo,
	gateways map[domain.Provider]PaymentGateway,
	notifier PaidNotifier,
	audit AuditPublisher,
	cache StatusCache,
) *WebhookIngestor {
	return &WebhookIngestor{
		events:   events,
		orders:   orders,
		gateways: gateways,
		notifier: notifier,
		audit:    audit,
		cache:    cache,
	}
}

func (uc *WebhookIngestor) Handle(ctx context.Context, ev IngestEvent) error {
	l := logging.FromCtx(ctx).With("provider", string(ev.Provider), "event_id", ev.EventID, "event_type", ev.Type)

	if ev.EventID == "" {
		return Invalid("missing event id")
	}

	processed, err := uc.events.IsProcessed(ctx, ev.Provider, ev.EventID)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if processed {
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "duplicate").Inc()
		return nil
	}

	if !supportedEvents[ev.Provider][ev.Type] {
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "ignored").Inc()
		return uc.events.MarkProcessed(ctx, ev.Provider, ev.EventID)
	}

	order, err := uc.locateOrder(ctx, ev)
	if err != nil {
		return err
	}
	if order == nil {
		l.Warn("webhook references unknown order", "correlation_id", ev.CorrelationID)
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "orphan").Inc()
		return uc.events.MarkProcessed(ctx, ev.Provider, ev.EventID)
	}

	// A correlation id conflicting with one already bound to the order is
	// rejected outright, never merged.
	stored := storedCorrelationID(order, ev.Provider)
	if ev.CorrelationID != "" && stored != "" && stored != ev.CorrelationID {
		return fmt.Errorf("%w: order %s already bound to a different %s id",
			ErrIntegrityConflict, order.ID, ev.Provider)
	}

	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = stored
	}
	if correlationID == "" {
		l.Warn("webhook event carries no usable correlation id", "order_id", order.ID)
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "orphan").Inc()
		return uc.events.MarkProcessed(ctx, ev.Provider, ev.EventID)
	}

	// Financial decisions come from the provider's live state, never from
	// the webhook body's amount fields.
	gateway := uc.gateways[ev.Provider]
	var state ProviderState
	if captureEvents[ev.Provider][ev.Type] {
		state, err = gateway.Capture(ctx, correlationID)
	} else {
		state, err = gateway.Fetch(ctx, correlationID)
	}
	if err != nil {
		// No dedup marker yet, so the provider's redelivery gets a clean
		// retry once the API is reachable again.
		return fmt.Errorf("%w: %v", ErrProviderTransient, err)
	}

	if err := uc.applyResolution(ctx, l, order, ev, state); err != nil {
		// A failed status write leaves the event unmarked; the provider's
		// redelivery retries the transition.
		return err
	}

	// Marker goes last: a crash or error before this point leaves the event
	// retryable; after it, every redelivery is a guaranteed no-op.
	return uc.events.MarkProcessed(ctx, ev.Provider, ev.EventID)
}

func (uc *WebhookIngestor) applyResolution(ctx context.Context, l *slog.Logger, order *domain.Order, ev IngestEvent, state ProviderState) error {
	res := Resolve(order, state)
	corr := correlationUpdate(ev.Provider, state)

	switch res.Status {
	case domain.StatusPaid:
		changed, err := uc.orders.MarkPaid(ctx, order.ID, corr)
		if err != nil {
			return fmt.Errorf("mark paid %s: %w", order.ID, err)
		}
		if !changed {
			metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "noop").Inc()
			return nil
		}
		metrics.OrderTransitions.WithLabelValues(string(domain.StatusPaid)).Inc()
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "paid").Inc()
		_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusPaid)
		uc.publishAudit(ctx, AuditEvent{
			Kind: "transition", OrderID: order.ID, Provider: string(ev.Provider),
			EventID: ev.EventID, Status: string(domain.StatusPaid),
		})
		order.Status = domain.StatusPaid
		if err := uc.notifier.NotifyPaid(ctx, order); err != nil {
			// Fire and forget: notification trouble never reverses a payment.
			l.Error("paid notification failed", "order_id", order.ID, "error", err.Error())
		}
		return nil

	case domain.StatusFailed:
		changed, err := uc.orders.MarkFailed(ctx, order.ID, corr)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", order.ID, err)
		}
		if changed {
			metrics.OrderTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
			_ = uc.cache.SetStatus(ctx, order.ID, domain.StatusFailed)
			uc.publishAudit(ctx, AuditEvent{
				Kind: "transition", OrderID: order.ID, Provider: string(ev.Provider),
				EventID: ev.EventID, Status: string(domain.StatusFailed),
			})
		}
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "failed").Inc()
		return nil

	default:
		if res.Mismatch {
			metrics.ReconciliationMismatches.WithLabelValues(string(ev.Provider)).Inc()
			metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "mismatch").Inc()
			l.Error("completed provider state does not match stored order",
				"order_id", order.ID,
				"expected_cents", order.TotalCents,
				"expected_currency", order.Currency)
			uc.publishAudit(ctx, AuditEvent{
				Kind: "amount_mismatch", OrderID: order.ID, Provider: string(ev.Provider),
				EventID: ev.EventID, AmountCents: state.AmountCents,
				ExpectedCents: order.TotalCents, Currency: state.Currency,
			})
			return nil
		}
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), "unresolved").Inc()
		// Bind the correlation id even without a transition so later events
		// can find the order by provider id.
		uc.bindCorrelation(ctx, order, ev.Provider, state)
		return nil
	}
}

func (uc *WebhookIngestor) locateOrder(ctx context.Context, ev IngestEvent) (*domain.Order, error) {
	if ev.OrderRef != "" {
		order, err := uc.orders.GetByID(ctx, ev.OrderRef)
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", ev.OrderRef, err)
		}
		if order != nil {
			return order, nil
		}
	}
	if ev.CorrelationID == "" {
		return nil, nil
	}
	switch ev.Provider {
	case domain.ProviderStripe:
		order, err := uc.orders.GetByStripeSessionID(ctx, ev.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("load order by session: %w", err)
		}
		return order, nil
	case domain.ProviderPayPal:
		order, err := uc.orders.GetByPayPalOrderID(ctx, ev.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("load order by paypal id: %w", err)
		}
		return order, nil
	}
	return nil, nil
}

func (uc *WebhookIngestor) bindCorrelation(ctx context.Context, order *domain.Order, provider domain.Provider, state ProviderState) {
	switch provider {
	case domain.ProviderStripe:
		if order.StripeSessionID == "" && state.CorrelationID != "" {
			_ = uc.orders.SetStripeSessionID(ctx, order.ID, state.CorrelationID)
		}
	case domain.ProviderPayPal:
		if order.PayPalOrderID == "" && state.CorrelationID != "" {
			_ = uc.orders.SetPayPalIDs(ctx, order.ID, state.CorrelationID, state.CaptureID)
		}
	}
}

func (uc *WebhookIngestor) publishAudit(ctx context.Context, ev AuditEvent) {
	if uc.audit == nil {
		return
	}
	if err := uc.audit.Publish(ctx, ev); err != nil {
		logging.FromCtx(ctx).Error("audit publish failed", "kind", ev.Kind, "order_id", ev.OrderID, "error", err.Error())
	}
}

func storedCorrelationID(order *domain.Order, provider domain.Provider) string {
	switch provider {
	case domain.ProviderStripe:
		return order.StripeSessionID
	case domain.ProviderPayPal:
		return order.PayPalOrderID
	}
	return ""
}

func correlationUpdate(provider domain.Provider, state ProviderState) CorrelationIDs {
	switch provider {
	case domain.ProviderStripe:
		return CorrelationIDs{StripeSessionID: state.CorrelationID}
	case domain.ProviderPayPal:
		return CorrelationIDs{PayPalOrderID: state.CorrelationID, PayPalCaptureID: state.CaptureID}
	}
	return CorrelationIDs{}
}
