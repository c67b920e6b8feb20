// Package metrics holds the domain-level Prometheus collectors. HTTP-level
// request metrics live in the gin middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions that actually changed a row",
		},
		[]string{"to"},
	)

	ReconciliationMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_mismatches_total",
			Help: "Completed provider payloads whose amount or currency disagreed with the stored order",
		},
		[]string{"provider"},
	)

	SweptOrders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swept_pending_orders_total",
			Help: "PENDING orders expired to FAILED by the sweeper",
		},
	)
)
