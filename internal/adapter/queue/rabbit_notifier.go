package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// RabbitNotifier publishes order.paid events for the mail worker that sends
// the confirmation email. Fire and forget from the caller's point of view.
type RabbitNotifier struct {
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitNotifier declares the exchange, queue, and binding once at startup.
func NewRabbitNotifier(ch *amqp.Channel, exchange, routingKey string) (*RabbitNotifier, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		routingKey+".q",
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitNotifier{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

var _ usecase.PaidNotifier = (*RabbitNotifier)(nil)

// paidMsg is the contract with the mail worker. Item snapshots ride along so
// the worker never reads the database.
type paidMsg struct {
	OrderID         string        `json:"orderId"`
	Email           string        `json:"email"`
	Phone           string        `json:"phone,omitempty"`
	TotalCents      int64         `json:"totalCents"`
	Currency        string        `json:"currency"`
	DeliveryAddress string        `json:"deliveryAddress,omitempty"`
	OrderComment    string        `json:"orderComment,omitempty"`
	Items           []paidMsgItem `json:"items"`
}

type paidMsgItem struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Quantity   int    `json:"quantity"`
	Details    string `json:"details,omitempty"`
}

func (n *RabbitNotifier) NotifyPaid(ctx context.Context, order *domain.Order) error {
	msg := paidMsg{
		OrderID:         order.ID,
		Email:           order.Email,
		Phone:           order.Phone,
		TotalCents:      order.TotalCents,
		Currency:        order.Currency,
		DeliveryAddress: order.DeliveryAddress,
		OrderComment:    order.OrderComment,
	}
	for _, it := range order.Items {
		msg.Items = append(msg.Items, paidMsgItem{
			Name: it.Name, PriceCents: it.PriceCents, Quantity: it.Quantity, Details: it.Details,
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    order.ID,
		Body:         body,
	}
	if err := n.ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, pub); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
