package domain

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCanceled
}

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

var ErrInvalidAmount = errors.New("invalid amount")

type Money struct {
	Cents    int64
	Currency string
}

// Order is the durable snapshot taken at checkout time. TotalCents is the sum
// of item price*quantity plus the delivery fee, computed once at creation;
// catalog price changes never touch a placed order.
type Order struct {
	ID    string
	Email string
	Phone string

	TotalCents int64
	Currency   string
	Status     Status

	// Provider correlation ids, each set at most once.
	StripeSessionID string
	PayPalOrderID   string
	PayPalCaptureID string

	DeliveryAddress    string
	DeliveryLine1      string
	DeliveryLine2      string
	DeliveryCity       string
	DeliveryState      string
	DeliveryPostalCode string
	DeliveryCountry    string
	DeliveryFloor      string
	DeliveryMiles      string
	DeliveryFeeCents   int64

	OrderComment              string
	FirstOrderDiscountPercent int

	IsDeleted bool
	DeletedAt *time.Time
	CreatedAt time.Time

	Items []OrderItem
}

func (o *Order) Validate() error {
	if o.TotalCents <= 0 || o.Currency == "" {
		return ErrInvalidAmount
	}
	return nil
}

// OrderItem stores a point-in-time snapshot, never a live catalog reference.
type OrderItem struct {
	ID         string
	OrderID    string
	Name       string
	PriceCents int64
	Quantity   int
	Image      string
	Details    string
}

// WebhookEvent is a write-once dedup marker keyed by (provider, event id).
// Existence alone means "already handled".
type WebhookEvent struct {
	ID        string
	Provider  Provider
	EventID   string
	CreatedAt time.Time
}
