package usecase

import (
	"context"
	"time"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
)

// OrderRepo persists the Order/OrderItem aggregate. Status transitions are
// conditional writes; callers learn from the affected-row signal whether they
// won the transition.
type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByStripeSessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	GetByPayPalOrderID(ctx context.Context, paypalOrderID string) (*domain.Order, error)

	// SetStripeSessionID binds the card-checkout correlation id. Set once.
	SetStripeSessionID(ctx context.Context, orderID, sessionID string) error
	// SetPayPalIDs binds the wallet-checkout correlation ids. Set once each.
	SetPayPalIDs(ctx context.Context, orderID, paypalOrderID, captureID string) error

	// MarkPaid transitions to PAID guarded by `status != PAID`. Returns true
	// only when a row actually changed; a no-op against an already-PAID order
	// returns false so duplicate events cannot re-trigger side effects.
	MarkPaid(ctx context.Context, orderID string, corr CorrelationIDs) (bool, error)
	// MarkFailed transitions to FAILED guarded by `status != PAID`.
	MarkFailed(ctx context.Context, orderID string, corr CorrelationIDs) (bool, error)
	// MarkCanceled transitions to CANCELED guarded by `status = PENDING`.
	MarkCanceled(ctx context.Context, orderID string) (bool, error)

	// ExpirePending sweeps stale PENDING orders to FAILED: orders holding a
	// provider session created before withSessionBefore, and sessionless
	// orders created before withoutSessionBefore. Soft-deleted rows are
	// excluded. Returns the number of rows swept.
	ExpirePending(ctx context.Context, withSessionBefore, withoutSessionBefore time.Time) (int64, error)
}

// CorrelationIDs carries provider ids learned during reconciliation so the
// transition write can bind them in the same statement.
type CorrelationIDs struct {
	StripeSessionID string
	PayPalOrderID   string
	PayPalCaptureID string
}

// WebhookEventRepo is the write-once dedup marker store.
type WebhookEventRepo interface {
	IsProcessed(ctx context.Context, provider domain.Provider, eventID string) (bool, error)
	// MarkProcessed inserts the marker; inserting an existing (provider,
	// event id) pair is a silent no-op.
	MarkProcessed(ctx context.Context, provider domain.Provider, eventID string) error
}

// CatalogReader is the catalog read model: active rows only, current prices.
type CatalogReader interface {
	ActiveByIDs(ctx context.Context, ids []string) (map[string]domain.Bouquet, error)
}

// SettingsReader loads the store-wide discount configuration.
type SettingsReader interface {
	StoreSettings(ctx context.Context) (domain.StoreSettings, error)
}

// CustomerDirectory identifies customers and serializes first-order-discount
// decisions per customer.
type CustomerDirectory interface {
	FindOrIdentify(ctx context.Context, email string) (string, error)
	// ClaimFirstOrder runs decide while holding an exclusive lock on the
	// customer record, so two concurrent checkouts from the same identity
	// cannot both observe "no prior paid orders". decide receives the count
	// of prior PAID orders and whether an open PENDING/PAID order already
	// carries the first-order discount; the order it returns is inserted
	// before the lock is released.
	ClaimFirstOrder(ctx context.Context, email string, decide func(priorPaid int, hasOpenDiscount bool) (*domain.Order, error)) error
}

// DeliveryQuote is the address-to-fee answer from the distance service.
type DeliveryQuote struct {
	Miles            float64
	DistanceText     string
	FeeCents         int64
	FormattedAddress string
}

type DeliveryQuoter interface {
	Quote(ctx context.Context, address string) (DeliveryQuote, error)
}

// CheckoutSession is what a gateway returns when it opens a provider-side
// checkout.
type CheckoutSession struct {
	Provider    domain.Provider
	ID          string
	RedirectURL string
}

type CreateSessionInput struct {
	OrderID    string
	TotalCents int64
	Currency   string
	Email      string
	Items      []SessionLineItem
	SuccessURL string
	CancelURL  string
}

type SessionLineItem struct {
	Name      string
	ImageURL  string
	UnitCents int64
	Quantity  int
}

// ProviderState is the authoritative snapshot fetched live from a provider,
// normalized so the resolver never sees provider-specific fields.
type ProviderState struct {
	Provider      domain.Provider
	CorrelationID string
	OrderRef      string // internal order id embedded at session creation
	RawStatus     string // provider-native status word, for logging/void checks

	Complete          bool
	Captured          bool
	NoPaymentRequired bool
	Declined          bool
	Expired           bool

	AmountCents *int64
	Currency    string
	CaptureID   string
}

// PaymentGateway is the capability set both providers implement: create a
// session, fetch authoritative state, capture, void.
type PaymentGateway interface {
	Provider() domain.Provider
	Configured() bool
	CreateSession(ctx context.Context, in CreateSessionInput) (CheckoutSession, error)
	Fetch(ctx context.Context, correlationID string) (ProviderState, error)
	Capture(ctx context.Context, correlationID string) (ProviderState, error)
	// Void invalidates the provider-side session/order. Best effort; callers
	// log failures and move on.
	Void(ctx context.Context, correlationID string) error
}

// PaidNotifier dispatches the order-confirmation notification. Fire and
// forget: a delivery failure is logged, never reverses a payment transition.
type PaidNotifier interface {
	NotifyPaid(ctx context.Context, order *domain.Order) error
}

// AuditEvent is the reconciliation audit trail record.
type AuditEvent struct {
	Kind          string `json:"kind"` // "amount_mismatch" | "transition" | "sweep"
	OrderID       string `json:"orderId,omitempty"`
	Provider      string `json:"provider,omitempty"`
	EventID       string `json:"eventId,omitempty"`
	Status        string `json:"status,omitempty"`
	AmountCents   *int64 `json:"amountCents,omitempty"`
	ExpectedCents int64  `json:"expectedCents,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Count         int64  `json:"count,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

type AuditPublisher interface {
	Publish(ctx context.Context, ev AuditEvent) error
}

// StatusCache is the shared TTL cache in front of the status endpoint.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, status domain.Status) error
	GetStatus(ctx context.Context, orderID string) (domain.Status, bool, error)
}

// RateLimiter is the externally shared TTL counter replacing per-process
// rate-limit maps, so limits hold across instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// AdvisoryLocker guards the periodic sweep across instances. Best effort:
// failure to acquire means "skip this run".
type AdvisoryLocker interface {
	TryLock(ctx context.Context, name string) (release func(), acquired bool, err error)
}
