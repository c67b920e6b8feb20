package usecase

import (
	"context"
	"sync"
	"time"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
)

// In-memory fakes mirroring the MySQL adapters' conditional-write semantics.

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newFakeOrderRepo(orders ...*domain.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		cp := *o
		r.orders[o.ID] = &cp
	}
	return r
}

func (r *fakeOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *fakeOrderRepo) get(id string) *domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return r.get(id), nil
}

func (r *fakeOrderRepo) GetByStripeSessionID(_ context.Context, sessionID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.StripeSessionID == sessionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) GetByPayPalOrderID(_ context.Context, paypalOrderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PayPalOrderID == paypalOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) SetStripeSessionID(_ context.Context, orderID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok && o.StripeSessionID == "" {
		o.StripeSessionID = sessionID
	}
	return nil
}

func (r *fakeOrderRepo) SetPayPalIDs(_ context.Context, orderID, paypalOrderID, captureID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		if o.PayPalOrderID == "" {
			o.PayPalOrderID = paypalOrderID
		}
		if o.PayPalCaptureID == "" {
			o.PayPalCaptureID = captureID
		}
	}
	return nil
}

func (r *fakeOrderRepo) bindCorr(o *domain.Order, corr CorrelationIDs) {
	if o.StripeSessionID == "" {
		o.StripeSessionID = corr.StripeSessionID
	}
	if o.PayPalOrderID == "" {
		o.PayPalOrderID = corr.PayPalOrderID
	}
	if o.PayPalCaptureID == "" {
		o.PayPalCaptureID = corr.PayPalCaptureID
	}
}

func (r *fakeOrderRepo) MarkPaid(_ context.Context, orderID string, corr CorrelationIDs) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status == domain.StatusPaid {
		return false, nil
	}
	o.Status = domain.StatusPaid
	r.bindCorr(o, corr)
	return true, nil
}

func (r *fakeOrderRepo) MarkFailed(_ context.Context, orderID string, corr CorrelationIDs) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status == domain.StatusPaid {
		return false, nil
	}
	changed := o.Status != domain.StatusFailed
	o.Status = domain.StatusFailed
	r.bindCorr(o, corr)
	return changed, nil
}

func (r *fakeOrderRepo) MarkCanceled(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status != domain.StatusPending {
		return false, nil
	}
	o.Status = domain.StatusCanceled
	return true, nil
}

func (r *fakeOrderRepo) ExpirePending(_ context.Context, withSessionBefore, withoutSessionBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, o := range r.orders {
		if o.Status != domain.StatusPending {
			continue
		}
		hasSession := o.StripeSessionID != "" || o.PayPalOrderID != ""
		if (hasSession && o.CreatedAt.Before(withSessionBefore)) ||
			(!hasSession && o.CreatedAt.Before(withoutSessionBefore)) {
			o.Status = domain.StatusFailed
			swept++
		}
	}
	return swept, nil
}

type fakeEventRepo struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newFakeEventRepo() *fakeEventRepo { return &fakeEventRepo{processed: map[string]bool{}} }

func (r *fakeEventRepo) key(p domain.Provider, id string) string { return string(p) + "|" + id }

func (r *fakeEventRepo) IsProcessed(_ context.Context, p domain.Provider, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[r.key(p, eventID)], nil
}

func (r *fakeEventRepo) MarkProcessed(_ context.Context, p domain.Provider, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[r.key(p, eventID)] = true
	return nil
}

type fakeGateway struct {
	provider   domain.Provider
	configured bool

	mu         sync.Mutex
	state      ProviderState
	fetchErr   error
	captureErr error
	fetches    int
	captures   int
	voids      []string

	session    CheckoutSession
	sessionErr error
}

func (g *fakeGateway) Provider() domain.Provider { return g.provider }
func (g *fakeGateway) Configured() bool          { return g.configured }

func (g *fakeGateway) CreateSession(_ context.Context, _ CreateSessionInput) (CheckoutSession, error) {
	return g.session, g.sessionErr
}

func (g *fakeGateway) Fetch(_ context.Context, _ string) (ProviderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	return g.state, g.fetchErr
}

func (g *fakeGateway) Capture(_ context.Context, _ string) (ProviderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	if g.captureErr != nil {
		return ProviderState{}, g.captureErr
	}
	return g.state, nil
}

func (g *fakeGateway) Void(_ context.Context, correlationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voids = append(g.voids, correlationID)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	paid []string
}

func (n *fakeNotifier) NotifyPaid(_ context.Context, order *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, order.ID)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paid)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *fakeAudit) Publish(_ context.Context, ev AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAudit) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, ev := range a.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeStatusCache struct {
	mu     sync.Mutex
	values map[string]domain.Status
}

func newFakeStatusCache() *fakeStatusCache { return &fakeStatusCache{values: map[string]domain.Status{}} }

func (c *fakeStatusCache) SetStatus(_ context.Context, orderID string, status domain.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[orderID] = status
	return nil
}

func (c *fakeStatusCache) GetStatus(_ context.Context, orderID string) (domain.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.values[orderID]
	return s, ok, nil
}

type fakeCatalog struct {
	bouquets map[string]domain.Bouquet
}

func (c *fakeCatalog) ActiveByIDs(_ context.Context, ids []string) (map[string]domain.Bouquet, error) {
	out := map[string]domain.Bouquet{}
	for _, id := range ids {
		if b, ok := c.bouquets[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

type fakeSettings struct{ settings domain.StoreSettings }

func (s *fakeSettings) StoreSettings(_ context.Context) (domain.StoreSettings, error) {
	return s.settings, nil
}

// fakeCustomers serializes ClaimFirstOrder with a real mutex, like the MySQL
// implementation does with a row lock.
type fakeCustomers struct {
	mu     sync.Mutex
	orders *fakeOrderRepo
}

func (c *fakeCustomers) FindOrIdentify(_ context.Context, email string) (string, error) {
	return "cust-" + email, nil
}

func (c *fakeCustomers) ClaimFirstOrder(ctx context.Context, email string, decide func(priorPaid int, hasOpenDiscount bool) (*domain.Order, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var priorPaid int
	var hasOpenDiscount bool
	c.orders.mu.Lock()
	for _, o := range c.orders.orders {
		if o.Email != email {
			continue
		}
		if o.Status == domain.StatusPaid {
			priorPaid++
		}
		if (o.Status == domain.StatusPending || o.Status == domain.StatusPaid) && o.FirstOrderDiscountPercent > 0 {
			hasOpenDiscount = true
		}
	}
	c.orders.mu.Unlock()

	order, err := decide(priorPaid, hasOpenDiscount)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}
	return c.orders.Create(ctx, order)
}

type fakeQuoter struct{ quote DeliveryQuote }

func (q *fakeQuoter) Quote(_ context.Context, _ string) (DeliveryQuote, error) {
	return q.quote, nil
}

type fakeLocker struct{ acquired bool }

func (l *fakeLocker) TryLock(_ context.Context, _ string) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}
