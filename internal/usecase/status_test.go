package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

func newStatusFixture(order *domain.Order, gw *fakeGateway) (*StatusQuery, *fakeOrderRepo, *security.TokenService) {
	orders := newFakeOrderRepo(order)
	tokens := security.NewTokenService("test-secret", "checkout-api", 0)
	sweeper := NewExpirySweeper(orders, &fakeLocker{acquired: true}, nil, 24*time.Hour, 10*time.Minute)
	uc := NewStatusQuery(orders,
		map[domain.Provider]PaymentGateway{gw.provider: gw},
		tokens, newFakeStatusCache(), sweeper)
	return uc, orders, tokens
}

func TestStatusSyncsPendingWithProvider(t *testing.T) {
	order := openStripeOrder()
	order.CreatedAt = time.Now().UTC()
	gw := &fakeGateway{provider: domain.ProviderStripe, configured: true, state: ProviderState{
		Provider: domain.ProviderStripe, CorrelationID: "cs_1", OrderRef: "ord-1",
		Complete: true, Captured: true, AmountCents: int64p(10000), Currency: "USD",
	}}
	uc, orders, tokens := newStatusFixture(order, gw)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	out, err := uc.Execute(context.Background(), StatusInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusPaid {
		t.Fatalf("want PAID after sync, got %s", out.Status)
	}
	if orders.get("ord-1").Status != domain.StatusPaid {
		t.Fatal("synced status not persisted")
	}
}

func TestStatusTerminalOrderSkipsProvider(t *testing.T) {
	order := openStripeOrder()
	order.Status = domain.StatusPaid
	gw := &fakeGateway{provider: domain.ProviderStripe, configured: true}
	uc, _, tokens := newStatusFixture(order, gw)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	out, err := uc.Execute(context.Background(), StatusInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusPaid {
		t.Fatalf("want PAID, got %s", out.Status)
	}
	if gw.fetches != 0 {
		t.Fatal("terminal orders must not hit the provider")
	}
}

func TestStatusProviderOutageDegradesToStored(t *testing.T) {
	order := openStripeOrder()
	order.CreatedAt = time.Now().UTC()
	gw := &fakeGateway{provider: domain.ProviderStripe, configured: true,
		fetchErr: errors.New("down")}
	uc, _, tokens := newStatusFixture(order, gw)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	out, err := uc.Execute(context.Background(), StatusInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusPending {
		t.Fatalf("outage should degrade to stored status, got %s", out.Status)
	}
}

func TestStatusSweepsStaleOrdersBeforeAnswering(t *testing.T) {
	order := openStripeOrder()
	order.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	// Provider still reports the session open; the sweep decides first.
	gw := &fakeGateway{provider: domain.ProviderStripe, configured: true, state: ProviderState{
		Provider: domain.ProviderStripe, CorrelationID: "cs_1", OrderRef: "ord-1", RawStatus: "open",
	}}
	uc, orders, tokens := newStatusFixture(order, gw)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	out, err := uc.Execute(context.Background(), StatusInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusFailed {
		t.Fatalf("stale pending order should read FAILED, got %s", out.Status)
	}
	if orders.get("ord-1").Status != domain.StatusFailed {
		t.Fatal("sweep result not persisted")
	}
}

func TestStatusAccessControl(t *testing.T) {
	order := openStripeOrder()
	order.CreatedAt = time.Now().UTC()
	gw := &fakeGateway{provider: domain.ProviderStripe, configured: true}
	uc, _, _ := newStatusFixture(order, gw)

	if _, err := uc.Execute(context.Background(), StatusInput{OrderID: "ord-1"}); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("want authorization error, got %v", err)
	}
	if _, err := uc.Execute(context.Background(), StatusInput{OrderID: "ghost", IdentityEmail: "a@b.com"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}
