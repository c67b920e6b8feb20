package usecase

import (
	"context"
	"errors"
	"testing"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

func newCancelFixture(order *domain.Order, stripe, paypal *fakeGateway) (*Cancellation, *fakeOrderRepo, *security.TokenService) {
	orders := newFakeOrderRepo(order)
	tokens := security.NewTokenService("test-secret", "checkout-api", 0)
	gateways := map[domain.Provider]PaymentGateway{}
	if stripe != nil {
		gateways[domain.ProviderStripe] = stripe
	}
	if paypal != nil {
		gateways[domain.ProviderPayPal] = paypal
	}
	return NewCancellation(orders, gateways, tokens, newFakeStatusCache()), orders, tokens
}

func openStripeOrder() *domain.Order {
	return &domain.Order{
		ID: "ord-1", Email: "a@b.com", TotalCents: 10000, Currency: "USD",
		Status: domain.StatusPending, StripeSessionID: "cs_1",
	}
}

func openSession() *fakeGateway {
	return &fakeGateway{provider: domain.ProviderStripe, configured: true, state: ProviderState{
		Provider: domain.ProviderStripe, CorrelationID: "cs_1", OrderRef: "ord-1", RawStatus: "open",
	}}
}

func TestCancelWithValidToken(t *testing.T) {
	gw := openSession()
	uc, orders, tokens := newCancelFixture(openStripeOrder(), gw, nil)

	token, err := tokens.IssueCancelToken("ord-1", "a@b.com")
	if err != nil {
		t.Fatal(err)
	}

	out, err := uc.Execute(context.Background(), CancelInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Canceled || out.Status != domain.StatusCanceled {
		t.Fatalf("want canceled, got %+v", out)
	}
	if orders.get("ord-1").Status != domain.StatusCanceled {
		t.Fatal("order not canceled in store")
	}
	// The open session was invalidated provider-side.
	if len(gw.voids) != 1 || gw.voids[0] != "cs_1" {
		t.Fatalf("want one void of cs_1, got %v", gw.voids)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	uc, _, tokens := newCancelFixture(openStripeOrder(), openSession(), nil)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	in := CancelInput{OrderID: "ord-1", CancelToken: token}
	if _, err := uc.Execute(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	out, err := uc.Execute(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Canceled || out.Status != domain.StatusCanceled {
		t.Fatalf("second cancel must succeed idempotently, got %+v", out)
	}
}

func TestCancelPaidOrderIsRefused(t *testing.T) {
	order := openStripeOrder()
	order.Status = domain.StatusPaid
	uc, orders, tokens := newCancelFixture(order, openSession(), nil)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	out, err := uc.Execute(context.Background(), CancelInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if out.Canceled || out.Status != domain.StatusPaid {
		t.Fatalf("paid order must not cancel, got %+v", out)
	}
	if orders.get("ord-1").Status != domain.StatusPaid {
		t.Fatal("paid order was mutated")
	}
}

func TestCancelAdoptsLivePayment(t *testing.T) {
	// Payment completed between page load and the cancel click.
	gw := openSession()
	gw.state = ProviderState{
		Provider: domain.ProviderStripe, CorrelationID: "cs_1", OrderRef: "ord-1",
		Complete: true, Captured: true, AmountCents: int64p(10000), Currency: "USD",
	}
	uc, orders, tokens := newCancelFixture(openStripeOrder(), gw, nil)
	token, _ := tokens.IssueCancelToken("ord-1", "a@b.com")

	out, err := uc.Execute(context.Background(), CancelInput{OrderID: "ord-1", CancelToken: token})
	if err != nil {
		t.Fatal(err)
	}
	if out.Canceled || out.Status != domain.StatusPaid {
		t.Fatalf("live payment must win over cancel, got %+v", out)
	}
	if orders.get("ord-1").Status != domain.StatusPaid {
		t.Fatal("adopted payment not persisted")
	}
	if len(gw.voids) != 0 {
		t.Fatal("paid session must not be voided")
	}
}

func TestCancelAccessControl(t *testing.T) {
	uc, _, tokens := newCancelFixture(openStripeOrder(), openSession(), nil)

	// No credentials.
	if _, err := uc.Execute(context.Background(), CancelInput{OrderID: "ord-1"}); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("want authorization error, got %v", err)
	}

	// Token scoped to a different order.
	other, _ := tokens.IssueCancelToken("ord-2", "a@b.com")
	if _, err := uc.Execute(context.Background(), CancelInput{OrderID: "ord-1", CancelToken: other}); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("foreign token must be refused, got %v", err)
	}

	// Matching identity works without a token.
	out, err := uc.Execute(context.Background(), CancelInput{OrderID: "ord-1", IdentityEmail: "a@b.com"})
	if err != nil || !out.Canceled {
		t.Fatalf("identity-matched cancel should work: %v %+v", err, out)
	}
}

func TestCancelByPayPalOrderID(t *testing.T) {
	order := &domain.Order{
		ID: "ord-3", Email: "a@b.com", TotalCents: 5000, Currency: "USD",
		Status: domain.StatusPending, PayPalOrderID: "PP-3",
	}
	paypal := &fakeGateway{provider: domain.ProviderPayPal, configured: true, state: ProviderState{
		Provider: domain.ProviderPayPal, CorrelationID: "PP-3", OrderRef: "ord-3", RawStatus: "CREATED",
	}}
	uc, orders, _ := newCancelFixture(order, nil, paypal)

	// Knowing the wallet order id is sufficient proof of access.
	out, err := uc.Execute(context.Background(), CancelInput{PayPalOrderID: "PP-3"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Canceled {
		t.Fatalf("want canceled, got %+v", out)
	}
	if orders.get("ord-3").Status != domain.StatusCanceled {
		t.Fatal("order not canceled")
	}
	if len(paypal.voids) != 1 {
		t.Fatalf("CREATED wallet order should be voided, got %v", paypal.voids)
	}
}

func TestCancelByPayPalOrderIDTrimsWhitespace(t *testing.T) {
	order := &domain.Order{
		ID: "ord-4", Email: "a@b.com", TotalCents: 5000, Currency: "USD",
		Status: domain.StatusPending, PayPalOrderID: "PP-4",
	}
	paypal := &fakeGateway{provider: domain.ProviderPayPal, configured: true, state: ProviderState{
		Provider: domain.ProviderPayPal, CorrelationID: "PP-4", OrderRef: "ord-4", RawStatus: "CREATED",
	}}
	uc, orders, _ := newCancelFixture(order, nil, paypal)

	// Padded ids must still grant access, not just locate the order.
	out, err := uc.Execute(context.Background(), CancelInput{PayPalOrderID: "  PP-4\n"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Canceled {
		t.Fatalf("want canceled, got %+v", out)
	}
	if orders.get("ord-4").Status != domain.StatusCanceled {
		t.Fatal("order not canceled")
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	uc, _, _ := newCancelFixture(openStripeOrder(), openSession(), nil)
	if _, err := uc.Execute(context.Background(), CancelInput{OrderID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}
