package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

func TestNormalizePaymentMethod(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "stripe"},
		{"card", "stripe"},
		{"Credit-Card", "stripe"},
		{"stripe_card", "stripe"},
		{"STRIPE", "stripe"},
		{"pay_pal", "paypal"},
		{"PayPal-Checkout", "paypal"},
		{"paypal", "paypal"},
		{"bitcoin", "bitcoin"},
	}
	for _, tc := range cases {
		if got := NormalizePaymentMethod(tc.in); got != tc.want {
			t.Errorf("NormalizePaymentMethod(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+1 (312) 555-0123", "+13125550123"},
		{"1-312-555-0123", "+13125550123"},
		{"13125550123", "+13125550123"},
		{"312-555-0123", ""},     // 10 digits, no country code
		{"+44 20 7946 0958", ""}, // not US
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatDeliveryAddress(t *testing.T) {
	got := FormatDeliveryAddress("12 Oak St", "Apt 4", "3", "Chicago", "IL", "60601", "United States")
	want := "12 Oak St, Apt 4, Floor 3, Chicago, IL 60601, United States"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// A floor already carrying the word is not double-prefixed.
	got = FormatDeliveryAddress("12 Oak St", "", "Floor 3", "Chicago", "IL", "60601", "")
	if !strings.Contains(got, "Floor 3") || strings.Contains(got, "Floor Floor") {
		t.Errorf("floor prefix mishandled: %q", got)
	}
}

type checkoutFixture struct {
	orders    *fakeOrderRepo
	customers *fakeCustomers
	stripe    *fakeGateway
	paypal    *fakeGateway
	uc        *Checkout
}

func newCheckoutFixture(settings domain.StoreSettings) *checkoutFixture {
	orders := newFakeOrderRepo()
	customers := &fakeCustomers{orders: orders}
	catalog := &fakeCatalog{bouquets: map[string]domain.Bouquet{
		"b1": {ID: "b1", Name: "Garden Roses", PriceCents: 8900, IsActive: true, Image: "/img/b1.jpg"},
	}}
	stripe := &fakeGateway{provider: domain.ProviderStripe, configured: true,
		session: CheckoutSession{Provider: domain.ProviderStripe, ID: "cs_new", RedirectURL: "https://stripe.example/pay"}}
	paypal := &fakeGateway{provider: domain.ProviderPayPal, configured: true,
		session: CheckoutSession{Provider: domain.ProviderPayPal, ID: "PP-new", RedirectURL: "https://paypal.example/approve"}}

	uc := NewCheckout(
		&fakeSettings{settings: settings},
		NewCartValidator(catalog, 6500, 18000),
		&fakeQuoter{quote: DeliveryQuote{Miles: 12.5, DistanceText: "12.5 mi", FeeCents: 1500}},
		orders,
		customers,
		map[domain.Provider]PaymentGateway{domain.ProviderStripe: stripe, domain.ProviderPayPal: paypal},
		security.NewTokenService("test-secret", "checkout-api", 0),
		"https://shop.example",
	)
	return &checkoutFixture{orders: orders, customers: customers, stripe: stripe, paypal: paypal, uc: uc}
}

func validInput() CheckoutInput {
	return CheckoutInput{
		Items:         []CartItemInput{{ID: "b1", Quantity: 1}},
		PaymentMethod: "card",
		Email:         "guest@example.com",
		Phone:         "+1 312 555 0123",
		Address:       "12 Oak St, Chicago, IL 60601",
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{})

	out, err := f.uc.Execute(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if out.RedirectURL != "https://stripe.example/pay" || out.OrderID == "" || out.CancelToken == "" {
		t.Fatalf("unexpected output: %+v", out)
	}

	order := f.orders.get(out.OrderID)
	if order == nil {
		t.Fatal("order not persisted")
	}
	if order.Status != domain.StatusPending {
		t.Fatalf("want PENDING, got %s", order.Status)
	}
	// 8900 item + 1500 delivery fee.
	if order.TotalCents != 10400 {
		t.Fatalf("want total 10400, got %d", order.TotalCents)
	}
	if order.StripeSessionID != "cs_new" {
		t.Fatalf("session id not bound: %+v", order)
	}
	// Delivery fee rides as a line item so provider pages show it.
	last := order.Items[len(order.Items)-1]
	if last.Name != "Delivery (12.5 mi)" || last.PriceCents != 1500 {
		t.Fatalf("unexpected delivery line: %+v", last)
	}
}

func TestCheckoutStripeRequiresPhone(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{})

	in := validInput()
	in.Phone = "555-0123"
	if _, err := f.uc.Execute(context.Background(), in); !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}

	// The wallet flow collects contact info on the provider side.
	in.PaymentMethod = "paypal"
	if _, err := f.uc.Execute(context.Background(), in); err != nil {
		t.Fatalf("paypal should not require a phone: %v", err)
	}
}

func TestCheckoutUnconfiguredProviderRefused(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{})
	f.paypal.configured = false

	in := validInput()
	in.PaymentMethod = "paypal"
	if _, err := f.uc.Execute(context.Background(), in); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want not-configured error, got %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatal("no order may exist before provider checks pass")
	}
}

func TestCheckoutSessionFailureFailsOrder(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{})
	f.stripe.sessionErr = errors.New("stripe down")

	_, err := f.uc.Execute(context.Background(), validInput())
	if !errors.Is(err, ErrProviderTransient) {
		t.Fatalf("want transient error, got %v", err)
	}
	// The order exists but is FAILED, never stranded PENDING without a session.
	if len(f.orders.orders) != 1 {
		t.Fatalf("want one order, got %d", len(f.orders.orders))
	}
	for _, o := range f.orders.orders {
		if o.Status != domain.StatusFailed {
			t.Fatalf("want FAILED, got %s", o.Status)
		}
	}
}

func TestCheckoutFirstOrderDiscountForIdentifiedShopper(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{FirstOrderDiscountPercent: 10})

	in := validInput()
	in.IdentityEmail = "Shopper@Example.com"
	out, err := f.uc.Execute(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	order := f.orders.get(out.OrderID)
	if order.FirstOrderDiscountPercent != 10 {
		t.Fatalf("want first-order discount 10, got %d", order.FirstOrderDiscountPercent)
	}
	if order.Email != "shopper@example.com" {
		t.Fatalf("identity email should win, lowercased: %q", order.Email)
	}
	// 8900 - 10% = 8010, plus 1500 delivery.
	if order.TotalCents != 9510 {
		t.Fatalf("want discounted total 9510, got %d", order.TotalCents)
	}
}

func TestCheckoutGuestGetsNoFirstOrderDiscount(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{FirstOrderDiscountPercent: 10})

	out, err := f.uc.Execute(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if got := f.orders.get(out.OrderID).FirstOrderDiscountPercent; got != 0 {
		t.Fatalf("guest must not get the first-order discount, got %d", got)
	}
}

func TestCheckoutOtherDiscountBlocksFirstOrderDiscount(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{
		FirstOrderDiscountPercent: 10,
		GlobalDiscountPercent:     5,
	})

	in := validInput()
	in.IdentityEmail = "shopper@example.com"
	out, err := f.uc.Execute(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.orders.get(out.OrderID).FirstOrderDiscountPercent; got != 0 {
		t.Fatalf("discounted cart must not stack the first-order discount, got %d", got)
	}
}

func TestCheckoutConcurrentFirstOrderClaims(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{FirstOrderDiscountPercent: 15})

	in := validInput()
	in.IdentityEmail = "racer@example.com"

	var wg sync.WaitGroup
	outs := make([]CheckoutOutput, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.uc.Execute(context.Background(), in)
			if err != nil {
				t.Error(err)
				return
			}
			outs[i] = out
		}(i)
	}
	wg.Wait()

	discounted := 0
	for _, out := range outs {
		if f.orders.get(out.OrderID).FirstOrderDiscountPercent > 0 {
			discounted++
		}
	}
	if discounted != 1 {
		t.Fatalf("exactly one concurrent checkout may win the discount, got %d", discounted)
	}
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	f := newCheckoutFixture(domain.StoreSettings{})

	in := validInput()
	in.Email = "not-an-email"
	if _, err := f.uc.Execute(context.Background(), in); !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error for email, got %v", err)
	}

	in = validInput()
	in.PaymentMethod = "bitcoin"
	if _, err := f.uc.Execute(context.Background(), in); !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error for method, got %v", err)
	}

	in = validInput()
	in.Address = ""
	if _, err := f.uc.Execute(context.Background(), in); !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error for address, got %v", err)
	}
}
