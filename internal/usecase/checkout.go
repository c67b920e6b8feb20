package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/pricing"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

const maxCommentLen = 500

var paymentMethodAliases = map[string]string{
	"card":            "stripe",
	"credit":          "stripe",
	"credit_card":     "stripe",
	"stripe_card":     "stripe",
	"pay_pal":         "paypal",
	"paypal_checkout": "paypal",
}

// NormalizePaymentMethod folds client spellings onto the two provider names.
// Empty defaults to card checkout.
func NormalizePaymentMethod(value string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	if normalized == "" {
		return "stripe"
	}
	if alias, ok := paymentMethodAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// NormalizePhone keeps digits only and accepts the US +1 format.
func NormalizePhone(value string) string {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && strings.HasPrefix(d, "1") {
		return "+" + d
	}
	return ""
}

// FormatDeliveryAddress assembles the single-line address snapshot from
// structured parts.
func FormatDeliveryAddress(line1, line2, floor, city, state, postalCode, country string) string {
	base := strings.TrimSpace(line1)
	var extras []string
	if v := strings.TrimSpace(line2); v != "" {
		extras = append(extras, v)
	}
	if v := strings.TrimSpace(floor); v != "" {
		if strings.HasPrefix(strings.ToLower(v), "floor") {
			extras = append(extras, v)
		} else {
			extras = append(extras, "Floor "+v)
		}
	}
	if len(extras) > 0 {
		base = base + ", " + strings.Join(extras, ", ")
	}

	stateZip := joinNonEmpty(" ", strings.TrimSpace(state), strings.TrimSpace(postalCode))
	cityStateZip := joinNonEmpty(", ", strings.TrimSpace(city), stateZip)
	return joinNonEmpty(", ", base, cityStateZip, strings.TrimSpace(country))
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

type CheckoutInput struct {
	Items         []CartItemInput
	PaymentMethod string

	// IdentityEmail comes from the verified bearer token; Email is the guest
	// payload field and is ignored when an identity is present.
	IdentityEmail string
	Email         string
	Phone         string

	Address    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Floor      string

	OrderComment string
}

type CheckoutOutput struct {
	OrderID     string
	RedirectURL string
	CancelToken string
}

// Checkout orchestrates cart validation, discount resolution, delivery
// quoting, durable order creation, and the provider-session handoff.
type Checkout struct {
	settings  SettingsReader
	cart      *CartValidator
	delivery  DeliveryQuoter
	orders    OrderRepo
	customers CustomerDirectory
	gateways  map[domain.Provider]PaymentGateway
	tokens    *security.TokenService
	siteURL   string
	currency  string
}

func NewCheckout(
	settings SettingsReader,
	cart *CartValidator,
	delivery DeliveryQuoter,
	orders OrderRepo,
	customers CustomerDirectory,
	gateways map[domain.Provider]PaymentGateway,
	tokens *security.TokenService,
	siteURL string,
) *Checkout {
	return &Checkout{
		settings:  settings,
		cart:      cart,
		delivery:  delivery,
		orders:    orders,
		customers: customers,
		gateways:  gateways,
		tokens:    tokens,
		siteURL:   siteURL,
		currency:  "USD",
	}
}

func (uc *Checkout) Execute(ctx context.Context, in CheckoutInput) (CheckoutOutput, error) {
	l := logging.FromCtx(ctx)

	method := NormalizePaymentMethod(in.PaymentMethod)
	if method != "stripe" && method != "paypal" {
		return CheckoutOutput{}, Invalid("Unsupported payment method.")
	}
	provider := domain.ProviderStripe
	if method == "paypal" {
		provider = domain.ProviderPayPal
	}
	gateway, ok := uc.gateways[provider]
	if !ok || !gateway.Configured() {
		return CheckoutOutput{}, fmt.Errorf("%w: %s", ErrNotConfigured, method)
	}

	email := strings.ToLower(strings.TrimSpace(in.IdentityEmail))
	identified := email != ""
	if !identified {
		email = strings.ToLower(strings.TrimSpace(in.Email))
	}
	if !strings.Contains(email, "@") {
		return CheckoutOutput{}, Invalid("A valid email is required.")
	}

	comment := strings.TrimSpace(in.OrderComment)
	if len(comment) > maxCommentLen {
		return CheckoutOutput{}, Invalid("Order comment is too long.")
	}

	phone := NormalizePhone(strings.TrimSpace(in.Phone))
	if provider == domain.ProviderStripe && phone == "" {
		return CheckoutOutput{}, Invalid("Use phone format +1 312 555 0123.")
	}

	line1 := strings.TrimSpace(in.Line1)
	city := strings.TrimSpace(in.City)
	state := strings.TrimSpace(in.State)
	postal := strings.TrimSpace(in.PostalCode)
	country := strings.TrimSpace(in.Country)
	if country == "" {
		country = "United States"
	}

	addressForQuote := strings.TrimSpace(in.Address)
	if addressForQuote == "" {
		if line1 == "" || city == "" || state == "" || postal == "" {
			return CheckoutOutput{}, Invalid("Delivery address must include street, city, state, and ZIP.")
		}
		addressForQuote = FormatDeliveryAddress(line1, "", "", city, state, postal, country)
	}

	settings, err := uc.settings.StoreSettings(ctx)
	if err != nil {
		return CheckoutOutput{}, fmt.Errorf("load store settings: %w", err)
	}

	quote, err := uc.delivery.Quote(ctx, addressForQuote)
	if err != nil {
		return CheckoutOutput{}, err
	}

	priced, hasDiscount, err := uc.cart.Validate(ctx, in.Items, settings)
	if err != nil {
		return CheckoutOutput{}, err
	}

	deliveryAddress := addressForQuote
	if line1 != "" {
		deliveryAddress = FormatDeliveryAddress(
			line1, strings.TrimSpace(in.Line2), strings.TrimSpace(in.Floor),
			city, state, postal, country)
	}

	build := func(firstOrderPercent int) *domain.Order {
		items := make([]domain.OrderItem, 0, len(priced)+1)
		var subtotal int64
		for _, p := range priced {
			unit := p.UnitCents
			if firstOrderPercent > 0 {
				unit = pricing.ApplyPercentDiscount(unit, firstOrderPercent)
			}
			subtotal += unit * int64(p.Quantity)
			items = append(items, domain.OrderItem{
				ID:         uuid.NewString(),
				Name:       p.Name,
				PriceCents: unit,
				Quantity:   p.Quantity,
				Image:      p.Image,
				Details:    p.Details,
			})
		}
		if quote.FeeCents > 0 {
			items = append(items, domain.OrderItem{
				ID:         uuid.NewString(),
				Name:       fmt.Sprintf("Delivery (%s)", quote.DistanceText),
				PriceCents: quote.FeeCents,
				Quantity:   1,
			})
		}
		return &domain.Order{
			ID:         uuid.NewString(),
			Email:      email,
			Phone:      phone,
			TotalCents: subtotal + quote.FeeCents,
			Currency:   uc.currency,
			Status:     domain.StatusPending,

			DeliveryAddress:    deliveryAddress,
			DeliveryLine1:      line1,
			DeliveryLine2:      strings.TrimSpace(in.Line2),
			DeliveryCity:       city,
			DeliveryState:      state,
			DeliveryPostalCode: postal,
			DeliveryCountry:    country,
			DeliveryFloor:      strings.TrimSpace(in.Floor),
			DeliveryMiles:      fmt.Sprintf("%.1f", quote.Miles),
			DeliveryFeeCents:   quote.FeeCents,

			OrderComment:              comment,
			FirstOrderDiscountPercent: firstOrderPercent,
			CreatedAt:                 time.Now().UTC(),
			Items:                     items,
		}
	}

	var order *domain.Order
	if identified && !hasDiscount {
		// The first-order discount decision and the order insert happen under
		// a per-customer exclusive lock, closing the race between two
		// concurrent checkouts from the same identity.
		err = uc.customers.ClaimFirstOrder(ctx, email, func(priorPaid int, hasOpenDiscount bool) (*domain.Order, error) {
			percent := 0
			if priorPaid == 0 && !hasOpenDiscount {
				percent = settings.FirstOrderDiscountPercent
			}
			order = build(percent)
			return order, nil
		})
	} else {
		order = build(0)
		err = uc.orders.Create(ctx, order)
	}
	if err != nil {
		return CheckoutOutput{}, fmt.Errorf("create order: %w", err)
	}

	cancelToken, err := uc.tokens.IssueCancelToken(order.ID, email)
	if err != nil {
		return CheckoutOutput{}, fmt.Errorf("issue cancel token: %w", err)
	}
	encodedToken := url.QueryEscape(cancelToken)
	encodedOrderID := url.QueryEscape(order.ID)

	session, err := gateway.CreateSession(ctx, CreateSessionInput{
		OrderID:    order.ID,
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
		Email:      email,
		Items:      sessionItems(uc.siteURL, order.Items),
		SuccessURL: fmt.Sprintf("%s/checkout/success?provider=%s&orderId=%s&cancelToken=%s",
			uc.siteURL, method, encodedOrderID, encodedToken),
		CancelURL: fmt.Sprintf("%s/cart?checkoutCanceled=1&orderId=%s&cancelToken=%s&provider=%s",
			uc.siteURL, encodedOrderID, encodedToken, method),
	})
	if err != nil {
		l.Error("provider session creation failed",
			"order_id", order.ID, "provider", method, "error", err.Error())
		// Checkout never got a session; the order cannot complete.
		if _, ferr := uc.orders.MarkFailed(ctx, order.ID, CorrelationIDs{}); ferr != nil {
			l.Error("mark failed after session error", "order_id", order.ID, "error", ferr.Error())
		}
		return CheckoutOutput{}, fmt.Errorf("%w: create session", ErrProviderTransient)
	}

	switch provider {
	case domain.ProviderStripe:
		err = uc.orders.SetStripeSessionID(ctx, order.ID, session.ID)
	case domain.ProviderPayPal:
		err = uc.orders.SetPayPalIDs(ctx, order.ID, session.ID, "")
	}
	if err != nil {
		return CheckoutOutput{}, fmt.Errorf("bind correlation id: %w", err)
	}

	return CheckoutOutput{
		OrderID:     order.ID,
		RedirectURL: session.RedirectURL,
		CancelToken: cancelToken,
	}, nil
}

func sessionItems(siteURL string, items []domain.OrderItem) []SessionLineItem {
	out := make([]SessionLineItem, 0, len(items))
	for _, it := range items {
		image := ""
		if it.Image != "" {
			image = siteURL + it.Image
		}
		out = append(out, SessionLineItem{
			Name:      it.Name,
			ImageURL:  image,
			UnitCents: it.PriceCents,
			Quantity:  it.Quantity,
		})
	}
	return out
}
