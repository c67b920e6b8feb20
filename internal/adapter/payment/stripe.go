package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

const (
	stripeBaseURL        = "https://api.stripe.com"
	stripeSessionTTL     = 30 * time.Minute
	stripeSigTolerance   = 5 * time.Minute
	stripeRequestTimeout = 10 * time.Second
)

// StripeGateway talks to the Stripe Checkout Session API over its
// form-encoded REST surface.
type StripeGateway struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	now           func() time.Time
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       stripeBaseURL,
		client:        &http.Client{Timeout: stripeRequestTimeout},
		now:           time.Now,
	}
}

var _ usecase.PaymentGateway = (*StripeGateway)(nil)

func (g *StripeGateway) Provider() domain.Provider { return domain.ProviderStripe }

func (g *StripeGateway) Configured() bool { return strings.TrimSpace(g.secretKey) != "" }

// stripeSession is the subset of the Checkout Session object we read.
type stripeSession struct {
	ID            string              `json:"id"`
	URL           string              `json:"url"`
	Status        string              `json:"status"`         // open | complete | expired
	PaymentStatus string              `json:"payment_status"` // paid | unpaid | no_payment_required
	AmountTotal   *int64              `json:"amount_total"`
	Currency      string              `json:"currency"`
	ExpiresAt     int64               `json:"expires_at"`
	PaymentIntent stripePaymentIntent `json:"payment_intent"`
	Metadata      struct {
		OrderID string `json:"orderId"`
	} `json:"metadata"`
}

// stripePaymentIntent accepts both wire shapes of the payment_intent field:
// a bare id string, or the expanded object carrying the intent status.
type stripePaymentIntent struct {
	ID     string
	Status string // succeeded | canceled | requires_payment_method | ...
}

func (p *stripePaymentIntent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.ID)
	}
	var obj struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.ID = obj.ID
	p.Status = obj.Status
	return nil
}

func (g *StripeGateway) CreateSession(ctx context.Context, in usecase.CreateSessionInput) (usecase.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	if in.Email != "" {
		form.Set("customer_email", in.Email)
	}
	form.Set("expires_at", strconv.FormatInt(g.now().UTC().Add(stripeSessionTTL).Unix(), 10))
	form.Set("metadata[orderId]", in.OrderID)
	form.Set("payment_intent_data[metadata][orderId]", in.OrderID)

	for i, item := range in.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
		form.Set(prefix+"[price_data][currency]", strings.ToLower(in.Currency))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitCents, 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.ImageURL != "" {
			form.Set(prefix+"[price_data][product_data][images][0]", item.ImageURL)
		}
	}

	headers := map[string]string{"Idempotency-Key": "stripe-checkout-" + in.OrderID}
	var sess stripeSession
	if err := g.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, headers, &sess); err != nil {
		return usecase.CheckoutSession{}, err
	}
	if sess.ID == "" || sess.URL == "" {
		return usecase.CheckoutSession{}, fmt.Errorf("stripe session response missing id or url")
	}
	return usecase.CheckoutSession{Provider: domain.ProviderStripe, ID: sess.ID, RedirectURL: sess.URL}, nil
}

func (g *StripeGateway) Fetch(ctx context.Context, correlationID string) (usecase.ProviderState, error) {
	// The expanded intent is what distinguishes a bounced async payment
	// from one still settling.
	q := url.Values{}
	q.Set("expand[]", "payment_intent")

	var sess stripeSession
	err := g.do(ctx, http.MethodGet,
		"/v1/checkout/sessions/"+url.PathEscape(correlationID)+"?"+q.Encode(), nil, nil, &sess)
	if err != nil {
		return usecase.ProviderState{}, err
	}
	return stripeState(sess, g.now()), nil
}

// Capture is a fetch: Checkout Sessions capture on completion, there is no
// separate capture call.
func (g *StripeGateway) Capture(ctx context.Context, correlationID string) (usecase.ProviderState, error) {
	return g.Fetch(ctx, correlationID)
}

// Void expires an open session so the hosted payment page stops accepting
// the card.
func (g *StripeGateway) Void(ctx context.Context, correlationID string) error {
	var sess stripeSession
	return g.do(ctx, http.MethodPost,
		"/v1/checkout/sessions/"+url.PathEscape(correlationID)+"/expire", nil, nil, &sess)
}

func stripeState(sess stripeSession, now time.Time) usecase.ProviderState {
	intentStatus := strings.ToLower(sess.PaymentIntent.Status)

	captured := sess.PaymentStatus == "paid" ||
		(sess.Status == "complete" && intentStatus == "succeeded")

	// A bounced async payment leaves the session complete but unpaid, with
	// the intent canceled or back at requires_payment_method.
	declined := sess.Status == "complete" && sess.PaymentStatus == "unpaid" &&
		(intentStatus == "canceled" || intentStatus == "requires_payment_method")

	// An open session past its deadline cannot be paid anymore, even before
	// Stripe flips its status to expired.
	expired := sess.Status == "expired" ||
		(sess.Status == "open" && sess.ExpiresAt > 0 && sess.ExpiresAt < now.Unix())

	return usecase.ProviderState{
		Provider:      domain.ProviderStripe,
		CorrelationID: sess.ID,
		OrderRef:      sess.Metadata.OrderID,
		RawStatus:     sess.Status,

		Complete:          sess.Status == "complete",
		Captured:          captured,
		Declined:          declined,
		NoPaymentRequired: sess.PaymentStatus == "no_payment_required",
		Expired:           expired,

		AmountCents: sess.AmountTotal,
		Currency:    strings.ToUpper(sess.Currency),
		CaptureID:   sess.PaymentIntent.ID,
	}
}

func (g *StripeGateway) do(ctx context.Context, method, path string, form url.Values, headers map[string]string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("stripe response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return &APIError{Provider: domain.ProviderStripe, StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode stripe response: %w", err)
		}
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header (t=...,v1=... scheme)
// against the endpoint secret.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) error {
	if strings.TrimSpace(g.webhookSecret) == "" {
		return fmt.Errorf("stripe webhook secret not configured")
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp")
	}
	if delta := g.now().UTC().Sub(time.Unix(tsUnix, 0)); delta > stripeSigTolerance || delta < -stripeSigTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}
