package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

const (
	paypalLiveURL    = "https://api-m.paypal.com"
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"

	paypalTokenLeeway    = 60 * time.Second
	paypalRequestTimeout = 10 * time.Second

	paypalBrandName = "All in Bloom Floral Studio"
)

// PayPalGateway talks to the Orders v2 API. OAuth tokens are cached until
// shortly before expiry.
type PayPalGateway struct {
	clientID     string
	clientSecret string
	webhookID    string
	baseURL      string
	client       *http.Client
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalGateway(clientID, clientSecret, webhookID, env string) *PayPalGateway {
	base := paypalLiveURL
	if strings.EqualFold(strings.TrimSpace(env), "sandbox") {
		base = paypalSandboxURL
	}
	return &PayPalGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		baseURL:      base,
		client:       &http.Client{Timeout: paypalRequestTimeout},
		now:          time.Now,
	}
}

var _ usecase.PaymentGateway = (*PayPalGateway)(nil)

func (g *PayPalGateway) Provider() domain.Provider { return domain.ProviderPayPal }

func (g *PayPalGateway) Configured() bool {
	return strings.TrimSpace(g.clientID) != "" && strings.TrimSpace(g.clientSecret) != ""
}

func (g *PayPalGateway) WebhookConfigured() bool {
	return g.Configured() && strings.TrimSpace(g.webhookID) != ""
}

// FormatAmount renders cents as the "12.34" decimal string the API expects.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmountCents converts an API decimal string back to cents. Fractional
// cents are rejected rather than rounded.
func ParseAmountCents(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-cent precision", value)
	}
	return cents.IntPart(), nil
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		InvoiceID   string `json:"invoice_id"`
		Amount      struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"` // COMPLETED | DECLINED | FAILED | PENDING
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (g *PayPalGateway) CreateSession(ctx context.Context, in usecase.CreateSessionInput) (usecase.CheckoutSession, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": in.OrderID,
			"custom_id":    in.OrderID,
			"invoice_id":   in.OrderID,
			"amount": map[string]any{
				"currency_code": strings.ToUpper(in.Currency),
				"value":         FormatAmount(in.TotalCents),
			},
		}},
		"application_context": map[string]any{
			"return_url":          in.SuccessURL,
			"cancel_url":          in.CancelURL,
			"brand_name":          paypalBrandName,
			"landing_page":        "LOGIN",
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}
	if in.Email != "" {
		payload["payer"] = map[string]any{"email_address": in.Email}
	}

	var order paypalOrder
	headers := map[string]string{"PayPal-Request-Id": in.OrderID}
	if err := g.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, headers, &order); err != nil {
		return usecase.CheckoutSession{}, err
	}

	approveURL := ""
	for _, link := range order.Links {
		rel := strings.ToLower(link.Rel)
		if rel == "approve" || rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}
	if order.ID == "" || approveURL == "" {
		return usecase.CheckoutSession{}, fmt.Errorf("paypal create order response missing id or approval link")
	}
	return usecase.CheckoutSession{Provider: domain.ProviderPayPal, ID: order.ID, RedirectURL: approveURL}, nil
}

func (g *PayPalGateway) Fetch(ctx context.Context, correlationID string) (usecase.ProviderState, error) {
	var order paypalOrder
	err := g.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(correlationID), nil, nil, &order)
	if err != nil {
		return usecase.ProviderState{}, err
	}
	return paypalState(order)
}

func (g *PayPalGateway) Capture(ctx context.Context, correlationID string) (usecase.ProviderState, error) {
	var order paypalOrder
	err := g.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(correlationID)+"/capture", map[string]any{}, nil, &order)
	if err != nil {
		return usecase.ProviderState{}, err
	}
	return paypalState(order)
}

func (g *PayPalGateway) Void(ctx context.Context, correlationID string) error {
	return g.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(correlationID)+"/void", nil, nil, nil)
}

func paypalState(order paypalOrder) (usecase.ProviderState, error) {
	st := usecase.ProviderState{
		Provider:      domain.ProviderPayPal,
		CorrelationID: order.ID,
		RawStatus:     strings.ToUpper(order.Status),
	}

	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]

		st.OrderRef = unit.CustomID
		if st.OrderRef == "" {
			st.OrderRef = unit.InvoiceID
		}

		if unit.Amount.Value != "" {
			cents, err := ParseAmountCents(unit.Amount.Value)
			if err != nil {
				return usecase.ProviderState{}, err
			}
			st.AmountCents = &cents
			st.Currency = strings.ToUpper(unit.Amount.CurrencyCode)
		}

		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			st.CaptureID = capture.ID
			switch strings.ToUpper(capture.Status) {
			case "COMPLETED":
				st.Captured = true
			case "DECLINED", "FAILED":
				st.Declined = true
			}
		}
	}

	switch st.RawStatus {
	case "COMPLETED":
		st.Complete = true
	case "VOIDED":
		st.Expired = true
	}
	return st, nil
}

// VerifyWebhook asks PayPal's verification API whether the delivery headers
// match the raw event body for the configured webhook id.
func (g *PayPalGateway) VerifyWebhook(ctx context.Context, rawEvent json.RawMessage, headers http.Header) (bool, error) {
	if !g.WebhookConfigured() {
		return false, fmt.Errorf("paypal webhook not configured")
	}

	transmissionID := strings.TrimSpace(headers.Get("Paypal-Transmission-Id"))
	transmissionTime := strings.TrimSpace(headers.Get("Paypal-Transmission-Time"))
	transmissionSig := strings.TrimSpace(headers.Get("Paypal-Transmission-Sig"))
	certURL := strings.TrimSpace(headers.Get("Paypal-Cert-Url"))
	authAlgo := strings.TrimSpace(headers.Get("Paypal-Auth-Algo"))
	if transmissionID == "" || transmissionTime == "" || transmissionSig == "" || certURL == "" || authAlgo == "" {
		return false, fmt.Errorf("paypal webhook headers incomplete")
	}

	payload := map[string]any{
		"transmission_id":   transmissionID,
		"transmission_time": transmissionTime,
		"transmission_sig":  transmissionSig,
		"cert_url":          certURL,
		"auth_algo":         authAlgo,
		"webhook_id":        g.webhookID,
		"webhook_event":     rawEvent,
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, nil, &result); err != nil {
		return false, err
	}
	return strings.EqualFold(result.VerificationStatus, "SUCCESS"), nil
}

func (g *PayPalGateway) do(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	token, err := g.accessTokenFor(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal paypal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("paypal response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return &APIError{Provider: domain.ProviderPayPal, StatusCode: resp.StatusCode, Message: apiErr.Message}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode paypal response: %w", err)
		}
	}
	return nil
}

func (g *PayPalGateway) accessTokenFor(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && g.now().Before(g.tokenExpiry.Add(-paypalTokenLeeway)) {
		return g.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.clientID, g.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("paypal token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{Provider: domain.ProviderPayPal, StatusCode: resp.StatusCode, Message: "oauth token"}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}

	g.accessToken = tok.AccessToken
	g.tokenExpiry = g.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return g.accessToken, nil
}
