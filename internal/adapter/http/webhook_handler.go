package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allinbloomus-wq/allinbloom/internal/adapter/payment"
	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

const webhookBodyLimit = 1 << 20

// WebhookHandler verifies provider signatures, flattens provider envelopes
// into IngestEvents, and hands them to the shared ingestor. Verification
// needs the concrete gateways: each provider authenticates differently.
type WebhookHandler struct {
	ingestor *usecase.WebhookIngestor
	capture  *usecase.WalletCapture
	stripe   *payment.StripeGateway
	paypal   *payment.PayPalGateway
}

func NewWebhookHandler(ingestor *usecase.WebhookIngestor, capture *usecase.WalletCapture, stripe *payment.StripeGateway, paypal *payment.PayPalGateway) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, capture: capture, stripe: stripe, paypal: paypal}
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Metadata struct {
				OrderID string `json:"orderId"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (h *WebhookHandler) Stripe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	if err := h.stripe.VerifyWebhook(body, c.GetHeader("Stripe-Signature")); err != nil {
		logging.From(c).Warn("stripe webhook signature rejected", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	h.ingest(c, usecase.IngestEvent{
		Provider:      domain.ProviderStripe,
		EventID:       ev.ID,
		Type:          ev.Type,
		OrderRef:      ev.Data.Object.Metadata.OrderID,
		CorrelationID: ev.Data.Object.ID,
	})
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		CustomID          string `json:"custom_id"`
		InvoiceID         string `json:"invoice_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (h *WebhookHandler) PayPal(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	verifyCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	ok, err := h.paypal.VerifyWebhook(verifyCtx, body, c.Request.Header)
	if err != nil {
		logging.From(c).Error("paypal webhook verification failed", "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "verification unavailable"})
		return
	}
	if !ok {
		logging.From(c).Warn("paypal webhook signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	// Order events carry the PayPal order id as the resource id; capture
	// events carry it in the related ids block instead.
	correlationID := ev.Resource.ID
	if ev.Resource.SupplementaryData.RelatedIDs.OrderID != "" {
		correlationID = ev.Resource.SupplementaryData.RelatedIDs.OrderID
	}
	orderRef := ev.Resource.CustomID
	if orderRef == "" {
		orderRef = ev.Resource.InvoiceID
	}

	h.ingest(c, usecase.IngestEvent{
		Provider:      domain.ProviderPayPal,
		EventID:       ev.ID,
		Type:          ev.EventType,
		OrderRef:      orderRef,
		CorrelationID: correlationID,
	})
}

func (h *WebhookHandler) ingest(c *gin.Context, ev usecase.IngestEvent) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	err := h.ingestor.Handle(ctx, ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, usecase.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": usecase.UserMessage(err)})
	case errors.Is(err, usecase.ErrIntegrityConflict):
		logging.From(c).Error("webhook correlation conflict", "error", err.Error())
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	default:
		// No dedup marker was written, so a 5xx makes the provider redeliver.
		logging.From(c).Error("webhook processing failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry later"})
	}
}

type captureReq struct {
	PayPalOrderID string `json:"paypalOrderId" binding:"required"`
}

// Capture is the wallet browser-return path: the storefront posts the
// approved PayPal order id and gets back the settled status.
func (h *WebhookHandler) Capture(c *gin.Context) {
	var req captureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	out, err := h.capture.Execute(ctx, usecase.CaptureInput{PayPalOrderID: req.PayPalOrderID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": out.OrderID, "status": string(out.Status)})
}
