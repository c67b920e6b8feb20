package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allinbloomus-wq/allinbloom/internal/adapter/http/middleware"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// CheckoutHandler exposes the storefront checkout surface: start a checkout,
// cancel an order, poll an order's status.
type CheckoutHandler struct {
	checkout *usecase.Checkout
	cancel   *usecase.Cancellation
	status   *usecase.StatusQuery
}

func NewCheckoutHandler(checkout *usecase.Checkout, cancel *usecase.Cancellation, status *usecase.StatusQuery) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, cancel: cancel, status: status}
}

type checkoutReq struct {
	Items         []usecase.CartItemInput `json:"items" binding:"required,min=1"`
	PaymentMethod string                  `json:"paymentMethod"`

	Email string `json:"email"`
	Phone string `json:"phone"`

	Address      string `json:"address"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
	Floor        string `json:"floor"`

	OrderComment string `json:"orderComment"`
}

type checkoutResp struct {
	URL         string `json:"url"`
	OrderID     string `json:"orderId"`
	CancelToken string `json:"cancelToken"`
}

func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	// Provider round trips dominate here; the budget covers session creation.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 25*time.Second)
	defer cancel()

	out, err := h.checkout.Execute(ctx, usecase.CheckoutInput{
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		IdentityEmail: middleware.IdentityEmail(c),
		Email:         req.Email,
		Phone:         req.Phone,
		Address:       req.Address,
		Line1:         req.AddressLine1,
		Line2:         req.AddressLine2,
		City:          req.City,
		State:         req.State,
		PostalCode:    req.PostalCode,
		Country:       req.Country,
		Floor:         req.Floor,
		OrderComment:  req.OrderComment,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, checkoutResp{
		URL:         out.RedirectURL,
		OrderID:     out.OrderID,
		CancelToken: out.CancelToken,
	})
}

type cancelReq struct {
	OrderID       string `json:"orderId"`
	PayPalOrderID string `json:"paypalOrderId"`
	CancelToken   string `json:"cancelToken"`
}

type cancelResp struct {
	Canceled bool   `json:"canceled"`
	Status   string `json:"status"`
}

func (h *CheckoutHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	if req.OrderID == "" && req.PayPalOrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order id is required."})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	out, err := h.cancel.Execute(ctx, usecase.CancelInput{
		OrderID:       req.OrderID,
		PayPalOrderID: req.PayPalOrderID,
		CancelToken:   req.CancelToken,
		IdentityEmail: middleware.IdentityEmail(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelResp{Canceled: out.Canceled, Status: string(out.Status)})
}

type statusReq struct {
	OrderID     string `json:"orderId" binding:"required"`
	CancelToken string `json:"cancelToken"`
}

func (h *CheckoutHandler) Status(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order id is required."})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	out, err := h.status.Execute(ctx, usecase.StatusInput{
		OrderID:       req.OrderID,
		CancelToken:   req.CancelToken,
		IdentityEmail: middleware.IdentityEmail(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(out.Status)})
}

// writeError maps the usecase error taxonomy onto HTTP. Authorization
// failures answer 404 so probing never learns whether an order exists.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": usecase.UserMessage(err)})
	case errors.Is(err, usecase.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "This payment method is unavailable."})
	case errors.Is(err, usecase.ErrAuthorization), errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found."})
	case errors.Is(err, usecase.ErrIntegrityConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, usecase.ErrProviderTransient), errors.Is(err, usecase.ErrProviderRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Unable to reach the payment provider."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
