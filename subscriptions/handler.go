package subscriptions

import (
	"errors"
	"log"
	"net/http"

	"studypal-backend/callable"

	"github.com/gin-gonic/gin"
)

// Handler exposes the billing endpoints over HTTP. All routes except the
// webhook sit behind the auth middleware.
type Handler struct {
	svc *StripeService
}

func NewHandler(svc *StripeService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the authenticated billing routes on the given group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	authed.POST("/stripe/checkout", h.checkout)
	authed.POST("/stripe/portal", h.portal)
	authed.POST("/stripe/subscription", h.getSubscription)
	authed.POST("/stripe/cancel", h.cancel)
	authed.POST("/stripe/reactivate", h.reactivate)
}

// RegisterWebhook mounts the unauthenticated Stripe ingress on the engine.
func (h *Handler) RegisterWebhook(r *gin.Engine) {
	r.POST("/webhooks/stripe", func(c *gin.Context) {
		if h.svc == nil {
			c.String(http.StatusServiceUnavailable, "stripe is not configured")
			return
		}
		h.svc.HandleWebhook(c)
	})
}

func (h *Handler) available(c *gin.Context) bool {
	if h.svc == nil {
		callable.Abort(c, callable.New(callable.Unavailable, "billing is not configured"))
		return false
	}
	return true
}

func caller(c *gin.Context) (int, bool) {
	id, ok := callable.UserID(c)
	if !ok {
		callable.Abort(c, callable.New(callable.Unauthenticated, "authentication required"))
	}
	return id, ok
}

func abortBilling(c *gin.Context, err error) {
	var ce *callable.Error
	if errors.As(err, &ce) {
		callable.Abort(c, ce)
		return
	}
	log.Printf("[STRIPE] handler error: %v", err)
	callable.Abort(c, callable.New(callable.Internal, "billing operation failed"))
}

type checkoutRequest struct {
	PriceID  string `json:"price_id"`
	Plan     string `json:"plan"`
	Platform string `json:"platform"`
}

// bindCheckout accepts both the bare request object and the {"data": {...}}
// envelope callable-style clients send. Missing or malformed bodies fall back
// to defaults resolved downstream.
func bindCheckout(c *gin.Context) checkoutRequest {
	var envelope struct {
		checkoutRequest
		Data *checkoutRequest `json:"data"`
	}
	_ = c.ShouldBindJSON(&envelope)
	if envelope.Data != nil {
		return *envelope.Data
	}
	return envelope.checkoutRequest
}

func (h *Handler) checkout(c *gin.Context) {
	if !h.available(c) {
		return
	}
	req := bindCheckout(c)
	userID, ok := caller(c)
	if !ok {
		return
	}
	email := c.GetString("user_email")
	sessionID, url, err := h.svc.Checkout(userID, email, req.PriceID, req.Plan, req.Platform)
	if err != nil {
		abortBilling(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "url": url})
}

func (h *Handler) portal(c *gin.Context) {
	if !h.available(c) {
		return
	}
	userID, ok := caller(c)
	if !ok {
		return
	}
	url, err := h.svc.Portal(userID)
	if err != nil {
		abortBilling(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) getSubscription(c *gin.Context) {
	if !h.available(c) {
		return
	}
	userID, ok := caller(c)
	if !ok {
		return
	}
	out, err := h.svc.GetSubscription(userID)
	if err != nil {
		abortBilling(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) cancel(c *gin.Context) {
	if !h.available(c) {
		return
	}
	userID, ok := caller(c)
	if !ok {
		return
	}
	out, err := h.svc.Cancel(userID)
	if err != nil {
		abortBilling(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) reactivate(c *gin.Context) {
	if !h.available(c) {
		return
	}
	userID, ok := caller(c)
	if !ok {
		return
	}
	out, err := h.svc.Reactivate(userID)
	if err != nil {
		abortBilling(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
