package subscriptions

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func webhookRouter(svc *StripeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterWebhook(r)
	return r
}

func postWebhook(r *gin.Engine, body string, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(body)))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_UnconfiguredServiceUnavailable(t *testing.T) {
	r := webhookRouter(nil)
	w := postWebhook(r, `{}`, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	svc := &StripeService{webhookSecret: "whsec_test"}
	r := webhookRouter(svc)
	w := postWebhook(r, `{"type":"checkout.session.completed"}`, "t=1,v1=bad")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", w.Code, w.Body.String())
	}
}

func TestWebhook_IgnoredEventAcknowledged(t *testing.T) {
	// No signature in a non-prod environment skips verification.
	svc := &StripeService{webhookSecret: "whsec_test"}
	r := webhookRouter(svc)
	w := postWebhook(r, `{"type":"invoice.paid","data":{"object":{}}}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}
