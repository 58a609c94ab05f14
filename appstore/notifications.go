// Package appstore receives App Store server notifications and mirrors
// subscription state changes into the local records.
package appstore

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studypal-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

// SubscriptionStore is the slice of the subscription repository the receiver
// writes through.
type SubscriptionStore interface {
	FindUserByOriginalTransaction(origTxID string) (int, error)
	Upsert(s *subscriptions.Subscription) error
	SetStatus(userID int, status string) error
	SetPlanStatus(userID int, plan, status string) error
}

// Handler processes store notifications against the subscription records.
type Handler struct {
	repo SubscriptionStore
}

func NewHandler(repo SubscriptionStore) *Handler {
	return &Handler{repo: repo}
}

// msTime accepts millisecond timestamps encoded either as JSON numbers or as
// strings; v1 receipts use strings, the v2 payloads use numbers.
type msTime int64

func (m *msTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*m = 0
		return nil
	}
	*m = msTime(n)
	return nil
}

func (m msTime) Time() *time.Time {
	if m == 0 {
		return nil
	}
	t := time.UnixMilli(int64(m))
	return &t
}

// ReceiptInfo is the transaction detail extracted from any of the supported
// notification layouts.
type ReceiptInfo struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	TransactionID         string `json:"transaction_id"`
	ProductID             string `json:"product_id"`
	ExpiresDateMs         msTime `json:"expires_date_ms"`
	PurchaseDateMs        msTime `json:"purchase_date_ms"`
	// v2 signed payloads use camelCase
	OriginalTransactionIDV2 string `json:"originalTransactionId"`
	TransactionIDV2         string `json:"transactionId"`
	ProductIDV2             string `json:"productId"`
	ExpiresDateV2           msTime `json:"expiresDate"`
	PurchaseDateV2          msTime `json:"purchaseDate"`
}

func (r *ReceiptInfo) normalize() {
	if r.OriginalTransactionID == "" {
		r.OriginalTransactionID = r.OriginalTransactionIDV2
	}
	if r.TransactionID == "" {
		r.TransactionID = r.TransactionIDV2
	}
	if r.ProductID == "" {
		r.ProductID = r.ProductIDV2
	}
	if r.ExpiresDateMs == 0 {
		r.ExpiresDateMs = r.ExpiresDateV2
	}
	if r.PurchaseDateMs == 0 {
		r.PurchaseDateMs = r.PurchaseDateV2
	}
}

// Notification is the superset of the notification layouts Apple has shipped.
type Notification struct {
	NotificationType   string `json:"notificationType"`
	NotificationTypeV1 string `json:"notification_type"`
	Environment        string `json:"environment"`
	Data               struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
	UnifiedReceipt struct {
		LatestReceiptInfo []ReceiptInfo `json:"latest_receipt_info"`
	} `json:"unified_receipt"`
	LatestReceiptInfo json.RawMessage `json:"latest_receipt_info"`
}

func (n *Notification) Type() string {
	if n.NotificationType != "" {
		return n.NotificationType
	}
	return n.NotificationTypeV1
}

// decodeJWSPayload extracts the claims segment of a signed transaction without
// verifying the signature; the store's delivery channel is trusted here and
// failures only downgrade logging.
func decodeJWSPayload(jws string) (*ReceiptInfo, error) {
	parts := strings.Split(jws, ".")
	if len(parts) != 3 {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var info ReceiptInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// receiptInfo pulls the latest transaction out of whichever layout the
// notification uses: v2 signed payload, unified receipt, or the flat legacy
// field (which may be an array or a single object).
func receiptInfo(n *Notification) *ReceiptInfo {
	if n.Data.SignedTransactionInfo != "" {
		info, err := decodeJWSPayload(n.Data.SignedTransactionInfo)
		if err != nil {
			log.Printf("[APPSTORE] failed to decode signed transaction: %v", err)
		} else if info != nil {
			info.normalize()
			return info
		}
	}
	if len(n.UnifiedReceipt.LatestReceiptInfo) > 0 {
		info := n.UnifiedReceipt.LatestReceiptInfo[0]
		info.normalize()
		return &info
	}
	if len(n.LatestReceiptInfo) > 0 {
		var list []ReceiptInfo
		if err := json.Unmarshal(n.LatestReceiptInfo, &list); err == nil && len(list) > 0 {
			list[0].normalize()
			return &list[0]
		}
		var single ReceiptInfo
		if err := json.Unmarshal(n.LatestReceiptInfo, &single); err == nil {
			single.normalize()
			if single.OriginalTransactionID != "" {
				return &single
			}
		}
	}
	return nil
}

// RegisterRoutes mounts the webhook. The store retries on non-200 responses,
// so processing failures are logged and acknowledged rather than surfaced.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Any("/webhooks/appstore", h.handle)
}

func (h *Handler) handle(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	var n Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		log.Printf("[APPSTORE] invalid notification body: %v", err)
		c.String(http.StatusOK, "Error processing notification")
		return
	}
	if err := h.process(&n); err != nil {
		log.Printf("[APPSTORE] processing error for %s: %v", n.Type(), err)
		c.String(http.StatusOK, "Error processing notification")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (h *Handler) process(n *Notification) error {
	kind := n.Type()
	info := receiptInfo(n)
	if info == nil || info.OriginalTransactionID == "" {
		log.Printf("[APPSTORE] %s notification without usable receipt info, ignoring", kind)
		return nil
	}
	userID, err := h.repo.FindUserByOriginalTransaction(info.OriginalTransactionID)
	if err != nil {
		return err
	}
	if userID == 0 {
		log.Printf("[APPSTORE] no user for original transaction %s (%s), ignoring", info.OriginalTransactionID, kind)
		return nil
	}
	log.Printf("[APPSTORE] %s user=%d product=%s tx=%s", kind, userID, info.ProductID, info.OriginalTransactionID)

	switch kind {
	case "INITIAL_BUY", "DID_RENEW", "SUBSCRIBED", "DID_RECOVER", "INTERACTIVE_RENEWAL":
		return h.repo.Upsert(&subscriptions.Subscription{
			UserID:                userID,
			Plan:                  subscriptions.PlanForProduct(info.ProductID),
			Status:                subscriptions.StatusActive,
			ProductID:             info.ProductID,
			OriginalTransactionID: info.OriginalTransactionID,
			TransactionID:         info.TransactionID,
			PeriodStart:           info.PurchaseDateMs.Time(),
			PeriodEnd:             info.ExpiresDateMs.Time(),
		})
	case "CANCEL", "DID_FAIL_TO_RENEW":
		// Access persists until the paid period runs out.
		return h.repo.SetStatus(userID, subscriptions.StatusGracePeriod)
	case "EXPIRED":
		return h.repo.SetPlanStatus(userID, subscriptions.PlanFree, subscriptions.StatusExpired)
	case "DID_CHANGE_RENEWAL_STATUS":
		log.Printf("[APPSTORE] renewal preference changed for user=%d, no state change", userID)
		return nil
	case "REFUND":
		return h.repo.SetPlanStatus(userID, subscriptions.PlanFree, subscriptions.StatusRefunded)
	case "REVOKE":
		return h.repo.SetPlanStatus(userID, subscriptions.PlanFree, subscriptions.StatusRevoked)
	case "PRICE_INCREASE":
		log.Printf("[APPSTORE] price increase pending consent for user=%d", userID)
		return nil
	default:
		log.Printf("[APPSTORE] unhandled notification type %s", kind)
		return nil
	}
}
