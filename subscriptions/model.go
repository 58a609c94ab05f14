package subscriptions

import (
	"strings"
	"time"
)

// Plan identifiers.
const (
	PlanFree           = "free"
	PlanPremiumMonthly = "premium_monthly"
	PlanPremiumYearly  = "premium_yearly"
)

// Subscription statuses. Webhook receivers are the only writers for most of
// these; the reconciliation endpoints may self-heal a stale record.
const (
	StatusActive      = "active"
	StatusCanceling   = "canceling"
	StatusCanceled    = "canceled"
	StatusExpired     = "expired"
	StatusGracePeriod = "grace_period"
	StatusRefunded    = "refunded"
	StatusRevoked     = "revoked"
)

type Subscription struct {
	UserID                int        `json:"user_id"`
	Plan                  string     `json:"plan"`
	Status                string     `json:"status"`
	CustomerID            string     `json:"customer_id,omitempty"`
	SubscriptionID        string     `json:"subscription_id,omitempty"`
	PriceID               string     `json:"price_id,omitempty"`
	ProductID             string     `json:"product_id,omitempty"`
	OriginalTransactionID string     `json:"original_transaction_id,omitempty"`
	TransactionID         string     `json:"transaction_id,omitempty"`
	PeriodStart           *time.Time `json:"current_period_start,omitempty"`
	PeriodEnd             *time.Time `json:"current_period_end,omitempty"`
	CancelAt              *time.Time `json:"cancel_at,omitempty"`
	CanceledAt            *time.Time `json:"canceled_at,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsPremium reports whether the record grants premium quota tiers. The quota
// tier only looks at the plan, matching how the counters were sized.
func (s *Subscription) IsPremium() bool {
	return s != nil && strings.HasPrefix(s.Plan, "premium")
}

// PlanForProduct maps a store product id onto a plan.
func PlanForProduct(productID string) string {
	if strings.Contains(productID, "yearly") {
		return PlanPremiumYearly
	}
	return PlanPremiumMonthly
}

// PlanForName maps a checkout plan name ("monthly"/"yearly") onto a plan.
func PlanForName(name string) string {
	if name == "yearly" {
		return PlanPremiumYearly
	}
	return PlanPremiumMonthly
}
