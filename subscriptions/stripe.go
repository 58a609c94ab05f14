package subscriptions

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"studypal-backend/callable"
	"studypal-backend/config"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/gin-gonic/gin"
)

// StripeService wraps checkout/portal/webhook interactions with Stripe.
// When STRIPE_SECRET_KEY is not set the service is disabled (nil).
type StripeService struct {
	repo          *Repository
	sc            *client.API
	webhookSecret string
	clientDomain  string
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripeFromConfig returns a configured service or nil when the secret key
// is missing.
func NewStripeFromConfig(repo *Repository) *StripeService {
	key := config.StripeSecretKey()
	if key == "" {
		log.Printf("[STRIPE] secret key not configured (env=%s), service disabled", config.Environment())
		return nil
	}
	sc := &client.API{}
	sc.Init(key, nil)
	log.Printf("[STRIPE] initialized (env=%s, key=%s)", config.Environment(), maskKey(key))
	return &StripeService{
		repo:          repo,
		sc:            sc,
		webhookSecret: config.StripeWebhookSecret(),
		clientDomain:  config.ClientDomain(),
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0)
	return &t
}

// ensureCustomer returns the Stripe customer id for a user, creating the
// customer and the mapping row on first use.
func (s *StripeService) ensureCustomer(userID int, email string) (string, error) {
	id, err := s.repo.GetCustomerID(userID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.AddMetadata("app_user_id", strconv.Itoa(userID))
	cust, err := s.sc.Customers.New(params)
	if err != nil {
		return "", err
	}
	if err := s.repo.SaveCustomer(userID, cust.ID, email); err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (s *StripeService) activeSubscription(customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("active"),
	}
	params.Limit = stripe.Int64(1)
	it := s.sc.Subscriptions.List(params)
	for it.Next() {
		return it.Subscription(), nil
	}
	return nil, it.Err()
}

// Checkout creates a subscription-mode checkout session. priceID may be empty,
// in which case it is resolved from the plan name via configuration.
func (s *StripeService) Checkout(userID int, email, priceID, plan, platform string) (string, string, error) {
	customerID, err := s.ensureCustomer(userID, email)
	if err != nil {
		return "", "", err
	}
	existing, err := s.activeSubscription(customerID)
	if err != nil {
		return "", "", err
	}
	if existing != nil {
		return "", "", callable.New(callable.AlreadyExists, "an active subscription already exists")
	}
	if priceID == "" {
		priceID = config.PriceID(plan)
		if priceID == "" {
			return "", "", callable.New(callable.FailedPrecondition,
				fmt.Sprintf("no price id configured for plan %q", plan))
		}
	}
	if platform == "" {
		platform = "web"
	}
	if plan == "" {
		plan = "monthly"
	}
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		AutomaticTax:       &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:           stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		// Stripe needs the billing address on the customer for automatic tax
		CustomerUpdate: &stripe.CheckoutSessionCustomerUpdateParams{
			Address:  stripe.String("auto"),
			Shipping: stripe.String("auto"),
		},
		SuccessURL: stripe.String(fmt.Sprintf("%s/payment_success?session_id={CHECKOUT_SESSION_ID}&platform=%s", s.clientDomain, platform)),
		CancelURL:  stripe.String(fmt.Sprintf("%s/payment_cancel?platform=%s", s.clientDomain, platform)),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"app_user_id": strconv.Itoa(userID),
				"plan":        plan,
			},
		},
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("[STRIPE][checkout] error: %v", err)
		return "", "", err
	}
	return sess.ID, sess.URL, nil
}

// Portal creates a billing-portal session for an existing customer.
func (s *StripeService) Portal(userID int) (string, error) {
	customerID, err := s.repo.GetCustomerID(userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", callable.New(callable.NotFound, "no billing information found")
	}
	sess, err := s.sc.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.clientDomain),
	})
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// GetSubscription reconciles the live Stripe state with the local record,
// self-healing the record when it is missing or still marked free.
func (s *StripeService) GetSubscription(userID int) (map[string]any, error) {
	customerID, err := s.repo.GetCustomerID(userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return map[string]any{"active": false, "plan": "free", "message": "no billing information found"}, nil
	}
	sub, err := s.activeSubscription(customerID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		// Stripe has nothing active; a local premium record (e.g. from the
		// app store flow) still counts.
		local, err := s.repo.Get(userID)
		if err != nil {
			return nil, err
		}
		if local.IsPremium() {
			log.Printf("[STRIPE][get] user=%d premium via local record only (plan=%s)", userID, local.Plan)
			return map[string]any{"active": true, "plan": local.Plan, "subscription": local, "source": "local_only"}, nil
		}
		return map[string]any{"active": false, "plan": "free", "message": "no active subscription"}, nil
	}

	planName := sub.Metadata["plan"]
	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	if planName == "" {
		planName = "monthly"
	}

	local, err := s.repo.Get(userID)
	if err != nil {
		return nil, err
	}
	if local == nil || !local.IsPremium() {
		plan := PlanForName(planName)
		log.Printf("[STRIPE][get] user=%d healing local record to %s", userID, plan)
		if err := s.repo.Upsert(&Subscription{
			UserID:         userID,
			Plan:           plan,
			Status:         string(sub.Status),
			CustomerID:     customerID,
			SubscriptionID: sub.ID,
			PriceID:        priceID,
			PeriodStart:    unixTime(sub.CurrentPeriodStart),
			PeriodEnd:      unixTime(sub.CurrentPeriodEnd),
		}); err != nil {
			return nil, err
		}
		local, _ = s.repo.Get(userID)
	}
	return map[string]any{
		"active": true,
		"plan":   planName,
		"stripe_subscription": map[string]any{
			"id":                 sub.ID,
			"status":             string(sub.Status),
			"current_period_end": sub.CurrentPeriodEnd,
		},
		"subscription": local,
	}, nil
}

// Cancel schedules cancellation at period end and mirrors the state locally.
func (s *StripeService) Cancel(userID int) (map[string]any, error) {
	customerID, err := s.repo.GetCustomerID(userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return map[string]any{"success": false, "error": "no billing information found"}, nil
	}
	sub, err := s.activeSubscription(customerID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		log.Printf("[STRIPE][cancel] user=%d no active subscription, downgrading local record", userID)
		if err := s.repo.SetPlanStatus(userID, PlanFree, StatusCanceled); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "message": "no active subscription found; downgraded to free"}, nil
	}
	updated, err := s.sc.Subscriptions.Update(sub.ID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[STRIPE][cancel] user=%d subscription=%s cancels at period end", userID, sub.ID)
	if err := s.repo.SetCancelAt(userID, StatusCanceling, unixTime(updated.CancelAt)); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": "subscription will cancel at the end of the current billing period",
		"subscription": map[string]any{
			"id":                 updated.ID,
			"status":             string(updated.Status),
			"cancel_at":          updated.CancelAt,
			"current_period_end": updated.CurrentPeriodEnd,
		},
	}, nil
}

// Reactivate undoes a pending cancellation, or replaces a fully canceled
// subscription with a fresh one on the same price.
func (s *StripeService) Reactivate(userID int) (map[string]any, error) {
	customerID, err := s.repo.GetCustomerID(userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return map[string]any{"success": false, "error": "no billing information found"}, nil
	}
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	params.Limit = stripe.Int64(10)
	it := s.sc.Subscriptions.List(params)
	var target *stripe.Subscription
	for it.Next() {
		sub := it.Subscription()
		if (sub.CancelAtPeriodEnd && sub.Status == stripe.SubscriptionStatusActive) || sub.Status == stripe.SubscriptionStatusCanceled {
			target = sub
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if target == nil {
		return map[string]any{"success": false, "error": "no subscription eligible for reactivation"}, nil
	}

	var updated *stripe.Subscription
	if target.Status == stripe.SubscriptionStatusActive && target.CancelAtPeriodEnd {
		updated, err = s.sc.Subscriptions.Update(target.ID, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(false),
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[STRIPE][reactivate] user=%d subscription=%s pending cancel cleared", userID, target.ID)
	} else {
		items := make([]*stripe.SubscriptionItemsParams, 0, 1)
		if target.Items != nil {
			for _, item := range target.Items.Data {
				if item.Price != nil {
					items = append(items, &stripe.SubscriptionItemsParams{Price: stripe.String(item.Price.ID)})
				}
			}
		}
		updated, err = s.sc.Subscriptions.New(&stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items:    items,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[STRIPE][reactivate] user=%d new subscription=%s replaces canceled one", userID, updated.ID)
	}
	if err := s.repo.SetCancelAt(userID, StatusActive, nil); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": "subscription reactivated",
		"subscription": map[string]any{
			"id":                 updated.ID,
			"status":             string(updated.Status),
			"current_period_end": updated.CurrentPeriodEnd,
		},
	}, nil
}

// --- Webhook ---

// parseEvent verifies the signature against the raw body. Verification is
// skipped only outside production when no signature header is present, and
// when no webhook secret is configured at all.
func (s *StripeService) parseEvent(payload []byte, sig string) (stripe.Event, error) {
	var event stripe.Event
	if sig == "" && config.Environment() != "prod" {
		log.Printf("[STRIPE][webhook] test mode: no signature, parsing body directly")
		err := json.Unmarshal(payload, &event)
		return event, err
	}
	if s.webhookSecret == "" {
		log.Printf("[STRIPE][webhook] warning: signature present but no webhook secret configured")
		err := json.Unmarshal(payload, &event)
		return event, err
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}

// HandleWebhook is the unauthenticated Stripe ingress. Responses follow the
// delivery contract: 400 only for signature failures, 500 for handler errors,
// 200 otherwise.
func (s *StripeService) HandleWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "Webhook Error: %v", err)
		return
	}
	event, err := s.parseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Printf("[STRIPE][webhook] signature verification failed: %v", err)
		c.String(http.StatusBadRequest, "Webhook Error: %v", err)
		return
	}

	if err := s.dispatch(event); err != nil {
		log.Printf("[STRIPE][webhook] processing error for %s: %v", event.Type, err)
		c.String(http.StatusInternalServerError, "Webhook handler failed: %v", err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *StripeService) dispatch(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return err
		}
		if session.Mode == stripe.CheckoutSessionModeSubscription {
			return s.handleCheckoutCompleted(&session)
		}
	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionUpdated(&sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionDeleted(&sub)
	default:
		log.Printf("[STRIPE][webhook] ignoring event type %s", event.Type)
	}
	return nil
}

func (s *StripeService) handleCheckoutCompleted(session *stripe.CheckoutSession) error {
	if session.Subscription == nil || session.Subscription.ID == "" {
		log.Printf("[STRIPE][webhook] checkout session %s has no subscription id", session.ID)
		return nil
	}
	sub, err := s.sc.Subscriptions.Get(session.Subscription.ID, nil)
	if err != nil {
		return err
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	userID, err := s.repo.FindUserByCustomerID(customerID)
	if err != nil {
		return err
	}
	if userID == 0 {
		log.Printf("[STRIPE][webhook] no customer mapping for %s (subscription %s)", customerID, sub.ID)
		return nil
	}
	planName := sub.Metadata["plan"]
	if planName == "" {
		planName = "monthly"
	}
	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	plan := PlanForName(planName)
	log.Printf("[STRIPE][webhook] checkout completed user=%d plan=%s subscription=%s", userID, plan, sub.ID)
	return s.repo.Upsert(&Subscription{
		UserID:         userID,
		Plan:           plan,
		Status:         string(sub.Status),
		CustomerID:     customerID,
		SubscriptionID: sub.ID,
		PriceID:        priceID,
		PeriodStart:    unixTime(sub.CurrentPeriodStart),
		PeriodEnd:      unixTime(sub.CurrentPeriodEnd),
	})
}

func (s *StripeService) handleSubscriptionUpdated(sub *stripe.Subscription) error {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	userID, err := s.repo.FindUserByCustomerID(customerID)
	if err != nil {
		return err
	}
	if userID == 0 {
		log.Printf("[STRIPE][webhook] no customer mapping for %s (subscription %s)", customerID, sub.ID)
		return nil
	}
	log.Printf("[STRIPE][webhook] subscription updated user=%d status=%s", userID, sub.Status)
	return s.repo.SetStatusPeriod(userID, string(sub.Status), unixTime(sub.CurrentPeriodStart), unixTime(sub.CurrentPeriodEnd))
}

func (s *StripeService) handleSubscriptionDeleted(sub *stripe.Subscription) error {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	userID, err := s.repo.FindUserByCustomerID(customerID)
	if err != nil {
		return err
	}
	if userID == 0 {
		log.Printf("[STRIPE][webhook] no customer mapping for %s (subscription %s)", customerID, sub.ID)
		return nil
	}
	canceledAt := time.Now()
	if t := unixTime(sub.CanceledAt); t != nil {
		canceledAt = *t
	}
	log.Printf("[STRIPE][webhook] subscription deleted user=%d subscription=%s", userID, sub.ID)
	return s.repo.MarkCanceled(userID, StatusCanceled, canceledAt)
}
