package quota

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"studypal-backend/callable"
)

// Daily request limits per provider for each tier.
var freeLimits = map[string]int{
	"openai":   10,
	"deepseek": 10,
	"vision":   5,
	"mistral":  5,
	"gemini":   15,
}

var premiumLimits = map[string]int{
	"openai":   100,
	"deepseek": 100,
	"vision":   50,
	"mistral":  50,
	"gemini":   150,
}

// PlanSource reports whether a user currently holds a premium plan. The
// subscriptions repository satisfies it.
type PlanSource interface {
	IsPremiumUser(userID int) (bool, error)
}

// Validator checks a user's running count against the limit for their tier.
// Providers can run in observe-only mode: the count still advances and denials
// are logged, but the request is allowed through.
type Validator struct {
	counter Counter
	plans   PlanSource
	enforce map[string]bool
}

// NewValidator builds a validator with per-provider enforcement. Enforcement
// defaults on for every provider except gemini, which starts in observe-only
// mode; QUOTA_ENFORCE_<PROVIDER>=0/1 overrides, QUOTA_DISABLE=1 turns the
// whole validator into a pass-through.
func NewValidator(counter Counter, plans PlanSource) *Validator {
	enforce := map[string]bool{}
	for provider := range freeLimits {
		on := provider != "gemini"
		if v := os.Getenv("QUOTA_ENFORCE_" + strings.ToUpper(provider)); v != "" {
			on = v == "1" || v == "true"
		}
		enforce[provider] = on
	}
	return &Validator{counter: counter, plans: plans, enforce: enforce}
}

func disabled() bool {
	return os.Getenv("QUOTA_DISABLE") == "1"
}

func (v *Validator) limitFor(userID int, provider string) (int, string) {
	limits, tier := freeLimits, "free"
	if premium, err := v.plans.IsPremiumUser(userID); err != nil {
		log.Printf("[quota][warn] flow=%s user=%d plan lookup failed: %v, assuming free tier", provider, userID, err)
	} else if premium {
		limits, tier = premiumLimits, "premium"
	}
	limit, ok := limits[provider]
	if !ok {
		limit = limits["openai"]
	}
	return limit, tier
}

// Check advances the counter and rejects the request when the tier limit is
// exceeded. Counter backend failures fail open with a warning.
func (v *Validator) Check(ctx context.Context, userID int, provider string) error {
	if disabled() {
		return nil
	}
	count, err := v.counter.Incr(ctx, userID, provider)
	if err != nil {
		log.Printf("[quota][warn] flow=%s user=%d counter error: %v, allowing request", provider, userID, err)
		return nil
	}
	limit, tier := v.limitFor(userID, provider)
	if count <= limit {
		log.Printf("[quota][allow] flow=%s user=%d tier=%s count=%d limit=%d", provider, userID, tier, count, limit)
		return nil
	}
	if !v.enforce[provider] {
		log.Printf("[quota][observe] flow=%s user=%d tier=%s count=%d limit=%d over limit, enforcement off", provider, userID, tier, count, limit)
		return nil
	}
	log.Printf("[quota][deny] flow=%s user=%d tier=%s count=%d limit=%d", provider, userID, tier, count, limit)
	return callable.NewWithDetails(callable.ResourceExhausted,
		fmt.Sprintf("daily %s request limit reached", provider),
		map[string]any{"provider": provider, "limit": limit, "tier": tier})
}
