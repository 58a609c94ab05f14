package subscriptions

import "testing"

func TestIsPremium(t *testing.T) {
	cases := []struct {
		sub  *Subscription
		want bool
	}{
		{nil, false},
		{&Subscription{Plan: PlanFree}, false},
		{&Subscription{Plan: PlanPremiumMonthly}, true},
		{&Subscription{Plan: PlanPremiumYearly}, true},
		{&Subscription{Plan: ""}, false},
	}
	for _, tc := range cases {
		if got := tc.sub.IsPremium(); got != tc.want {
			t.Errorf("IsPremium(%+v) = %v, want %v", tc.sub, got, tc.want)
		}
	}
}

func TestPlanForProduct(t *testing.T) {
	if got := PlanForProduct("premium_yearly_sub"); got != PlanPremiumYearly {
		t.Errorf("yearly product mapped to %s", got)
	}
	if got := PlanForProduct("premium_monthly_sub"); got != PlanPremiumMonthly {
		t.Errorf("monthly product mapped to %s", got)
	}
	if got := PlanForProduct("unknown"); got != PlanPremiumMonthly {
		t.Errorf("unknown product should default to monthly, got %s", got)
	}
}

func TestPlanForName(t *testing.T) {
	if got := PlanForName("yearly"); got != PlanPremiumYearly {
		t.Errorf("yearly mapped to %s", got)
	}
	if got := PlanForName("monthly"); got != PlanPremiumMonthly {
		t.Errorf("monthly mapped to %s", got)
	}
	if got := PlanForName(""); got != PlanPremiumMonthly {
		t.Errorf("empty name should default to monthly, got %s", got)
	}
}
