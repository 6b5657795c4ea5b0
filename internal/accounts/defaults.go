package accounts

import "time"

// TrialPolicy is the quota granted at registration.
type TrialPolicy struct {
	MaxUploads int
	Days       int
}

// DefaultTrial grants five submissions over thirty days.
func DefaultTrial() TrialPolicy {
	return TrialPolicy{MaxUploads: 5, Days: 30}
}

func (p TrialPolicy) subscription(now time.Time) Subscription {
	if p.MaxUploads < 0 {
		p.MaxUploads = 0
	}
	if p.Days <= 0 {
		p.Days = DefaultTrial().Days
	}
	return Subscription{
		PlanType:   PlanFreeTrial,
		MaxUploads: p.MaxUploads,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, p.Days),
	}
}
