package accounts

import "time"

const (
	PlanFreeTrial = "FREE_TRIAL"

	RoleUser      = "USER"
	ProviderLocal = "LOCAL"
)

// Account is a registered caller with its upload quota.
type Account struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	FullName     string       `json:"fullName"`
	Phone        string       `json:"phone,omitempty"`
	DOB          *time.Time   `json:"dob,omitempty"`
	Role         string       `json:"role"`
	Provider     string       `json:"provider"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Subscription Subscription `json:"subscription"`
}

// Subscription is the plan window and upload ceiling of an account.
// CurrentUploads only grows, through admitted submissions.
type Subscription struct {
	PlanType       string    `json:"planType"`
	MaxUploads     int       `json:"maxUploads"`
	CurrentUploads int       `json:"currentUploads"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
}

// HasCapacity reports whether one more submission fits under the ceiling.
func (s Subscription) HasCapacity() bool {
	return s.CurrentUploads < s.MaxUploads
}

// Remaining returns the number of submissions left, never negative.
func (s Subscription) Remaining() int {
	if left := s.MaxUploads - s.CurrentUploads; left > 0 {
		return left
	}
	return 0
}
