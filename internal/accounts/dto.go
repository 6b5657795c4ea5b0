package accounts

import "time"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	DOB      string `json:"dob"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type subscriptionResponse struct {
	PlanType       string    `json:"planType"`
	MaxUploads     int       `json:"maxUploads"`
	CurrentUploads int       `json:"currentUploads"`
	Remaining      int       `json:"remaining"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
}

type accountResponse struct {
	ID           string               `json:"id"`
	Email        string               `json:"email"`
	FullName     string               `json:"fullName"`
	Phone        string               `json:"phone,omitempty"`
	Role         string               `json:"role"`
	CreatedAt    time.Time            `json:"createdAt"`
	Subscription subscriptionResponse `json:"subscription"`
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		Phone:     a.Phone,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
		Subscription: subscriptionResponse{
			PlanType:       a.Subscription.PlanType,
			MaxUploads:     a.Subscription.MaxUploads,
			CurrentUploads: a.Subscription.CurrentUploads,
			Remaining:      a.Subscription.Remaining(),
			StartDate:      a.Subscription.StartDate,
			EndDate:        a.Subscription.EndDate,
		},
	}
}
