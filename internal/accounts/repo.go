package accounts

import "context"

// Repo persists accounts together with their subscription.
type Repo interface {
	// Create stores the account and its subscription atomically. Duplicate emails yield ErrEmailTaken.
	Create(ctx context.Context, account Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	// UpdatePlan replaces plan type, ceiling and window; CurrentUploads is left untouched.
	UpdatePlan(ctx context.Context, id string, sub Subscription) error
}
