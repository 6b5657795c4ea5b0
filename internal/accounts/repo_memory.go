package accounts

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo keeps accounts in process memory. It also serves as the quota ledger
// for the in-memory job store.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]Account
	byEmail  map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		accounts: make(map[string]Account),
		byEmail:  make(map[string]string),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, account Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[account.Email]; ok {
		return ErrEmailTaken
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	r.accounts[account.ID] = account
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.accounts[id], nil
}

func (r *MemoryRepo) UpdatePlan(ctx context.Context, id string, sub Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	sub.CurrentUploads = account.Subscription.CurrentUploads
	account.Subscription = sub
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

// ConsumeUpload checks and increments the consumed count under one lock.
func (r *MemoryRepo) ConsumeUpload(ctx context.Context, id string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	if !account.Subscription.HasCapacity() {
		return account.Subscription, ErrQuotaExceeded
	}
	account.Subscription.CurrentUploads++
	r.accounts[id] = account
	return account.Subscription, nil
}
