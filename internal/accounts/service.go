package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"contract-backend/internal/shared/telemetry"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	minPasswordLen = 6
	bcryptCost     = 10
)

// TokenIssuer signs access tokens for authenticated accounts.
type TokenIssuer interface {
	Sign(accountID, email string) (string, error)
}

// Service implements registration, login and plan management.
type Service struct {
	Repo   Repo
	Tokens TokenIssuer
	Trial  TrialPolicy
	Now    func() time.Time
}

func NewService(repo Repo, tokens TokenIssuer, trial TrialPolicy) *Service {
	return &Service{Repo: repo, Tokens: tokens, Trial: trial, Now: func() time.Time { return time.Now().UTC() }}
}

type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
	DOB      *time.Time
}

// Register creates an account with the trial subscription.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Account, error) {
	email := normalizeEmail(in.Email)
	if !emailPattern.MatchString(email) {
		return Account{}, &ValidationError{Field: "email", Message: "invalid email format"}
	}
	if len(in.Password) < minPasswordLen {
		return Account{}, &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLen)}
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return Account{}, &ValidationError{Field: "fullName", Message: "full name is required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	account := Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		Phone:        strings.TrimSpace(in.Phone),
		DOB:          in.DOB,
		Role:         RoleUser,
		Provider:     ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
		Subscription: s.Trial.subscription(now),
	}
	if err := s.Repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	telemetry.Info("account.registered", map[string]any{
		"account_id":  account.ID,
		"plan":        account.Subscription.PlanType,
		"max_uploads": account.Subscription.MaxUploads,
	})
	return account, nil
}

// Login verifies credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, Account, error) {
	account, err := s.Repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", Account{}, ErrInvalidCredentials
		}
		return "", Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", Account{}, ErrInvalidCredentials
	}
	token, err := s.Tokens.Sign(account.ID, account.Email)
	if err != nil {
		return "", Account{}, fmt.Errorf("sign token: %w", err)
	}
	return token, account, nil
}

func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.Repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (Account, error) {
	return s.Repo.GetByEmail(ctx, normalizeEmail(email))
}

// ChangePlan moves an account onto a new plan starting now. The consumed count is kept.
func (s *Service) ChangePlan(ctx context.Context, email, plan string, maxUploads, days int) (Account, error) {
	plan = strings.ToUpper(strings.TrimSpace(plan))
	if plan == "" {
		return Account{}, &ValidationError{Field: "plan", Message: "plan is required"}
	}
	if maxUploads < 0 {
		return Account{}, &ValidationError{Field: "maxUploads", Message: "must not be negative"}
	}
	if days <= 0 {
		return Account{}, &ValidationError{Field: "days", Message: "must be positive"}
	}
	account, err := s.GetByEmail(ctx, email)
	if err != nil {
		return Account{}, err
	}
	now := s.now()
	sub := Subscription{
		PlanType:   plan,
		MaxUploads: maxUploads,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, days),
	}
	if err := s.Repo.UpdatePlan(ctx, account.ID, sub); err != nil {
		return Account{}, err
	}
	telemetry.Info("account.plan_changed", map[string]any{
		"account_id":  account.ID,
		"plan":        plan,
		"max_uploads": maxUploads,
	})
	return s.Repo.GetByID(ctx, account.ID)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
