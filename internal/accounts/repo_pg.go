package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"contract-backend/internal/shared/storage/db"
)

const uniqueViolation = "23505"

type PGRepo struct {
	DB *sql.DB
}

const selectAccount = `
SELECT a.id, a.email, a.password_hash, a.full_name, a.phone, a.dob, a.role, a.provider,
       a.created_at, a.updated_at,
       s.plan_type, s.max_uploads, s.current_uploads, s.start_date, s.end_date
FROM accounts a
JOIN subscriptions s ON s.account_id = a.id
`

func (r *PGRepo) Create(ctx context.Context, account Account) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO accounts (id, email, password_hash, full_name, phone, dob, role, provider, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
			account.ID,
			account.Email,
			account.PasswordHash,
			account.FullName,
			nullableString(account.Phone),
			account.DOB,
			account.Role,
			account.Provider,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("insert account: %w", err)
		}
		sub := account.Subscription
		_, err = tx.ExecContext(ctx, `
INSERT INTO subscriptions (account_id, plan_type, max_uploads, current_uploads, start_date, end_date, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())`,
			account.ID, sub.PlanType, sub.MaxUploads, sub.CurrentUploads, sub.StartDate, sub.EndDate,
		)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		return nil
	})
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, selectAccount+"WHERE a.id = $1", id))
}

func (r *PGRepo) GetByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, selectAccount+"WHERE a.email = $1", email))
}

func (r *PGRepo) UpdatePlan(ctx context.Context, id string, sub Subscription) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE subscriptions
SET plan_type = $2, max_uploads = $3, start_date = $4, end_date = $5, updated_at = now()
WHERE account_id = $1`,
		id, sub.PlanType, sub.MaxUploads, sub.StartDate, sub.EndDate,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeUploadTx locks the subscription row, checks the ceiling and increments the
// consumed count inside tx. Concurrent admissions for one account serialize on the row lock.
func ConsumeUploadTx(ctx context.Context, tx db.DBTX, accountID string) (Subscription, error) {
	var sub Subscription
	err := tx.QueryRowContext(ctx, `
SELECT plan_type, max_uploads, current_uploads, start_date, end_date
FROM subscriptions
WHERE account_id = $1
FOR UPDATE`, accountID).Scan(&sub.PlanType, &sub.MaxUploads, &sub.CurrentUploads, &sub.StartDate, &sub.EndDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("lock subscription: %w", err)
	}
	if !sub.HasCapacity() {
		return sub, ErrQuotaExceeded
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE subscriptions SET current_uploads = current_uploads + 1, updated_at = now()
WHERE account_id = $1`, accountID); err != nil {
		return Subscription{}, fmt.Errorf("increment uploads: %w", err)
	}
	sub.CurrentUploads++
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	var phone sql.NullString
	var dob sql.NullTime
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FullName, &phone, &dob, &a.Role, &a.Provider,
		&a.CreatedAt, &a.UpdatedAt,
		&a.Subscription.PlanType, &a.Subscription.MaxUploads, &a.Subscription.CurrentUploads,
		&a.Subscription.StartDate, &a.Subscription.EndDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	if phone.Valid {
		a.Phone = phone.String
	}
	if dob.Valid {
		t := dob.Time
		a.DOB = &t
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "duplicate key")
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
