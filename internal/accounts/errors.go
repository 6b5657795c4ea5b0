package accounts

import "errors"

var (
	ErrNotFound           = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrQuotaExceeded      = errors.New("upload quota exhausted")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError carries a user-facing message for rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
