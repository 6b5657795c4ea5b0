package conversations

import "errors"

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message is too long")
	ErrJobNotAvailable = errors.New("job not found")
)
