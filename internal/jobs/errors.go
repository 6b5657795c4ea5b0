package jobs

import "errors"

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotTerminal       = errors.New("job is still running")
	ErrAccountNotFound   = errors.New("account not found")
	ErrQuotaExceeded     = errors.New("upload quota exhausted")
	ErrEmptyFile         = errors.New("file is empty")
	ErrResultNotFound    = errors.New("analysis result not found")
)

// Fixed detail stored on FAILED jobs. Engine error text stays in operator logs.
const (
	FailureEngine   = "Lỗi kết nối AI"
	FailureDispatch = "Không thể đưa tài liệu vào hàng đợi xử lý"
)
