package conversations

import "time"

type Role string

const (
	RoleUser Role = "USER"
	RoleAI   Role = "AI"
)

const (
	TitleAnalysis = "Phân tích AI"
	TitleDefault  = "Hội thoại mới"
)

// Session is the single conversation thread attached to a job.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	JobID     string    `json:"jobId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one entry of a session's append-only log. Seq gives the total order.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
