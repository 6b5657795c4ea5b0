package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"contract-backend/internal/conversations"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition allows only PENDING->PROCESSING and PROCESSING->{COMPLETED,FAILED}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Risk string

const (
	RiskLow     Risk = "LOW"
	RiskMedium  Risk = "MEDIUM"
	RiskHigh    Risk = "HIGH"
	RiskUnknown Risk = "UNKNOWN"
)

// MapRisk folds the engine's free-text level into the stored classification.
func MapRisk(level string) Risk {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "CRITICAL", "HIGH":
		return RiskHigh
	case "MEDIUM":
		return RiskMedium
	default:
		return RiskLow
	}
}

// Job is one submitted document and its processing state.
type Job struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"accountId"`
	FileName     string     `json:"fileName"`
	StorageKey   string     `json:"-"`
	SizeBytes    int64      `json:"sizeBytes"`
	ContentType  string     `json:"contentType"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// AnalysisResult is written once, together with the COMPLETED flip.
type AnalysisResult struct {
	JobID       string          `json:"jobId"`
	Summary     string          `json:"summary"`
	OverallRisk Risk            `json:"overallRisk"`
	RiskCount   int             `json:"riskCount"`
	Findings    json.RawMessage `json:"findings"`
	ModelUsed   string          `json:"modelUsed"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Commit groups every record the success path writes in one unit.
type Commit struct {
	Result  AnalysisResult
	Session conversations.Session
	Seed    conversations.Message
}

// JobSummary is a list row.
type JobSummary struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	CreatedAt   time.Time `json:"createdAt"`
	Status      Status    `json:"status"`
	OverallRisk Risk      `json:"overallRisk"`
}
