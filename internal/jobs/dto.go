package jobs

import (
	"encoding/json"
	"time"
)

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
}

type resultResponse struct {
	Summary     string          `json:"summary"`
	OverallRisk Risk            `json:"overallRisk"`
	RiskCount   int             `json:"riskCount"`
	ModelUsed   string          `json:"modelUsed"`
	Findings    json.RawMessage `json:"findings"`
}

type detailResponse struct {
	ID           string          `json:"id"`
	FileName     string          `json:"fileName"`
	SizeBytes    int64           `json:"sizeBytes"`
	ContentType  string          `json:"contentType"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Result       *resultResponse `json:"result,omitempty"`
}

func toDetailResponse(d Detail) detailResponse {
	out := detailResponse{
		ID:           d.Job.ID,
		FileName:     d.Job.FileName,
		SizeBytes:    d.Job.SizeBytes,
		ContentType:  d.Job.ContentType,
		Status:       d.Job.Status,
		ErrorMessage: d.Job.ErrorMessage,
		CreatedAt:    d.Job.CreatedAt,
		UpdatedAt:    d.Job.UpdatedAt,
	}
	if d.Result != nil {
		findings := d.Result.Findings
		if len(findings) == 0 {
			findings = json.RawMessage("{}")
		}
		out.Result = &resultResponse{
			Summary:     d.Result.Summary,
			OverallRisk: d.Result.OverallRisk,
			RiskCount:   d.Result.RiskCount,
			ModelUsed:   d.Result.ModelUsed,
			Findings:    findings,
		}
	}
	return out
}
