// Package engine talks to the external document analysis engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

// Format is the normalized document format tag sent to the engine.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatDOC  Format = "doc"
	FormatTXT  Format = "txt"
)

var (
	ErrNotConfigured     = errors.New("analysis engine not configured")
	ErrTimeout           = errors.New("analysis engine timeout")
	ErrStatus            = errors.New("analysis engine returned error status")
	ErrEmptyResponse     = errors.New("analysis engine returned empty response")
	ErrMalformedResponse = errors.New("analysis engine returned malformed response")
)

// Request is one analysis call.
type Request struct {
	FileName string
	Format   Format
	Content  []byte
	Language string
}

// Findings is the structured output of a successful analysis.
type Findings struct {
	Summary          string            `json:"summary"`
	OverallRiskLevel string            `json:"overall_risk_level"`
	RiskItems        []json.RawMessage `json:"risk_items"`
	// Raw is the complete analysis object as returned, kept verbatim for storage.
	Raw   json.RawMessage `json:"-"`
	Model string          `json:"-"`
}

// Client performs one bounded analysis call per Request.
type Client interface {
	Analyze(ctx context.Context, req Request) (Findings, error)
}

// Unconfigured fails every call; it stands in when no engine URL is set.
type Unconfigured struct{}

func (Unconfigured) Analyze(ctx context.Context, req Request) (Findings, error) {
	return Findings{}, ErrNotConfigured
}

// ErrorCode maps an engine error to a short code for operator logs.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "engine_timeout"
	case errors.Is(err, ErrStatus):
		return "engine_status"
	case errors.Is(err, ErrEmptyResponse):
		return "engine_empty"
	case errors.Is(err, ErrMalformedResponse):
		return "engine_malformed"
	case errors.Is(err, ErrNotConfigured):
		return "engine_not_configured"
	default:
		return "engine_unreachable"
	}
}
