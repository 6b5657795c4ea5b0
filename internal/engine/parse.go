package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope covers both accepted response shapes: the findings container
// {analysis, model} and the proxy wrapper {statusCode, body}.
type envelope struct {
	Analysis   json.RawMessage `json:"analysis"`
	Model      string          `json:"model"`
	Body       json.RawMessage `json:"body"`
	StatusCode *int            `json:"statusCode"`
}

// ParseResponse decodes an engine response. It accepts the direct shape
// {"analysis": {...}, "model": "..."} or one level of {"body": ...} wrapping,
// where body is either that same object or a JSON string encoding it.
// Anything else is ErrEmptyResponse or ErrMalformedResponse.
func ParseResponse(raw []byte) (Findings, error) {
	raw, err := unquote(raw)
	if err != nil {
		return Findings{}, err
	}
	var top envelope
	if err := json.Unmarshal(raw, &top); err != nil {
		return Findings{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if hasValue(top.Analysis) {
		return decodeFindings(top)
	}

	if !hasValue(top.Body) {
		return Findings{}, fmt.Errorf("%w: missing analysis", ErrMalformedResponse)
	}
	if top.StatusCode != nil && (*top.StatusCode < 200 || *top.StatusCode > 299) {
		return Findings{}, fmt.Errorf("%w: wrapped status %d", ErrStatus, *top.StatusCode)
	}
	inner, err := unquote(top.Body)
	if err != nil {
		return Findings{}, err
	}
	var nested envelope
	if err := json.Unmarshal(inner, &nested); err != nil {
		return Findings{}, fmt.Errorf("%w: body: %v", ErrMalformedResponse, err)
	}
	if !hasValue(nested.Analysis) {
		return Findings{}, fmt.Errorf("%w: body missing analysis", ErrMalformedResponse)
	}
	if nested.Model == "" {
		nested.Model = top.Model
	}
	return decodeFindings(nested)
}

func decodeFindings(env envelope) (Findings, error) {
	trimmed := bytes.TrimSpace(env.Analysis)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Findings{}, fmt.Errorf("%w: analysis is not an object", ErrMalformedResponse)
	}
	var f Findings
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Findings{}, fmt.Errorf("%w: analysis: %v", ErrMalformedResponse, err)
	}
	f.Raw = append(json.RawMessage(nil), trimmed...)
	f.Model = env.Model
	return f, nil
}

// unquote strips surrounding whitespace and decodes a JSON string literal holding JSON.
func unquote(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrEmptyResponse
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := bytes.TrimSpace([]byte(s))
	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
