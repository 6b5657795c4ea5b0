package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "Hợp đồng.docx", want: "Hop dong"},
		{in: "HĐ thuê nhà (bản 2).pdf", want: "HD thue nha (ban 2)"},
		{in: "report.final.v2.txt", want: "report final v2"},
		{in: "  a__b   c  ", want: "a b c"},
		{in: "[draft]-lease", want: "[draft]-lease"},
		{in: "こんにちは.pdf", want: PlaceholderName},
		{in: ".docx", want: PlaceholderName},
		{in: "", want: PlaceholderName},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		contentType, name string
		want              Format
	}{
		{"application/pdf", "a.pdf", FormatPDF},
		{"application/pdf", "noext", FormatPDF},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "x", FormatDOCX},
		{"application/msword", "x", FormatDOCX},
		{"application/msword", "legacy.DOC", FormatDOC},
		{"application/octet-stream", "contract.docx", FormatDOCX},
		{"application/pdf", "mislabelled.docx", FormatDOCX},
		{"text/plain; charset=utf-8", "notes", FormatTXT},
		{"", "", FormatTXT},
		{"application/zip", "archive", FormatTXT},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.contentType, tt.name); got != tt.want {
			t.Fatalf("DetectFormat(%q, %q) = %q, want %q", tt.contentType, tt.name, got, tt.want)
		}
	}
}

const analysisJSON = `{"summary":"Hợp đồng thuê","overall_risk_level":"high","risk_items":[{"clause":"payment"},{"clause":"term"}]}`

func TestParseResponseDirect(t *testing.T) {
	f, err := ParseResponse([]byte(`{"analysis":` + analysisJSON + `,"model":"claude-x"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Summary != "Hợp đồng thuê" || f.OverallRiskLevel != "high" || len(f.RiskItems) != 2 || f.Model != "claude-x" {
		t.Fatalf("unexpected findings %+v", f)
	}
	if !json.Valid(f.Raw) {
		t.Fatalf("expected raw analysis kept")
	}
}

func TestParseResponseStringEncodedBody(t *testing.T) {
	inner, _ := json.Marshal(`{"analysis":` + analysisJSON + `,"model":"m1"}`)
	f, err := ParseResponse([]byte(`{"statusCode":200,"body":` + string(inner) + `}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Model != "m1" || len(f.RiskItems) != 2 {
		t.Fatalf("unexpected findings %+v", f)
	}
}

func TestParseResponseStructuredBody(t *testing.T) {
	f, err := ParseResponse([]byte(`{"model":"outer","body":{"analysis":` + analysisJSON + `}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Model != "outer" {
		t.Fatalf("expected outer model fallback, got %q", f.Model)
	}
}

func TestParseResponseStringTopLevel(t *testing.T) {
	raw, _ := json.Marshal(`{"analysis":` + analysisJSON + `}`)
	if _, err := ParseResponse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestParseResponseFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty", raw: "  ", want: ErrEmptyResponse},
		{name: "null", raw: "null", want: ErrEmptyResponse},
		{name: "not json", raw: "<html>", want: ErrMalformedResponse},
		{name: "no analysis", raw: `{"result":1}`, want: ErrMalformedResponse},
		{name: "unparsable body string", raw: `{"body":"{not json"}`, want: ErrMalformedResponse},
		{name: "body without analysis", raw: `{"body":{"other":1}}`, want: ErrMalformedResponse},
		{name: "analysis not object", raw: `{"analysis":"text"}`, want: ErrMalformedResponse},
		{name: "wrapped error status", raw: `{"statusCode":500,"body":"{\"error\":\"x\"}"}`, want: ErrStatus},
		{name: "double envelope", raw: `{"body":{"body":{"analysis":{}}}}`, want: ErrMalformedResponse},
	}
	for _, tt := range tests {
		if _, err := ParseResponse([]byte(tt.raw)); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestHTTPClientSendsWireRequest(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"analysis":` + analysisJSON + `,"model":"m"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	f, err := client.Analyze(context.Background(), Request{FileName: "Hop dong", Format: FormatDOCX, Content: []byte("abc"), Language: "vi"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if f.Model != "m" {
		t.Fatalf("unexpected model %q", f.Model)
	}
	if got.FileName != "Hop dong" || got.FileFormat != FormatDOCX || got.Language != "vi" {
		t.Fatalf("unexpected wire request %+v", got)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(got.FileBytesBase64); string(decoded) != "abc" {
		t.Fatalf("unexpected content %q", decoded)
	}
}

func TestHTTPClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"bedrock down"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Analyze(context.Background(), Request{})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
	if ErrorCode(err) != "engine_status" {
		t.Fatalf("unexpected code %q", ErrorCode(err))
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, _ := NewHTTPClient(srv.URL, 50*time.Millisecond)
	_, err := client.Analyze(context.Background(), Request{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestNewHTTPClientRequiresURL(t *testing.T) {
	if _, err := NewHTTPClient(" ", 0); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
