package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 120 * time.Second
	maxResponseBytes = 16 << 20
	maxErrorSnippet  = 512
)

type wireRequest struct {
	FileName        string `json:"file_name"`
	FileFormat      Format `json:"file_format"`
	FileBytesBase64 string `json:"file_bytes_base64"`
	Language        string `json:"language"`
}

// HTTPClient calls the engine over JSON/HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

// NewHTTPClient builds a client for the engine endpoint. Every call is bounded by timeout.
func NewHTTPClient(url string, timeout time.Duration) (*HTTPClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) Analyze(ctx context.Context, req Request) (Findings, error) {
	payload, err := json.Marshal(wireRequest{
		FileName:        req.FileName,
		FileFormat:      req.Format,
		FileBytesBase64: base64.StdEncoding.EncodeToString(req.Content),
		Language:        req.Language,
	})
	if err != nil {
		return Findings{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Findings{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Findings{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Findings{}, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return Findings{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Findings{}, fmt.Errorf("engine read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Findings{}, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, snippet(body))
	}
	return ParseResponse(body)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet]
	}
	return s
}

var _ Client = (*HTTPClient)(nil)
