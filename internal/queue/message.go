// Package queue carries job dispatch messages to whatever runs the analysis:
// the in-process pool, SQS, or a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// MessageVersion is written into every message so consumers can reject layouts they do not know.
const MessageVersion = 1

// Client hands a job message to a consumer. Send must not wait for the analysis.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Message asks a consumer to run the analysis for one job.
type Message struct {
	JobID      string `json:"jobId"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a job message with the current layout version.
func NewMessage(jobID, requestID string, at time.Time) Message {
	return Message{
		JobID:      jobID,
		RequestID:  requestID,
		EnqueuedAt: at.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a payload. Unknown fields are ignored; a missing version decodes as 0.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

var (
	_ Client = (*SQSClient)(nil)
	_ Client = (*RedisClient)(nil)
)
