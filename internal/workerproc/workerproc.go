// Package workerproc turns raw queue payloads into job processing calls.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"contract-backend/internal/jobs"
	"contract-backend/internal/queue"
)

// Processor runs the analysis attempt for one job.
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// Abandoner is implemented by processors that can fail a job whose attempt will
// never run.
type Abandoner interface {
	AbandonJob(ctx context.Context, jobID string) error
}

// Abandon fails msg's job through processor when it supports it.
func Abandon(processor Processor, msg queue.Message) error {
	a, ok := processor.(Abandoner)
	if !ok {
		return nil
	}
	return a.AbandonJob(jobs.WithRequestID(context.Background(), msg.RequestID), msg.JobID)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingJobID indicates a message without a job id.
type ErrMissingJobID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingJobID) Error() string { return "missing job id" }

// ErrUnsupportedVersion indicates a message layout this consumer does not know.
type ErrUnsupportedVersion struct {
	Version int
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported message version %d", e.Version)
}

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	JobID     string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process job"
	}
	return "process job: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether redelivering the message can never succeed.
func Unrecoverable(err error) bool {
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrMissingJobID, ErrUnsupportedVersion:
		return true
	}
	return false
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return msg, meta, ErrMissingJobID{Meta: meta, RequestID: msg.RequestID}
	}
	if msg.Version > queue.MessageVersion {
		return msg, meta, ErrUnsupportedVersion{Version: msg.Version}
	}
	return msg, meta, nil
}

// Process hands a decoded message to the processor with its request id attached.
func Process(ctx context.Context, processor Processor, msg queue.Message) error {
	if processor == nil {
		return errors.New("job processor not configured")
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return ErrMissingJobID{RequestID: msg.RequestID}
	}
	if err := processor.ProcessJob(jobs.WithRequestID(ctx, msg.RequestID), msg.JobID); err != nil {
		return ErrProcess{JobID: msg.JobID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}

// HandleMessage parses, validates, and processes a message payload.
func HandleMessage(ctx context.Context, processor Processor, body string) error {
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return Process(ctx, processor, msg)
}
