package queue

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
)

func TestMessageRoundTrip(t *testing.T) {
	at := time.Date(2026, time.January, 31, 5, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	msg := NewMessage("job-123", "request-456", at)
	if msg.EnqueuedAt != "2026-01-30T22:00:00Z" || msg.Version != MessageVersion {
		t.Fatalf("unexpected stamp %+v", msg)
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}

	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}

	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	return &sqs.SendMessageOutput{}, f.err
}

func TestSQSClientSend(t *testing.T) {
	api := &fakeSQS{}
	client := NewSQSClientWithAPI(api, "https://sqs.local/q")

	if err := client.Send(context.Background(), Message{JobID: "job-1", Version: MessageVersion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if aws.ToString(api.input.QueueUrl) != "https://sqs.local/q" {
		t.Fatalf("unexpected queue url %q", aws.ToString(api.input.QueueUrl))
	}
	msg, err := DecodeMessage([]byte(aws.ToString(api.input.MessageBody)))
	if err != nil || msg.JobID != "job-1" {
		t.Fatalf("unexpected body %q (%v)", aws.ToString(api.input.MessageBody), err)
	}

	api.err = errors.New("throttled")
	if err := client.Send(context.Background(), Message{JobID: "job-2"}); err == nil {
		t.Fatalf("expected send error")
	}
}

type fakeList struct {
	items [][]byte
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.items = append([][]byte{v.([]byte)}, f.items...)
	}
	return redis.NewIntResult(int64(len(f.items)), nil)
}

func (f *fakeList) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	if len(f.items) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	last := f.items[len(f.items)-1]
	f.items = f.items[:len(f.items)-1]
	return redis.NewStringSliceResult([]string{keys[0], string(last)}, nil)
}

func TestRedisClientFIFO(t *testing.T) {
	list := &fakeList{}
	client := NewRedisClientWithAPI(list, "contract:jobs")
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2"} {
		if err := client.Send(ctx, Message{JobID: id, Version: MessageVersion}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range []string{"job-1", "job-2"} {
		body, err := client.Receive(ctx, time.Second)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		msg, err := DecodeMessage([]byte(body))
		if err != nil || msg.JobID != want {
			t.Fatalf("expected %s, got %+v (%v)", want, msg, err)
		}
	}
	body, err := client.Receive(ctx, time.Second)
	if err != nil || body != "" {
		t.Fatalf("expected empty receive, got %q (%v)", body, err)
	}
}
