package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contract-backend/internal/bootstrap"
	"contract-backend/internal/queue"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/telemetry"
	"contract-backend/internal/workerproc"
)

const (
	defaultVisibilitySeconds = 1200
	redisPollWait            = 5 * time.Second
)

func main() {
	source := flag.String("source", "", "queue to consume: sqs or redis (defaults to DISPATCH_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		telemetry.L().Fatal("load config", zap.Error(err))
	}
	if err := telemetry.Init(cfg.Env, cfg.LogLevel); err != nil {
		telemetry.L().Fatal("init logger", zap.Error(err))
	}
	defer telemetry.Sync()
	log := telemetry.L()

	mode := strings.ToLower(strings.TrimSpace(*source))
	if mode == "" {
		mode = cfg.DispatchMode
	}
	// The worker pulls from a broker and processes in its own slots; it never
	// dispatches to itself.
	cfg.DispatchMode = config.DispatchInline

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatal("bootstrap build", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.WorkerConcurrency) + 1)

	switch mode {
	case config.DispatchSQS:
		if cfg.SQSQueueURL == "" {
			log.Fatal("SQS_QUEUE_URL is required")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatal("load aws config", zap.Error(err))
		}
		client := sqs.NewFromConfig(awsCfg)
		visibility := envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
		log.Info("worker started",
			zap.String("source", mode),
			zap.String("queue", cfg.SQSQueueURL),
			zap.Int("concurrency", cfg.WorkerConcurrency),
			zap.Int("visibility_s", visibility),
		)
		g.Go(func() error {
			pollSQS(gctx, g, client, cfg.SQSQueueURL, visibility, app.Processor)
			return nil
		})
	case config.DispatchRedis:
		if cfg.RedisURL == "" {
			log.Fatal("REDIS_URL is required")
		}
		consumer, rdb, err := queue.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisQueueKey)
		if err != nil {
			log.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("worker started",
			zap.String("source", mode),
			zap.String("key", cfg.RedisQueueKey),
			zap.Int("concurrency", cfg.WorkerConcurrency),
		)
		g.Go(func() error {
			pollRedis(gctx, g, consumer, app.Processor)
			return nil
		})
	default:
		log.Fatal("worker needs -source sqs or -source redis", zap.String("source", mode))
	}

	<-ctx.Done()
	log.Info("shutdown requested", zap.Duration("timeout", cfg.ShutdownTimeout))
	waitDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("shutdown timeout reached; exiting with in-flight jobs")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		log.Warn("close app", zap.Error(err))
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// pollSQS long-polls until ctx ends. g bounds in-flight messages, so a full
// group blocks the next receive.
func pollSQS(ctx context.Context, g *errgroup.Group, client sqsAPI, queueURL string, visibility int, processor workerproc.Processor) {
	for ctx.Err() == nil {
		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibility),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}
		for _, msg := range resp.Messages {
			m := msg
			g.Go(func() error {
				handleMessage(ctx, client, queueURL, processor, m)
				return nil
			})
		}
	}
}

// receiver is the consuming side of queue.RedisClient.
type receiver interface {
	Receive(ctx context.Context, wait time.Duration) (string, error)
}

func pollRedis(ctx context.Context, g *errgroup.Group, consumer receiver, processor workerproc.Processor) {
	for ctx.Err() == nil {
		body, err := consumer.Receive(ctx, redisPollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}
		if body == "" {
			continue
		}
		g.Go(func() error {
			handleBody(ctx, processor, body)
			return nil
		})
	}
}

// handleBody processes a list entry. A failed attempt is not pushed back: the
// job has already reached FAILED or is owned by another attempt.
func handleBody(ctx context.Context, processor workerproc.Processor, body string) {
	msg, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		telemetry.Error("worker.job.decode_failed", map[string]any{
			"body_len":    meta.BodyLen,
			"body_sha256": meta.BodySHA,
			"error":       err.Error(),
		})
		return
	}
	fields := map[string]any{"job_id": msg.JobID, "request_id": msg.RequestID}
	telemetry.Info("worker.job.received", fields)
	if err := workerproc.Process(ctx, processor, msg); err != nil {
		fields["error"] = err.Error()
		telemetry.Error("worker.job.failed", fields)
		return
	}
	telemetry.Info("worker.job.completed", fields)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, processor workerproc.Processor, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, decoded.JobID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.job.unrecoverable", fields)
		if workerproc.Unrecoverable(err) {
			deleteMessage(ctx, client, queueURL, msg, decoded.JobID, decoded.RequestID)
		}
		return
	}

	telemetry.Info("worker.job.received", baseFields(msg, decoded.JobID, decoded.RequestID))

	if err := workerproc.Process(ctx, processor, decoded); err != nil {
		fields := baseFields(msg, decoded.JobID, decoded.RequestID)
		var procErr workerproc.ErrProcess
		if errors.As(err, &procErr) && procErr.Err != nil {
			fields["error"] = procErr.Err.Error()
		} else {
			fields["error"] = err.Error()
		}
		telemetry.Error("worker.job.failed", fields)
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.JobID, decoded.RequestID) {
		telemetry.Info("worker.job.completed", baseFields(msg, decoded.JobID, decoded.RequestID))
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, jobID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, jobID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, jobID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":         jobID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	parsed, err := strconv.Atoi(msg.Attributes["ApproximateReceiveCount"])
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
