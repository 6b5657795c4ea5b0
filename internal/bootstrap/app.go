package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"contract-backend/internal/accounts"
	"contract-backend/internal/conversations"
	"contract-backend/internal/engine"
	"contract-backend/internal/jobs"
	"contract-backend/internal/queue"
	"contract-backend/internal/shared/auth"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/server"
	"contract-backend/internal/shared/storage/db"
	"contract-backend/internal/shared/storage/object"
	localstore "contract-backend/internal/shared/storage/object/local"
	s3store "contract-backend/internal/shared/storage/object/s3"
	"contract-backend/internal/shared/telemetry"
	"contract-backend/internal/worker"
)

// App holds shared dependencies for every entrypoint.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Redis  *redis.Client
	Store  object.ObjectStore
	Pool   *worker.Pool
	Queue  queue.Client
	Tokens *auth.Tokens

	AccountsService      *accounts.Service
	JobsService          *jobs.Service
	ConversationsService *conversations.Service
	Processor            JobProcessor
}

// JobProcessor allows callers to override job processing for tests.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Pool:   worker.NewPool(nil, cfg.WorkerConcurrency),
		Tokens: auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL),
	}

	if err := buildQueue(ctx, app); err != nil {
		return nil, err
	}
	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              cfg,
		DB:                  sqlDB,
		Tokens:              app.Tokens,
		AccountHandler:      accounts.NewHandler(app.AccountsService),
		JobHandler:          jobs.NewHandler(app.JobsService, cfg.MaxUploadBytes),
		ConversationHandler: conversations.NewHandler(app.ConversationsService),
	})
	return app, nil
}

// SweepStale fails jobs a previous in-process pool left behind. Only jobs idle for
// longer than one engine attempt plus the shutdown grace are touched, so attempts
// still running elsewhere finish on their own.
func (a *App) SweepStale(ctx context.Context) (int, error) {
	if a.JobsService == nil || a.Config.DispatchMode != config.DispatchInline {
		return 0, nil
	}
	grace := a.Config.EngineTimeout + a.Config.ShutdownTimeout
	return a.JobsService.FailStale(ctx, time.Now().UTC().Add(-grace))
}

// Close drains in-process work and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.database", map[string]any{"msg": "DATABASE_URL empty; using in-memory repositories"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, s3store.Options{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			SSE:      cfg.S3SSE,
			KMSKeyID: cfg.SSEKMSKeyID,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, app *App) error {
	cfg := app.Config
	switch cfg.DispatchMode {
	case config.DispatchSQS:
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return err
		}
		app.Queue = client
	case config.DispatchRedis:
		client, rdb, err := queue.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisQueueKey)
		if err != nil {
			return err
		}
		app.Queue = client
		app.Redis = rdb
	default:
		app.Queue = app.Pool
	}
	telemetry.Info("bootstrap.dispatch", map[string]any{"mode": cfg.DispatchMode})
	return nil
}

func buildServices(app *App) error {
	cfg := app.Config

	var (
		accountRepo accounts.Repo
		jobRepo     jobs.Repo
		convRepo    conversations.Repo
	)
	if app.DB != nil {
		accountRepo = &accounts.PGRepo{DB: app.DB}
		jobRepo = &jobs.PGRepo{DB: app.DB}
		convRepo = &conversations.PGRepo{DB: app.DB}
	} else {
		memAccounts := accounts.NewMemoryRepo()
		memConvs := conversations.NewMemoryRepo()
		accountRepo = memAccounts
		jobRepo = jobs.NewMemoryRepo(memAccounts, memConvs)
		convRepo = memConvs
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	app.AccountsService = accounts.NewService(accountRepo, app.Tokens, accounts.TrialPolicy{
		MaxUploads: cfg.TrialMaxUploads,
		Days:       cfg.TrialDays,
	})
	app.JobsService = jobs.NewService(jobRepo, accountRepo, app.Store, eng, app.Queue, jobs.Options{
		EngineTimeout: cfg.EngineTimeout,
		Language:      cfg.EngineLanguage,
		MaxBytes:      cfg.MaxUploadBytes,
	})
	app.Pool.SetProcessor(app.JobsService)
	app.Processor = app.JobsService

	replier, err := buildReplier(cfg)
	if err != nil {
		return err
	}
	app.ConversationsService = conversations.NewService(convRepo, app.JobsService, replier, app.Pool)
	return nil
}

func buildEngine(cfg config.Config) (engine.Client, error) {
	if strings.TrimSpace(cfg.EngineURL) == "" {
		telemetry.Warn("bootstrap.engine", map[string]any{"msg": "ENGINE_URL empty; analyses will fail"})
		return engine.Unconfigured{}, nil
	}
	return engine.NewHTTPClient(cfg.EngineURL, cfg.EngineTimeout)
}

func buildReplier(cfg config.Config) (conversations.Replier, error) {
	if cfg.ReplyProvider != "openai" {
		return conversations.KeywordReplier{}, nil
	}
	if cfg.OpenAIKey == "" {
		telemetry.L().Warn("bootstrap.replier", zap.String("msg", "OPENAI_API_KEY empty; using canned replies"))
		return conversations.KeywordReplier{}, nil
	}
	return conversations.NewOpenAIReplier(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
