package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/server/middleware"
	"contract-backend/internal/shared/server/respond"
	"contract-backend/internal/shared/telemetry"
)

const (
	apiPrefix     = "/api/v1"
	healthTimeout = 2 * time.Second
	groupUpload   = "UPLOAD"
	groupChat     = "CHAT"
	uploadRoute   = apiPrefix + "/contracts"
	chatRoute     = apiPrefix + "/contracts/:id/conversation"
)

// RouteRegistrar attaches a package's routes to the API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries everything the router needs from bootstrap.
type RouterDeps struct {
	Config              config.Config
	DB                  *sql.DB
	Tokens              middleware.Verifier
	AccountHandler      RouteRegistrar
	JobHandler          RouteRegistrar
	ConversationHandler RouteRegistrar
	// Now overrides the rate limiter clock in tests.
	Now func() time.Time
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	limiter := middleware.NewRateLimiter(deps.Now)
	rules := map[string]middleware.RateLimitRule{}
	if n := deps.Config.UploadRatePerMin; n > 0 {
		rules[groupUpload] = middleware.PerMinute(n)
	}
	if n := deps.Config.ChatRatePerMin; n > 0 {
		rules[groupChat] = middleware.PerMinute(n)
	}

	r.Use(
		middleware.RequestID(),
		middleware.Logging(telemetry.L()),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Tokens,
			"/health",
			"/metrics",
			apiPrefix+"/health",
			apiPrefix+"/auth/register",
			apiPrefix+"/auth/login",
		),
		middleware.RateLimit(limiter, rules, rateGroup),
	)

	health := healthHandler(deps.DB)
	r.GET("/health", health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group(apiPrefix)
	api.GET("/health", health)
	for _, h := range []RouteRegistrar{deps.AccountHandler, deps.JobHandler, deps.ConversationHandler} {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}

	return r
}

// rateGroup names the limit bucket for write-heavy routes.
func rateGroup(c *gin.Context) string {
	if c.Request.Method != http.MethodPost {
		return ""
	}
	switch c.FullPath() {
	case uploadRoute:
		return groupUpload
	case chatRoute:
		return groupChat
	default:
		return ""
	}
}

func healthHandler(database *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if database == nil {
			respond.OK(c, gin.H{"status": "ok", "database": "memory"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := database.PingContext(ctx); err != nil {
			telemetry.Warn("health.database", map[string]any{"error": err.Error()})
			respond.Error(c, http.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
			return
		}
		respond.OK(c, gin.H{"status": "ok", "database": "ok"})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
