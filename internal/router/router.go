package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/coach-realtime/internal/handler/health"
	"github.com/jwalitptl/coach-realtime/internal/middleware"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	Mode        string
	RateLimit   rate.Limit
	RateBurst   int
	CORSConfig  middleware.CORSConfig
	MetricsPath string
	// Gatherer serves MetricsPath; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Router struct {
	engine  *gin.Engine
	config  RouterConfig
	auth    *middleware.AuthMiddleware
	auditH  Handler
	healthH *health.Handler
	ws      gin.HandlerFunc
}

func NewRouter(
	log *logger.Logger,
	m *metrics.Metrics,
	auth *middleware.AuthMiddleware,
	auditH Handler,
	healthH *health.Handler,
	ws gin.HandlerFunc,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	middleware.UseJSONFieldNames()

	engine := gin.New()
	engine.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Metrics(m),
		middleware.ErrorHandler(log),
		middleware.CORS(config.CORSConfig),
	)

	return &Router{
		engine:  engine,
		config:  config,
		auth:    auth,
		auditH:  auditH,
		healthH: healthH,
		ws:      ws,
	}
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(r.engine)

	if r.config.Gatherer != nil && r.config.MetricsPath != "" {
		r.engine.GET(r.config.MetricsPath, gin.WrapH(promhttp.HandlerFor(r.config.Gatherer, promhttp.HandlerOpts{})))
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  r.config.RateLimit,
		Burst: r.config.RateBurst,
	})

	// The handshake authenticates itself before upgrading.
	r.engine.GET("/ws", limiter.RateLimit(), r.ws)

	api := r.engine.Group("/api/v1")
	api.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		limiter.RateLimit(),
		r.auth.Authenticate(),
		r.auth.RequireRole(model.RoleAdmin),
	)
	r.auditH.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
