package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-onboarding/internal/handler/clinic"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/health"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/middleware"
)

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	clinicH     *clinic.Handler
	invitationH *invitation.Handler
	staffH      *staff.Handler
	healthH     *health.Handler
	rateLimiter *middleware.RateLimiter
	metrics     *routerMetrics
	gatherer    prometheus.Gatherer
	metricsPath string
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimit     middleware.RateLimiterConfig
	RateLimitOff  bool
	CORSConfig    middleware.CORSConfig
	MetricsPrefix string
	MetricsPath   string
	Registry      *prometheus.Registry
	Logger        zerolog.Logger
	MaxBodyBytes  int64
	ReleaseMode   bool
}

type Handlers struct {
	Clinic     *clinic.Handler
	Invitation *invitation.Handler
	Staff      *staff.Handler
	Health     *health.Handler
}

func NewRouter(auth *middleware.AuthMiddleware, h Handlers, config RouterConfig) *Router {
	if config.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = middleware.DefaultMaxBodySize
	}

	engine := gin.New()

	r := &Router{
		engine:      engine,
		auth:        auth,
		clinicH:     h.Clinic,
		invitationH: h.Invitation,
		staffH:      h.Staff,
		healthH:     h.Health,
		metricsPath: config.MetricsPath,
	}
	if config.Registry != nil {
		r.metrics = initRouterMetrics(config.Registry, config.MetricsPrefix)
		r.gatherer = config.Registry
	}
	if !config.RateLimitOff {
		r.rateLimiter = middleware.NewRateLimiter(config.RateLimit)
	}

	engine.Use(
		middleware.RequestID(config.Logger),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(config.MaxBodyBytes),
	)
	if r.metrics != nil {
		engine.Use(r.metricsMiddleware())
	}

	r.setup()
	return r
}

func (r *Router) setup() {
	if r.healthH != nil {
		r.healthH.RegisterRoutes(r.engine)
	}
	if r.gatherer != nil && r.metricsPath != "" {
		r.engine.GET(r.metricsPath, gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.engine.Group("/api/v1")

	// Public routes are keyed by bearer tokens or open registration.
	public := api.Group("")
	if r.rateLimiter != nil {
		public.Use(r.rateLimiter.RateLimit())
	}
	r.clinicH.RegisterPublicRoutes(public)
	r.invitationH.RegisterPublicRoutes(public)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.clinicH.RegisterRoutes(protected)
	r.invitationH.RegisterRoutes(protected)
	r.staffH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(reg prometheus.Registerer, prefix string) *routerMetrics {
	factory := promauto.With(reg)
	return &routerMetrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
