// Package web is the HTTP surface of the application: the gin router, the
// session-aware auth middleware and the page and JSON handlers.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"oauthstarter/internal/metrics"
)

// RouterConfig holds the dependencies of the router
type RouterConfig struct {
	Auth        AuthHandler
	Users       UserLookup
	Handler     *Handler
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	CORSOrigins []string
	ServiceName string
	PublicPaths []string
}

// SetupRouter configures and returns the application router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(loadTemplates())

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(SecurityHeaders())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(AuthMiddleware(AuthMiddlewareConfig{
		Auth:        cfg.Auth,
		Users:       cfg.Users,
		Metrics:     cfg.Metrics,
		Logger:      cfg.Logger,
		PublicPaths: cfg.PublicPaths,
	}))

	h := cfg.Handler

	r.GET("/health", h.Health)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// The auth middleware answers these before the handler runs; the routes
	// exist so the paths match and skip trailing-slash redirects.
	authHandler := gin.WrapH(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = cfg.Auth.HandleRequest(r).Send(w)
	}))
	r.Any(cfg.Auth.BasePath(), authHandler)
	r.Any(cfg.Auth.BasePath()+"/*action", authHandler)

	r.GET("/", h.Home)
	r.GET("/protected", RequireUser(cfg.Auth.SignInPage()), h.Protected)

	userRoutes := r.Group("/user")
	userRoutes.Use(RequireUser(cfg.Auth.SignInPage()))
	{
		userRoutes.GET("/profile", h.Profile)
		userRoutes.GET("/workspaces", h.Workspaces)
		userRoutes.POST("/avatar/upload-url", h.AvatarUploadURL)
	}

	return r
}
