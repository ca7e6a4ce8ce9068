package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"oauthstarter/internal/auth"
	"oauthstarter/internal/metrics"
	"oauthstarter/internal/session"
	"oauthstarter/internal/user"
)

// ContentSecurityPolicy is sent on every response.
const ContentSecurityPolicy = "default-src 'self'; img-src 'self' https://authjs.dev data:; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline';"

// DefaultPublicPaths bypass the auth middleware. Entries ending in "/" match
// as prefixes.
var DefaultPublicPaths = []string{"/health", "/metrics", "/static/", "/favicon.ico"}

// AuthHandler is the auth adapter as seen by the middleware.
type AuthHandler interface {
	HandleRequest(r *http.Request) *auth.Response
	Owns(path string) bool
	BasePath() string
	SignInPage() string
}

// UserLookup finds local users by email.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
}

// AuthMiddlewareConfig wires the auth middleware.
type AuthMiddlewareConfig struct {
	Auth        AuthHandler
	Users       UserLookup
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	PublicPaths []string
	Now         func() time.Time
}

// AuthMiddleware resolves the session of every request. Requests under the
// auth base path are answered by the adapter. Others are checked against
// the adapter's session endpoint and, when signed in, reconciled with the
// local user record.
func AuthMiddleware(cfg AuthMiddlewareConfig) gin.HandlerFunc {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PublicPaths == nil {
		cfg.PublicPaths = DefaultPublicPaths
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if cfg.Auth.Owns(path) {
			cfg.Metrics.AuthOutcome(metrics.OutcomeDelegated)
			if err := cfg.Auth.HandleRequest(c.Request).Send(c.Writer); err != nil {
				_ = c.Error(err)
			}
			c.Abort()
			return
		}

		if isPublic(path, cfg.PublicPaths) {
			cfg.Metrics.AuthOutcome(metrics.OutcomePublic)
			c.Next()
			return
		}

		ac := appContext(c)
		ctx := c.Request.Context()
		log := cfg.Logger.With("request_id", c.GetString(requestIDKey), "path", path)

		check, err := sessionRequest(c.Request, cfg.Auth.BasePath())
		if err != nil {
			log.ErrorContext(ctx, "Failed to build session check", "error", err)
			cfg.Metrics.AuthOutcome(metrics.OutcomeLookupError)
			c.Next()
			return
		}

		resp := cfg.Auth.HandleRequest(check)
		if resp.Status() != http.StatusOK {
			cfg.Metrics.AuthOutcome(metrics.OutcomeRedirected)
			c.Redirect(http.StatusFound, SignInURL(cfg.Auth.SignInPage(), path))
			c.Abort()
			return
		}

		var payload auth.SessionPayload
		if err := json.Unmarshal(resp.Body(), &payload); err != nil || payload.User == nil || payload.User.Email == "" {
			log.WarnContext(ctx, "Unreadable session payload", "error", err)
			cfg.Metrics.AuthOutcome(metrics.OutcomeLookupError)
			c.Next()
			return
		}

		local, err := cfg.Users.GetByEmail(ctx, payload.User.Email)
		switch {
		case errors.Is(err, user.ErrUserNotFound):
			// The provider session outlived the local record.
			log.WarnContext(ctx, "Session user has no local record, signing out", "user_id", payload.User.ID)
			cfg.Metrics.AuthOutcome(metrics.OutcomeForcedSignOut)
			auth.ClearSessionCookies(c.Writer)
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		case err != nil:
			log.ErrorContext(ctx, "User lookup failed", "error", err)
			cfg.Metrics.AuthOutcome(metrics.OutcomeLookupError)
			c.Next()
			return
		}

		ac.User = MergeUser(payload.User, local)
		ac.Session = &session.Session{
			UserID:    payload.User.ID,
			CreatedAt: cfg.Now(),
		}
		c.Set("user_id", ac.User.ID)
		cfg.Metrics.AuthOutcome(metrics.OutcomeAuthenticated)
		c.Next()
	}
}

// sessionRequest builds the internal session check for r, carrying its
// headers so the session cookie reaches the adapter.
func sessionRequest(r *http.Request, basePath string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, basePath+"/session", nil)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	req.Host = r.Host
	req.RemoteAddr = r.RemoteAddr
	return req, nil
}

// SignInURL builds the sign-in redirect for the given original path.
func SignInURL(signInPage, path string) string {
	return signInPage + "?callbackUrl=" + strings.ReplaceAll(url.QueryEscape(path), "+", "%20")
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// RequireUser redirects to sign-in when the request has no signed-in user.
func RequireUser(signInPage string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.Redirect(http.StatusFound, SignInURL(signInPage, c.Request.URL.Path))
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeaders sets the Content-Security-Policy and related headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Content-Security-Policy", ContentSecurityPolicy)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RequestIDMiddleware assigns a request id, reusing a valid inbound one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()
	}
}

// LoggingMiddleware logs every request with structured attributes
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", float64(latency.Microseconds()) / 1000,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"response_size", c.Writer.Size(),
		}

		if query := redactQuery(c.Request.URL.Query()); query != "" {
			attrs = append(attrs, "query", query)
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			attrs = append(attrs, "trace_id", sc.TraceID().String())
		}
		if userID := c.GetString("user_id"); userID != "" {
			attrs = append(attrs, "user_id", userID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			logger.ErrorContext(ctx, "Request failed - server error", attrs...)
		case status >= 400:
			logger.WarnContext(ctx, "Request failed - client error", attrs...)
		default:
			logger.InfoContext(ctx, "Request completed", attrs...)
		}
	}
}

// redactedParams never reach the request log.
var redactedParams = []string{"code", "state", "csrfToken"}

func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	for _, name := range redactedParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
		}
	}
	return q.Encode()
}

// MetricsMiddleware records request counts and latency by route template.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
