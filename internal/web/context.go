package web

import (
	"context"

	"github.com/gin-gonic/gin"

	"oauthstarter/internal/session"
	"oauthstarter/internal/user"
)

const (
	appContextKey = "app_context"
	requestIDKey  = "request_id"
)

type ctxKey struct{}

// AppContext is the per-request authentication state. When User is set,
// Session is set too and Session.UserID equals User.ID.
type AppContext struct {
	Session *session.Session
	User    *user.User
}

// appContext returns the request's AppContext, creating it on first use.
func appContext(c *gin.Context) *AppContext {
	if v, ok := c.Get(appContextKey); ok {
		if ac, ok := v.(*AppContext); ok {
			return ac
		}
	}
	ac := &AppContext{}
	c.Set(appContextKey, ac)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, ac))
	return ac
}

// CurrentUser returns the signed-in user for the request, or nil.
func CurrentUser(c *gin.Context) *user.User {
	return appContext(c).User
}

// CurrentSession returns the session for the request, or nil.
func CurrentSession(c *gin.Context) *session.Session {
	return appContext(c).Session
}

// FromContext returns the AppContext stored on a request context, or nil.
func FromContext(ctx context.Context) *AppContext {
	ac, _ := ctx.Value(ctxKey{}).(*AppContext)
	return ac
}
