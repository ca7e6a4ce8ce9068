// Package auth is the OAuth sign-in adapter. It owns every route under its
// base path, issues signed session tokens backed by server-side session
// records, and links provider identities to local users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"oauthstarter/internal/session"
	"oauthstarter/internal/user"
)

var (
	// ErrUnknownProvider is returned for provider ids that are not configured
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnauthenticated is returned when the request carries no valid session
	ErrUnauthenticated = errors.New("unauthenticated")
)

const (
	stateTTL          = 15 * time.Minute
	httpClientTimeout = 10 * time.Second
)

// UserStore is the subset of the user store the adapter needs to link
// provider identities.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByAccount(ctx context.Context, provider, providerAccountID string) (*user.User, error)
	Create(ctx context.Context, nu user.NewUser) (*user.User, error)
	LinkAccount(ctx context.Context, userID, provider, providerAccountID string) error
}

// Adapter serves the auth routes.
type Adapter struct {
	opts       Options
	providers  map[string]*Provider
	order      []*Provider
	users      UserStore
	sessions   session.Manager
	tokens     tokenCodec
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Adapter. The secret must be non-empty.
func New(opts Options, users UserStore, sessions session.Manager, logger *slog.Logger) (*Adapter, error) {
	if opts.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	if users == nil || sessions == nil {
		return nil, errors.New("auth: user store and session manager are required")
	}
	if opts.AppURL == "" && !opts.TrustHost {
		return nil, errors.New("auth: app URL is required unless the host is trusted")
	}
	opts.setDefaults()
	opts.BasePath = "/" + strings.Trim(opts.BasePath, "/")

	a := &Adapter{
		opts:       opts,
		providers:  make(map[string]*Provider, len(opts.Providers)),
		users:      users,
		sessions:   sessions,
		httpClient: &http.Client{Timeout: httpClientTimeout},
		logger:     logger,
		now:        time.Now,
	}
	a.tokens = tokenCodec{secret: []byte(opts.Secret), now: func() time.Time { return a.now() }}

	for _, p := range opts.Providers {
		if _, dup := a.providers[p.ID]; dup {
			return nil, fmt.Errorf("auth: duplicate provider %q", p.ID)
		}
		a.providers[p.ID] = p
		a.order = append(a.order, p)
	}
	return a, nil
}

// BasePath returns the path prefix the adapter owns.
func (a *Adapter) BasePath() string {
	return a.opts.BasePath
}

// SignInPage returns the configured sign-in page path.
func (a *Adapter) SignInPage() string {
	return a.opts.Pages.SignIn
}

// Owns reports whether path is served by the adapter.
func (a *Adapter) Owns(path string) bool {
	return path == a.opts.BasePath || strings.HasPrefix(path, a.opts.BasePath+"/")
}

// origin is the public origin redirect URIs are built on: the configured app
// URL, or the request's own host when the host is trusted.
func (a *Adapter) origin(r *http.Request) string {
	if a.opts.AppURL != "" {
		return a.opts.AppURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host, _, _ = strings.Cut(fwd, ",")
		host = strings.TrimSpace(host)
	}
	return scheme + "://" + host
}

// oauthConfig returns the provider config with its redirect URI bound to the
// request origin when no app URL is configured.
func (a *Adapter) oauthConfig(p *Provider, r *http.Request) *oauth2.Config {
	if a.opts.AppURL != "" {
		return p.OAuth
	}
	cfg := *p.OAuth
	cfg.RedirectURL = a.origin(r) + a.opts.BasePath + "/callback/" + p.ID
	return &cfg
}

// ServeHTTP implements http.Handler.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = a.HandleRequest(r).Send(w)
}

// HandleRequest runs the auth action addressed by r and returns the buffered
// response. Paths outside the base path get a 404; failures inside an action
// become a JSON 500.
func (a *Adapter) HandleRequest(r *http.Request) (resp *Response) {
	resp = NewResponse()

	if !a.Owns(r.URL.Path) {
		resp.WriteHeader(http.StatusNotFound)
		return resp
	}

	defer func() {
		if rec := recover(); rec != nil {
			a.logger.ErrorContext(r.Context(), "auth action panicked", "path", r.URL.Path, "panic", rec)
			resp.reset()
			writeJSON(resp, http.StatusInternalServerError, map[string]string{"error": "Authentication error"})
		}
	}()

	if err := a.dispatch(resp, r); err != nil {
		a.logger.ErrorContext(r.Context(), "auth action failed", "path", r.URL.Path, "error", err)
		resp.reset()
		writeJSON(resp, http.StatusInternalServerError, map[string]string{"error": "Authentication error"})
	}
	return resp
}

func (a *Adapter) dispatch(w *Response, r *http.Request) error {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, a.opts.BasePath), "/")
	name, arg, _ := strings.Cut(action, "/")

	if a.opts.Debug {
		a.logger.InfoContext(r.Context(), "auth action", "action", name, "arg", arg, "method", r.Method)
	}

	switch {
	case name == "signin" && arg == "":
		return allow(w, r, a.handleSignInPage, http.MethodGet)
	case name == "signin":
		return allow(w, r, func(w http.ResponseWriter, r *http.Request) error {
			return a.handleSignIn(w, r, arg)
		}, http.MethodGet, http.MethodPost)
	case name == "callback" && arg != "":
		return allow(w, r, func(w http.ResponseWriter, r *http.Request) error {
			return a.handleCallback(w, r, arg)
		}, http.MethodGet)
	case name == "session" && arg == "":
		return allow(w, r, a.handleSession, http.MethodGet)
	case name == "signout" && arg == "":
		if r.Method == http.MethodPost {
			return a.handleSignOut(w, r)
		}
		return allow(w, r, a.handleSignOutPage, http.MethodGet)
	case name == "csrf" && arg == "":
		return allow(w, r, a.handleCSRF, http.MethodGet)
	case name == "providers" && arg == "":
		return allow(w, r, a.handleProviders, http.MethodGet)
	case name == "error" && arg == "":
		return allow(w, r, a.handleErrorPage, http.MethodGet)
	case name == "verify-request" && arg == "":
		return allow(w, r, a.handleVerifyRequestPage, http.MethodGet)
	}

	writeText(w, http.StatusNotFound, "Not Found")
	return nil
}

func allow(w http.ResponseWriter, r *http.Request, h func(http.ResponseWriter, *http.Request) error, methods ...string) error {
	for _, m := range methods {
		if r.Method == m {
			return h(w, r)
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	return nil
}

// CurrentSession validates the session token on r and returns its claims and
// the stored session record.
func (a *Adapter) CurrentSession(ctx context.Context, r *http.Request) (*Claims, *session.Session, error) {
	claims, err := a.tokens.parseSession(readSessionToken(r))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sess, err := a.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrInvalidSession) {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil, nil, err
	}
	if sess.UserID != claims.Subject {
		return nil, nil, fmt.Errorf("%w: session belongs to another user", ErrUnauthenticated)
	}
	return claims, sess, nil
}
