package auth

import (
	"context"
	"log/slog"
	"time"

	"oauthstarter/internal/config"
	"oauthstarter/internal/metrics"
	"oauthstarter/internal/user"
)

// DefaultBasePath is where the adapter serves its actions.
const DefaultBasePath = "/auth"

// Pages overrides the built-in page locations.
type Pages struct {
	SignIn        string
	Error         string
	VerifyRequest string
}

// Callbacks let the application veto sign-ins and shape the session payload.
type Callbacks struct {
	SignIn  func(ctx context.Context, u *user.User, provider string, profile *Profile) (bool, error)
	Session func(ctx context.Context, payload *SessionPayload, claims *Claims) *SessionPayload
}

// Events are notified after the fact. CreateUser ensures the user's default
// resources and runs on every successful callback before the session is
// issued, so it must be idempotent. Its errors abort sign-in.
type Events struct {
	CreateUser func(ctx context.Context, u *user.User) error
	SignIn     func(ctx context.Context, u *user.User, provider string, isNewUser bool)
	SignOut    func(ctx context.Context, claims *Claims)
}

// Options configures an Adapter.
type Options struct {
	Providers     []*Provider
	BasePath      string
	AppURL        string
	Secret        string
	SessionMaxAge time.Duration
	Pages         Pages
	Debug         bool
	TrustHost     bool
	SecureCookies bool
	Callbacks     Callbacks
	Events        Events
}

// NewOptions builds the adapter options for the application: Google and
// GitHub providers, JWT sessions, and provisioning on user creation.
func NewOptions(cfg *config.Config, provisioner *user.Provisioner, m *metrics.Metrics, logger *slog.Logger) Options {
	return Options{
		Providers:     NewProviders(cfg.Auth, cfg.App.URL+DefaultBasePath),
		BasePath:      DefaultBasePath,
		AppURL:        cfg.App.URL,
		Secret:        cfg.Auth.Secret,
		SessionMaxAge: cfg.Auth.SessionMaxAge,
		Pages: Pages{
			Error:         DefaultBasePath + "/error",
			VerifyRequest: DefaultBasePath + "/verify-request",
		},
		Debug:         cfg.Auth.Debug,
		TrustHost:     cfg.Auth.TrustHost,
		SecureCookies: cfg.SecureCookies(),
		Callbacks: Callbacks{
			SignIn: func(ctx context.Context, u *user.User, provider string, _ *Profile) (bool, error) {
				logger.InfoContext(ctx, "sign in", "user_id", u.ID, "provider", provider)
				return true, nil
			},
			Session: func(_ context.Context, payload *SessionPayload, claims *Claims) *SessionPayload {
				if payload.User != nil {
					payload.User.ID = claims.Subject
				}
				return payload
			},
		},
		Events: Events{
			CreateUser: func(ctx context.Context, u *user.User) error {
				res, err := provisioner.Provision(ctx, u)
				m.ProvisionResult(err)
				if err != nil {
					return err
				}
				logger.InfoContext(ctx, "user provisioned",
					"user_id", u.ID,
					"workspace_id", res.Workspace.ID,
					"project_id", res.Project.ID,
					"api_key_created", res.APIKey != "",
				)
				return nil
			},
			SignOut: func(ctx context.Context, claims *Claims) {
				if claims == nil {
					logger.InfoContext(ctx, "sign out without session")
					return
				}
				logger.InfoContext(ctx, "sign out", "user_id", claims.Subject, "session_id", claims.SessionID)
			},
		},
	}
}

func (o *Options) setDefaults() {
	if o.BasePath == "" {
		o.BasePath = DefaultBasePath
	}
	if o.SessionMaxAge <= 0 {
		o.SessionMaxAge = 30 * 24 * time.Hour
	}
	if o.Pages.SignIn == "" {
		o.Pages.SignIn = o.BasePath + "/signin"
	}
	if o.Pages.Error == "" {
		o.Pages.Error = o.BasePath + "/error"
	}
	if o.Pages.VerifyRequest == "" {
		o.Pages.VerifyRequest = o.BasePath + "/verify-request"
	}
}
