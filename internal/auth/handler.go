package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"oauthstarter/internal/user"
)

// handleSignInPage handles GET {basePath}/signin
func (a *Adapter) handleSignInPage(w http.ResponseWriter, r *http.Request) error {
	callbackURL := a.safeCallbackURL(r.URL.Query().Get("callbackUrl"))

	links := make([]providerLink, 0, len(a.order))
	for _, p := range a.order {
		links = append(links, providerLink{
			Name: p.Name,
			URL:  a.opts.BasePath + "/signin/" + p.ID + "?callbackUrl=" + url.QueryEscape(callbackURL),
		})
	}
	return a.render(w, http.StatusOK, "signin", pageData{
		Title:     "Sign in",
		Providers: links,
		Error:     errorMessage(r.URL.Query().Get("error")),
	})
}

// handleSignIn handles GET and POST {basePath}/signin/{provider}. It stores
// the OAuth state and PKCE verifier in a signed cookie and redirects to the
// provider's authorize URL.
func (a *Adapter) handleSignIn(w http.ResponseWriter, r *http.Request, providerID string) error {
	p, ok := a.providers[providerID]
	if !ok {
		writeText(w, http.StatusNotFound, "Authentication failed: "+ErrUnknownProvider.Error())
		return nil
	}

	rawCallback := r.URL.Query().Get("callbackUrl")
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeText(w, http.StatusBadRequest, "Authentication failed: Invalid form")
			return nil
		}
		if !a.validCSRF(r, r.PostForm.Get("csrfToken")) {
			redirect(w, a.opts.Pages.SignIn+"?csrf=true")
			return nil
		}
		if v := r.PostForm.Get("callbackUrl"); v != "" {
			rawCallback = v
		}
	}

	state := randomHex(16)
	verifier := oauth2.GenerateVerifier()
	cookie, err := a.tokens.issueState(stateClaims{
		State:        state,
		Provider:     p.ID,
		CodeVerifier: verifier,
		CallbackURL:  a.safeCallbackURL(rawCallback),
	}, stateTTL)
	if err != nil {
		return err
	}

	a.setStateCookie(w, cookie, stateTTL)
	redirect(w, a.oauthConfig(p, r).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)))
	return nil
}

// handleCallback handles GET {basePath}/callback/{provider}
func (a *Adapter) handleCallback(w http.ResponseWriter, r *http.Request, providerID string) error {
	ctx := r.Context()
	q := r.URL.Query()

	p, ok := a.providers[providerID]
	if !ok {
		writeText(w, http.StatusNotFound, "Authentication failed: "+ErrUnknownProvider.Error())
		return nil
	}

	if providerErr := q.Get("error"); providerErr != "" {
		a.logger.WarnContext(ctx, "provider returned an error", "provider", p.ID, "error", providerErr,
			"description", q.Get("error_description"))
		a.clearStateCookie(w)
		redirect(w, a.opts.Pages.Error+"?error=AccessDenied")
		return nil
	}

	code := q.Get("code")
	if code == "" {
		writeText(w, http.StatusBadRequest, "Authentication failed: No code provided")
		return nil
	}

	st, err := a.readState(r, p.ID, q.Get("state"))
	if err != nil {
		a.logger.WarnContext(ctx, "oauth state rejected", "provider", p.ID, "error", err)
		writeText(w, http.StatusBadRequest, "Authentication failed: Invalid state")
		return nil
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	token, err := a.oauthConfig(p, r).Exchange(exchangeCtx, code, oauth2.VerifierOption(st.CodeVerifier))
	if err != nil {
		a.logger.WarnContext(ctx, "token exchange failed", "provider", p.ID, "error", err)
		writeText(w, http.StatusBadRequest, "Authentication failed: Token exchange error: "+exchangeErrorBody(err))
		return nil
	}

	profile, err := p.Profile(ctx, p.OAuth.Client(exchangeCtx, token), p)
	if err != nil {
		a.logger.WarnContext(ctx, "profile fetch failed", "provider", p.ID, "error", err)
		writeText(w, http.StatusBadRequest, "Authentication failed: "+err.Error())
		return nil
	}

	u, isNewUser, err := a.resolveUser(ctx, p.ID, profile)
	if err != nil {
		return err
	}

	if cb := a.opts.Callbacks.SignIn; cb != nil {
		allowed, err := cb(ctx, u, p.ID, profile)
		if err != nil {
			return fmt.Errorf("sign-in callback: %w", err)
		}
		if !allowed {
			a.clearStateCookie(w)
			redirect(w, a.opts.Pages.Error+"?error=AccessDenied")
			return nil
		}
	}

	// Runs for returning users too, so a user whose first provisioning
	// failed is completed on the next sign-in.
	if a.opts.Events.CreateUser != nil {
		if err := a.opts.Events.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("create user event: %w", err)
		}
	}

	sess, err := a.sessions.Create(ctx, u.ID, a.opts.SessionMaxAge)
	if err != nil {
		return err
	}
	image := profile.Image
	if image == "" {
		image = u.Image
	}
	sessionToken, err := a.tokens.issueSession(u.ID, sess.ID, u.Email, u.Name, image, sess.ExpiresAt)
	if err != nil {
		return err
	}

	a.setSessionCookie(w, sessionToken, sess.ExpiresAt)
	a.clearStateCookie(w)
	if ev := a.opts.Events.SignIn; ev != nil {
		ev(ctx, u, p.ID, isNewUser)
	}
	redirect(w, a.safeCallbackURL(st.CallbackURL))
	return nil
}

func (a *Adapter) readState(r *http.Request, providerID, state string) (*stateClaims, error) {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return nil, errors.New("missing state cookie")
	}
	st, err := a.tokens.parseState(c.Value)
	if err != nil {
		return nil, err
	}
	if st.Provider != providerID {
		return nil, errors.New("state issued for another provider")
	}
	if state == "" || state != st.State {
		return nil, errors.New("state mismatch")
	}
	return st, nil
}

func exchangeErrorBody(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && len(re.Body) > 0 {
		return string(re.Body)
	}
	return err.Error()
}

// resolveUser finds the local user for a provider identity, linking by email
// or creating the user when needed. The bool reports a newly created user.
func (a *Adapter) resolveUser(ctx context.Context, providerID string, prof *Profile) (*user.User, bool, error) {
	u, err := a.users.GetByAccount(ctx, providerID, prof.ProviderAccountID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return nil, false, err
	}

	isNew := false
	u, err = a.users.GetByEmail(ctx, prof.Email)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		nu := user.NewUser{Email: prof.Email, Name: prof.Name, Image: prof.Image}
		if prof.EmailVerified {
			now := a.now()
			nu.EmailVerified = &now
		}
		u, err = a.users.Create(ctx, nu)
		if errors.Is(err, user.ErrEmailExists) {
			// Lost a race with a concurrent sign-in for the same email.
			u, err = a.users.GetByEmail(ctx, prof.Email)
		} else if err == nil {
			isNew = true
		}
		if err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	}

	if err := a.users.LinkAccount(ctx, u.ID, providerID, prof.ProviderAccountID); err != nil {
		return nil, false, err
	}
	return u, isNew, nil
}

// handleSession handles GET {basePath}/session
func (a *Adapter) handleSession(w http.ResponseWriter, r *http.Request) error {
	claims, sess, err := a.CurrentSession(r.Context(), r)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			if a.opts.Debug {
				a.logger.InfoContext(r.Context(), "no valid session", "error", err)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return nil
		}
		return err
	}

	payload := &SessionPayload{
		User: &SessionUser{
			Email: claims.Email,
			Name:  claims.Name,
			Image: claims.Picture,
		},
		Expires: sess.ExpiresAt.UTC(),
	}
	if cb := a.opts.Callbacks.Session; cb != nil {
		payload = cb(r.Context(), payload, claims)
	} else {
		payload.User.ID = claims.Subject
	}

	writeJSON(w, http.StatusOK, payload)
	return nil
}

// handleSignOutPage handles GET {basePath}/signout
func (a *Adapter) handleSignOutPage(w http.ResponseWriter, r *http.Request) error {
	return a.render(w, http.StatusOK, "signout", pageData{
		Title:       "Sign out",
		Action:      a.opts.BasePath + "/signout",
		CSRFToken:   a.csrfToken(w, r),
		CallbackURL: a.safeCallbackURL(r.URL.Query().Get("callbackUrl")),
	})
}

// handleSignOut handles POST {basePath}/signout. The stored session is
// deleted, so the token stops working even if a copy survives.
func (a *Adapter) handleSignOut(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid form")
		return nil
	}
	if !a.validCSRF(r, r.PostForm.Get("csrfToken")) {
		writeText(w, http.StatusForbidden, "Invalid CSRF token")
		return nil
	}

	claims, err := a.tokens.parseSession(readSessionToken(r))
	if err == nil {
		if err := a.sessions.Delete(ctx, claims.SessionID); err != nil {
			a.logger.WarnContext(ctx, "failed to delete session", "session_id", claims.SessionID, "error", err)
		}
	} else {
		claims = nil
	}

	if ev := a.opts.Events.SignOut; ev != nil {
		ev(ctx, claims)
	}
	ClearSessionCookies(w)
	redirect(w, a.safeCallbackURL(r.PostForm.Get("callbackUrl")))
	return nil
}

// handleCSRF handles GET {basePath}/csrf
func (a *Adapter) handleCSRF(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": a.csrfToken(w, r)})
	return nil
}

// handleProviders handles GET {basePath}/providers
func (a *Adapter) handleProviders(w http.ResponseWriter, r *http.Request) error {
	out := make(map[string]ProviderInfo, len(a.order))
	for _, p := range a.order {
		out[p.ID] = ProviderInfo{
			ID:          p.ID,
			Name:        p.Name,
			Type:        "oauth",
			SignInURL:   a.origin(r) + a.opts.BasePath + "/signin/" + p.ID,
			CallbackURL: a.oauthConfig(p, r).RedirectURL,
		}
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

// handleErrorPage handles GET {basePath}/error
func (a *Adapter) handleErrorPage(w http.ResponseWriter, r *http.Request) error {
	code := r.URL.Query().Get("error")
	status := http.StatusOK
	switch code {
	case "Configuration":
		status = http.StatusInternalServerError
	case "AccessDenied", "Verification":
		status = http.StatusForbidden
	}
	return a.render(w, status, "error", pageData{
		Title:   "Error",
		Error:   errorMessage(code),
		HomeURL: "/",
	})
}

// handleVerifyRequestPage handles GET {basePath}/verify-request
func (a *Adapter) handleVerifyRequestPage(w http.ResponseWriter, _ *http.Request) error {
	return a.render(w, http.StatusOK, "verify-request", pageData{
		Title:   "Verify request",
		HomeURL: "/",
	})
}

// safeCallbackURL keeps redirects on this application. Relative paths and
// absolute URLs on the application origin pass; anything else becomes "/".
func (a *Adapter) safeCallbackURL(raw string) string {
	if raw == "" {
		return "/"
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || a.opts.AppURL == "" {
		return "/"
	}
	app, err := url.Parse(a.opts.AppURL)
	if err != nil || u.Scheme != app.Scheme || u.Host != app.Host {
		return "/"
	}
	return raw
}

func errorMessage(code string) string {
	switch code {
	case "":
		return ""
	case "Configuration":
		return "There is a problem with the server configuration."
	case "AccessDenied":
		return "You do not have permission to sign in."
	case "Verification":
		return "The sign in link is no longer valid."
	default:
		return "Unable to sign in."
	}
}
