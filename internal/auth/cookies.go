package auth

import (
	"net/http"
	"time"
)

// Session cookie names. The __Secure- variant is used when the application is
// served over HTTPS; both are cleared on sign-out.
const (
	SessionCookieName       = "authjs.session-token"
	SecureSessionCookieName = "__Secure-authjs.session-token"

	csrfCookieName  = "authjs.csrf-token"
	stateCookieName = "authjs.state"
)

// SessionCookieNames lists every cookie name a session token may use.
func SessionCookieNames() []string {
	return []string{SecureSessionCookieName, SessionCookieName}
}

// ClearSessionCookies expires both session cookie variants.
func ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range SessionCookieNames() {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			// Browsers drop __Secure- cookies that are not marked Secure.
			Secure:   name == SecureSessionCookieName,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// readSessionToken returns the session token from either cookie variant.
func readSessionToken(r *http.Request) string {
	for _, name := range SessionCookieNames() {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func (a *Adapter) sessionCookieName() string {
	if a.opts.SecureCookies {
		return SecureSessionCookieName
	}
	return SessionCookieName
}

func (a *Adapter) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.sessionCookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Adapter) setStateCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     a.opts.BasePath,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Adapter) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     a.opts.BasePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
