package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Profile is the identity a provider returns after a successful exchange.
type Profile struct {
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	Name              string
	Image             string
}

// SessionUser is the user part of the session endpoint payload.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// SessionPayload is the body of a successful GET {basePath}/session.
type SessionPayload struct {
	User    *SessionUser `json:"user"`
	Expires time.Time    `json:"expires"`
}

// Claims are carried by the session token. Subject is the local user id and
// SessionID names the server-side session record.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Picture   string `json:"picture,omitempty"`
	SessionID string `json:"sid"`
}

// stateClaims travel in the state cookie between sign-in and callback.
type stateClaims struct {
	jwt.RegisteredClaims
	State        string `json:"state"`
	Provider     string `json:"provider"`
	CodeVerifier string `json:"code_verifier"`
	CallbackURL  string `json:"callback_url,omitempty"`
}

// ProviderInfo describes a configured provider on GET {basePath}/providers.
type ProviderInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SignInURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}
