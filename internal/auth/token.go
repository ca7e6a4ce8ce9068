package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionAudience = "authjs.session"
	stateAudience   = "authjs.state"
)

// ErrInvalidToken is returned for tokens that fail signature, audience or
// expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// tokenCodec signs and verifies the HS256 tokens used for sessions and
// OAuth state.
type tokenCodec struct {
	secret []byte
	now    func() time.Time
}

func (c tokenCodec) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (c tokenCodec) parse(token, audience string, claims jwt.Claims) error {
	if token == "" {
		return ErrInvalidToken
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// issueSession builds a session token for the given identity.
func (c tokenCodec) issueSession(userID, sessionID, email, name, picture string, expiresAt time.Time) (string, error) {
	now := c.now()
	return c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        sessionID,
		},
		Email:     email,
		Name:      name,
		Picture:   picture,
		SessionID: sessionID,
	})
}

func (c tokenCodec) parseSession(token string) (*Claims, error) {
	var claims Claims
	if err := c.parse(token, sessionAudience, &claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session id", ErrInvalidToken)
	}
	return &claims, nil
}

func (c tokenCodec) issueState(st stateClaims, ttl time.Duration) (string, error) {
	now := c.now()
	st.Audience = jwt.ClaimStrings{stateAudience}
	st.IssuedAt = jwt.NewNumericDate(now)
	st.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return c.sign(st)
}

func (c tokenCodec) parseState(token string) (*stateClaims, error) {
	var st stateClaims
	if err := c.parse(token, stateAudience, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
