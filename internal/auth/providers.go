package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"oauthstarter/internal/config"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserInfoURL = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"
)

// ErrProfile wraps failures while reading the provider's user profile.
var ErrProfile = errors.New("profile fetch failed")

// ProfileFunc loads the signed-in identity using an authorized client.
type ProfileFunc func(ctx context.Context, client *http.Client, p *Provider) (*Profile, error)

// Provider is an OAuth 2.0 identity provider.
type Provider struct {
	ID          string
	Name        string
	OAuth       *oauth2.Config
	UserInfoURL string
	EmailsURL   string
	Profile     ProfileFunc
}

// NewProviders builds every provider with client credentials in cfg.
// redirectBase is the absolute URL of the auth base path.
func NewProviders(cfg config.AuthConfig, redirectBase string) []*Provider {
	var out []*Provider
	if cfg.Google.Enabled() {
		out = append(out, Google(cfg.Google, redirectBase))
	}
	if cfg.GitHub.Enabled() {
		out = append(out, GitHub(cfg.GitHub, redirectBase))
	}
	return out
}

// Google returns the Google OpenID Connect provider.
func Google(pc config.ProviderConfig, redirectBase string) *Provider {
	return &Provider{
		ID:          "google",
		Name:        "Google",
		OAuth:       oauthConfig("google", pc, endpoints.Google, redirectBase, "openid", "email", "profile"),
		UserInfoURL: orDefault(pc.UserInfoURL, googleUserInfoURL),
		Profile:     googleProfile,
	}
}

// GitHub returns the GitHub OAuth App provider.
func GitHub(pc config.ProviderConfig, redirectBase string) *Provider {
	return &Provider{
		ID:          "github",
		Name:        "GitHub",
		OAuth:       oauthConfig("github", pc, endpoints.GitHub, redirectBase, "read:user", "user:email"),
		UserInfoURL: orDefault(pc.UserInfoURL, githubUserInfoURL),
		EmailsURL:   orDefault(pc.EmailsURL, githubEmailsURL),
		Profile:     githubProfile,
	}
}

func oauthConfig(id string, pc config.ProviderConfig, ep oauth2.Endpoint, redirectBase string, scopes ...string) *oauth2.Config {
	if pc.AuthURL != "" {
		ep.AuthURL = pc.AuthURL
	}
	if pc.TokenURL != "" {
		ep.TokenURL = pc.TokenURL
	}
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint:     ep,
		RedirectURL:  redirectBase + "/callback/" + id,
		Scopes:       scopes,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProfile, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProfile, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProfile, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrProfile, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrProfile, err)
	}
	return nil
}

func googleProfile(ctx context.Context, client *http.Client, p *Provider) (*Profile, error) {
	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, p.UserInfoURL, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" || info.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrProfile)
	}
	return &Profile{
		ProviderAccountID: info.Sub,
		Email:             info.Email,
		EmailVerified:     info.EmailVerified,
		Name:              info.Name,
		Image:             info.Picture,
	}, nil
}

func githubProfile(ctx context.Context, client *http.Client, p *Provider) (*Profile, error) {
	var info struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, p.UserInfoURL, &info); err != nil {
		return nil, err
	}
	if info.ID == 0 {
		return nil, fmt.Errorf("%w: missing id", ErrProfile)
	}

	prof := &Profile{
		ProviderAccountID: strconv.FormatInt(info.ID, 10),
		Email:             info.Email,
		Name:              orDefault(info.Name, info.Login),
		Image:             info.AvatarURL,
	}

	// Private emails are absent from /user; ask the emails endpoint.
	if p.EmailsURL != "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, p.EmailsURL, &emails); err == nil {
			for _, e := range emails {
				if e.Primary {
					prof.Email = e.Email
					prof.EmailVerified = e.Verified
					break
				}
			}
		} else if prof.Email == "" {
			return nil, err
		}
	}

	if prof.Email == "" {
		return nil, fmt.Errorf("%w: no email on account", ErrProfile)
	}
	return prof, nil
}
