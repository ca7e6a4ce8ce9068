package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultWorkspaceName names the workspace every user starts with
	DefaultWorkspaceName = "Personal"
	// DefaultProjectName names the project created inside the default workspace
	DefaultProjectName = "Default Project"
	// DefaultAPIKeyName names the API key issued on first sign-in
	DefaultAPIKeyName = "default"

	apiKeyPrefix    = "sk_"
	apiKeyPrefixLen = 11
)

// Provisioned describes the default resources of a user after provisioning.
type Provisioned struct {
	Workspace *Workspace
	Project   *Project
	// APIKey is the plaintext key, set only when this call created it.
	APIKey string
}

// Provisioner creates the default workspace, project and API key for a user.
// Every step is find-or-create, so running it again for the same user is safe.
type Provisioner struct {
	store  ProvisioningStore
	logger *slog.Logger
}

// NewProvisioner creates a new Provisioner
func NewProvisioner(store ProvisioningStore, logger *slog.Logger) *Provisioner {
	return &Provisioner{store: store, logger: logger}
}

// Provision ensures u owns the default resources.
func (p *Provisioner) Provision(ctx context.Context, u *User) (*Provisioned, error) {
	if u == nil || u.ID == "" {
		return nil, errors.New("provision: user id is required")
	}

	ws, created, err := p.store.EnsureWorkspace(ctx, u.ID, DefaultWorkspaceName)
	if err != nil {
		return nil, fmt.Errorf("provision workspace: %w", err)
	}
	if created {
		p.logger.Info("Created default workspace", "user_id", u.ID, "workspace_id", ws.ID)
	}

	project, created, err := p.store.EnsureProject(ctx, ws.ID, DefaultProjectName)
	if err != nil {
		return nil, fmt.Errorf("provision project: %w", err)
	}
	if created {
		p.logger.Info("Created default project", "user_id", u.ID, "project_id", project.ID)
	}

	out := &Provisioned{Workspace: ws, Project: project}

	_, err = p.store.GetAPIKey(ctx, u.ID, DefaultAPIKeyName)
	switch {
	case err == nil:
		return out, nil
	case !errors.Is(err, ErrAPIKeyNotFound):
		return nil, fmt.Errorf("provision api key: %w", err)
	}

	plaintext, key, err := newAPIKey(u.ID, DefaultAPIKeyName)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	created, err = p.store.CreateAPIKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("provision api key: %w", err)
	}
	if created {
		p.logger.Info("Created default API key", "user_id", u.ID, "prefix", key.Prefix)
		out.APIKey = plaintext
	}

	return out, nil
}

// newAPIKey generates a random key and its stored representation.
func newAPIKey(userID, name string) (string, *APIKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	return plaintext, &APIKey{
		UserID: userID,
		Name:   name,
		Prefix: plaintext[:apiKeyPrefixLen],
		Hash:   string(hash),
	}, nil
}
