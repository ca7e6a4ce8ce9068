package user

import "time"

// User is a local user record.
type User struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	Name            string      `json:"name"`
	Image           string      `json:"image"`
	EmailVerified   *time.Time  `json:"emailVerified"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	OwnedWorkspaces []Workspace `json:"ownedWorkspaces"`
}

// NewUser carries the fields needed to create a user from a provider profile.
type NewUser struct {
	Email         string
	Name          string
	Image         string
	EmailVerified *time.Time
}

// Account links a provider identity to a local user.
type Account struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Workspace is a top-level container owned by one user.
type Workspace struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project belongs to a workspace.
type Project struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
}

// APIKey is a stored API credential. Only the bcrypt hash of the secret is kept.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	Hash      string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
