package web

import (
	"oauthstarter/internal/auth"
	"oauthstarter/internal/user"
)

// MergeUser combines the identity reported by the auth session with the
// local record. Identity fields come from the session payload, the image
// falls back to the local one, and everything else is local.
func MergeUser(external *auth.SessionUser, local *user.User) *user.User {
	if external == nil || local == nil {
		return nil
	}

	merged := &user.User{
		ID:              external.ID,
		Email:           external.Email,
		Name:            external.Name,
		Image:           external.Image,
		EmailVerified:   local.EmailVerified,
		CreatedAt:       local.CreatedAt,
		UpdatedAt:       local.UpdatedAt,
		OwnedWorkspaces: local.OwnedWorkspaces,
	}
	if merged.Image == "" {
		merged.Image = local.Image
	}
	if merged.OwnedWorkspaces == nil {
		merged.OwnedWorkspaces = []user.Workspace{}
	}
	return merged
}
