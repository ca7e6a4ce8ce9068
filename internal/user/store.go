// Package user is the local user store: users, linked provider accounts, and
// the workspaces, projects and API keys created for them on first sign-in.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"oauthstarter/internal/database"
	"oauthstarter/internal/session"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailExists is returned when creating a user whose email is taken
	ErrEmailExists = errors.New("email already registered")
	// ErrAPIKeyNotFound is returned when no API key matches the lookup
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// Store defines the user data-access operations.
type Store interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetBySession(ctx context.Context, sess *session.Session) (*User, error)
	GetByAccount(ctx context.Context, provider, providerAccountID string) (*User, error)
	Create(ctx context.Context, nu NewUser) (*User, error)
	LinkAccount(ctx context.Context, userID, provider, providerAccountID string) error
	ListProjects(ctx context.Context, workspaceID string) ([]Project, error)
	ProvisioningStore
}

// ProvisioningStore is the find-or-create surface used by the Provisioner.
type ProvisioningStore interface {
	// EnsureWorkspace returns the owner's workspace with the given name,
	// creating it when absent. created reports whether a row was inserted.
	EnsureWorkspace(ctx context.Context, ownerID, name string) (ws *Workspace, created bool, err error)
	EnsureProject(ctx context.Context, workspaceID, name string) (p *Project, created bool, err error)
	GetAPIKey(ctx context.Context, userID, name string) (*APIKey, error)
	// CreateAPIKey inserts key unless the user already has a key of that name.
	CreateAPIKey(ctx context.Context, key *APIKey) (created bool, err error)
}

type pgStore struct {
	db database.Service
}

// NewStore creates a PostgreSQL-backed user store.
func NewStore(db database.Service) Store {
	return &pgStore{db: db}
}

const userColumns = `id, email, name, image, email_verified, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByID retrieves a user and their owned workspaces by id
func (s *pgStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return s.withWorkspaces(ctx, u)
}

// GetByEmail retrieves a user by email, case-insensitively
func (s *pgStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrUserNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	u, err := scanUser(s.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return s.withWorkspaces(ctx, u)
}

// GetBySession resolves the session owner. A nil session, or one without a
// user id, yields (nil, nil).
func (s *pgStore) GetBySession(ctx context.Context, sess *session.Session) (*User, error) {
	if sess == nil || sess.UserID == "" {
		return nil, nil
	}
	return s.GetByID(ctx, sess.UserID)
}

// GetByAccount retrieves the user linked to a provider identity
func (s *pgStore) GetByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.image, u.email_verified, u.created_at, u.updated_at
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.provider = $1 AND a.provider_account_id = $2
	`
	u, err := scanUser(s.db.QueryRow(ctx, query, provider, providerAccountID))
	if err != nil {
		return nil, fmt.Errorf("get user by %s account: %w", provider, err)
	}
	return s.withWorkspaces(ctx, u)
}

// Create inserts a new user
func (s *pgStore) Create(ctx context.Context, nu NewUser) (*User, error) {
	query := `
		INSERT INTO users (id, email, name, image, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRow(ctx, query, uuid.NewString(), nu.Email, nu.Name, nu.Image, nu.EmailVerified))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.OwnedWorkspaces = []Workspace{}
	return u, nil
}

// LinkAccount records the provider identity for a user. Linking the same
// identity twice is a no-op.
func (s *pgStore) LinkAccount(ctx context.Context, userID, provider, providerAccountID string) error {
	query := `
		INSERT INTO accounts (id, user_id, provider, provider_account_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (provider, provider_account_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, uuid.NewString(), userID, provider, providerAccountID); err != nil {
		return fmt.Errorf("link %s account: %w", provider, err)
	}
	return nil
}

// EnsureWorkspace finds or creates the named workspace for the owner
func (s *pgStore) EnsureWorkspace(ctx context.Context, ownerID, name string) (*Workspace, bool, error) {
	insert := `
		INSERT INTO workspaces (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id, name) DO NOTHING
		RETURNING id, owner_id, name, created_at
	`
	var ws Workspace
	err := s.db.QueryRow(ctx, insert, uuid.NewString(), ownerID, name).Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.CreatedAt)
	if err == nil {
		return &ws, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create workspace: %w", err)
	}

	existing := `SELECT id, owner_id, name, created_at FROM workspaces WHERE owner_id = $1 AND name = $2`
	if err := s.db.QueryRow(ctx, existing, ownerID, name).Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("load workspace: %w", err)
	}
	return &ws, false, nil
}

// EnsureProject finds or creates the named project in the workspace
func (s *pgStore) EnsureProject(ctx context.Context, workspaceID, name string) (*Project, bool, error) {
	insert := `
		INSERT INTO projects (id, workspace_id, name, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (workspace_id, name) DO NOTHING
		RETURNING id, workspace_id, name, created_at
	`
	var p Project
	err := s.db.QueryRow(ctx, insert, uuid.NewString(), workspaceID, name).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt)
	if err == nil {
		return &p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create project: %w", err)
	}

	existing := `SELECT id, workspace_id, name, created_at FROM projects WHERE workspace_id = $1 AND name = $2`
	if err := s.db.QueryRow(ctx, existing, workspaceID, name).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("load project: %w", err)
	}
	return &p, false, nil
}

// ListProjects returns the projects of a workspace, oldest first
func (s *pgStore) ListProjects(ctx context.Context, workspaceID string) ([]Project, error) {
	query := `SELECT id, workspace_id, name, created_at FROM projects WHERE workspace_id = $1 ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// GetAPIKey retrieves the user's API key with the given name
func (s *pgStore) GetAPIKey(ctx context.Context, userID, name string) (*APIKey, error) {
	query := `SELECT id, user_id, name, prefix, key_hash, created_at FROM api_keys WHERE user_id = $1 AND name = $2`
	var k APIKey
	err := s.db.QueryRow(ctx, query, userID, name).Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.Hash, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

// CreateAPIKey stores a new API key unless one with the same name exists
func (s *pgStore) CreateAPIKey(ctx context.Context, key *APIKey) (bool, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	query := `
		INSERT INTO api_keys (id, user_id, name, prefix, key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, name) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, key.ID, key.UserID, key.Name, key.Prefix, key.Hash)
	if err != nil {
		return false, fmt.Errorf("create api key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// withWorkspaces attaches the owned workspaces to u
func (s *pgStore) withWorkspaces(ctx context.Context, u *User) (*User, error) {
	query := `SELECT id, owner_id, name, created_at FROM workspaces WHERE owner_id = $1 ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, u.ID)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	u.OwnedWorkspaces = []Workspace{}
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		u.OwnedWorkspaces = append(u.OwnedWorkspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
