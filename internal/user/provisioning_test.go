package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"oauthstarter/internal/logger"
)

// memoryProvisioningStore keys rows by their natural unique constraint, the
// way the PostgreSQL schema does.
type memoryProvisioningStore struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	projects   map[string]*Project
	keys       map[string]*APIKey
	failKeys   error
	seq        int
}

func newMemoryProvisioningStore() *memoryProvisioningStore {
	return &memoryProvisioningStore{
		workspaces: map[string]*Workspace{},
		projects:   map[string]*Project{},
		keys:       map[string]*APIKey{},
	}
}

func (m *memoryProvisioningStore) nextID(kind string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", kind, m.seq)
}

func (m *memoryProvisioningStore) EnsureWorkspace(_ context.Context, ownerID, name string) (*Workspace, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ownerID + "/" + name
	if ws, ok := m.workspaces[k]; ok {
		return ws, false, nil
	}
	ws := &Workspace{ID: m.nextID("ws"), OwnerID: ownerID, Name: name, CreatedAt: time.Now()}
	m.workspaces[k] = ws
	return ws, true, nil
}

func (m *memoryProvisioningStore) EnsureProject(_ context.Context, workspaceID, name string) (*Project, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := workspaceID + "/" + name
	if p, ok := m.projects[k]; ok {
		return p, false, nil
	}
	p := &Project{ID: m.nextID("proj"), WorkspaceID: workspaceID, Name: name, CreatedAt: time.Now()}
	m.projects[k] = p
	return p, true, nil
}

func (m *memoryProvisioningStore) GetAPIKey(_ context.Context, userID, name string) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failKeys != nil {
		return nil, m.failKeys
	}
	if k, ok := m.keys[userID+"/"+name]; ok {
		return k, nil
	}
	return nil, ErrAPIKeyNotFound
}

func (m *memoryProvisioningStore) CreateAPIKey(_ context.Context, key *APIKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.UserID + "/" + key.Name
	if _, ok := m.keys[k]; ok {
		return false, nil
	}
	key.ID = m.nextID("key")
	m.keys[k] = key
	return true, nil
}

func TestProvision_CreatesDefaults(t *testing.T) {
	store := newMemoryProvisioningStore()
	p := NewProvisioner(store, logger.Discard())

	out, err := p.Provision(context.Background(), &User{ID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkspaceName, out.Workspace.Name)
	assert.Equal(t, "user-1", out.Workspace.OwnerID)
	assert.Equal(t, out.Workspace.ID, out.Project.WorkspaceID)
	require.True(t, strings.HasPrefix(out.APIKey, "sk_"))

	stored := store.keys["user-1/"+DefaultAPIKeyName]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.Hash, out.APIKey)
	assert.Equal(t, out.APIKey[:apiKeyPrefixLen], stored.Prefix)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(out.APIKey)))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(out.APIKey+"x")))
}

func TestProvision_IsIdempotent(t *testing.T) {
	store := newMemoryProvisioningStore()
	p := NewProvisioner(store, logger.Discard())
	u := &User{ID: "user-1"}

	first, err := p.Provision(context.Background(), u)
	require.NoError(t, err)
	second, err := p.Provision(context.Background(), u)
	require.NoError(t, err)

	assert.Len(t, store.workspaces, 1)
	assert.Len(t, store.projects, 1)
	assert.Len(t, store.keys, 1)
	assert.Equal(t, first.Workspace.ID, second.Workspace.ID)
	assert.Equal(t, first.Project.ID, second.Project.ID)
	assert.Empty(t, second.APIKey, "an existing key must not be reissued")
}

func TestProvision_SeparateUsers(t *testing.T) {
	store := newMemoryProvisioningStore()
	p := NewProvisioner(store, logger.Discard())

	_, err := p.Provision(context.Background(), &User{ID: "a"})
	require.NoError(t, err)
	_, err = p.Provision(context.Background(), &User{ID: "b"})
	require.NoError(t, err)

	assert.Len(t, store.workspaces, 2)
	assert.Len(t, store.keys, 2)
}

func TestProvision_RequiresUserID(t *testing.T) {
	p := NewProvisioner(newMemoryProvisioningStore(), logger.Discard())
	_, err := p.Provision(context.Background(), &User{})
	assert.Error(t, err)
	_, err = p.Provision(context.Background(), nil)
	assert.Error(t, err)
}

func TestProvision_KeyLookupFailure(t *testing.T) {
	store := newMemoryProvisioningStore()
	store.failKeys = errors.New("connection reset")
	p := NewProvisioner(store, logger.Discard())

	_, err := p.Provision(context.Background(), &User{ID: "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, store.keys)
}
