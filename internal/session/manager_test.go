package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memoryStore is an in-process Store used by the tests
type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func TestManager_CreateAndGet(t *testing.T) {
	store := newMemoryStore()
	mgr := NewManager(store)

	sess, err := mgr.Create(context.Background(), "user-1", time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" || sess.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if ttl := store.ttls["session:"+sess.ID]; ttl != time.Hour {
		t.Errorf("Expected TTL of 1h, got %v", ttl)
	}

	got, err := mgr.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "user-1" || !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("Get returned %+v, want %+v", got, sess)
	}
}

func TestManager_GetMissing(t *testing.T) {
	mgr := NewManager(newMemoryStore())

	if _, err := mgr.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := mgr.Get(context.Background(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for empty id, got %v", err)
	}
}

func TestManager_Expired(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	mgr := &manager{store: store, now: func() time.Time { return now }}

	sess, err := mgr.Create(context.Background(), "user-1", time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := mgr.Get(context.Background(), sess.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	if _, ok := store.data["session:"+sess.ID]; ok {
		t.Error("Expired session should be deleted from the store")
	}
}

func TestManager_InvalidPayload(t *testing.T) {
	store := newMemoryStore()
	store.data["session:bad"] = "{not json"
	mgr := NewManager(store)

	if _, err := mgr.Get(context.Background(), "bad"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	mgr := NewManager(newMemoryStore())
	sess, _ := mgr.Create(context.Background(), "user-1", time.Hour)

	if err := mgr.Delete(context.Background(), sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := mgr.Get(context.Background(), sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestManager_CreateValidation(t *testing.T) {
	mgr := NewManager(newMemoryStore())

	if _, err := mgr.Create(context.Background(), "", time.Hour); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession for empty user, got %v", err)
	}
	if _, err := mgr.Create(context.Background(), "user-1", 0); err == nil {
		t.Error("Expected error for zero max age")
	}
}

func TestManager_StoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("redis down")
	mgr := NewManager(store)

	if _, err := mgr.Create(context.Background(), "user-1", time.Hour); err == nil {
		t.Error("Expected Create to fail when the store fails")
	}
	_, err := mgr.Get(context.Background(), "any")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}
