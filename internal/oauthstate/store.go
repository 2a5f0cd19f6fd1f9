package oauthstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/store"
)

// Store persists issued states.
// Get returns model.ErrInvalidState for an unknown state. Consume must be
// atomic: of concurrent callers for the same state exactly one gets true.
type Store interface {
	Save(ctx context.Context, st *model.OAuthState) error
	Get(ctx context.Context, state string) (*model.OAuthState, error)
	Consume(ctx context.Context, state string, at time.Time) (bool, error)
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore keeps states in process memory.
// A background goroutine drops expired states once a minute until Close.
type MemoryStore struct {
	states map[string]*model.OAuthState
	mu     sync.Mutex
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// NewMemoryStore creates a memory store and starts its cleanup loop.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &MemoryStore{
		states: make(map[string]*model.OAuthState),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.cleanup()

	return s
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, st *model.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.states[st.State] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, state string) (*model.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return nil, model.ErrInvalidState
	}
	cp := *st
	return &cp, nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, state string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok || st.ConsumedAt != nil {
		return false, nil
	}
	st.ConsumedAt = &at
	return true, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, st := range s.states {
		if st.ExpiresAt.Before(cutoff) {
			delete(s.states, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if n, _ := s.Purge(context.Background(), now); n > 0 {
				s.logger.Debug("Cleaned up expired OAuth states", "states_deleted", n)
			}
		}
	}
}

// SQLStore adapts the shared SQL store to Store.
type SQLStore struct {
	db *store.Store
}

// NewSQLStore wraps db.
func NewSQLStore(db *store.Store) *SQLStore {
	return &SQLStore{db: db}
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, st *model.OAuthState) error {
	return s.db.SaveState(ctx, st)
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, state string) (*model.OAuthState, error) {
	st, err := s.db.GetState(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrInvalidState
	}
	return st, err
}

// Consume implements Store.
func (s *SQLStore) Consume(ctx context.Context, state string, at time.Time) (bool, error) {
	return s.db.ConsumeState(ctx, state, at)
}

// Purge implements Store.
func (s *SQLStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	return s.db.PurgeStates(ctx, cutoff)
}
