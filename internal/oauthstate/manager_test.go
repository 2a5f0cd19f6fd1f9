package oauthstate

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func stores(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store {
			s := NewMemoryStore(nil)
			t.Cleanup(s.Close)
			return s
		},
		"sql": func() Store {
			db, err := store.Open(context.Background(), store.Config{DSN: ":memory:"})
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewSQLStore(db)
		},
	}
}

func TestManager(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("issue and consume once", func(t *testing.T) {
				m := NewManager(newStore())
				ctx := context.Background()

				state, err := m.Issue(ctx, "user-1", model.ProviderGoogle)
				require.NoError(t, err)
				raw, err := base64.RawURLEncoding.DecodeString(state)
				require.NoError(t, err)
				assert.Len(t, raw, 32)

				userID, err := m.ValidateAndConsume(ctx, state, model.ProviderGoogle)
				require.NoError(t, err)
				assert.Equal(t, "user-1", userID)

				_, err = m.ValidateAndConsume(ctx, state, model.ProviderGoogle)
				assert.ErrorIs(t, err, model.ErrAlreadyConsumed)
			})

			t.Run("unknown state", func(t *testing.T) {
				m := NewManager(newStore())
				_, err := m.ValidateAndConsume(context.Background(), "nope", model.ProviderGoogle)
				assert.ErrorIs(t, err, model.ErrInvalidState)

				_, err = m.ValidateAndConsume(context.Background(), "", model.ProviderGoogle)
				assert.ErrorIs(t, err, model.ErrInvalidState)
			})

			t.Run("provider mismatch does not consume", func(t *testing.T) {
				m := NewManager(newStore())
				ctx := context.Background()

				state, err := m.Issue(ctx, "user-1", model.ProviderOutlook)
				require.NoError(t, err)

				_, err = m.ValidateAndConsume(ctx, state, model.ProviderGoogle)
				assert.ErrorIs(t, err, model.ErrInvalidState)

				userID, err := m.ValidateAndConsume(ctx, state, model.ProviderOutlook)
				require.NoError(t, err)
				assert.Equal(t, "user-1", userID)
			})

			t.Run("expired state", func(t *testing.T) {
				clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
				m := NewManager(newStore(), WithClock(clock.Now))
				ctx := context.Background()

				state, err := m.Issue(ctx, "user-1", model.ProviderYahoo)
				require.NoError(t, err)

				clock.Advance(model.DefaultStateTTL + time.Second)
				_, err = m.ValidateAndConsume(ctx, state, model.ProviderYahoo)
				assert.ErrorIs(t, err, model.ErrExpiredState)
			})

			t.Run("expiry wins over consumption", func(t *testing.T) {
				clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
				m := NewManager(newStore(), WithClock(clock.Now))
				ctx := context.Background()

				state, err := m.Issue(ctx, "user-1", model.ProviderGoogle)
				require.NoError(t, err)
				_, err = m.ValidateAndConsume(ctx, state, model.ProviderGoogle)
				require.NoError(t, err)

				clock.Advance(11 * time.Minute)
				_, err = m.ValidateAndConsume(ctx, state, model.ProviderGoogle)
				assert.ErrorIs(t, err, model.ErrExpiredState)
			})

			t.Run("concurrent callbacks have one winner", func(t *testing.T) {
				m := NewManager(newStore())
				ctx := context.Background()

				state, err := m.Issue(ctx, "user-1", model.ProviderGoogle)
				require.NoError(t, err)

				var (
					wg       sync.WaitGroup
					wins     atomic.Int32
					consumed atomic.Int32
				)
				for i := 0; i < 16; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := m.ValidateAndConsume(ctx, state, model.ProviderGoogle)
						switch {
						case err == nil:
							wins.Add(1)
						case assert.ErrorIs(t, err, model.ErrAlreadyConsumed):
							consumed.Add(1)
						}
					}()
				}
				wg.Wait()

				assert.Equal(t, int32(1), wins.Load())
				assert.Equal(t, int32(15), consumed.Load())
			})

			t.Run("purge removes expired states", func(t *testing.T) {
				clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
				m := NewManager(newStore(), WithClock(clock.Now), WithTTL(time.Minute))
				ctx := context.Background()

				old, err := m.Issue(ctx, "user-1", model.ProviderGoogle)
				require.NoError(t, err)
				clock.Advance(2 * time.Minute)
				fresh, err := m.Issue(ctx, "user-1", model.ProviderGoogle)
				require.NoError(t, err)

				n, err := m.Purge(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				_, err = m.ValidateAndConsume(ctx, old, model.ProviderGoogle)
				assert.ErrorIs(t, err, model.ErrInvalidState)
				_, err = m.ValidateAndConsume(ctx, fresh, model.ProviderGoogle)
				assert.NoError(t, err)
			})
		})
	}
}

func TestIssue_RequiresUser(t *testing.T) {
	m := NewManager(NewMemoryStore(nil))
	_, err := m.Issue(context.Background(), "", model.ProviderGoogle)
	assert.Error(t, err)
}
