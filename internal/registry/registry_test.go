package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/provider/providertest"
	"github.com/teemow/mailsync/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	set := provider.NewSet(providertest.New(model.ProviderGoogle), providertest.New(model.ProviderOutlook))
	return New(st, set, nil)
}

func connect(t *testing.T, r *Registry, userID, email string, p model.Provider) *model.EmailAccount {
	t.Helper()
	acc, err := r.Upsert(context.Background(), model.EmailAccount{
		UserID:       userID,
		Email:        email,
		Provider:     p,
		AccessToken:  "at-" + email,
		RefreshToken: "rt-" + email,
	})
	require.NoError(t, err)
	return acc
}

func TestRegistry_FindByUserReturnsActiveOnly(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a := connect(t, r, "u1", "a@gmail.com", model.ProviderGoogle)
	connect(t, r, "u1", "b@outlook.com", model.ProviderOutlook)
	connect(t, r, "u2", "c@gmail.com", model.ProviderGoogle)

	require.NoError(t, r.Deactivate(ctx, a.ID))

	active, err := r.FindByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b@outlook.com", active[0].Email)

	all, err := r.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	users, err := r.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}

func TestRegistry_FindByIDEnforcesOwnership(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	acc := connect(t, r, "u1", "a@gmail.com", model.ProviderGoogle)

	got, err := r.FindByID(ctx, acc.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = r.FindByID(ctx, acc.ID, "intruder")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	_, err = r.FindByID(ctx, "missing", "u1")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestRegistry_UpsertReactivatesAndReplacesTokens(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	first := connect(t, r, "u1", "a@gmail.com", model.ProviderGoogle)
	require.NoError(t, r.Deactivate(ctx, first.ID))

	again, err := r.Upsert(ctx, model.EmailAccount{
		UserID:       "u1",
		Email:        "a@gmail.com",
		Provider:     model.ProviderGoogle,
		AccessToken:  "fresh",
		RefreshToken: "fresh-rt",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.Active)
	assert.Equal(t, "fresh", again.AccessToken)
	assert.Equal(t, "fresh-rt", again.RefreshToken)
}

func TestRegistry_UpsertRejectsUnknownProvider(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Upsert(context.Background(), model.EmailAccount{
		UserID:   "u1",
		Email:    "a@yahoo.com",
		Provider: model.ProviderYahoo,
	})
	assert.ErrorIs(t, err, model.ErrUnsupportedProvider)
}

func TestRegistry_TokensAndSync(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	acc := connect(t, r, "u1", "a@gmail.com", model.ProviderGoogle)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, r.UpdateTokens(ctx, acc.ID, model.TokenPair{AccessToken: "new", RefreshToken: "new-rt", Expiry: expiry}))

	synced := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, r.MarkSynced(ctx, acc.ID, synced))

	got, err := r.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "new-rt", got.RefreshToken)
	require.NotNil(t, got.TokenExpiry)
	assert.True(t, expiry.Equal(*got.TokenExpiry))
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, synced.Equal(*got.LastSyncedAt))
}

func TestRegistry_AdapterFor(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.AdapterFor(&model.EmailAccount{Provider: model.ProviderOutlook})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderOutlook, a.Name())

	_, err = r.AdapterFor(&model.EmailAccount{Provider: model.ProviderYahoo})
	assert.ErrorIs(t, err, model.ErrUnsupportedProvider)
}
