package reconcile

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/provider/providertest"
	"github.com/teemow/mailsync/internal/registry"
	"github.com/teemow/mailsync/internal/store"
	"github.com/teemow/mailsync/internal/vault"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.Store
	reg   *registry.Registry
	fake  *providertest.Fake
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := providertest.New(model.ProviderGoogle)
	reg := registry.New(st, provider.NewSet(fake), nil)
	clock := func() time.Time { return testNow }
	v := vault.New(reg, vault.WithClock(clock))
	return &fixture{
		store: st,
		reg:   reg,
		fake:  fake,
		rec:   New(reg, v, st, WithClock(clock)),
	}
}

func (f *fixture) account(t *testing.T, email string, tokens model.TokenPair) *model.EmailAccount {
	t.Helper()
	acc := model.EmailAccount{
		UserID:       "user-1",
		Email:        email,
		Provider:     model.ProviderGoogle,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if tokens.HasExpiry() {
		acc.TokenExpiry = &tokens.Expiry
	}
	saved, err := f.reg.Upsert(context.Background(), acc)
	require.NoError(t, err)
	return saved
}

func validTokens(access string) model.TokenPair {
	return model.TokenPair{AccessToken: access, RefreshToken: "rt-" + access, Expiry: testNow.Add(time.Hour)}
}

func TestSyncAccount_SecondRunSkipsStoredMessages(t *testing.T) {
	f := newFixture(t)
	f.fake.Messages = []model.ProviderMessage{
		providertest.TextMessage("m1", "hello", "first"),
		providertest.TextMessage("m2", "again", "second"),
	}
	acc := f.account(t, "a@gmail.com", validTokens("at"))
	ctx := context.Background()

	first := f.rec.SyncAccount(ctx, acc, 0, "")
	assert.True(t, first.Success)
	assert.Empty(t, first.Errors)
	assert.Equal(t, 2, first.MessagesSeen)
	assert.Equal(t, 2, first.MessagesCreated)
	assert.Equal(t, 2, first.MessagesSynced)
	assert.Zero(t, first.MessagesSkipped)
	assert.Equal(t, testNow, first.SyncTime)

	second := f.rec.SyncAccount(ctx, acc, 0, "")
	assert.True(t, second.Success)
	assert.Zero(t, second.MessagesCreated)
	assert.Equal(t, 2, second.MessagesSkipped)

	stored, err := f.store.GetMessage(ctx, acc.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Body)
	assert.Equal(t, "a@gmail.com", stored.Owner)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "thread-m1", stored.ThreadID)
	assert.Equal(t, "inbox", stored.Folder)

	synced, err := f.reg.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, synced.LastSyncedAt)
	assert.True(t, testNow.Equal(*synced.LastSyncedAt))
}

func TestSyncAccount_PassesFolderAndLimit(t *testing.T) {
	f := newFixture(t)
	var gotFolder string
	var gotMax int
	f.fake.ListFunc = func(_ context.Context, _ string, folder string, max int) ([]model.ProviderMessage, error) {
		gotFolder, gotMax = folder, max
		return nil, nil
	}
	acc := f.account(t, "a@gmail.com", validTokens("at"))

	res := f.rec.SyncAccount(context.Background(), acc, 0, "")
	assert.True(t, res.Success)
	assert.Equal(t, provider.DefaultFolder, gotFolder)
	assert.Equal(t, DefaultMaxMessages, gotMax)

	f.rec.SyncAccount(context.Background(), acc, 7, "sent")
	assert.Equal(t, "sent", gotFolder)
	assert.Equal(t, 7, gotMax)
}

func TestSyncAccount_MappingErrorDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	broken := providertest.TextMessage("", "no id", "lost")
	f.fake.Messages = []model.ProviderMessage{
		providertest.TextMessage("m1", "ok", "kept"),
		broken,
		providertest.TextMessage("m3", "ok", "kept too"),
	}
	acc := f.account(t, "a@gmail.com", validTokens("at"))

	res := f.rec.SyncAccount(context.Background(), acc, 0, "")
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.MessagesSeen)
	assert.Equal(t, 2, res.MessagesCreated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], model.ErrMessageMapping.Error())

	// Listing completed, so the sync time is still recorded.
	got, err := f.reg.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSyncedAt)
}

func TestSyncAccount_RejectedTokenForcesOneRefresh(t *testing.T) {
	f := newFixture(t)
	f.fake.RefreshFunc = func(context.Context, string) (model.TokenPair, error) {
		return model.TokenPair{AccessToken: "at-2", Expiry: testNow.Add(time.Hour)}, nil
	}
	f.fake.ListFunc = func(_ context.Context, accessToken, _ string, _ int) ([]model.ProviderMessage, error) {
		if accessToken != "at-2" {
			return nil, model.NewProviderError(model.ProviderGoogle, "list_messages", 401, "", nil)
		}
		return []model.ProviderMessage{providertest.TextMessage("m1", "s", "b")}, nil
	}
	acc := f.account(t, "a@gmail.com", validTokens("at"))

	res := f.rec.SyncAccount(context.Background(), acc, 0, "")
	assert.True(t, res.Success, res.Errors)
	assert.Equal(t, 1, res.MessagesCreated)
	assert.Equal(t, int32(1), f.fake.RefreshCalls.Load())
	assert.Equal(t, int32(2), f.fake.ListCalls.Load())
}

func TestSyncAccount_RefreshedTokenRejectedMidListing(t *testing.T) {
	f := newFixture(t)
	var n int
	f.fake.RefreshFunc = func(context.Context, string) (model.TokenPair, error) {
		n++
		return model.TokenPair{AccessToken: fmt.Sprintf("at-%d", n), Expiry: testNow.Add(time.Hour)}, nil
	}
	var listed []string
	f.fake.ListFunc = func(_ context.Context, accessToken, _ string, _ int) ([]model.ProviderMessage, error) {
		listed = append(listed, accessToken)
		if accessToken == "at-1" {
			return nil, model.NewProviderError(model.ProviderGoogle, "list_messages", 401, "", nil)
		}
		return []model.ProviderMessage{providertest.TextMessage("m1", "s", "b")}, nil
	}
	acc := f.account(t, "a@gmail.com", model.TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: testNow.Add(-time.Minute)})

	res := f.rec.SyncAccount(context.Background(), acc, 0, "")
	assert.True(t, res.Success, res.Errors)
	assert.Equal(t, 1, res.MessagesCreated)
	assert.Equal(t, []string{"at-1", "at-2"}, listed)
	assert.Equal(t, int32(2), f.fake.RefreshCalls.Load())

	got, err := f.reg.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
}

func TestSyncAccount_RepeatedRejectionIsReported(t *testing.T) {
	f := newFixture(t)
	f.fake.RefreshFunc = func(context.Context, string) (model.TokenPair, error) {
		return model.TokenPair{AccessToken: "at-2", Expiry: testNow.Add(time.Hour)}, nil
	}
	f.fake.ListFunc = func(context.Context, string, string, int) ([]model.ProviderMessage, error) {
		return nil, model.NewProviderError(model.ProviderGoogle, "list_messages", 401, "", nil)
	}
	acc := f.account(t, "a@gmail.com", validTokens("at"))

	res := f.rec.SyncAccount(context.Background(), acc, 0, "")
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "listing messages")
	assert.Equal(t, int32(2), f.fake.ListCalls.Load())

	got, err := f.reg.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastSyncedAt)
}

func TestSyncAccount_ReAuthRequired(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "a@gmail.com", model.TokenPair{AccessToken: "at", Expiry: testNow.Add(-time.Minute)})

	res := f.rec.SyncAccount(context.Background(), acc, 0, "")
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "reconnect required")
	assert.Zero(t, f.fake.ListCalls.Load())

	got, err := f.reg.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestSyncAccount_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.fake.Messages = []model.ProviderMessage{providertest.TextMessage("m1", "s", "b")}
	acc := f.account(t, "a@gmail.com", validTokens("at"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.rec.SyncAccount(ctx, acc, 0, "")
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.True(t, strings.HasPrefix(res.Errors[len(res.Errors)-1], "sync cancelled:"))
	assert.Zero(t, res.MessagesCreated)
}

func TestSyncUser_OneFailingAccountDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.fake.ListFunc = func(_ context.Context, accessToken, _ string, _ int) ([]model.ProviderMessage, error) {
		if accessToken == "at-b" {
			return nil, model.NewProviderError(model.ProviderGoogle, "list_messages", 503, "", nil)
		}
		return []model.ProviderMessage{
			providertest.TextMessage(accessToken+"-1", "s", "b"),
			providertest.TextMessage(accessToken+"-2", "s", "b"),
		}, nil
	}
	f.account(t, "a@gmail.com", validTokens("at-a"))
	f.account(t, "b@gmail.com", validTokens("at-b"))
	f.account(t, "c@gmail.com", validTokens("at-c"))

	res := f.rec.SyncUser(context.Background(), "user-1", 0, "")
	assert.False(t, res.Success)
	assert.Equal(t, 4, res.MessagesCreated)
	assert.Equal(t, 4, res.MessagesSynced)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "account b@gmail.com: "), res.Errors[0])
}

func TestSyncUser_SkipsInactiveAccounts(t *testing.T) {
	f := newFixture(t)
	f.fake.Messages = []model.ProviderMessage{providertest.TextMessage("m1", "s", "b")}
	a := f.account(t, "a@gmail.com", validTokens("at-a"))
	f.account(t, "b@gmail.com", validTokens("at-b"))
	require.NoError(t, f.reg.Deactivate(context.Background(), a.ID))

	res := f.rec.SyncUser(context.Background(), "user-1", 0, "")
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.MessagesCreated)
	assert.Equal(t, int32(1), f.fake.ListCalls.Load())
}

func TestSyncUser_NoAccounts(t *testing.T) {
	f := newFixture(t)

	res := f.rec.SyncUser(context.Background(), "nobody", 0, "")
	assert.False(t, res.Success)
	assert.Equal(t, []string{NoAccountsError}, res.Errors)
	assert.Zero(t, res.MessagesSeen)
}

func TestSyncUser_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.fake.Messages = []model.ProviderMessage{providertest.TextMessage("m1", "s", "b")}
	f.account(t, "a@gmail.com", validTokens("at-a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.rec.SyncUser(ctx, "user-1", 0, "")
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.True(t, strings.HasPrefix(res.Errors[len(res.Errors)-1], "sync cancelled:"))
}
