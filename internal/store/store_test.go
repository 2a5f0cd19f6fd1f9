package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
)

func newTestStore(t *testing.T, key []byte) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: ":memory:", EncryptionKey: key})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestUpsertAccount(t *testing.T) {
	s := newTestStore(t, testKey())
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	first, err := s.UpsertAccount(ctx, model.EmailAccount{
		UserID:       "user-1",
		Email:        "alice@gmail.com",
		Provider:     model.ProviderGoogle,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenExpiry:  &expiry,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.Active)
	assert.Equal(t, "access-1", first.AccessToken)
	require.NotNil(t, first.TokenExpiry)
	assert.True(t, expiry.Equal(*first.TokenExpiry))

	require.NoError(t, s.SetActive(ctx, first.ID, false))

	second, err := s.UpsertAccount(ctx, model.EmailAccount{
		UserID:       "user-1",
		Email:        "alice@gmail.com",
		Provider:     model.ProviderGoogle,
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same user/email/provider keeps its id")
	assert.True(t, second.Active, "reconnecting reactivates the account")
	assert.Equal(t, "access-2", second.AccessToken)
	assert.Equal(t, "refresh-2", second.RefreshToken)
	assert.Nil(t, second.TokenExpiry)
}

func TestUpsertAccount_KeepsRefreshTokenWhenNoneIssued(t *testing.T) {
	s := newTestStore(t, testKey())
	ctx := context.Background()

	_, err := s.UpsertAccount(ctx, model.EmailAccount{
		UserID:       "user-1",
		Email:        "alice@gmail.com",
		Provider:     model.ProviderGoogle,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	})
	require.NoError(t, err)

	// Providers omit the refresh token when consent was granted before.
	again, err := s.UpsertAccount(ctx, model.EmailAccount{
		UserID:      "user-1",
		Email:       "alice@gmail.com",
		Provider:    model.ProviderGoogle,
		AccessToken: "access-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "access-2", again.AccessToken)
	assert.Equal(t, "refresh-1", again.RefreshToken)
}

func TestAccountTokensEncryptedAtRest(t *testing.T) {
	s := newTestStore(t, testKey())
	ctx := context.Background()

	acc, err := s.UpsertAccount(ctx, model.EmailAccount{
		UserID: "u", Email: "bob@outlook.com", Provider: model.ProviderOutlook,
		AccessToken: "plain-access", RefreshToken: "plain-refresh",
	})
	require.NoError(t, err)

	var raw string
	require.NoError(t, s.db.GetContext(ctx, &raw, s.q(`SELECT access_token FROM email_accounts WHERE id = ?`), acc.ID))
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	assert.NotContains(t, raw, "plain-access")

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain-access", got.AccessToken)
	assert.Equal(t, "plain-refresh", got.RefreshToken)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	err = s.SetActive(context.Background(), "missing", false)
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestListAccountsAndUsers(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	a, err := s.UpsertAccount(ctx, model.EmailAccount{UserID: "u1", Email: "a@gmail.com", Provider: model.ProviderGoogle, AccessToken: "t"})
	require.NoError(t, err)
	_, err = s.UpsertAccount(ctx, model.EmailAccount{UserID: "u1", Email: "b@yahoo.com", Provider: model.ProviderYahoo, AccessToken: "t"})
	require.NoError(t, err)
	c, err := s.UpsertAccount(ctx, model.EmailAccount{UserID: "u2", Email: "c@outlook.com", Provider: model.ProviderOutlook, AccessToken: "t"})
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ctx, a.ID, false))
	require.NoError(t, s.SetActive(ctx, c.ID, false))

	active, err := s.ListAccounts(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b@yahoo.com", active[0].Email)

	all, err := s.ListAccounts(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	users, err := s.ListActiveUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

func TestUpdateTokensAndMarkSynced(t *testing.T) {
	s := newTestStore(t, testKey())
	ctx := context.Background()

	acc, err := s.UpsertAccount(ctx, model.EmailAccount{UserID: "u", Email: "a@gmail.com", Provider: model.ProviderGoogle, AccessToken: "old", RefreshToken: "old-rt"})
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateTokens(ctx, acc.ID, model.TokenPair{AccessToken: "new", RefreshToken: "new-rt", Expiry: expiry}))

	syncedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.MarkSynced(ctx, acc.ID, syncedAt))

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "new-rt", got.RefreshToken)
	require.NotNil(t, got.TokenExpiry)
	assert.True(t, expiry.Equal(*got.TokenExpiry))
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, syncedAt.Equal(*got.LastSyncedAt))
}

func seedAccount(t *testing.T, s *Store, userID, email string) *model.EmailAccount {
	t.Helper()
	acc, err := s.UpsertAccount(context.Background(), model.EmailAccount{
		UserID: userID, Email: email, Provider: model.ProviderGoogle, AccessToken: "t",
	})
	require.NoError(t, err)
	return acc
}

func testMessage(acc *model.EmailAccount, id, folder string, read bool, at time.Time) model.CanonicalEmailMessage {
	return model.CanonicalEmailMessage{
		AccountID:         acc.ID,
		UserID:            acc.UserID,
		ProviderMessageID: id,
		Owner:             acc.Email,
		Sender:            "sender@example.com",
		Recipients:        acc.Email,
		Subject:           "subject " + id,
		Body:              "body " + id,
		Folder:            folder,
		Read:              read,
		ReceivedAt:        at,
	}
}

func TestUpsertByKey_Idempotent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	acc := seedAccount(t, s, "u", "a@gmail.com")

	msg := testMessage(acc, "m1", "inbox", false, time.Now())
	outcome, err := s.UpsertByKey(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	msg.Subject = "changed"
	outcome, err = s.UpsertByKey(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, outcome)

	stored, err := s.GetMessage(ctx, acc.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "subject m1", stored.Subject, "existing rows are not overwritten")

	_, err = s.GetMessage(ctx, acc.ID, "m2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertByKey_ConcurrentSameKey(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	acc := seedAccount(t, s, "u", "a@gmail.com")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.UpsertByKey(ctx, testMessage(acc, "same", "inbox", false, time.Now()))
			assert.NoError(t, err)
			if outcome == OutcomeCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
}

func TestListMessagesAndStatus(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	acc := seedAccount(t, s, "u", "a@gmail.com")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, m := range []model.CanonicalEmailMessage{
		testMessage(acc, "m1", "inbox", false, base),
		testMessage(acc, "m2", "inbox", true, base.Add(time.Hour)),
		testMessage(acc, "m3", "sent", true, base.Add(2*time.Hour)),
	} {
		_, err := s.UpsertByKey(ctx, m)
		require.NoError(t, err, "message %d", i)
	}

	inbox, err := s.ListMessages(ctx, MessageQuery{UserID: "u", Folder: "inbox"})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "m2", inbox[0].ProviderMessageID, "newest first")

	page, err := s.ListMessages(ctx, MessageQuery{UserID: "u", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m2", page[0].ProviderMessageID)

	unread, err := s.UnreadCount(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	require.NoError(t, s.MarkSynced(ctx, acc.ID, base))
	status, err := s.SyncStatus(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 3, status.TotalMessages)
	assert.Equal(t, 1, status.UnreadMessages)
	assert.Equal(t, map[string]int{"inbox": 2, "sent": 1}, status.Folders)
	assert.Equal(t, 1, status.Accounts)
	require.NotNil(t, status.LastSyncedAt)
	assert.True(t, base.Equal(*status.LastSyncedAt))

	empty, err := s.SyncStatus(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalMessages)
	assert.Nil(t, empty.LastSyncedAt)
}

func TestStates(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	st := &model.OAuthState{
		State:     "abc",
		Provider:  model.ProviderGoogle,
		UserID:    "u",
		CreatedAt: now,
		ExpiresAt: now.Add(model.DefaultStateTTL),
	}
	require.NoError(t, s.SaveState(ctx, st))

	got, err := s.GetState(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "u", got.UserID)
	assert.Equal(t, model.ProviderGoogle, got.Provider)
	assert.False(t, got.Consumed())

	ok, err := s.ConsumeState(ctx, "abc", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeState(ctx, "abc", now)
	require.NoError(t, err)
	assert.False(t, ok, "second consume loses")

	got, err = s.GetState(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, got.Consumed(), "consumed rows are retained")

	_, err = s.GetState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.PurgeStates(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
