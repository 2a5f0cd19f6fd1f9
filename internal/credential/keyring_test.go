package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
)

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	key := ClientSecretKey(model.ProviderOutlook)
	assert.Equal(t, "providers.outlook.client_secret", key)

	_, err := s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := s.Lookup(key)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set(key, "s3cret"))
	v, err = s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
}
