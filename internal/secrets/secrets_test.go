package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overunder/internal/domain"
	"overunder/internal/solana"
	"overunder/internal/storage"
	"overunder/internal/storage/memory"
)

const testIterations = 1000

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("correct horse", testIterations)
	require.NoError(t, err)

	env, err := s.Seal([]byte("pot secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(env), "pot secret")
	assert.True(t, strings.HasPrefix(string(env), `{"version":1`))

	plain, err := s.Open(env)
	require.NoError(t, err)
	assert.Equal(t, "pot secret", string(plain))
}

func TestSealer_FreshNoncePerSeal(t *testing.T) {
	s, err := NewSealer("pw", testIterations)
	require.NoError(t, err)

	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b))
}

func TestSealer_WrongPassphrase(t *testing.T) {
	a, err := NewSealer("one", testIterations)
	require.NoError(t, err)
	b, err := NewSealer("two", testIterations)
	require.NoError(t, err)

	env, err := a.Seal([]byte("x"))
	require.NoError(t, err)

	_, err = b.Open(env)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSealer_OpensOtherSalts(t *testing.T) {
	a, err := NewSealer("shared", testIterations)
	require.NoError(t, err)
	b, err := NewSealer("shared", testIterations)
	require.NoError(t, err)

	env, err := a.Seal([]byte("x"))
	require.NoError(t, err)
	plain, err := b.Open(env)
	require.NoError(t, err)
	assert.Equal(t, "x", string(plain))
}

func TestSealer_Malformed(t *testing.T) {
	s, err := NewSealer("pw", testIterations)
	require.NoError(t, err)

	for _, env := range []string{
		`not json`,
		`{"version":2,"salt":"","nonce":"","ciphertext":""}`,
		`{"version":1,"salt":"!!","nonce":"","ciphertext":""}`,
		`{"version":1,"salt":"AAAA","nonce":"AAAA","ciphertext":""}`,
	} {
		_, err := s.Open([]byte(env))
		assert.ErrorIs(t, err, ErrBadEnvelope, env)
	}
}

func TestNewSealer_EmptyPassphrase(t *testing.T) {
	_, err := NewSealer("", 0)
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func newKeys(t *testing.T) *GameKeys {
	t.Helper()
	gen := func() *solana.Keypair {
		kp, err := solana.NewKeypair()
		require.NoError(t, err)
		return kp
	}
	return &GameKeys{OverPot: gen(), UnderPot: gen(), OverMint: gen(), UnderMint: gen()}
}

func TestVault_SealStoreAndOpen(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	sealer, err := NewSealer("vault", testIterations)
	require.NoError(t, err)
	vault := NewVault(sealer, store.Secrets())

	keys := newKeys(t)
	sealed, err := vault.Seal(7, keys)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.OverPot), keys.OverPot.PublicKey().String())
	require.NoError(t, store.Secrets().Put(ctx, sealed))

	opened, err := vault.Keys(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, keys.OverPot.PublicKey(), opened.OverPot.PublicKey())
	assert.Equal(t, keys.UnderPot.PublicKey(), opened.UnderPot.PublicKey())
	assert.Equal(t, keys.OverMint.PublicKey(), opened.OverMint.PublicKey())
	assert.Equal(t, keys.UnderMint.PublicKey(), opened.UnderMint.PublicKey())
	assert.Equal(t, keys.UnderPot.PublicKey(), opened.Pot(domain.SideUnder).PublicKey())
}

func TestVault_MissingGame(t *testing.T) {
	sealer, err := NewSealer("vault", testIterations)
	require.NoError(t, err)
	vault := NewVault(sealer, memory.NewStore().Secrets())

	_, err = vault.Keys(context.Background(), 1)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestVault_SealRejectsMissingKey(t *testing.T) {
	sealer, err := NewSealer("vault", testIterations)
	require.NoError(t, err)
	vault := NewVault(sealer, memory.NewStore().Secrets())

	keys := newKeys(t)
	keys.UnderMint = nil
	_, err = vault.Seal(1, keys)
	assert.Error(t, err)
}
