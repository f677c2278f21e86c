package secrets

import (
	"context"
	"fmt"

	"overunder/internal/domain"
	"overunder/internal/solana"
	"overunder/internal/storage"
)

// GameKeys are the keypairs backing one game.
type GameKeys struct {
	OverPot   *solana.Keypair
	UnderPot  *solana.Keypair
	OverMint  *solana.Keypair
	UnderMint *solana.Keypair
}

// Pot returns the pot keypair of a side.
func (k *GameKeys) Pot(side domain.Side) *solana.Keypair {
	if side == domain.SideOver {
		return k.OverPot
	}
	return k.UnderPot
}

// Vault seals game keypairs for storage and opens them for signing.
type Vault struct {
	sealer *Sealer
	store  storage.SecretStore
}

// NewVault creates a Vault reading sealed keys from store.
func NewVault(sealer *Sealer, store storage.SecretStore) *Vault {
	return &Vault{sealer: sealer, store: store}
}

// Seal encrypts the keys of a game. The result is written by the caller,
// usually in the transaction that creates the game row.
func (v *Vault) Seal(gameID int64, keys *GameKeys) (*domain.SealedKeys, error) {
	sealed := &domain.SealedKeys{GameID: gameID}
	for _, f := range []struct {
		kp  *solana.Keypair
		dst *[]byte
	}{
		{keys.OverPot, &sealed.OverPot},
		{keys.UnderPot, &sealed.UnderPot},
		{keys.OverMint, &sealed.OverMint},
		{keys.UnderMint, &sealed.UnderMint},
	} {
		if f.kp == nil {
			return nil, fmt.Errorf("secrets: game %d: missing keypair", gameID)
		}
		env, err := v.sealer.Seal(f.kp.Secret())
		if err != nil {
			return nil, fmt.Errorf("secrets: game %d: %w", gameID, err)
		}
		*f.dst = env
	}
	return sealed, nil
}

// Open decrypts sealed keys.
func (v *Vault) Open(sealed *domain.SealedKeys) (*GameKeys, error) {
	keys := &GameKeys{}
	for _, f := range []struct {
		env []byte
		dst **solana.Keypair
	}{
		{sealed.OverPot, &keys.OverPot},
		{sealed.UnderPot, &keys.UnderPot},
		{sealed.OverMint, &keys.OverMint},
		{sealed.UnderMint, &keys.UnderMint},
	} {
		secret, err := v.sealer.Open(f.env)
		if err != nil {
			return nil, fmt.Errorf("secrets: game %d: %w", sealed.GameID, err)
		}
		kp, err := solana.KeypairFromSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("secrets: game %d: %w", sealed.GameID, err)
		}
		*f.dst = kp
	}
	return keys, nil
}

// Keys loads and opens the keys of a game.
func (v *Vault) Keys(ctx context.Context, gameID int64) (*GameKeys, error) {
	sealed, err := v.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("secrets: load game %d: %w", gameID, err)
	}
	return v.Open(sealed)
}
