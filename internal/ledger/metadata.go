package ledger

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"overunder/internal/domain"
	"overunder/internal/solana"
)

// token2022ProgramID owns Token-2022 mints, which share the base mint layout.
const token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"

// TokenMetadata reads decimals and supply from the mint account and
// name/symbol from its Metaplex metadata account when one exists.
// A missing or non-mint account is ErrInvalidContractAddress.
func (a *Adapter) TokenMetadata(ctx context.Context, mint string) (*TokenMetadata, error) {
	mintKey, err := solana.ParsePublicKey(mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidContractAddress, mint)
	}

	mintInfo, err := a.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account info: %w", err)
	}
	if mintInfo == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidContractAddress, mint)
	}
	if mintInfo.Owner != solana.TokenProgramID.String() && mintInfo.Owner != token2022ProgramID {
		return nil, fmt.Errorf("%w: %s is not a token mint", domain.ErrInvalidContractAddress, mint)
	}

	meta := &TokenMetadata{Mint: mint}
	if err := parseMintData(mintInfo.Data, meta); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidContractAddress, err)
	}

	metadataPDA, err := solana.MetadataAddress(mintKey)
	if err == nil {
		metaInfo, err := a.rpc.GetAccountInfo(ctx, metadataPDA.String())
		if err == nil && metaInfo != nil {
			parseMetaplexData(metaInfo.Data, meta)
		}
	}

	return meta, nil
}

// parseMintData parses SPL Token Mint account data.
// SPL Token Mint layout (82 bytes):
// - mintAuthority: Option<Pubkey> (36 bytes: 4 + 32)
// - supply: u64 (8 bytes)
// - decimals: u8 (1 byte)
// - isInitialized: bool (1 byte)
// - freezeAuthority: Option<Pubkey> (36 bytes: 4 + 32)
func parseMintData(data string, meta *TokenMetadata) error {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode mint data: %w", err)
	}

	if len(decoded) < solana.MintAccountSize {
		return fmt.Errorf("mint data too short: %d", len(decoded))
	}
	if decoded[45] == 0 {
		return fmt.Errorf("mint not initialized")
	}

	meta.Supply = binary.LittleEndian.Uint64(decoded[36:44])
	meta.Decimals = int(decoded[44])
	return nil
}

// parseMetaplexData parses Metaplex Token Metadata account data.
// Metaplex Metadata layout:
// - key: u8 (1 byte, should be 4 for MetadataV1)
// - updateAuthority: Pubkey (32 bytes)
// - mint: Pubkey (32 bytes)
// - name: String (4 + length bytes, max 32 chars)
// - symbol: String (4 + length bytes, max 10 chars)
// ...and more fields
func parseMetaplexData(data string, meta *TokenMetadata) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return
	}

	if len(decoded) < 100 || decoded[0] != 4 {
		return
	}

	// Skip: key(1) + updateAuthority(32) + mint(32) = 65 bytes
	offset := 65

	readString := func(max uint32) (string, bool) {
		if offset+4 > len(decoded) {
			return "", false
		}
		n := binary.LittleEndian.Uint32(decoded[offset:])
		offset += 4
		if n > max || offset+int(n) > len(decoded) {
			return "", false
		}
		s := strings.TrimRight(string(decoded[offset:offset+int(n)]), "\x00")
		offset += int(n)
		return s, true
	}

	name, ok := readString(100)
	if !ok {
		return
	}
	meta.Name = name

	if symbol, ok := readString(20); ok {
		meta.Symbol = symbol
	}
}
