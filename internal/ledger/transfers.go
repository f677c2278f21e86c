package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"overunder/internal/domain"
	"overunder/internal/solana"
)

// maxSignaturePageLimit is the largest page getSignaturesForAddress returns.
const maxSignaturePageLimit = 1000

func (a *Adapter) parsed(ctx context.Context, signature string) (*solana.ParsedTransaction, error) {
	tx, err := a.rpc.GetParsedTransaction(ctx, signature, a.cfg.Commitment)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionSignatureNotExists, signature)
	}
	return tx, nil
}

// SolTransfers returns the system transfers of a transaction. A failed
// transaction moved nothing and yields none.
func (a *Adapter) SolTransfers(ctx context.Context, signature string) ([]SolTransfer, error) {
	tx, err := a.parsed(ctx, signature)
	if err != nil {
		return nil, err
	}
	if tx.Failed() {
		return nil, nil
	}
	return solTransfers(tx), nil
}

func solTransfers(tx *solana.ParsedTransaction) []SolTransfer {
	var out []SolTransfer
	for i := range tx.Instructions {
		ix := &tx.Instructions[i]
		if ix.ProgramID != solana.SystemProgramID.String() {
			continue
		}
		typ, info, ok := ix.Decode()
		if !ok || typ != "transfer" {
			continue
		}
		var v struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Lamports    uint64 `json:"lamports"`
		}
		if err := json.Unmarshal(info, &v); err != nil {
			continue
		}
		out = append(out, SolTransfer{Source: v.Source, Destination: v.Destination, Lamports: v.Lamports})
	}
	return out
}

// tokenTransferInfo covers both transfer and transferChecked.
type tokenTransferInfo struct {
	Source            string              `json:"source"`
	Destination       string              `json:"destination"`
	Mint              string              `json:"mint"`
	Authority         string              `json:"authority"`
	MultisigAuthority string              `json:"multisigAuthority"`
	Amount            string              `json:"amount"`
	TokenAmount       *solana.TokenAmount `json:"tokenAmount"`
}

func (t *tokenTransferInfo) amount() uint64 {
	if t.TokenAmount != nil {
		return t.TokenAmount.Uint64()
	}
	v, _ := strconv.ParseUint(t.Amount, 10, 64)
	return v
}

// TokenTransfers returns the SPL token transfers of a transaction with the
// owner of each source account resolved.
func (a *Adapter) TokenTransfers(ctx context.Context, signature string) ([]TokenTransfer, error) {
	tx, err := a.parsed(ctx, signature)
	if err != nil {
		return nil, err
	}
	if tx.Failed() {
		return nil, nil
	}

	var out []TokenTransfer
	for i := range tx.Instructions {
		ix := &tx.Instructions[i]
		if ix.ProgramID != solana.TokenProgramID.String() {
			continue
		}
		typ, raw, ok := ix.Decode()
		if !ok || !strings.HasPrefix(typ, "transfer") {
			continue
		}
		var info tokenTransferInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}

		t := TokenTransfer{
			Source:      info.Source,
			Destination: info.Destination,
			Mint:        info.Mint,
			Amount:      info.amount(),
		}
		owner, mint, err := a.resolveTokenAccount(ctx, tx, info.Source)
		if err != nil {
			return nil, err
		}
		switch {
		case owner != "":
			t.Owner = owner
		case info.Authority != "":
			t.Owner = info.Authority
		default:
			t.Owner = info.MultisigAuthority
		}
		if t.Mint == "" {
			t.Mint = mint
		}
		out = append(out, t)
	}
	return out, nil
}

// resolveTokenAccount finds owner and mint of a token account from the
// transaction's token balances, falling back to the account data.
func (a *Adapter) resolveTokenAccount(ctx context.Context, tx *solana.ParsedTransaction, account string) (owner, mint string, err error) {
	if owner, mint, ok := tx.TokenOwner(account); ok {
		return owner, mint, nil
	}

	info, err := a.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		return "", "", fmt.Errorf("get token account %s: %w", account, err)
	}
	if info == nil {
		return "", "", nil
	}
	return parseTokenAccount(info.Data)
}

// parseTokenAccount reads mint [0:32] and owner [32:64] of an SPL token account.
func parseTokenAccount(data string) (owner, mint string, err error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", "", fmt.Errorf("decode token account: %w", err)
	}
	if len(decoded) < solana.TokenAccountSize {
		return "", "", nil
	}
	var m, o solana.PublicKey
	copy(m[:], decoded[0:32])
	copy(o[:], decoded[32:64])
	return o.String(), m.String(), nil
}

// ValidateBurn reports whether signature moved exactly amount of mint out of
// the associated token account of owner.
func (a *Adapter) ValidateBurn(ctx context.Context, owner, mint string, amount uint64, signature string) (bool, error) {
	ownerKey, err := solana.ParsePublicKey(owner)
	if err != nil {
		return false, nil
	}
	mintKey, err := solana.ParsePublicKey(mint)
	if err != nil {
		return false, nil
	}
	ata, err := solana.AssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return false, err
	}

	transfers, err := a.TokenTransfers(ctx, signature)
	if err != nil {
		return false, err
	}
	for _, t := range transfers {
		if t.Source == ata.String() && t.Mint == mint && t.Amount == amount {
			return true, nil
		}
	}
	return false, nil
}

// SourceOfTransfer returns the first system transfer of signature into
// destination carrying at least minLamports, or nil.
func (a *Adapter) SourceOfTransfer(ctx context.Context, signature, destination string, minLamports uint64) (*SolTransfer, error) {
	transfers, err := a.SolTransfers(ctx, signature)
	if err != nil {
		return nil, err
	}
	for _, t := range transfers {
		if t.Destination != destination {
			continue
		}
		if t.Lamports < minLamports {
			return nil, nil
		}
		t := t
		return &t, nil
	}
	return nil, nil
}

// TransactionsSince returns the successful signatures touching address after
// until (exclusive), oldest first. An empty until returns the full history.
func (a *Adapter) TransactionsSince(ctx context.Context, address, until string) ([]string, error) {
	var newestFirst []solana.SignatureInfo
	before := ""
	for {
		page, err := a.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{
			Before:     before,
			Until:      until,
			Limit:      a.cfg.SignaturePageLimit,
			Commitment: a.cfg.Commitment,
		})
		if err != nil {
			return nil, fmt.Errorf("signatures for %s: %w", address, err)
		}
		newestFirst = append(newestFirst, page...)
		if len(page) < a.cfg.SignaturePageLimit {
			break
		}
		before = page[len(page)-1].Signature
	}

	out := make([]string, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		if newestFirst[i].Err != nil {
			continue
		}
		out = append(out, newestFirst[i].Signature)
	}
	return out, nil
}
