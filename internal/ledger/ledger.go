// Package ledger implements the game-level operations the settlement engine
// needs from the Solana ledger: account creation, mints, payouts, the
// settlement merge and the parsing of incoming transfers.
package ledger

import (
	"context"
	"errors"
	"strings"

	"overunder/internal/solana"
)

// Errors reported by the adapter. ErrBlockhashExpired and ErrSendFailed are
// transient; the engine retries the whole operation on them.
var (
	ErrBlockhashExpired  = errors.New("blockhash expired before confirmation")
	ErrSendFailed        = errors.New("send transaction failed")
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

// SolTransfer is one system transfer of a transaction.
type SolTransfer struct {
	Source      string
	Destination string
	Lamports    uint64
}

// TokenTransfer is one SPL token transfer of a transaction. Owner is the
// wallet owning the source token account.
type TokenTransfer struct {
	Owner       string
	Source      string
	Destination string
	Mint        string
	Amount      uint64
}

// Recipient of a TransferMany leg.
type Recipient struct {
	Address  string
	Lamports uint64
}

// GameAccounts is the result of CreateGameAccounts.
type GameAccounts struct {
	OverMint    *solana.Keypair
	UnderMint   *solana.Keypair
	OverPotATA  string
	UnderPotATA string
	Signature   string
}

// SettleParams describes the settlement merge of one game.
type SettleParams struct {
	Winner     *solana.Keypair
	Loser      *solana.Keypair
	WinnerMint string
	LoserMint  string
	Memo       string
}

// TokenMetadata of a reference token.
type TokenMetadata struct {
	Mint     string
	Name     string
	Symbol   string
	Decimals int
	Supply   uint64
}

// Ledger is what the engine, watchers and API consume.
type Ledger interface {
	// MasterAddress is the wallet that pays fees and owns mint authority.
	MasterAddress() string

	CreateGameAccounts(ctx context.Context, overPot, underPot *solana.Keypair) (*GameAccounts, error)
	MintTo(ctx context.Context, owner, mint string, amount uint64) (string, error)
	TransferMany(ctx context.Context, from *solana.Keypair, recipients []Recipient, memo string) (string, error)
	SettleGame(ctx context.Context, p SettleParams) (string, error)

	SolTransfers(ctx context.Context, signature string) ([]SolTransfer, error)
	TokenTransfers(ctx context.Context, signature string) ([]TokenTransfer, error)
	ValidateBurn(ctx context.Context, owner, mint string, amount uint64, signature string) (bool, error)
	SourceOfTransfer(ctx context.Context, signature, destination string, minLamports uint64) (*SolTransfer, error)
	TransactionsSince(ctx context.Context, address, until string) ([]string, error)

	Balance(ctx context.Context, address string) (uint64, error)
	TokenBalance(ctx context.Context, address string) (uint64, error)
	TokenMetadata(ctx context.Context, mint string) (*TokenMetadata, error)
}

// IsTransient reports whether err is a ledger failure worth retrying from
// the top of an operation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBlockhashExpired) || errors.Is(err, ErrSendFailed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32004, -32005, -32014:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"blockhash not found", "block height exceeded", "rate limited", "max retries exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
