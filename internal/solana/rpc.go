package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the ledger adapter.
type RPCClient interface {
	// GetLatestBlockhash returns a recent blockhash and its expiry height.
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error)

	// GetBlockHeight returns the current block height.
	GetBlockHeight(ctx context.Context, commitment Commitment) (uint64, error)

	// SendTransaction submits a base64 wire transaction and returns its signature.
	SendTransaction(ctx context.Context, encoded string, opts *SendOpts) (string, error)

	// GetSignatureStatuses returns the status of each signature, nil when unknown.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetParsedTransaction retrieves a jsonParsed transaction. Returns nil if not found.
	GetParsedTransaction(ctx context.Context, signature string, commitment Commitment) (*ParsedTransaction, error)

	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenAccountBalance returns the balance of a token account.
	GetTokenAccountBalance(ctx context.Context, address string) (*TokenAmount, error)

	// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for size bytes.
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)

	// GetAccountInfo retrieves raw account data. Returns nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}
