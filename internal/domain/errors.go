package domain

import "errors"

// Errors surfaced to callers as rejected operations.
var (
	ErrInvalidSignatureForInitiateGame   = errors.New("invalid signature for initiate game")
	ErrInvalidContractAddress            = errors.New("invalid contract address")
	ErrGameAlreadyActive                 = errors.New("game is on fight")
	ErrInitiationSignatureUsed           = errors.New("signature has been initiated")
	ErrTransactionSignatureAlreadyExists = errors.New("transaction signature already exists")
	ErrTransactionSignatureNotExists     = errors.New("transaction signature not exists")
	ErrNoActiveGame                      = errors.New("no active game")
	ErrGameIsNotEnded                    = errors.New("game is not ended")
	ErrZeroGameTokenSupply               = errors.New("zero game token supply")
	ErrNoClaimableSolInGame              = errors.New("no claimable sol in game")
	ErrInvalidTransaction                = errors.New("invalid transaction")
	ErrNoValidTransfer                   = errors.New("no valid transfer to over or under address")
	ErrRouteNotFound                     = errors.New("route not found")
	ErrFailedGetPriceInUsd               = errors.New("failed to get solana price in usd")
)

// ErrRetriesExhausted wraps the last transient ledger error once the engine
// gives up retrying an operation.
var ErrRetriesExhausted = errors.New("retries exhausted")

var clientErrors = []error{
	ErrInvalidSignatureForInitiateGame,
	ErrInvalidContractAddress,
	ErrGameAlreadyActive,
	ErrInitiationSignatureUsed,
	ErrTransactionSignatureAlreadyExists,
	ErrTransactionSignatureNotExists,
	ErrNoActiveGame,
	ErrGameIsNotEnded,
	ErrZeroGameTokenSupply,
	ErrNoClaimableSolInGame,
	ErrInvalidTransaction,
	ErrNoValidTransfer,
	ErrRouteNotFound,
}

// IsClientError reports whether err is a validation failure the caller caused.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
