package domain

import "time"

// BuyRecord is an applied buy. Corresponds to buy_transactions table.
// Unique on Signature (the incoming SOL transfer).
type BuyRecord struct {
	ID             int64     `json:"id"`
	GameID         int64     `json:"gameId"`
	Wallet         string    `json:"solanaWalletAddress"`
	Side           Side      `json:"side"`
	Signature      string    `json:"solanaTxSignature"` // incoming transfer
	MintSignature  string    `json:"mintTxSignature"`   // claim-token mint payout
	TokenPrice     int64     `json:"tokenPrice"`
	TotalInSolana  int64     `json:"totalInSolana"` // gross lamports deposited
	TokensReceived int64     `json:"tokensReceived"`
	Fees           int64     `json:"fees"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SellRecord is an applied sell. Corresponds to sell_transactions table.
// Unique on BurnTxSignature (the incoming claim-token transfer).
type SellRecord struct {
	ID                int64     `json:"id"`
	GameID            int64     `json:"gameId"`
	Wallet            string    `json:"solanaWalletAddress"`
	Side              Side      `json:"side"`
	TokenPrice        int64     `json:"tokenPrice"`
	SellTokenAmount   int64     `json:"sellTokenAmount"`
	SolReceived       int64     `json:"solReceived"`
	Redistributed     int64     `json:"redistributed"`
	Fees              int64     `json:"fees"`
	BurnTxSignature   string    `json:"burnTxSignature"`
	SolanaTxSignature string    `json:"solanaTxSignature"` // payout
	CreatedAt         time.Time `json:"createdAt"`
}

// ClaimRecord is an applied post-settlement redemption.
// Corresponds to claim_transactions table. Unique on BurnTxSignature.
type ClaimRecord struct {
	ID                int64     `json:"id"`
	GameID            int64     `json:"gameId"`
	Wallet            string    `json:"solanaWalletAddress"`
	TargetWallet      string    `json:"targetSolanaWalletAddress"`
	Side              Side      `json:"side"`
	ClaimTokenAmount  int64     `json:"claimTokenAmount"`
	SolReceived       int64     `json:"solReceived"`
	Fees              int64     `json:"fees"`
	BurnTxSignature   string    `json:"burnTxSignature"`
	SolanaTxSignature string    `json:"solanaTxSignature"` // payout
	CreatedAt         time.Time `json:"createdAt"`
}

// Redeemable is the remaining winning-side balance of a wallet after settlement.
// Corresponds to redeemables table, keyed by (game_id, wallet).
type Redeemable struct {
	GameID          int64     `json:"gameId"`
	Wallet          string    `json:"solanaWalletAddress"`
	Side            Side      `json:"type"`
	TokenAddress    string    `json:"tokenAddress"`
	BalanceLeft     int64     `json:"balanceLeft"`
	ZeroBalanceLeft bool      `json:"zeroBalanceLeft"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SealedKeys holds the sealed secret keys of a game's pots and mints.
// Corresponds to game_secrets table. Values are opaque envelopes.
type SealedKeys struct {
	GameID    int64
	OverPot   []byte
	UnderPot  []byte
	OverMint  []byte
	UnderMint []byte
	CreatedAt time.Time
}
