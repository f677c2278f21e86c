package solana

import (
	"encoding/json"
	"strconv"
)

// Commitment is the confirmation level of a query.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Reached reports whether status c satisfies the wanted commitment.
func (c Commitment) Reached(wanted Commitment) bool {
	rank := map[Commitment]int{CommitmentProcessed: 1, CommitmentConfirmed: 2, CommitmentFinalized: 3}
	return rank[c] >= rank[wanted]
}

// Blockhash from getLatestBlockhash.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// SendOpts configures sendTransaction.
type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
	MaxRetries          *int
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int64
	Err                interface{}
	ConfirmationStatus Commitment
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before     string // Start searching backwards from this signature
	Until      string // Search until this signature
	Limit      int    // Maximum number of signatures to return
	Commitment Commitment
}

// TokenAmount from getTokenAccountBalance and parsed token instructions.
type TokenAmount struct {
	Amount   string  `json:"amount"`
	Decimals int     `json:"decimals"`
	UiAmount float64 `json:"uiAmount"`
}

// Uint64 parses the raw base-unit amount.
func (t *TokenAmount) Uint64() uint64 {
	if t == nil {
		return 0
	}
	v, _ := strconv.ParseUint(t.Amount, 10, 64)
	return v
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// ParsedTransaction is a transaction fetched with jsonParsed encoding.
type ParsedTransaction struct {
	Slot         int64
	BlockTime    *int64
	Signature    string
	Err          interface{}
	AccountKeys  []string
	Instructions []ParsedInstruction
	PreBalances  []TokenBalance
	PostBalances []TokenBalance
}

// Failed reports whether the transaction executed with an error.
func (tx *ParsedTransaction) Failed() bool {
	return tx.Err != nil
}

// TokenOwner returns the owner of a token account as recorded in the
// transaction's token balances.
func (tx *ParsedTransaction) TokenOwner(account string) (owner, mint string, ok bool) {
	for _, list := range [][]TokenBalance{tx.PreBalances, tx.PostBalances} {
		for _, b := range list {
			if b.AccountIndex < len(tx.AccountKeys) && tx.AccountKeys[b.AccountIndex] == account && b.Owner != "" {
				return b.Owner, b.Mint, true
			}
		}
	}
	return "", "", false
}

// TokenBalance is a pre/post token balance entry of a transaction.
type TokenBalance struct {
	AccountIndex  int         `json:"accountIndex"`
	Mint          string      `json:"mint"`
	Owner         string      `json:"owner"`
	UiTokenAmount TokenAmount `json:"uiTokenAmount"`
}

// ParsedInstruction is one top-level instruction. Parsed holds
// {"type":..., "info":...} for programs the node can parse, a plain
// string for memos, and is empty otherwise.
type ParsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
	Accounts  []string        `json:"accounts"`
	Data      string          `json:"data"`
}

// Decode returns the instruction type and info of a parsed instruction.
func (ix *ParsedInstruction) Decode() (string, json.RawMessage, bool) {
	if len(ix.Parsed) == 0 || ix.Parsed[0] != '{' {
		return "", nil, false
	}
	var p struct {
		Type string          `json:"type"`
		Info json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(ix.Parsed, &p); err != nil {
		return "", nil, false
	}
	return p.Type, p.Info, true
}

// AccountNotification is delivered when a subscribed account changes.
type AccountNotification struct {
	Address  string
	Slot     int64
	Lamports uint64
}
