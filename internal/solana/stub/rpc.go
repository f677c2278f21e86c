// Package stub provides an in-memory solana.RPCClient for tests.
package stub

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"overunder/internal/solana"
)

// ErrInsufficientFunds is returned by SendTransaction when a transfer overdraws.
var ErrInsufficientFunds = errors.New("insufficient funds")

// RentPerByte approximates rent-exempt minimums.
const RentPerByte = 6960

// Sent is a transaction accepted by SendTransaction.
type Sent struct {
	Signature string
	Tx        *solana.SignedTransaction
	Memos     []string
}

// RPC implements solana.RPCClient over in-memory balances. Sent transactions
// are executed for system transfers, createAccount, mintTo and burn, and
// become readable through GetParsedTransaction and GetSignaturesForAddress.
type RPC struct {
	mu sync.Mutex

	Balances      map[string]uint64
	TokenBalances map[string]uint64
	Accounts      map[string]*solana.AccountInfo
	Transactions  map[string]*solana.ParsedTransaction
	Signatures    map[string][]solana.SignatureInfo // newest first
	Statuses      map[string]*solana.SignatureStatus

	Sent        []Sent
	BlockHeight uint64

	// SendErrs are returned by successive SendTransaction calls before any succeeds.
	SendErrs []error

	slot    int64
	counter uint64
}

var _ solana.RPCClient = (*RPC)(nil)

// NewRPC creates an empty ledger.
func NewRPC() *RPC {
	return &RPC{
		Balances:      make(map[string]uint64),
		TokenBalances: make(map[string]uint64),
		Accounts:      make(map[string]*solana.AccountInfo),
		Transactions:  make(map[string]*solana.ParsedTransaction),
		Signatures:    make(map[string][]solana.SignatureInfo),
		Statuses:      make(map[string]*solana.SignatureStatus),
		BlockHeight:   1000,
	}
}

// SetBalance sets the lamports of an address.
func (c *RPC) SetBalance(address string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[address] = lamports
}

// SetTokenBalance sets the base-unit balance of a token account.
func (c *RPC) SetTokenBalance(address string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenBalances[address] = amount
}

// AddTransaction registers a transaction and indexes it under every account
// key it touches.
func (c *RPC) AddTransaction(tx *solana.ParsedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addTransactionLocked(tx)
}

func (c *RPC) addTransactionLocked(tx *solana.ParsedTransaction) {
	c.slot++
	if tx.Slot == 0 {
		tx.Slot = c.slot
	}
	c.Transactions[tx.Signature] = tx
	c.Statuses[tx.Signature] = &solana.SignatureStatus{
		Slot:               tx.Slot,
		Err:                tx.Err,
		ConfirmationStatus: solana.CommitmentFinalized,
	}

	seen := make(map[string]bool)
	for _, k := range tx.AccountKeys {
		if seen[k] {
			continue
		}
		seen[k] = true
		info := solana.SignatureInfo{Signature: tx.Signature, Slot: tx.Slot, BlockTime: tx.BlockTime, Err: tx.Err}
		c.Signatures[k] = append([]solana.SignatureInfo{info}, c.Signatures[k]...)
	}
}

// Memos returns the memos of every sent transaction in order.
func (c *RPC) Memos() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.Sent {
		out = append(out, s.Memos...)
	}
	return out
}

// GetLatestBlockhash returns a fresh random-looking blockhash.
func (c *RPC) GetLatestBlockhash(_ context.Context, _ solana.Commitment) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	var hash [32]byte
	binary.LittleEndian.PutUint64(hash[:], c.counter)
	hash[31] = 1
	return &solana.Blockhash{
		Blockhash:            base58.Encode(hash[:]),
		LastValidBlockHeight: c.BlockHeight + 150,
	}, nil
}

// GetBlockHeight returns BlockHeight.
func (c *RPC) GetBlockHeight(_ context.Context, _ solana.Commitment) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BlockHeight, nil
}

// SendTransaction decodes and executes the transaction.
func (c *RPC) SendTransaction(_ context.Context, encoded string, _ *solana.SendOpts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	tx, err := solana.DecodeTransaction(raw)
	if err != nil {
		return "", err
	}
	if len(tx.Signatures) == 0 {
		return "", errors.New("unsigned transaction")
	}

	parsed, memos, err := c.execute(tx)
	if err != nil {
		return "", err
	}

	sig := tx.Signature()
	parsed.Signature = sig
	c.addTransactionLocked(parsed)
	c.Sent = append(c.Sent, Sent{Signature: sig, Tx: tx, Memos: memos})
	return sig, nil
}

// execute applies the instructions against a copy of the balances and
// commits only when every instruction succeeds.
func (c *RPC) execute(tx *solana.SignedTransaction) (*solana.ParsedTransaction, []string, error) {
	msg := tx.Message
	keys := make([]string, len(msg.AccountKeys))
	for i, k := range msg.AccountKeys {
		keys[i] = k.String()
	}

	lamports := make(map[string]uint64, len(c.Balances))
	for k, v := range c.Balances {
		lamports[k] = v
	}
	tokens := make(map[string]uint64, len(c.TokenBalances))
	for k, v := range c.TokenBalances {
		tokens[k] = v
	}

	parsed := &solana.ParsedTransaction{AccountKeys: keys}
	var memos []string

	for _, ix := range msg.Instructions {
		program := msg.AccountKeys[ix.ProgramIDIndex]
		acct := func(i int) string { return keys[ix.Accounts[i]] }
		pi := solana.ParsedInstruction{ProgramID: program.String()}

		switch {
		case program == solana.SystemProgramID && len(ix.Data) >= 12:
			tag := binary.LittleEndian.Uint32(ix.Data)
			amount := binary.LittleEndian.Uint64(ix.Data[4:])
			switch tag {
			case 0, 2:
				from, to := acct(0), acct(1)
				if lamports[from] < amount {
					return nil, nil, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, lamports[from], amount)
				}
				lamports[from] -= amount
				lamports[to] += amount
				typ := "transfer"
				if tag == 0 {
					typ = "createAccount"
				}
				pi.Program = "system"
				pi.Parsed = mustJSON(map[string]interface{}{
					"type": typ,
					"info": map[string]interface{}{"source": from, "destination": to, "lamports": amount},
				})
			default:
				pi.Program = "system"
			}
		case program == solana.TokenProgramID && len(ix.Data) >= 9 && (ix.Data[0] == 7 || ix.Data[0] == 8):
			amount := binary.LittleEndian.Uint64(ix.Data[1:])
			pi.Program = "spl-token"
			if ix.Data[0] == 7 {
				tokens[acct(1)] += amount
				pi.Parsed = mustJSON(map[string]interface{}{
					"type": "mintTo",
					"info": map[string]interface{}{"mint": acct(0), "account": acct(1), "mintAuthority": acct(2), "amount": fmt.Sprint(amount)},
				})
			} else {
				if tokens[acct(0)] < amount {
					return nil, nil, fmt.Errorf("%w: token account %s", ErrInsufficientFunds, acct(0))
				}
				tokens[acct(0)] -= amount
				pi.Parsed = mustJSON(map[string]interface{}{
					"type": "burn",
					"info": map[string]interface{}{"account": acct(0), "mint": acct(1), "authority": acct(2), "amount": fmt.Sprint(amount)},
				})
			}
		case program == solana.MemoProgramID:
			memos = append(memos, string(ix.Data))
			pi.Program = "spl-memo"
			pi.Parsed = mustJSON(string(ix.Data))
		default:
			for _, a := range ix.Accounts {
				pi.Accounts = append(pi.Accounts, keys[a])
			}
			pi.Data = base58.Encode(ix.Data)
		}
		parsed.Instructions = append(parsed.Instructions, pi)
	}

	c.Balances = lamports
	c.TokenBalances = tokens
	return parsed, memos, nil
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// GetSignatureStatuses returns the recorded statuses.
func (c *RPC) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		out[i] = c.Statuses[s]
	}
	return out, nil
}

// GetParsedTransaction returns a registered transaction, nil when unknown.
func (c *RPC) GetParsedTransaction(_ context.Context, signature string, _ solana.Commitment) (*solana.ParsedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[signature], nil
}

// GetSignaturesForAddress returns signatures newest first, stopping before
// opts.Until and honouring opts.Before and opts.Limit.
func (c *RPC) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.Signatures[address]
	var out []solana.SignatureInfo
	started := opts == nil || opts.Before == ""
	for _, s := range all {
		if !started {
			started = s.Signature == opts.Before
			continue
		}
		if opts != nil && opts.Until != "" && s.Signature == opts.Until {
			break
		}
		out = append(out, s)
		if opts != nil && opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetBalance returns the lamports of address.
func (c *RPC) GetBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[address], nil
}

// GetTokenAccountBalance returns the token balance of address.
func (c *RPC) GetTokenAccountBalance(_ context.Context, address string) (*solana.TokenAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &solana.TokenAmount{Amount: fmt.Sprint(c.TokenBalances[address]), Decimals: 9}, nil
}

// GetMinimumBalanceForRentExemption returns (size+128) * RentPerByte.
func (c *RPC) GetMinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return (size + 128) * RentPerByte, nil
}

// GetAccountInfo returns a registered account, nil when unknown.
func (c *RPC) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}
