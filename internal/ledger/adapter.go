package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"overunder/internal/solana"
)

// Config configures the Adapter.
type Config struct {
	Master     *solana.Keypair
	Commitment solana.Commitment

	// Priority fees in micro-lamports per compute unit. Zero omits the instruction.
	CreateUnitPrice   uint64
	SettleUnitPrice   uint64
	TransferUnitPrice uint64

	// ConfirmInterval is the signature status poll interval.
	ConfirmInterval time.Duration

	// SignaturePageLimit is the getSignaturesForAddress page size.
	SignaturePageLimit int

	Logger *log.Logger
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		Commitment:      solana.CommitmentConfirmed,
		CreateUnitPrice: 100_000,
		SettleUnitPrice: 50_000,
		ConfirmInterval: 500 * time.Millisecond,

		SignaturePageLimit: 1000,
	}
}

// Adapter implements Ledger over a solana.RPCClient.
type Adapter struct {
	rpc    solana.RPCClient
	cfg    Config
	logger *log.Logger
}

var _ Ledger = (*Adapter)(nil)

// NewAdapter creates a ledger adapter signing with cfg.Master.
func NewAdapter(rpc solana.RPCClient, cfg Config) (*Adapter, error) {
	if cfg.Master == nil {
		return nil, fmt.Errorf("ledger: master keypair is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solana.CommitmentConfirmed
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 500 * time.Millisecond
	}
	if cfg.SignaturePageLimit <= 0 || cfg.SignaturePageLimit > maxSignaturePageLimit {
		cfg.SignaturePageLimit = maxSignaturePageLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{rpc: rpc, cfg: cfg, logger: logger}, nil
}

// MasterAddress returns the master wallet address.
func (a *Adapter) MasterAddress() string {
	return a.cfg.Master.PublicKey().String()
}

// submit signs, sends and confirms instructions paid by payer.
func (a *Adapter) submit(ctx context.Context, ixs []solana.Instruction, payer *solana.Keypair, signers ...*solana.Keypair) (string, error) {
	bh, err := a.rpc.GetLatestBlockhash(ctx, a.cfg.Commitment)
	if err != nil {
		return "", fmt.Errorf("%w: get blockhash: %v", ErrSendFailed, err)
	}

	tx, err := solana.NewSignedTransaction(ixs, bh.Blockhash, payer, signers...)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	sig, err := a.rpc.SendTransaction(ctx, tx.Base64(), &solana.SendOpts{
		SkipPreflight:       true,
		PreflightCommitment: a.cfg.Commitment,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := a.ConfirmTransaction(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, err
	}
	return sig, nil
}

// ConfirmTransaction polls the signature status until the configured
// commitment is reached, the blockhash expires or ctx ends.
func (a *Adapter) ConfirmTransaction(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(a.cfg.ConfirmInterval)
	defer ticker.Stop()

	for {
		statuses, err := a.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err == nil && len(statuses) == 1 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, signature, st.Err)
			}
			if st.ConfirmationStatus.Reached(a.cfg.Commitment) {
				return nil
			}
		}

		height, err := a.rpc.GetBlockHeight(ctx, a.cfg.Commitment)
		if err == nil && height > lastValidBlockHeight {
			return fmt.Errorf("%w: %s", ErrBlockhashExpired, signature)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) withUnitPrice(price uint64, ixs ...solana.Instruction) []solana.Instruction {
	if price == 0 {
		return ixs
	}
	return append([]solana.Instruction{solana.SetComputeUnitPriceInstruction(price)}, ixs...)
}

// CreateGameAccounts funds both pots with rent, creates the two claim-token
// mints (decimals 9, master as mint and freeze authority) and the pot
// associated token accounts in one transaction.
func (a *Adapter) CreateGameAccounts(ctx context.Context, overPot, underPot *solana.Keypair) (*GameAccounts, error) {
	master := a.cfg.Master.PublicKey()

	overMint, err := solana.NewKeypair()
	if err != nil {
		return nil, err
	}
	underMint, err := solana.NewKeypair()
	if err != nil {
		return nil, err
	}

	overATA, err := solana.AssociatedTokenAddress(overPot.PublicKey(), overMint.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("derive over pot ata: %w", err)
	}
	underATA, err := solana.AssociatedTokenAddress(underPot.PublicKey(), underMint.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("derive under pot ata: %w", err)
	}

	rent, err := a.rpc.GetMinimumBalanceForRentExemption(ctx, solana.TokenAccountSize)
	if err != nil {
		return nil, fmt.Errorf("%w: rent exemption: %v", ErrSendFailed, err)
	}

	ixs := a.withUnitPrice(a.cfg.CreateUnitPrice,
		solana.TransferInstruction(master, overPot.PublicKey(), rent),
		solana.TransferInstruction(master, underPot.PublicKey(), rent),
		solana.CreateAccountInstruction(master, overMint.PublicKey(), rent, solana.MintAccountSize, solana.TokenProgramID),
		solana.CreateAccountInstruction(master, underMint.PublicKey(), rent, solana.MintAccountSize, solana.TokenProgramID),
		solana.InitializeMint2Instruction(overMint.PublicKey(), 9, master, &master),
		solana.InitializeMint2Instruction(underMint.PublicKey(), 9, master, &master),
		solana.CreateAssociatedTokenAccountInstruction(master, overATA, overPot.PublicKey(), overMint.PublicKey(), false),
		solana.CreateAssociatedTokenAccountInstruction(master, underATA, underPot.PublicKey(), underMint.PublicKey(), false),
	)

	sig, err := a.submit(ctx, ixs, a.cfg.Master, overMint, underMint)
	if err != nil {
		return nil, fmt.Errorf("create game accounts: %w", err)
	}
	a.logger.Printf("[ledger] created mints over=%s under=%s sig=%s", overMint.PublicKey(), underMint.PublicKey(), sig)

	return &GameAccounts{
		OverMint:    overMint,
		UnderMint:   underMint,
		OverPotATA:  overATA.String(),
		UnderPotATA: underATA.String(),
		Signature:   sig,
	}, nil
}

// MintTo mints amount claim-token base units to the associated account of
// owner, creating it if needed.
func (a *Adapter) MintTo(ctx context.Context, owner, mint string, amount uint64) (string, error) {
	ownerKey, err := solana.ParsePublicKey(owner)
	if err != nil {
		return "", err
	}
	mintKey, err := solana.ParsePublicKey(mint)
	if err != nil {
		return "", err
	}
	ata, err := solana.AssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return "", err
	}

	master := a.cfg.Master.PublicKey()
	ixs := a.withUnitPrice(a.cfg.TransferUnitPrice,
		solana.CreateAssociatedTokenAccountInstruction(master, ata, ownerKey, mintKey, true),
		solana.MintToInstruction(mintKey, ata, master, amount),
	)
	return a.submit(ctx, ixs, a.cfg.Master)
}

// TransferMany moves lamports from a pot to several recipients in one
// transaction. The pot pays the network fee.
func (a *Adapter) TransferMany(ctx context.Context, from *solana.Keypair, recipients []Recipient, memo string) (string, error) {
	var ixs []solana.Instruction
	if memo != "" {
		ixs = append(ixs, solana.MemoInstruction(memo))
	}
	for _, r := range recipients {
		if r.Lamports == 0 {
			continue
		}
		to, err := solana.ParsePublicKey(r.Address)
		if err != nil {
			return "", err
		}
		ixs = append(ixs, solana.TransferInstruction(from.PublicKey(), to, r.Lamports))
	}
	return a.submit(ctx, a.withUnitPrice(a.cfg.TransferUnitPrice, ixs...), from)
}

// SettleGame burns whatever claim tokens the pots hold, moves the whole
// losing pot into the winning pot and shrinks the losing account to zero
// data. Master pays; both pots sign.
func (a *Adapter) SettleGame(ctx context.Context, p SettleParams) (string, error) {
	winnerMint, err := solana.ParsePublicKey(p.WinnerMint)
	if err != nil {
		return "", err
	}
	loserMint, err := solana.ParsePublicKey(p.LoserMint)
	if err != nil {
		return "", err
	}

	var ixs []solana.Instruction
	for _, pot := range []struct {
		kp   *solana.Keypair
		mint solana.PublicKey
	}{{p.Winner, winnerMint}, {p.Loser, loserMint}} {
		ata, err := solana.AssociatedTokenAddress(pot.kp.PublicKey(), pot.mint)
		if err != nil {
			return "", err
		}
		held, err := a.TokenBalance(ctx, ata.String())
		if err != nil {
			return "", fmt.Errorf("%w: pot token balance: %v", ErrSendFailed, err)
		}
		if held > 0 {
			ixs = append(ixs, solana.BurnInstruction(ata, pot.mint, pot.kp.PublicKey(), held))
		}
	}

	loserLamports, err := a.rpc.GetBalance(ctx, p.Loser.PublicKey().String())
	if err != nil {
		return "", fmt.Errorf("%w: loser balance: %v", ErrSendFailed, err)
	}
	if loserLamports > 0 {
		ixs = append(ixs, solana.TransferInstruction(p.Loser.PublicKey(), p.Winner.PublicKey(), loserLamports))
	}
	ixs = append(ixs, solana.AllocateInstruction(p.Loser.PublicKey(), 0))
	if p.Memo != "" {
		ixs = append(ixs, solana.MemoInstruction(p.Memo))
	}

	return a.submit(ctx, a.withUnitPrice(a.cfg.SettleUnitPrice, ixs...), a.cfg.Master, p.Winner, p.Loser)
}

// Balance returns the lamports of address.
func (a *Adapter) Balance(ctx context.Context, address string) (uint64, error) {
	return a.rpc.GetBalance(ctx, address)
}

// TokenBalance returns the base-unit balance of a token account; a missing
// account counts as zero.
func (a *Adapter) TokenBalance(ctx context.Context, address string) (uint64, error) {
	amount, err := a.rpc.GetTokenAccountBalance(ctx, address)
	if err != nil {
		var rpcErr *solana.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == -32602 {
			return 0, nil
		}
		return 0, err
	}
	return amount.Uint64(), nil
}
