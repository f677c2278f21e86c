package solana

import "encoding/binary"

// Account sizes used for rent calculations.
const (
	MintAccountSize  = 82
	TokenAccountSize = 165
)

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

func meta(pk PublicKey, signer, writable bool) AccountMeta {
	return AccountMeta{PublicKey: pk, IsSigner: signer, IsWritable: writable}
}

// System program instruction indexes (u32 little endian).
const (
	systemCreateAccount uint32 = 0
	systemTransfer      uint32 = 2
	systemAllocate      uint32 = 8
)

// TransferInstruction moves lamports between system accounts.
func TransferInstruction(from, to PublicKey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], systemTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{meta(from, true, true), meta(to, false, true)},
		Data:      data,
	}
}

// CreateAccountInstruction allocates a new account owned by owner.
func CreateAccountInstruction(from, newAccount PublicKey, lamports, space uint64, owner PublicKey) Instruction {
	data := make([]byte, 52)
	binary.LittleEndian.PutUint32(data[0:], systemCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{meta(from, true, true), meta(newAccount, true, true)},
		Data:      data,
	}
}

// AllocateInstruction sets the data size of a system account.
func AllocateInstruction(account PublicKey, space uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], systemAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{meta(account, true, true)},
		Data:      data,
	}
}

// SPL token instruction tags.
const (
	tokenMintTo          byte = 7
	tokenBurn            byte = 8
	tokenInitializeMint2 byte = 20
)

// InitializeMint2Instruction initialises a mint account.
func InitializeMint2Instruction(mint PublicKey, decimals uint8, mintAuthority PublicKey, freezeAuthority *PublicKey) Instruction {
	data := make([]byte, 0, 67)
	data = append(data, tokenInitializeMint2, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority != nil {
		data = append(data, 1)
		data = append(data, freezeAuthority[:]...)
	} else {
		data = append(data, 0)
	}
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts:  []AccountMeta{meta(mint, false, true)},
		Data:      data,
	}
}

// MintToInstruction mints amount base units into destination.
func MintToInstruction(mint, destination, authority PublicKey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = tokenMintTo
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			meta(mint, false, true),
			meta(destination, false, true),
			meta(authority, true, false),
		},
		Data: data,
	}
}

// BurnInstruction burns amount base units from a token account.
func BurnInstruction(account, mint, owner PublicKey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = tokenBurn
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			meta(account, false, true),
			meta(mint, false, true),
			meta(owner, true, false),
		},
		Data: data,
	}
}

// CreateAssociatedTokenAccountInstruction creates the ATA of owner for mint.
// With idempotent set the instruction succeeds when the account already exists.
func CreateAssociatedTokenAccountInstruction(payer, ata, owner, mint PublicKey, idempotent bool) Instruction {
	var data []byte
	if idempotent {
		data = []byte{1}
	}
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			meta(payer, true, true),
			meta(ata, false, true),
			meta(owner, false, false),
			meta(mint, false, false),
			meta(SystemProgramID, false, false),
			meta(TokenProgramID, false, false),
		},
		Data: data,
	}
}

// MemoInstruction attaches a UTF-8 memo to the transaction.
func MemoInstruction(memo string) Instruction {
	return Instruction{
		ProgramID: MemoProgramID,
		Data:      []byte(memo),
	}
}

// SetComputeUnitPriceInstruction sets the priority fee in micro-lamports per unit.
func SetComputeUnitPriceInstruction(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// SetComputeUnitLimitInstruction caps the compute units of the transaction.
func SetComputeUnitLimitInstruction(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}
