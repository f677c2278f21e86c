package solana

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// MessageHeader counts signer and read-only accounts of a message.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash [32]byte
	Instructions    []CompiledInstruction
}

// NewMessage compiles instructions into a legacy message paid by payer.
func NewMessage(payer PublicKey, instructions []Instruction, recentBlockhash string) (*Message, error) {
	hash, err := base58.Decode(recentBlockhash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("invalid recent blockhash %q", recentBlockhash)
	}

	type entry struct {
		key      PublicKey
		signer   bool
		writable bool
	}
	var entries []*entry
	index := make(map[PublicKey]*entry)
	add := func(m AccountMeta) {
		if e, ok := index[m.PublicKey]; ok {
			e.signer = e.signer || m.IsSigner
			e.writable = e.writable || m.IsWritable
			return
		}
		e := &entry{key: m.PublicKey, signer: m.IsSigner, writable: m.IsWritable}
		index[m.PublicKey] = e
		entries = append(entries, e)
	}

	add(AccountMeta{PublicKey: payer, IsSigner: true, IsWritable: true})
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a)
		}
		add(AccountMeta{PublicKey: ix.ProgramID})
	}

	// payer is entries[0] and always a writable signer, so it stays first
	var ordered []PublicKey
	var header MessageHeader
	classes := []struct{ signer, writable bool }{
		{true, true}, {true, false}, {false, true}, {false, false},
	}
	for _, class := range classes {
		for _, e := range entries {
			if e.signer != class.signer || e.writable != class.writable {
				continue
			}
			ordered = append(ordered, e.key)
			switch {
			case e.signer && e.writable:
				header.NumRequiredSignatures++
			case e.signer:
				header.NumRequiredSignatures++
				header.NumReadonlySignedAccounts++
			case !e.writable:
				header.NumReadonlyUnsignedAccounts++
			}
		}
	}
	if len(ordered) > 256 {
		return nil, fmt.Errorf("too many accounts: %d", len(ordered))
	}

	position := make(map[PublicKey]uint8, len(ordered))
	for i, k := range ordered {
		position[k] = uint8(i)
	}

	msg := &Message{Header: header, AccountKeys: ordered}
	copy(msg.RecentBlockhash[:], hash)
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID],
			Data:           ix.Data,
		}
		for _, a := range ix.Accounts {
			ci.Accounts = append(ci.Accounts, position[a.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Serialize encodes the message in wire format.
func (m *Message) Serialize() []byte {
	buf := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}
	buf = appendShortVec(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendShortVec(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendShortVec(buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		buf = appendShortVec(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Signers returns the accounts whose signatures the message requires.
func (m *Message) Signers() []PublicKey {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

// ErrMissingSigner is returned when a required signer was not supplied.
var ErrMissingSigner = errors.New("missing signer")

// SignedTransaction is a message with its signatures.
type SignedTransaction struct {
	Signatures [][]byte
	Message    *Message
}

// NewSignedTransaction compiles and signs instructions. The first signer's key
// must be the fee payer.
func NewSignedTransaction(instructions []Instruction, recentBlockhash string, payer *Keypair, signers ...*Keypair) (*SignedTransaction, error) {
	msg, err := NewMessage(payer.PublicKey(), instructions, recentBlockhash)
	if err != nil {
		return nil, err
	}

	byKey := map[PublicKey]*Keypair{payer.PublicKey(): payer}
	for _, s := range signers {
		if s != nil {
			byKey[s.PublicKey()] = s
		}
	}

	payload := msg.Serialize()
	tx := &SignedTransaction{Message: msg}
	for _, k := range msg.Signers() {
		kp, ok := byKey[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, k)
		}
		tx.Signatures = append(tx.Signatures, kp.Sign(payload))
	}
	return tx, nil
}

// Signature returns the transaction id (first signature, base58).
func (tx *SignedTransaction) Signature() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0])
}

// Serialize encodes the signed transaction in wire format.
func (tx *SignedTransaction) Serialize() []byte {
	buf := appendShortVec(nil, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf = append(buf, s...)
	}
	return append(buf, tx.Message.Serialize()...)
}

// Base64 returns the wire encoding as base64, as sendTransaction expects.
func (tx *SignedTransaction) Base64() string {
	return base64.StdEncoding.EncodeToString(tx.Serialize())
}

// appendShortVec appends the compact-u16 length encoding.
func appendShortVec(buf []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// ErrMalformedTransaction is returned by DecodeTransaction on truncated input.
var ErrMalformedTransaction = errors.New("malformed transaction")

// DecodeTransaction parses a wire-format legacy transaction.
func DecodeTransaction(raw []byte) (*SignedTransaction, error) {
	r := &wireReader{buf: raw}

	n := r.shortVec()
	tx := &SignedTransaction{Message: &Message{}}
	for i := 0; i < n; i++ {
		tx.Signatures = append(tx.Signatures, r.bytes(64))
	}

	msg := tx.Message
	h := r.bytes(3)
	if h != nil {
		msg.Header = MessageHeader{h[0], h[1], h[2]}
	}
	keys := r.shortVec()
	for i := 0; i < keys; i++ {
		var pk PublicKey
		copy(pk[:], r.bytes(32))
		msg.AccountKeys = append(msg.AccountKeys, pk)
	}
	copy(msg.RecentBlockhash[:], r.bytes(32))

	ixs := r.shortVec()
	for i := 0; i < ixs; i++ {
		var ci CompiledInstruction
		if b := r.bytes(1); b != nil {
			ci.ProgramIDIndex = b[0]
		}
		ci.Accounts = r.bytes(r.shortVec())
		ci.Data = r.bytes(r.shortVec())
		msg.Instructions = append(msg.Instructions, ci)
	}

	if r.err {
		return nil, ErrMalformedTransaction
	}
	return tx, nil
}

type wireReader struct {
	buf []byte
	pos int
	err bool
}

func (r *wireReader) bytes(n int) []byte {
	if r.err || r.pos+n > len(r.buf) {
		r.err = true
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *wireReader) shortVec() int {
	var n, shift int
	for {
		b := r.bytes(1)
		if b == nil {
			return 0
		}
		n |= int(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			return n
		}
		shift += 7
		if shift > 14 {
			r.err = true
			return 0
		}
	}
}
