package txn

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AccountMeta describes how an instruction touches one account.
type AccountMeta struct {
	PubKey     PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is an uncompiled instruction targeting one program.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// System program instruction discriminators (little-endian u32 prefix).
const (
	sysInstrTransfer     = 2
	sysInstrAdvanceNonce = 4
)

// Token program transfer discriminator (single byte).
const tokenInstrTransfer = 3

// NewTransferInstruction moves lamports between system accounts.
func NewTransferInstruction(from, to PublicKey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], sysInstrTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{PubKey: from, IsSigner: true, IsWritable: true},
			{PubKey: to, IsWritable: true},
		},
		Data: data,
	}
}

// NewAdvanceNonceInstruction consumes the stored durable nonce,
// rotating the nonce account to a new value. Durable-nonce
// transactions must place this first.
func NewAdvanceNonceInstruction(nonceAccount, authority PublicKey) Instruction {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, sysInstrAdvanceNonce)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{PubKey: nonceAccount, IsWritable: true},
			{PubKey: RecentBlockhashesSysvarID},
			{PubKey: authority, IsSigner: true},
		},
		Data: data,
	}
}

// NewTokenTransferInstruction moves tokens between token accounts.
func NewTokenTransferInstruction(source, destination, owner PublicKey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = tokenInstrTransfer
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			{PubKey: source, IsWritable: true},
			{PubKey: destination, IsWritable: true},
			{PubKey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// NewCreateAssociatedTokenAccountInstruction creates the token account
// for a wallet and mint if it does not already exist (idempotent
// variant, discriminator 1).
func NewCreateAssociatedTokenAccountInstruction(payer, tokenAccount, wallet, mint PublicKey) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			{PubKey: payer, IsSigner: true, IsWritable: true},
			{PubKey: tokenAccount, IsWritable: true},
			{PubKey: wallet},
			{PubKey: mint},
			{PubKey: SystemProgramID},
			{PubKey: TokenProgramID},
		},
		Data: []byte{1},
	}
}

// NewCastVoteInstruction records a governance vote. The vote account
// transfers the choice value to the proposal account; the governance
// program interprets the amount as the selected option.
func NewCastVoteInstruction(voteAccount, proposal PublicKey, choice uint8) Instruction {
	return NewTransferInstruction(voteAccount, proposal, uint64(choice))
}

// NewTransaction compiles instructions into an unsigned transaction
// with feePayer as the first account key. The signature table is sized
// from the header and zero-filled.
func NewTransaction(instructions []Instruction, feePayer PublicKey, blockhash Blockhash) (*Transaction, error) {
	if len(instructions) == 0 {
		return nil, errors.New("no instructions")
	}
	if feePayer.IsZero() {
		return nil, errors.New("fee payer is required")
	}

	// Collect unique accounts in first-appearance order, merging
	// signer/writable flags. The fee payer always leads.
	type flags struct {
		signer   bool
		writable bool
	}
	order := []PublicKey{feePayer}
	merged := map[PublicKey]*flags{
		feePayer: {signer: true, writable: true},
	}
	note := func(m AccountMeta) {
		f, ok := merged[m.PubKey]
		if !ok {
			f = &flags{}
			merged[m.PubKey] = f
			order = append(order, m.PubKey)
		}
		f.signer = f.signer || m.IsSigner
		f.writable = f.writable || m.IsWritable
	}
	for _, ins := range instructions {
		for _, m := range ins.Accounts {
			note(m)
		}
		note(AccountMeta{PubKey: ins.ProgramID})
	}

	// Stable partition: writable signers, readonly signers, writable
	// non-signers, readonly non-signers.
	var keys []PublicKey
	for _, pick := range []flags{
		{signer: true, writable: true},
		{signer: true, writable: false},
		{signer: false, writable: true},
		{signer: false, writable: false},
	} {
		for _, key := range order {
			f := merged[key]
			if f.signer == pick.signer && f.writable == pick.writable {
				keys = append(keys, key)
			}
		}
	}

	var header MessageHeader
	for _, key := range keys {
		f := merged[key]
		if f.signer {
			header.NumRequiredSignatures++
			if !f.writable {
				header.NumReadonlySignedAccounts++
			}
		} else if !f.writable {
			header.NumReadonlyUnsignedAccounts++
		}
	}

	index := make(map[PublicKey]uint8, len(keys))
	for i, key := range keys {
		index[key] = uint8(i)
	}

	compiled := make([]CompiledInstruction, 0, len(instructions))
	for _, ins := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ins.ProgramID],
			Accounts:       make([]uint8, 0, len(ins.Accounts)),
			Data:           ins.Data,
		}
		for _, m := range ins.Accounts {
			ci.Accounts = append(ci.Accounts, index[m.PubKey])
		}
		compiled = append(compiled, ci)
	}

	if len(keys) > 255 {
		return nil, fmt.Errorf("too many accounts: %d", len(keys))
	}

	tx := &Transaction{
		Signatures: make([][]byte, header.NumRequiredSignatures),
		Message: Message{
			Header:          header,
			AccountKeys:     keys,
			RecentBlockhash: blockhash,
			Instructions:    compiled,
		},
	}
	for i := range tx.Signatures {
		tx.Signatures[i] = make([]byte, SignatureSize)
	}
	return tx, nil
}
