package txn

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedTransaction is returned when transaction bytes fail to
// deserialize.
var ErrMalformedTransaction = errors.New("malformed transaction")

// appendCompactU16 appends a length in the compact-u16 encoding, seven
// bits per byte with a continuation bit.
func appendCompactU16(buf []byte, v uint16) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// readCompactU16 reads a compact-u16 length from r.
func readCompactU16(r *bytes.Reader) (uint16, error) {
	var v uint16
	for shift := 0; shift <= 14; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint16(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.New("compact-u16 too long")
}

// MessageHeader counts signer and readonly accounts. Account keys are
// ordered so the first NumRequiredSignatures keys must sign.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into the message's
// account key table.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed portion of a transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Blockhash
	Instructions    []CompiledInstruction
}

// Serialize returns the message wire bytes. These are also the bytes
// external custody signs.
func (m *Message) Serialize() []byte {
	buf := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}

	buf = appendCompactU16(buf, uint16(len(m.AccountKeys)))
	for _, key := range m.AccountKeys {
		buf = append(buf, key[:]...)
	}

	buf = append(buf, m.RecentBlockhash[:]...)

	buf = appendCompactU16(buf, uint16(len(m.Instructions)))
	for _, ins := range m.Instructions {
		buf = append(buf, ins.ProgramIDIndex)
		buf = appendCompactU16(buf, uint16(len(ins.Accounts)))
		buf = append(buf, ins.Accounts...)
		buf = appendCompactU16(buf, uint16(len(ins.Data)))
		buf = append(buf, ins.Data...)
	}
	return buf
}

// Transaction is a signature table plus its message. Unapplied
// signature slots hold zero bytes.
type Transaction struct {
	Signatures [][]byte
	Message    Message
}

// Serialize returns the full transaction wire bytes.
func (t *Transaction) Serialize() []byte {
	buf := appendCompactU16(nil, uint16(len(t.Signatures)))
	for _, sig := range t.Signatures {
		if len(sig) == SignatureSize {
			buf = append(buf, sig...)
		} else {
			buf = append(buf, make([]byte, SignatureSize)...)
		}
	}
	return append(buf, t.Message.Serialize()...)
}

// Deserialize parses transaction wire bytes.
func Deserialize(data []byte) (*Transaction, error) {
	r := bytes.NewReader(data)

	sigCount, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("%w: signature count: %v", ErrMalformedTransaction, err)
	}
	tx := &Transaction{Signatures: make([][]byte, sigCount)}
	for i := range tx.Signatures {
		sig := make([]byte, SignatureSize)
		if _, err := io.ReadFull(r, sig); err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrMalformedTransaction, i, err)
		}
		tx.Signatures[i] = sig
	}

	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedTransaction, err)
	}
	tx.Message.Header = MessageHeader{
		NumRequiredSignatures:       header[0],
		NumReadonlySignedAccounts:   header[1],
		NumReadonlyUnsignedAccounts: header[2],
	}

	keyCount, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("%w: account count: %v", ErrMalformedTransaction, err)
	}
	tx.Message.AccountKeys = make([]PublicKey, keyCount)
	for i := range tx.Message.AccountKeys {
		if _, err := io.ReadFull(r, tx.Message.AccountKeys[i][:]); err != nil {
			return nil, fmt.Errorf("%w: account %d: %v", ErrMalformedTransaction, i, err)
		}
	}

	if _, err := io.ReadFull(r, tx.Message.RecentBlockhash[:]); err != nil {
		return nil, fmt.Errorf("%w: blockhash: %v", ErrMalformedTransaction, err)
	}

	insCount, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("%w: instruction count: %v", ErrMalformedTransaction, err)
	}
	tx.Message.Instructions = make([]CompiledInstruction, insCount)
	for i := range tx.Message.Instructions {
		ins := &tx.Message.Instructions[i]

		ins.ProgramIDIndex, err = r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: %v", ErrMalformedTransaction, i, err)
		}

		accCount, err := readCompactU16(r)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d accounts: %v", ErrMalformedTransaction, i, err)
		}
		ins.Accounts = make([]uint8, accCount)
		if _, err := io.ReadFull(r, ins.Accounts); err != nil {
			return nil, fmt.Errorf("%w: instruction %d accounts: %v", ErrMalformedTransaction, i, err)
		}

		dataLen, err := readCompactU16(r)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d data: %v", ErrMalformedTransaction, i, err)
		}
		ins.Data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, ins.Data); err != nil {
			return nil, fmt.Errorf("%w: instruction %d data: %v", ErrMalformedTransaction, i, err)
		}
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.Len())
	}
	return tx, nil
}
