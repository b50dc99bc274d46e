// Copyright 2025 Certen Protocol
//
// Neo N3 transaction construction and dual-witness signing.

package neo

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// WitnessScopeCalledByEntry limits a signer's witness to the entry
// script, the scope used for both oracle signers.
const WitnessScopeCalledByEntry byte = 0x01

// Signer authorizes a transaction with a given scope.
type Signer struct {
	Account [20]byte
	Scope   byte
}

// Witness is a signer's invocation/verification script pair.
type Witness struct {
	Invocation   []byte
	Verification []byte
}

// Transaction is a Neo N3 transaction. Fees are denominated in
// fractions of GAS (1e-8 units).
type Transaction struct {
	Version         byte
	Nonce           uint32
	SystemFee       int64
	NetworkFee      int64
	ValidUntilBlock uint32
	Signers         []Signer
	Script          []byte
	Witnesses       []Witness
}

// SerializeUnsigned returns the canonical serialization without
// witnesses; this is what gets hashed and signed.
func (t *Transaction) SerializeUnsigned() []byte {
	var buf bytes.Buffer
	buf.WriteByte(t.Version)
	writeUint32(&buf, t.Nonce)
	writeUint64(&buf, uint64(t.SystemFee))
	writeUint64(&buf, uint64(t.NetworkFee))
	writeUint32(&buf, t.ValidUntilBlock)

	writeVarInt(&buf, uint64(len(t.Signers)))
	for _, s := range t.Signers {
		buf.Write(s.Account[:])
		buf.WriteByte(s.Scope)
	}

	writeVarInt(&buf, 0) // attributes

	writeVarBytes(&buf, t.Script)
	return buf.Bytes()
}

// Serialize returns the full wire form including witnesses.
func (t *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(t.SerializeUnsigned())
	writeVarInt(&buf, uint64(len(t.Witnesses)))
	for _, w := range t.Witnesses {
		writeVarBytes(&buf, w.Invocation)
		writeVarBytes(&buf, w.Verification)
	}
	return buf.Bytes()
}

// HashData is the SHA-256 of the unsigned serialization.
func (t *Transaction) HashData() [32]byte {
	return sha256.Sum256(t.SerializeUnsigned())
}

// Hash returns the display form of the transaction hash: 0x-prefixed,
// byte-reversed hex.
func (t *Transaction) Hash() string {
	h := t.HashData()
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	return "0x" + hex.EncodeToString(h[:])
}

// SignData is what each witness signs: the network magic followed by
// the transaction hash.
func (t *Transaction) SignData(magic uint32) []byte {
	out := make([]byte, 4, 36)
	binary.LittleEndian.PutUint32(out, magic)
	h := t.HashData()
	return append(out, h[:]...)
}

// SignWith appends a witness from the account. Witness order must match
// signer order; callers sign in the same sequence they listed signers.
func (t *Transaction) SignWith(account *Account, magic uint32) error {
	digest := sha256.Sum256(t.SignData(magic))
	sig, err := account.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("witness signing failed: %w", err)
	}

	inv := NewScriptBuilder()
	inv.EmitPushBytes(sig)
	t.Witnesses = append(t.Witnesses, Witness{
		Invocation:   inv.Bytes(),
		Verification: VerificationScript(account.PublicKey),
	})
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xFD:
		buf.WriteByte(byte(v))
	case v <= 0xFFFF:
		buf.WriteByte(0xFD)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case v <= 0xFFFFFFFF:
		buf.WriteByte(0xFE)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	default:
		buf.WriteByte(0xFF)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}
