// Copyright 2025 Certen Protocol
//
// Neo N3 account primitives: secp256r1 key handling, WIF encoding,
// verification scripts, script hashes, and base58check addresses.

package neo

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

const (
	// AddressVersion is the Neo N3 address version byte.
	AddressVersion byte = 0x35

	wifVersion        byte = 0x80
	wifCompressedFlag byte = 0x01
)

// ErrInvalidKey is returned for malformed private key material.
var ErrInvalidKey = errors.New("invalid private key")

// Account is a Neo identity: a secp256r1 key pair with its derived
// verification script, script hash, and address.
type Account struct {
	privateKey *ecdsa.PrivateKey
	PublicKey  []byte // 33-byte compressed encoding
	ScriptHash [20]byte
	Address    string
}

// NewAccount generates a fresh account.
func NewAccount() (*Account, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return accountFromKey(key)
}

// AccountFromKeyString accepts either a WIF or a 64-hex private key.
func AccountFromKeyString(s string) (*Account, error) {
	if len(s) == 64 {
		raw, err := hex.DecodeString(s)
		if err == nil {
			return accountFromRaw(raw)
		}
	}
	return AccountFromWIF(s)
}

// AccountFromWIF decodes a compressed-key WIF string.
func AccountFromWIF(wif string) (*Account, error) {
	data, err := base58.Decode(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: not base58", ErrInvalidKey)
	}
	// version + 32-byte key + compressed flag + 4-byte checksum
	if len(data) != 38 || data[0] != wifVersion || data[33] != wifCompressedFlag {
		return nil, fmt.Errorf("%w: unexpected WIF layout", ErrInvalidKey)
	}
	payload, checksum := data[:34], data[34:]
	if !checksumMatches(payload, checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidKey)
	}
	return accountFromRaw(data[1:33])
}

func accountFromRaw(raw []byte) (*Account, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(raw))
	}
	d := new(big.Int).SetBytes(raw)
	curve := elliptic.P256()
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidKey)
	}

	key := &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: curve}, D: d}
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(raw)
	return accountFromKey(key)
}

func accountFromKey(key *ecdsa.PrivateKey) (*Account, error) {
	pub := compressPublicKey(&key.PublicKey)
	script := VerificationScript(pub)
	hash := Hash160(script)
	return &Account{
		privateKey: key,
		PublicKey:  pub,
		ScriptHash: hash,
		Address:    AddressFromScriptHash(hash),
	}, nil
}

// WIF returns the compressed-key wallet import format encoding.
func (a *Account) WIF() string {
	payload := make([]byte, 0, 34)
	payload = append(payload, wifVersion)
	payload = append(payload, padTo32(a.privateKey.D.Bytes())...)
	payload = append(payload, wifCompressedFlag)
	return base58.Encode(append(payload, checksum(payload)...))
}

// Sign produces a 64-byte r||s secp256r1 signature over digest.
func (a *Account) Sign(digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, a.privateKey, digest)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	sig := make([]byte, 64)
	copy(sig[:32], padTo32(r.Bytes()))
	copy(sig[32:], padTo32(s.Bytes()))
	return sig, nil
}

// VerificationScript builds the single-signature verification script
// for a compressed public key: PUSHDATA1 <pubkey> SYSCALL CheckSig.
func VerificationScript(pubKey []byte) []byte {
	sb := NewScriptBuilder()
	sb.EmitPushBytes(pubKey)
	sb.EmitSysCall(InteropCheckSig)
	return sb.Bytes()
}

// Hash160 is ripemd160(sha256(b)), the script hashing used for
// contracts and accounts.
func Hash160(b []byte) [20]byte {
	sha := sha256.Sum256(b)
	rip := ripemd160.New()
	rip.Write(sha[:])
	var out [20]byte
	copy(out[:], rip.Sum(nil))
	return out
}

// AddressFromScriptHash encodes a script hash as a base58check address.
func AddressFromScriptHash(hash [20]byte) string {
	payload := make([]byte, 0, 21)
	payload = append(payload, AddressVersion)
	payload = append(payload, hash[:]...)
	return base58.Encode(append(payload, checksum(payload)...))
}

// ScriptHashFromAddress decodes a base58check address.
func ScriptHashFromAddress(address string) ([20]byte, error) {
	var out [20]byte
	data, err := base58.Decode(address)
	if err != nil {
		return out, fmt.Errorf("invalid address: %w", err)
	}
	if len(data) != 25 || data[0] != AddressVersion {
		return out, fmt.Errorf("invalid address layout")
	}
	if !checksumMatches(data[:21], data[21:]) {
		return out, fmt.Errorf("invalid address checksum")
	}
	copy(out[:], data[1:21])
	return out, nil
}

// Uint160FromHex parses a 0x-prefixed big-endian script hash string
// into its little-endian byte form used on the wire.
func Uint160FromHex(s string) ([20]byte, error) {
	var out [20]byte
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return out, fmt.Errorf("invalid script hash %q", s)
	}
	for i := 0; i < 20; i++ {
		out[i] = raw[19-i]
	}
	return out, nil
}

func compressPublicKey(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 33)
	if pub.Y.Bit(0) == 0 {
		out[0] = 0x02
	} else {
		out[0] = 0x03
	}
	copy(out[1:], padTo32(pub.X.Bytes()))
	return out
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func checksumMatches(payload, sum []byte) bool {
	expected := checksum(payload)
	for i := range expected {
		if expected[i] != sum[i] {
			return false
		}
	}
	return true
}
