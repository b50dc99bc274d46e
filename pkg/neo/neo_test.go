// Copyright 2025 Certen Protocol
//
// Unit tests for Neo account primitives, script building, and
// transaction serialization.

package neo

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

// ============================================================================
// Accounts and addresses
// ============================================================================

func TestWIFRoundTrip(t *testing.T) {
	account, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to generate account: %v", err)
	}

	restored, err := AccountFromWIF(account.WIF())
	if err != nil {
		t.Fatalf("Failed to restore from WIF: %v", err)
	}
	if restored.Address != account.Address {
		t.Errorf("Address mismatch after WIF round trip: %s vs %s", restored.Address, account.Address)
	}
	if !bytes.Equal(restored.PublicKey, account.PublicKey) {
		t.Error("Public key mismatch after WIF round trip")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	account, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to generate account: %v", err)
	}

	hash, err := ScriptHashFromAddress(account.Address)
	if err != nil {
		t.Fatalf("Failed to decode address: %v", err)
	}
	if hash != account.ScriptHash {
		t.Error("Script hash mismatch after address round trip")
	}
}

func TestAddressRejectsTampering(t *testing.T) {
	account, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to generate account: %v", err)
	}

	tampered := "N" + account.Address[2:] + "x"
	if _, err := ScriptHashFromAddress(tampered); err == nil {
		t.Error("Tampered address must not decode")
	}
}

func TestVerificationScriptShape(t *testing.T) {
	account, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to generate account: %v", err)
	}

	script := VerificationScript(account.PublicKey)
	// PUSHDATA1 33 <pubkey> SYSCALL <4-byte id>
	if len(script) != 2+33+5 {
		t.Fatalf("Unexpected verification script length %d", len(script))
	}
	if script[0] != opPushData1 || script[1] != 33 {
		t.Errorf("Verification script must start with PUSHDATA1 33, got % x", script[:2])
	}
	if script[35] != opSysCall {
		t.Errorf("Expected SYSCALL at offset 35, got %x", script[35])
	}
}

func TestCompressedPublicKeyPrefix(t *testing.T) {
	account, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to generate account: %v", err)
	}
	if len(account.PublicKey) != 33 {
		t.Fatalf("Expected 33-byte compressed key, got %d", len(account.PublicKey))
	}
	if account.PublicKey[0] != 0x02 && account.PublicKey[0] != 0x03 {
		t.Errorf("Bad compression prefix %x", account.PublicKey[0])
	}
}

func TestKeyStringAcceptsHexAndWIF(t *testing.T) {
	account, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to generate account: %v", err)
	}

	fromWIF, err := AccountFromKeyString(account.WIF())
	if err != nil {
		t.Fatalf("WIF form rejected: %v", err)
	}
	if fromWIF.Address != account.Address {
		t.Error("WIF form derived a different account")
	}

	fromHex, err := AccountFromKeyString(hex.EncodeToString(padTo32(account.privateKey.D.Bytes())))
	if err != nil {
		t.Fatalf("Hex form rejected: %v", err)
	}
	if fromHex.Address != account.Address {
		t.Error("Hex form derived a different account")
	}
}

func TestUint160FromHexReverses(t *testing.T) {
	hash, err := Uint160FromHex("0x0102030405060708090a0b0c0d0e0f1011121314")
	if err != nil {
		t.Fatalf("Failed to parse script hash: %v", err)
	}
	if hash[0] != 0x14 || hash[19] != 0x01 {
		t.Errorf("Expected little-endian storage, got % x", hash[:])
	}
}

// ============================================================================
// Script building
// ============================================================================

func TestPushIntEncodings(t *testing.T) {
	cases := []struct {
		value int64
		first byte
		size  int
	}{
		{0, opPush0, 1},
		{16, opPush0 + 16, 1},
		{-1, opPushM1, 1},
		{100, opPushInt8, 2},
		{1000, opPushInt16, 3},
		{100000, opPushInt32, 5},
		{5_000_000_000, opPushInt64, 9},
	}

	for _, c := range cases {
		sb := NewScriptBuilder()
		sb.EmitPushInt(c.value)
		got := sb.Bytes()
		if len(got) != c.size {
			t.Errorf("Push %d: expected %d bytes, got %d", c.value, c.size, len(got))
		}
		if got[0] != c.first {
			t.Errorf("Push %d: expected opcode %x, got %x", c.value, c.first, got[0])
		}
	}
}

func TestContractCallScriptEndsWithSyscall(t *testing.T) {
	var contract [20]byte
	sb := NewScriptBuilder()
	sb.EmitContractCall(contract, "updatePriceBatch",
		ArrayParam(StringParam("BTCUSDT")),
		ArrayParam(IntParam(5000000000000)),
		ArrayParam(IntParam(1700000000)),
		ArrayParam(IntParam(100)),
	)
	script := sb.Bytes()

	if len(script) == 0 {
		t.Fatal("Empty script")
	}
	// The final five bytes are SYSCALL + the System.Contract.Call id.
	tail := script[len(script)-5:]
	if tail[0] != opSysCall {
		t.Errorf("Expected SYSCALL tail, got % x", tail)
	}
	if hex.EncodeToString(tail[1:]) != "627d5b52" {
		t.Errorf("Unexpected System.Contract.Call id % x", tail[1:])
	}
}

// ============================================================================
// Transactions
// ============================================================================

func testTransaction(t *testing.T) (*Transaction, *Account, *Account) {
	t.Helper()
	tee, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	master, err := NewAccount()
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	return &Transaction{
		Version:         0,
		Nonce:           42,
		SystemFee:       997700,
		NetworkFee:      234500,
		ValidUntilBlock: 1100,
		Signers: []Signer{
			{Account: master.ScriptHash, Scope: WitnessScopeCalledByEntry},
			{Account: tee.ScriptHash, Scope: WitnessScopeCalledByEntry},
		},
		Script: []byte{0x51},
	}, tee, master
}

func TestDualSignatureProducesTwoWitnesses(t *testing.T) {
	tx, tee, master := testTransaction(t)

	if err := tx.SignWith(master, 894710606); err != nil {
		t.Fatalf("Master signing failed: %v", err)
	}
	if err := tx.SignWith(tee, 894710606); err != nil {
		t.Fatalf("TEE signing failed: %v", err)
	}

	if len(tx.Witnesses) != 2 {
		t.Fatalf("Expected 2 witnesses, got %d", len(tx.Witnesses))
	}
	for i, w := range tx.Witnesses {
		// PUSHDATA1 64 <sig>
		if len(w.Invocation) != 2+64 {
			t.Errorf("Witness %d invocation length %d", i, len(w.Invocation))
		}
		if len(w.Verification) != 40 {
			t.Errorf("Witness %d verification length %d", i, len(w.Verification))
		}
	}
	if bytes.Equal(tx.Witnesses[0].Verification, tx.Witnesses[1].Verification) {
		t.Error("Witnesses must come from distinct keys")
	}
}

func TestSigningDoesNotChangeHash(t *testing.T) {
	tx, tee, master := testTransaction(t)
	before := tx.Hash()

	_ = tx.SignWith(master, 894710606)
	_ = tx.SignWith(tee, 894710606)

	if tx.Hash() != before {
		t.Error("Witnesses must not affect the transaction hash")
	}
}

func TestHashIsPrefixedReversedHex(t *testing.T) {
	tx, _, _ := testTransaction(t)
	h := tx.Hash()
	if !strings.HasPrefix(h, "0x") || len(h) != 66 {
		t.Errorf("Unexpected hash form %s", h)
	}
}

func TestSerializedFormGrowsWithWitnesses(t *testing.T) {
	tx, tee, master := testTransaction(t)
	unsigned := len(tx.Serialize())

	_ = tx.SignWith(master, 894710606)
	_ = tx.SignWith(tee, 894710606)
	signed := len(tx.Serialize())

	if signed <= unsigned {
		t.Errorf("Signed form (%d) must exceed unsigned form (%d)", signed, unsigned)
	}
}

func TestSignDataIncludesMagic(t *testing.T) {
	tx, _, _ := testTransaction(t)

	a := tx.SignData(894710606)
	b := tx.SignData(860833102)
	if bytes.Equal(a, b) {
		t.Error("Sign data must vary with network magic")
	}
	if len(a) != 36 {
		t.Errorf("Expected 4-byte magic + 32-byte hash, got %d bytes", len(a))
	}
}
