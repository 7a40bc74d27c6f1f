// Copyright 2026 Scalaris Ledger
//
// Key and signature tests

package keys

import (
	"bytes"
	"testing"
)

type testValue struct {
	name string
	body []byte
}

func (v *testValue) SigningBytes() []byte {
	return append(append([]byte(v.name), ':', ':'), v.body...)
}

func TestSignAndCheck(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	value := &testValue{name: "Value", body: []byte("payload")}
	sig := kp.Sign(value)
	if err := sig.Check(value, kp.Public()); err != nil {
		t.Fatalf("valid signature must check: %v", err)
	}
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if err := sig.Check(value, other.Public()); err == nil {
		t.Error("signature must not check under another key")
	}
	tampered := &testValue{name: "Value", body: []byte("payloae")}
	if err := sig.Check(tampered, kp.Public()); err == nil {
		t.Error("signature must not check over different bytes")
	}
	// The type-name prefix prevents cross-type reuse.
	crossType := &testValue{name: "OtherValue", body: []byte("payload")}
	if err := sig.Check(crossType, kp.Public()); err == nil {
		t.Error("signature must not transfer across signing domains")
	}
}

func TestSeedRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	back, err := KeyPairFromHex(kp.SeedHex())
	if err != nil {
		t.Fatal(err)
	}
	if back.Public() != kp.Public() {
		t.Error("seed round trip changed the public key")
	}
	value := &testValue{name: "Value", body: []byte("x")}
	if kp.Sign(value) != back.Sign(value) {
		t.Error("ed25519 signatures are deterministic; restored keys must match")
	}
}

func TestVerifyBatch(t *testing.T) {
	value := &testValue{name: "Value", body: []byte("shared")}
	var votes []struct {
		Author    PublicKeyBytes
		Signature Signature
	}
	for i := 0; i < 3; i++ {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		votes = append(votes, struct {
			Author    PublicKeyBytes
			Signature Signature
		}{kp.Public(), kp.Sign(value)})
	}
	if err := VerifyBatch(value, votes); err != nil {
		t.Fatalf("valid batch must verify: %v", err)
	}
	votes[1].Signature[0] ^= 1
	if err := VerifyBatch(value, votes); err == nil {
		t.Error("corrupted batch must fail")
	}
}

func TestHashValueIsDomainSeparated(t *testing.T) {
	a := HashValue(&testValue{name: "A", body: []byte("x")})
	b := HashValue(&testValue{name: "B", body: []byte("x")})
	if a == b {
		t.Error("hashes of different signing domains must differ")
	}
	if a != HashValue(&testValue{name: "A", body: []byte("x")}) {
		t.Error("hash must be deterministic")
	}
}

func TestParsePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePublicKey(kp.Public().String())
	if err != nil || parsed != kp.Public() {
		t.Fatalf("parse round trip failed: %v", err)
	}
	if _, err := ParsePublicKey("zz"); err == nil {
		t.Error("invalid hex must not parse")
	}
	if _, err := ParsePublicKey("ab"); err == nil {
		t.Error("short keys must not parse")
	}
	var jsonBuf bytes.Buffer
	jsonBuf.WriteString(`"`)
	jsonBuf.WriteString(kp.Public().String())
	jsonBuf.WriteString(`"`)
	var back PublicKeyBytes
	if err := back.UnmarshalJSON(jsonBuf.Bytes()); err != nil || back != kp.Public() {
		t.Fatalf("json round trip failed: %v", err)
	}
}
