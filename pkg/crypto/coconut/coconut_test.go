// Copyright 2026 Scalaris Ledger
//
// Credential scheme tests: threshold issuance, blind signing, aggregation
// and the coin request proof.

package coconut

import (
	"testing"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

func scalar(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func testSetup(t *testing.T, threshold, committee int) (*Parameters, *PublicKey, []*KeyPair) {
	t.Helper()
	params, err := Setup(AttributeCount)
	if err != nil {
		t.Fatal(err)
	}
	master, authorities, err := TrustedSetup(params, threshold, committee)
	if err != nil {
		t.Fatal(err)
	}
	for _, kp := range authorities {
		kp.Public = NewPublicKey(params, kp.Secret)
	}
	return params, master, authorities
}

// mintCredential runs the full issuance protocol for one output attribute:
// request with no inputs, blind signing by `signers` authorities,
// unblinding and Lagrange aggregation.
func mintCredential(t *testing.T, params *Parameters, master *PublicKey, signers []*KeyPair, output OutputAttribute, rangeBits int) *Credential {
	t.Helper()
	request, err := NewCoinsRequest(params, master, nil, nil, []OutputAttribute{output}, rangeBits)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	// The public offset of a pure mint is the full output value.
	offset := output.Value
	if err := request.Verify(params, master, nil, &offset, rangeBits); err != nil {
		t.Fatalf("verify request: %v", err)
	}

	var shares []CredentialShare
	for _, kp := range signers {
		blinded, err := IssueBlindedCredentials(params, kp.Secret, request.Cms, request.Cs)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		unblinded, err := blinded.Unblind(kp.Public, []OutputAttribute{output})
		if err != nil {
			t.Fatalf("unblind: %v", err)
		}
		if !unblinded[0].PlainVerify(params, kp.Public, output.Value, output.Seed, output.Key) {
			t.Fatalf("share from authority %d does not verify", kp.Index)
		}
		shares = append(shares, CredentialShare{Credential: unblinded[0], Index: kp.Index})
	}
	credential, err := AggregateCredentialShares(shares)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return credential
}

func randomOutput(t *testing.T, value uint64) OutputAttribute {
	t.Helper()
	out := OutputAttribute{Value: scalar(value)}
	var err error
	if out.Seed, err = RandomScalar(); err != nil {
		t.Fatal(err)
	}
	if out.Key, err = RandomScalar(); err != nil {
		t.Fatal(err)
	}
	if out.ValueBlinding, err = RandomScalar(); err != nil {
		t.Fatal(err)
	}
	if out.SeedBlinding, err = RandomScalar(); err != nil {
		t.Fatal(err)
	}
	if out.KeyBlinding, err = RandomScalar(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestThresholdIssuanceRoundTrip(t *testing.T) {
	params, master, authorities := testSetup(t, 3, 4)
	output := randomOutput(t, 10)

	// Any threshold of distinct shares interpolates to a credential
	// valid under the aggregate key.
	credential := mintCredential(t, params, master, authorities[:3], output, 32)
	if !credential.PlainVerify(params, master, output.Value, output.Seed, output.Key) {
		t.Error("aggregated credential must verify under the master key")
	}
	// A different subset yields an equally valid credential.
	other := mintCredential(t, params, master, authorities[1:], output, 32)
	if !other.PlainVerify(params, master, output.Value, output.Seed, output.Key) {
		t.Error("other subset must also aggregate to a valid credential")
	}
	// Wrong attributes must not verify.
	if credential.PlainVerify(params, master, scalar(11), output.Seed, output.Key) {
		t.Error("credential must not verify for a different value")
	}
	if credential.PlainVerify(params, master, output.Value, output.Seed, scalar(99)) {
		t.Error("credential must not verify for a different key")
	}
}

func TestRandomizeKeepsValidity(t *testing.T) {
	params, master, authorities := testSetup(t, 2, 3)
	output := randomOutput(t, 5)
	credential := mintCredential(t, params, master, authorities[:2], output, 32)
	before := credential.H
	if err := credential.Randomize(); err != nil {
		t.Fatal(err)
	}
	if credential.H.Equal(&before) {
		t.Error("randomize must change the base point")
	}
	if !credential.PlainVerify(params, master, output.Value, output.Seed, output.Key) {
		t.Error("randomized credential must still verify")
	}
}

func TestAggregateRejectsBadShares(t *testing.T) {
	if _, err := AggregateCredentialShares(nil); err != ErrEmptyShares {
		t.Errorf("empty shares: got %v", err)
	}
	params, master, authorities := testSetup(t, 2, 3)
	output := randomOutput(t, 1)
	request, err := NewCoinsRequest(params, master, nil, nil, []OutputAttribute{output}, 32)
	if err != nil {
		t.Fatal(err)
	}
	blinded, err := IssueBlindedCredentials(params, authorities[0].Secret, request.Cms, request.Cs)
	if err != nil {
		t.Fatal(err)
	}
	unblinded, err := blinded.Unblind(authorities[0].Public, []OutputAttribute{output})
	if err != nil {
		t.Fatal(err)
	}
	dup := []CredentialShare{
		{Credential: unblinded[0], Index: 1},
		{Credential: unblinded[0], Index: 1},
	}
	if _, err := AggregateCredentialShares(dup); err == nil {
		t.Error("duplicate lagrange indices must be rejected")
	}
}

func TestCoinsRequestSpend(t *testing.T) {
	params, master, authorities := testSetup(t, 3, 4)

	// Mint an input coin of value 10, then spend it into an opaque output
	// of 7 while releasing 3 publicly (negative offset).
	input := randomOutput(t, 10)
	inputCredential := mintCredential(t, params, master, authorities[:3], input, 32)

	output := randomOutput(t, 7)
	inputAttr := InputAttribute{Value: input.Value, Seed: input.Seed, Key: input.Key}
	request, err := NewCoinsRequest(params, master,
		[]Credential{*inputCredential},
		[]InputAttribute{inputAttr},
		[]OutputAttribute{output}, 32)
	if err != nil {
		t.Fatal(err)
	}

	// offset = outputs - inputs = -3.
	var offset fr.Element
	offset.Sub(&output.Value, &input.Value)
	keys := []fr.Element{input.Key}
	if err := request.Verify(params, master, keys, &offset, 32); err != nil {
		t.Fatalf("honest request must verify: %v", err)
	}

	// A wrong offset breaks conservation.
	wrongOffset := scalar(1)
	if err := request.Verify(params, master, keys, &wrongOffset, 32); err == nil {
		t.Error("wrong offset must not verify")
	}
	// Wrong public keys break the kappa binding.
	wrongKeys := []fr.Element{scalar(12345)}
	if err := request.Verify(params, master, wrongKeys, &offset, 32); err == nil {
		t.Error("wrong input keys must not verify")
	}
}

func TestCoinsRequestRejectsTampering(t *testing.T) {
	params, master, authorities := testSetup(t, 2, 3)
	input := randomOutput(t, 4)
	inputCredential := mintCredential(t, params, master, authorities[:2], input, 16)
	output := randomOutput(t, 4)
	inputAttr := InputAttribute{Value: input.Value, Seed: input.Seed, Key: input.Key}
	request, err := NewCoinsRequest(params, master,
		[]Credential{*inputCredential},
		[]InputAttribute{inputAttr},
		[]OutputAttribute{output}, 16)
	if err != nil {
		t.Fatal(err)
	}
	var offset fr.Element // zero: 4 in, 4 out
	keys := []fr.Element{input.Key}
	if err := request.Verify(params, master, keys, &offset, 16); err != nil {
		t.Fatalf("honest request must verify: %v", err)
	}

	// Swap the output commitment for a commitment to a different value.
	tampered := *request
	tampered.OutputCommitments = make([]bls12381.G1Affine, len(request.OutputCommitments))
	copy(tampered.OutputCommitments, request.OutputCommitments)
	tampered.OutputCommitments[0] = tampered.Cms[0]
	if err := tampered.Verify(params, master, keys, &offset, 16); err == nil {
		t.Error("tampered output commitment must not verify")
	}

	// A shape mismatch is rejected before any crypto.
	short := *request
	short.Nus = nil
	if err := short.Verify(params, master, keys, &offset, 16); err == nil {
		t.Error("shape mismatch must not verify")
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	params, master, authorities := testSetup(t, 2, 3)
	output := randomOutput(t, 3)
	request, err := NewCoinsRequest(params, master, nil, nil, []OutputAttribute{output}, 16)
	if err != nil {
		t.Fatal(err)
	}

	rawParams, err := params.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var paramsBack Parameters
	if err := paramsBack.UnmarshalBinary(rawParams); err != nil {
		t.Fatal(err)
	}
	if paramsBack.MaxAttributes() != params.MaxAttributes() {
		t.Error("parameters round trip lost attribute generators")
	}

	rawVK, err := master.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var vkBack PublicKey
	if err := vkBack.UnmarshalBinary(rawVK); err != nil {
		t.Fatal(err)
	}

	rawRequest, err := request.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var requestBack CoinsRequest
	if err := requestBack.UnmarshalBinary(rawRequest); err != nil {
		t.Fatal(err)
	}
	offset := output.Value
	if err := requestBack.Verify(&paramsBack, &vkBack, nil, &offset, 16); err != nil {
		t.Errorf("decoded request must verify: %v", err)
	}

	rawSecret, err := authorities[0].Secret.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var secretBack SecretKey
	if err := secretBack.UnmarshalBinary(rawSecret); err != nil {
		t.Fatal(err)
	}
	if !secretBack.X.Equal(&authorities[0].Secret.X) {
		t.Error("secret key round trip changed x")
	}
}
