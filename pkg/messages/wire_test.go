// Copyright 2026 Scalaris Ledger
//
// Message model and envelope tests

package messages

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

func testKeyPair(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func sampleRequest(t *testing.T) Request {
	t.Helper()
	return Request{
		AccountID: base.NewAccountID(1, 2),
		Operation: Transfer{
			Recipient: AccountAddress(base.NewAccountID(3)),
			Amount:    50,
		},
		SequenceNumber: 0,
	}
}

func roundTrip(t *testing.T, msg any) any {
	t.Helper()
	raw, err := SerializeMessage(msg)
	if err != nil {
		t.Fatalf("serialize %T: %v", msg, err)
	}
	decoded, err := DeserializeMessage(raw)
	if err != nil {
		t.Fatalf("deserialize %T: %v", msg, err)
	}
	raw2, err := SerializeMessage(decoded)
	if err != nil {
		t.Fatalf("reserialize %T: %v", msg, err)
	}
	if !bytes.Equal(raw, raw2) {
		t.Errorf("%T: encoding is not canonical across a round trip", msg)
	}
	return decoded
}

func TestEnvelopeRoundTrips(t *testing.T) {
	kp := testKeyPair(t)
	request := sampleRequest(t)
	order := NewRequestOrder(RequestValue{Request: request}, kp, nil)
	vote := NewVote(ConfirmValue(request), kp)
	certificate := Certificate{
		Value: ConfirmValue(request),
		Signatures: []AuthoritySignature{
			{Authority: kp.Public(), Signature: vote.Signature},
		},
	}
	seq := base.SequenceNumber(4)
	nth := 2
	owner := kp.Public()

	msgs := []any{
		order,
		NewConfirmationOrder(certificate),
		&CoinCreationOrder{
			Description: CoinCreationDescription{
				Sources: []CoinCreationSource{{
					AccountID:             base.NewAccountID(1, 2),
					AccountBalance:        10,
					OpaqueCoinPublicSeeds: []base.CoinSeed{base.NewCoinSeed()},
				}},
				Targets: []TransparentCoin{{
					AccountID: base.NewAccountID(1, 2),
					Amount:    10,
					Seed:      base.NewCoinSeed(),
				}},
			},
			Locks: []Certificate{certificate},
		},
		&AccountInfoQuery{
			AccountID:           base.NewAccountID(1, 2),
			QuerySequenceNumber: &seq,
			QueryReceivedCertificatesExcludingFirstNth: &nth,
		},
		&vote,
		[]Vote{vote, vote},
		&AccountInfoResponse{
			AccountID:                   base.NewAccountID(1, 2),
			Owner:                       &owner,
			Balance:                     base.BalanceFromInt64(-3),
			NextSequenceNumber:          7,
			Pending:                     &vote,
			CountReceivedCertificates:   2,
			QueriedCertificate:          &certificate,
			QueriedReceivedCertificates: []Certificate{certificate},
		},
		base.NewInsufficientFunding(base.BalanceFromAmount(50)),
		UpdateRecipientRequest(certificate),
		DestroyAccountRequest(base.NewAccountID(1, 2)),
		&CoinCreationResponse{Votes: []Vote{vote}},
		&PrimarySynchronizationOrder{
			Recipient:        base.NewAccountID(9),
			Amount:           3,
			TransactionIndex: 1,
		},
	}
	for _, msg := range msgs {
		roundTrip(t, msg)
	}
}

func TestAllOperationsRoundTrip(t *testing.T) {
	operations := []Operation{
		Transfer{Recipient: PrimaryAddress(common.HexToAddress("0xdead")), Amount: 1, UserData: make(base.UserData, 32)},
		Transfer{Recipient: AccountAddress(base.NewAccountID(1)), Amount: 2},
		OpenAccount{NewID: base.NewAccountID(1, 0), NewOwner: testKeyPair(t).Public()},
		CloseAccount{},
		ChangeOwner{NewOwner: testKeyPair(t).Public()},
		Spend{AccountBalance: 9, DescriptionHash: base.HashValue{1, 2, 3}},
		SpendAndTransfer{Recipient: AccountAddress(base.NewAccountID(2)), Amount: 5},
	}
	for _, op := range operations {
		request := Request{AccountID: base.NewAccountID(1), Operation: op, SequenceNumber: 3}
		value := ConfirmValue(request)
		decoded := roundTrip(t, &Vote{Value: value, Authority: testKeyPair(t).Public()}).(*Vote)
		if !decoded.Value.Equal(&value) {
			t.Errorf("%T: value changed across round trip", op)
		}
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	if _, err := DeserializeMessage([]byte{0xff, 0x01, 0x02}); base.CodeOf(err) != base.CodeInvalidDecoding {
		t.Errorf("unknown tag: got %v", err)
	}
	raw, err := SerializeMessage(&PrimarySynchronizationOrder{Recipient: base.NewAccountID(1), Amount: 1, TransactionIndex: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DeserializeMessage(append(raw, 0)); base.CodeOf(err) != base.CodeInvalidDecoding {
		t.Errorf("trailing bytes: got %v", err)
	}
}

func TestSigningDomainSeparation(t *testing.T) {
	request := sampleRequest(t)
	lock := LockValue(request)
	confirm := ConfirmValue(request)
	if bytes.Equal(lock.SigningBytes(), confirm.SigningBytes()) {
		t.Error("lock and confirm must sign different bytes")
	}
	rv := RequestValue{Request: request}
	if bytes.HasPrefix(rv.SigningBytes(), []byte("Value::")) {
		t.Error("request values must use their own signing domain")
	}
	if !bytes.HasPrefix(confirm.SigningBytes(), []byte("Value::")) {
		t.Error("values must be domain separated by type name")
	}
}

func TestVoteAndCertificateChecks(t *testing.T) {
	kp1, kp2, kp3, kp4 := testKeyPair(t), testKeyPair(t), testKeyPair(t), testKeyPair(t)
	cmt := committee.MakeSimple(kp1.Public(), kp2.Public(), kp3.Public(), kp4.Public())
	value := ConfirmValue(sampleRequest(t))

	vote := NewVote(value, kp1)
	weight, err := vote.Check(cmt)
	if err != nil || weight != 1 {
		t.Fatalf("vote check: %d, %v", weight, err)
	}
	outsider := NewVote(value, testKeyPair(t))
	if _, err := outsider.Check(cmt); base.CodeOf(err) != base.CodeUnknownSigner {
		t.Errorf("outsider vote: got %v", err)
	}

	aggregator := NewSignatureAggregator(value, cmt)
	for i, kp := range []*keys.KeyPair{kp1, kp2, kp3} {
		v := NewVote(value, kp)
		certificate, err := aggregator.Append(v.Authority, v.Signature)
		if err != nil {
			t.Fatal(err)
		}
		if i < 2 && certificate != nil {
			t.Fatal("certificate produced before quorum")
		}
		if i == 2 {
			if certificate == nil {
				t.Fatal("quorum of 3 must produce a certificate")
			}
			if err := certificate.Check(cmt); err != nil {
				t.Errorf("aggregated certificate must check: %v", err)
			}
		}
	}
	// Appending the same authority twice is rejected.
	v := NewVote(value, kp1)
	if _, err := aggregator.Append(v.Authority, v.Signature); base.CodeOf(err) != base.CodeCertificateAuthorityReuse {
		t.Errorf("author reuse: got %v", err)
	}

	// A two-vote certificate lacks quorum.
	thin := Certificate{Value: value, Signatures: []AuthoritySignature{
		{kp1.Public(), NewVote(value, kp1).Signature},
		{kp2.Public(), NewVote(value, kp2).Signature},
	}}
	if err := thin.Check(cmt); base.CodeOf(err) != base.CodeCertificateRequiresQuorum {
		t.Errorf("thin certificate: got %v", err)
	}
	// Duplicate authors are rejected before quorum counting.
	dup := Certificate{Value: value, Signatures: []AuthoritySignature{
		{kp1.Public(), NewVote(value, kp1).Signature},
		{kp1.Public(), NewVote(value, kp1).Signature},
		{kp2.Public(), NewVote(value, kp2).Signature},
	}}
	if err := dup.Check(cmt); base.CodeOf(err) != base.CodeCertificateAuthorityReuse {
		t.Errorf("duplicate author: got %v", err)
	}
	// A certificate with a forged signature fails batch verification.
	forged := Certificate{Value: value, Signatures: []AuthoritySignature{
		{kp1.Public(), NewVote(value, kp1).Signature},
		{kp2.Public(), NewVote(value, kp2).Signature},
		{kp3.Public(), NewVote(value, kp4).Signature},
	}}
	if err := forged.Check(cmt); base.CodeOf(err) != base.CodeInvalidSignature {
		t.Errorf("forged signature: got %v", err)
	}
}

func TestRequestOrderCheck(t *testing.T) {
	kp := testKeyPair(t)
	order := NewRequestOrder(RequestValue{Request: sampleRequest(t)}, kp, nil)
	owner := kp.Public()
	if err := order.Check(&owner); err != nil {
		t.Fatalf("valid order must check: %v", err)
	}
	other := testKeyPair(t).Public()
	if err := order.Check(&other); base.CodeOf(err) != base.CodeInvalidOwner {
		t.Errorf("wrong owner: got %v", err)
	}
	if err := order.Check(nil); base.CodeOf(err) != base.CodeInvalidOwner {
		t.Errorf("missing owner: got %v", err)
	}
	order.Value.Request.SequenceNumber = 1
	if err := order.Check(&owner); base.CodeOf(err) != base.CodeInvalidSignature {
		t.Errorf("tampered order: got %v", err)
	}
}

func TestVerifyLinkedAssets(t *testing.T) {
	kp := testKeyPair(t)
	id := base.NewAccountID(5)
	makeCoin := func(amount base.Amount, seed base.CoinSeed) Certificate {
		value := CoinValue(TransparentCoin{AccountID: id, Amount: amount, Seed: seed})
		vote := NewVote(value, kp)
		return Certificate{Value: value, Signatures: []AuthoritySignature{{vote.Authority, vote.Signature}}}
	}
	seedA, seedB := base.NewCoinSeed(), base.NewCoinSeed()
	assets := []Asset{
		TransparentCoinAsset(makeCoin(3, seedA)),
		TransparentCoinAsset(makeCoin(4, seedB)),
	}
	total, err := VerifyLinkedAssets(id, assets)
	if err != nil || total != 7 {
		t.Fatalf("linked assets: %d, %v", total, err)
	}
	// Duplicate seeds are a double-spend inside one order.
	dup := []Asset{
		TransparentCoinAsset(makeCoin(3, seedA)),
		TransparentCoinAsset(makeCoin(4, seedA)),
	}
	if _, err := VerifyLinkedAssets(id, dup); base.CodeOf(err) != base.CodeInvalidCoin {
		t.Errorf("duplicate seeds: got %v", err)
	}
	// Coins linked to another account are rejected.
	foreign := []Asset{TransparentCoinAsset(makeCoin(3, seedA))}
	if _, err := VerifyLinkedAssets(base.NewAccountID(6), foreign); base.CodeOf(err) != base.CodeInvalidCoin {
		t.Errorf("foreign coin: got %v", err)
	}
}
