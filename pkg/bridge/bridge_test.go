// Copyright 2026 Scalaris Ledger
//
// Bridge contract tests

package bridge

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

type bridgeFixture struct {
	committee *committee.Committee
	keyPairs  []*keys.KeyPair
	state     *ContractState
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	keyPairs := make([]*keys.KeyPair, 4)
	names := make([]keys.PublicKeyBytes, 4)
	for i := range keyPairs {
		kp, err := keys.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		keyPairs[i] = kp
		names[i] = kp.Public()
	}
	cmt := committee.MakeSimple(names...)
	return &bridgeFixture{
		committee: cmt,
		keyPairs:  keyPairs,
		state:     NewContractState(cmt),
	}
}

func (f *bridgeFixture) redeemCertificate(t *testing.T, id base.AccountID, amount base.Amount, seq base.SequenceNumber, recipient messages.Address) messages.Certificate {
	t.Helper()
	value := messages.ConfirmValue(messages.Request{
		AccountID:      id,
		Operation:      messages.Transfer{Recipient: recipient, Amount: amount},
		SequenceNumber: seq,
	})
	certificate := messages.Certificate{Value: value}
	for _, kp := range f.keyPairs[:3] {
		vote := messages.NewVote(value, kp)
		certificate.Signatures = append(certificate.Signatures, messages.AuthoritySignature{
			Authority: vote.Authority,
			Signature: vote.Signature,
		})
	}
	return certificate
}

func TestFundingGrowsEscrow(t *testing.T) {
	f := newBridgeFixture(t)
	tx := FundingTransaction{
		Recipient:    base.NewAccountID(1),
		PrimaryCoins: 100,
		Sender:       common.HexToAddress("0xabc"),
	}
	if err := f.state.HandleFundingTransaction(tx); err != nil {
		t.Fatal(err)
	}
	if f.state.TotalBalance() != 100 {
		t.Errorf("escrow: got %d, want 100", f.state.TotalBalance())
	}
	if f.state.LastTransactionIndex() != 1 {
		t.Errorf("index: got %d, want 1", f.state.LastTransactionIndex())
	}
	if err := f.state.HandleFundingTransaction(FundingTransaction{Recipient: base.NewAccountID(1)}); err != ErrZeroFunding {
		t.Errorf("zero funding: got %v", err)
	}
	order, err := f.state.MakeSynchronizationOrder(0)
	if err != nil {
		t.Fatal(err)
	}
	if order.TransactionIndex != 1 || order.Amount != 100 {
		t.Errorf("synchronization order mismatch: %+v", order)
	}
}

func TestRedeemAtMostOncePerSequence(t *testing.T) {
	f := newBridgeFixture(t)
	if err := f.state.HandleFundingTransaction(FundingTransaction{Recipient: base.NewAccountID(1), PrimaryCoins: 100}); err != nil {
		t.Fatal(err)
	}
	id := base.NewAccountID(1)
	primary := messages.PrimaryAddress(common.HexToAddress("0x1234"))
	certificate := f.redeemCertificate(t, id, 40, 0, primary)

	if err := f.state.HandleRedeemTransaction(RedeemTransaction{Certificate: certificate}); err != nil {
		t.Fatal(err)
	}
	if f.state.TotalBalance() != 60 {
		t.Errorf("escrow after redeem: got %d, want 60", f.state.TotalBalance())
	}
	// Replaying the same certificate must fail.
	if err := f.state.HandleRedeemTransaction(RedeemTransaction{Certificate: certificate}); err != ErrStaleRedeem {
		t.Errorf("replayed redeem: got %v", err)
	}
	// A later sequence number goes through.
	next := f.redeemCertificate(t, id, 10, 1, primary)
	if err := f.state.HandleRedeemTransaction(RedeemTransaction{Certificate: next}); err != nil {
		t.Fatal(err)
	}
	if seq, ok := f.state.LastRedeemed(id); !ok || seq != 1 {
		t.Errorf("last redeemed: got %d, %v", seq, ok)
	}
}

func TestRedeemRejectsBadCertificates(t *testing.T) {
	f := newBridgeFixture(t)
	if err := f.state.HandleFundingTransaction(FundingTransaction{Recipient: base.NewAccountID(1), PrimaryCoins: 10}); err != nil {
		t.Fatal(err)
	}
	id := base.NewAccountID(1)
	// A sidechain recipient is not redeemable.
	sidechain := f.redeemCertificate(t, id, 5, 0, messages.AccountAddress(base.NewAccountID(2)))
	if err := f.state.HandleRedeemTransaction(RedeemTransaction{Certificate: sidechain}); err != ErrInvalidRedeem {
		t.Errorf("sidechain recipient: got %v", err)
	}
	// The escrow can never go negative.
	primary := messages.PrimaryAddress(common.HexToAddress("0x1234"))
	tooBig := f.redeemCertificate(t, id, 11, 0, primary)
	if err := f.state.HandleRedeemTransaction(RedeemTransaction{Certificate: tooBig}); err != ErrEscrowUnderflow {
		t.Errorf("escrow underflow: got %v", err)
	}
	// A certificate without quorum is rejected.
	thin := f.redeemCertificate(t, id, 5, 0, primary)
	thin.Signatures = thin.Signatures[:2]
	if err := f.state.HandleRedeemTransaction(RedeemTransaction{Certificate: thin}); base.CodeOf(err) != base.CodeCertificateRequiresQuorum {
		t.Errorf("thin certificate: got %v", err)
	}
}
