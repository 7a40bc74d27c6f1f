// Copyright 2026 Scalaris Ledger
//
// The primary-chain bridge contract state. Funding transactions escrow
// value from the primary chain into the sidechain; redeem transactions
// release it against a certified transfer to a primary address, at most
// once per account and sequence number.

package bridge

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

var (
	ErrZeroFunding     = errors.New("transfers must have positive amount")
	ErrInvalidRedeem   = errors.New("invalid redeem transaction")
	ErrEscrowUnderflow = errors.New("the escrow balance cannot be negative")
	ErrStaleRedeem     = errors.New("redeem certificates must carry increasing sequence numbers")
)

// FundingTransaction credits the escrow from the primary chain.
type FundingTransaction struct {
	Recipient    base.AccountID
	PrimaryCoins base.Amount
	Sender       common.Address
}

// RedeemTransaction releases escrowed value to a primary address against a
// confirmation certificate.
type RedeemTransaction struct {
	Certificate messages.Certificate
}

// accountState tracks redemption on the contract side. The owner must
// redeem an action before initiating the next one, or the skipped value is
// lost.
type accountState struct {
	lastRedeemed *base.SequenceNumber
}

// ContractState is the on-chain state of the bridge.
type ContractState struct {
	committee *committee.Committee
	accounts  map[string]*accountState
	// totalBalance is the escrowed primary value.
	totalBalance base.Amount
	// lastTransactionIndex of the primary chain log.
	lastTransactionIndex base.SequenceNumber
	// blockchain is the log of funding transactions.
	blockchain []FundingTransaction
}

// NewContractState builds an empty bridge for the committee.
func NewContractState(cmt *committee.Committee) *ContractState {
	return &ContractState{
		committee: cmt,
		accounts:  make(map[string]*accountState),
	}
}

// TotalBalance returns the escrowed value.
func (s *ContractState) TotalBalance() base.Amount {
	return s.totalBalance
}

// LastTransactionIndex returns the primary chain log index.
func (s *ContractState) LastTransactionIndex() base.SequenceNumber {
	return s.lastTransactionIndex
}

// Blockchain returns the funding log.
func (s *ContractState) Blockchain() []FundingTransaction {
	return s.blockchain
}

// HandleFundingTransaction escrows primary value for a sidechain account.
func (s *ContractState) HandleFundingTransaction(transaction FundingTransaction) error {
	if transaction.PrimaryCoins == 0 {
		return ErrZeroFunding
	}
	next, err := s.lastTransactionIndex.TryAdd(1)
	if err != nil {
		return err
	}
	balance, err := s.totalBalance.TryAdd(transaction.PrimaryCoins)
	if err != nil {
		return err
	}
	s.lastTransactionIndex = next
	s.blockchain = append(s.blockchain, transaction)
	s.totalBalance = balance
	return nil
}

// HandleRedeemTransaction releases escrowed value against a certificate.
func (s *ContractState) HandleRedeemTransaction(transaction RedeemTransaction) error {
	if err := transaction.Certificate.Check(s.committee); err != nil {
		return err
	}
	request := transaction.Certificate.Value.ConfirmRequest()
	if request == nil {
		return ErrInvalidRedeem
	}
	transfer, ok := request.Operation.(messages.Transfer)
	if !ok || transfer.Recipient.Kind != messages.AddressPrimary {
		return ErrInvalidRedeem
	}
	if s.totalBalance < transfer.Amount {
		return ErrEscrowUnderflow
	}
	acct, ok := s.accounts[request.AccountID.Key()]
	if !ok {
		acct = &accountState{}
		s.accounts[request.AccountID.Key()] = acct
	}
	if acct.lastRedeemed != nil && *acct.lastRedeemed >= request.SequenceNumber {
		return ErrStaleRedeem
	}
	seq := request.SequenceNumber
	acct.lastRedeemed = &seq
	balance, err := s.totalBalance.TrySub(transfer.Amount)
	if err != nil {
		return err
	}
	s.totalBalance = balance
	// The primary coins are now owed to transfer.Recipient.Primary;
	// payout is the primary chain's concern.
	return nil
}

// LastRedeemed returns the last redeemed sequence number for an account.
func (s *ContractState) LastRedeemed(id base.AccountID) (base.SequenceNumber, bool) {
	acct, ok := s.accounts[id.Key()]
	if !ok || acct.lastRedeemed == nil {
		return 0, false
	}
	return *acct.lastRedeemed, true
}

// MakeSynchronizationOrder converts one funding transaction into the order
// relayed to the authorities.
func (s *ContractState) MakeSynchronizationOrder(index int) (*messages.PrimarySynchronizationOrder, error) {
	if index < 0 || index >= len(s.blockchain) {
		return nil, fmt.Errorf("no funding transaction at index %d", index)
	}
	tx := s.blockchain[index]
	return &messages.PrimarySynchronizationOrder{
		Recipient:        tx.Recipient.Clone(),
		Amount:           tx.PrimaryCoins,
		TransactionIndex: base.SequenceNumber(index + 1),
	}, nil
}
