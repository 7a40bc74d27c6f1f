// Copyright 2026 Scalaris Ledger
//
// Per-account state: balance, owner key, monotone sequence number, the
// pending vote, and the confirmed/received certificate logs.

package account

import (
	"encoding/binary"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// State is the authority-side record of one account. A state without an
// owner cannot execute sender-side operations but can still receive
// transfers.
type State struct {
	// Owner is the current authentication key; nil means inactive.
	Owner *keys.PublicKeyBytes
	// Balance of the account.
	Balance base.Balance
	// NextSequenceNumber of the account; also the length of ConfirmedLog.
	NextSequenceNumber base.SequenceNumber
	// Pending is the vote signed for the current sequence number, if any.
	// Its value always references this account at NextSequenceNumber.
	Pending *messages.Vote
	// ConfirmedLog holds sender-side certificates indexed by sequence
	// number.
	ConfirmedLog []messages.Certificate
	// ReceivedLog holds recipient-side certificates.
	ReceivedLog []messages.Certificate
	// receivedKeys deduplicates recipient-side applications.
	receivedKeys map[string]bool
	// SynchronizationLog holds executed primary synchronization orders.
	SynchronizationLog []messages.PrimarySynchronizationOrder
}

// New creates an active account.
func New(owner keys.PublicKeyBytes, balance base.Balance) *State {
	return &State{
		Owner:        &owner,
		Balance:      balance,
		receivedKeys: make(map[string]bool),
	}
}

// NewInactive creates an ownerless account, as when a credit arrives for an
// id this shard has never seen.
func NewInactive() *State {
	return &State{receivedKeys: make(map[string]bool)}
}

func receivedKey(id base.AccountID, seq base.SequenceNumber) string {
	var tail [8]byte
	binary.BigEndian.PutUint64(tail[:], uint64(seq))
	return string(id.Bytes()) + string(tail[:])
}

// MakeInfoResponse snapshots the account into an info response.
func (s *State) MakeInfoResponse(id base.AccountID) *messages.AccountInfoResponse {
	return &messages.AccountInfoResponse{
		AccountID:                 id.Clone(),
		Owner:                     s.Owner,
		Balance:                   s.Balance,
		NextSequenceNumber:        s.NextSequenceNumber,
		Pending:                   s.Pending,
		CountReceivedCertificates: len(s.ReceivedLog),
	}
}

// ValidateOperation checks that the request is safe against the current
// state and returns the value to certify. Assets back SpendAndTransfer.
func (s *State) ValidateOperation(request messages.Request, assets []messages.Asset) (messages.Value, error) {
	switch op := request.Operation.(type) {
	case messages.Transfer:
		if op.Amount == 0 {
			return messages.Value{}, base.NewError(base.CodeIncorrectTransferAmount)
		}
		if !s.Balance.GTE(base.BalanceFromAmount(op.Amount)) {
			return messages.Value{}, base.NewInsufficientFunding(s.Balance)
		}
		return messages.ConfirmValue(request), nil
	case messages.Spend:
		if !s.Balance.GTE(base.BalanceFromAmount(op.AccountBalance)) {
			return messages.Value{}, base.NewInsufficientFunding(s.Balance)
		}
		return messages.LockValue(request), nil
	case messages.SpendAndTransfer:
		coinTotal, err := messages.VerifyLinkedAssets(request.AccountID, assets)
		if err != nil {
			return messages.Value{}, err
		}
		publicAmount, err := op.Amount.TrySub(coinTotal)
		if err != nil {
			return messages.Value{}, err
		}
		if !s.Balance.GTE(base.BalanceFromAmount(publicAmount)) {
			return messages.Value{}, base.NewInsufficientFunding(s.Balance)
		}
		return messages.ConfirmValue(request), nil
	case messages.OpenAccount:
		expected := request.AccountID.MakeChild(request.SequenceNumber)
		if !op.NewID.Equal(expected) {
			return messages.Value{}, base.NewInvalidNewAccountID(op.NewID)
		}
		return messages.ConfirmValue(request), nil
	case messages.CloseAccount, messages.ChangeOwner:
		return messages.ConfirmValue(request), nil
	default:
		return messages.Value{}, base.NewError(base.CodeInvalidRequestOrder)
	}
}

// ApplyOperationAsSender executes the sender side of a confirmed operation
// and appends the certificate to the confirmed log.
func (s *State) ApplyOperationAsSender(operation messages.Operation, certificate messages.Certificate) error {
	switch op := operation.(type) {
	case messages.OpenAccount:
		// No sender-side effect beyond advancing the sequence number.
	case messages.ChangeOwner:
		owner := op.NewOwner
		s.Owner = &owner
	case messages.CloseAccount:
		s.Owner = nil
	case messages.SpendAndTransfer:
		// The full amount leaves the account; consumed coin assets may
		// drive the i128 balance negative, which validation already
		// admitted.
		next, err := s.Balance.TrySub(base.BalanceFromAmount(op.Amount))
		if err != nil {
			return err
		}
		s.Balance = next
		s.Owner = nil
	case messages.Transfer:
		next, err := s.Balance.TrySub(base.BalanceFromAmount(op.Amount))
		if err != nil {
			return err
		}
		s.Balance = next
	case messages.Spend:
		// Spend operations are locked, never confirmed; a quorum signing
		// a confirmation for one would violate the BFT assumption.
		return base.NewError(base.CodeInvalidConfirmationOrder)
	default:
		return base.NewError(base.CodeInvalidConfirmationOrder)
	}
	s.ConfirmedLog = append(s.ConfirmedLog, certificate)
	return nil
}

// ApplyOperationAsRecipient executes the recipient side of a confirmed
// operation. Re-applying the same certificate is a no-op: cross-shard
// deliveries are at-least-once.
func (s *State) ApplyOperationAsRecipient(operation messages.Operation, certificate messages.Certificate) error {
	id, seq, ok := certificate.Value.ConfirmKey()
	if !ok {
		return base.NewError(base.CodeInvalidCrossShardRequest)
	}
	if s.receivedKeys == nil {
		s.receivedKeys = make(map[string]bool)
	}
	key := receivedKey(id, seq)
	if s.receivedKeys[key] {
		return nil
	}
	switch op := operation.(type) {
	case messages.Transfer:
		s.Balance = s.Balance.SaturatingAdd(base.BalanceFromAmount(op.Amount))
	case messages.SpendAndTransfer:
		s.Balance = s.Balance.SaturatingAdd(base.BalanceFromAmount(op.Amount))
	case messages.OpenAccount:
		if s.Owner != nil {
			// Guaranteed free under BFT assumptions: the parent cannot
			// certify the same child id twice.
			return base.NewError(base.CodeInvalidCrossShardRequest)
		}
		owner := op.NewOwner
		s.Owner = &owner
	default:
		return base.NewError(base.CodeInvalidCrossShardRequest)
	}
	s.receivedKeys[key] = true
	s.ReceivedLog = append(s.ReceivedLog, certificate)
	return nil
}

// HasReceived reports whether the recipient side for the key was applied.
func (s *State) HasReceived(id base.AccountID, seq base.SequenceNumber) bool {
	return s.receivedKeys[receivedKey(id, seq)]
}
