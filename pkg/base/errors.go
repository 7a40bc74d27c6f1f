// Copyright 2026 Scalaris Ledger
//
// Typed errors surfaced by authorities over the wire. Clients weigh
// authority errors by equality, so errors carry structured payloads rather
// than free-form strings.

package base

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one kind of protocol error.
type ErrorCode uint32

const (
	// Authentication.
	CodeInvalidOwner ErrorCode = iota + 1
	CodeInvalidSignature
	CodeUnknownSigner
	CodeCertificateRequiresQuorum
	CodeCertificateAuthorityReuse

	// Sequencing.
	CodeUnexpectedSequenceNumber
	CodeInvalidSequenceNumber
	CodeSequenceOverflow
	CodeSequenceUnderflow
	CodePreviousRequestMustBeConfirmedFirst
	CodeMissingEarlierConfirmations
	CodeUnexpectedTransactionIndex

	// Arithmetic.
	CodeAmountOverflow
	CodeAmountUnderflow
	CodeBalanceOverflow
	CodeBalanceUnderflow

	// Structural.
	CodeIncorrectTransferAmount
	CodeInvalidNewAccountID
	CodeInvalidRequestOrder
	CodeInvalidConfirmationOrder
	CodeInvalidCoinCreationOrder
	CodeInvalidCoin
	CodeInvalidAsset
	CodeUnexpectedMessage
	CodeInvalidDecoding

	// Placement.
	CodeWrongShard
	CodeInvalidCrossShardRequest

	// Liveness.
	CodeInsufficientFunding
	CodeInactiveAccount
	CodeCertificateNotFound
	CodeClientIOError
)

var errorMessages = map[ErrorCode]string{
	CodeInvalidOwner:                        "request was not signed by an authorized owner",
	CodeInvalidSignature:                    "signature is not valid",
	CodeUnknownSigner:                       "value was not signed by a known authority",
	CodeCertificateRequiresQuorum:           "signatures in a certificate must form a quorum",
	CodeCertificateAuthorityReuse:           "signatures in a certificate must be from different authorities",
	CodeUnexpectedSequenceNumber:            "the given sequence number must match the next expected sequence number of the account",
	CodeInvalidSequenceNumber:               "sequence numbers above the maximal value are not usable for requests",
	CodeSequenceOverflow:                    "sequence number overflow",
	CodeSequenceUnderflow:                   "sequence number underflow",
	CodePreviousRequestMustBeConfirmedFirst: "cannot initiate a request while another request is still pending confirmation",
	CodeMissingEarlierConfirmations:         "cannot confirm a request while earlier requests are still pending confirmation",
	CodeUnexpectedTransactionIndex:          "transaction index must increase by one",
	CodeAmountOverflow:                      "amount overflow",
	CodeAmountUnderflow:                     "amount underflow",
	CodeBalanceOverflow:                     "account balance overflow",
	CodeBalanceUnderflow:                    "account balance underflow",
	CodeIncorrectTransferAmount:             "transfers must have positive amount",
	CodeInvalidNewAccountID:                 "invalid new account id",
	CodeInvalidRequestOrder:                 "invalid request order",
	CodeInvalidConfirmationOrder:            "invalid confirmation order",
	CodeInvalidCoinCreationOrder:            "invalid coin creation order",
	CodeInvalidCoin:                         "invalid coin",
	CodeInvalidAsset:                        "invalid asset",
	CodeUnexpectedMessage:                   "unexpected message",
	CodeInvalidDecoding:                     "cannot deserialize",
	CodeWrongShard:                          "wrong shard used",
	CodeInvalidCrossShardRequest:            "invalid cross shard request",
	CodeInsufficientFunding:                 "the transferred amount must not exceed the current account balance",
	CodeInactiveAccount:                     "the account being queried is not active",
	CodeCertificateNotFound:                 "no certificate for this account and sequence number",
	CodeClientIOError:                       "network error while querying service",
}

// Error is the wire-serializable protocol error. The optional payload fields
// carry the structured context the clients compare on.
type Error struct {
	Code     ErrorCode
	Account  AccountID      // inactive account, invalid new id
	Balance  Balance        // insufficient funding
	Sequence SequenceNumber // missing earlier confirmations
	Detail   string         // signature and io errors
}

// NewError builds a plain error with no payload.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code}
}

// NewInsufficientFunding reports the authority's current view of the balance.
func NewInsufficientFunding(current Balance) *Error {
	return &Error{Code: CodeInsufficientFunding, Balance: current}
}

// NewInactiveAccount names the account that is missing or ownerless.
func NewInactiveAccount(id AccountID) *Error {
	return &Error{Code: CodeInactiveAccount, Account: id.Clone()}
}

// NewInvalidNewAccountID names the rejected child id.
func NewInvalidNewAccountID(id AccountID) *Error {
	return &Error{Code: CodeInvalidNewAccountID, Account: id.Clone()}
}

// NewMissingEarlierConfirmations reports the next sequence number the
// authority expects.
func NewMissingEarlierConfirmations(current SequenceNumber) *Error {
	return &Error{Code: CodeMissingEarlierConfirmations, Sequence: current}
}

// NewInvalidSignature wraps a verification failure.
func NewInvalidSignature(detail string) *Error {
	return &Error{Code: CodeInvalidSignature, Detail: detail}
}

// NewClientIOError wraps a transport failure.
func NewClientIOError(detail string) *Error {
	return &Error{Code: CodeClientIOError, Detail: detail}
}

func (e *Error) Error() string {
	msg, ok := errorMessages[e.Code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", e.Code)
	}
	switch {
	case e.Code == CodeInsufficientFunding:
		return fmt.Sprintf("%s: current balance %s", msg, e.Balance)
	case e.Code == CodeMissingEarlierConfirmations:
		return fmt.Sprintf("%s: next expected %d", msg, e.Sequence)
	case len(e.Account) > 0:
		return fmt.Sprintf("%s: %s", msg, e.Account)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	default:
		return msg
	}
}

// Key returns the equality key used when weighing matching errors across
// authorities. Transient detail strings are excluded on purpose.
func (e *Error) Key() string {
	return fmt.Sprintf("%d|%s|%s|%d", e.Code, e.Account, e.Balance, e.Sequence)
}

// Is makes errors.Is match on the code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the protocol error code from an error chain, or zero.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// AsProtocolError extracts the typed error from a chain, or nil.
func AsProtocolError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
