// Copyright 2026 Scalaris Ledger
//
// The authority core: one worker per shard, exclusively owning the accounts
// of that shard. Handlers run to completion on the shard's single goroutine,
// which gives per-account serializability without locks. Cross-shard effects
// come back to the caller as continuations to deliver asynchronously.

package authority

import (
	"encoding/binary"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/scalaris-ledger/scalaris/pkg/account"
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// CrossShardContinuation is an asynchronous effect of a handler targeting
// another shard of the same authority.
type CrossShardContinuation struct {
	ShardID base.ShardID
	Request *messages.CrossShardRequest
}

// WorkerState is the state of one authority shard.
type WorkerState struct {
	// Name of this authority (its public key).
	Name keys.PublicKeyBytes
	// Committee of the sidechain instance.
	Committee *committee.Committee
	// KeyPair used to vote.
	keyPair *keys.KeyPair
	// CoconutKeyPair is the issuance key share, when opaque coins are
	// configured.
	coconutKeyPair *coconut.KeyPair
	// Accounts owned by this shard, keyed by canonical account id bytes.
	Accounts map[string]*account.State
	// LastTransactionIndex of the primary chain seen by this shard.
	LastTransactionIndex base.SequenceNumber
	// ShardID of this worker and the total shard count.
	ShardID        base.ShardID
	NumberOfShards uint32

	logger cmtlog.Logger
}

// NewWorkerState builds a single-shard authority.
func NewWorkerState(cmt *committee.Committee, kp *keys.KeyPair, coconutKP *coconut.KeyPair, logger cmtlog.Logger) *WorkerState {
	return NewShardWorkerState(cmt, kp, coconutKP, 0, 1, logger)
}

// NewShardWorkerState builds one shard of an authority.
func NewShardWorkerState(cmt *committee.Committee, kp *keys.KeyPair, coconutKP *coconut.KeyPair, shardID base.ShardID, numberOfShards uint32, logger cmtlog.Logger) *WorkerState {
	if numberOfShards == 0 {
		numberOfShards = 1
	}
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &WorkerState{
		Name:           kp.Public(),
		Committee:      cmt,
		keyPair:        kp,
		coconutKeyPair: coconutKP,
		Accounts:       make(map[string]*account.State),
		ShardID:        shardID,
		NumberOfShards: numberOfShards,
		logger:         logger.With("module", "authority", "shard", shardID),
	}
}

// GetShard maps an account id onto a shard. The hash must be stable across
// processes: every authority and client computes the same placement.
func GetShard(numShards uint32, id base.AccountID) base.ShardID {
	if numShards <= 1 {
		return 0
	}
	digest := ethcrypto.Keccak256(id.Bytes())
	return base.ShardID(binary.BigEndian.Uint64(digest[:8]) % uint64(numShards))
}

// WhichShard maps an account id onto one of this authority's shards.
func (s *WorkerState) WhichShard(id base.AccountID) base.ShardID {
	return GetShard(s.NumberOfShards, id)
}

// InShard reports whether this worker owns the account.
func (s *WorkerState) InShard(id base.AccountID) bool {
	return s.WhichShard(id) == s.ShardID
}

func (s *WorkerState) activeAccount(id base.AccountID) (*account.State, error) {
	acct, ok := s.Accounts[id.Key()]
	if !ok || acct.Owner == nil {
		return nil, base.NewInactiveAccount(id)
	}
	return acct, nil
}

// HandleRequestOrder validates a signed request and stores a vote on the
// account. Retrying the same request returns the stored vote unchanged; the
// account is never mutated on error.
func (s *WorkerState) HandleRequestOrder(order *messages.RequestOrder) (*messages.AccountInfoResponse, error) {
	request := order.Value.Request
	if !s.InShard(request.AccountID) {
		return nil, base.NewError(base.CodeWrongShard)
	}
	if order.Value.LimitedTo != nil && *order.Value.LimitedTo != s.Name {
		return nil, base.NewError(base.CodeInvalidRequestOrder)
	}
	for i := range order.Assets {
		if err := order.Assets[i].Check(s.Committee); err != nil {
			return nil, err
		}
	}
	acct, err := s.activeAccount(request.AccountID)
	if err != nil {
		return nil, err
	}
	if err := order.Check(acct.Owner); err != nil {
		return nil, err
	}
	if request.SequenceNumber > base.MaxSequenceNumber {
		return nil, base.NewError(base.CodeInvalidSequenceNumber)
	}
	if request.SequenceNumber != acct.NextSequenceNumber {
		return nil, base.NewError(base.CodeUnexpectedSequenceNumber)
	}
	if acct.Pending != nil {
		if inner := acct.Pending.Value.InnerRequest(); inner == nil || !inner.Equal(&request) {
			return nil, base.NewError(base.CodePreviousRequestMustBeConfirmedFirst)
		}
		// This exact request was already signed; return the stored vote.
		return acct.MakeInfoResponse(request.AccountID), nil
	}
	value, err := acct.ValidateOperation(request, order.Assets)
	if err != nil {
		return nil, err
	}
	vote := messages.NewVote(value, s.keyPair)
	acct.Pending = &vote
	s.logger.Debug("signed request", "account", request.AccountID, "seq", request.SequenceNumber)
	return acct.MakeInfoResponse(request.AccountID), nil
}

// HandleConfirmationOrder applies a certified confirmation to the sender
// account and returns the cross-shard continuation for the recipient side,
// if any.
func (s *WorkerState) HandleConfirmationOrder(order *messages.ConfirmationOrder) (*messages.AccountInfoResponse, *CrossShardContinuation, error) {
	certificate := order.Certificate
	request := certificate.Value.ConfirmRequest()
	if request == nil {
		return nil, nil, base.NewError(base.CodeInvalidConfirmationOrder)
	}
	if err := certificate.Check(s.Committee); err != nil {
		return nil, nil, err
	}
	return s.processConfirmedRequest(*request, certificate)
}

func (s *WorkerState) processConfirmedRequest(request messages.Request, certificate messages.Certificate) (*messages.AccountInfoResponse, *CrossShardContinuation, error) {
	if !s.InShard(request.AccountID) {
		return nil, nil, base.NewError(base.CodeWrongShard)
	}
	sender := request.AccountID
	acct, err := s.activeAccount(sender)
	if err != nil {
		return nil, nil, err
	}
	if acct.NextSequenceNumber < request.SequenceNumber {
		return nil, nil, base.NewMissingEarlierConfirmations(acct.NextSequenceNumber)
	}
	if acct.NextSequenceNumber > request.SequenceNumber {
		// Already confirmed.
		return acct.MakeInfoResponse(sender), nil, nil
	}

	if err := acct.ApplyOperationAsSender(request.Operation, certificate); err != nil {
		return nil, nil, err
	}
	next, err := acct.NextSequenceNumber.TryAdd(1)
	if err != nil {
		return nil, nil, err
	}
	acct.NextSequenceNumber = next
	acct.Pending = nil
	info := acct.MakeInfoResponse(sender)
	if acct.Owner == nil {
		// Tentatively drop the inactive account from memory. A later
		// credit recreates it ownerless.
		delete(s.Accounts, sender.Key())
	}

	if recipient := messages.OperationRecipient(request.Operation); recipient != nil {
		if s.InShard(recipient) {
			if err := s.updateRecipientAccount(request.Operation, certificate); err != nil {
				return nil, nil, err
			}
		} else {
			cont := &CrossShardContinuation{
				ShardID: s.WhichShard(recipient),
				Request: messages.UpdateRecipientRequest(certificate),
			}
			return info, cont, nil
		}
	}
	return info, nil, nil
}

func (s *WorkerState) updateRecipientAccount(operation messages.Operation, certificate messages.Certificate) error {
	recipient := messages.OperationRecipient(operation)
	if recipient == nil {
		return base.NewError(base.CodeInvalidCrossShardRequest)
	}
	if !s.InShard(recipient) {
		return base.NewError(base.CodeWrongShard)
	}
	acct, ok := s.Accounts[recipient.Key()]
	if !ok {
		acct = account.NewInactive()
		s.Accounts[recipient.Key()] = acct
	}
	return acct.ApplyOperationAsRecipient(operation, certificate)
}

// HandleCoinCreationOrder verifies the locks and the value-conservation
// material of a coin creation, signs votes for the transparent targets,
// issues blinded shares for the opaque ones, and emits best-effort
// DestroyAccount hints for the consumed sources.
func (s *WorkerState) HandleCoinCreationOrder(order *messages.CoinCreationOrder) (*messages.CoinCreationResponse, []CrossShardContinuation, error) {
	description := &order.Description
	locks := order.Locks
	hash := description.Hash()
	sources := description.Sources
	targets := description.Targets
	if len(locks) != len(sources) {
		return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
	}

	sourceAccounts := make(map[string]base.AccountID, len(sources))
	sourceAmount := base.Amount(0)
	for i := range locks {
		source := &sources[i]
		// Each source account may be consumed only once per order.
		if _, seen := sourceAccounts[source.AccountID.Key()]; seen {
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
		sourceAccounts[source.AccountID.Key()] = source.AccountID
		if err := locks[i].Check(s.Committee); err != nil {
			return nil, nil, err
		}
		lockRequest := locks[i].Value.LockRequest()
		if lockRequest == nil {
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
		spend, ok := lockRequest.Operation.(messages.Spend)
		if !ok ||
			!lockRequest.AccountID.Equal(source.AccountID) ||
			spend.AccountBalance != source.AccountBalance ||
			spend.DescriptionHash != hash {
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
		var err error
		if sourceAmount, err = sourceAmount.TryAdd(spend.AccountBalance); err != nil {
			return nil, nil, err
		}
		// Transparent coins linked to the source contribute to the
		// public side of the conservation equation.
		assets := make([]messages.Asset, 0, len(source.TransparentCoins))
		for j := range source.TransparentCoins {
			if err := source.TransparentCoins[j].Check(s.Committee); err != nil {
				return nil, nil, err
			}
			assets = append(assets, messages.TransparentCoinAsset(source.TransparentCoins[j]))
		}
		coinAmount, err := messages.VerifyLinkedAssets(source.AccountID, assets)
		if err != nil {
			return nil, nil, err
		}
		if sourceAmount, err = sourceAmount.TryAdd(coinAmount); err != nil {
			return nil, nil, err
		}
	}

	targetAmount := base.Amount(0)
	for i := range targets {
		if targets[i].Amount == 0 {
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
		var err error
		if targetAmount, err = targetAmount.TryAdd(targets[i].Amount); err != nil {
			return nil, nil, err
		}
	}

	var blindedCoins *coconut.BlindedCredentials
	if description.CoconutRequest == nil {
		// Without opaque coins conservation is strict: burning value by
		// under-claiming targets is rejected.
		if targetAmount != sourceAmount {
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
	} else {
		setup := s.Committee.CoconutSetup
		if setup == nil {
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
		// Rebuild the ordered key attributes from the public seeds.
		keysList, err := collectInputKeys(sources)
		if err != nil {
			return nil, nil, err
		}
		// offset = source_amount - target_amount: the public value that
		// moves from the transparent side into the opaque outputs.
		offset := conservationScalar(sourceAmount, targetAmount)
		if err := description.CoconutRequest.Verify(setup.Parameters, setup.VerificationKey, keysList, &offset, setup.RangeBits); err != nil {
			s.logger.Info("rejected coin creation order", "err", err)
			return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
		}
		if description.CoconutRequest.HasBlindedOutputs() {
			if s.coconutKeyPair == nil {
				return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
			}
			blindedCoins, err = coconut.IssueBlindedCredentials(
				setup.Parameters,
				s.coconutKeyPair.Secret,
				description.CoconutRequest.Cms,
				description.CoconutRequest.Cs,
			)
			if err != nil {
				return nil, nil, base.NewError(base.CodeInvalidCoinCreationOrder)
			}
		}
	}

	votes := make([]messages.Vote, len(targets))
	for i := range targets {
		votes[i] = messages.NewVote(messages.CoinValue(targets[i]), s.keyPair)
	}

	continuations := make([]CrossShardContinuation, 0, len(sourceAccounts))
	for _, id := range sourceAccounts {
		// Best-effort storage hint; authoritative deactivation happened
		// at lock time.
		continuations = append(continuations, CrossShardContinuation{
			ShardID: s.WhichShard(id),
			Request: messages.DestroyAccountRequest(id),
		})
	}
	return &messages.CoinCreationResponse{
		Votes:        votes,
		BlindedCoins: blindedCoins,
	}, continuations, nil
}

// HandlePrimarySynchronizationOrder credits a transfer from the primary
// chain. The relay is trusted; stale transaction indices are idempotent.
func (s *WorkerState) HandlePrimarySynchronizationOrder(order *messages.PrimarySynchronizationOrder) (*messages.AccountInfoResponse, error) {
	recipient := order.Recipient
	if !s.InShard(recipient) {
		return nil, base.NewError(base.CodeWrongShard)
	}
	acct, ok := s.Accounts[recipient.Key()]
	if !ok {
		acct = account.NewInactive()
		s.Accounts[recipient.Key()] = acct
	}
	if order.TransactionIndex <= s.LastTransactionIndex {
		return acct.MakeInfoResponse(recipient), nil
	}
	expected, err := s.LastTransactionIndex.TryAdd(1)
	if err != nil {
		return nil, err
	}
	if order.TransactionIndex != expected {
		return nil, base.NewError(base.CodeUnexpectedTransactionIndex)
	}
	balance, err := acct.Balance.TryAdd(base.BalanceFromAmount(order.Amount))
	if err != nil {
		return nil, err
	}
	acct.Balance = balance
	acct.SynchronizationLog = append(acct.SynchronizationLog, *order)
	s.LastTransactionIndex = expected
	return acct.MakeInfoResponse(recipient), nil
}

// HandleCrossShardRequest applies a trusted message from a sibling shard.
func (s *WorkerState) HandleCrossShardRequest(request *messages.CrossShardRequest) error {
	switch request.Kind {
	case messages.CrossShardUpdateRecipient:
		confirmed := request.Certificate.Value.ConfirmRequest()
		if confirmed == nil {
			return base.NewError(base.CodeInvalidCrossShardRequest)
		}
		return s.updateRecipientAccount(confirmed.Operation, *request.Certificate)
	case messages.CrossShardDestroyAccount:
		if !s.InShard(request.AccountID) {
			return base.NewError(base.CodeWrongShard)
		}
		delete(s.Accounts, request.AccountID.Key())
		return nil
	default:
		return base.NewError(base.CodeInvalidCrossShardRequest)
	}
}

// HandleAccountInfoQuery serves account information, optionally including a
// confirmed certificate by sequence number and a page of the received log.
func (s *WorkerState) HandleAccountInfoQuery(query *messages.AccountInfoQuery) (*messages.AccountInfoResponse, error) {
	if !s.InShard(query.AccountID) {
		return nil, base.NewError(base.CodeWrongShard)
	}
	acct, err := s.activeAccount(query.AccountID)
	if err != nil {
		return nil, err
	}
	response := acct.MakeInfoResponse(query.AccountID)
	if query.QuerySequenceNumber != nil {
		idx := int(*query.QuerySequenceNumber)
		if idx < 0 || idx >= len(acct.ConfirmedLog) {
			return nil, base.NewError(base.CodeCertificateNotFound)
		}
		cert := acct.ConfirmedLog[idx]
		response.QueriedCertificate = &cert
	}
	if query.QueryReceivedCertificatesExcludingFirstNth != nil {
		idx := *query.QueryReceivedCertificatesExcludingFirstNth
		if idx < 0 {
			idx = 0
		}
		if idx < len(acct.ReceivedLog) {
			response.QueriedReceivedCertificates = append([]messages.Certificate(nil), acct.ReceivedLog[idx:]...)
		}
	}
	return response, nil
}
