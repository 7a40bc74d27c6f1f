// Copyright 2026 Scalaris Ledger
//
// Authority core tests: the per-account state machine, sharding, and the
// certificate discipline.

package authority

import (
	"testing"

	"github.com/scalaris-ledger/scalaris/pkg/account"
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

type testCommittee struct {
	committee *committee.Committee
	keyPairs  []*keys.KeyPair
	// workers[authority][shard]
	workers [][]*WorkerState
}

func newTestCommittee(t *testing.T, authorities int, shards uint32) *testCommittee {
	t.Helper()
	tc := &testCommittee{}
	names := make([]keys.PublicKeyBytes, authorities)
	for i := 0; i < authorities; i++ {
		kp, err := keys.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		tc.keyPairs = append(tc.keyPairs, kp)
		names[i] = kp.Public()
	}
	tc.committee = committee.MakeSimple(names...)
	for i := 0; i < authorities; i++ {
		row := make([]*WorkerState, shards)
		for s := uint32(0); s < shards; s++ {
			row[s] = NewShardWorkerState(tc.committee, tc.keyPairs[i], nil, base.ShardID(s), shards, nil)
		}
		tc.workers = append(tc.workers, row)
	}
	return tc
}

// fund seeds an account on the owning shard of every authority.
func (tc *testCommittee) fund(id base.AccountID, owner keys.PublicKeyBytes, balance base.Balance) {
	for _, row := range tc.workers {
		shard := row[0].WhichShard(id)
		row[shard].Accounts[id.Key()] = account.New(owner, balance)
	}
}

// workerFor returns authority i's worker owning the account.
func (tc *testCommittee) workerFor(i int, id base.AccountID) *WorkerState {
	row := tc.workers[i]
	return row[row[0].WhichShard(id)]
}

// certify collects a vote from every authority and assembles a certificate.
func (tc *testCommittee) certify(t *testing.T, order *messages.RequestOrder) messages.Certificate {
	t.Helper()
	var value *messages.Value
	var aggregator *messages.SignatureAggregator
	var certificate *messages.Certificate
	for i := range tc.workers {
		info, err := tc.workerFor(i, order.Value.Request.AccountID).HandleRequestOrder(order)
		if err != nil {
			t.Fatalf("authority %d rejected order: %v", i, err)
		}
		if info.Pending == nil {
			t.Fatalf("authority %d returned no vote", i)
		}
		if value == nil {
			value = &info.Pending.Value
			aggregator = messages.NewSignatureAggregator(*value, tc.committee)
		}
		done, err := aggregator.Append(info.Pending.Authority, info.Pending.Signature)
		if err != nil {
			t.Fatal(err)
		}
		if done != nil && certificate == nil {
			certificate = done
		}
	}
	if certificate == nil {
		t.Fatal("no quorum reached")
	}
	return *certificate
}

// findAccountInShard searches for a root account id owned by the shard.
func findAccountInShard(t *testing.T, numShards uint32, shard base.ShardID) base.AccountID {
	t.Helper()
	for k := uint64(1); k < 10000; k++ {
		id := base.NewAccountID(base.SequenceNumber(k))
		if GetShard(numShards, id) == shard {
			return id
		}
	}
	t.Fatal("no account id found for shard")
	return nil
}

func signedTransfer(t *testing.T, kp *keys.KeyPair, from, to base.AccountID, amount base.Amount, seq base.SequenceNumber) *messages.RequestOrder {
	t.Helper()
	request := messages.Request{
		AccountID:      from,
		Operation:      messages.Transfer{Recipient: messages.AccountAddress(to), Amount: amount},
		SequenceNumber: seq,
	}
	return messages.NewRequestOrder(messages.RequestValue{Request: request}, kp, nil)
}

func TestShardPlacementIsStable(t *testing.T) {
	id := base.NewAccountID(1, 2, 3)
	first := GetShard(4, id)
	for i := 0; i < 3; i++ {
		if GetShard(4, id) != first {
			t.Fatal("shard placement must be deterministic")
		}
	}
	if GetShard(1, id) != 0 {
		t.Error("single shard deployments place everything on shard zero")
	}
}

func TestTwoShardTransfer(t *testing.T) {
	tc := newTestCommittee(t, 4, 2)
	idA := findAccountInShard(t, 2, 0)
	idB := findAccountInShard(t, 2, 1)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))

	order := signedTransfer(t, ownerA, idA, idB, 50, 0)
	certificate := tc.certify(t, order)

	for i := range tc.workers {
		info, continuation, err := tc.workerFor(i, idA).HandleConfirmationOrder(messages.NewConfirmationOrder(certificate))
		if err != nil {
			t.Fatalf("authority %d: %v", i, err)
		}
		if info.Balance.Cmp(base.BalanceFromAmount(50)) != 0 {
			t.Errorf("authority %d: sender balance %s, want 50", i, info.Balance)
		}
		if info.NextSequenceNumber != 1 {
			t.Errorf("authority %d: next sequence %d, want 1", i, info.NextSequenceNumber)
		}
		if continuation == nil {
			t.Fatalf("authority %d: expected a cross-shard continuation", i)
		}
		if continuation.ShardID != tc.workers[i][0].WhichShard(idB) {
			t.Errorf("authority %d: continuation targets shard %d", i, continuation.ShardID)
		}
		// Deliver the continuation, twice: replays are idempotent.
		recipientWorker := tc.workerFor(i, idB)
		if err := recipientWorker.HandleCrossShardRequest(continuation.Request); err != nil {
			t.Fatal(err)
		}
		if err := recipientWorker.HandleCrossShardRequest(continuation.Request); err != nil {
			t.Fatal(err)
		}
		recipient := recipientWorker.Accounts[idB.Key()]
		if recipient == nil {
			t.Fatalf("authority %d: recipient account missing", i)
		}
		if recipient.Balance.Cmp(base.BalanceFromAmount(50)) != 0 {
			t.Errorf("authority %d: recipient balance %s, want 50", i, recipient.Balance)
		}
		if len(recipient.ReceivedLog) != 1 {
			t.Errorf("authority %d: received log has %d entries, want 1", i, len(recipient.ReceivedLog))
		}
	}

	// Replaying the whole confirmation leaves the sender unchanged.
	info, _, err := tc.workerFor(0, idA).HandleConfirmationOrder(messages.NewConfirmationOrder(certificate))
	if err != nil {
		t.Fatal(err)
	}
	if info.Balance.Cmp(base.BalanceFromAmount(50)) != 0 || info.NextSequenceNumber != 1 {
		t.Error("confirmation replay must be a no-op")
	}
}

func TestRequestOrderIdempotenceAndDoubleSpend(t *testing.T) {
	tc := newTestCommittee(t, 4, 1)
	idA := base.NewAccountID(1)
	idB := base.NewAccountID(2)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))
	worker := tc.workerFor(0, idA)

	order := signedTransfer(t, ownerA, idA, idB, 50, 0)
	first, err := worker.HandleRequestOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	// Retrying the identical order returns the stored vote unchanged.
	second, err := worker.HandleRequestOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	if first.Pending.Signature != second.Pending.Signature {
		t.Error("retry must return the original vote")
	}
	// A different request at the same sequence number is refused while
	// the first is pending.
	conflicting := signedTransfer(t, ownerA, idA, idB, 60, 0)
	if _, err := worker.HandleRequestOrder(conflicting); base.CodeOf(err) != base.CodePreviousRequestMustBeConfirmedFirst {
		t.Errorf("conflicting request: got %v", err)
	}

	certificate := tc.certify(t, order)
	for i := range tc.workers {
		if _, _, err := tc.workerFor(i, idA).HandleConfirmationOrder(messages.NewConfirmationOrder(certificate)); err != nil {
			t.Fatal(err)
		}
	}
	// The double spend at the next sequence number fails against the
	// reduced balance.
	overspend := signedTransfer(t, ownerA, idA, idB, 60, 1)
	err = func() error { _, err := worker.HandleRequestOrder(overspend); return err }()
	protoErr := base.AsProtocolError(err)
	if protoErr == nil || protoErr.Code != base.CodeInsufficientFunding {
		t.Fatalf("overspend: got %v", err)
	}
	if protoErr.Balance.Cmp(base.BalanceFromAmount(50)) != 0 {
		t.Errorf("overspend must report balance 50, got %s", protoErr.Balance)
	}
}

func TestConfirmationOrdering(t *testing.T) {
	tc := newTestCommittee(t, 4, 1)
	idA := base.NewAccountID(1)
	idB := base.NewAccountID(2)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))

	first := tc.certify(t, signedTransfer(t, ownerA, idA, idB, 10, 0))
	for i := range tc.workers {
		if _, _, err := tc.workerFor(i, idA).HandleConfirmationOrder(messages.NewConfirmationOrder(first)); err != nil {
			t.Fatal(err)
		}
	}
	second := tc.certify(t, signedTransfer(t, ownerA, idA, idB, 10, 1))

	// A fresh authority that never saw the first confirmation rejects
	// the second with the sequence number it expects.
	late := NewWorkerState(tc.committee, tc.keyPairs[0], nil, nil)
	late.Accounts[idA.Key()] = account.New(ownerA.Public(), base.BalanceFromAmount(100))
	_, _, err = late.HandleConfirmationOrder(messages.NewConfirmationOrder(second))
	protoErr := base.AsProtocolError(err)
	if protoErr == nil || protoErr.Code != base.CodeMissingEarlierConfirmations {
		t.Fatalf("out of order confirmation: got %v", err)
	}
	if protoErr.Sequence != 0 {
		t.Errorf("expected sequence 0 reported, got %d", protoErr.Sequence)
	}
	// Catching up in order succeeds.
	if _, _, err := late.HandleConfirmationOrder(messages.NewConfirmationOrder(first)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := late.HandleConfirmationOrder(messages.NewConfirmationOrder(second)); err != nil {
		t.Fatal(err)
	}
}

func TestChangeOwnerThenOldKeyRejected(t *testing.T) {
	tc := newTestCommittee(t, 4, 1)
	idA := base.NewAccountID(1)
	oldOwner, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	newOwner, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, oldOwner.Public(), base.BalanceFromAmount(5))

	change := messages.Request{
		AccountID:      idA,
		Operation:      messages.ChangeOwner{NewOwner: newOwner.Public()},
		SequenceNumber: 0,
	}
	order := messages.NewRequestOrder(messages.RequestValue{Request: change}, oldOwner, nil)
	certificate := tc.certify(t, order)
	for i := range tc.workers {
		if _, _, err := tc.workerFor(i, idA).HandleConfirmationOrder(messages.NewConfirmationOrder(certificate)); err != nil {
			t.Fatal(err)
		}
	}
	// The old key can no longer sign.
	stale := signedTransfer(t, oldOwner, idA, base.NewAccountID(2), 1, 1)
	if _, err := tc.workerFor(0, idA).HandleRequestOrder(stale); base.CodeOf(err) != base.CodeInvalidOwner {
		t.Errorf("stale key: got %v", err)
	}
	// The new key can.
	fresh := signedTransfer(t, newOwner, idA, base.NewAccountID(2), 1, 1)
	if _, err := tc.workerFor(0, idA).HandleRequestOrder(fresh); err != nil {
		t.Errorf("new key: %v", err)
	}
}

func TestOpenChildAccount(t *testing.T) {
	tc := newTestCommittee(t, 4, 1)
	parent := base.NewAccountID(1)
	parentOwner, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	childOwner, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(parent, parentOwner.Public(), base.ZeroBalance())

	childID := parent.MakeChild(0)
	open := messages.Request{
		AccountID:      parent,
		Operation:      messages.OpenAccount{NewID: childID, NewOwner: childOwner.Public()},
		SequenceNumber: 0,
	}
	order := messages.NewRequestOrder(messages.RequestValue{Request: open}, parentOwner, nil)
	certificate := tc.certify(t, order)
	for i := range tc.workers {
		if _, _, err := tc.workerFor(i, parent).HandleConfirmationOrder(messages.NewConfirmationOrder(certificate)); err != nil {
			t.Fatal(err)
		}
		child := tc.workerFor(i, childID).Accounts[childID.Key()]
		if child == nil {
			t.Fatalf("authority %d: child account missing", i)
		}
		if child.Owner == nil || *child.Owner != childOwner.Public() {
			t.Errorf("authority %d: child owner wrong", i)
		}
		if child.Balance.Cmp(base.ZeroBalance()) != 0 {
			t.Errorf("authority %d: child balance %s, want 0", i, child.Balance)
		}
	}
	// Reusing the same child id at a later sequence number violates the
	// derived-id rule.
	reuse := messages.Request{
		AccountID:      parent,
		Operation:      messages.OpenAccount{NewID: childID, NewOwner: childOwner.Public()},
		SequenceNumber: 1,
	}
	order = messages.NewRequestOrder(messages.RequestValue{Request: reuse}, parentOwner, nil)
	if _, err := tc.workerFor(0, parent).HandleRequestOrder(order); base.CodeOf(err) != base.CodeInvalidNewAccountID {
		t.Errorf("child id reuse: got %v", err)
	}
}

func TestCoinCreationTransparent(t *testing.T) {
	tc := newTestCommittee(t, 4, 1)
	idA := base.NewAccountID(1)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))

	targets := []messages.TransparentCoin{
		{AccountID: idA.Clone(), Amount: 7, Seed: base.NewCoinSeed()},
		{AccountID: idA.Clone(), Amount: 3, Seed: base.NewCoinSeed()},
	}
	description := messages.CoinCreationDescription{
		Sources: []messages.CoinCreationSource{{
			AccountID:      idA.Clone(),
			AccountBalance: 10,
		}},
		Targets: targets,
	}
	spend := messages.Request{
		AccountID:      idA,
		Operation:      messages.Spend{AccountBalance: 10, DescriptionHash: description.Hash()},
		SequenceNumber: 0,
	}
	lockOrder := messages.NewRequestOrder(messages.RequestValue{Request: spend}, ownerA, nil)
	lock := tc.certify(t, lockOrder)
	if lock.Value.Kind != messages.ValueLock {
		t.Fatal("spend must certify a lock value")
	}

	order := &messages.CoinCreationOrder{Description: description, Locks: []messages.Certificate{lock}}
	aggregators := []*messages.SignatureAggregator{
		messages.NewSignatureAggregator(messages.CoinValue(targets[0]), tc.committee),
		messages.NewSignatureAggregator(messages.CoinValue(targets[1]), tc.committee),
	}
	var coins []*messages.Certificate
	for i := range tc.workers {
		response, continuations, err := tc.workers[i][0].HandleCoinCreationOrder(order)
		if err != nil {
			t.Fatalf("authority %d: %v", i, err)
		}
		if len(response.Votes) != 2 || response.BlindedCoins != nil {
			t.Fatalf("authority %d: unexpected response shape", i)
		}
		if len(continuations) != 1 || continuations[0].Request.Kind != messages.CrossShardDestroyAccount {
			t.Fatalf("authority %d: expected a destroy-account hint", i)
		}
		for j, vote := range response.Votes {
			done, err := aggregators[j].Append(vote.Authority, vote.Signature)
			if err != nil {
				t.Fatal(err)
			}
			if done != nil && len(coins) == j {
				coins = append(coins, done)
			}
		}
	}
	if len(coins) != 2 {
		t.Fatalf("expected 2 coin certificates, got %d", len(coins))
	}
	for j, coin := range coins {
		asset := messages.TransparentCoinAsset(*coin)
		if err := asset.Check(tc.committee); err != nil {
			t.Errorf("coin %d: %v", j, err)
		}
		amount, err := asset.Amount()
		if err != nil || amount != targets[j].Amount {
			t.Errorf("coin %d: amount %d, want %d", j, amount, targets[j].Amount)
		}
	}

	// Destroying the source account via the hint removes it.
	for i := range tc.workers {
		worker := tc.workerFor(i, idA)
		if err := worker.HandleCrossShardRequest(messages.DestroyAccountRequest(idA)); err != nil {
			t.Fatal(err)
		}
		if _, ok := worker.Accounts[idA.Key()]; ok {
			t.Errorf("authority %d: source account must be destroyed", i)
		}
	}
}

func TestCoinCreationStrictConservation(t *testing.T) {
	tc := newTestCommittee(t, 4, 1)
	idA := base.NewAccountID(1)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))

	// Targets summing below the locked balance would burn value.
	description := messages.CoinCreationDescription{
		Sources: []messages.CoinCreationSource{{AccountID: idA.Clone(), AccountBalance: 10}},
		Targets: []messages.TransparentCoin{{AccountID: idA.Clone(), Amount: 7, Seed: base.NewCoinSeed()}},
	}
	spend := messages.Request{
		AccountID:      idA,
		Operation:      messages.Spend{AccountBalance: 10, DescriptionHash: description.Hash()},
		SequenceNumber: 0,
	}
	lock := tc.certify(t, messages.NewRequestOrder(messages.RequestValue{Request: spend}, ownerA, nil))
	order := &messages.CoinCreationOrder{Description: description, Locks: []messages.Certificate{lock}}
	if _, _, err := tc.workers[0][0].HandleCoinCreationOrder(order); base.CodeOf(err) != base.CodeInvalidCoinCreationOrder {
		t.Errorf("under-claiming targets: got %v", err)
	}
}

func TestSequenceNumberCeiling(t *testing.T) {
	tc := newTestCommittee(t, 1, 1)
	idA := base.NewAccountID(1)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))
	worker := tc.workerFor(0, idA)
	worker.Accounts[idA.Key()].NextSequenceNumber = base.MaxSequenceNumber + 1

	order := signedTransfer(t, ownerA, idA, base.NewAccountID(2), 1, base.MaxSequenceNumber+1)
	if _, err := worker.HandleRequestOrder(order); base.CodeOf(err) != base.CodeInvalidSequenceNumber {
		t.Errorf("sequence ceiling: got %v", err)
	}
}

func TestWrongShardAndLimitedTo(t *testing.T) {
	tc := newTestCommittee(t, 2, 2)
	idA := findAccountInShard(t, 2, 0)
	ownerA, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tc.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))

	order := signedTransfer(t, ownerA, idA, base.NewAccountID(2), 1, 0)
	wrongShard := tc.workers[0][1]
	if _, err := wrongShard.HandleRequestOrder(order); base.CodeOf(err) != base.CodeWrongShard {
		t.Errorf("wrong shard: got %v", err)
	}

	// An order limited to another authority is refused.
	other := tc.keyPairs[1].Public()
	limited := messages.RequestValue{Request: order.Value.Request, LimitedTo: &other}
	limitedOrder := messages.NewRequestOrder(limited, ownerA, nil)
	if _, err := tc.workerFor(0, idA).HandleRequestOrder(limitedOrder); base.CodeOf(err) != base.CodeInvalidRequestOrder {
		t.Errorf("limited-to mismatch: got %v", err)
	}
	// Limited to the right authority it goes through.
	self := tc.keyPairs[0].Public()
	limitedSelf := messages.NewRequestOrder(messages.RequestValue{Request: order.Value.Request, LimitedTo: &self}, ownerA, nil)
	if _, err := tc.workerFor(0, idA).HandleRequestOrder(limitedSelf); err != nil {
		t.Errorf("limited-to self: %v", err)
	}
}

func TestPrimarySynchronization(t *testing.T) {
	tc := newTestCommittee(t, 1, 1)
	worker := tc.workers[0][0]
	recipient := base.NewAccountID(7)

	first := &messages.PrimarySynchronizationOrder{Recipient: recipient, Amount: 5, TransactionIndex: 1}
	if _, err := worker.HandlePrimarySynchronizationOrder(first); err != nil {
		t.Fatal(err)
	}
	// Replays of old indices are idempotent.
	if _, err := worker.HandlePrimarySynchronizationOrder(first); err != nil {
		t.Fatal(err)
	}
	acct := worker.Accounts[recipient.Key()]
	if acct.Balance.Cmp(base.BalanceFromAmount(5)) != 0 {
		t.Errorf("balance after replay: got %s, want 5", acct.Balance)
	}
	// Skipping an index is rejected.
	skip := &messages.PrimarySynchronizationOrder{Recipient: recipient, Amount: 5, TransactionIndex: 3}
	if _, err := worker.HandlePrimarySynchronizationOrder(skip); base.CodeOf(err) != base.CodeUnexpectedTransactionIndex {
		t.Errorf("skipped index: got %v", err)
	}
	if len(acct.SynchronizationLog) != 1 {
		t.Errorf("synchronization log: got %d entries, want 1", len(acct.SynchronizationLog))
	}
}
