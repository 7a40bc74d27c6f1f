// Copyright 2026 Scalaris Ledger
//
// Quorum coordinator tests against in-memory authorities.

package client

import (
	"context"
	"sync"
	"testing"

	"github.com/scalaris-ledger/scalaris/pkg/account"
	"github.com/scalaris-ledger/scalaris/pkg/authority"
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// localAuthorityClient drives one in-memory authority (all its shards) and
// delivers cross-shard continuations synchronously.
type localAuthorityClient struct {
	mu      sync.Mutex
	workers []*authority.WorkerState // by shard
	// fail makes every call return the given error (fault injection).
	fail error
}

func (l *localAuthorityClient) workerFor(id base.AccountID) *authority.WorkerState {
	return l.workers[l.workers[0].WhichShard(id)]
}

func (l *localAuthorityClient) deliver(continuations ...*authority.CrossShardContinuation) {
	for _, continuation := range continuations {
		if continuation == nil {
			continue
		}
		// Trusted in-process delivery; errors are ignored here.
		_ = l.workers[continuation.ShardID].HandleCrossShardRequest(continuation.Request)
	}
}

func (l *localAuthorityClient) HandleRequestOrder(_ context.Context, order *messages.RequestOrder) (*messages.AccountInfoResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	return l.workerFor(order.Value.Request.AccountID).HandleRequestOrder(order)
}

func (l *localAuthorityClient) HandleConfirmationOrder(_ context.Context, order *messages.ConfirmationOrder) (*messages.AccountInfoResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	request := order.Certificate.Value.ConfirmRequest()
	if request == nil {
		return nil, base.NewError(base.CodeInvalidConfirmationOrder)
	}
	info, continuation, err := l.workerFor(request.AccountID).HandleConfirmationOrder(order)
	if err != nil {
		return nil, err
	}
	l.deliver(continuation)
	return info, nil
}

func (l *localAuthorityClient) HandleCoinCreationOrder(_ context.Context, order *messages.CoinCreationOrder) (*messages.CoinCreationResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	response, continuations, err := l.workers[0].HandleCoinCreationOrder(order)
	if err != nil {
		return nil, err
	}
	for i := range continuations {
		l.deliver(&continuations[i])
	}
	return response, nil
}

func (l *localAuthorityClient) HandleAccountInfoQuery(_ context.Context, query *messages.AccountInfoQuery) (*messages.AccountInfoResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	return l.workerFor(query.AccountID).HandleAccountInfoQuery(query)
}

type testNet struct {
	committee *committee.Committee
	locals    []*localAuthorityClient
	clients   map[keys.PublicKeyBytes]AuthorityClient
}

func newTestNet(t *testing.T, authorities int, withCoconut bool) *testNet {
	t.Helper()
	var (
		setup       *committee.CoconutSetup
		coconutKeys []*coconut.KeyPair
	)
	keyPairs := make([]*keys.KeyPair, authorities)
	names := make(map[keys.PublicKeyBytes]int, authorities)
	for i := range keyPairs {
		kp, err := keys.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		keyPairs[i] = kp
		names[kp.Public()] = 1
	}
	if withCoconut {
		params, err := coconut.Setup(coconut.AttributeCount)
		if err != nil {
			t.Fatal(err)
		}
		threshold := 2*authorities/3 + 1
		master, kps, err := coconut.TrustedSetup(params, threshold, authorities)
		if err != nil {
			t.Fatal(err)
		}
		coconutKeys = kps
		shares := make(map[keys.PublicKeyBytes]committee.AuthorityShare, authorities)
		for i, kp := range keyPairs {
			coconutKeys[i].Public = coconut.NewPublicKey(params, coconutKeys[i].Secret)
			shares[kp.Public()] = committee.AuthorityShare{
				Index: coconutKeys[i].Index,
				Key:   coconutKeys[i].Public,
			}
		}
		setup = &committee.CoconutSetup{
			Parameters:      params,
			VerificationKey: master,
			Authorities:     shares,
			RangeBits:       32,
		}
	}
	cmt, err := committee.New(names, setup)
	if err != nil {
		t.Fatal(err)
	}
	net := &testNet{
		committee: cmt,
		clients:   make(map[keys.PublicKeyBytes]AuthorityClient, authorities),
	}
	for i, kp := range keyPairs {
		var coconutKP *coconut.KeyPair
		if withCoconut {
			coconutKP = coconutKeys[i]
		}
		local := &localAuthorityClient{
			workers: []*authority.WorkerState{
				authority.NewWorkerState(cmt, kp, coconutKP, nil),
			},
		}
		net.locals = append(net.locals, local)
		net.clients[kp.Public()] = local
	}
	return net
}

func (n *testNet) fund(id base.AccountID, owner keys.PublicKeyBytes, balance base.Balance) {
	for _, local := range n.locals {
		local.workerFor(id).Accounts[id.Key()] = account.New(owner, balance)
	}
}

func (n *testNet) accountClient(t *testing.T, id base.AccountID, kp *keys.KeyPair, balance base.Balance) *AccountClient {
	t.Helper()
	return New(id, n.committee, n.clients, Options{KeyPair: kp, Balance: balance})
}

func (n *testNet) authorityBalance(i int, id base.AccountID) base.Balance {
	acct, ok := n.locals[i].workerFor(id).Accounts[id.Key()]
	if !ok {
		return base.ZeroBalance()
	}
	return acct.Balance
}

func TestTransferUpdatesBothSides(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	ownerB, _ := keys.GenerateKeyPair()
	idA, idB := base.NewAccountID(1), base.NewAccountID(2)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))
	net.fund(idB, ownerB.Public(), base.ZeroBalance())

	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(100))
	certificate, err := sender.TransferToAccount(context.Background(), 50, idB, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := certificate.Check(net.committee); err != nil {
		t.Fatalf("returned certificate must verify: %v", err)
	}
	if sender.Balance().Cmp(base.BalanceFromAmount(50)) != 0 {
		t.Errorf("local balance: got %s, want 50", sender.Balance())
	}
	if sender.NextSequenceNumber() != 1 {
		t.Errorf("next sequence: got %d, want 1", sender.NextSequenceNumber())
	}
	// With the confirmation hop, a quorum applied both sides.
	applied := 0
	for i := range net.locals {
		if net.authorityBalance(i, idB).Cmp(base.BalanceFromAmount(50)) == 0 {
			applied++
		}
	}
	if applied < net.committee.QuorumThreshold() {
		t.Errorf("recipient credited on %d authorities, want at least %d", applied, net.committee.QuorumThreshold())
	}
}

func TestTransferRefusedLocallyOnOverspend(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))
	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(10))
	if _, err := sender.TransferToAccount(context.Background(), 11, base.NewAccountID(2), nil); err == nil {
		t.Fatal("overspend must be refused before hitting the network")
	}
	// The account is not blocked: a valid transfer still goes through.
	if _, err := sender.TransferToAccount(context.Background(), 10, base.NewAccountID(2), nil); err != nil {
		t.Fatalf("subsequent valid transfer: %v", err)
	}
}

func TestReceiveConfirmationCreditsOnce(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	ownerB, _ := keys.GenerateKeyPair()
	idA, idB := base.NewAccountID(1), base.NewAccountID(2)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))
	net.fund(idB, ownerB.Public(), base.ZeroBalance())

	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(100))
	certificate, err := sender.TransferToAccount(context.Background(), 30, idB, nil)
	if err != nil {
		t.Fatal(err)
	}
	receiver := net.accountClient(t, idB, ownerB, base.ZeroBalance())
	if err := receiver.ReceiveConfirmation(context.Background(), *certificate); err != nil {
		t.Fatal(err)
	}
	if err := receiver.ReceiveConfirmation(context.Background(), *certificate); err != nil {
		t.Fatal(err)
	}
	if receiver.Balance().Cmp(base.BalanceFromAmount(30)) != 0 {
		t.Errorf("receiver balance after replay: got %s, want 30", receiver.Balance())
	}
}

func TestQuorumSurfacesAgreedError(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	// Authorities know a balance of 10 but the client believes 100.
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))
	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(100))

	_, err := sender.TransferUnsafeUnconfirmed(context.Background(), 50, base.NewAccountID(2), nil)
	protoErr := base.AsProtocolError(err)
	if protoErr == nil || protoErr.Code != base.CodeInsufficientFunding {
		t.Fatalf("expected InsufficientFunding from the quorum, got %v", err)
	}
	if protoErr.Balance.Cmp(base.BalanceFromAmount(10)) != 0 {
		t.Errorf("server-side balance: got %s, want 10", protoErr.Balance)
	}
}

func TestQuorumToleratesFaultyMinority(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))
	// One authority is unreachable.
	net.locals[0].fail = base.NewClientIOError("connection refused")

	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(100))
	if _, err := sender.TransferToAccount(context.Background(), 10, base.NewAccountID(2), nil); err != nil {
		t.Fatalf("one faulty authority must not block progress: %v", err)
	}
}

func TestRotateKeyPair(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(5))
	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(5))

	newKP, _ := keys.GenerateKeyPair()
	if _, err := sender.RotateKeyPair(context.Background(), newKP); err != nil {
		t.Fatal(err)
	}
	owner, ok := sender.Owner()
	if !ok || owner != newKP.Public() {
		t.Error("client must sign with the rotated key")
	}
	// The rotated key signs the next request.
	if _, err := sender.TransferToAccount(context.Background(), 5, base.NewAccountID(2), nil); err != nil {
		t.Fatalf("transfer under the new key: %v", err)
	}
}

func TestOpenAccountRoundTrip(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(100))
	parent := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(100))

	childOwner, _ := keys.GenerateKeyPair()
	_, childID, err := parent.OpenAccount(context.Background(), childOwner.Public())
	if err != nil {
		t.Fatal(err)
	}
	if !childID.Parent().Equal(idA) {
		t.Errorf("child id %s must derive from %s", childID, idA)
	}
	// Fund the child and drive it with its own client.
	if _, err := parent.TransferToAccount(context.Background(), 40, childID, nil); err != nil {
		t.Fatal(err)
	}
	child := New(childID, net.committee, net.clients, Options{KeyPair: childOwner})
	balance, err := child.SynchronizeBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if balance.Cmp(base.BalanceFromAmount(40)) != 0 {
		t.Errorf("child balance: got %s, want 40", balance)
	}
	if _, err := child.TransferToAccount(context.Background(), 15, idA, nil); err != nil {
		t.Fatalf("child transfer: %v", err)
	}
}

func TestSpendAndCreateTransparentCoins(t *testing.T) {
	net := newTestNet(t, 4, false)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))
	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(10))

	targets := []messages.TransparentCoin{
		{AccountID: idA.Clone(), Amount: 7, Seed: base.NewCoinSeed()},
		{AccountID: idA.Clone(), Amount: 3, Seed: base.NewCoinSeed()},
	}
	assets, err := sender.SpendAndCreateCoins(context.Background(), targets, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 coins, got %d", len(assets))
	}
	for i := range assets {
		if err := assets[i].Check(net.committee); err != nil {
			t.Errorf("coin %d must verify: %v", i, err)
		}
		amount, _ := assets[i].Amount()
		if amount != targets[i].Amount {
			t.Errorf("coin %d: amount %d, want %d", i, amount, targets[i].Amount)
		}
	}
	// Retrying a locked account with a different description fails.
	other := []messages.TransparentCoin{
		{AccountID: idA.Clone(), Amount: 10, Seed: base.NewCoinSeed()},
	}
	if _, err := sender.SpendAndCreateCoins(context.Background(), other, nil); err == nil {
		t.Error("a locked account must not lock again for a different description")
	}
}

func TestOpaqueCoinRoundTrip(t *testing.T) {
	net := newTestNet(t, 4, true)
	ownerA, _ := keys.GenerateKeyPair()
	idA := base.NewAccountID(1)
	net.fund(idA, ownerA.Public(), base.BalanceFromAmount(10))
	sender := net.accountClient(t, idA, ownerA, base.BalanceFromAmount(10))

	opaque := sender.NewOpaqueCoin(10)
	assets, err := sender.SpendAndCreateCoins(context.Background(), nil, []messages.OpaqueCoin{opaque})
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || !assets[0].IsOpaque() {
		t.Fatalf("expected one opaque coin, got %d assets", len(assets))
	}
	// The aggregated credential verifies under the committee key with
	// the hidden attributes.
	if err := assets[0].Check(net.committee); err != nil {
		t.Errorf("opaque coin must verify: %v", err)
	}
	amount, err := assets[0].Amount()
	if err != nil || amount != 10 {
		t.Errorf("opaque coin amount: got %d, %v", amount, err)
	}
}

func TestCommunicateWithQuorumWeighsErrors(t *testing.T) {
	net := newTestNet(t, 4, false)
	agreed := base.NewInsufficientFunding(base.BalanceFromAmount(1))
	_, err := communicateWithQuorum(context.Background(), net.committee, net.clients,
		func(_ context.Context, _ keys.PublicKeyBytes, _ AuthorityClient) (int, error) {
			return 0, agreed
		})
	protoErr := base.AsProtocolError(err)
	if protoErr == nil || protoErr.Code != base.CodeInsufficientFunding {
		t.Fatalf("agreed error must surface, got %v", err)
	}

	// Pure transport failures never reach the validity threshold.
	_, err = communicateWithQuorum(context.Background(), net.committee, net.clients,
		func(_ context.Context, _ keys.PublicKeyBytes, _ AuthorityClient) (int, error) {
			return 0, base.NewClientIOError("timeout")
		})
	if err != ErrNoQuorum {
		t.Fatalf("drained pool must report ErrNoQuorum, got %v", err)
	}
}

func TestDownloaderCoalesces(t *testing.T) {
	var mu sync.Mutex
	fetches := 0
	dl := newDownloader(func(_ context.Context, seq base.SequenceNumber) (*messages.Certificate, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		cert := messages.Certificate{Value: messages.ConfirmValue(messages.Request{
			AccountID:      base.NewAccountID(1),
			Operation:      messages.CloseAccount{},
			SequenceNumber: seq,
		})}
		return &cert, nil
	}, nil, base.NewAccountID(1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dl.Query(context.Background(), 5); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if fetches != 1 {
		t.Errorf("8 concurrent queries must coalesce into 1 fetch, got %d", fetches)
	}
	certs := dl.Certificates()
	if len(certs) != 1 {
		t.Errorf("drained cache: got %d certificates", len(certs))
	}
}
