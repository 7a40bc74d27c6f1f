// Copyright 2026 Scalaris Ledger
//
// The client-side quorum coordinator: drives one account against every
// authority, aggregates votes into certificates, and keeps a local view of
// the account synchronized.

package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// AuthorityClient is how the coordinator talks to one authority. Transport
// failures surface as *base.Error with CodeClientIOError.
type AuthorityClient interface {
	HandleRequestOrder(ctx context.Context, order *messages.RequestOrder) (*messages.AccountInfoResponse, error)
	HandleConfirmationOrder(ctx context.Context, order *messages.ConfirmationOrder) (*messages.AccountInfoResponse, error)
	HandleCoinCreationOrder(ctx context.Context, order *messages.CoinCreationOrder) (*messages.CoinCreationResponse, error)
	HandleAccountInfoQuery(ctx context.Context, query *messages.AccountInfoQuery) (*messages.AccountInfoResponse, error)
}

// ErrNoQuorum reports that the authority pool drained without reaching
// either the quorum threshold or a validity-threshold error.
var ErrNoQuorum = errors.New("failed to communicate with a quorum of authorities (multiple errors)")

// pendingKind tracks the status of the last request order sent, if any.
type pendingKind uint8

const (
	pendingNone pendingKind = iota
	// pendingRegular is a request meant to be confirmed.
	pendingRegular
	// pendingLocking is a Spend request that cannot be confirmed.
	pendingLocking
)

type pendingRequest struct {
	kind  pendingKind
	order *messages.RequestOrder
}

// AccountClient drives one account against the committee.
type AccountClient struct {
	accountID base.AccountID
	// keyPair is the current signing key, when we own the account.
	keyPair   *keys.KeyPair
	committee *committee.Committee
	// authorityClients, one per committee member.
	authorityClients map[keys.PublicKeyBytes]AuthorityClient
	// nextSequenceNumber expected for the next certified request; also
	// the number of certificates in sentCertificates when synchronized.
	nextSequenceNumber base.SequenceNumber
	pending            pendingRequest
	// lockCertificate proves this account was locked, once spent.
	lockCertificate *messages.Certificate
	// knownKeyPairs holds past and future keys for ChangeOwner.
	knownKeyPairs map[keys.PublicKeyBytes]*keys.KeyPair
	// coins linked to this account.
	coins []messages.Asset

	// sentCertificates[i] has sequence number i.
	sentCertificates []messages.Certificate
	// receivedCertificates indexed by (account id, sequence number).
	receivedCertificates map[string]messages.Certificate
	// balance as known locally.
	balance base.Balance
	// receivedCertificateTrackers pages the received log per authority.
	receivedCertificateTrackers map[keys.PublicKeyBytes]int

	logger cmtlog.Logger
}

// Options carries the optional initial state of an account client.
type Options struct {
	KeyPair              *keys.KeyPair
	NextSequenceNumber   base.SequenceNumber
	Balance              base.Balance
	Coins                []messages.Asset
	SentCertificates     []messages.Certificate
	ReceivedCertificates []messages.Certificate
	Logger               cmtlog.Logger
}

// New builds an account client.
func New(accountID base.AccountID, cmt *committee.Committee, authorityClients map[keys.PublicKeyBytes]AuthorityClient, opts Options) *AccountClient {
	logger := opts.Logger
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	c := &AccountClient{
		accountID:                   accountID.Clone(),
		keyPair:                     opts.KeyPair,
		committee:                   cmt,
		authorityClients:            authorityClients,
		nextSequenceNumber:          opts.NextSequenceNumber,
		knownKeyPairs:               make(map[keys.PublicKeyBytes]*keys.KeyPair),
		coins:                       opts.Coins,
		sentCertificates:            opts.SentCertificates,
		receivedCertificates:        make(map[string]messages.Certificate),
		balance:                     opts.Balance,
		receivedCertificateTrackers: make(map[keys.PublicKeyBytes]int),
		logger:                      logger.With("module", "client", "account", accountID),
	}
	for _, cert := range opts.ReceivedCertificates {
		if id, seq, ok := cert.Value.ConfirmKey(); ok {
			c.receivedCertificates[confirmKey(id, seq)] = cert
		}
	}
	return c
}

func confirmKey(id base.AccountID, seq base.SequenceNumber) string {
	return fmt.Sprintf("%s#%d", id.Key(), seq)
}

// AccountID returns the account driven by this client.
func (c *AccountClient) AccountID() base.AccountID {
	return c.accountID.Clone()
}

// Owner returns the public key we sign with, if any.
func (c *AccountClient) Owner() (keys.PublicKeyBytes, bool) {
	if c.keyPair == nil {
		return keys.PublicKeyBytes{}, false
	}
	return c.keyPair.Public(), true
}

// NextSequenceNumber returns the locally expected next sequence number.
func (c *AccountClient) NextSequenceNumber() base.SequenceNumber {
	return c.nextSequenceNumber
}

// Balance returns the locally known balance.
func (c *AccountClient) Balance() base.Balance {
	return c.balance
}

// Coins returns the assets linked to this account.
func (c *AccountClient) Coins() []messages.Asset {
	return c.coins
}

// LockCertificate returns the lock certificate once the account was spent.
func (c *AccountClient) LockCertificate() *messages.Certificate {
	return c.lockCertificate
}

// SentCertificates returns the confirmed certificates created by us.
func (c *AccountClient) SentCertificates() []messages.Certificate {
	return c.sentCertificates
}

// ReceivedCertificates returns the known certificates crediting us.
func (c *AccountClient) ReceivedCertificates() []messages.Certificate {
	out := make([]messages.Certificate, 0, len(c.receivedCertificates))
	for _, cert := range c.receivedCertificates {
		out = append(out, cert)
	}
	return out
}

type quorumResult[V any] struct {
	name  keys.PublicKeyBytes
	value V
	err   error
}

// communicateWithQuorum dispatches execute to every authority concurrently.
// It returns the successful values once their weight reaches the quorum
// threshold, the matching protocol error once a validity threshold of
// authorities agree on it, or ErrNoQuorum when the pool drains. Transport
// errors never accumulate weight: a timed-out authority simply contributes
// nothing.
func communicateWithQuorum[V any](
	ctx context.Context,
	cmt *committee.Committee,
	clients map[keys.PublicKeyBytes]AuthorityClient,
	execute func(ctx context.Context, name keys.PublicKeyBytes, client AuthorityClient) (V, error),
) ([]V, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan quorumResult[V], len(clients))
	for name, client := range clients {
		go func(name keys.PublicKeyBytes, client AuthorityClient) {
			value, err := execute(ctx, name, client)
			results <- quorumResult[V]{name: name, value: value, err: err}
		}(name, client)
	}

	var values []V
	valueScore := 0
	errorScores := make(map[string]int)
	errorByKey := make(map[string]*base.Error)
	for i := 0; i < len(clients); i++ {
		result := <-results
		if result.err == nil {
			values = append(values, result.value)
			valueScore += cmt.Weight(result.name)
			if valueScore >= cmt.QuorumThreshold() {
				return values, nil
			}
			continue
		}
		protoErr := base.AsProtocolError(result.err)
		if protoErr == nil || protoErr.Code == base.CodeClientIOError {
			continue
		}
		key := protoErr.Key()
		errorScores[key] += cmt.Weight(result.name)
		errorByKey[key] = protoErr
		if errorScores[key] >= cmt.ValidityThreshold() {
			// At least one honest authority asserts this error; no
			// quorum can be reached.
			return nil, errorByKey[key]
		}
	}
	return nil, ErrNoQuorum
}

// shuffledClients returns the authority clients in random order, for
// load-spreading sequential probes.
func (c *AccountClient) shuffledClients() []AuthorityClient {
	out := make([]AuthorityClient, 0, len(c.authorityClients))
	for _, client := range c.authorityClients {
		out = append(out, client)
	}
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// queryCertificate fetches the confirmation certificate of (account, seq),
// trying authorities sequentially in random order until one returns a
// valid, matching certificate.
func (c *AccountClient) queryCertificate(ctx context.Context, accountID base.AccountID, seq base.SequenceNumber) (*messages.Certificate, error) {
	query := &messages.AccountInfoQuery{
		AccountID:           accountID.Clone(),
		QuerySequenceNumber: &seq,
	}
	for _, client := range c.shuffledClients() {
		response, err := client.HandleAccountInfoQuery(ctx, query)
		if err != nil || response.QueriedCertificate == nil {
			continue
		}
		cert := response.QueriedCertificate
		if cert.Check(c.committee) != nil {
			continue
		}
		request := cert.Value.ConfirmRequest()
		if request == nil || !request.AccountID.Equal(accountID) || request.SequenceNumber != seq {
			continue
		}
		return cert, nil
	}
	return nil, base.NewError(base.CodeCertificateNotFound)
}

// GetStrongMajoritySequenceNumber finds the highest sequence number backed
// by a quorum. Only reliable in the synchronous model.
func (c *AccountClient) GetStrongMajoritySequenceNumber(ctx context.Context, accountID base.AccountID) base.SequenceNumber {
	query := &messages.AccountInfoQuery{AccountID: accountID.Clone()}
	var entries []struct {
		Name  keys.PublicKeyBytes
		Value base.SequenceNumber
	}
	for name, client := range c.authorityClients {
		response, err := client.HandleAccountInfoQuery(ctx, query)
		if err != nil {
			continue
		}
		entries = append(entries, struct {
			Name  keys.PublicKeyBytes
			Value base.SequenceNumber
		}{name, response.NextSequenceNumber})
	}
	return committee.StrongMajorityLowerBound(c.committee, entries,
		func(a, b base.SequenceNumber) bool { return a < b }, 0)
}

// QueryStrongMajorityBalance finds the highest balance backed by a quorum.
func (c *AccountClient) QueryStrongMajorityBalance(ctx context.Context) base.Balance {
	query := &messages.AccountInfoQuery{AccountID: c.accountID.Clone()}
	var entries []struct {
		Name  keys.PublicKeyBytes
		Value base.Balance
	}
	for name, client := range c.authorityClients {
		response, err := client.HandleAccountInfoQuery(ctx, query)
		if err != nil {
			continue
		}
		entries = append(entries, struct {
			Name  keys.PublicKeyBytes
			Value base.Balance
		}{name, response.Balance})
	}
	return committee.StrongMajorityLowerBound(c.committee, entries,
		func(a, b base.Balance) bool { return a.Cmp(b) < 0 }, base.ZeroBalance())
}
