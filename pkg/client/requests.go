// Copyright 2026 Scalaris Ledger
//
// Request execution: broadcasting orders, catching authorities up on
// missing confirmations, and keeping the local account view current.

package client

import (
	"context"
	"fmt"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

type actionKind uint8

const (
	actionConfirmOrder actionKind = iota + 1
	actionLockOrder
	actionSynchronize
)

// communicateAction is what communicateRequests pushes to the committee:
// confirm a new order, lock a spend order, or just raise the high-water
// mark to a target sequence number.
type communicateAction struct {
	kind   actionKind
	order  *messages.RequestOrder
	target base.SequenceNumber
}

func (a *communicateAction) targetSequenceNumber() base.SequenceNumber {
	if a.kind == actionSynchronize {
		return a.target
	}
	return a.order.Value.Request.SequenceNumber
}

// communicateRequests brings a quorum of authorities up to the target
// sequence number, shipping missing confirmations through the shared
// downloader, then (for order actions) collects votes into a certificate.
// It returns the downloaded certificates plus, for order actions, the new
// certificate last.
func (c *AccountClient) communicateRequests(
	ctx context.Context,
	accountID base.AccountID,
	knownCertificates []messages.Certificate,
	action communicateAction,
) ([]messages.Certificate, error) {
	target := action.targetSequenceNumber()
	dl := newDownloader(
		func(ctx context.Context, seq base.SequenceNumber) (*messages.Certificate, error) {
			return c.queryCertificate(ctx, accountID, seq)
		},
		knownCertificates,
		accountID,
	)

	votes, err := communicateWithQuorum(ctx, c.committee, c.authorityClients,
		func(ctx context.Context, name keys.PublicKeyBytes, client AuthorityClient) (*messages.Vote, error) {
			// Figure out which certificates this authority is missing.
			query := &messages.AccountInfoQuery{AccountID: accountID.Clone()}
			response, err := client.HandleAccountInfoQuery(ctx, query)
			if err != nil {
				return nil, err
			}
			current := response.NextSequenceNumber
			// Download the missing certificates, newest first, through
			// the shared cache.
			var missing []messages.Certificate
			for seq := target; seq > current; seq-- {
				cert, err := dl.Query(ctx, seq-1)
				if err != nil {
					return nil, err
				}
				missing = append(missing, *cert)
			}
			// Replay them in sequence order.
			for i := len(missing) - 1; i >= 0; i-- {
				if _, err := client.HandleConfirmationOrder(ctx, messages.NewConfirmationOrder(missing[i])); err != nil {
					return nil, err
				}
			}
			if action.kind == actionSynchronize {
				return nil, nil
			}
			// Send the order and extract the vote.
			info, err := client.HandleRequestOrder(ctx, action.order)
			if err != nil {
				return nil, err
			}
			if info.Pending == nil || info.Pending.Authority != name {
				return nil, base.NewError(base.CodeInvalidRequestOrder)
			}
			if _, err := info.Pending.Check(c.committee); err != nil {
				return nil, err
			}
			return info.Pending, nil
		})
	if err != nil {
		if protoErr := base.AsProtocolError(err); protoErr != nil &&
			protoErr.Code == base.CodeInactiveAccount &&
			protoErr.Account.Equal(accountID) &&
			action.kind == actionSynchronize {
			// The account is visibly not active (yet or any more), so
			// there is nothing to synchronize.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to communicate with a quorum of authorities: %w", err)
	}

	certificates := dl.Certificates()
	if action.kind == actionSynchronize {
		return certificates, nil
	}

	var value messages.Value
	switch action.kind {
	case actionConfirmOrder:
		value = messages.ConfirmValue(action.order.Value.Request)
	case actionLockOrder:
		value = messages.LockValue(action.order.Value.Request)
	}
	certificate := messages.Certificate{Value: value}
	for _, vote := range votes {
		if vote == nil {
			continue
		}
		certificate.Signatures = append(certificate.Signatures, messages.AuthoritySignature{
			Authority: vote.Authority,
			Signature: vote.Signature,
		})
	}
	// The certificate is valid: communicateWithQuorum gathered a quorum
	// weight of answers and each answer is a checked vote.
	certificates = append(certificates, certificate)
	return certificates, nil
}

// downloadMissingSentCertificates backfills our own certificate log up to
// nextSequenceNumber.
func (c *AccountClient) downloadMissingSentCertificates(ctx context.Context) error {
	for base.SequenceNumber(len(c.sentCertificates)) < c.nextSequenceNumber {
		cert, err := c.queryCertificate(ctx, c.accountID, base.SequenceNumber(len(c.sentCertificates)))
		if err != nil {
			return err
		}
		if err := c.addSentCertificate(*cert); err != nil {
			return err
		}
	}
	return nil
}

func (c *AccountClient) updateSentCertificates(certificates []messages.Certificate) error {
	n := len(c.sentCertificates)
	for i, cert := range certificates {
		if i < n {
			continue
		}
		if err := c.addSentCertificate(cert); err != nil {
			return err
		}
	}
	return nil
}

// addSentCertificate records a new confirmed certificate of ours and
// applies its local effects: balance, key rotation, deactivation.
func (c *AccountClient) addSentCertificate(certificate messages.Certificate) error {
	request := certificate.Value.ConfirmRequest()
	if request == nil {
		return base.NewError(base.CodeInvalidConfirmationOrder)
	}
	if uint64(request.SequenceNumber) != uint64(len(c.sentCertificates)) {
		return base.NewError(base.CodeUnexpectedSequenceNumber)
	}
	switch op := request.Operation.(type) {
	case messages.Transfer:
		next, err := c.balance.TrySub(base.BalanceFromAmount(op.Amount))
		if err != nil {
			return err
		}
		c.balance = next
	case messages.ChangeOwner:
		if kp, ok := c.knownKeyPairs[op.NewOwner]; ok {
			old := c.keyPair
			c.keyPair = kp
			delete(c.knownKeyPairs, op.NewOwner)
			if old != nil {
				c.knownKeyPairs[old.Public()] = old
			}
		} else {
			if c.keyPair != nil {
				c.knownKeyPairs[c.keyPair.Public()] = c.keyPair
			}
			c.keyPair = nil
		}
	case messages.CloseAccount, messages.Spend, messages.SpendAndTransfer:
		c.keyPair = nil
	case messages.OpenAccount:
		// No local effect.
	}
	c.sentCertificates = append(c.sentCertificates, certificate)
	next := base.SequenceNumber(len(c.sentCertificates))
	if c.nextSequenceNumber < next {
		c.nextSequenceNumber = next
	}
	return nil
}

// executeRegularRequest executes (or retries) a confirmable request order.
// With confirmation enabled, the certificate is re-broadcast so a quorum
// applies the operation before the call returns.
func (c *AccountClient) executeRegularRequest(ctx context.Context, order *messages.RequestOrder, withConfirmation bool) (*messages.Certificate, error) {
	if c.pending.kind == pendingLocking ||
		(c.pending.kind == pendingRegular && !c.pending.order.Value.Request.Equal(&order.Value.Request)) {
		return nil, fmt.Errorf("client state has a different pending request")
	}
	if order.Value.Request.SequenceNumber != c.nextSequenceNumber {
		return nil, fmt.Errorf("unexpected sequence number %d, expected %d",
			order.Value.Request.SequenceNumber, c.nextSequenceNumber)
	}
	if err := c.downloadMissingSentCertificates(ctx); err != nil {
		return nil, err
	}
	c.pending = pendingRequest{kind: pendingRegular, order: order}
	certificates, err := c.communicateRequests(ctx, c.accountID, c.sentCertificates,
		communicateAction{kind: actionConfirmOrder, order: order})
	if err != nil {
		return nil, err
	}
	if err := c.updateSentCertificates(certificates); err != nil {
		return nil, err
	}
	c.pending = pendingRequest{}
	if withConfirmation {
		if _, err := c.communicateRequests(ctx, c.accountID, c.sentCertificates,
			communicateAction{kind: actionSynchronize, target: c.nextSequenceNumber}); err != nil {
			return nil, err
		}
	}
	cert := c.sentCertificates[len(c.sentCertificates)-1]
	return &cert, nil
}

// executeLockingRequest executes (or retries) a Spend order. Once a lock
// certificate exists, retries must carry the very same request.
func (c *AccountClient) executeLockingRequest(ctx context.Context, order *messages.RequestOrder) (*messages.Certificate, error) {
	if c.lockCertificate != nil {
		locked := c.lockCertificate.Value.LockRequest()
		if locked == nil || !locked.Equal(&order.Value.Request) {
			return nil, fmt.Errorf("account has already been locked for a different operation")
		}
		return c.lockCertificate, nil
	}
	if c.pending.kind == pendingRegular ||
		(c.pending.kind == pendingLocking && !c.pending.order.Value.Request.Equal(&order.Value.Request)) {
		return nil, fmt.Errorf("client state has a different pending request")
	}
	if order.Value.Request.SequenceNumber != c.nextSequenceNumber {
		return nil, fmt.Errorf("unexpected sequence number %d, expected %d",
			order.Value.Request.SequenceNumber, c.nextSequenceNumber)
	}
	if err := c.downloadMissingSentCertificates(ctx); err != nil {
		return nil, err
	}
	c.pending = pendingRequest{kind: pendingLocking, order: order}
	certificates, err := c.communicateRequests(ctx, c.accountID, c.sentCertificates,
		communicateAction{kind: actionLockOrder, order: order})
	if err != nil {
		return nil, err
	}
	if len(certificates) == 0 {
		return nil, fmt.Errorf("lock order did not produce a certificate")
	}
	lock := certificates[len(certificates)-1]
	if err := c.updateSentCertificates(certificates[:len(certificates)-1]); err != nil {
		return nil, err
	}
	c.lockCertificate = &lock
	c.pending = pendingRequest{}
	return c.lockCertificate, nil
}

// synchronizeReceivedCertificates pulls new certificates crediting this
// account from a quorum and applies them locally.
func (c *AccountClient) synchronizeReceivedCertificates(ctx context.Context) error {
	type page struct {
		name     keys.PublicKeyBytes
		response *messages.AccountInfoResponse
	}
	accountID := c.accountID
	trackers := make(map[keys.PublicKeyBytes]int, len(c.receivedCertificateTrackers))
	for name, tracker := range c.receivedCertificateTrackers {
		trackers[name] = tracker
	}
	pages, err := communicateWithQuorum(ctx, c.committee, c.authorityClients,
		func(ctx context.Context, name keys.PublicKeyBytes, client AuthorityClient) (page, error) {
			tracker := trackers[name]
			query := &messages.AccountInfoQuery{
				AccountID: accountID.Clone(),
				QueryReceivedCertificatesExcludingFirstNth: &tracker,
			}
			response, err := client.HandleAccountInfoQuery(ctx, query)
			if err != nil {
				return page{}, err
			}
			for i := range response.QueriedReceivedCertificates {
				cert := &response.QueriedReceivedCertificates[i]
				if err := cert.Check(c.committee); err != nil {
					return page{}, err
				}
				request := cert.Value.ConfirmRequest()
				if request == nil {
					return page{}, base.NewError(base.CodeInvalidConfirmationOrder)
				}
				recipient := messages.OperationRecipient(request.Operation)
				if !recipient.Equal(accountID) {
					return page{}, base.NewError(base.CodeInvalidConfirmationOrder)
				}
			}
			return page{name: name, response: response}, nil
		})
	if err != nil {
		if protoErr := base.AsProtocolError(err); protoErr != nil &&
			protoErr.Code == base.CodeInactiveAccount && protoErr.Account.Equal(accountID) {
			return nil
		}
		return fmt.Errorf("failed to communicate with a quorum of authorities: %w", err)
	}
	for _, p := range pages {
		for _, cert := range p.response.QueriedReceivedCertificates {
			// Best effort: a failure to process one credit does not
			// abort synchronization.
			if err := c.ReceiveConfirmation(ctx, cert); err != nil {
				c.logger.Debug("skipping received certificate", "err", err)
			}
		}
		c.receivedCertificateTrackers[p.name] = p.response.CountReceivedCertificates
	}
	return nil
}

// SynchronizeBalance finishes any pending request, pulls received credits,
// backfills sent certificates, and returns the up-to-date local balance.
func (c *AccountClient) SynchronizeBalance(ctx context.Context) (base.Balance, error) {
	switch c.pending.kind {
	case pendingRegular:
		if _, err := c.executeRegularRequest(ctx, c.pending.order, false); err != nil {
			return base.Balance{}, err
		}
	case pendingLocking:
		if _, err := c.executeLockingRequest(ctx, c.pending.order); err != nil {
			return base.Balance{}, err
		}
	}
	if err := c.synchronizeReceivedCertificates(ctx); err != nil {
		return base.Balance{}, err
	}
	if err := c.downloadMissingSentCertificates(ctx); err != nil {
		return base.Balance{}, err
	}
	return c.balance, nil
}

// ReceiveConfirmation processes a confirmed operation crediting this
// account: it pushes the sender's high-water mark past the certificate and
// updates the local balance once.
func (c *AccountClient) ReceiveConfirmation(ctx context.Context, certificate messages.Certificate) error {
	request := certificate.Value.ConfirmRequest()
	if request == nil {
		return fmt.Errorf("was expecting a confirmed account operation")
	}
	recipient := messages.OperationRecipient(request.Operation)
	if !recipient.Equal(c.accountID) {
		return fmt.Errorf("certificate does not credit this account")
	}
	target, err := request.SequenceNumber.TryAdd(1)
	if err != nil {
		return err
	}
	if _, err := c.communicateRequests(ctx, request.AccountID, []messages.Certificate{certificate},
		communicateAction{kind: actionSynchronize, target: target}); err != nil {
		return err
	}
	key := confirmKey(request.AccountID, request.SequenceNumber)
	if _, ok := c.receivedCertificates[key]; !ok {
		if amount, ok := messages.OperationReceivedAmount(request.Operation); ok {
			next, err := c.balance.TryAdd(base.BalanceFromAmount(amount))
			if err != nil {
				return err
			}
			c.balance = next
		}
		c.receivedCertificates[key] = certificate
	}
	return nil
}

func (c *AccountClient) makeRequestOrder(request messages.Request, assets []messages.Asset) (*messages.RequestOrder, error) {
	if c.keyPair == nil {
		return nil, fmt.Errorf("cannot make request for an account that we don't own")
	}
	return messages.NewRequestOrder(messages.RequestValue{Request: request}, c.keyPair, assets), nil
}

// Transfer sends amount to the recipient, confirming with a quorum before
// returning. The local balance is synchronized first so an overspend cannot
// block the account.
func (c *AccountClient) Transfer(ctx context.Context, amount base.Amount, recipient messages.Address, userData base.UserData) (*messages.Certificate, error) {
	balance, err := c.SynchronizeBalance(ctx)
	if err != nil {
		return nil, err
	}
	if !balance.GTE(base.BalanceFromAmount(amount)) {
		return nil, fmt.Errorf("requested amount (%d) is not backed by sufficient funds (%s)", amount, balance)
	}
	order, err := c.makeRequestOrder(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.Transfer{Recipient: recipient, Amount: amount, UserData: userData},
		SequenceNumber: c.nextSequenceNumber,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.executeRegularRequest(ctx, order, true)
}

// TransferToAccount sends amount to a sidechain account.
func (c *AccountClient) TransferToAccount(ctx context.Context, amount base.Amount, recipient base.AccountID, userData base.UserData) (*messages.Certificate, error) {
	return c.Transfer(ctx, amount, messages.AccountAddress(recipient), userData)
}

// TransferUnsafeUnconfirmed skips the local balance check and the
// confirmation hop. Benchmark path.
func (c *AccountClient) TransferUnsafeUnconfirmed(ctx context.Context, amount base.Amount, recipient base.AccountID, userData base.UserData) (*messages.Certificate, error) {
	order, err := c.makeRequestOrder(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.Transfer{Recipient: messages.AccountAddress(recipient), Amount: amount, UserData: userData},
		SequenceNumber: c.nextSequenceNumber,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.executeRegularRequest(ctx, order, false)
}

// RotateKeyPair changes the account key to a key pair we generated.
func (c *AccountClient) RotateKeyPair(ctx context.Context, kp *keys.KeyPair) (*messages.Certificate, error) {
	c.knownKeyPairs[kp.Public()] = kp
	return c.TransferOwnership(ctx, kp.Public())
}

// TransferOwnership hands the account to a new owner key.
func (c *AccountClient) TransferOwnership(ctx context.Context, newOwner keys.PublicKeyBytes) (*messages.Certificate, error) {
	order, err := c.makeRequestOrder(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.ChangeOwner{NewOwner: newOwner},
		SequenceNumber: c.nextSequenceNumber,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.executeRegularRequest(ctx, order, true)
}

// OpenAccount creates a child account under the given owner key and
// returns the certificate together with the child id.
func (c *AccountClient) OpenAccount(ctx context.Context, newOwner keys.PublicKeyBytes) (*messages.Certificate, base.AccountID, error) {
	newID := c.accountID.MakeChild(c.nextSequenceNumber)
	order, err := c.makeRequestOrder(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.OpenAccount{NewID: newID, NewOwner: newOwner},
		SequenceNumber: c.nextSequenceNumber,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	cert, err := c.executeRegularRequest(ctx, order, true)
	if err != nil {
		return nil, nil, err
	}
	return cert, newID, nil
}

// CloseAccount deactivates the account, losing anything left in it.
func (c *AccountClient) CloseAccount(ctx context.Context) (*messages.Certificate, error) {
	order, err := c.makeRequestOrder(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.CloseAccount{},
		SequenceNumber: c.nextSequenceNumber,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.executeRegularRequest(ctx, order, true)
}
