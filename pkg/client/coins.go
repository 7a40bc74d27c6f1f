// Copyright 2026 Scalaris Ledger
//
// Coin workflows: locking accounts, broadcasting coin creation orders,
// verifying authority responses, and aggregating transparent certificates
// and opaque credential shares.

package client

import (
	"context"
	"fmt"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// CoinsValue returns the total value of the assets linked to this account.
func (c *AccountClient) CoinsValue() (base.Amount, error) {
	total := base.Amount(0)
	for i := range c.coins {
		v, err := c.coins[i].Amount()
		if err != nil {
			return 0, fmt.Errorf("client state contains invalid coins: %w", err)
		}
		if total, err = total.TryAdd(v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ReceiveAsset validates a coin against the committee and links it to this
// account.
func (c *AccountClient) ReceiveAsset(asset messages.Asset) error {
	if err := asset.Check(c.committee); err != nil {
		return err
	}
	id, err := asset.AccountID()
	if err != nil {
		return err
	}
	if !id.Equal(c.accountID) {
		return fmt.Errorf("coin is not linked to this account")
	}
	c.coins = append(c.coins, asset)
	return nil
}

// SpendUnsafe locks the account behind the description hash. The committed
// balance must match the available funds; anything above is lost.
func (c *AccountClient) SpendUnsafe(ctx context.Context, accountBalance base.Amount, descriptionHash base.HashValue) (*messages.Certificate, error) {
	balance, err := c.SynchronizeBalance(ctx)
	if err != nil {
		return nil, err
	}
	if !balance.GTE(base.BalanceFromAmount(accountBalance)) {
		return nil, fmt.Errorf("suggested balance (%d) does not match available funds (%s)", accountBalance, balance)
	}
	order, err := c.makeRequestOrderWithAssets(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.Spend{AccountBalance: accountBalance, DescriptionHash: descriptionHash},
		SequenceNumber: c.nextSequenceNumber,
	}, c.coins)
	if err != nil {
		return nil, err
	}
	return c.executeLockingRequest(ctx, order)
}

// SpendAndTransfer closes the account and its coins, transferring the full
// value to the recipient.
func (c *AccountClient) SpendAndTransfer(ctx context.Context, recipient messages.Address, userData base.UserData) (*messages.Certificate, error) {
	balance, err := c.SynchronizeBalance(ctx)
	if err != nil {
		return nil, err
	}
	coinsValue, err := c.CoinsValue()
	if err != nil {
		return nil, err
	}
	total, err := balance.TryAdd(base.BalanceFromAmount(coinsValue))
	if err != nil {
		return nil, err
	}
	amount, err := total.ToAmount()
	if err != nil {
		return nil, err
	}
	order, err := c.makeRequestOrderWithAssets(messages.Request{
		AccountID:      c.accountID.Clone(),
		Operation:      messages.SpendAndTransfer{Recipient: recipient, Amount: amount, UserData: userData},
		SequenceNumber: c.nextSequenceNumber,
	}, c.coins)
	if err != nil {
		return nil, err
	}
	return c.executeRegularRequest(ctx, order, true)
}

func (c *AccountClient) makeRequestOrderWithAssets(request messages.Request, assets []messages.Asset) (*messages.RequestOrder, error) {
	if c.keyPair == nil {
		return nil, fmt.Errorf("cannot make request for an account that we don't own")
	}
	return messages.NewRequestOrder(messages.RequestValue{Request: request}, c.keyPair, assets), nil
}

// NewOpaqueCoin prepares a fresh opaque coin on this account.
func (c *AccountClient) NewOpaqueCoin(amount base.Amount) messages.OpaqueCoin {
	return messages.OpaqueCoin{
		AccountID:   c.accountID.Clone(),
		PublicSeed:  base.NewCoinSeed(),
		PrivateSeed: base.NewCoinSeed(),
		Amount:      amount,
	}
}

// OpaqueCoinWithAttribute pairs a new coin with the blinded attribute used
// in its issuance.
type OpaqueCoinWithAttribute struct {
	coin      messages.OpaqueCoin
	attribute coconut.OutputAttribute
}

type coinCreationReply struct {
	votes  []messages.Vote
	index  uint64
	shares []coconut.Credential
}

// executeCoinCreation broadcasts the order, verifies every authority's
// votes and blinded shares, and aggregates the results into assets.
func (c *AccountClient) executeCoinCreation(ctx context.Context, order *messages.CoinCreationOrder, newOpaqueCoins []OpaqueCoinWithAttribute) ([]messages.Asset, error) {
	targets := order.Description.Targets
	outputAttributes := make([]coconut.OutputAttribute, len(newOpaqueCoins))
	for i := range newOpaqueCoins {
		outputAttributes[i] = newOpaqueCoins[i].attribute
	}

	replies, err := communicateWithQuorum(ctx, c.committee, c.authorityClients,
		func(ctx context.Context, name keys.PublicKeyBytes, client AuthorityClient) (coinCreationReply, error) {
			response, err := client.HandleCoinCreationOrder(ctx, order)
			if err != nil {
				return coinCreationReply{}, err
			}
			if len(response.Votes) != len(targets) {
				return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
			}
			for i := range response.Votes {
				vote := &response.Votes[i]
				if vote.Authority != name {
					return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
				}
				coinValue := messages.CoinValue(targets[i])
				if !vote.Value.Equal(&coinValue) {
					return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
				}
				if _, err := vote.Check(c.committee); err != nil {
					return coinCreationReply{}, err
				}
			}
			reply := coinCreationReply{votes: response.Votes}
			if response.BlindedCoins != nil {
				setup := c.committee.CoconutSetup
				if setup == nil {
					return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
				}
				share, ok := setup.Authorities[name]
				if !ok {
					return coinCreationReply{}, base.NewError(base.CodeUnknownSigner)
				}
				if response.BlindedCoins.Len() != len(outputAttributes) {
					return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
				}
				shares, err := response.BlindedCoins.Unblind(share.Key, outputAttributes)
				if err != nil {
					return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
				}
				for i := range shares {
					attr := &outputAttributes[i]
					if !shares[i].PlainVerify(setup.Parameters, share.Key, attr.Value, attr.Seed, attr.Key) {
						return coinCreationReply{}, base.NewError(base.CodeInvalidCoinCreationOrder)
					}
				}
				reply.index = share.Index
				reply.shares = shares
			}
			return reply, nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to communicate with a quorum of authorities: %w", err)
	}

	// Aggregate transparent votes into certificates.
	builders := make([]*messages.SignatureAggregator, len(targets))
	for i := range targets {
		builders[i] = messages.NewSignatureAggregator(messages.CoinValue(targets[i]), c.committee)
	}
	coinShares := make([][]coconut.CredentialShare, len(newOpaqueCoins))
	var assets []messages.Asset
	for _, reply := range replies {
		for i, vote := range reply.votes {
			certificate, err := builders[i].Append(vote.Authority, vote.Signature)
			if err != nil {
				return nil, err
			}
			if certificate != nil {
				assets = append(assets, messages.TransparentCoinAsset(*certificate))
			}
		}
		for i, share := range reply.shares {
			coinShares[i] = append(coinShares[i], coconut.CredentialShare{
				Credential: share,
				Index:      reply.index,
			})
		}
	}
	// Aggregate opaque shares by Lagrange interpolation.
	for i, shares := range coinShares {
		credential, err := coconut.AggregateCredentialShares(shares)
		if err != nil {
			return nil, err
		}
		assets = append(assets, messages.OpaqueCoinAsset(newOpaqueCoins[i].coin, *credential))
	}
	return assets, nil
}

// CreateCoins submits a coin creation order backed by the given locks.
func (c *AccountClient) CreateCoins(ctx context.Context, description messages.CoinCreationDescription, newOpaqueCoins []OpaqueCoinWithAttribute, locks []messages.Certificate) ([]messages.Asset, error) {
	order := &messages.CoinCreationOrder{Description: description, Locks: locks}
	return c.executeCoinCreation(ctx, order, newOpaqueCoins)
}

// SpendAndCreateCoins spends this single account (balance plus linked
// coins) into the given transparent and opaque target coins.
func (c *AccountClient) SpendAndCreateCoins(ctx context.Context, newTransparentCoins []messages.TransparentCoin, newOpaqueCoins []messages.OpaqueCoin) ([]messages.Asset, error) {
	accountBalance, err := c.SynchronizeBalance(ctx)
	if err != nil {
		return nil, err
	}
	coinsValue, err := c.CoinsValue()
	if err != nil {
		return nil, err
	}
	totalBalance, err := accountBalance.TryAdd(base.BalanceFromAmount(coinsValue))
	if err != nil {
		return nil, err
	}
	remaining, err := totalBalance.ToAmount()
	if err != nil {
		return nil, err
	}
	// The targets must consume exactly the available value.
	seeds := make(map[base.CoinSeed]bool)
	for i := range newTransparentCoins {
		if seeds[newTransparentCoins[i].Seed] {
			return nil, fmt.Errorf("transparent coin seeds must be unique")
		}
		seeds[newTransparentCoins[i].Seed] = true
		if remaining, err = remaining.TrySub(newTransparentCoins[i].Amount); err != nil {
			return nil, fmt.Errorf("insufficient balance to create coins")
		}
	}
	opaqueSeeds := make(map[base.CoinSeed]bool)
	for i := range newOpaqueCoins {
		if opaqueSeeds[newOpaqueCoins[i].PublicSeed] {
			return nil, fmt.Errorf("opaque coin seeds must be unique")
		}
		opaqueSeeds[newOpaqueCoins[i].PublicSeed] = true
		if remaining, err = remaining.TrySub(newOpaqueCoins[i].Amount); err != nil {
			return nil, fmt.Errorf("insufficient balance to create coins")
		}
	}
	if remaining != 0 {
		// Value conservation is strict: the committee rejects orders
		// that would silently burn the difference.
		return nil, fmt.Errorf("targets must consume the full account value (%d left over)", remaining)
	}

	spendBalance, err := accountBalance.ToAmount()
	if err != nil {
		return nil, err
	}
	var transparentCoins []messages.Certificate
	var opaqueSeedsList []base.CoinSeed
	var inputCredentials []coconut.Credential
	var inputAttributes []coconut.InputAttribute
	for i := range c.coins {
		asset := &c.coins[i]
		switch {
		case asset.TransparentCertificate != nil:
			transparentCoins = append(transparentCoins, *asset.TransparentCertificate)
		case asset.Opaque != nil:
			if !asset.Opaque.AccountID.Equal(c.accountID) {
				return nil, fmt.Errorf("client state contains a coin for another account")
			}
			opaqueSeedsList = append(opaqueSeedsList, asset.Opaque.PublicSeed)
			inputCredentials = append(inputCredentials, *asset.Credential)
			inputAttributes = append(inputAttributes, asset.Opaque.MakeInputAttribute())
		}
	}
	source := messages.CoinCreationSource{
		AccountID:             c.accountID.Clone(),
		AccountBalance:        spendBalance,
		TransparentCoins:      transparentCoins,
		OpaqueCoinPublicSeeds: opaqueSeedsList,
	}

	var coconutRequest *coconut.CoinsRequest
	var opaqueOutputs []OpaqueCoinWithAttribute
	if len(inputCredentials) > 0 || len(newOpaqueCoins) > 0 {
		setup := c.committee.CoconutSetup
		if setup == nil {
			return nil, fmt.Errorf("opaque coins need a configured coconut setup")
		}
		outputAttributes := make([]coconut.OutputAttribute, 0, len(newOpaqueCoins))
		for _, coin := range newOpaqueCoins {
			attribute, err := coin.MakeOutputAttribute()
			if err != nil {
				return nil, err
			}
			outputAttributes = append(outputAttributes, attribute)
			opaqueOutputs = append(opaqueOutputs, OpaqueCoinWithAttribute{coin: coin, attribute: attribute})
		}
		coconutRequest, err = coconut.NewCoinsRequest(
			setup.Parameters,
			setup.VerificationKey,
			inputCredentials,
			inputAttributes,
			outputAttributes,
			setup.RangeBits,
		)
		if err != nil {
			return nil, err
		}
	}

	description := messages.CoinCreationDescription{
		Sources:        []messages.CoinCreationSource{source},
		Targets:        newTransparentCoins,
		CoconutRequest: coconutRequest,
	}
	lockCertificate, err := c.SpendUnsafe(ctx, spendBalance, description.Hash())
	if err != nil {
		return nil, err
	}
	return c.CreateCoins(ctx, description, opaqueOutputs, []messages.Certificate{*lockCertificate})
}

// Committee returns the committee this client drives.
func (c *AccountClient) Committee() *committee.Committee {
	return c.committee
}
