// Copyright 2026 Scalaris Ledger
//
// The message model of the sidechain: account operations, the values the
// committee votes on, orders, queries and cross-shard requests.

package messages

import (
	"bytes"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/ethereum/go-ethereum/common"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

// AddressKind discriminates recipient addresses.
type AddressKind uint8

const (
	// AddressPrimary targets an account on the primary chain; the
	// transfer is redeemed through the bridge contract.
	AddressPrimary AddressKind = iota + 1
	// AddressAccount targets a sidechain account.
	AddressAccount
)

// Address is a recipient on the sidechain or on the primary chain.
type Address struct {
	Kind    AddressKind
	Primary common.Address
	Account base.AccountID
}

// PrimaryAddress builds a primary-chain address.
func PrimaryAddress(addr common.Address) Address {
	return Address{Kind: AddressPrimary, Primary: addr}
}

// AccountAddress builds a sidechain address.
func AccountAddress(id base.AccountID) Address {
	return Address{Kind: AddressAccount, Account: id.Clone()}
}

// Operation is a sealed set of account operations.
type Operation interface {
	isOperation()
}

// Transfer moves amount units of value to the recipient.
type Transfer struct {
	Recipient Address
	Amount    base.Amount
	UserData  base.UserData
}

// OpenAccount creates (or activates) a child account under the given key.
type OpenAccount struct {
	NewID    base.AccountID
	NewOwner keys.PublicKeyBytes
}

// CloseAccount deactivates the account.
type CloseAccount struct{}

// ChangeOwner rotates the authentication key of the account.
type ChangeOwner struct {
	NewOwner keys.PublicKeyBytes
}

// Spend locks the account so that its balance and linked coins may be
// turned into new coins according to the description behind the hash.
type Spend struct {
	AccountBalance  base.Amount
	DescriptionHash base.HashValue
}

// SpendAndTransfer closes the account and spends linked coins to transfer
// the total amount to the recipient.
type SpendAndTransfer struct {
	Recipient Address
	Amount    base.Amount
	UserData  base.UserData
}

func (Transfer) isOperation()         {}
func (OpenAccount) isOperation()      {}
func (CloseAccount) isOperation()     {}
func (ChangeOwner) isOperation()      {}
func (Spend) isOperation()            {}
func (SpendAndTransfer) isOperation() {}

// OperationRecipient returns the sidechain account credited by the
// operation, or nil.
func OperationRecipient(op Operation) base.AccountID {
	switch o := op.(type) {
	case Transfer:
		if o.Recipient.Kind == AddressAccount {
			return o.Recipient.Account
		}
	case SpendAndTransfer:
		if o.Recipient.Kind == AddressAccount {
			return o.Recipient.Account
		}
	case OpenAccount:
		return o.NewID
	}
	return nil
}

// OperationReceivedAmount returns the amount credited to the recipient.
func OperationReceivedAmount(op Operation) (base.Amount, bool) {
	switch o := op.(type) {
	case Transfer:
		return o.Amount, true
	case SpendAndTransfer:
		return o.Amount, true
	}
	return 0, false
}

// Request is one account operation at a given sequence number.
type Request struct {
	AccountID      base.AccountID
	Operation      Operation
	SequenceNumber base.SequenceNumber
}

// Equal compares requests by canonical encoding.
func (r *Request) Equal(other *Request) bool {
	if r == nil || other == nil {
		return r == other
	}
	return bytes.Equal(encodeRequest(r), encodeRequest(other))
}

// RequestValue is the signed content of a RequestOrder.
type RequestValue struct {
	Request Request
	// LimitedTo restricts the order to a single authority, so a vote can
	// be extracted from one authority at a time during benchmarks.
	LimitedTo *keys.PublicKeyBytes
}

// SigningBytes implements keys.Signable.
func (v *RequestValue) SigningBytes() []byte {
	return signingBytes("RequestValue", encodeRequestValue(v))
}

// TransparentCoin is a publicly auditable coin: account, amount and a seed
// disambiguating coins minted from the same account.
type TransparentCoin struct {
	AccountID base.AccountID
	Amount    base.Amount
	Seed      base.CoinSeed
}

// Equal compares coins field-wise.
func (c *TransparentCoin) Equal(other *TransparentCoin) bool {
	return c.AccountID.Equal(other.AccountID) && c.Amount == other.Amount && c.Seed == other.Seed
}

// OpaqueCoin is the owner-side view of a confidential coin. Only the
// account id and public seed ever reach the authorities.
type OpaqueCoin struct {
	AccountID   base.AccountID
	PublicSeed  base.CoinSeed
	PrivateSeed base.CoinSeed
	Amount      base.Amount
}

// coconutKey is the public key attribute of an opaque coin.
type coconutKey struct {
	AccountID  base.AccountID
	PublicSeed base.CoinSeed
}

func (k *coconutKey) SigningBytes() []byte {
	return signingBytes("CoconutKey", encodeCoconutKey(k))
}

// CoconutKeyScalar derives the key attribute for an account and public
// seed: the SHA-512 hash of the canonical encoding, reduced into the
// scalar field.
func CoconutKeyScalar(id base.AccountID, publicSeed base.CoinSeed) fr.Element {
	k := coconutKey{AccountID: id, PublicSeed: publicSeed}
	digest := keys.HashValue(&k)
	return coconut.ScalarFromSHA512(digest)
}

// MakeInputAttribute derives the Coconut attribute triple of the coin.
func (c *OpaqueCoin) MakeInputAttribute() coconut.InputAttribute {
	var attr coconut.InputAttribute
	attr.Key = CoconutKeyScalar(c.AccountID, c.PublicSeed)
	attr.Value.SetUint64(uint64(c.Amount))
	attr.Seed.SetBytes(c.PrivateSeed[:])
	return attr
}

// MakeOutputAttribute derives the attribute triple with fresh blinding
// factors for issuance.
func (c *OpaqueCoin) MakeOutputAttribute() (coconut.OutputAttribute, error) {
	in := c.MakeInputAttribute()
	var out coconut.OutputAttribute
	out.Key = in.Key
	out.Value = in.Value
	out.Seed = in.Seed
	var err error
	if out.KeyBlinding, err = coconut.RandomScalar(); err != nil {
		return out, err
	}
	if out.ValueBlinding, err = coconut.RandomScalar(); err != nil {
		return out, err
	}
	if out.SeedBlinding, err = coconut.RandomScalar(); err != nil {
		return out, err
	}
	return out, nil
}

// ValueKind discriminates the statements the committee certifies.
type ValueKind uint8

const (
	// ValueLock certifies that an account is locked behind a Spend.
	ValueLock ValueKind = iota + 1
	// ValueConfirm certifies an operation ready to execute.
	ValueConfirm
	// ValueCoin certifies a transparent coin.
	ValueCoin
)

// Value is the statement voted on by authorities.
type Value struct {
	Kind    ValueKind
	Request *Request
	Coin    *TransparentCoin
}

// LockValue wraps a request into a lock statement.
func LockValue(req Request) Value {
	return Value{Kind: ValueLock, Request: &req}
}

// ConfirmValue wraps a request into a confirmation statement.
func ConfirmValue(req Request) Value {
	return Value{Kind: ValueConfirm, Request: &req}
}

// CoinValue wraps a transparent coin into a statement.
func CoinValue(coin TransparentCoin) Value {
	return Value{Kind: ValueCoin, Coin: &coin}
}

// SigningBytes implements keys.Signable.
func (v *Value) SigningBytes() []byte {
	return signingBytes("Value", encodeValue(v))
}

// Equal compares values by canonical encoding.
func (v *Value) Equal(other *Value) bool {
	return bytes.Equal(encodeValue(v), encodeValue(other))
}

// ConfirmRequest returns the request if the value is a confirmation.
func (v *Value) ConfirmRequest() *Request {
	if v.Kind == ValueConfirm {
		return v.Request
	}
	return nil
}

// LockRequest returns the request if the value is a lock.
func (v *Value) LockRequest() *Request {
	if v.Kind == ValueLock {
		return v.Request
	}
	return nil
}

// InnerRequest returns the request behind a lock or confirmation.
func (v *Value) InnerRequest() *Request {
	if v.Kind == ValueLock || v.Kind == ValueConfirm {
		return v.Request
	}
	return nil
}

// ConfirmKey returns the idempotence key of a confirmation.
func (v *Value) ConfirmKey() (base.AccountID, base.SequenceNumber, bool) {
	if r := v.ConfirmRequest(); r != nil {
		return r.AccountID, r.SequenceNumber, true
	}
	return nil, 0, false
}

// CoinAmount returns the amount of a coin statement.
func (v *Value) CoinAmount() (base.Amount, bool) {
	if v.Kind == ValueCoin {
		return v.Coin.Amount, true
	}
	return 0, false
}

// RequestOrder is a client-signed request plus certified assets to consume.
type RequestOrder struct {
	Value     RequestValue
	Owner     keys.PublicKeyBytes
	Signature keys.Signature
	Assets    []Asset
}

// NewRequestOrder signs a request value with the account key.
func NewRequestOrder(value RequestValue, kp *keys.KeyPair, assets []Asset) *RequestOrder {
	return &RequestOrder{
		Value:     value,
		Owner:     kp.Public(),
		Signature: kp.Sign(&value),
		Assets:    assets,
	}
}

// Check authenticates the order against the account's current owner.
func (o *RequestOrder) Check(owner *keys.PublicKeyBytes) error {
	if owner == nil || *owner != o.Owner {
		return base.NewError(base.CodeInvalidOwner)
	}
	return o.Signature.Check(&o.Value, o.Owner)
}

// ConfirmationOrder carries a certificate over a confirmation value.
type ConfirmationOrder struct {
	Certificate Certificate
}

// NewConfirmationOrder wraps a certificate.
func NewConfirmationOrder(certificate Certificate) *ConfirmationOrder {
	return &ConfirmationOrder{Certificate: certificate}
}

// CoinCreationSource is one locked account contributing value to a coin
// creation: its recorded balance, its transparent coins, and the public
// seeds of its opaque coins in the order they appear in the Coconut
// request.
type CoinCreationSource struct {
	AccountID             base.AccountID
	AccountBalance        base.Amount
	TransparentCoins      []Certificate
	OpaqueCoinPublicSeeds []base.CoinSeed
}

// CoinCreationDescription instructs the committee to create coins.
type CoinCreationDescription struct {
	Sources        []CoinCreationSource
	Targets        []TransparentCoin
	CoconutRequest *coconut.CoinsRequest
}

// SigningBytes implements keys.Signable; the hash of these bytes is the
// description hash committed inside Spend operations.
func (d *CoinCreationDescription) SigningBytes() []byte {
	return signingBytes("CoinCreationDescription", encodeCoinCreationDescription(d))
}

// Hash returns the description hash.
func (d *CoinCreationDescription) Hash() base.HashValue {
	return keys.HashValue(d)
}

// CoinCreationOrder is the description plus the lock certificates proving
// the sources were spent for exactly this description.
type CoinCreationOrder struct {
	Description CoinCreationDescription
	Locks       []Certificate
}

// CoinCreationResponse returns the authority's votes on the transparent
// targets and, when opaque outputs were requested, its blinded shares.
type CoinCreationResponse struct {
	Votes        []Vote
	BlindedCoins *coconut.BlindedCredentials
}

// AccountInfoQuery asks an authority about one account.
type AccountInfoQuery struct {
	AccountID           base.AccountID
	QuerySequenceNumber *base.SequenceNumber
	// QueryReceivedCertificatesExcludingFirstNth pages through the
	// received-certificate log.
	QueryReceivedCertificatesExcludingFirstNth *int
}

// AccountInfoResponse is the authority's view of one account.
type AccountInfoResponse struct {
	AccountID                   base.AccountID
	Owner                       *keys.PublicKeyBytes
	Balance                     base.Balance
	NextSequenceNumber          base.SequenceNumber
	Pending                     *Vote
	CountReceivedCertificates   int
	QueriedCertificate          *Certificate
	QueriedReceivedCertificates []Certificate
}

// CrossShardKind discriminates internal shard-to-shard messages.
type CrossShardKind uint8

const (
	// CrossShardUpdateRecipient applies the recipient side of a
	// confirmed operation.
	CrossShardUpdateRecipient CrossShardKind = iota + 1
	// CrossShardDestroyAccount is a best-effort storage hint after a
	// coin creation consumed the account.
	CrossShardDestroyAccount
)

// CrossShardRequest is a trusted internal message between shards of the
// same authority. Delivery is at-least-once; handlers are idempotent.
type CrossShardRequest struct {
	Kind        CrossShardKind
	Certificate *Certificate
	AccountID   base.AccountID
}

// UpdateRecipientRequest builds an UpdateRecipient message.
func UpdateRecipientRequest(certificate Certificate) *CrossShardRequest {
	return &CrossShardRequest{Kind: CrossShardUpdateRecipient, Certificate: &certificate}
}

// DestroyAccountRequest builds a DestroyAccount message.
func DestroyAccountRequest(id base.AccountID) *CrossShardRequest {
	return &CrossShardRequest{Kind: CrossShardDestroyAccount, AccountID: id.Clone()}
}

// PrimarySynchronizationOrder credits a transfer from the primary chain.
// The relay watching the bridge contract is trusted.
type PrimarySynchronizationOrder struct {
	Recipient        base.AccountID
	Amount           base.Amount
	TransactionIndex base.SequenceNumber
}

// Asset is a certified coin attached to a request: either a transparent
// coin certificate or an opaque coin with its credential.
type Asset struct {
	TransparentCertificate *Certificate
	Opaque                 *OpaqueCoin
	Credential             *coconut.Credential
}

// TransparentCoinAsset wraps a coin certificate.
func TransparentCoinAsset(certificate Certificate) Asset {
	return Asset{TransparentCertificate: &certificate}
}

// OpaqueCoinAsset wraps an opaque coin and its credential.
func OpaqueCoinAsset(coin OpaqueCoin, credential coconut.Credential) Asset {
	return Asset{Opaque: &coin, Credential: &credential}
}

// IsOpaque reports whether the asset is an opaque coin.
func (a *Asset) IsOpaque() bool {
	return a.Opaque != nil
}

// AccountID returns the account the asset is linked to.
func (a *Asset) AccountID() (base.AccountID, error) {
	switch {
	case a.TransparentCertificate != nil:
		if a.TransparentCertificate.Value.Kind != ValueCoin {
			return nil, base.NewError(base.CodeInvalidAsset)
		}
		return a.TransparentCertificate.Value.Coin.AccountID, nil
	case a.Opaque != nil:
		return a.Opaque.AccountID, nil
	default:
		return nil, base.NewError(base.CodeInvalidAsset)
	}
}

// Amount returns the value of the asset.
func (a *Asset) Amount() (base.Amount, error) {
	switch {
	case a.TransparentCertificate != nil:
		amount, ok := a.TransparentCertificate.Value.CoinAmount()
		if !ok {
			return 0, base.NewError(base.CodeInvalidAsset)
		}
		return amount, nil
	case a.Opaque != nil:
		return a.Opaque.Amount, nil
	default:
		return 0, base.NewError(base.CodeInvalidAsset)
	}
}

// Check validates the asset against the committee: a certificate check for
// transparent coins, a plain credential verification for opaque coins.
func (a *Asset) Check(c *committee.Committee) error {
	switch {
	case a.TransparentCertificate != nil:
		if err := a.TransparentCertificate.Check(c); err != nil {
			return err
		}
		if a.TransparentCertificate.Value.Kind != ValueCoin {
			return base.NewError(base.CodeInvalidAsset)
		}
		return nil
	case a.Opaque != nil && a.Credential != nil:
		setup := c.CoconutSetup
		if setup == nil {
			return base.NewError(base.CodeInvalidAsset)
		}
		attr := a.Opaque.MakeInputAttribute()
		if !a.Credential.PlainVerify(setup.Parameters, setup.VerificationKey, attr.Value, attr.Seed, attr.Key) {
			return base.NewError(base.CodeInvalidAsset)
		}
		return nil
	default:
		return base.NewError(base.CodeInvalidAsset)
	}
}

// VerifyLinkedAssets checks that all assets belong to the given account
// with pairwise distinct seeds, returning their total amount. Used when
// validating SpendAndTransfer and coin creation sources.
func VerifyLinkedAssets(id base.AccountID, assets []Asset) (base.Amount, error) {
	total := base.Amount(0)
	seeds := make(map[base.CoinSeed]bool, len(assets))
	for i := range assets {
		asset := &assets[i]
		linked, err := asset.AccountID()
		if err != nil {
			return 0, err
		}
		if !linked.Equal(id) {
			return 0, base.NewError(base.CodeInvalidCoin)
		}
		var seed base.CoinSeed
		switch {
		case asset.TransparentCertificate != nil:
			seed = asset.TransparentCertificate.Value.Coin.Seed
		case asset.Opaque != nil:
			seed = asset.Opaque.PublicSeed
		}
		if seeds[seed] {
			return 0, base.NewError(base.CodeInvalidCoin)
		}
		seeds[seed] = true
		amount, err := asset.Amount()
		if err != nil {
			return 0, err
		}
		if total, err = total.TryAdd(amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}
