// Copyright 2026 Scalaris Ledger
//
// Coconut threshold credential setup over BLS12-381.
//
// Credentials embed three attributes: the hidden coin value, the private
// seed keeping a coin unlinkable across spends, and the key binding the
// coin to an account. The dealer-mode trusted setup shares the master
// secret across the committee with polynomials of degree threshold-1, so
// any threshold of blinded shares interpolates to a credential under the
// aggregate verification key.

package coconut

import (
	"errors"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// AttributeCount is the number of attributes embedded in a coin credential:
// value, seed, key.
const AttributeCount = 3

var (
	ErrBadThreshold     = errors.New("threshold must be between 1 and the committee size")
	ErrTooFewGenerators = errors.New("parameters carry too few attribute generators")
	ErrEmptyShares      = errors.New("cannot aggregate an empty set of credential shares")
)

// Parameters are the global public parameters.
type Parameters struct {
	// G1 is a generator of the first pairing group.
	G1 bls12381.G1Affine
	// Hs are additional G1 generators, one per attribute slot. Their
	// count bounds the number of attributes a credential can embed.
	Hs []bls12381.G1Affine
	// G2 is a generator of the second pairing group.
	G2 bls12381.G2Affine
}

// Setup derives public parameters supporting maxAttributes attributes. The
// attribute generators are produced by hashing fixed labels to G1, so every
// party derives the same parameters.
func Setup(maxAttributes int) (*Parameters, error) {
	if maxAttributes < 1 {
		return nil, fmt.Errorf("max attributes must be positive, got %d", maxAttributes)
	}
	_, _, g1, g2 := bls12381.Generators()
	hs := make([]bls12381.G1Affine, maxAttributes)
	for i := range hs {
		hs[i] = hashToG1([]byte(fmt.Sprintf("h%d", i)))
	}
	return &Parameters{G1: g1, Hs: hs, G2: g2}, nil
}

// MaxAttributes returns the number of attribute slots.
func (p *Parameters) MaxAttributes() int {
	return len(p.Hs)
}

// SecretKey is an authority's share of the issuance key.
type SecretKey struct {
	X  fr.Element
	Ys []fr.Element
}

// PublicKey verifies credentials. The same structure represents a single
// authority's share key and the aggregated committee key; the two are
// indistinguishable by construction.
type PublicKey struct {
	Alpha  bls12381.G2Affine
	Betas  []bls12381.G2Affine
	Gammas []bls12381.G1Affine
}

// NewPublicKey derives the public key of a secret key.
func NewPublicKey(params *Parameters, secret *SecretKey) *PublicKey {
	pk := &PublicKey{
		Alpha:  g2Mul(&params.G2, &secret.X),
		Betas:  make([]bls12381.G2Affine, len(secret.Ys)),
		Gammas: make([]bls12381.G1Affine, len(secret.Ys)),
	}
	for i := range secret.Ys {
		pk.Betas[i] = g2Mul(&params.G2, &secret.Ys[i])
		pk.Gammas[i] = g1Mul(&params.G1, &secret.Ys[i])
	}
	return pk
}

// MaxAttributes returns the number of attribute slots of the key.
func (pk *PublicKey) MaxAttributes() int {
	return len(pk.Betas)
}

// KeyPair is an authority's issuance key pair plus its Lagrange index.
type KeyPair struct {
	// Index is the evaluation point of the sharing polynomials, used for
	// Lagrange interpolation when aggregating shares.
	Index  uint64
	Secret *SecretKey
	Public *PublicKey
}

// TrustedSetup computes the keys of all authorities along with the
// aggregated public key (dealer mode). In a production deployment this
// would run as a distributed key generation so that no party learns the
// master secret.
func TrustedSetup(params *Parameters, threshold, committeeSize int) (*PublicKey, []*KeyPair, error) {
	if threshold < 1 || threshold > committeeSize {
		return nil, nil, ErrBadThreshold
	}
	v, err := randomPolynomial(threshold - 1)
	if err != nil {
		return nil, nil, err
	}
	ws := make([]polynomial, params.MaxAttributes())
	for i := range ws {
		if ws[i], err = randomPolynomial(threshold - 1); err != nil {
			return nil, nil, err
		}
	}

	keys := make([]*KeyPair, committeeSize)
	for i := 1; i <= committeeSize; i++ {
		var point fr.Element
		point.SetUint64(uint64(i))
		secret := &SecretKey{
			X:  v.evaluate(&point),
			Ys: make([]fr.Element, len(ws)),
		}
		for j := range ws {
			secret.Ys[j] = ws[j].evaluate(&point)
		}
		keys[i-1] = &KeyPair{
			Index:  uint64(i),
			Secret: secret,
			Public: NewPublicKey(params, secret),
		}
	}

	var zero fr.Element
	master := &SecretKey{
		X:  v.evaluate(&zero),
		Ys: make([]fr.Element, len(ws)),
	}
	for j := range ws {
		master.Ys[j] = ws[j].evaluate(&zero)
	}
	return NewPublicKey(params, master), keys, nil
}
