// Copyright 2026 Scalaris Ledger
//
// Credentials, blind issuance and share aggregation.

package coconut

import (
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Credential is a (possibly aggregated) signature over the attribute triple
// (value, seed, key): a base point H and the signature point S.
type Credential struct {
	H bls12381.G1Affine
	S bls12381.G1Affine
}

// Randomize re-randomizes the credential so that two showings of the same
// coin are unlinkable.
func (c *Credential) Randomize() error {
	r, err := RandomScalar()
	if err != nil {
		return err
	}
	c.H = g1Mul(&c.H, &r)
	c.S = g1Mul(&c.S, &r)
	return nil
}

// PlainVerify checks the credential against disclosed attributes under the
// given verification key: e(H, alpha + beta0*value + beta1*seed + beta2*key)
// must equal e(S, g2).
func (c *Credential) PlainVerify(params *Parameters, vk *PublicKey, value, seed, key fr.Element) bool {
	if vk.MaxAttributes() < AttributeCount || c.H.IsInfinity() {
		return false
	}
	bv := g2Mul(&vk.Betas[0], &value)
	bs := g2Mul(&vk.Betas[1], &seed)
	bk := g2Mul(&vk.Betas[2], &key)
	kappa := g2Sum(&vk.Alpha, &bv, &bs, &bk)
	return checkPairing(&c.H, &kappa, &c.S, &params.G2)
}

// CredentialShare is one authority's unblinded share of a credential,
// tagged with the authority's Lagrange index.
type CredentialShare struct {
	Credential Credential
	Index      uint64
}

// AggregateCredentialShares interpolates a threshold of shares into a
// credential valid under the aggregate verification key. All shares must
// carry the same base point; the function errors on empty input.
func AggregateCredentialShares(shares []CredentialShare) (*Credential, error) {
	if len(shares) == 0 {
		return nil, ErrEmptyShares
	}
	base := shares[0].Credential.H
	points := make([]bls12381.G1Affine, len(shares))
	indices := make([]uint64, len(shares))
	seen := make(map[uint64]bool, len(shares))
	for i, share := range shares {
		if !share.Credential.H.Equal(&base) {
			return nil, fmt.Errorf("credential shares disagree on the base point")
		}
		if seen[share.Index] {
			return nil, fmt.Errorf("duplicate lagrange index %d", share.Index)
		}
		seen[share.Index] = true
		points[i] = share.Credential.S
		indices[i] = share.Index
	}
	return &Credential{
		H: base,
		S: lagrangeInterpolateG1(points, indices),
	}, nil
}

// AttributeCiphertext is a blinded output attribute triple: each component
// commits one attribute under the request's per-output base point.
type AttributeCiphertext struct {
	Value bls12381.G1Affine
	Seed  bls12381.G1Affine
	Key   bls12381.G1Affine
}

// BlindedCredentials carries one blinded credential share per output coin.
type BlindedCredentials struct {
	Blind []Credential
}

// IssueBlindedCredentials homomorphically signs the blinded output
// attributes with the authority's secret share. cms are the common output
// commitments; cs the blinded attribute triples.
func IssueBlindedCredentials(params *Parameters, secret *SecretKey, cms []bls12381.G1Affine, cs []AttributeCiphertext) (*BlindedCredentials, error) {
	if len(cms) != len(cs) {
		return nil, fmt.Errorf("commitment count mismatch: %d vs %d", len(cms), len(cs))
	}
	if params.MaxAttributes() < AttributeCount || len(secret.Ys) < AttributeCount {
		return nil, ErrTooFewGenerators
	}
	blind := make([]Credential, len(cms))
	for i := range cms {
		h := hashToG1(pointBytes(&cms[i]))
		tv := g1Mul(&cs[i].Value, &secret.Ys[0])
		ts := g1Mul(&cs[i].Seed, &secret.Ys[1])
		tk := g1Mul(&cs[i].Key, &secret.Ys[2])
		hx := g1Mul(&h, &secret.X)
		blind[i] = Credential{
			H: h,
			S: g1Sum(&tv, &ts, &tk, &hx),
		}
	}
	return &BlindedCredentials{Blind: blind}, nil
}

// Len returns the number of blinded shares.
func (b *BlindedCredentials) Len() int {
	return len(b.Blind)
}

// Unblind removes the blinding factors using the issuing authority's share
// public key, yielding one clean credential share per output.
func (b *BlindedCredentials) Unblind(sharePub *PublicKey, outputs []OutputAttribute) ([]Credential, error) {
	if len(b.Blind) != len(outputs) {
		return nil, fmt.Errorf("blinded share count mismatch: %d vs %d", len(b.Blind), len(outputs))
	}
	if sharePub.MaxAttributes() < AttributeCount {
		return nil, ErrTooFewGenerators
	}
	out := make([]Credential, len(b.Blind))
	for i := range b.Blind {
		var nv, ns, nk fr.Element
		nv.Neg(&outputs[i].ValueBlinding)
		ns.Neg(&outputs[i].SeedBlinding)
		nk.Neg(&outputs[i].KeyBlinding)
		tv := g1Mul(&sharePub.Gammas[0], &nv)
		ts := g1Mul(&sharePub.Gammas[1], &ns)
		tk := g1Mul(&sharePub.Gammas[2], &nk)
		out[i] = Credential{
			H: b.Blind[i].H,
			S: g1Sum(&b.Blind[i].S, &tv, &ts, &tk),
		}
	}
	return out, nil
}

func pointBytes(p *bls12381.G1Affine) []byte {
	raw := p.Bytes()
	return raw[:]
}
