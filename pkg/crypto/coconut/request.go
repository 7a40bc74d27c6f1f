// Copyright 2026 Scalaris Ledger
//
// Coin requests: the client-built statement consuming input credentials and
// asking the committee to blind-sign output coins, together with the
// zero-knowledge material proving value conservation and output ranges.

package coconut

import (
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/scalaris-ledger/scalaris/pkg/crypto/rangeproof"
)

// InputAttribute holds the attributes of an input coin. The key attribute
// is disclosed to the verifier (authorities recompute it from the public
// seeds); value and seed stay hidden.
type InputAttribute struct {
	Value fr.Element
	Seed  fr.Element
	Key   fr.Element
}

// OutputAttribute holds the attributes of an output coin along with the
// blinding factors hiding each of them from the issuing authorities.
type OutputAttribute struct {
	Value         fr.Element
	ValueBlinding fr.Element
	Seed          fr.Element
	SeedBlinding  fr.Element
	Key           fr.Element
	KeyBlinding   fr.Element
}

// Randomness is the commitment randomness of one coin request.
type Randomness struct {
	Rs       []fr.Element // randomizers of the input kappa terms
	Os       []fr.Element // randomizers of the common output commitments
	InputRs  []fr.Element // blindings of the input value commitments
	OutputRs []fr.Element // blindings of the output value commitments
}

// NewRandomness samples fresh randomness for a request shape.
func NewRandomness(inputLen, outputLen int) (*Randomness, error) {
	rs, err := randomScalars(inputLen)
	if err != nil {
		return nil, err
	}
	os, err := randomScalars(outputLen)
	if err != nil {
		return nil, err
	}
	inputRs, err := randomScalars(inputLen)
	if err != nil {
		return nil, err
	}
	outputRs, err := randomScalars(outputLen)
	if err != nil {
		return nil, err
	}
	return &Randomness{Rs: rs, Os: os, InputRs: inputRs, OutputRs: outputRs}, nil
}

// CoinsRequest asks the committee to consume the input credentials and
// blind-sign the output coins. Verification asserts, in zero knowledge,
// that the sum of the hidden input values plus a public offset equals the
// sum of the hidden output values, and that every output value lies in the
// configured range.
type CoinsRequest struct {
	// Randomized input credentials.
	Sigmas []Credential
	// Kappa group elements binding each input credential to its hidden
	// attributes under the aggregate key.
	Kappas []bls12381.G2Affine
	// Nu group elements completing the credential showing.
	Nus []bls12381.G1Affine
	// Common commitments to the output attribute triples.
	Cms []bls12381.G1Affine
	// Blinded output attributes, one triple per output coin.
	Cs []AttributeCiphertext
	// Pedersen commitments to the input values (conservation proof).
	InputCommitments []bls12381.G1Affine
	// Pedersen commitments to the output values (conservation and range
	// proofs).
	OutputCommitments []bls12381.G1Affine
	// The Fiat-Shamir proof tying everything together.
	Proof RequestCoinsProof
	// One range proof per output value.
	RangeProofs []rangeproof.Proof
}

// NewCoinsRequest builds and proves a coin request.
func NewCoinsRequest(params *Parameters, vk *PublicKey, sigmas []Credential, inputs []InputAttribute, outputs []OutputAttribute, rangeBits int) (*CoinsRequest, error) {
	if len(sigmas) != len(inputs) {
		return nil, fmt.Errorf("credential count %d does not match input attribute count %d", len(sigmas), len(inputs))
	}
	if params.MaxAttributes() < AttributeCount || vk.MaxAttributes() < AttributeCount {
		return nil, ErrTooFewGenerators
	}

	randomness, err := NewRandomness(len(inputs), len(outputs))
	if err != nil {
		return nil, err
	}

	// Re-randomize the input credentials so this showing is unlinkable.
	randomized := make([]Credential, len(sigmas))
	for i := range sigmas {
		randomized[i] = sigmas[i]
		if err := randomized[i].Randomize(); err != nil {
			return nil, err
		}
	}

	req := &CoinsRequest{
		Sigmas:            randomized,
		Kappas:            make([]bls12381.G2Affine, len(inputs)),
		Nus:               make([]bls12381.G1Affine, len(inputs)),
		Cms:               make([]bls12381.G1Affine, len(outputs)),
		Cs:                make([]AttributeCiphertext, len(outputs)),
		InputCommitments:  make([]bls12381.G1Affine, len(inputs)),
		OutputCommitments: make([]bls12381.G1Affine, len(outputs)),
	}

	for i := range inputs {
		bv := g2Mul(&vk.Betas[0], &inputs[i].Value)
		bs := g2Mul(&vk.Betas[1], &inputs[i].Seed)
		bk := g2Mul(&vk.Betas[2], &inputs[i].Key)
		gr := g2Mul(&params.G2, &randomness.Rs[i])
		req.Kappas[i] = g2Sum(&vk.Alpha, &bv, &bs, &bk, &gr)
		req.Nus[i] = g1Mul(&randomized[i].H, &randomness.Rs[i])
		hv := g1Mul(&params.Hs[0], &inputs[i].Value)
		gir := g1Mul(&params.G1, &randomness.InputRs[i])
		req.InputCommitments[i] = g1Sum(&hv, &gir)
	}

	baseHs := make([]bls12381.G1Affine, len(outputs))
	for j := range outputs {
		hv := g1Mul(&params.Hs[0], &outputs[j].Value)
		hs := g1Mul(&params.Hs[1], &outputs[j].Seed)
		hk := g1Mul(&params.Hs[2], &outputs[j].Key)
		gos := g1Mul(&params.G1, &randomness.Os[j])
		req.Cms[j] = g1Sum(&hv, &hs, &hk, &gos)
		baseHs[j] = hashToG1(pointBytes(&req.Cms[j]))

		cv := g1Mul(&baseHs[j], &outputs[j].Value)
		cvb := g1Mul(&params.G1, &outputs[j].ValueBlinding)
		cs := g1Mul(&baseHs[j], &outputs[j].Seed)
		csb := g1Mul(&params.G1, &outputs[j].SeedBlinding)
		ck := g1Mul(&baseHs[j], &outputs[j].Key)
		ckb := g1Mul(&params.G1, &outputs[j].KeyBlinding)
		req.Cs[j] = AttributeCiphertext{
			Value: g1Sum(&cv, &cvb),
			Seed:  g1Sum(&cs, &csb),
			Key:   g1Sum(&ck, &ckb),
		}

		ov := g1Mul(&params.Hs[0], &outputs[j].Value)
		or := g1Mul(&params.G1, &randomness.OutputRs[j])
		req.OutputCommitments[j] = g1Sum(&ov, &or)
	}

	// The public conservation offset: outputs minus inputs. Authorities
	// recompute this from account balances and transparent targets.
	offset := conservationOffset(inputs, outputs)
	keys := make([]fr.Element, len(inputs))
	for i := range inputs {
		keys[i] = inputs[i].Key
	}

	proof, err := newRequestCoinsProof(params, vk, baseHs, randomized, inputs, outputs, randomness, keys, &offset)
	if err != nil {
		return nil, err
	}
	req.Proof = *proof

	gens := &rangeproof.Gens{B: params.Hs[0], BBlinding: params.G1}
	req.RangeProofs = make([]rangeproof.Proof, len(outputs))
	for j := range outputs {
		value, err := scalarToUint64(&outputs[j].Value)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}
		rp, err := rangeproof.Prove(gens, value, &randomness.OutputRs[j], rangeBits)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}
		req.RangeProofs[j] = *rp
	}
	return req, nil
}

// HasBlindedOutputs reports whether the request asks for blinded shares.
func (r *CoinsRequest) HasBlindedOutputs() bool {
	return len(r.Cms) > 0
}

// Verify checks the request: shape, the conservation proof under the given
// public input keys and offset, the range proofs, and the credential
// showings by pairing.
func (r *CoinsRequest) Verify(params *Parameters, vk *PublicKey, keys []fr.Element, offset *fr.Element, rangeBits int) error {
	if len(r.Sigmas) != len(r.Kappas) || len(r.Sigmas) != len(r.Nus) ||
		len(r.Sigmas) != len(r.InputCommitments) || len(r.Sigmas) != len(keys) {
		return fmt.Errorf("coin request input shape mismatch")
	}
	if len(r.Cms) != len(r.Cs) || len(r.Cms) != len(r.OutputCommitments) || len(r.Cms) != len(r.RangeProofs) {
		return fmt.Errorf("coin request output shape mismatch")
	}
	if params.MaxAttributes() < AttributeCount || vk.MaxAttributes() < AttributeCount {
		return ErrTooFewGenerators
	}

	if err := r.Proof.verify(params, vk, r, keys, offset); err != nil {
		return err
	}

	gens := &rangeproof.Gens{B: params.Hs[0], BBlinding: params.G1}
	for j := range r.RangeProofs {
		if err := r.RangeProofs[j].Verify(gens, &r.OutputCommitments[j], rangeBits); err != nil {
			return fmt.Errorf("output %d: %w", j, err)
		}
	}

	for i := range r.Sigmas {
		if r.Sigmas[i].H.IsInfinity() {
			return fmt.Errorf("input credential %d has an identity base", i)
		}
		sn := g1Sum(&r.Sigmas[i].S, &r.Nus[i])
		if !checkPairing(&r.Sigmas[i].H, &r.Kappas[i], &sn, &params.G2) {
			return fmt.Errorf("input credential %d failed the pairing check", i)
		}
	}
	return nil
}

// conservationOffset computes sum(output values) - sum(input values).
func conservationOffset(inputs []InputAttribute, outputs []OutputAttribute) fr.Element {
	var offset fr.Element
	for j := range outputs {
		offset.Add(&offset, &outputs[j].Value)
	}
	for i := range inputs {
		offset.Sub(&offset, &inputs[i].Value)
	}
	return offset
}

func scalarToUint64(e *fr.Element) (uint64, error) {
	var bi big.Int
	e.BigInt(&bi)
	if !bi.IsUint64() {
		return 0, fmt.Errorf("attribute value does not fit 64 bits")
	}
	return bi.Uint64(), nil
}
