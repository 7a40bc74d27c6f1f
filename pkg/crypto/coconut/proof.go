// Copyright 2026 Scalaris Ledger
//
// The Fiat-Shamir proof carried by a coin request. It asserts knowledge of
// the hidden input and output attributes behind every commitment of the
// request, that the kappa elements open the input credentials under the
// aggregate key, and that the hidden values conserve: the sum of the input
// values plus the public offset equals the sum of the output values.

package coconut

import (
	"crypto/sha512"
	"errors"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

const proofDomain = "SCALARIS_COINS_REQUEST_PROOF_V1"

// ErrZKCheckFailed reports a conservation proof that did not verify.
var ErrZKCheckFailed = errors.New("zero-knowledge check of the coin request failed")

// InputAttributeResponse carries the responses for one input coin. The key
// attribute is public, so only value and seed have responses.
type InputAttributeResponse struct {
	Value fr.Element
	Seed  fr.Element
}

// RequestCoinsProof is the proof transcript.
type RequestCoinsProof struct {
	Challenge           fr.Element
	InputResponses      []InputAttributeResponse
	OutputResponses     []OutputAttribute
	RandomnessResponses Randomness
	ZeroSumResponse     fr.Element
}

func newRequestCoinsProof(
	params *Parameters,
	vk *PublicKey,
	baseHs []bls12381.G1Affine,
	sigmas []Credential,
	inputs []InputAttribute,
	outputs []OutputAttribute,
	randomness *Randomness,
	keys []fr.Element,
	offset *fr.Element,
) (*RequestCoinsProof, error) {
	// Sample witnesses for every secret.
	inputWitnesses := make([]InputAttributeResponse, len(inputs))
	for i := range inputWitnesses {
		v, err := RandomScalar()
		if err != nil {
			return nil, err
		}
		s, err := RandomScalar()
		if err != nil {
			return nil, err
		}
		inputWitnesses[i] = InputAttributeResponse{Value: v, Seed: s}
	}
	outputWitnesses := make([]OutputAttribute, len(outputs))
	for j := range outputWitnesses {
		ws, err := randomScalars(6)
		if err != nil {
			return nil, err
		}
		outputWitnesses[j] = OutputAttribute{
			Value: ws[0], ValueBlinding: ws[1],
			Seed: ws[2], SeedBlinding: ws[3],
			Key: ws[4], KeyBlinding: ws[5],
		}
	}
	randomnessWitnesses, err := NewRandomness(len(inputs), len(outputs))
	if err != nil {
		return nil, err
	}

	// Commitments from the witnesses, mirroring the request construction.
	kappas := make([]bls12381.G2Affine, len(inputs))
	nus := make([]bls12381.G1Affine, len(inputs))
	inCmts := make([]bls12381.G1Affine, len(inputs))
	for i := range inputs {
		bk := g2Mul(&vk.Betas[2], &keys[i])
		bv := g2Mul(&vk.Betas[0], &inputWitnesses[i].Value)
		bs := g2Mul(&vk.Betas[1], &inputWitnesses[i].Seed)
		gr := g2Mul(&params.G2, &randomnessWitnesses.Rs[i])
		kappas[i] = g2Sum(&vk.Alpha, &bk, &bv, &bs, &gr)
		nus[i] = g1Mul(&sigmas[i].H, &randomnessWitnesses.Rs[i])
		hv := g1Mul(&params.Hs[0], &inputWitnesses[i].Value)
		gr1 := g1Mul(&params.G1, &randomnessWitnesses.InputRs[i])
		inCmts[i] = g1Sum(&hv, &gr1)
	}
	cms := make([]bls12381.G1Affine, len(outputs))
	cs := make([]AttributeCiphertext, len(outputs))
	outCmts := make([]bls12381.G1Affine, len(outputs))
	for j := range outputs {
		hv := g1Mul(&params.Hs[0], &outputWitnesses[j].Value)
		hs := g1Mul(&params.Hs[1], &outputWitnesses[j].Seed)
		hk := g1Mul(&params.Hs[2], &outputWitnesses[j].Key)
		gos := g1Mul(&params.G1, &randomnessWitnesses.Os[j])
		cms[j] = g1Sum(&hv, &hs, &hk, &gos)

		cv := g1Mul(&baseHs[j], &outputWitnesses[j].Value)
		cvb := g1Mul(&params.G1, &outputWitnesses[j].ValueBlinding)
		csd := g1Mul(&baseHs[j], &outputWitnesses[j].Seed)
		csb := g1Mul(&params.G1, &outputWitnesses[j].SeedBlinding)
		ck := g1Mul(&baseHs[j], &outputWitnesses[j].Key)
		ckb := g1Mul(&params.G1, &outputWitnesses[j].KeyBlinding)
		cs[j] = AttributeCiphertext{
			Value: g1Sum(&cv, &cvb),
			Seed:  g1Sum(&csd, &csb),
			Key:   g1Sum(&ck, &ckb),
		}

		ov := g1Mul(&params.Hs[0], &outputWitnesses[j].Value)
		or := g1Mul(&params.G1, &randomnessWitnesses.OutputRs[j])
		outCmts[j] = g1Sum(&ov, &or)
	}

	// Conservation: the aggregate blinding difference and its witness.
	var zeroSum, zeroSumWitness fr.Element
	for j := range randomness.OutputRs {
		zeroSum.Add(&zeroSum, &randomness.OutputRs[j])
		zeroSumWitness.Add(&zeroSumWitness, &randomnessWitnesses.OutputRs[j])
	}
	for i := range randomness.InputRs {
		zeroSum.Sub(&zeroSum, &randomness.InputRs[i])
		zeroSumWitness.Sub(&zeroSumWitness, &randomnessWitnesses.InputRs[i])
	}
	zeroSumPoint := g1Mul(&params.G1, &zeroSumWitness)

	challenge := toChallenge(vk, baseHs, kappas, nus, cms, cs, inCmts, outCmts, &zeroSumPoint, keys, offset)

	// Responses: witness - challenge * secret.
	proof := &RequestCoinsProof{
		Challenge:       challenge,
		InputResponses:  make([]InputAttributeResponse, len(inputs)),
		OutputResponses: make([]OutputAttribute, len(outputs)),
		RandomnessResponses: Randomness{
			Rs:       make([]fr.Element, len(inputs)),
			Os:       make([]fr.Element, len(outputs)),
			InputRs:  make([]fr.Element, len(inputs)),
			OutputRs: make([]fr.Element, len(outputs)),
		},
	}
	respond := func(witness, secret *fr.Element) fr.Element {
		var t, out fr.Element
		t.Mul(&challenge, secret)
		out.Sub(witness, &t)
		return out
	}
	for i := range inputs {
		proof.InputResponses[i] = InputAttributeResponse{
			Value: respond(&inputWitnesses[i].Value, &inputs[i].Value),
			Seed:  respond(&inputWitnesses[i].Seed, &inputs[i].Seed),
		}
		proof.RandomnessResponses.Rs[i] = respond(&randomnessWitnesses.Rs[i], &randomness.Rs[i])
		proof.RandomnessResponses.InputRs[i] = respond(&randomnessWitnesses.InputRs[i], &randomness.InputRs[i])
	}
	for j := range outputs {
		proof.OutputResponses[j] = OutputAttribute{
			Value:         respond(&outputWitnesses[j].Value, &outputs[j].Value),
			ValueBlinding: respond(&outputWitnesses[j].ValueBlinding, &outputs[j].ValueBlinding),
			Seed:          respond(&outputWitnesses[j].Seed, &outputs[j].Seed),
			SeedBlinding:  respond(&outputWitnesses[j].SeedBlinding, &outputs[j].SeedBlinding),
			Key:           respond(&outputWitnesses[j].Key, &outputs[j].Key),
			KeyBlinding:   respond(&outputWitnesses[j].KeyBlinding, &outputs[j].KeyBlinding),
		}
		proof.RandomnessResponses.Os[j] = respond(&randomnessWitnesses.Os[j], &randomness.Os[j])
		proof.RandomnessResponses.OutputRs[j] = respond(&randomnessWitnesses.OutputRs[j], &randomness.OutputRs[j])
	}
	proof.ZeroSumResponse = respond(&zeroSumWitness, &zeroSum)
	return proof, nil
}

// verify reconstructs the witness commitments from the responses and checks
// the Fiat-Shamir challenge.
func (p *RequestCoinsProof) verify(params *Parameters, vk *PublicKey, req *CoinsRequest, keys []fr.Element, offset *fr.Element) error {
	inputLen := len(req.Sigmas)
	outputLen := len(req.Cms)
	if len(p.InputResponses) != inputLen || len(p.OutputResponses) != outputLen ||
		len(p.RandomnessResponses.Rs) != inputLen || len(p.RandomnessResponses.InputRs) != inputLen ||
		len(p.RandomnessResponses.Os) != outputLen || len(p.RandomnessResponses.OutputRs) != outputLen {
		return ErrZKCheckFailed
	}

	var oneMinusC fr.Element
	oneMinusC.SetOne()
	oneMinusC.Sub(&oneMinusC, &p.Challenge)

	kappas := make([]bls12381.G2Affine, inputLen)
	nus := make([]bls12381.G1Affine, inputLen)
	inCmts := make([]bls12381.G1Affine, inputLen)
	for i := 0; i < inputLen; i++ {
		// kappa*c + (alpha + beta2*key)*(1-c) + beta0*rv + beta1*rs + g2*rr
		kc := g2Mul(&req.Kappas[i], &p.Challenge)
		ac := g2Mul(&vk.Alpha, &oneMinusC)
		var keyScaled fr.Element
		keyScaled.Mul(&keys[i], &oneMinusC)
		bkc := g2Mul(&vk.Betas[2], &keyScaled)
		bv := g2Mul(&vk.Betas[0], &p.InputResponses[i].Value)
		bs := g2Mul(&vk.Betas[1], &p.InputResponses[i].Seed)
		gr := g2Mul(&params.G2, &p.RandomnessResponses.Rs[i])
		kappas[i] = g2Sum(&kc, &ac, &bkc, &bv, &bs, &gr)

		nc := g1Mul(&req.Nus[i], &p.Challenge)
		hr := g1Mul(&req.Sigmas[i].H, &p.RandomnessResponses.Rs[i])
		nus[i] = g1Sum(&nc, &hr)

		cc := g1Mul(&req.InputCommitments[i], &p.Challenge)
		hv := g1Mul(&params.Hs[0], &p.InputResponses[i].Value)
		gr1 := g1Mul(&params.G1, &p.RandomnessResponses.InputRs[i])
		inCmts[i] = g1Sum(&cc, &hv, &gr1)
	}

	baseHs := make([]bls12381.G1Affine, outputLen)
	cms := make([]bls12381.G1Affine, outputLen)
	cs := make([]AttributeCiphertext, outputLen)
	outCmts := make([]bls12381.G1Affine, outputLen)
	for j := 0; j < outputLen; j++ {
		baseHs[j] = hashToG1(pointBytes(&req.Cms[j]))

		cmc := g1Mul(&req.Cms[j], &p.Challenge)
		hv := g1Mul(&params.Hs[0], &p.OutputResponses[j].Value)
		hs := g1Mul(&params.Hs[1], &p.OutputResponses[j].Seed)
		hk := g1Mul(&params.Hs[2], &p.OutputResponses[j].Key)
		gos := g1Mul(&params.G1, &p.RandomnessResponses.Os[j])
		cms[j] = g1Sum(&cmc, &hv, &hs, &hk, &gos)

		cvc := g1Mul(&req.Cs[j].Value, &p.Challenge)
		cv := g1Mul(&baseHs[j], &p.OutputResponses[j].Value)
		cvb := g1Mul(&params.G1, &p.OutputResponses[j].ValueBlinding)
		csc := g1Mul(&req.Cs[j].Seed, &p.Challenge)
		csd := g1Mul(&baseHs[j], &p.OutputResponses[j].Seed)
		csb := g1Mul(&params.G1, &p.OutputResponses[j].SeedBlinding)
		ckc := g1Mul(&req.Cs[j].Key, &p.Challenge)
		ck := g1Mul(&baseHs[j], &p.OutputResponses[j].Key)
		ckb := g1Mul(&params.G1, &p.OutputResponses[j].KeyBlinding)
		cs[j] = AttributeCiphertext{
			Value: g1Sum(&cvc, &cv, &cvb),
			Seed:  g1Sum(&csc, &csd, &csb),
			Key:   g1Sum(&ckc, &ck, &ckb),
		}

		oc := g1Mul(&req.OutputCommitments[j], &p.Challenge)
		ov := g1Mul(&params.Hs[0], &p.OutputResponses[j].Value)
		or := g1Mul(&params.G1, &p.RandomnessResponses.OutputRs[j])
		outCmts[j] = g1Sum(&oc, &ov, &or)
	}

	// zero_sum = sum(output commitments) - sum(input commitments) - h0*offset.
	var zeroSumAcc bls12381.G1Jac
	for j := range req.OutputCommitments {
		var t bls12381.G1Jac
		t.FromAffine(&req.OutputCommitments[j])
		zeroSumAcc.AddAssign(&t)
	}
	var zeroSum bls12381.G1Affine
	zeroSum.FromJacobian(&zeroSumAcc)
	for i := range req.InputCommitments {
		zeroSum = g1Sub(&zeroSum, &req.InputCommitments[i])
	}
	offsetTerm := g1Mul(&params.Hs[0], offset)
	zeroSum = g1Sub(&zeroSum, &offsetTerm)

	zsc := g1Mul(&zeroSum, &p.Challenge)
	zsr := g1Mul(&params.G1, &p.ZeroSumResponse)
	zeroSumPoint := g1Sum(&zsc, &zsr)

	challenge := toChallenge(vk, baseHs, kappas, nus, cms, cs, inCmts, outCmts, &zeroSumPoint, keys, offset)
	if !challenge.Equal(&p.Challenge) {
		return ErrZKCheckFailed
	}
	return nil
}

// toChallenge derives the Fiat-Shamir challenge from the full transcript,
// including the public input keys and the conservation offset.
func toChallenge(
	vk *PublicKey,
	baseHs []bls12381.G1Affine,
	kappas []bls12381.G2Affine,
	nus []bls12381.G1Affine,
	cms []bls12381.G1Affine,
	cs []AttributeCiphertext,
	inputCommitments []bls12381.G1Affine,
	outputCommitments []bls12381.G1Affine,
	zeroSum *bls12381.G1Affine,
	keys []fr.Element,
	offset *fr.Element,
) fr.Element {
	h := sha512.New()
	h.Write([]byte(proofDomain))
	writeG2Point(h, &vk.Alpha)
	for i := 0; i < AttributeCount; i++ {
		writeG2Point(h, &vk.Betas[i])
	}
	for i := range baseHs {
		writeG1Point(h, &baseHs[i])
	}
	for i := range kappas {
		writeG2Point(h, &kappas[i])
	}
	for i := range nus {
		writeG1Point(h, &nus[i])
	}
	for i := range cms {
		writeG1Point(h, &cms[i])
	}
	for i := range cs {
		writeG1Point(h, &cs[i].Value)
		writeG1Point(h, &cs[i].Seed)
		writeG1Point(h, &cs[i].Key)
	}
	for i := range inputCommitments {
		writeG1Point(h, &inputCommitments[i])
	}
	for i := range outputCommitments {
		writeG1Point(h, &outputCommitments[i])
	}
	writeG1Point(h, zeroSum)
	for i := range keys {
		writeScalar(h, &keys[i])
	}
	writeScalar(h, offset)

	var digest [64]byte
	copy(digest[:], h.Sum(nil))
	return ScalarFromSHA512(digest)
}
