// Copyright 2026 Scalaris Ledger
//
// Range proofs over Pedersen commitments on BLS12-381 G1.
//
// A commitment C = v*B + r*B~ is proven to hold a value v in [0, 2^bits)
// by committing to each bit of v, proving with a Chaum-Pedersen OR proof
// that every bit commitment opens to 0 or 1, and closing the weighted sum
// of the bit commitments back onto C with a Schnorr proof. All challenges
// are derived by Fiat-Shamir over a SHA-512 transcript.

package rangeproof

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

const transcriptDomain = "SCALARIS_RANGE_PROOF_V1"

// MaxBits bounds the supported range width.
const MaxBits = 64

var (
	ErrInvalidBits  = errors.New("range width must be between 1 and 64 bits")
	ErrOutOfRange   = errors.New("value does not fit in the range width")
	ErrProofInvalid = errors.New("range proof verification failed")
	ErrProofShape   = errors.New("range proof has inconsistent shape")
)

// Gens are the Pedersen generators shared with the credential scheme:
// B commits the value, BBlinding the blinding factor.
type Gens struct {
	B         bls12381.G1Affine
	BBlinding bls12381.G1Affine
}

// Commit returns v*B + r*BBlinding.
func Commit(gens *Gens, value uint64, blinding *fr.Element) bls12381.G1Affine {
	var v fr.Element
	v.SetUint64(value)
	vb := mul(&gens.B, &v)
	rb := mul(&gens.BBlinding, blinding)
	return add(&vb, &rb)
}

// Proof is a non-interactive range proof for one commitment.
type Proof struct {
	// One Pedersen commitment per bit, least significant first.
	BitCommitments []bls12381.G1Affine
	// OR-proof transcript per bit.
	A0s []bls12381.G1Affine
	A1s []bls12381.G1Affine
	C0s []fr.Element
	C1s []fr.Element
	Z0s []fr.Element
	Z1s []fr.Element
	// Schnorr closure: C - sum(2^i * C_i) = delta*BBlinding.
	ADelta bls12381.G1Affine
	ZDelta fr.Element
}

// Prove builds a range proof for commitment Commit(gens, value, blinding).
func Prove(gens *Gens, value uint64, blinding *fr.Element, bits int) (*Proof, error) {
	if bits < 1 || bits > MaxBits {
		return nil, ErrInvalidBits
	}
	if bits < 64 && value>>uint(bits) != 0 {
		return nil, ErrOutOfRange
	}

	p := &Proof{
		BitCommitments: make([]bls12381.G1Affine, bits),
		A0s:            make([]bls12381.G1Affine, bits),
		A1s:            make([]bls12381.G1Affine, bits),
		C0s:            make([]fr.Element, bits),
		C1s:            make([]fr.Element, bits),
		Z0s:            make([]fr.Element, bits),
		Z1s:            make([]fr.Element, bits),
	}

	// Commit to each bit with a fresh blinding factor.
	bitBlindings := make([]fr.Element, bits)
	for i := 0; i < bits; i++ {
		if _, err := bitBlindings[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("sample bit blinding: %w", err)
		}
		bit := (value >> uint(i)) & 1
		p.BitCommitments[i] = Commit(gens, bit, &bitBlindings[i])
	}

	// First round of the OR proofs: a real branch for the actual bit, a
	// simulated branch for the other case. The challenge split is fixed
	// after the global Fiat-Shamir challenge is known.
	witnesses := make([]fr.Element, bits)
	simChallenges := make([]fr.Element, bits)
	simResponses := make([]fr.Element, bits)
	for i := 0; i < bits; i++ {
		if _, err := witnesses[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("sample witness: %w", err)
		}
		if _, err := simChallenges[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("sample simulated challenge: %w", err)
		}
		if _, err := simResponses[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("sample simulated response: %w", err)
		}
		bit := (value >> uint(i)) & 1
		if bit == 0 {
			// Real: C_i = r*B~. Simulated: C_i - B = r*B~.
			p.A0s[i] = mul(&gens.BBlinding, &witnesses[i])
			shifted := sub(&p.BitCommitments[i], &gens.B)
			p.A1s[i] = simulated(&gens.BBlinding, &shifted, &simChallenges[i], &simResponses[i])
		} else {
			// Real: C_i - B = r*B~. Simulated: C_i = r*B~.
			p.A1s[i] = mul(&gens.BBlinding, &witnesses[i])
			p.A0s[i] = simulated(&gens.BBlinding, &p.BitCommitments[i], &simChallenges[i], &simResponses[i])
		}
	}

	// Schnorr closure over the aggregate blinding difference.
	var delta fr.Element
	delta.Set(blinding)
	for i := 0; i < bits; i++ {
		var term fr.Element
		term.Set(&bitBlindings[i]).Mul(&term, powerOfTwo(i))
		delta.Sub(&delta, &term)
	}
	var deltaWitness fr.Element
	if _, err := deltaWitness.SetRandom(); err != nil {
		return nil, fmt.Errorf("sample delta witness: %w", err)
	}
	p.ADelta = mul(&gens.BBlinding, &deltaWitness)

	commitment := Commit(gens, value, blinding)
	challenge := p.challenge(gens, &commitment, bits)

	// Close each OR proof: the simulated branch keeps its sampled
	// challenge; the real branch takes the remainder.
	for i := 0; i < bits; i++ {
		var realChallenge fr.Element
		realChallenge.Sub(&challenge, &simChallenges[i])
		var realResponse fr.Element
		bit := (value >> uint(i)) & 1
		realResponse.Mul(&realChallenge, &bitBlindings[i]).Add(&realResponse, &witnesses[i])
		if bit == 0 {
			p.C0s[i] = realChallenge
			p.Z0s[i] = realResponse
			p.C1s[i] = simChallenges[i]
			p.Z1s[i] = simResponses[i]
		} else {
			p.C1s[i] = realChallenge
			p.Z1s[i] = realResponse
			p.C0s[i] = simChallenges[i]
			p.Z0s[i] = simResponses[i]
		}
	}
	p.ZDelta.Mul(&challenge, &delta).Add(&p.ZDelta, &deltaWitness)
	return p, nil
}

// Verify checks the proof against a commitment.
func (p *Proof) Verify(gens *Gens, commitment *bls12381.G1Affine, bits int) error {
	if bits < 1 || bits > MaxBits {
		return ErrInvalidBits
	}
	if len(p.BitCommitments) != bits ||
		len(p.A0s) != bits || len(p.A1s) != bits ||
		len(p.C0s) != bits || len(p.C1s) != bits ||
		len(p.Z0s) != bits || len(p.Z1s) != bits {
		return ErrProofShape
	}

	challenge := p.challenge(gens, commitment, bits)

	for i := 0; i < bits; i++ {
		// The challenge split must cover the global challenge.
		var sum fr.Element
		sum.Add(&p.C0s[i], &p.C1s[i])
		if !sum.Equal(&challenge) {
			return ErrProofInvalid
		}
		// Branch 0: z0*B~ == A0 + c0*C_i.
		lhs := mul(&gens.BBlinding, &p.Z0s[i])
		rhs0 := mul(&p.BitCommitments[i], &p.C0s[i])
		rhs := add(&p.A0s[i], &rhs0)
		if !lhs.Equal(&rhs) {
			return ErrProofInvalid
		}
		// Branch 1: z1*B~ == A1 + c1*(C_i - B).
		shifted := sub(&p.BitCommitments[i], &gens.B)
		lhs = mul(&gens.BBlinding, &p.Z1s[i])
		rhs1 := mul(&shifted, &p.C1s[i])
		rhs = add(&p.A1s[i], &rhs1)
		if !lhs.Equal(&rhs) {
			return ErrProofInvalid
		}
	}

	// Schnorr closure: zd*B~ == ADelta + c*(C - sum 2^i C_i).
	weighted := weightedSum(p.BitCommitments)
	diff := sub(commitment, &weighted)
	lhs := mul(&gens.BBlinding, &p.ZDelta)
	scaled := mul(&diff, &challenge)
	rhs := add(&p.ADelta, &scaled)
	if !lhs.Equal(&rhs) {
		return ErrProofInvalid
	}
	return nil
}

// simulated produces the first-round commitment of a simulated sigma branch
// for statement point = x*base with sampled challenge c and response z:
// A = z*base - c*point.
func simulated(basePoint, point *bls12381.G1Affine, c, z *fr.Element) bls12381.G1Affine {
	zb := mul(basePoint, z)
	cp := mul(point, c)
	return sub(&zb, &cp)
}

func (p *Proof) challenge(gens *Gens, commitment *bls12381.G1Affine, bits int) fr.Element {
	h := sha512.New()
	h.Write([]byte(transcriptDomain))
	writePoint(h, &gens.B)
	writePoint(h, &gens.BBlinding)
	writePoint(h, commitment)
	var tmp [8]byte
	tmp[7] = byte(bits)
	h.Write(tmp[:])
	for i := range p.BitCommitments {
		writePoint(h, &p.BitCommitments[i])
	}
	for i := range p.A0s {
		writePoint(h, &p.A0s[i])
	}
	for i := range p.A1s {
		writePoint(h, &p.A1s[i])
	}
	writePoint(h, &p.ADelta)

	var e fr.Element
	e.SetBytes(h.Sum(nil))
	return e
}

func writePoint(h interface{ Write([]byte) (int, error) }, p *bls12381.G1Affine) {
	raw := p.Bytes()
	h.Write(raw[:])
}

func powerOfTwo(i int) *fr.Element {
	var e fr.Element
	if i < 63 {
		e.SetUint64(1 << uint(i))
		return &e
	}
	// From 2^63 on, build the power by doubling from one.
	var two fr.Element
	two.SetUint64(2)
	e.SetOne()
	for k := 0; k < i; k++ {
		e.Mul(&e, &two)
	}
	return &e
}

func weightedSum(points []bls12381.G1Affine) bls12381.G1Affine {
	var acc bls12381.G1Jac
	for i := range points {
		term := mul(&points[i], powerOfTwo(i))
		var j bls12381.G1Jac
		j.FromAffine(&term)
		acc.AddAssign(&j)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return out
}

func mul(p *bls12381.G1Affine, s *fr.Element) bls12381.G1Affine {
	var bi big.Int
	s.BigInt(&bi)
	var out bls12381.G1Affine
	out.ScalarMultiplication(p, &bi)
	return out
}

func add(a, b *bls12381.G1Affine) bls12381.G1Affine {
	var ja, jb bls12381.G1Jac
	ja.FromAffine(a)
	jb.FromAffine(b)
	ja.AddAssign(&jb)
	var out bls12381.G1Affine
	out.FromJacobian(&ja)
	return out
}

func sub(a, b *bls12381.G1Affine) bls12381.G1Affine {
	var neg bls12381.G1Affine
	neg.Neg(b)
	return add(a, &neg)
}
