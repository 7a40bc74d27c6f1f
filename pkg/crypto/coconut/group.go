// Copyright 2026 Scalaris Ledger
//
// BLS12-381 group helpers shared by the credential scheme. Scalar
// multiplication goes through affine points; sums accumulate in Jacobian
// coordinates.

package coconut

import (
	"crypto/sha512"
	"fmt"
	"hash"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// G1 hash domain following the IETF hash-to-curve suite for BLS12-381 G1.
const g1HashDomain = "SCALARIS-V01-CS01-with-BLS12381G1_XMD:SHA-256_SSWU_RO_"

// hashToG1 maps arbitrary bytes onto a G1 point.
func hashToG1(msg []byte) bls12381.G1Affine {
	p, err := bls12381.HashToG1(msg, []byte(g1HashDomain))
	if err != nil {
		// HashToG1 only fails on an oversized domain separation tag,
		// which is a compile-time constant here.
		panic(fmt.Sprintf("hash to G1: %v", err))
	}
	return p
}

// RandomScalar samples a uniform field element.
func RandomScalar() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return fr.Element{}, fmt.Errorf("sample scalar: %w", err)
	}
	return e, nil
}

// randomScalars samples n uniform field elements.
func randomScalars(n int) ([]fr.Element, error) {
	out := make([]fr.Element, n)
	for i := range out {
		var err error
		if out[i], err = RandomScalar(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ScalarFromSHA512 reduces a SHA-512 digest into the scalar field.
func ScalarFromSHA512(digest [64]byte) fr.Element {
	var e fr.Element
	e.SetBytes(digest[:])
	return e
}

// HashToScalar hashes a domain-separated transcript into the scalar field.
func HashToScalar(domain string, chunks ...[]byte) fr.Element {
	h := sha512.New()
	h.Write([]byte(domain))
	for _, c := range chunks {
		h.Write(c)
	}
	var digest [64]byte
	copy(digest[:], h.Sum(nil))
	return ScalarFromSHA512(digest)
}

// checkPairing reports whether e(p, q) == e(r, s).
func checkPairing(p *bls12381.G1Affine, q *bls12381.G2Affine, r *bls12381.G1Affine, s *bls12381.G2Affine) bool {
	var negR bls12381.G1Affine
	negR.Neg(r)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{*p, negR},
		[]bls12381.G2Affine{*q, *s},
	)
	if err != nil {
		return false
	}
	return ok
}

func g1Mul(p *bls12381.G1Affine, s *fr.Element) bls12381.G1Affine {
	var bi big.Int
	s.BigInt(&bi)
	var out bls12381.G1Affine
	out.ScalarMultiplication(p, &bi)
	return out
}

func g2Mul(p *bls12381.G2Affine, s *fr.Element) bls12381.G2Affine {
	var bi big.Int
	s.BigInt(&bi)
	var out bls12381.G2Affine
	out.ScalarMultiplication(p, &bi)
	return out
}

func g1Sum(points ...*bls12381.G1Affine) bls12381.G1Affine {
	var acc bls12381.G1Jac
	for _, p := range points {
		var j bls12381.G1Jac
		j.FromAffine(p)
		acc.AddAssign(&j)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return out
}

func g2Sum(points ...*bls12381.G2Affine) bls12381.G2Affine {
	var acc bls12381.G2Jac
	for _, p := range points {
		var j bls12381.G2Jac
		j.FromAffine(p)
		acc.AddAssign(&j)
	}
	var out bls12381.G2Affine
	out.FromJacobian(&acc)
	return out
}

func g1Sub(a, b *bls12381.G1Affine) bls12381.G1Affine {
	var neg bls12381.G1Affine
	neg.Neg(b)
	return g1Sum(a, &neg)
}

func writeG1Point(h hash.Hash, p *bls12381.G1Affine) {
	raw := p.Bytes()
	h.Write(raw[:])
}

func writeG2Point(h hash.Hash, p *bls12381.G2Affine) {
	raw := p.Bytes()
	h.Write(raw[:])
}

func writeScalar(h hash.Hash, e *fr.Element) {
	raw := e.Bytes()
	h.Write(raw[:])
}
