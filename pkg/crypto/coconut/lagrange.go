// Copyright 2026 Scalaris Ledger
//
// Polynomials over the scalar field and Lagrange interpolation at the
// origin, used for threshold key sharing and share aggregation.

package coconut

import (
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// polynomial holds coefficients in ascending degree order.
type polynomial struct {
	coefficients []fr.Element
}

func randomPolynomial(degree int) (polynomial, error) {
	coeffs, err := randomScalars(degree + 1)
	if err != nil {
		return polynomial{}, err
	}
	return polynomial{coefficients: coeffs}, nil
}

// evaluate computes the polynomial at x by Horner's rule.
func (p polynomial) evaluate(x *fr.Element) fr.Element {
	var acc fr.Element
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		acc.Mul(&acc, x)
		acc.Add(&acc, &p.coefficients[i])
	}
	return acc
}

// lagrangeCoefficients computes the interpolation weights at the origin for
// the given distinct evaluation points.
func lagrangeCoefficients(indices []fr.Element) []fr.Element {
	coefficients := make([]fr.Element, len(indices))
	for j := range indices {
		var num, den fr.Element
		num.SetOne()
		den.SetOne()
		for k := range indices {
			if k == j {
				continue
			}
			// num *= (0 - x_k); den *= (x_j - x_k).
			var negXk, diff fr.Element
			negXk.Neg(&indices[k])
			num.Mul(&num, &negXk)
			diff.Sub(&indices[j], &indices[k])
			den.Mul(&den, &diff)
		}
		den.Inverse(&den)
		coefficients[j].Mul(&num, &den)
	}
	return coefficients
}

// lagrangeInterpolateG1 interpolates G1 points at the origin.
func lagrangeInterpolateG1(points []bls12381.G1Affine, indices []uint64) bls12381.G1Affine {
	xs := make([]fr.Element, len(indices))
	for i, idx := range indices {
		xs[i].SetUint64(idx)
	}
	coefficients := lagrangeCoefficients(xs)
	var acc bls12381.G1Jac
	for i := range points {
		term := g1Mul(&points[i], &coefficients[i])
		var j bls12381.G1Jac
		j.FromAffine(&term)
		acc.AddAssign(&j)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return out
}
