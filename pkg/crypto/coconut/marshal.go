// Copyright 2026 Scalaris Ledger
//
// Binary serialization of the credential scheme objects. Group elements
// travel compressed; scalars big-endian; collection lengths as varints.
// The envelope layer forwards these encodings as opaque bytes.

package coconut

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/scalaris-ledger/scalaris/pkg/crypto/rangeproof"
)

// maxCollection bounds decoded lengths against malformed inputs.
const maxCollection = 1 << 16

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

func (e *encoder) g1(p *bls12381.G1Affine) {
	raw := p.Bytes()
	e.buf.Write(raw[:])
}

func (e *encoder) g2(p *bls12381.G2Affine) {
	raw := p.Bytes()
	e.buf.Write(raw[:])
}

func (e *encoder) scalar(s *fr.Element) {
	raw := s.Bytes()
	e.buf.Write(raw[:])
}

func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}

type decoder struct {
	r *bytes.Reader
}

func newDecoder(data []byte) *decoder {
	return &decoder{r: bytes.NewReader(data)}
}

func (d *decoder) length() (int, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, fmt.Errorf("read length: %w", err)
	}
	if v > maxCollection {
		return 0, fmt.Errorf("collection length %d exceeds limit", v)
	}
	return int(v), nil
}

func (d *decoder) g1(p *bls12381.G1Affine) error {
	var raw [bls12381.SizeOfG1AffineCompressed]byte
	if _, err := io.ReadFull(d.r, raw[:]); err != nil {
		return fmt.Errorf("read G1 point: %w", err)
	}
	if _, err := p.SetBytes(raw[:]); err != nil {
		return fmt.Errorf("decode G1 point: %w", err)
	}
	return nil
}

func (d *decoder) g2(p *bls12381.G2Affine) error {
	var raw [bls12381.SizeOfG2AffineCompressed]byte
	if _, err := io.ReadFull(d.r, raw[:]); err != nil {
		return fmt.Errorf("read G2 point: %w", err)
	}
	if _, err := p.SetBytes(raw[:]); err != nil {
		return fmt.Errorf("decode G2 point: %w", err)
	}
	return nil
}

func (d *decoder) scalar(s *fr.Element) error {
	var raw [fr.Bytes]byte
	if _, err := io.ReadFull(d.r, raw[:]); err != nil {
		return fmt.Errorf("read scalar: %w", err)
	}
	s.SetBytes(raw[:])
	return nil
}

func (d *decoder) finish() error {
	if d.r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", d.r.Len())
	}
	return nil
}

// MarshalBinary encodes the parameters.
func (p *Parameters) MarshalBinary() ([]byte, error) {
	var e encoder
	e.g1(&p.G1)
	e.uvarint(uint64(len(p.Hs)))
	for i := range p.Hs {
		e.g1(&p.Hs[i])
	}
	e.g2(&p.G2)
	return e.bytes(), nil
}

// UnmarshalBinary decodes parameters.
func (p *Parameters) UnmarshalBinary(data []byte) error {
	d := newDecoder(data)
	if err := d.g1(&p.G1); err != nil {
		return err
	}
	n, err := d.length()
	if err != nil {
		return err
	}
	p.Hs = make([]bls12381.G1Affine, n)
	for i := range p.Hs {
		if err := d.g1(&p.Hs[i]); err != nil {
			return err
		}
	}
	if err := d.g2(&p.G2); err != nil {
		return err
	}
	return d.finish()
}

// MarshalBinary encodes the public key.
func (pk *PublicKey) MarshalBinary() ([]byte, error) {
	var e encoder
	e.g2(&pk.Alpha)
	e.uvarint(uint64(len(pk.Betas)))
	for i := range pk.Betas {
		e.g2(&pk.Betas[i])
	}
	e.uvarint(uint64(len(pk.Gammas)))
	for i := range pk.Gammas {
		e.g1(&pk.Gammas[i])
	}
	return e.bytes(), nil
}

// UnmarshalBinary decodes a public key.
func (pk *PublicKey) UnmarshalBinary(data []byte) error {
	d := newDecoder(data)
	if err := d.g2(&pk.Alpha); err != nil {
		return err
	}
	n, err := d.length()
	if err != nil {
		return err
	}
	pk.Betas = make([]bls12381.G2Affine, n)
	for i := range pk.Betas {
		if err := d.g2(&pk.Betas[i]); err != nil {
			return err
		}
	}
	if n, err = d.length(); err != nil {
		return err
	}
	pk.Gammas = make([]bls12381.G1Affine, n)
	for i := range pk.Gammas {
		if err := d.g1(&pk.Gammas[i]); err != nil {
			return err
		}
	}
	return d.finish()
}

// MarshalBinary encodes the secret key (key files only; never on the wire).
func (sk *SecretKey) MarshalBinary() ([]byte, error) {
	var e encoder
	e.scalar(&sk.X)
	e.uvarint(uint64(len(sk.Ys)))
	for i := range sk.Ys {
		e.scalar(&sk.Ys[i])
	}
	return e.bytes(), nil
}

// UnmarshalBinary decodes a secret key.
func (sk *SecretKey) UnmarshalBinary(data []byte) error {
	d := newDecoder(data)
	if err := d.scalar(&sk.X); err != nil {
		return err
	}
	n, err := d.length()
	if err != nil {
		return err
	}
	sk.Ys = make([]fr.Element, n)
	for i := range sk.Ys {
		if err := d.scalar(&sk.Ys[i]); err != nil {
			return err
		}
	}
	return d.finish()
}

// MarshalBinary encodes a credential.
func (c *Credential) MarshalBinary() ([]byte, error) {
	var e encoder
	e.g1(&c.H)
	e.g1(&c.S)
	return e.bytes(), nil
}

// UnmarshalBinary decodes a credential.
func (c *Credential) UnmarshalBinary(data []byte) error {
	d := newDecoder(data)
	if err := d.g1(&c.H); err != nil {
		return err
	}
	if err := d.g1(&c.S); err != nil {
		return err
	}
	return d.finish()
}

// MarshalBinary encodes a set of blinded credential shares.
func (b *BlindedCredentials) MarshalBinary() ([]byte, error) {
	var e encoder
	e.uvarint(uint64(len(b.Blind)))
	for i := range b.Blind {
		e.g1(&b.Blind[i].H)
		e.g1(&b.Blind[i].S)
	}
	return e.bytes(), nil
}

// UnmarshalBinary decodes blinded credential shares.
func (b *BlindedCredentials) UnmarshalBinary(data []byte) error {
	d := newDecoder(data)
	n, err := d.length()
	if err != nil {
		return err
	}
	b.Blind = make([]Credential, n)
	for i := range b.Blind {
		if err := d.g1(&b.Blind[i].H); err != nil {
			return err
		}
		if err := d.g1(&b.Blind[i].S); err != nil {
			return err
		}
	}
	return d.finish()
}

// MarshalBinary encodes a coin request.
func (r *CoinsRequest) MarshalBinary() ([]byte, error) {
	var e encoder
	e.uvarint(uint64(len(r.Sigmas)))
	for i := range r.Sigmas {
		e.g1(&r.Sigmas[i].H)
		e.g1(&r.Sigmas[i].S)
	}
	for i := range r.Kappas {
		e.g2(&r.Kappas[i])
	}
	for i := range r.Nus {
		e.g1(&r.Nus[i])
	}
	e.uvarint(uint64(len(r.Cms)))
	for i := range r.Cms {
		e.g1(&r.Cms[i])
	}
	for i := range r.Cs {
		e.g1(&r.Cs[i].Value)
		e.g1(&r.Cs[i].Seed)
		e.g1(&r.Cs[i].Key)
	}
	for i := range r.InputCommitments {
		e.g1(&r.InputCommitments[i])
	}
	for i := range r.OutputCommitments {
		e.g1(&r.OutputCommitments[i])
	}

	// Proof transcript.
	e.scalar(&r.Proof.Challenge)
	for i := range r.Proof.InputResponses {
		e.scalar(&r.Proof.InputResponses[i].Value)
		e.scalar(&r.Proof.InputResponses[i].Seed)
	}
	for j := range r.Proof.OutputResponses {
		resp := &r.Proof.OutputResponses[j]
		e.scalar(&resp.Value)
		e.scalar(&resp.ValueBlinding)
		e.scalar(&resp.Seed)
		e.scalar(&resp.SeedBlinding)
		e.scalar(&resp.Key)
		e.scalar(&resp.KeyBlinding)
	}
	for _, list := range [][]fr.Element{
		r.Proof.RandomnessResponses.Rs,
		r.Proof.RandomnessResponses.Os,
		r.Proof.RandomnessResponses.InputRs,
		r.Proof.RandomnessResponses.OutputRs,
	} {
		for i := range list {
			e.scalar(&list[i])
		}
	}
	e.scalar(&r.Proof.ZeroSumResponse)

	// Range proofs.
	for i := range r.RangeProofs {
		raw, err := r.RangeProofs[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		e.uvarint(uint64(len(raw)))
		e.buf.Write(raw)
	}
	return e.bytes(), nil
}

// UnmarshalBinary decodes a coin request.
func (r *CoinsRequest) UnmarshalBinary(data []byte) error {
	d := newDecoder(data)
	inputLen, err := d.length()
	if err != nil {
		return err
	}
	r.Sigmas = make([]Credential, inputLen)
	for i := range r.Sigmas {
		if err := d.g1(&r.Sigmas[i].H); err != nil {
			return err
		}
		if err := d.g1(&r.Sigmas[i].S); err != nil {
			return err
		}
	}
	r.Kappas = make([]bls12381.G2Affine, inputLen)
	for i := range r.Kappas {
		if err := d.g2(&r.Kappas[i]); err != nil {
			return err
		}
	}
	r.Nus = make([]bls12381.G1Affine, inputLen)
	for i := range r.Nus {
		if err := d.g1(&r.Nus[i]); err != nil {
			return err
		}
	}
	outputLen, err := d.length()
	if err != nil {
		return err
	}
	r.Cms = make([]bls12381.G1Affine, outputLen)
	for i := range r.Cms {
		if err := d.g1(&r.Cms[i]); err != nil {
			return err
		}
	}
	r.Cs = make([]AttributeCiphertext, outputLen)
	for i := range r.Cs {
		if err := d.g1(&r.Cs[i].Value); err != nil {
			return err
		}
		if err := d.g1(&r.Cs[i].Seed); err != nil {
			return err
		}
		if err := d.g1(&r.Cs[i].Key); err != nil {
			return err
		}
	}
	r.InputCommitments = make([]bls12381.G1Affine, inputLen)
	for i := range r.InputCommitments {
		if err := d.g1(&r.InputCommitments[i]); err != nil {
			return err
		}
	}
	r.OutputCommitments = make([]bls12381.G1Affine, outputLen)
	for i := range r.OutputCommitments {
		if err := d.g1(&r.OutputCommitments[i]); err != nil {
			return err
		}
	}

	if err := d.scalar(&r.Proof.Challenge); err != nil {
		return err
	}
	r.Proof.InputResponses = make([]InputAttributeResponse, inputLen)
	for i := range r.Proof.InputResponses {
		if err := d.scalar(&r.Proof.InputResponses[i].Value); err != nil {
			return err
		}
		if err := d.scalar(&r.Proof.InputResponses[i].Seed); err != nil {
			return err
		}
	}
	r.Proof.OutputResponses = make([]OutputAttribute, outputLen)
	for j := range r.Proof.OutputResponses {
		resp := &r.Proof.OutputResponses[j]
		for _, s := range []*fr.Element{
			&resp.Value, &resp.ValueBlinding,
			&resp.Seed, &resp.SeedBlinding,
			&resp.Key, &resp.KeyBlinding,
		} {
			if err := d.scalar(s); err != nil {
				return err
			}
		}
	}
	r.Proof.RandomnessResponses = Randomness{
		Rs:       make([]fr.Element, inputLen),
		Os:       make([]fr.Element, outputLen),
		InputRs:  make([]fr.Element, inputLen),
		OutputRs: make([]fr.Element, outputLen),
	}
	for _, list := range [][]fr.Element{
		r.Proof.RandomnessResponses.Rs,
		r.Proof.RandomnessResponses.Os,
		r.Proof.RandomnessResponses.InputRs,
		r.Proof.RandomnessResponses.OutputRs,
	} {
		for i := range list {
			if err := d.scalar(&list[i]); err != nil {
				return err
			}
		}
	}
	if err := d.scalar(&r.Proof.ZeroSumResponse); err != nil {
		return err
	}

	r.RangeProofs = make([]rangeproof.Proof, outputLen)
	for i := 0; i < outputLen; i++ {
		n, err := d.length()
		if err != nil {
			return err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(d.r, raw); err != nil {
			return fmt.Errorf("read range proof: %w", err)
		}
		if err := r.RangeProofs[i].UnmarshalBinary(raw); err != nil {
			return err
		}
	}
	return d.finish()
}
