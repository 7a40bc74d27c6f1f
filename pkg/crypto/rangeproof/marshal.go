// Copyright 2026 Scalaris Ledger
//
// Binary serialization of range proofs. Group elements travel compressed;
// scalars big-endian. The envelope layer treats the result as opaque bytes.

package rangeproof

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// MarshalBinary encodes the proof.
func (p *Proof) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(p.BitCommitments)))
	for i := range p.BitCommitments {
		writeG1(&buf, &p.BitCommitments[i])
	}
	for i := range p.A0s {
		writeG1(&buf, &p.A0s[i])
	}
	for i := range p.A1s {
		writeG1(&buf, &p.A1s[i])
	}
	for i := range p.C0s {
		writeFr(&buf, &p.C0s[i])
	}
	for i := range p.C1s {
		writeFr(&buf, &p.C1s[i])
	}
	for i := range p.Z0s {
		writeFr(&buf, &p.Z0s[i])
	}
	for i := range p.Z1s {
		writeFr(&buf, &p.Z1s[i])
	}
	writeG1(&buf, &p.ADelta)
	writeFr(&buf, &p.ZDelta)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a proof produced by MarshalBinary.
func (p *Proof) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("read bit count: %w", err)
	}
	if n == 0 || n > MaxBits {
		return ErrProofShape
	}
	bits := int(n)
	p.BitCommitments = make([]bls12381.G1Affine, bits)
	p.A0s = make([]bls12381.G1Affine, bits)
	p.A1s = make([]bls12381.G1Affine, bits)
	p.C0s = make([]fr.Element, bits)
	p.C1s = make([]fr.Element, bits)
	p.Z0s = make([]fr.Element, bits)
	p.Z1s = make([]fr.Element, bits)
	for i := 0; i < bits; i++ {
		if err := readG1(r, &p.BitCommitments[i]); err != nil {
			return err
		}
	}
	for i := 0; i < bits; i++ {
		if err := readG1(r, &p.A0s[i]); err != nil {
			return err
		}
	}
	for i := 0; i < bits; i++ {
		if err := readG1(r, &p.A1s[i]); err != nil {
			return err
		}
	}
	for _, dst := range [][]fr.Element{p.C0s, p.C1s, p.Z0s, p.Z1s} {
		for i := 0; i < bits; i++ {
			if err := readFr(r, &dst[i]); err != nil {
				return err
			}
		}
	}
	if err := readG1(r, &p.ADelta); err != nil {
		return err
	}
	if err := readFr(r, &p.ZDelta); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("range proof: %d trailing bytes", r.Len())
	}
	return nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeG1(buf *bytes.Buffer, p *bls12381.G1Affine) {
	raw := p.Bytes()
	buf.Write(raw[:])
}

func writeFr(buf *bytes.Buffer, e *fr.Element) {
	raw := e.Bytes()
	buf.Write(raw[:])
}

func readG1(r io.Reader, p *bls12381.G1Affine) error {
	var raw [bls12381.SizeOfG1AffineCompressed]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return fmt.Errorf("read G1 point: %w", err)
	}
	if _, err := p.SetBytes(raw[:]); err != nil {
		return fmt.Errorf("decode G1 point: %w", err)
	}
	return nil
}

func readFr(r io.Reader, e *fr.Element) error {
	var raw [fr.Bytes]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return fmt.Errorf("read scalar: %w", err)
	}
	e.SetBytes(raw[:])
	return nil
}
