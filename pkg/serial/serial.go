// Copyright 2026 Scalaris Ledger
//
// Canonical binary encoding primitives.
//
// The wire format is normative: canonical bytes are hashed and signed, so
// encoding must be deterministic in both directions. Discriminators and
// lengths are unsigned LEB128 varints; fixed-size integers are big-endian;
// byte strings are length-prefixed.

package serial

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scalaris-ledger/scalaris/pkg/base"
)

// MaxCollectionLen bounds decoded collection lengths so a malformed frame
// cannot trigger huge allocations.
const MaxCollectionLen = 1 << 20

// Writer accumulates a canonical encoding.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) U8(v byte) {
	w.buf.WriteByte(v)
}

func (w *Writer) U32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf.Write(tmp[:])
}

func (w *Writer) U64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf.Write(tmp[:])
}

// Uvarint writes an unsigned LEB128 varint (discriminators and lengths).
func (w *Writer) Uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// Bytes32 writes a fixed 32-byte array.
func (w *Writer) Bytes32(v [32]byte) {
	w.buf.Write(v[:])
}

// Bytes64 writes a fixed 64-byte array.
func (w *Writer) Bytes64(v [64]byte) {
	w.buf.Write(v[:])
}

// VarBytes writes a length-prefixed byte string.
func (w *Writer) VarBytes(v []byte) {
	w.Uvarint(uint64(len(v)))
	w.buf.Write(v)
}

// Raw appends bytes without a length prefix.
func (w *Writer) Raw(v []byte) {
	w.buf.Write(v)
}

func (w *Writer) Amount(a base.Amount) {
	w.U64(uint64(a))
}

func (w *Writer) Sequence(s base.SequenceNumber) {
	w.U64(uint64(s))
}

func (w *Writer) Balance(b base.Balance) {
	raw := b.Bytes16()
	w.buf.Write(raw[:])
}

func (w *Writer) AccountID(id base.AccountID) {
	w.Uvarint(uint64(len(id)))
	for _, n := range id {
		w.U64(uint64(n))
	}
}

func (w *Writer) CoinSeed(s base.CoinSeed) {
	w.buf.Write(s[:])
}

func (w *Writer) HashValue(h base.HashValue) {
	w.buf.Write(h[:])
}

// Reader decodes a canonical encoding. The first error sticks; callers
// check Err once after reading.
type Reader struct {
	r   *bytes.Reader
	err error
}

// NewReader wraps a byte slice.
func NewReader(data []byte) *Reader {
	return &Reader{r: bytes.NewReader(data)}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error {
	return r.err
}

// SetErr forces the reader into an error state (used by higher layers when
// a tag or variant is invalid).
func (r *Reader) SetErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

// ExpectEOF records an error if trailing bytes remain.
func (r *Reader) ExpectEOF() error {
	if r.err == nil && r.r.Len() != 0 {
		r.err = fmt.Errorf("%w: %d trailing bytes", base.NewError(base.CodeInvalidDecoding), r.r.Len())
	}
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("%w: truncated input", base.NewError(base.CodeInvalidDecoding))
		}
		r.err = err
	}
}

func (r *Reader) U8() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return 0
	}
	return b
}

func (r *Reader) U32() uint32 {
	var tmp [4]byte
	r.read(tmp[:])
	return binary.BigEndian.Uint32(tmp[:])
}

func (r *Reader) U64() uint64 {
	var tmp [8]byte
	r.read(tmp[:])
	return binary.BigEndian.Uint64(tmp[:])
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	return v
}

// Len reads a collection length and bounds it.
func (r *Reader) Len() int {
	v := r.Uvarint()
	if v > MaxCollectionLen {
		r.fail(fmt.Errorf("%w: collection length %d", base.NewError(base.CodeInvalidDecoding), v))
		return 0
	}
	return int(v)
}

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("%w: invalid bool", base.NewError(base.CodeInvalidDecoding)))
		return false
	}
}

func (r *Reader) read(dst []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, dst); err != nil {
		r.fail(err)
	}
}

func (r *Reader) Bytes32() [32]byte {
	var out [32]byte
	r.read(out[:])
	return out
}

func (r *Reader) Bytes64() [64]byte {
	var out [64]byte
	r.read(out[:])
	return out
}

func (r *Reader) VarBytes() []byte {
	n := r.Len()
	if r.err != nil {
		return nil
	}
	out := make([]byte, n)
	r.read(out)
	return out
}

func (r *Reader) Amount() base.Amount {
	return base.Amount(r.U64())
}

func (r *Reader) Sequence() base.SequenceNumber {
	return base.SequenceNumber(r.U64())
}

func (r *Reader) Balance() base.Balance {
	var raw [16]byte
	r.read(raw[:])
	return base.BalanceFromBytes16(raw)
}

func (r *Reader) AccountID() base.AccountID {
	n := r.Len()
	if r.err != nil {
		return nil
	}
	if n == 0 {
		r.fail(fmt.Errorf("%w: empty account id", base.NewError(base.CodeInvalidDecoding)))
		return nil
	}
	id := make(base.AccountID, n)
	for i := range id {
		id[i] = base.SequenceNumber(r.U64())
	}
	return id
}

func (r *Reader) CoinSeed() base.CoinSeed {
	var out base.CoinSeed
	r.read(out[:])
	return out
}

func (r *Reader) HashValue() base.HashValue {
	var out base.HashValue
	r.read(out[:])
	return out
}
