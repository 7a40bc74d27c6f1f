// Copyright 2026 Scalaris Ledger
//
// Base value types shared by every layer of the sidechain: checked amounts
// and balances, sequence numbers, account identifiers and coin seeds.

package base

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Amount is an unsigned quantity of value. All arithmetic is checked.
type Amount uint64

// SequenceNumber tracks requests issued by an account. Values above
// MaxSequenceNumber are never usable for requests.
type SequenceNumber uint64

// MaxSequenceNumber is the highest sequence number usable in a request.
const MaxSequenceNumber SequenceNumber = 0x7fff_ffff_ffff_ffff

// ShardID identifies one shard of an authority.
type ShardID uint32

// VersionNumber aliases SequenceNumber for primary-chain transaction indices.
type VersionNumber = SequenceNumber

// AccountID is a non-empty sequence of sequence numbers. Child accounts are
// derived by appending the sequence number at which the parent created them,
// so account ids form a creation tree.
type AccountID []SequenceNumber

// CoinSeed is a 128-bit seed distinguishing coins minted from one account.
type CoinSeed [16]byte

// UserData is an optional 32-byte opaque payload attached to transfers.
type UserData []byte

// HashValue is a SHA-512 digest over the canonical signing bytes of a value.
type HashValue [64]byte

func (a Amount) TryAdd(other Amount) (Amount, error) {
	sum := a + other
	if sum < a {
		return 0, NewError(CodeAmountOverflow)
	}
	return sum, nil
}

func (a Amount) TrySub(other Amount) (Amount, error) {
	if other > a {
		return 0, NewError(CodeAmountUnderflow)
	}
	return a - other, nil
}

func (s SequenceNumber) TryAdd(delta uint64) (SequenceNumber, error) {
	sum := uint64(s) + delta
	if sum < uint64(s) {
		return 0, NewError(CodeSequenceOverflow)
	}
	return SequenceNumber(sum), nil
}

func (s SequenceNumber) TrySub(delta uint64) (SequenceNumber, error) {
	if delta > uint64(s) {
		return 0, NewError(CodeSequenceUnderflow)
	}
	return SequenceNumber(uint64(s) - delta), nil
}

// NewAccountID builds an account id. Ids must be non-empty.
func NewAccountID(numbers ...SequenceNumber) AccountID {
	if len(numbers) == 0 {
		panic("account ids must be non-empty")
	}
	id := make(AccountID, len(numbers))
	copy(id, numbers)
	return id
}

// MakeChild derives the id of the account created at the given sequence
// number of the parent.
func (id AccountID) MakeChild(num SequenceNumber) AccountID {
	child := make(AccountID, len(id)+1)
	copy(child, id)
	child[len(id)] = num
	return child
}

// Parent returns the parent id, or nil for a root account.
func (id AccountID) Parent() AccountID {
	if len(id) <= 1 {
		return nil
	}
	parent := make(AccountID, len(id)-1)
	copy(parent, id)
	return parent
}

// CreationNumber is the sequence number at which this account was created
// within its parent (the last component of the id).
func (id AccountID) CreationNumber() SequenceNumber {
	return id[len(id)-1]
}

func (id AccountID) Equal(other AccountID) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// Bytes returns the canonical encoding of the id: a big-endian length
// followed by big-endian components. Suitable as a map key and as the input
// of the shard hash.
func (id AccountID) Bytes() []byte {
	buf := make([]byte, 8*(len(id)+1))
	binary.BigEndian.PutUint64(buf, uint64(len(id)))
	for i, n := range id {
		binary.BigEndian.PutUint64(buf[8*(i+1):], uint64(n))
	}
	return buf
}

// Key returns the id encoded as a string, usable as a map key.
func (id AccountID) Key() string {
	return string(id.Bytes())
}

// Clone returns a copy that does not alias the receiver.
func (id AccountID) Clone() AccountID {
	out := make(AccountID, len(id))
	copy(out, id)
	return out
}

func (id AccountID) String() string {
	parts := make([]string, len(id))
	for i, n := range id {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, "/")
}

// ParseAccountID parses the String form ("5/0/3").
func ParseAccountID(s string) (AccountID, error) {
	parts := strings.Split(s, "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty account id")
	}
	id := make(AccountID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse account id component %q: %w", p, err)
		}
		id[i] = SequenceNumber(n)
	}
	return id, nil
}

func (id AccountID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAccountID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewCoinSeed returns a fresh random 128-bit seed.
func NewCoinSeed() CoinSeed {
	return CoinSeed(uuid.New())
}

func (s CoinSeed) String() string {
	return hex.EncodeToString(s[:])
}

func (s CoinSeed) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *CoinSeed) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	raw, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	if len(raw) != len(s) {
		return fmt.Errorf("invalid coin seed length: got %d, want %d", len(raw), len(s))
	}
	copy(s[:], raw)
	return nil
}

// Validate checks that user data is either absent or exactly 32 bytes.
func (d UserData) Validate() error {
	if len(d) != 0 && len(d) != 32 {
		return fmt.Errorf("user data must be empty or 32 bytes, got %d", len(d))
	}
	return nil
}

func (h HashValue) Equal(other HashValue) bool {
	return h == other
}

func (h HashValue) String() string {
	return hex.EncodeToString(h[:8])
}

// Balance is a signed 128-bit quantity. It tolerates intermediate negative
// values on the sender side before a spend is rejected, and saturates at
// MaxBalance on the recipient side.
type Balance struct {
	v *big.Int
}

var (
	balanceMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	balanceMin = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// ZeroBalance returns the zero balance.
func ZeroBalance() Balance {
	return Balance{}
}

// MaxBalance returns the largest representable balance.
func MaxBalance() Balance {
	return Balance{v: new(big.Int).Set(balanceMax)}
}

// BalanceFromAmount converts an amount into a balance (always in range).
func BalanceFromAmount(a Amount) Balance {
	return Balance{v: new(big.Int).SetUint64(uint64(a))}
}

// BalanceFromInt64 builds a balance from a machine integer.
func BalanceFromInt64(v int64) Balance {
	return Balance{v: big.NewInt(v)}
}

func (b Balance) bigInt() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return b.v
}

func checkedBalance(v *big.Int, overflow, underflow ErrorCode) (Balance, error) {
	if v.Cmp(balanceMax) > 0 {
		return Balance{}, NewError(overflow)
	}
	if v.Cmp(balanceMin) < 0 {
		return Balance{}, NewError(underflow)
	}
	return Balance{v: v}, nil
}

func (b Balance) TryAdd(other Balance) (Balance, error) {
	sum := new(big.Int).Add(b.bigInt(), other.bigInt())
	return checkedBalance(sum, CodeBalanceOverflow, CodeBalanceUnderflow)
}

func (b Balance) TrySub(other Balance) (Balance, error) {
	diff := new(big.Int).Sub(b.bigInt(), other.bigInt())
	return checkedBalance(diff, CodeBalanceOverflow, CodeBalanceUnderflow)
}

// SaturatingAdd credits the balance, clamping at MaxBalance. Recipient-side
// credits never fail.
func (b Balance) SaturatingAdd(other Balance) Balance {
	sum, err := b.TryAdd(other)
	if err != nil {
		return MaxBalance()
	}
	return sum
}

// Cmp compares balances: -1, 0 or +1.
func (b Balance) Cmp(other Balance) int {
	return b.bigInt().Cmp(other.bigInt())
}

// GTE reports whether b >= other.
func (b Balance) GTE(other Balance) bool {
	return b.Cmp(other) >= 0
}

// ToAmount converts a balance back into an amount, rejecting negative or
// oversized values.
func (b Balance) ToAmount() (Amount, error) {
	v := b.bigInt()
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, NewError(CodeAmountUnderflow)
	}
	return Amount(v.Uint64()), nil
}

// Bytes16 returns the 16-byte big-endian two's complement encoding.
func (b Balance) Bytes16() [16]byte {
	var out [16]byte
	v := new(big.Int).Set(b.bigInt())
	if v.Sign() < 0 {
		// Two's complement: v + 2^128.
		v.Add(v, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	v.FillBytes(out[:])
	return out
}

// BalanceFromBytes16 decodes the Bytes16 encoding.
func BalanceFromBytes16(raw [16]byte) Balance {
	v := new(big.Int).SetBytes(raw[:])
	if raw[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return Balance{v: v}
}

func (b Balance) String() string {
	return b.bigInt().String()
}

// ParseBalance parses a decimal balance string.
func ParseBalance(s string) (Balance, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Balance{}, fmt.Errorf("invalid balance %q", s)
	}
	return checkedBalance(v, CodeBalanceOverflow, CodeBalanceUnderflow)
}

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept plain JSON numbers for small balances in hand-written
		// configuration files.
		var n int64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return err
		}
		*b = BalanceFromInt64(n)
		return nil
	}
	parsed, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MaxAmount is the largest representable amount.
const MaxAmount Amount = math.MaxUint64
