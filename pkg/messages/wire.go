// Copyright 2026 Scalaris Ledger
//
// Canonical wire encoding of the message model and the tagged envelope.
//
// The encoding is normative: signing bytes and description hashes are
// computed over it, and every authority must produce identical bytes for
// identical values. Coconut objects travel as opaque length-prefixed blobs
// with their own serialization.

package messages

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/serial"
)

// Envelope tags.
const (
	tagRequestOrder uint64 = iota + 1
	tagConfirmationOrder
	tagCoinCreationOrder
	tagInfoQuery
	tagVote
	tagVotes
	tagInfoResponse
	tagError
	tagCrossShardRequest
	tagCoinCreationResponse
	tagPrimarySynchronizationOrder
)

// Operation tags.
const (
	opTagTransfer uint64 = iota + 1
	opTagOpenAccount
	opTagCloseAccount
	opTagChangeOwner
	opTagSpend
	opTagSpendAndTransfer
)

func signingBytes(typeName string, body []byte) []byte {
	out := make([]byte, 0, len(typeName)+2+len(body))
	out = append(out, typeName...)
	out = append(out, ':', ':')
	return append(out, body...)
}

// --- primitives ---

func writePublicKey(w *serial.Writer, pk keys.PublicKeyBytes) {
	w.Bytes32(pk)
}

func readPublicKey(r *serial.Reader) keys.PublicKeyBytes {
	return keys.PublicKeyBytes(r.Bytes32())
}

func writeSignature(w *serial.Writer, sig keys.Signature) {
	w.Bytes64(sig)
}

func readSignature(r *serial.Reader) keys.Signature {
	return keys.Signature(r.Bytes64())
}

func writeOptionalPublicKey(w *serial.Writer, pk *keys.PublicKeyBytes) {
	if pk == nil {
		w.Bool(false)
		return
	}
	w.Bool(true)
	writePublicKey(w, *pk)
}

func readOptionalPublicKey(r *serial.Reader) *keys.PublicKeyBytes {
	if !r.Bool() {
		return nil
	}
	pk := readPublicKey(r)
	return &pk
}

func writeAddress(w *serial.Writer, a *Address) {
	w.Uvarint(uint64(a.Kind))
	switch a.Kind {
	case AddressPrimary:
		w.Raw(a.Primary[:])
	case AddressAccount:
		w.AccountID(a.Account)
	}
}

func readAddress(r *serial.Reader) Address {
	var a Address
	a.Kind = AddressKind(r.Uvarint())
	switch a.Kind {
	case AddressPrimary:
		raw := make([]byte, common.AddressLength)
		for i := range raw {
			raw[i] = r.U8()
		}
		a.Primary = common.BytesToAddress(raw)
	case AddressAccount:
		a.Account = r.AccountID()
	default:
		decodeFail(r, "address kind")
	}
	return a
}

func decodeFail(r *serial.Reader, what string) {
	// Force the reader into the error state with a typed decode error.
	if r.Err() == nil {
		r.SetErr(fmt.Errorf("%w: %s", base.NewError(base.CodeInvalidDecoding), what))
	}
}

// --- operations and requests ---

func writeOperation(w *serial.Writer, op Operation) {
	switch o := op.(type) {
	case Transfer:
		w.Uvarint(opTagTransfer)
		writeAddress(w, &o.Recipient)
		w.Amount(o.Amount)
		w.VarBytes(o.UserData)
	case OpenAccount:
		w.Uvarint(opTagOpenAccount)
		w.AccountID(o.NewID)
		writePublicKey(w, o.NewOwner)
	case CloseAccount:
		w.Uvarint(opTagCloseAccount)
	case ChangeOwner:
		w.Uvarint(opTagChangeOwner)
		writePublicKey(w, o.NewOwner)
	case Spend:
		w.Uvarint(opTagSpend)
		w.Amount(o.AccountBalance)
		w.HashValue(o.DescriptionHash)
	case SpendAndTransfer:
		w.Uvarint(opTagSpendAndTransfer)
		writeAddress(w, &o.Recipient)
		w.Amount(o.Amount)
		w.VarBytes(o.UserData)
	default:
		panic(fmt.Sprintf("unknown operation %T", op))
	}
}

func readOperation(r *serial.Reader) Operation {
	switch tag := r.Uvarint(); tag {
	case opTagTransfer:
		return Transfer{
			Recipient: readAddress(r),
			Amount:    r.Amount(),
			UserData:  base.UserData(r.VarBytes()),
		}
	case opTagOpenAccount:
		return OpenAccount{
			NewID:    r.AccountID(),
			NewOwner: readPublicKey(r),
		}
	case opTagCloseAccount:
		return CloseAccount{}
	case opTagChangeOwner:
		return ChangeOwner{NewOwner: readPublicKey(r)}
	case opTagSpend:
		return Spend{
			AccountBalance:  r.Amount(),
			DescriptionHash: r.HashValue(),
		}
	case opTagSpendAndTransfer:
		return SpendAndTransfer{
			Recipient: readAddress(r),
			Amount:    r.Amount(),
			UserData:  base.UserData(r.VarBytes()),
		}
	default:
		decodeFail(r, "operation tag")
		return nil
	}
}

func writeRequest(w *serial.Writer, req *Request) {
	w.AccountID(req.AccountID)
	writeOperation(w, req.Operation)
	w.Sequence(req.SequenceNumber)
}

func readRequest(r *serial.Reader) Request {
	return Request{
		AccountID:      r.AccountID(),
		Operation:      readOperation(r),
		SequenceNumber: r.Sequence(),
	}
}

func encodeRequest(req *Request) []byte {
	w := serial.NewWriter()
	writeRequest(w, req)
	return w.Bytes()
}

func encodeRequestValue(v *RequestValue) []byte {
	w := serial.NewWriter()
	writeRequestValue(w, v)
	return w.Bytes()
}

func writeRequestValue(w *serial.Writer, v *RequestValue) {
	writeRequest(w, &v.Request)
	writeOptionalPublicKey(w, v.LimitedTo)
}

func readRequestValue(r *serial.Reader) RequestValue {
	return RequestValue{
		Request:   readRequest(r),
		LimitedTo: readOptionalPublicKey(r),
	}
}

func writeTransparentCoin(w *serial.Writer, c *TransparentCoin) {
	w.AccountID(c.AccountID)
	w.Amount(c.Amount)
	w.CoinSeed(c.Seed)
}

func readTransparentCoin(r *serial.Reader) TransparentCoin {
	return TransparentCoin{
		AccountID: r.AccountID(),
		Amount:    r.Amount(),
		Seed:      r.CoinSeed(),
	}
}

func encodeValue(v *Value) []byte {
	w := serial.NewWriter()
	writeValue(w, v)
	return w.Bytes()
}

func writeValue(w *serial.Writer, v *Value) {
	w.Uvarint(uint64(v.Kind))
	switch v.Kind {
	case ValueLock, ValueConfirm:
		writeRequest(w, v.Request)
	case ValueCoin:
		writeTransparentCoin(w, v.Coin)
	default:
		panic(fmt.Sprintf("unknown value kind %d", v.Kind))
	}
}

func readValue(r *serial.Reader) Value {
	var v Value
	v.Kind = ValueKind(r.Uvarint())
	switch v.Kind {
	case ValueLock, ValueConfirm:
		req := readRequest(r)
		v.Request = &req
	case ValueCoin:
		coin := readTransparentCoin(r)
		v.Coin = &coin
	default:
		decodeFail(r, "value kind")
	}
	return v
}

func encodeCoconutKey(k *coconutKey) []byte {
	w := serial.NewWriter()
	w.AccountID(k.AccountID)
	w.CoinSeed(k.PublicSeed)
	return w.Bytes()
}

// --- votes, certificates, assets ---

func writeVote(w *serial.Writer, v *Vote) {
	writeValue(w, &v.Value)
	writePublicKey(w, v.Authority)
	writeSignature(w, v.Signature)
}

func readVote(r *serial.Reader) Vote {
	return Vote{
		Value:     readValue(r),
		Authority: readPublicKey(r),
		Signature: readSignature(r),
	}
}

func writeOptionalVote(w *serial.Writer, v *Vote) {
	if v == nil {
		w.Bool(false)
		return
	}
	w.Bool(true)
	writeVote(w, v)
}

func readOptionalVote(r *serial.Reader) *Vote {
	if !r.Bool() {
		return nil
	}
	v := readVote(r)
	return &v
}

func writeCertificate(w *serial.Writer, c *Certificate) {
	writeValue(w, &c.Value)
	w.Uvarint(uint64(len(c.Signatures)))
	for i := range c.Signatures {
		writePublicKey(w, c.Signatures[i].Authority)
		writeSignature(w, c.Signatures[i].Signature)
	}
}

func readCertificate(r *serial.Reader) Certificate {
	c := Certificate{Value: readValue(r)}
	n := r.Len()
	if r.Err() != nil {
		return c
	}
	c.Signatures = make([]AuthoritySignature, n)
	for i := range c.Signatures {
		c.Signatures[i].Authority = readPublicKey(r)
		c.Signatures[i].Signature = readSignature(r)
	}
	return c
}

func writeOptionalCertificate(w *serial.Writer, c *Certificate) {
	if c == nil {
		w.Bool(false)
		return
	}
	w.Bool(true)
	writeCertificate(w, c)
}

func readOptionalCertificate(r *serial.Reader) *Certificate {
	if !r.Bool() {
		return nil
	}
	c := readCertificate(r)
	return &c
}

const (
	assetTagTransparent uint64 = iota + 1
	assetTagOpaque
)

func writeAsset(w *serial.Writer, a *Asset) {
	switch {
	case a.TransparentCertificate != nil:
		w.Uvarint(assetTagTransparent)
		writeCertificate(w, a.TransparentCertificate)
	case a.Opaque != nil && a.Credential != nil:
		w.Uvarint(assetTagOpaque)
		w.AccountID(a.Opaque.AccountID)
		w.CoinSeed(a.Opaque.PublicSeed)
		w.CoinSeed(a.Opaque.PrivateSeed)
		w.Amount(a.Opaque.Amount)
		writeOpaqueBlob(w, a.Credential)
	default:
		panic("asset has neither certificate nor credential")
	}
}

func readAsset(r *serial.Reader) Asset {
	switch tag := r.Uvarint(); tag {
	case assetTagTransparent:
		c := readCertificate(r)
		return Asset{TransparentCertificate: &c}
	case assetTagOpaque:
		coin := OpaqueCoin{
			AccountID:   r.AccountID(),
			PublicSeed:  r.CoinSeed(),
			PrivateSeed: r.CoinSeed(),
			Amount:      r.Amount(),
		}
		var credential coconut.Credential
		readOpaqueBlob(r, &credential)
		return Asset{Opaque: &coin, Credential: &credential}
	default:
		decodeFail(r, "asset tag")
		return Asset{}
	}
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

type binaryUnmarshaler interface {
	UnmarshalBinary([]byte) error
}

func writeOpaqueBlob(w *serial.Writer, m binaryMarshaler) {
	raw, err := m.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("marshal opaque object: %v", err))
	}
	w.VarBytes(raw)
}

func readOpaqueBlob(r *serial.Reader, m binaryUnmarshaler) {
	raw := r.VarBytes()
	if r.Err() != nil {
		return
	}
	if err := m.UnmarshalBinary(raw); err != nil {
		decodeFail(r, err.Error())
	}
}

// --- orders ---

func writeRequestOrder(w *serial.Writer, o *RequestOrder) {
	writeRequestValue(w, &o.Value)
	writePublicKey(w, o.Owner)
	writeSignature(w, o.Signature)
	w.Uvarint(uint64(len(o.Assets)))
	for i := range o.Assets {
		writeAsset(w, &o.Assets[i])
	}
}

func readRequestOrder(r *serial.Reader) *RequestOrder {
	o := &RequestOrder{
		Value:     readRequestValue(r),
		Owner:     readPublicKey(r),
		Signature: readSignature(r),
	}
	n := r.Len()
	if r.Err() != nil {
		return o
	}
	o.Assets = make([]Asset, n)
	for i := range o.Assets {
		o.Assets[i] = readAsset(r)
	}
	return o
}

func writeCoinCreationSource(w *serial.Writer, s *CoinCreationSource) {
	w.AccountID(s.AccountID)
	w.Amount(s.AccountBalance)
	w.Uvarint(uint64(len(s.TransparentCoins)))
	for i := range s.TransparentCoins {
		writeCertificate(w, &s.TransparentCoins[i])
	}
	w.Uvarint(uint64(len(s.OpaqueCoinPublicSeeds)))
	for i := range s.OpaqueCoinPublicSeeds {
		w.CoinSeed(s.OpaqueCoinPublicSeeds[i])
	}
}

func readCoinCreationSource(r *serial.Reader) CoinCreationSource {
	s := CoinCreationSource{
		AccountID:      r.AccountID(),
		AccountBalance: r.Amount(),
	}
	n := r.Len()
	if r.Err() != nil {
		return s
	}
	s.TransparentCoins = make([]Certificate, n)
	for i := range s.TransparentCoins {
		s.TransparentCoins[i] = readCertificate(r)
	}
	n = r.Len()
	if r.Err() != nil {
		return s
	}
	s.OpaqueCoinPublicSeeds = make([]base.CoinSeed, n)
	for i := range s.OpaqueCoinPublicSeeds {
		s.OpaqueCoinPublicSeeds[i] = r.CoinSeed()
	}
	return s
}

func encodeCoinCreationDescription(d *CoinCreationDescription) []byte {
	w := serial.NewWriter()
	writeCoinCreationDescription(w, d)
	return w.Bytes()
}

func writeCoinCreationDescription(w *serial.Writer, d *CoinCreationDescription) {
	w.Uvarint(uint64(len(d.Sources)))
	for i := range d.Sources {
		writeCoinCreationSource(w, &d.Sources[i])
	}
	w.Uvarint(uint64(len(d.Targets)))
	for i := range d.Targets {
		writeTransparentCoin(w, &d.Targets[i])
	}
	if d.CoconutRequest == nil {
		w.Bool(false)
	} else {
		w.Bool(true)
		writeOpaqueBlob(w, d.CoconutRequest)
	}
}

func readCoinCreationDescription(r *serial.Reader) CoinCreationDescription {
	var d CoinCreationDescription
	n := r.Len()
	if r.Err() != nil {
		return d
	}
	d.Sources = make([]CoinCreationSource, n)
	for i := range d.Sources {
		d.Sources[i] = readCoinCreationSource(r)
	}
	n = r.Len()
	if r.Err() != nil {
		return d
	}
	d.Targets = make([]TransparentCoin, n)
	for i := range d.Targets {
		d.Targets[i] = readTransparentCoin(r)
	}
	if r.Bool() {
		var req coconut.CoinsRequest
		readOpaqueBlob(r, &req)
		d.CoconutRequest = &req
	}
	return d
}

func writeCoinCreationOrder(w *serial.Writer, o *CoinCreationOrder) {
	writeCoinCreationDescription(w, &o.Description)
	w.Uvarint(uint64(len(o.Locks)))
	for i := range o.Locks {
		writeCertificate(w, &o.Locks[i])
	}
}

func readCoinCreationOrder(r *serial.Reader) *CoinCreationOrder {
	o := &CoinCreationOrder{Description: readCoinCreationDescription(r)}
	n := r.Len()
	if r.Err() != nil {
		return o
	}
	o.Locks = make([]Certificate, n)
	for i := range o.Locks {
		o.Locks[i] = readCertificate(r)
	}
	return o
}

func writeCoinCreationResponse(w *serial.Writer, resp *CoinCreationResponse) {
	w.Uvarint(uint64(len(resp.Votes)))
	for i := range resp.Votes {
		writeVote(w, &resp.Votes[i])
	}
	if resp.BlindedCoins == nil {
		w.Bool(false)
	} else {
		w.Bool(true)
		writeOpaqueBlob(w, resp.BlindedCoins)
	}
}

func readCoinCreationResponse(r *serial.Reader) *CoinCreationResponse {
	resp := &CoinCreationResponse{}
	n := r.Len()
	if r.Err() != nil {
		return resp
	}
	resp.Votes = make([]Vote, n)
	for i := range resp.Votes {
		resp.Votes[i] = readVote(r)
	}
	if r.Bool() {
		var blinded coconut.BlindedCredentials
		readOpaqueBlob(r, &blinded)
		resp.BlindedCoins = &blinded
	}
	return resp
}

// --- queries, responses, cross-shard ---

func writeInfoQuery(w *serial.Writer, q *AccountInfoQuery) {
	w.AccountID(q.AccountID)
	if q.QuerySequenceNumber == nil {
		w.Bool(false)
	} else {
		w.Bool(true)
		w.Sequence(*q.QuerySequenceNumber)
	}
	if q.QueryReceivedCertificatesExcludingFirstNth == nil {
		w.Bool(false)
	} else {
		w.Bool(true)
		w.U64(uint64(*q.QueryReceivedCertificatesExcludingFirstNth))
	}
}

func readInfoQuery(r *serial.Reader) *AccountInfoQuery {
	q := &AccountInfoQuery{AccountID: r.AccountID()}
	if r.Bool() {
		seq := r.Sequence()
		q.QuerySequenceNumber = &seq
	}
	if r.Bool() {
		n := int(r.U64())
		q.QueryReceivedCertificatesExcludingFirstNth = &n
	}
	return q
}

func writeInfoResponse(w *serial.Writer, resp *AccountInfoResponse) {
	w.AccountID(resp.AccountID)
	writeOptionalPublicKey(w, resp.Owner)
	w.Balance(resp.Balance)
	w.Sequence(resp.NextSequenceNumber)
	writeOptionalVote(w, resp.Pending)
	w.U64(uint64(resp.CountReceivedCertificates))
	writeOptionalCertificate(w, resp.QueriedCertificate)
	w.Uvarint(uint64(len(resp.QueriedReceivedCertificates)))
	for i := range resp.QueriedReceivedCertificates {
		writeCertificate(w, &resp.QueriedReceivedCertificates[i])
	}
}

func readInfoResponse(r *serial.Reader) *AccountInfoResponse {
	resp := &AccountInfoResponse{
		AccountID:          r.AccountID(),
		Owner:              readOptionalPublicKey(r),
		Balance:            r.Balance(),
		NextSequenceNumber: r.Sequence(),
	}
	resp.Pending = readOptionalVote(r)
	resp.CountReceivedCertificates = int(r.U64())
	resp.QueriedCertificate = readOptionalCertificate(r)
	n := r.Len()
	if r.Err() != nil {
		return resp
	}
	resp.QueriedReceivedCertificates = make([]Certificate, n)
	for i := range resp.QueriedReceivedCertificates {
		resp.QueriedReceivedCertificates[i] = readCertificate(r)
	}
	return resp
}

func writeCrossShardRequest(w *serial.Writer, req *CrossShardRequest) {
	w.Uvarint(uint64(req.Kind))
	switch req.Kind {
	case CrossShardUpdateRecipient:
		writeCertificate(w, req.Certificate)
	case CrossShardDestroyAccount:
		w.AccountID(req.AccountID)
	default:
		panic(fmt.Sprintf("unknown cross-shard kind %d", req.Kind))
	}
}

func readCrossShardRequest(r *serial.Reader) *CrossShardRequest {
	req := &CrossShardRequest{Kind: CrossShardKind(r.Uvarint())}
	switch req.Kind {
	case CrossShardUpdateRecipient:
		c := readCertificate(r)
		req.Certificate = &c
	case CrossShardDestroyAccount:
		req.AccountID = r.AccountID()
	default:
		decodeFail(r, "cross-shard kind")
	}
	return req
}

func writePrimarySynchronizationOrder(w *serial.Writer, o *PrimarySynchronizationOrder) {
	w.AccountID(o.Recipient)
	w.Amount(o.Amount)
	w.Sequence(o.TransactionIndex)
}

func readPrimarySynchronizationOrder(r *serial.Reader) *PrimarySynchronizationOrder {
	return &PrimarySynchronizationOrder{
		Recipient:        r.AccountID(),
		Amount:           r.Amount(),
		TransactionIndex: r.Sequence(),
	}
}

func writeError(w *serial.Writer, e *base.Error) {
	w.Uvarint(uint64(e.Code))
	w.Uvarint(uint64(len(e.Account)))
	for _, n := range e.Account {
		w.Sequence(n)
	}
	w.Balance(e.Balance)
	w.Sequence(e.Sequence)
	w.VarBytes([]byte(e.Detail))
}

func readError(r *serial.Reader) *base.Error {
	e := &base.Error{Code: base.ErrorCode(r.Uvarint())}
	n := r.Len()
	if r.Err() != nil {
		return e
	}
	if n > 0 {
		e.Account = make(base.AccountID, n)
		for i := range e.Account {
			e.Account[i] = r.Sequence()
		}
	}
	e.Balance = r.Balance()
	e.Sequence = r.Sequence()
	e.Detail = string(r.VarBytes())
	return e
}

// --- envelope ---

// SerializeMessage encodes any protocol message into the tagged envelope.
func SerializeMessage(msg any) ([]byte, error) {
	w := serial.NewWriter()
	switch m := msg.(type) {
	case *RequestOrder:
		w.Uvarint(tagRequestOrder)
		writeRequestOrder(w, m)
	case *ConfirmationOrder:
		w.Uvarint(tagConfirmationOrder)
		writeCertificate(w, &m.Certificate)
	case *CoinCreationOrder:
		w.Uvarint(tagCoinCreationOrder)
		writeCoinCreationOrder(w, m)
	case *AccountInfoQuery:
		w.Uvarint(tagInfoQuery)
		writeInfoQuery(w, m)
	case *Vote:
		w.Uvarint(tagVote)
		writeVote(w, m)
	case []Vote:
		w.Uvarint(tagVotes)
		w.Uvarint(uint64(len(m)))
		for i := range m {
			writeVote(w, &m[i])
		}
	case *AccountInfoResponse:
		w.Uvarint(tagInfoResponse)
		writeInfoResponse(w, m)
	case *base.Error:
		w.Uvarint(tagError)
		writeError(w, m)
	case *CrossShardRequest:
		w.Uvarint(tagCrossShardRequest)
		writeCrossShardRequest(w, m)
	case *CoinCreationResponse:
		w.Uvarint(tagCoinCreationResponse)
		writeCoinCreationResponse(w, m)
	case *PrimarySynchronizationOrder:
		w.Uvarint(tagPrimarySynchronizationOrder)
		writePrimarySynchronizationOrder(w, m)
	default:
		return nil, fmt.Errorf("cannot serialize message type %T", msg)
	}
	return w.Bytes(), nil
}

// DeserializeMessage decodes one envelope. The result is one of
// *RequestOrder, *ConfirmationOrder, *CoinCreationOrder, *AccountInfoQuery,
// *Vote, []Vote, *AccountInfoResponse, *base.Error, *CrossShardRequest,
// *CoinCreationResponse, *PrimarySynchronizationOrder.
func DeserializeMessage(data []byte) (any, error) {
	r := serial.NewReader(data)
	var msg any
	switch tag := r.Uvarint(); tag {
	case tagRequestOrder:
		msg = readRequestOrder(r)
	case tagConfirmationOrder:
		msg = &ConfirmationOrder{Certificate: readCertificate(r)}
	case tagCoinCreationOrder:
		msg = readCoinCreationOrder(r)
	case tagInfoQuery:
		msg = readInfoQuery(r)
	case tagVote:
		v := readVote(r)
		msg = &v
	case tagVotes:
		n := r.Len()
		votes := make([]Vote, n)
		for i := range votes {
			votes[i] = readVote(r)
		}
		msg = votes
	case tagInfoResponse:
		msg = readInfoResponse(r)
	case tagError:
		msg = readError(r)
	case tagCrossShardRequest:
		msg = readCrossShardRequest(r)
	case tagCoinCreationResponse:
		msg = readCoinCreationResponse(r)
	case tagPrimarySynchronizationOrder:
		msg = readPrimarySynchronizationOrder(r)
	default:
		return nil, fmt.Errorf("%w: envelope tag %d", base.NewError(base.CodeInvalidDecoding), tag)
	}
	if err := r.ExpectEOF(); err != nil {
		return nil, err
	}
	return msg, nil
}
