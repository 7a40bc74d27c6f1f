// Copyright 2026 Scalaris Ledger
//
// Votes, certificates and signature aggregation.

package messages

import (
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

// Vote is one authority's signature over a value.
type Vote struct {
	Value     Value
	Authority keys.PublicKeyBytes
	Signature keys.Signature
}

// NewVote signs a value with the authority's key.
func NewVote(value Value, kp *keys.KeyPair) Vote {
	return Vote{
		Value:     value,
		Authority: kp.Public(),
		Signature: kp.Sign(&value),
	}
}

// Check verifies the vote and returns the non-zero voting weight of its
// authority.
func (v *Vote) Check(c *committee.Committee) (int, error) {
	weight := c.Weight(v.Authority)
	if weight == 0 {
		return 0, base.NewError(base.CodeUnknownSigner)
	}
	if err := v.Signature.Check(&v.Value, v.Authority); err != nil {
		return 0, err
	}
	return weight, nil
}

// AuthoritySignature pairs an authority with its signature inside a
// certificate.
type AuthoritySignature struct {
	Authority keys.PublicKeyBytes
	Signature keys.Signature
}

// Certificate is a quorum of votes on the same value. Certificates are
// immutable once produced and freely copyable proof.
type Certificate struct {
	Value      Value
	Signatures []AuthoritySignature
}

// Check verifies the certificate: distinct known authors whose total weight
// reaches the quorum threshold, and every signature valid over the value.
func (c *Certificate) Check(cmt *committee.Committee) error {
	weight := 0
	used := make(map[keys.PublicKeyBytes]bool, len(c.Signatures))
	for _, sig := range c.Signatures {
		if used[sig.Authority] {
			return base.NewError(base.CodeCertificateAuthorityReuse)
		}
		used[sig.Authority] = true
		votes := cmt.Weight(sig.Authority)
		if votes == 0 {
			return base.NewError(base.CodeUnknownSigner)
		}
		weight += votes
	}
	if weight < cmt.QuorumThreshold() {
		return base.NewError(base.CodeCertificateRequiresQuorum)
	}
	batch := make([]struct {
		Author    keys.PublicKeyBytes
		Signature keys.Signature
	}, len(c.Signatures))
	for i, sig := range c.Signatures {
		batch[i].Author = sig.Authority
		batch[i].Signature = sig.Signature
	}
	return keys.VerifyBatch(&c.Value, batch)
}

// SignatureAggregator collects votes on one value into a certificate.
// Signatures inside the partial certificate are append-only.
type SignatureAggregator struct {
	committee *committee.Committee
	weight    int
	used      map[keys.PublicKeyBytes]bool
	partial   Certificate
}

// NewSignatureAggregator starts aggregating signatures for the value.
func NewSignatureAggregator(value Value, cmt *committee.Committee) *SignatureAggregator {
	return &SignatureAggregator{
		committee: cmt,
		used:      make(map[keys.PublicKeyBytes]bool),
		partial:   Certificate{Value: value},
	}
}

// Append adds one signature. It returns the finished certificate once the
// quorum threshold is reached, nil before that, and an error if the
// signature cannot be aggregated. A returned certificate is guaranteed to
// pass Check.
func (a *SignatureAggregator) Append(authority keys.PublicKeyBytes, signature keys.Signature) (*Certificate, error) {
	if err := signature.Check(&a.partial.Value, authority); err != nil {
		return nil, err
	}
	if a.used[authority] {
		return nil, base.NewError(base.CodeCertificateAuthorityReuse)
	}
	a.used[authority] = true
	votes := a.committee.Weight(authority)
	if votes == 0 {
		return nil, base.NewError(base.CodeUnknownSigner)
	}
	a.weight += votes
	a.partial.Signatures = append(a.partial.Signatures, AuthoritySignature{
		Authority: authority,
		Signature: signature,
	})
	if a.weight >= a.committee.QuorumThreshold() {
		done := a.partial
		done.Signatures = append([]AuthoritySignature(nil), a.partial.Signatures...)
		return &done, nil
	}
	return nil, nil
}
