// Copyright 2026 Scalaris Ledger
//
// The fixed committee of authorities: voting weights, quorum and validity
// thresholds, and the optional Coconut issuance setup.

package committee

import (
	"errors"
	"fmt"
	"sort"

	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/rangeproof"
)

var ErrEmptyCommittee = errors.New("committee must have at least one authority")

// AuthorityShare is one authority's slot in the threshold issuance group.
type AuthorityShare struct {
	// Index is the Lagrange evaluation point of the authority's key share.
	Index uint64
	// Key is the authority's share verification key.
	Key *coconut.PublicKey
}

// CoconutSetup is the system-wide public issuance material.
type CoconutSetup struct {
	Parameters      *coconut.Parameters
	VerificationKey *coconut.PublicKey
	Authorities     map[keys.PublicKeyBytes]AuthorityShare
	// RangeBits is the bit width of the output range proofs. Deployment
	// parameter, validated at boot.
	RangeBits int
}

// Validate checks the setup for structural consistency.
func (s *CoconutSetup) Validate() error {
	if s.Parameters == nil || s.VerificationKey == nil {
		return errors.New("coconut setup is missing parameters or verification key")
	}
	if s.Parameters.MaxAttributes() < coconut.AttributeCount {
		return fmt.Errorf("coconut parameters support %d attributes, need %d",
			s.Parameters.MaxAttributes(), coconut.AttributeCount)
	}
	if s.RangeBits < 1 || s.RangeBits > rangeproof.MaxBits {
		return fmt.Errorf("range proof bit width %d out of range [1, %d]", s.RangeBits, rangeproof.MaxBits)
	}
	seen := make(map[uint64]bool, len(s.Authorities))
	for name, share := range s.Authorities {
		if share.Key == nil {
			return fmt.Errorf("authority %s has no share key", name)
		}
		if share.Index == 0 {
			return fmt.Errorf("authority %s has lagrange index zero", name)
		}
		if seen[share.Index] {
			return fmt.Errorf("duplicate lagrange index %d", share.Index)
		}
		seen[share.Index] = true
	}
	return nil
}

// Committee is the weighted authority set.
type Committee struct {
	VotingRights map[keys.PublicKeyBytes]int
	TotalVotes   int
	CoconutSetup *CoconutSetup
}

// New builds a committee from voting rights and an optional Coconut setup.
func New(votingRights map[keys.PublicKeyBytes]int, setup *CoconutSetup) (*Committee, error) {
	if len(votingRights) == 0 {
		return nil, ErrEmptyCommittee
	}
	total := 0
	for name, votes := range votingRights {
		if votes <= 0 {
			return nil, fmt.Errorf("authority %s has non-positive weight %d", name, votes)
		}
		total += votes
	}
	if setup != nil {
		if err := setup.Validate(); err != nil {
			return nil, err
		}
	}
	return &Committee{
		VotingRights: votingRights,
		TotalVotes:   total,
		CoconutSetup: setup,
	}, nil
}

// MakeSimple builds a committee where every authority has weight one.
func MakeSimple(names ...keys.PublicKeyBytes) *Committee {
	rights := make(map[keys.PublicKeyBytes]int, len(names))
	for _, name := range names {
		rights[name] = 1
	}
	c, err := New(rights, nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Weight returns the voting weight of an authority, zero if unknown.
func (c *Committee) Weight(author keys.PublicKeyBytes) int {
	return c.VotingRights[author]
}

// QuorumThreshold returns the weight required to certify a value.
// With N = 3f + 1 + k (0 <= k < 3), 2N/3 + 1 = N - f.
func (c *Committee) QuorumThreshold() int {
	return 2*c.TotalVotes/3 + 1
}

// ValidityThreshold returns the weight guaranteeing at least one honest
// authority. With N = 3f + 1 + k, (N + 2) / 3 = f + 1.
func (c *Committee) ValidityThreshold() int {
	return (c.TotalVotes + 2) / 3
}

// Names returns the authority names in deterministic order.
func (c *Committee) Names() []keys.PublicKeyBytes {
	names := make([]keys.PublicKeyBytes, 0, len(c.VotingRights))
	for name := range c.VotingRights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})
	return names
}

// StrongMajorityLowerBound finds the highest value supported by a quorum of
// authorities. Values sort descending by less; the fallback is returned when
// no quorum forms.
func StrongMajorityLowerBound[V any](c *Committee, values []struct {
	Name  keys.PublicKeyBytes
	Value V
}, less func(a, b V) bool, fallback V) V {
	sort.SliceStable(values, func(i, j int) bool {
		return less(values[j].Value, values[i].Value)
	})
	score := 0
	for _, entry := range values {
		score += c.Weight(entry.Name)
		if score >= c.QuorumThreshold() {
			return entry.Value
		}
	}
	return fallback
}
