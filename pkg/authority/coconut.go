// Copyright 2026 Scalaris Ledger
//
// Coconut helpers for the coin creation handler.

package authority

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// collectInputKeys derives the ordered key attributes of the opaque input
// coins from the public seeds listed in the sources. Seeds must be distinct
// within each source; the order must match the coin request.
func collectInputKeys(sources []messages.CoinCreationSource) ([]fr.Element, error) {
	var keysList []fr.Element
	for i := range sources {
		source := &sources[i]
		seen := make(map[base.CoinSeed]bool, len(source.OpaqueCoinPublicSeeds))
		for _, publicSeed := range source.OpaqueCoinPublicSeeds {
			if seen[publicSeed] {
				return nil, base.NewError(base.CodeInvalidCoinCreationOrder)
			}
			seen[publicSeed] = true
			keysList = append(keysList, messages.CoconutKeyScalar(source.AccountID, publicSeed))
		}
	}
	return keysList, nil
}

// conservationScalar computes source - target as a field element: the
// public value flowing into the opaque outputs.
func conservationScalar(source, target base.Amount) fr.Element {
	var s, t fr.Element
	s.SetUint64(uint64(source))
	t.SetUint64(uint64(target))
	s.Sub(&s, &t)
	return s
}
