// Copyright 2026 Scalaris Ledger
//
// Key and parameter generation for a committee deployment. Emits one key
// file per authority, the shared committee file, and the Coconut public
// setup (dealer mode).

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scalaris-ledger/scalaris/pkg/config"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scalaris-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		committeeSize = flag.Int("committee-size", 4, "number of authorities")
		threshold     = flag.Int("threshold", 3, "coconut issuance threshold (0 disables opaque coins)")
		shards        = flag.Uint("shards", 1, "shards per authority")
		host          = flag.String("host", "127.0.0.1", "listen host for every authority")
		basePort      = flag.Int("base-port", 9500, "first authority's base port; each authority gets a block of shard ports")
		rangeBits     = flag.Int("range-bits", 32, "range proof bit width")
		outDir        = flag.String("out", ".", "output directory")
	)
	flag.Parse()
	if *committeeSize < 1 {
		return fmt.Errorf("committee size must be positive")
	}
	if *threshold > *committeeSize {
		return fmt.Errorf("threshold %d exceeds committee size %d", *threshold, *committeeSize)
	}
	if err := os.MkdirAll(*outDir, 0o700); err != nil {
		return err
	}

	// Coconut setup (optional).
	var (
		params      *coconut.Parameters
		masterKey   *coconut.PublicKey
		coconutKeys []*coconut.KeyPair
		err         error
	)
	if *threshold > 0 {
		if params, err = coconut.Setup(coconut.AttributeCount); err != nil {
			return err
		}
		if masterKey, coconutKeys, err = coconut.TrustedSetup(params, *threshold, *committeeSize); err != nil {
			return err
		}
	}

	committeeFile := &config.CommitteeFile{}
	for i := 0; i < *committeeSize; i++ {
		kp, err := keys.GenerateKeyPair()
		if err != nil {
			return err
		}
		var coconutKP *coconut.KeyPair
		entry := config.AuthorityEntry{
			Name:      kp.Public().String(),
			Host:      *host,
			BasePort:  *basePort + i*int(*shards),
			NumShards: uint32(*shards),
			Weight:    1,
		}
		if coconutKeys != nil {
			coconutKP = coconutKeys[i]
			coconutKP.Public = coconut.NewPublicKey(params, coconutKP.Secret)
			rawShare, err := coconutKP.Public.MarshalBinary()
			if err != nil {
				return err
			}
			entry.CoconutIndex = coconutKP.Index
			entry.CoconutShareKey = hex.EncodeToString(rawShare)
		}
		keyPath := filepath.Join(*outDir, fmt.Sprintf("authority-%d.json", i))
		if err := config.SaveAuthorityKey(keyPath, kp, coconutKP); err != nil {
			return err
		}
		committeeFile.Authorities = append(committeeFile.Authorities, entry)
		fmt.Printf("wrote %s (%s)\n", keyPath, kp.Public())
	}

	committeePath := filepath.Join(*outDir, "committee.json")
	if err := config.SaveCommitteeFile(committeePath, committeeFile); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", committeePath)

	if params != nil {
		parametersPath := filepath.Join(*outDir, "parameters.json")
		if err := config.SaveParametersFile(parametersPath, params, masterKey, *rangeBits); err != nil {
			return err
		}
		fmt.Printf("wrote %s (threshold %d/%d, %d-bit ranges)\n", parametersPath, *threshold, *committeeSize, *rangeBits)
	}
	return nil
}
