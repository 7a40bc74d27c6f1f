// Copyright 2026 Scalaris Ledger
//
// Configuration round-trip tests

package config

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

func TestAuthorityKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	params, err := coconut.Setup(coconut.AttributeCount)
	if err != nil {
		t.Fatal(err)
	}
	_, coconutKeys, err := coconut.TrustedSetup(params, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "authority-0.json")
	if err := SaveAuthorityKey(path, kp, coconutKeys[0]); err != nil {
		t.Fatal(err)
	}
	loadedKP, loadedCoconut, err := LoadAuthorityKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if loadedKP.Public() != kp.Public() {
		t.Error("key round trip changed the public key")
	}
	if loadedCoconut == nil || loadedCoconut.Index != coconutKeys[0].Index {
		t.Error("coconut share round trip lost the index")
	}
	if !loadedCoconut.Secret.X.Equal(&coconutKeys[0].Secret.X) {
		t.Error("coconut share round trip changed the secret")
	}
}

func TestBuildCommitteeWithCoconut(t *testing.T) {
	dir := t.TempDir()
	params, err := coconut.Setup(coconut.AttributeCount)
	if err != nil {
		t.Fatal(err)
	}
	master, coconutKeys, err := coconut.TrustedSetup(params, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	committeeFile := &CommitteeFile{}
	for i := 0; i < 4; i++ {
		kp, err := keys.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		share := coconut.NewPublicKey(params, coconutKeys[i].Secret)
		rawShare, err := share.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		committeeFile.Authorities = append(committeeFile.Authorities, AuthorityEntry{
			Name:            kp.Public().String(),
			Host:            "127.0.0.1",
			BasePort:        9500 + i,
			NumShards:       1,
			Weight:          1,
			CoconutIndex:    coconutKeys[i].Index,
			CoconutShareKey: hex.EncodeToString(rawShare),
		})
	}
	committeePath := filepath.Join(dir, "committee.json")
	if err := SaveCommitteeFile(committeePath, committeeFile); err != nil {
		t.Fatal(err)
	}
	parametersPath := filepath.Join(dir, "parameters.json")
	if err := SaveParametersFile(parametersPath, params, master, 32); err != nil {
		t.Fatal(err)
	}

	loadedCommittee, err := LoadCommitteeFile(committeePath)
	if err != nil {
		t.Fatal(err)
	}
	loadedParameters, err := LoadParametersFile(parametersPath)
	if err != nil {
		t.Fatal(err)
	}
	cmt, err := BuildCommittee(loadedCommittee, loadedParameters)
	if err != nil {
		t.Fatal(err)
	}
	if cmt.TotalVotes != 4 || cmt.QuorumThreshold() != 3 {
		t.Errorf("committee thresholds wrong: total %d, quorum %d", cmt.TotalVotes, cmt.QuorumThreshold())
	}
	if cmt.CoconutSetup == nil || cmt.CoconutSetup.RangeBits != 32 {
		t.Fatal("coconut setup must survive the round trip")
	}
	if len(cmt.CoconutSetup.Authorities) != 4 {
		t.Errorf("expected 4 share keys, got %d", len(cmt.CoconutSetup.Authorities))
	}
}

func TestInitialAccountsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	accounts := []InitialAccount{{
		AccountID: base.NewAccountID(1),
		Owner:     kp.Public().String(),
		Balance:   base.BalanceFromAmount(1000),
	}}
	path := filepath.Join(dir, "accounts.json")
	if err := SaveInitialAccounts(path, accounts); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadInitialAccounts(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || !loaded[0].AccountID.Equal(accounts[0].AccountID) {
		t.Fatal("accounts round trip lost entries")
	}
	if loaded[0].Balance.Cmp(accounts[0].Balance) != 0 {
		t.Errorf("balance round trip: got %s", loaded[0].Balance)
	}
}

func TestShardAddress(t *testing.T) {
	entry := AuthorityEntry{Host: "10.0.0.1", BasePort: 9500, NumShards: 4}
	if got := entry.ShardAddress(base.ShardID(2)); got != "10.0.0.1:9502" {
		t.Errorf("shard address: got %s", got)
	}
}
