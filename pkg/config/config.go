// Copyright 2026 Scalaris Ledger
//
// Configuration files and environment overrides.
//
// Four JSON files feed a deployment: one key file per authority, the shared
// committee file, the shared Coconut parameters file, and the initial
// accounts file. Runtime knobs come from the environment.

package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/coconut"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

// Runtime holds the environment-controlled server knobs.
type Runtime struct {
	MetricsAddr string
	LogLevel    string
	QueueDepth  int
	SendTimeout time.Duration
	RecvTimeout time.Duration
}

// LoadRuntime reads the runtime knobs from the environment.
func LoadRuntime() Runtime {
	return Runtime{
		MetricsAddr: getEnv("SCALARIS_METRICS_ADDR", ":9184"),
		LogLevel:    getEnv("SCALARIS_LOG_LEVEL", "info"),
		QueueDepth:  getEnvInt("SCALARIS_QUEUE_DEPTH", 1000),
		SendTimeout: getEnvDuration("SCALARIS_SEND_TIMEOUT", 4*time.Second),
		RecvTimeout: getEnvDuration("SCALARIS_RECV_TIMEOUT", 4*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// CoconutKeyShare is the secret issuance share inside a key file.
type CoconutKeyShare struct {
	Index  uint64 `json:"index"`
	Secret string `json:"secret"` // hex
}

// AuthorityKey is the content of one authority key file.
type AuthorityKey struct {
	Name    string           `json:"name"` // hex public key
	Seed    string           `json:"seed"` // hex ed25519 seed
	Coconut *CoconutKeyShare `json:"coconut,omitempty"`
}

// AuthorityEntry describes one authority inside the committee file.
type AuthorityEntry struct {
	Name      string `json:"name"` // hex public key
	Host      string `json:"host"`
	BasePort  int    `json:"base_port"`
	NumShards uint32 `json:"num_shards"`
	Weight    int    `json:"weight"`
	// CoconutIndex and CoconutShareKey publish the authority's slot in
	// the threshold issuance group.
	CoconutIndex    uint64 `json:"coconut_index,omitempty"`
	CoconutShareKey string `json:"coconut_share_key,omitempty"` // hex
}

// ShardAddress returns the listen address of one shard of the authority.
func (e *AuthorityEntry) ShardAddress(shard base.ShardID) string {
	return fmt.Sprintf("%s:%d", e.Host, e.BasePort+int(shard))
}

// CommitteeFile is the shared committee description.
type CommitteeFile struct {
	Authorities []AuthorityEntry `json:"authorities"`
}

// ParametersFile is the shared Coconut public setup.
type ParametersFile struct {
	Parameters      string `json:"parameters"`       // hex
	VerificationKey string `json:"verification_key"` // hex
	RangeBits       int    `json:"range_bits"`
}

// InitialAccount funds one account at genesis.
type InitialAccount struct {
	AccountID base.AccountID `json:"account_id"`
	Owner     string         `json:"owner"` // hex public key
	Balance   base.Balance   `json:"balance"`
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// LoadAuthorityKey reads and decodes one authority key file.
func LoadAuthorityKey(path string) (*keys.KeyPair, *coconut.KeyPair, error) {
	var file AuthorityKey
	if err := readJSON(path, &file); err != nil {
		return nil, nil, err
	}
	kp, err := keys.KeyPairFromHex(file.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("decode key seed: %w", err)
	}
	if kp.Public().String() != file.Name {
		return nil, nil, fmt.Errorf("key file name %s does not match derived public key %s", file.Name, kp.Public())
	}
	var coconutKP *coconut.KeyPair
	if file.Coconut != nil {
		raw, err := hex.DecodeString(file.Coconut.Secret)
		if err != nil {
			return nil, nil, fmt.Errorf("decode coconut secret: %w", err)
		}
		secret := &coconut.SecretKey{}
		if err := secret.UnmarshalBinary(raw); err != nil {
			return nil, nil, fmt.Errorf("decode coconut secret: %w", err)
		}
		coconutKP = &coconut.KeyPair{Index: file.Coconut.Index, Secret: secret}
	}
	return kp, coconutKP, nil
}

// SaveAuthorityKey writes one authority key file.
func SaveAuthorityKey(path string, kp *keys.KeyPair, coconutKP *coconut.KeyPair) error {
	file := AuthorityKey{
		Name: kp.Public().String(),
		Seed: kp.SeedHex(),
	}
	if coconutKP != nil {
		raw, err := coconutKP.Secret.MarshalBinary()
		if err != nil {
			return err
		}
		file.Coconut = &CoconutKeyShare{
			Index:  coconutKP.Index,
			Secret: hex.EncodeToString(raw),
		}
	}
	return writeJSON(path, &file)
}

// LoadCommitteeFile reads the committee description.
func LoadCommitteeFile(path string) (*CommitteeFile, error) {
	var file CommitteeFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	if len(file.Authorities) == 0 {
		return nil, fmt.Errorf("%s: committee must not be empty", path)
	}
	return &file, nil
}

// SaveCommitteeFile writes the committee description.
func SaveCommitteeFile(path string, file *CommitteeFile) error {
	return writeJSON(path, file)
}

// LoadParametersFile reads the Coconut public setup.
func LoadParametersFile(path string) (*ParametersFile, error) {
	var file ParametersFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// SaveParametersFile writes the Coconut public setup.
func SaveParametersFile(path string, params *coconut.Parameters, vk *coconut.PublicKey, rangeBits int) error {
	rawParams, err := params.MarshalBinary()
	if err != nil {
		return err
	}
	rawVK, err := vk.MarshalBinary()
	if err != nil {
		return err
	}
	return writeJSON(path, &ParametersFile{
		Parameters:      hex.EncodeToString(rawParams),
		VerificationKey: hex.EncodeToString(rawVK),
		RangeBits:       rangeBits,
	})
}

// LoadInitialAccounts reads the genesis funding file.
func LoadInitialAccounts(path string) ([]InitialAccount, error) {
	var accounts []InitialAccount
	if err := readJSON(path, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// SaveInitialAccounts writes the genesis funding file.
func SaveInitialAccounts(path string, accounts []InitialAccount) error {
	return writeJSON(path, accounts)
}

// BuildCommittee assembles the runtime committee from the committee file
// and, when present, the parameters file. Validation happens here, at boot.
func BuildCommittee(committeeFile *CommitteeFile, parametersFile *ParametersFile) (*committee.Committee, error) {
	votingRights := make(map[keys.PublicKeyBytes]int, len(committeeFile.Authorities))
	shares := make(map[keys.PublicKeyBytes]committee.AuthorityShare)
	haveShares := false
	for i := range committeeFile.Authorities {
		entry := &committeeFile.Authorities[i]
		name, err := keys.ParsePublicKey(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("authority %d: %w", i, err)
		}
		weight := entry.Weight
		if weight == 0 {
			weight = 1
		}
		votingRights[name] = weight
		if entry.CoconutShareKey != "" {
			raw, err := hex.DecodeString(entry.CoconutShareKey)
			if err != nil {
				return nil, fmt.Errorf("authority %d share key: %w", i, err)
			}
			shareKey := &coconut.PublicKey{}
			if err := shareKey.UnmarshalBinary(raw); err != nil {
				return nil, fmt.Errorf("authority %d share key: %w", i, err)
			}
			shares[name] = committee.AuthorityShare{Index: entry.CoconutIndex, Key: shareKey}
			haveShares = true
		}
	}

	var setup *committee.CoconutSetup
	if parametersFile != nil {
		rawParams, err := hex.DecodeString(parametersFile.Parameters)
		if err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		params := &coconut.Parameters{}
		if err := params.UnmarshalBinary(rawParams); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		rawVK, err := hex.DecodeString(parametersFile.VerificationKey)
		if err != nil {
			return nil, fmt.Errorf("decode verification key: %w", err)
		}
		vk := &coconut.PublicKey{}
		if err := vk.UnmarshalBinary(rawVK); err != nil {
			return nil, fmt.Errorf("decode verification key: %w", err)
		}
		if !haveShares {
			return nil, fmt.Errorf("parameters file present but no authority carries a coconut share key")
		}
		setup = &committee.CoconutSetup{
			Parameters:      params,
			VerificationKey: vk,
			Authorities:     shares,
			RangeBits:       parametersFile.RangeBits,
		}
	}
	return committee.New(votingRights, setup)
}
