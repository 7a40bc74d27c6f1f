// Copyright 2026 Scalaris Ledger
//
// Bulk benchmark mode: generates throwaway accounts and floods the
// committee with transfer orders, measuring certified throughput. The run
// is configured by a YAML profile.

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/client"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
)

// benchmarkProfile is the YAML configuration of one run.
type benchmarkProfile struct {
	// Accounts to drive concurrently. Each needs an entry in the wallet
	// and genesis funding.
	Accounts []string `yaml:"accounts"`
	// TransfersPerAccount sent sequentially per account.
	TransfersPerAccount int `yaml:"transfers_per_account"`
	// Amount of each transfer.
	Amount uint64 `yaml:"amount"`
	// Recipient account id; defaults to the first account.
	Recipient string `yaml:"recipient"`
	// Confirm re-broadcasts each certificate to push the high-water
	// mark before the next transfer.
	Confirm bool `yaml:"confirm"`
}

func cmdBenchmark(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: benchmark <profile.yaml>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var profile benchmarkProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}
	if len(profile.Accounts) == 0 || profile.TransfersPerAccount <= 0 {
		return fmt.Errorf("profile needs accounts and transfers_per_account")
	}
	if profile.Amount == 0 {
		profile.Amount = 1
	}
	recipientSpec := profile.Recipient
	if recipientSpec == "" {
		recipientSpec = profile.Accounts[0]
	}
	recipient, err := base.ParseAccountID(recipientSpec)
	if err != nil {
		return err
	}

	runID := benchmarkRunID()
	fmt.Printf("benchmark %s: %d accounts x %d transfers\n", runID, len(profile.Accounts), profile.TransfersPerAccount)

	var certified atomic.Int64
	var failed atomic.Int64
	start := time.Now()
	var wg sync.WaitGroup
	for _, spec := range profile.Accounts {
		id, err := base.ParseAccountID(spec)
		if err != nil {
			return err
		}
		ac, _, err := w.accountClient(id, cmt, clients)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(ac *client.AccountClient) {
			defer wg.Done()
			for i := 0; i < profile.TransfersPerAccount; i++ {
				var err error
				if profile.Confirm {
					_, err = ac.TransferToAccount(ctx, base.Amount(profile.Amount), recipient, nil)
				} else {
					_, err = ac.TransferUnsafeUnconfirmed(ctx, base.Amount(profile.Amount), recipient, nil)
				}
				if err != nil {
					failed.Add(1)
					return
				}
				certified.Add(1)
			}
		}(ac)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := certified.Load()
	fmt.Printf("benchmark %s: %d certificates in %s (%.1f tx/s), %d accounts aborted\n",
		runID, total, elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds(), failed.Load())
	return nil
}
