// Copyright 2026 Scalaris Ledger
//
// The client binary: transfers, balance queries, account management, coin
// creation, and a bulk benchmark mode driven by a YAML profile.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/client"
	"github.com/scalaris-ledger/scalaris/pkg/committee"
	"github.com/scalaris-ledger/scalaris/pkg/config"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
	"github.com/scalaris-ledger/scalaris/pkg/network"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scalaris-client: %v\n", err)
		os.Exit(1)
	}
}

// walletAccount is the locally persisted view of one account.
type walletAccount struct {
	AccountID          base.AccountID      `json:"account_id"`
	Seed               string              `json:"seed"` // hex ed25519 seed
	NextSequenceNumber base.SequenceNumber `json:"next_sequence_number"`
	Balance            base.Balance        `json:"balance"`
}

type wallet struct {
	path     string
	Accounts []walletAccount `json:"accounts"`
}

func loadWallet(path string) (*wallet, error) {
	w := &wallet{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return w, nil
}

func (w *wallet) save() error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(w.path, append(data, '\n'), 0o600)
}

func (w *wallet) find(id base.AccountID) *walletAccount {
	for i := range w.Accounts {
		if w.Accounts[i].AccountID.Equal(id) {
			return &w.Accounts[i]
		}
	}
	return nil
}

func run() error {
	var (
		committeePath  = flag.String("committee", "committee.json", "path to the committee file")
		parametersPath = flag.String("parameters", "", "path to the coconut parameters file (optional)")
		walletPath     = flag.String("wallet", "wallet.json", "path to the local wallet file")
		sendTimeout    = flag.Duration("send-timeout", 4*time.Second, "per-request send timeout")
		recvTimeout    = flag.Duration("recv-timeout", 4*time.Second, "per-request receive timeout")
	)
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		return fmt.Errorf("usage: scalaris-client [flags] <transfer|query-balance|open-account|close-account|rotate-key|create-coins|benchmark> ...")
	}

	committeeFile, err := config.LoadCommitteeFile(*committeePath)
	if err != nil {
		return err
	}
	var parametersFile *config.ParametersFile
	if *parametersPath != "" {
		if parametersFile, err = config.LoadParametersFile(*parametersPath); err != nil {
			return err
		}
	}
	cmt, err := config.BuildCommittee(committeeFile, parametersFile)
	if err != nil {
		return err
	}
	clients := makeAuthorityClients(committeeFile, *sendTimeout, *recvTimeout)

	w, err := loadWallet(*walletPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "transfer":
		return cmdTransfer(ctx, w, cmt, clients, args[1:])
	case "query-balance":
		return cmdQueryBalance(ctx, w, cmt, clients, args[1:])
	case "open-account":
		return cmdOpenAccount(ctx, w, cmt, clients, args[1:])
	case "close-account":
		return cmdCloseAccount(ctx, w, cmt, clients, args[1:])
	case "rotate-key":
		return cmdRotateKey(ctx, w, cmt, clients, args[1:])
	case "create-coins":
		return cmdCreateCoins(ctx, w, cmt, clients, args[1:])
	case "benchmark":
		return cmdBenchmark(ctx, w, cmt, clients, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func makeAuthorityClients(file *config.CommitteeFile, sendTimeout, recvTimeout time.Duration) map[keys.PublicKeyBytes]client.AuthorityClient {
	clients := make(map[keys.PublicKeyBytes]client.AuthorityClient, len(file.Authorities))
	for i := range file.Authorities {
		entry := file.Authorities[i]
		name, err := keys.ParsePublicKey(entry.Name)
		if err != nil {
			continue
		}
		clients[name] = network.NewClient(entry.ShardAddress, entry.NumShards, sendTimeout, recvTimeout)
	}
	return clients
}

func (w *wallet) accountClient(id base.AccountID, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient) (*client.AccountClient, *walletAccount, error) {
	entry := w.find(id)
	if entry == nil {
		return nil, nil, fmt.Errorf("account %s is not in the wallet", id)
	}
	kp, err := keys.KeyPairFromHex(entry.Seed)
	if err != nil {
		return nil, nil, err
	}
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stderr))
	ac := client.New(id, cmt, clients, client.Options{
		KeyPair:            kp,
		NextSequenceNumber: entry.NextSequenceNumber,
		Balance:            entry.Balance,
		Logger:             logger,
	})
	return ac, entry, nil
}

func (w *wallet) persist(ac *client.AccountClient, entry *walletAccount) error {
	entry.NextSequenceNumber = ac.NextSequenceNumber()
	entry.Balance = ac.Balance()
	return w.save()
}

func cmdTransfer(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: transfer <from> <to> <amount>")
	}
	from, err := base.ParseAccountID(args[0])
	if err != nil {
		return err
	}
	to, err := base.ParseAccountID(args[1])
	if err != nil {
		return err
	}
	var amount uint64
	if _, err := fmt.Sscanf(args[2], "%d", &amount); err != nil {
		return fmt.Errorf("invalid amount %q", args[2])
	}
	ac, entry, err := w.accountClient(from, cmt, clients)
	if err != nil {
		return err
	}
	cert, err := ac.TransferToAccount(ctx, base.Amount(amount), to, nil)
	if err != nil {
		return err
	}
	if err := w.persist(ac, entry); err != nil {
		return err
	}
	request := cert.Value.ConfirmRequest()
	fmt.Printf("transferred %d from %s to %s at sequence %d (%d signatures)\n",
		amount, from, to, request.SequenceNumber, len(cert.Signatures))
	return nil
}

func cmdQueryBalance(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: query-balance <account>")
	}
	id, err := base.ParseAccountID(args[0])
	if err != nil {
		return err
	}
	ac, entry, err := w.accountClient(id, cmt, clients)
	if err != nil {
		return err
	}
	balance, err := ac.SynchronizeBalance(ctx)
	if err != nil {
		return err
	}
	if err := w.persist(ac, entry); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", id, balance)
	return nil
}

func cmdOpenAccount(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: open-account <parent>")
	}
	parent, err := base.ParseAccountID(args[0])
	if err != nil {
		return err
	}
	ac, entry, err := w.accountClient(parent, cmt, clients)
	if err != nil {
		return err
	}
	newKP, err := keys.GenerateKeyPair()
	if err != nil {
		return err
	}
	_, newID, err := ac.OpenAccount(ctx, newKP.Public())
	if err != nil {
		return err
	}
	w.Accounts = append(w.Accounts, walletAccount{
		AccountID: newID,
		Seed:      newKP.SeedHex(),
	})
	if err := w.persist(ac, entry); err != nil {
		return err
	}
	fmt.Printf("opened account %s with owner %s\n", newID, newKP.Public())
	return nil
}

func cmdCloseAccount(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: close-account <account>")
	}
	id, err := base.ParseAccountID(args[0])
	if err != nil {
		return err
	}
	ac, entry, err := w.accountClient(id, cmt, clients)
	if err != nil {
		return err
	}
	if _, err := ac.CloseAccount(ctx); err != nil {
		return err
	}
	if err := w.persist(ac, entry); err != nil {
		return err
	}
	fmt.Printf("closed account %s\n", id)
	return nil
}

func cmdRotateKey(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rotate-key <account>")
	}
	id, err := base.ParseAccountID(args[0])
	if err != nil {
		return err
	}
	ac, entry, err := w.accountClient(id, cmt, clients)
	if err != nil {
		return err
	}
	newKP, err := keys.GenerateKeyPair()
	if err != nil {
		return err
	}
	if _, err := ac.RotateKeyPair(ctx, newKP); err != nil {
		return err
	}
	entry.Seed = newKP.SeedHex()
	if err := w.persist(ac, entry); err != nil {
		return err
	}
	fmt.Printf("rotated key of %s to %s\n", id, newKP.Public())
	return nil
}

func cmdCreateCoins(ctx context.Context, w *wallet, cmt *committee.Committee, clients map[keys.PublicKeyBytes]client.AuthorityClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create-coins <account> <transparent-amount>... [--opaque <amount>...]")
	}
	id, err := base.ParseAccountID(args[0])
	if err != nil {
		return err
	}
	ac, entry, err := w.accountClient(id, cmt, clients)
	if err != nil {
		return err
	}
	var transparent []messages.TransparentCoin
	var opaque []messages.OpaqueCoin
	opaqueMode := false
	for _, arg := range args[1:] {
		if arg == "--opaque" {
			opaqueMode = true
			continue
		}
		var amount uint64
		if _, err := fmt.Sscanf(arg, "%d", &amount); err != nil {
			return fmt.Errorf("invalid amount %q", arg)
		}
		if opaqueMode {
			opaque = append(opaque, ac.NewOpaqueCoin(base.Amount(amount)))
		} else {
			transparent = append(transparent, messages.TransparentCoin{
				AccountID: id.Clone(),
				Amount:    base.Amount(amount),
				Seed:      base.NewCoinSeed(),
			})
		}
	}
	assets, err := ac.SpendAndCreateCoins(ctx, transparent, opaque)
	if err != nil {
		return err
	}
	if err := w.persist(ac, entry); err != nil {
		return err
	}
	fmt.Printf("created %d coins from %s (account destroyed)\n", len(assets), id)
	for i := range assets {
		amount, _ := assets[i].Amount()
		kind := "transparent"
		if assets[i].IsOpaque() {
			kind = "opaque"
		}
		fmt.Printf("  coin %d: %s, value %d\n", i, kind, amount)
	}
	return nil
}

// benchmarkRunID tags one benchmark run in the output.
func benchmarkRunID() string {
	return uuid.NewString()
}
