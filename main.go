// Copyright 2026 Scalaris Ledger
//
// The authority server binary. Runs one shard of one authority: loads the
// key, committee, parameters and genesis files, boots the shard actor, and
// serves the framed TCP endpoint plus /metrics and /health.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scalaris-ledger/scalaris/pkg/account"
	"github.com/scalaris-ledger/scalaris/pkg/authority"
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/config"
	"github.com/scalaris-ledger/scalaris/pkg/crypto/keys"
	"github.com/scalaris-ledger/scalaris/pkg/network"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scalaris: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverPath     = flag.String("server", "", "path to the authority key file")
		committeePath  = flag.String("committee", "", "path to the committee file")
		parametersPath = flag.String("parameters", "", "path to the coconut parameters file (optional)")
		accountsPath   = flag.String("initial-accounts", "", "path to the initial accounts file (optional)")
		shardFlag      = flag.Uint("shard", 0, "shard index to run")
	)
	flag.Parse()
	if *serverPath == "" || *committeePath == "" {
		flag.Usage()
		return fmt.Errorf("--server and --committee are required")
	}

	runtime := config.LoadRuntime()
	logger, err := newLogger(runtime.LogLevel)
	if err != nil {
		return err
	}

	kp, coconutKP, err := config.LoadAuthorityKey(*serverPath)
	if err != nil {
		return err
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
	if coconutKP != nil && cmt.CoconutSetup != nil {
		// Attach the public material of our share for local sanity.
		share, ok := cmt.CoconutSetup.Authorities[kp.Public()]
		if !ok || share.Index != coconutKP.Index {
			return fmt.Errorf("coconut key share does not match the committee file")
		}
		coconutKP.Public = share.Key
	}

	var self *config.AuthorityEntry
	for i := range committeeFile.Authorities {
		if committeeFile.Authorities[i].Name == kp.Public().String() {
			self = &committeeFile.Authorities[i]
			break
		}
	}
	if self == nil {
		return fmt.Errorf("authority %s is not in the committee file", kp.Public())
	}
	shard := base.ShardID(*shardFlag)
	if uint32(shard) >= self.NumShards {
		return fmt.Errorf("shard %d out of range (authority runs %d shards)", shard, self.NumShards)
	}

	state := authority.NewShardWorkerState(cmt, kp, coconutKP, shard, self.NumShards, logger)
	if *accountsPath != "" {
		if err := seedAccounts(state, *accountsPath); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	metrics := network.NewMetrics(registry, uint32(shard))
	addresser := func(s base.ShardID) string { return self.ShardAddress(s) }
	server := network.NewServer(state, self.ShardAddress(shard), addresser, network.ServerOptions{
		QueueDepth: runtime.QueueDepth,
		Metrics:    metrics,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serveMetrics(ctx, runtime.MetricsAddr, registry, state, logger)

	logger.Info("starting authority shard",
		"authority", kp.Public(),
		"shard", shard,
		"address", self.ShardAddress(shard),
		"committee_size", len(committeeFile.Authorities),
		"coconut", cmt.CoconutSetup != nil,
	)
	return server.Run(ctx)
}

func newLogger(level string) (cmtlog.Logger, error) {
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	option, err := cmtlog.AllowLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cmtlog.NewFilter(logger, option), nil
}

// seedAccounts funds the genesis accounts owned by this shard.
func seedAccounts(state *authority.WorkerState, path string) error {
	accounts, err := config.LoadInitialAccounts(path)
	if err != nil {
		return err
	}
	seeded := 0
	for _, entry := range accounts {
		if !state.InShard(entry.AccountID) {
			continue
		}
		owner, err := keys.ParsePublicKey(entry.Owner)
		if err != nil {
			return fmt.Errorf("account %s owner: %w", entry.AccountID, err)
		}
		state.Accounts[entry.AccountID.Key()] = account.New(owner, entry.Balance)
		seeded++
	}
	if seeded > 0 {
		fmt.Printf("seeded %d genesis accounts on shard %d\n", seeded, state.ShardID)
	}
	return nil
}

type healthStatus struct {
	Status        string `json:"status"`
	Shard         uint32 `json:"shard"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, state *authority.WorkerState, logger cmtlog.Logger) {
	start := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthStatus{
			Status:        "ok",
			Shard:         uint32(state.ShardID),
			UptimeSeconds: int64(time.Since(start).Seconds()),
		})
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "err", err)
	}
}
