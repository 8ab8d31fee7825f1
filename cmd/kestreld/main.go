// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command kestreld runs a single Kestrel core node: the account-state
// engine, block buffer, transaction pool and, if a validator key is
// configured, the PoVF producer, per spec.md §5.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kestrel-chain/core/metrics"
	"github.com/kestrel-chain/core/network"
	"github.com/kestrel-chain/core/node"
	"github.com/kestrel-chain/core/params"
)

var logger = log.New("module", "kestreld")

func main() {
	dataDir := flag.String("datadir", "./kestrel-data", "directory for chain data")
	walDir := flag.String("waldir", "./kestrel-data/wal", "directory for the state engine's commit journal")
	validatorKeyHex := flag.String("validator-key", "", "hex-encoded secp256k1 private key; empty runs as a follower/RPC-only node")
	chainID := flag.Int64("chain-id", 1337, "chain id")
	vdfWorkers := flag.Int("vdf-workers", 4, "max concurrent VDF verifications")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables it)")
	flag.Parse()

	cfg := params.DefaultConfig(big.NewInt(*chainID))

	var validatorKey *ecdsa.PrivateKey
	if *validatorKeyHex != "" {
		key, err := gethcrypto.HexToECDSA(*validatorKeyHex)
		if err != nil {
			logger.Crit("invalid validator key", "err", err)
		}
		validatorKey = key
		addr := gethcrypto.PubkeyToAddress(key.PublicKey)
		cfg.Validators = append(cfg.Validators, addr)
		cfg.StakeWeights[addr] = 1
		cfg.GenesisAlloc[addr] = big.NewInt(0).Exp(big.NewInt(10), big.NewInt(24), nil)
	}

	nodeCfg := &node.Config{
		Chain:        cfg,
		DBPath:       *dataDir,
		WALDir:       *walDir,
		VDFWorkers:   *vdfWorkers,
		ValidatorKey: validatorKey,
	}

	inbox := make(network.ChanInbox, 256)
	outbox := make(network.ChanOutbox, 256)

	n, err := node.Open(nodeCfg, inbox, outbox)
	if err != nil {
		logger.Crit("failed to open node", "err", err)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logger.Info("metrics server listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server exited", "err", err)
			}
		}()
	}

	// No transport is wired here (spec.md's network contract is
	// collaborator-supplied); drain the outbox so a validator producing
	// blocks never blocks on a channel nobody is reading.
	go drainOutbox(outbox)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("kestreld starting", "datadir", *dataDir, "validator", validatorKey != nil)
	if err := n.Start(ctx); err != nil {
		logger.Crit("node exited with error", "err", err)
	}
}

func drainOutbox(outbox network.ChanOutbox) {
	for msg := range outbox {
		logger.Debug("outbound message (no transport attached)", "kind", msg.Kind)
	}
}
