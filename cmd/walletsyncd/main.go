// Package main provides walletsyncd - a streaming wallet synchronizer
// daemon that keeps a deterministic Bitcoin wallet's view of the chain
// current over a single long-lived Electrum subscription.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-tech/walletsync/internal/chain"
	"github.com/klingon-tech/walletsync/internal/config"
	"github.com/klingon-tech/walletsync/internal/driver"
	"github.com/klingon-tech/walletsync/internal/engine"
	"github.com/klingon-tech/walletsync/internal/hdwallet"
	"github.com/klingon-tech/walletsync/internal/metrics"
	"github.com/klingon-tech/walletsync/internal/orchestrator"
	"github.com/klingon-tech/walletsync/internal/scripthash"
	"github.com/klingon-tech/walletsync/internal/tracker"
	"github.com/klingon-tech/walletsync/internal/transport"
	"github.com/klingon-tech/walletsync/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.walletsync", "Data directory")
		endpoint     = flag.String("endpoint", "", "Electrum endpoint (host:port), overrides config")
		offline      = flag.Bool("offline", false, "Run against an in-process mock transport instead of a real Electrum server")
		logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion  = flag.Bool("version", false, "Show version and exit")
		watchAddress = flag.String("watch-scripthash", "", "Print the Electrum scripthash for a single address and exit (debug aid)")
		watchTestnet = flag.Bool("testnet", false, "Use testnet params with -watch-scripthash")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("walletsyncd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	if *watchAddress != "" {
		printScripthash(*watchAddress, *watchTestnet, log)
		os.Exit(0)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.Storage.DataDir = *dataDir
	if *endpoint != "" {
		cfg.Electrum.Endpoint = *endpoint
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", config.ConfigPath(cfg.Storage.DataDir))

	wallet, err := loadOrCreateWallet(cfg, log)
	if err != nil {
		log.Fatal("failed to load wallet", "error", err)
	}

	trk := tracker.New(cfg.Wallet.Lookahead)
	if _, err := trk.InsertDescriptor("external", hdwallet.External(wallet), 0); err != nil {
		log.Fatal("failed to insert external descriptor", "error", err)
	}
	if _, err := trk.InsertDescriptor("internal", hdwallet.Internal(wallet), 0); err != nil {
		log.Fatal("failed to insert internal descriptor", "error", err)
	}
	log.Info("tracker initialized", "lookahead", cfg.Wallet.Lookahead, "watched_scripts", len(trk.All()))

	eng := engine.New(trk, time.Now())

	tx, closeTransport, err := buildTransport(cfg, *offline)
	if err != nil {
		log.Fatal("failed to start transport", "error", err)
	}
	defer closeTransport()

	var metricsReg *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsReg = metrics.New()
		go serveMetrics(cfg.Metrics.Addr, metricsReg, log)
	}

	orch := orchestrator.New(64)
	go drainUpdates(orch, log)

	drv := driver.New(eng, tx, orch,
		driver.WithLogger(log.Component("driver")),
		driver.WithMetrics(metricsReg),
	)

	bootstrapStart := time.Now()
	drv.OnBootstrap(func() {
		log.Info("initial subscribe wave dispatched", "elapsed", time.Since(bootstrapStart))
	})

	shutdown := &atomic.Bool{}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down...")
		shutdown.Store(true)
	}()

	log.Info("synchronizer running", "endpoint", cfg.Electrum.Endpoint, "offline", *offline)
	drv.Run(shutdown)
	log.Info("synchronizer stopped")
}

// loadOrCreateWallet decrypts the on-disk seed (password from
// WALLETSYNC_PASSWORD) or generates and encrypts a fresh mnemonic on first
// run, printing it once so the operator can back it up.
func loadOrCreateWallet(cfg *config.Config, log *logging.Logger) (*hdwallet.Wallet, error) {
	password := os.Getenv("WALLETSYNC_PASSWORD")
	seedPath := cfg.SeedPath()

	if _, err := os.Stat(seedPath); err == nil {
		if password == "" {
			return nil, fmt.Errorf("WALLETSYNC_PASSWORD must be set to decrypt %s", seedPath)
		}
		encrypted, err := hdwallet.LoadEncryptedSeed(seedPath)
		if err != nil {
			return nil, fmt.Errorf("load encrypted seed: %w", err)
		}
		mnemonic, err := hdwallet.DecryptMnemonic(encrypted, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt seed: %w", err)
		}
		defer hdwallet.SecureClear([]byte(mnemonic))
		return hdwallet.New(mnemonic, "", chain.Network(cfg.Wallet.Network))
	}

	if password == "" {
		return nil, fmt.Errorf("WALLETSYNC_PASSWORD must be set to create a new wallet at %s", seedPath)
	}
	mnemonic, err := hdwallet.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	encrypted, err := hdwallet.EncryptMnemonic(mnemonic, password)
	if err != nil {
		return nil, fmt.Errorf("encrypt mnemonic: %w", err)
	}
	if err := hdwallet.SaveEncryptedSeed(encrypted, seedPath); err != nil {
		return nil, fmt.Errorf("save encrypted seed: %w", err)
	}
	log.Warn("generated a new wallet seed; back up the mnemonic now, it will not be shown again", "mnemonic", mnemonic)
	defer hdwallet.SecureClear([]byte(mnemonic))
	return hdwallet.New(mnemonic, "", chain.Network(cfg.Wallet.Network))
}

// buildTransport returns either a real ElectrumTransport or, in offline
// mode, a MockTransport wired to auto-ack every subscribe with an empty
// status — useful for demos and integration tests without a live server.
func buildTransport(cfg *config.Config, offline bool) (transport.Transport, func(), error) {
	if offline {
		mock := transport.NewMock()
		mock.OnRegister = func(hash string, script []byte, m *transport.MockTransport) {
			m.Push(transport.StatusChanged{Hash: hash, Status: ""})
		}
		mock.Push(transport.Connected{})
		return mock, func() {}, nil
	}

	tx, err := transport.Dial(transport.Config{
		Endpoint:        cfg.Electrum.Endpoint,
		TLS:             cfg.Electrum.TLS,
		ClientID:        cfg.Electrum.ClientID,
		ProtocolVersion: cfg.Electrum.ProtocolVersion,
		CachePath:       cfg.CachePath(),
		DialTimeout:     cfg.Electrum.DialTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return tx, func() { tx.Close() }, nil
}

func serveMetrics(addr string, reg *metrics.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	log.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

// printScripthash is a debug aid: it resolves a single address to its
// scriptPubKey and Electrum scripthash without touching the network or
// constructing a wallet, useful for cross-checking a server's subscribe
// response against what walletsyncd would derive for that address.
func printScripthash(address string, testnet bool, log *logging.Logger) {
	params := &chaincfg.MainNetParams
	if testnet {
		params = &chaincfg.TestNet3Params
	}
	script, hash, err := scripthash.FromAddress(address, params)
	if err != nil {
		log.Fatal("failed to resolve address", "error", err)
	}
	log.Info("resolved address", "address", address, "script_hex", fmt.Sprintf("%x", script), "scripthash", hash)
}

func drainUpdates(orch *orchestrator.Orchestrator, log *logging.Logger) {
	for update := range orch.Updates() {
		switch u := update.(type) {
		case orchestrator.TransactionUpdate:
			log.Debug("update: transaction", "txid", u.Txid)
		case orchestrator.LookaheadUpdate:
			log.Debug("update: lookahead slide", "keychain", u.Keychain, "index", u.HighestRevealedIndex)
		}
	}
}
