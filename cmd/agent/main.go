package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/EmoBanana/veiled/params"
	"github.com/EmoBanana/veiled/pkg/chain"
	"github.com/EmoBanana/veiled/pkg/crypto"
	"github.com/EmoBanana/veiled/pkg/engine"
	"github.com/EmoBanana/veiled/pkg/gateway"
	"github.com/EmoBanana/veiled/pkg/oracle"
	"github.com/EmoBanana/veiled/pkg/privacy"
	"github.com/EmoBanana/veiled/pkg/storage"
	"github.com/EmoBanana/veiled/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.Load("")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Chain identity ----
	signer, err := crypto.FromPrivateKeyHex(cfg.Chain.AgentKey)
	if err != nil {
		sugar.Fatalw("agent_key_invalid", "err", err)
	}
	sugar.Infow("agent_identity", "address", signer.Address().Hex())

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, signer, cfg.Chain.ChainID, cfg.Chain.PoolAddr)
	if err != nil {
		sugar.Fatalw("chain_dial_failed", "rpc", cfg.Chain.RPCURL, "err", err)
	}
	defer client.Close()

	ledger, err := chain.NewLedger(client, cfg.Chain.LedgerAddr)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}
	settler, err := chain.NewSettler(client, cfg.Chain.SettlementAddr)
	if err != nil {
		sugar.Fatalw("settler_init_failed", "err", err)
	}

	// ---- Privacy services ----
	// Short-lived session key, certified by the agent's master key. The
	// decryption service checks the certificate on every request.
	session, err := privacy.NewSession(signer, cfg.Chain.LedgerAddr, "orders", cfg.Privacy.SessionTTL)
	if err != nil {
		sugar.Fatalw("session_init_failed", "err", err)
	}
	blobs := privacy.NewBlobClient(cfg.Privacy.BlobURL)
	decrypter := privacy.NewHTTPDecrypter(cfg.Privacy.DecryptURL, session)

	// ---- Price sources, most authoritative first ----
	var sources []oracle.Source
	if cfg.Oracle.Simulate {
		base := cfg.Oracle.StaticPrice
		if base == 0 {
			base = 3000
		}
		sources = append(sources, oracle.NewRandomWalkSource(base, base/1000))
		sugar.Infow("oracle_simulated", "base", base)
	} else {
		if cfg.Chain.PoolAddr != "" {
			sources = append(sources, &oracle.PoolSource{Reader: client})
		}
		if cfg.Oracle.FeedURL != "" {
			sources = append(sources, oracle.NewFeedSource(cfg.Oracle.FeedURL))
		}
		if cfg.Oracle.MarketAPIURL != "" {
			sources = append(sources, oracle.NewMarketSource(cfg.Oracle.MarketAPIURL))
		}
		if cfg.Oracle.StaticPrice > 0 {
			sources = append(sources, &oracle.StaticSource{Price: cfg.Oracle.StaticPrice})
		}
	}
	prices := oracle.New(sugar, sources...)
	sugar.Infow("oracle_sources", "chain", prices.Sources())

	// ---- Persistence ----
	var store storage.StateStore
	switch cfg.StateStore {
	case "pebble":
		store, err = storage.NewPebbleStore(cfg.StatePath)
	default:
		store, err = storage.NewFileStore(cfg.StatePath)
	}
	if err != nil {
		sugar.Fatalw("state_store_init_failed", "path", cfg.StatePath, "err", err)
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(cfg.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_init_failed", "path", cfg.JournalPath, "err", err)
	}

	// ---- Engine ----
	eng := engine.New(engine.Config{
		TickInterval:       cfg.Engine.TickInterval,
		IngestInterval:     cfg.Engine.IngestInterval,
		IngestPageSize:     cfg.Engine.IngestPageSize,
		MaxSettleAttempts:  cfg.Engine.MaxSettleAttempts,
		MaxDecryptAttempts: cfg.Engine.MaxDecryptAttempts,
		SlippageBps:        cfg.Engine.SlippageBps,
	}, engine.Deps{
		Oracle:    prices,
		Ledger:    ledger,
		Settler:   settler,
		Blobs:     blobs,
		Decrypter: decrypter,
		Store:     store,
		Journal:   journal,
		Clock:     util.RealClock{},
		Log:       sugar,
	})

	// ---- Gateway ----
	gw := gateway.NewServer(eng, blobs, ledger, sugar)

	// Engine events fan out to WebSocket sessions through the gateway.
	eng.OnTick = gw.BroadcastPrice
	eng.OnStaticPending = gw.NotifyStaticPending
	eng.OnStaticExecuted = gw.NotifyStaticExecuted
	eng.OnOrderError = gw.NotifyOrderError
	eng.OnDynamicCreated = gw.NotifyDynamicCreated
	eng.OnDynamicTriggered = gw.NotifyDynamicTriggered
	eng.OnDynamicExecuted = gw.NotifyDynamicExecuted
	eng.OnDynamicFailed = gw.NotifyDynamicFailed

	go func() {
		sugar.Infow("gateway_starting", "addr", cfg.APIAddr)
		if err := gw.Start(cfg.APIAddr); err != nil {
			sugar.Fatalw("gateway_failed", "err", err)
		}
	}()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("engine_failed", "err", err)
	}
	sugar.Info("agent stopped")
}
