package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/crypto"
	"escrowd/gateway"
	"escrowd/native/escrow"
	"escrowd/native/token"
	"escrowd/observability/logging"
	"escrowd/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(cfg.ServiceName, cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	custodianAddr, err := crypto.DecodeAddress(cfg.Custodian)
	if err != nil {
		return fmt.Errorf("custodian address: %w", err)
	}
	custodian := custodianAddr.Array()

	sanctionParams, err := cfg.Sanctions.Parameters()
	if err != nil {
		return fmt.Errorf("sanctions config: %w", err)
	}
	checker := sanctionParams.Checker()

	registry := token.NewRegistry()
	pushAssets := make(map[[20]byte]*token.CallbackLedger)
	for _, tc := range cfg.Tokens {
		if err := registerToken(registry, pushAssets, db, tc, checker); err != nil {
			return err
		}
	}

	resolver := escrow.ResolverFunc(func(addr [20]byte) (escrow.Asset, bool) {
		tok, ok := registry.Resolve(addr)
		if !ok {
			return nil, false
		}
		return tok, true
	})

	store := escrow.NewStore(db)
	adapter := escrow.NewPullAdapter(resolver, custodian)
	emitter := events.NewLogEmitter(logger)
	releaseDelay := time.Duration(cfg.ReleaseDelaySeconds) * time.Second

	engine := escrow.NewEngine()
	engine.SetState(store)
	engine.SetAdapter(adapter)
	engine.SetCustodian(custodian)
	engine.SetReleaseDelay(releaseDelay)
	engine.SetEmitter(emitter)

	var pair *escrow.PairEngine
	if cfg.Pair != nil {
		pair, err = buildPairEngine(cfg.Pair, store, adapter, emitter, custodian, releaseDelay, pushAssets)
		if err != nil {
			return err
		}
	}

	obs := gateway.NewObservability(gateway.ObservabilityConfig{
		ServiceName:   cfg.ServiceName,
		MetricsPrefix: "escrowd",
		LogRequests:   true,
	}, logger)

	server := gateway.NewServer(engine, pair, registry, custodian)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(obs),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress, "tokens", strings.Join(registry.Symbols(), ","))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func registerToken(registry *token.Registry, pushAssets map[[20]byte]*token.CallbackLedger, db storage.Database, tc config.TokenConfig, checker token.SanctionsChecker) error {
	addr, err := crypto.DecodeAddress(tc.Address)
	if err != nil {
		return fmt.Errorf("token %s: %w", tc.Symbol, err)
	}

	var ledger *token.Ledger
	if tc.Callback {
		cb := token.NewCallbackLedger(addr.Array(), tc.Symbol, db)
		pushAssets[addr.Array()] = cb
		ledger = cb.Ledger
		if err := registry.Register(cb); err != nil {
			return fmt.Errorf("token %s: %w", tc.Symbol, err)
		}
	} else {
		ledger = token.NewLedger(addr.Array(), tc.Symbol, db)
		if err := registry.Register(ledger); err != nil {
			return fmt.Errorf("token %s: %w", tc.Symbol, err)
		}
	}

	ledger.SetSanctionsChecker(checker)
	if strings.TrimSpace(tc.GodModeOperator) != "" {
		operator, err := crypto.DecodeAddress(tc.GodModeOperator)
		if err != nil {
			return fmt.Errorf("token %s god mode operator: %w", tc.Symbol, err)
		}
		ledger.SetGodModeOperator(operator.Array())
	}

	if strings.TrimSpace(tc.InitialSupply) != "" {
		supply, ok := new(big.Int).SetString(strings.TrimSpace(tc.InitialSupply), 10)
		if !ok {
			return fmt.Errorf("token %s: invalid initial supply %q", tc.Symbol, tc.InitialSupply)
		}
		holder, err := crypto.DecodeAddress(tc.InitialHolder)
		if err != nil {
			return fmt.Errorf("token %s initial holder: %w", tc.Symbol, err)
		}
		// Credit the genesis balance only on a fresh data directory.
		if ledger.BalanceOf(holder.Array()).Sign() == 0 {
			if err := ledger.Mint(holder.Array(), supply); err != nil {
				return fmt.Errorf("token %s: mint initial supply: %w", tc.Symbol, err)
			}
		}
	}
	return nil
}

func buildPairEngine(pc *config.PairConfig, store *escrow.Store, adapter escrow.TransferAdapter, emitter events.Emitter, custodian [20]byte, releaseDelay time.Duration, pushAssets map[[20]byte]*token.CallbackLedger) (*escrow.PairEngine, error) {
	buyer, err := crypto.DecodeAddress(pc.Buyer)
	if err != nil {
		return nil, fmt.Errorf("pair buyer: %w", err)
	}
	seller, err := crypto.DecodeAddress(pc.Seller)
	if err != nil {
		return nil, fmt.Errorf("pair seller: %w", err)
	}
	asset, err := crypto.DecodeAddress(pc.Asset)
	if err != nil {
		return nil, fmt.Errorf("pair asset: %w", err)
	}

	pair := escrow.NewPairEngine(buyer.Array(), seller.Array(), asset.Array())
	pair.SetState(store)
	pair.SetAdapter(adapter)
	pair.SetCustodian(custodian)
	pair.SetReleaseDelay(releaseDelay)
	pair.SetEmitter(emitter)
	if cb, ok := pushAssets[asset.Array()]; ok {
		pair.SetPushAsset(cb)
		cb.RegisterReceiver(custodian, pair)
	}
	return pair, nil
}
