package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"swapnet/observability/logging"
	telemetry "swapnet/observability/otel"
	"swapnet/services/swapd/config"
	"swapnet/services/swapd/feeds"
	"swapnet/services/swapd/oracle"
	"swapnet/services/swapd/server"
	"swapnet/services/swapd/storage"
	ledgerstore "swapnet/storage"

	swap "swapnet/native/swap"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/swapd/config.yaml", "path to swapd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SWAPNET_ENV"))
	logger := logging.Setup("swapd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "swapd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
	if err != nil {
		log.Fatalf("swapd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("swapd: load config: %v", err)
	}

	ledger, err := ledgerstore.OpenLevelLedger(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("swapd: open ledger: %v", err)
	}
	defer ledger.Close()

	var history *storage.Storage
	if strings.TrimSpace(cfg.HistoryPath) != "" {
		dsn, err := storage.FileDSN(cfg.HistoryPath)
		if err != nil {
			log.Fatalf("swapd: resolve history DSN: %v", err)
		}
		history, err = storage.Open(dsn)
		if err != nil {
			log.Fatalf("swapd: open history: %v", err)
		}
		defer history.Close()
	}

	sources := make([]feeds.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, feeds.Source{
			Name:     src.Name,
			Endpoint: src.Endpoint,
			APIKey:   src.APIKey,
			Assets:   src.Assets,
		})
	}
	feed, err := feeds.NewClient(nil, sources)
	if err != nil {
		log.Fatalf("swapd: feed client: %v", err)
	}

	registry := swap.NewRegistry(ledger)
	if err := registry.Init(cfg.Admin); err != nil && !errors.Is(err, swap.ErrAlreadyExists) {
		log.Fatalf("swapd: init registry: %v", err)
	}
	symbols := make([]string, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(asset.Symbol)))
		if err := registry.RegisterAsset(cfg.Admin, asset.Symbol, asset.Decimals); err != nil && !errors.Is(err, swap.ErrAlreadyExists) {
			log.Fatalf("swapd: register asset %s: %v", asset.Symbol, err)
		}
	}

	engineCfg := cfg.EngineSettings()
	aggregator := swap.NewOracleAggregator(ledger, feed, engineCfg)
	vaults := swap.NewVaultStore(ledger)
	matcher := swap.NewMatcher(ledger, aggregator, engineCfg)
	engine := swap.NewEngine(ledger, matcher)

	mgr, err := oracle.New(aggregator, history, symbols,
		cfg.Oracle.Interval.Duration, engineCfg.OraclePolicy, oracle.WithLogger(logger))
	if err != nil {
		log.Fatalf("swapd: oracle manager: %v", err)
	}

	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress},
		engine, vaults, aggregator, history, logger)
	if err != nil {
		log.Fatalf("swapd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle manager exited", "error", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}
