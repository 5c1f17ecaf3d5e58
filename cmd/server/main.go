// Command server runs the evalbench gRPC services and the HTTP gateway in
// one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/instantcocoa/evalbench/pkg/cache"
	"github.com/instantcocoa/evalbench/pkg/config"
	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/pkg/telemetry"
	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/eval"
	"github.com/instantcocoa/evalbench/services/gateway"
	"github.com/instantcocoa/evalbench/services/prompt"
	"github.com/instantcocoa/evalbench/services/providers"
)

const serviceName = "evalbench"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     serviceName,
		ServiceVersion:  cfg.Version,
		Environment:     cfg.Environment,
		OTLPEndpoint:    cfg.OTLPEndpoint,
		TracingEnabled:  cfg.TracingEnabled,
		TracingSampling: cfg.TracingSampling,
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	logger := tp.Logger()

	var redisClient *cache.Client
	if cfg.UseRedisStorage() {
		redisCfg := cache.DefaultConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB

		redisClient, err = cache.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		redisClient.WithLogger(logger).WithKeyPrefix(serviceName)
		logger.Info("session state in redis", "addr", cfg.RedisAddr)
	}

	datasetStore := session.NewStore[datasets.Dataset](cfg, redisClient, "dataset")
	promptStore := session.NewStore[prompt.Library](cfg, redisClient, "prompts")
	providerStore := session.NewStore[providers.Settings](cfg, redisClient, "providers")
	runStore := eval.NewMemoryStore(cfg.SessionTTL)

	sources := &datasets.SourceFactory{
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
		AllowLocalFiles:    cfg.IsDevelopment(),
		AllowRemoteSources: cfg.AllowRemoteSources,
	}
	datasetSvc := datasets.NewDatasetsService(datasetStore, sources, cfg.MaxUploadBytes, logger)
	promptSvc := prompt.NewPromptService(promptStore, datasetSvc, logger)
	providerSvc := providers.NewProvidersService(providerStore, cfg.ProviderTestLatency, logger)
	evalSvc := eval.NewEvalService(
		runStore,
		datasetSvc,
		promptSvc,
		providerSvc,
		eval.NewRunner(cfg.EvalTickInterval, cfg.EvalConcurrency),
		logger,
	)
	defer evalSvc.Close()

	serverCfg := grpcutil.DefaultServerConfig(cfg.GRPCPort, serviceName)
	serverCfg.EnableTracing = cfg.TracingEnabled
	server := grpcutil.NewServer(serverCfg, logger,
		datasets.NewHandler(logger, datasetSvc).Service(),
		prompt.NewHandler(logger, promptSvc).Service(),
		providers.NewHandler(logger, providerSvc).Service(),
		eval.NewHandler(logger, evalSvc).Service(),
	)

	gw := gateway.New(gateway.Services{
		Datasets:  datasetSvc,
		Prompts:   promptSvc,
		Providers: providerSvc,
		Evals:     evalSvc,
	}, gateway.Config{
		Port:            cfg.HTTPPort,
		Version:         cfg.Version,
		Environment:     cfg.Environment,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		ShutdownTimeout: serverCfg.ShutdownTimeout,
	}, logger)

	logger.Info("starting evalbench",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"storage", cfg.StorageBackend,
		"env", cfg.Environment,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error {
		// Redis expires its own keys; memory stores need sweeping.
		sweepers := []session.Sweeper{runStore}
		for _, s := range []any{datasetStore, promptStore, providerStore} {
			if sw, ok := s.(session.Sweeper); ok {
				sweepers = append(sweepers, sw)
			}
		}
		session.RunSweeper(gctx, time.Minute, sweepers...)
		return nil
	})

	return g.Wait()
}
