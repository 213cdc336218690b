// Command coordinator runs the control plane: the Synchroniser discovering
// indexers from the on-chain registry, one Lifecycle Manager task per
// discovered indexer, and the Prometheus metrics endpoint those tasks feed.
// Mirrors the original system's coordinator process, grounded on
// Outblock-flowindex/backend/cmd's cobra-based binary entrypoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chainindex/coordinator/internal/config"
	"github.com/chainindex/coordinator/internal/eventbus"
	"github.com/chainindex/coordinator/internal/handlers"
	"github.com/chainindex/coordinator/internal/indexerstate"
	"github.com/chainindex/coordinator/internal/lifecycle"
	"github.com/chainindex/coordinator/internal/logging"
	"github.com/chainindex/coordinator/internal/metrics"
	"github.com/chainindex/coordinator/internal/registry"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/rpc"
	"github.com/chainindex/coordinator/internal/store/redisstore"
	"github.com/chainindex/coordinator/internal/synchroniser"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the indexer control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the coordinator config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New("coordinator")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.NewPostgresRegistry(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect registry: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis_url: %w", err)
	}
	st := redisstore.New(redis.NewClient(redisOpts))

	states, err := indexerstate.NewManager(st)
	if err != nil {
		return fmt.Errorf("init state manager: %w", err)
	}

	blockStreamerConn, err := handlers.Dial(cfg.BlockStreamerAddr)
	if err != nil {
		return fmt.Errorf("dial block streamer: %w", err)
	}
	defer blockStreamerConn.Close()

	runnerConn, err := handlers.Dial(cfg.RunnerAddr)
	if err != nil {
		return fmt.Errorf("dial runner: %w", err)
	}
	defer runnerConn.Close()

	blockStreams, err := handlers.NewBlockStreamsHandler(rpc.NewBlockStreamerClient(blockStreamerConn), st, logger)
	if err != nil {
		return fmt.Errorf("init block streams handler: %w", err)
	}
	runner := rpc.NewRunnerClient(runnerConn)
	executors, err := handlers.NewExecutorsHandler(runner, logger)
	if err != nil {
		return fmt.Errorf("init executors handler: %w", err)
	}
	dataLayer, err := handlers.NewDataLayerHandler(runner, logger)
	if err != nil {
		return fmt.Errorf("init data layer handler: %w", err)
	}

	bus := eventbus.New()
	metricsRegistry := metrics.New()
	metricsRegistry.Subscribe(bus)
	go serveMetrics(cfg.MetricsPort, metricsRegistry, logger)

	factory := func(identity registrytypes.Identity) (synchroniser.Task, error) {
		return lifecycle.New(identity, lifecycle.Deps{
			Registry:            reg,
			States:              states,
			BlockStreams:        blockStreams,
			Executors:           executors,
			DataLayer:           dataLayer,
			Bus:                 bus,
			Logger:              logger,
			DeprovisionOnDelete: cfg.DeprovisionOnDelete,
		})
	}

	sync, err := synchroniser.New(reg, factory, cfg.SynchroniserInterval, logger)
	if err != nil {
		return fmt.Errorf("init synchroniser: %w", err)
	}

	logger.Info("coordinator started", zap.Duration("synchroniser_interval", cfg.SynchroniserInterval))
	sync.Run(ctx)
	return nil
}

func serveMetrics(port int, reg *metrics.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
