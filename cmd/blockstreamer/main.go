// Command blockstreamer runs the Block Stream Engine (spec §4.6) as a
// standalone gRPC server: the worker process cmd/coordinator's Worker
// Handles dial into to start, stop, and inspect per-indexer block streams.
// Mirrors the original system's two-process topology — a coordinator
// process and a block-streamer worker process — grounded on
// Outblock-flowindex/backend/cmd's single-binary-per-concern layout.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/chainindex/coordinator/internal/bitmapsource"
	"github.com/chainindex/coordinator/internal/blockstream"
	"github.com/chainindex/coordinator/internal/config"
	"github.com/chainindex/coordinator/internal/eventbus"
	"github.com/chainindex/coordinator/internal/lake"
	"github.com/chainindex/coordinator/internal/logging"
	"github.com/chainindex/coordinator/internal/rpc"
	"github.com/chainindex/coordinator/internal/store/redisstore"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "blockstreamer",
		Short: "Run the Block Stream Engine gRPC server",
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

	logger := logging.New("blockstreamer")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis_url: %w", err)
	}
	st := redisstore.New(redis.NewClient(redisOpts))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	lakeSource := lake.New(s3.NewFromConfig(awsCfg), cfg.LakeBucket)

	bitmaps := bitmapsource.NewClient(cfg.BitmapServiceURL)
	bus := eventbus.New()

	engine := blockstream.New(blockstream.Deps{
		Store:   st,
		Bitmaps: bitmaps,
		Lake:    lakeSource,
		Tailer:  lakeSource,
		Logger:  logger,
		Bus:     bus,
	})

	server := grpc.NewServer()
	desc := rpc.NewBlockStreamerServiceDesc(engine)
	server.RegisterService(&desc, nil)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on grpc port %d: %w", cfg.GRPCPort, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("block stream engine listening", zap.Int("port", cfg.GRPCPort))
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
