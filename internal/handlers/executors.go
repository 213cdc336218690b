package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store"
)

// ExecutorInfo mirrors the generated runner.ExecutorInfo message.
type ExecutorInfo struct {
	ExecutorID string
	Version    uint64
}

// ExecutorClient is the subset of the generated runner.RunnerClient gRPC
// stub ExecutorsHandler calls, grounded on
// original_source/coordinator/src/handlers/executors.rs.
type ExecutorClient interface {
	ListExecutors(ctx context.Context) ([]ExecutorInfo, error)
	GetExecutor(ctx context.Context, accountID, functionName string) (*ExecutorInfo, error)
	StartExecutor(ctx context.Context, req StartExecutorRequest) error
	StopExecutor(ctx context.Context, executorID string) error
}

// StartExecutorRequest mirrors the generated StartExecutorRequest message.
type StartExecutorRequest struct {
	Code         string
	Schema       string
	RedisStream  string
	Version      uint64
	AccountID    string
	FunctionName string
}

// ExecutorsHandler wraps an ExecutorClient with retry and identity-aware
// convenience methods.
type ExecutorsHandler struct {
	client ExecutorClient
	logger *zap.Logger
}

// NewExecutorsHandler wraps an already-dialed ExecutorClient.
func NewExecutorsHandler(client ExecutorClient, logger *zap.Logger) (*ExecutorsHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("executor client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutorsHandler{client: client, logger: logger}, nil
}

// List returns every known executor, retrying transient failures with
// exponential backoff (spec §4.9's reconciliation pass treats the executor
// list as ground truth for orphan detection).
func (h *ExecutorsHandler) List(ctx context.Context) ([]ExecutorInfo, error) {
	result, err := exponentialRetry(ctx, func() ([]ExecutorInfo, error) {
		executors, err := h.client.ListExecutors(ctx)
		if err != nil {
			return nil, fmt.Errorf("list executors: %w", err)
		}
		return executors, nil
	})
	return result, err
}

func (h *ExecutorsHandler) Get(ctx context.Context, identity registrytypes.Identity) (*ExecutorInfo, error) {
	info, err := h.client.GetExecutor(ctx, identity.AccountID, identity.FunctionName)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get executor for %s: %w", identity.FullName(), err)
	}
	return info, nil
}

func (h *ExecutorsHandler) Start(ctx context.Context, config registrytypes.IndexerConfig) error {
	keys := store.NewKeys(config.AccountID, config.FunctionName)
	req := StartExecutorRequest{
		Code:         config.Code,
		Schema:       config.Schema,
		RedisStream:  keys.BlockStream(),
		Version:      config.RegistryVersion(),
		AccountID:    config.AccountID,
		FunctionName: config.FunctionName,
	}
	if err := h.client.StartExecutor(ctx, req); err != nil {
		return fmt.Errorf("start executor %s: %w", config.FullName(), err)
	}
	h.logger.Debug("start executor response",
		zap.String("indexer", config.FullName()), zap.Uint64("version", config.RegistryVersion()))
	return nil
}

func (h *ExecutorsHandler) Stop(ctx context.Context, executorID string) error {
	if err := h.client.StopExecutor(ctx, executorID); err != nil {
		return fmt.Errorf("stop executor %s: %w", executorID, err)
	}
	return nil
}

// Synchronise ensures the executor running for config is on the registry's
// current version, stopping a stale one and starting a fresh one in its
// place.
func (h *ExecutorsHandler) Synchronise(ctx context.Context, config registrytypes.IndexerConfig) error {
	executor, err := h.Get(ctx, config.Identity)
	if err != nil {
		return err
	}

	if executor != nil {
		if executor.Version == config.RegistryVersion() {
			return nil
		}
		h.logger.Info("stopping outdated executor",
			zap.String("indexer", config.FullName()), zap.Uint64("version", executor.Version))
		if err := h.Stop(ctx, executor.ExecutorID); err != nil {
			return err
		}
	}

	h.logger.Info("starting executor",
		zap.String("indexer", config.FullName()), zap.Uint64("version", config.RegistryVersion()))
	return h.Start(ctx, config)
}

// StopIfNeeded stops the running executor for identity, if one exists.
func (h *ExecutorsHandler) StopIfNeeded(ctx context.Context, identity registrytypes.Identity) error {
	executor, err := h.Get(ctx, identity)
	if err != nil {
		return err
	}
	if executor == nil {
		return nil
	}
	h.logger.Info("stopping executor", zap.String("indexer", identity.FullName()))
	return h.Stop(ctx, executor.ExecutorID)
}
