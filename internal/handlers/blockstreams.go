// Package handlers implements the Worker Handles (spec §4.7): thin gRPC
// client wrappers the Lifecycle Manager and Synchroniser call instead of
// driving the Block Stream Engine or the data-layer provisioner directly.
// Grounded on
// Outblock-flowindex/backend/internal/flow/client.go's multi-endpoint gRPC
// wrapper idiom (dial options, per-call error wrapping) and on
// original_source/coordinator/src/handlers/block_streams.rs line-for-line
// for get_status's priority rules and the resume/reconfigure/restart
// derived methods.
package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/chainindex/coordinator/internal/blockstream"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store"
)

// BlockStreamStatus is the reconciled state of one indexer's block stream,
// as seen from the coordinator side (spec §4.7/§4.8).
type BlockStreamStatus int

const (
	// StatusActive: the stream is running, synced to the current registry
	// version, and healthy.
	StatusActive BlockStreamStatus = iota
	// StatusUnhealthy: the stream is running but stale or Stalled.
	StatusUnhealthy
	// StatusInactive: no stream is running, although the current registry
	// version was synchronised before; the Lifecycle Manager resumes it.
	StatusInactive
	// StatusUnsynced: either a running stream's version has drifted from
	// the registry, or the coordinator's own record of the last version it
	// synchronised no longer matches.
	StatusUnsynced
	// StatusNotStarted: this indexer has never been synchronised before.
	StatusNotStarted
)

func (s BlockStreamStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusUnhealthy:
		return "UNHEALTHY"
	case StatusInactive:
		return "INACTIVE"
	case StatusUnsynced:
		return "UNSYNCED"
	default:
		return "NOT_STARTED"
	}
}

// BlockStreamerClient is the subset of the generated
// block_streamer.BlockStreamerClient gRPC stub this handler calls.
// cmd/coordinator supplies internal/rpc's structpb-based client; tests
// substitute a fake.
type BlockStreamerClient interface {
	StartStream(ctx context.Context, req StartStreamRequest) error
	StopStream(ctx context.Context, streamID string) error
	GetStream(ctx context.Context, accountID, functionName string) (*blockstream.StreamInfo, error)
}

// StartStreamRequest mirrors the generated StartStreamRequest proto message.
type StartStreamRequest struct {
	StartBlockHeight uint64
	Version          uint64
	RedisStream      string
	AccountID        string
	FunctionName     string
	Rule             registrytypes.Rule
}

// BlockStreamsHandler wraps a BlockStreamerClient with the coordinator's
// higher-level start/resume/reconfigure/restart vocabulary.
type BlockStreamsHandler struct {
	client BlockStreamerClient
	store  store.Store
	logger *zap.Logger
}

// NewBlockStreamsHandler wraps an already-dialed BlockStreamerClient (see
// Dial) with the coordinator's start/resume/reconfigure/restart vocabulary.
func NewBlockStreamsHandler(client BlockStreamerClient, st store.Store, logger *zap.Logger) (*BlockStreamsHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("block streamer client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockStreamsHandler{client: client, store: st, logger: logger}, nil
}

// Dial opens a gRPC connection to target using the standard
// insecure-transport dial options for an in-cluster service-mesh endpoint,
// mirroring flow/client.go's grpcDialOptionsFromEnv.
func Dial(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

func (h *BlockStreamsHandler) Stop(ctx context.Context, streamID string) error {
	if err := h.client.StopStream(ctx, streamID); err != nil {
		return fmt.Errorf("stop stream %s: %w", streamID, err)
	}
	return nil
}

// Get returns the stream's current StreamInfo, or nil if no stream is
// running for this identity (a gRPC NotFound is not an error here).
func (h *BlockStreamsHandler) Get(ctx context.Context, identity registrytypes.Identity) (*blockstream.StreamInfo, error) {
	info, err := h.client.GetStream(ctx, identity.AccountID, identity.FunctionName)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream for %s: %w", identity.FullName(), err)
	}
	return info, nil
}

func (h *BlockStreamsHandler) Start(ctx context.Context, startBlockHeight uint64, config registrytypes.IndexerConfig) error {
	switch config.Rule.Kind {
	case registrytypes.RuleActionAny, registrytypes.RuleActionFunctionCall:
		// supported
	default:
		h.logger.Error("encountered unsupported indexer rule", zap.String("indexer", config.FullName()))
		return nil
	}

	keys := store.NewKeys(config.AccountID, config.FunctionName)
	req := StartStreamRequest{
		StartBlockHeight: startBlockHeight,
		Version:          config.RegistryVersion(),
		RedisStream:      keys.BlockStream(),
		AccountID:        config.AccountID,
		FunctionName:     config.FunctionName,
		Rule:             config.Rule,
	}

	if err := h.client.StartStream(ctx, req); err != nil {
		return fmt.Errorf("start stream %s: %w", config.FullName(), err)
	}
	h.logger.Debug("start stream response",
		zap.String("indexer", config.FullName()), zap.Uint64("version", config.RegistryVersion()))
	return nil
}

// getContinuationBlockHeight resumes from last_published_block + 1, falling
// back to the registry version if the store has no record (spec §4.6
// StartContinue semantics, invariant 1 from spec §8).
func (h *BlockStreamsHandler) getContinuationBlockHeight(ctx context.Context, config registrytypes.IndexerConfig) (uint64, error) {
	keys := store.NewKeys(config.AccountID, config.FunctionName)
	v, ok, err := h.store.Get(ctx, keys.LastPublishedBlock())
	if err != nil {
		return 0, fmt.Errorf("read last_published_block for %s: %w", config.FullName(), err)
	}
	if !ok {
		h.logger.Warn("failed to get continuation block height, using registry version instead",
			zap.String("indexer", config.FullName()))
		return config.RegistryVersion(), nil
	}
	var height uint64
	if _, err := fmt.Sscanf(v, "%d", &height); err != nil {
		return 0, fmt.Errorf("parse last_published_block %q for %s: %w", v, config.FullName(), err)
	}
	return height + 1, nil
}

// Resume restarts the stream from its last published height.
func (h *BlockStreamsHandler) Resume(ctx context.Context, config registrytypes.IndexerConfig) error {
	height, err := h.getContinuationBlockHeight(ctx, config)
	if err != nil {
		return err
	}
	h.logger.Info("resuming block stream", zap.String("indexer", config.FullName()), zap.Uint64("height", height))
	return h.Start(ctx, height, config)
}

// Reconfigure stops any running stream for this identity, clears the
// cached stream state when start_block isn't Continue, resolves the new
// start height, and starts a fresh stream — spec §4.8's response to a
// registry config change on an already-Synced indexer.
func (h *BlockStreamsHandler) Reconfigure(ctx context.Context, config registrytypes.IndexerConfig) error {
	if err := h.StopIfNeeded(ctx, config.Identity); err != nil {
		return err
	}

	keys := store.NewKeys(config.AccountID, config.FunctionName)
	if config.StartBlock.Kind != registrytypes.StartContinue {
		if err := h.store.Del(ctx, keys.BlockStream()); err != nil {
			return fmt.Errorf("clear block stream for %s: %w", config.FullName(), err)
		}
	}

	var height uint64
	switch config.StartBlock.Kind {
	case registrytypes.StartHeight:
		height = config.StartBlock.Height
	case registrytypes.StartContinue:
		h2, err := h.getContinuationBlockHeight(ctx, config)
		if err != nil {
			return err
		}
		height = h2
	default: // StartLatest
		height = config.RegistryVersion()
	}

	h.logger.Info("starting block stream", zap.String("indexer", config.FullName()), zap.Uint64("height", height))
	return h.Start(ctx, height, config)
}

// StartNewBlockStream starts a stream for an indexer the coordinator has
// never synchronised before; StartContinue is meaningless here (there is
// nothing to continue from) and falls back to the registry version.
func (h *BlockStreamsHandler) StartNewBlockStream(ctx context.Context, config registrytypes.IndexerConfig) error {
	var height uint64
	switch config.StartBlock.Kind {
	case registrytypes.StartHeight:
		height = config.StartBlock.Height
	case registrytypes.StartContinue:
		h.logger.Warn("attempted to start new block stream with CONTINUE, using registry version instead",
			zap.String("indexer", config.FullName()))
		height = config.RegistryVersion()
	default:
		height = config.RegistryVersion()
	}

	h.logger.Info("starting block stream", zap.String("indexer", config.FullName()), zap.Uint64("height", height))
	return h.Start(ctx, height, config)
}

// StopIfNeeded stops the running stream for identity, if one exists.
func (h *BlockStreamsHandler) StopIfNeeded(ctx context.Context, identity registrytypes.Identity) error {
	info, err := h.Get(ctx, identity)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	h.logger.Info("stopping block stream", zap.String("indexer", identity.FullName()))
	return h.Stop(ctx, identity.FullName())
}

// isHealthy reports whether info is both fresh (updated within
// blockstream.StalledAfter) and not itself reporting Stalled.
func isHealthy(info *blockstream.StreamInfo) bool {
	if info == nil || info.Health == nil {
		return false
	}
	return !info.Health.Unhealthy()
}

// GetStatus implements get_status's priority-ordered rules:
//  1. a running stream whose version has drifted from the registry is
//     Unsynced, regardless of health;
//  2. a running stream that is unhealthy is Unhealthy;
//  3. otherwise a running stream is Active;
//  4. with no running stream, an indexer never synchronised before is
//     NotStarted;
//  5. an indexer whose previously recorded sync version no longer matches
//     the registry is Unsynced (a config change raced the stream's exit);
//  6. otherwise it is simply Inactive.
func (h *BlockStreamsHandler) GetStatus(ctx context.Context, config registrytypes.IndexerConfig, previousSyncVersion *uint64) (BlockStreamStatus, error) {
	info, err := h.Get(ctx, config.Identity)
	if err != nil {
		return 0, err
	}

	if info != nil {
		if info.Version != config.RegistryVersion() {
			return StatusUnsynced, nil
		}
		if !isHealthy(info) {
			return StatusUnhealthy, nil
		}
		return StatusActive, nil
	}

	if previousSyncVersion == nil {
		return StatusNotStarted, nil
	}
	if *previousSyncVersion != config.RegistryVersion() {
		return StatusUnsynced, nil
	}
	return StatusInactive, nil
}

// Restart stops any currently running stream (ignoring the "none running"
// case) and resumes from the last published height.
func (h *BlockStreamsHandler) Restart(ctx context.Context, config registrytypes.IndexerConfig) error {
	info, err := h.Get(ctx, config.Identity)
	if err != nil {
		return err
	}
	if info != nil {
		if err := h.Stop(ctx, config.FullName()); err != nil {
			return err
		}
	}
	return h.Resume(ctx, config)
}
