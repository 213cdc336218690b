package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chainindex/coordinator/internal/registrytypes"
)

// TaskStatus mirrors the generated runner.data_layer.TaskStatus enum.
type TaskStatus int

const (
	TaskUnspecified TaskStatus = iota
	TaskPending
	TaskComplete
	TaskFailed
)

// taskTimeout bounds how long ensureProvisioned/ensureDeprovisioned will
// poll before giving up, grounded on data_layer.rs's TASK_TIMEOUT_SECONDS.
// Tests shrink these to keep the polling loop fast.
var taskTimeout = 300 * time.Second

// taskPollInterval is the cadence ensureProvisioned/ensureDeprovisioned poll
// get_task_status at.
var taskPollInterval = 1 * time.Second

// DataLayerClient is the subset of the generated
// runner.data_layer.DataLayerClient gRPC stub DataLayerHandler calls.
type DataLayerClient interface {
	StartProvisioningTask(ctx context.Context, accountID, functionName, schema string) (string, error)
	StartDeprovisioningTask(ctx context.Context, accountID, functionName string) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
}

// DataLayerHandler drives the runner's data-layer provisioner: the Postgres
// schema + materialized views backing one indexer's queryable output.
type DataLayerHandler struct {
	client DataLayerClient
	logger *zap.Logger
}

func NewDataLayerHandler(client DataLayerClient, logger *zap.Logger) (*DataLayerHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("data layer client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataLayerHandler{client: client, logger: logger}, nil
}

func (h *DataLayerHandler) startProvisioningTask(ctx context.Context, config registrytypes.IndexerConfig) (string, error) {
	taskID, err := h.client.StartProvisioningTask(ctx, config.AccountID, config.FunctionName, config.Schema)
	if err != nil {
		return "", err
	}
	return taskID, nil
}

func (h *DataLayerHandler) startDeprovisioningTask(ctx context.Context, identity registrytypes.Identity) (string, error) {
	taskID, err := h.client.StartDeprovisioningTask(ctx, identity.AccountID, identity.FunctionName)
	if err != nil {
		return "", fmt.Errorf("start deprovisioning task for %s: %w", identity.FullName(), err)
	}
	return taskID, nil
}

// getTaskStatus maps a NotFound gRPC status onto TaskFailed, mirroring
// data_layer.rs's get_task_status (a vanished task is indistinguishable
// from one that failed and was reaped).
func (h *DataLayerHandler) getTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	s, err := h.client.GetTaskStatus(ctx, taskID)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return TaskFailed, nil
		}
		return TaskUnspecified, fmt.Errorf("get task status %s: %w", taskID, err)
	}
	return s, nil
}

// pollTask blocks until taskID reaches TaskComplete, fails, or taskTimeout
// elapses, warning every 10 seconds while still pending — a line-for-line
// port of data_layer.rs's shared polling loop.
func (h *DataLayerHandler) pollTask(ctx context.Context, taskID, verb string) error {
	iterations := 0

	for {
		s, err := h.getTaskStatus(ctx, taskID)
		if err != nil {
			return err
		}

		switch s {
		case TaskComplete:
			return nil
		case TaskFailed, TaskUnspecified:
			h.logger.Warn(fmt.Sprintf("%s task failed", verb), zap.String("task_id", taskID))
			return fmt.Errorf("%s task failed", verb)
		case TaskPending:
			// keep polling
		}

		select {
		case <-time.After(taskPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}

		iterations++
		elapsed := time.Duration(iterations) * taskPollInterval
		if elapsed >= taskTimeout {
			h.logger.Warn(fmt.Sprintf("%s task timed out", verb), zap.String("task_id", taskID))
			return fmt.Errorf("%s task timed out", verb)
		}
		if elapsed%(10*taskPollInterval) == 0 {
			h.logger.Warn(fmt.Sprintf("still waiting for %s to complete", verb),
				zap.String("task_id", taskID), zap.Duration("elapsed", elapsed))
		}
	}
}

// EnsureProvisioned starts provisioning config's data layer and blocks until
// it completes. A FailedPrecondition response means it is already
// provisioned, which is treated as success.
func (h *DataLayerHandler) EnsureProvisioned(ctx context.Context, config registrytypes.IndexerConfig) error {
	taskID, err := h.startProvisioningTask(ctx, config)
	if err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return nil
		}
		return fmt.Errorf("start provisioning task for %s: %w", config.FullName(), err)
	}

	h.logger.Info("started provisioning task", zap.String("indexer", config.FullName()), zap.String("task_id", taskID))
	return h.pollTask(ctx, taskID, "provisioning")
}

// EnsureDeprovisioned starts deprovisioning identity's data layer and blocks
// until it completes.
func (h *DataLayerHandler) EnsureDeprovisioned(ctx context.Context, identity registrytypes.Identity) error {
	taskID, err := h.startDeprovisioningTask(ctx, identity)
	if err != nil {
		return err
	}

	h.logger.Info("started deprovisioning task", zap.String("indexer", identity.FullName()), zap.String("task_id", taskID))
	return h.pollTask(ctx, taskID, "deprovisioning")
}
