package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chainindex/coordinator/internal/handlers"
)

const (
	methodListExecutors  = "/chainindex.runner.Runner/ListExecutors"
	methodGetExecutor    = "/chainindex.runner.Runner/GetExecutor"
	methodStartExecutor  = "/chainindex.runner.Runner/StartExecutor"
	methodStopExecutor   = "/chainindex.runner.Runner/StopExecutor"
	methodStartProvision = "/chainindex.runner.DataLayer/StartProvisioningTask"
	methodStartDeprov    = "/chainindex.runner.DataLayer/StartDeprovisioningTask"
	methodGetTaskStatus  = "/chainindex.runner.DataLayer/GetTaskStatus"
)

// RunnerClient implements both handlers.ExecutorClient and
// handlers.DataLayerClient over a dialed connection to the external runner
// service (spec §2's "Worker Handles" are outbound-only clients; this
// system never hosts the runner side).
type RunnerClient struct {
	cc *grpc.ClientConn
}

// NewRunnerClient wraps a connection opened with handlers.Dial.
func NewRunnerClient(cc *grpc.ClientConn) *RunnerClient {
	return &RunnerClient{cc: cc}
}

var (
	_ handlers.ExecutorClient  = (*RunnerClient)(nil)
	_ handlers.DataLayerClient = (*RunnerClient)(nil)
)

func (c *RunnerClient) ListExecutors(ctx context.Context) ([]handlers.ExecutorInfo, error) {
	reply, err := invoke(ctx, c.cc, methodListExecutors, map[string]any{})
	if err != nil {
		return nil, err
	}

	raw, _ := reply.AsMap()["executors"].([]any)
	out := make([]handlers.ExecutorInfo, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, handlers.ExecutorInfo{
			ExecutorID: fieldString(m, "executor_id"),
			Version:    fieldU64(m, "version"),
		})
	}
	return out, nil
}

func (c *RunnerClient) GetExecutor(ctx context.Context, accountID, functionName string) (*handlers.ExecutorInfo, error) {
	reply, err := invoke(ctx, c.cc, methodGetExecutor, map[string]any{
		"account_id":    accountID,
		"function_name": functionName,
	})
	if err != nil {
		return nil, err
	}
	fields := reply.AsMap()
	if !fieldBool(fields, "found") {
		return nil, status.Error(codes.NotFound, "executor not found")
	}
	return &handlers.ExecutorInfo{
		ExecutorID: fieldString(fields, "executor_id"),
		Version:    fieldU64(fields, "version"),
	}, nil
}

func (c *RunnerClient) StartExecutor(ctx context.Context, req handlers.StartExecutorRequest) error {
	_, err := invoke(ctx, c.cc, methodStartExecutor, map[string]any{
		"code":          req.Code,
		"schema":        req.Schema,
		"redis_stream":  req.RedisStream,
		"version":       float64(req.Version),
		"account_id":    req.AccountID,
		"function_name": req.FunctionName,
	})
	return err
}

func (c *RunnerClient) StopExecutor(ctx context.Context, executorID string) error {
	_, err := invoke(ctx, c.cc, methodStopExecutor, map[string]any{"executor_id": executorID})
	return err
}

func (c *RunnerClient) StartProvisioningTask(ctx context.Context, accountID, functionName, schema string) (string, error) {
	reply, err := invoke(ctx, c.cc, methodStartProvision, map[string]any{
		"account_id":    accountID,
		"function_name": functionName,
		"schema":        schema,
	})
	if err != nil {
		return "", err
	}
	return fieldString(reply.AsMap(), "task_id"), nil
}

func (c *RunnerClient) StartDeprovisioningTask(ctx context.Context, accountID, functionName string) (string, error) {
	reply, err := invoke(ctx, c.cc, methodStartDeprov, map[string]any{
		"account_id":    accountID,
		"function_name": functionName,
	})
	if err != nil {
		return "", err
	}
	return fieldString(reply.AsMap(), "task_id"), nil
}

func (c *RunnerClient) GetTaskStatus(ctx context.Context, taskID string) (handlers.TaskStatus, error) {
	reply, err := invoke(ctx, c.cc, methodGetTaskStatus, map[string]any{"task_id": taskID})
	if err != nil {
		return handlers.TaskUnspecified, err
	}
	return handlers.TaskStatus(int(fieldFloat(reply.AsMap(), "status"))), nil
}
