package handlers

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// exponentialRetry retries fn on transient gRPC failures (ResourceExhausted,
// Unavailable, DeadlineExceeded) with exponential backoff, grounded on
// Outblock-flowindex/backend/internal/flow/client.go's withRetry. Any other
// error — including a non-gRPC one — is returned immediately.
func exponentialRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	const maxRetries = 5
	const baseBackoff = 500 * time.Millisecond

	var zero T
	for i := 0; i < maxRetries; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		st, ok := status.FromError(err)
		if !ok {
			return zero, err
		}

		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded:
			if i == maxRetries-1 {
				return zero, fmt.Errorf("max retries reached: %w", err)
			}
			wait := baseBackoff * time.Duration(1<<i)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		default:
			return zero, err
		}
	}
	return zero, nil
}
