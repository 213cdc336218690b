// Package rpc provides the gRPC transport for the Worker Handles (spec
// §4.7). The original system dials protoc-generated stubs for
// block_streamer.proto and runner.proto; neither .proto file is part of
// this retrieval pack, so every call here is encoded as a
// structpb.Struct instead of a generated message — the same proto.Message
// machinery grpc.ClientConn.Invoke expects, just without code generation.
// Grounded on
// Outblock-flowindex/backend/internal/flow/client.go's dial/invoke idiom.
package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// invoke marshals req into a structpb.Struct, calls method over cc, and
// returns the reply struct.
func invoke(ctx context.Context, cc *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	args, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	reply := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, args, reply); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	return reply, nil
}

func fieldString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func fieldFloat(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func fieldU64(m map[string]any, key string) uint64 {
	return uint64(fieldFloat(m, key))
}

func fieldBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
