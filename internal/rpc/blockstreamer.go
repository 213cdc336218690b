package rpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chainindex/coordinator/internal/blockstream"
	"github.com/chainindex/coordinator/internal/handlers"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store"
)

const (
	methodStartStream = "/chainindex.BlockStreamer/StartStream"
	methodStopStream  = "/chainindex.BlockStreamer/StopStream"
	methodGetStream   = "/chainindex.BlockStreamer/GetStream"
)

// BlockStreamerClient implements handlers.BlockStreamerClient over a dialed
// connection to a cmd/blockstreamer process.
type BlockStreamerClient struct {
	cc *grpc.ClientConn
}

// NewBlockStreamerClient wraps a connection opened with handlers.Dial.
func NewBlockStreamerClient(cc *grpc.ClientConn) *BlockStreamerClient {
	return &BlockStreamerClient{cc: cc}
}

var _ handlers.BlockStreamerClient = (*BlockStreamerClient)(nil)

func (c *BlockStreamerClient) StartStream(ctx context.Context, req handlers.StartStreamRequest) error {
	_, err := invoke(ctx, c.cc, methodStartStream, map[string]any{
		"start_block_height": float64(req.StartBlockHeight),
		"version":             float64(req.Version),
		"redis_stream":        req.RedisStream,
		"account_id":          req.AccountID,
		"function_name":       req.FunctionName,
		"rule":                encodeRule(req.Rule),
	})
	return err
}

func (c *BlockStreamerClient) StopStream(ctx context.Context, streamID string) error {
	_, err := invoke(ctx, c.cc, methodStopStream, map[string]any{"stream_id": streamID})
	return err
}

func (c *BlockStreamerClient) GetStream(ctx context.Context, accountID, functionName string) (*blockstream.StreamInfo, error) {
	reply, err := invoke(ctx, c.cc, methodGetStream, map[string]any{
		"account_id":    accountID,
		"function_name": functionName,
	})
	if err != nil {
		return nil, err
	}

	fields := reply.AsMap()
	if !fieldBool(fields, "found") {
		return nil, status.Error(codes.NotFound, "stream not found")
	}

	info := &blockstream.StreamInfo{
		Identity: registrytypes.Identity{AccountID: accountID, FunctionName: functionName},
		Version:  fieldU64(fields, "version"),
	}
	if healthState := fieldString(fields, "processing_state"); healthState != "" {
		info.Health = &blockstream.Health{
			UpdatedAt:       time.UnixMilli(int64(fieldFloat(fields, "updated_at_unix_ms"))),
			ProcessingState: blockstream.ProcessingState(healthState),
		}
	}
	return info, nil
}

// blockStreamerServer adapts a *blockstream.Engine to the dynamic
// BlockStreamer ServiceDesc below.
type blockStreamerServer struct {
	engine *blockstream.Engine
}

// NewBlockStreamerServiceDesc returns the grpc.ServiceDesc cmd/blockstreamer
// registers against engine, the server-side counterpart of
// BlockStreamerClient.
func NewBlockStreamerServiceDesc(engine *blockstream.Engine) grpc.ServiceDesc {
	srv := &blockStreamerServer{engine: engine}
	return grpc.ServiceDesc{
		ServiceName: "chainindex.BlockStreamer",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "StartStream", Handler: srv.handleStartStream},
			{MethodName: "StopStream", Handler: srv.handleStopStream},
			{MethodName: "GetStream", Handler: srv.handleGetStream},
		},
		Metadata: "internal/rpc/blockstreamer.go",
	}
}

func decodeRequest(dec func(any) error) (map[string]any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	return req.AsMap(), nil
}

func structValue(fields map[string]any) (any, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return s, nil
}

func emptyReply() (any, error) {
	return structValue(map[string]any{})
}

// identityFromStreamID recovers the Identity encoded in FullName() form
// ("account_id/function_name"), the value BlockStreamsHandler.Stop passes
// as stream_id.
func identityFromStreamID(streamID string) (registrytypes.Identity, bool) {
	accountID, functionName, ok := strings.Cut(streamID, "/")
	if !ok {
		return registrytypes.Identity{}, false
	}
	identity := registrytypes.Identity{AccountID: accountID, FunctionName: functionName}
	return identity, identity.Valid()
}

func (s *blockStreamerServer) handleStartStream(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	fields, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}

	config := registrytypes.IndexerConfig{
		Identity: registrytypes.Identity{
			AccountID:    fieldString(fields, "account_id"),
			FunctionName: fieldString(fields, "function_name"),
		},
		Rule: decodeRule(fields["rule"].(map[string]any)),
	}
	version := fieldU64(fields, "version")
	config.UpdatedAtBlockHeight = &version

	keys := store.NewKeys(config.AccountID, config.FunctionName)
	// The task outlives this RPC, whose context ends when the call returns;
	// StopStream is what cancels it.
	if err := s.engine.Start(context.Background(), config, fieldU64(fields, "start_block_height"), keys); err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return emptyReply()
}

func (s *blockStreamerServer) handleStopStream(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	fields, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}

	identity, ok := identityFromStreamID(fieldString(fields, "stream_id"))
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "malformed stream_id")
	}
	if err := s.engine.Stop(identity); err != nil {
		return nil, fmt.Errorf("stop stream: %w", err)
	}
	return emptyReply()
}

func (s *blockStreamerServer) handleGetStream(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	fields, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}

	identity := registrytypes.Identity{
		AccountID:    fieldString(fields, "account_id"),
		FunctionName: fieldString(fields, "function_name"),
	}
	info, ok := s.engine.Status(identity)
	if !ok {
		return structValue(map[string]any{"found": false})
	}

	reply := map[string]any{"found": true, "version": float64(info.Version)}
	if info.Health != nil {
		reply["processing_state"] = string(info.Health.ProcessingState)
		reply["updated_at_unix_ms"] = float64(info.Health.UpdatedAt.UnixMilli())
	}
	return structValue(reply)
}
