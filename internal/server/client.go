package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Caller invokes RevertService methods by name on behalf of an actor
type Caller interface {
	Call(ctx context.Context, method, actorID string, req *structpb.Struct) (*structpb.Struct, error)
}

// Client calls a remote RevertService over a gRPC connection
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Call(ctx context.Context, method, actorID string, req *structpb.Struct) (*structpb.Struct, error) {
	if actorID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ActorHeader, actorID)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Execute reverts a record and returns the outcome struct
func (c *Client) Execute(ctx context.Context, actorID, recordType, recordID, rawVersion string) (*structpb.Struct, error) {
	return c.Call(ctx, MethodExecute, actorID, RequestFor(map[string]any{
		"type": recordType, "id": recordID, "version": rawVersion,
	}))
}

// History lists the review rows of a record
func (c *Client) History(ctx context.Context, actorID, recordType, recordID string, viewing int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodHistory, actorID, RequestFor(map[string]any{
		"type": recordType, "id": recordID, "viewing": viewing,
	}))
}

// Local dispatches calls to an in-process server, as if they came over the wire
type Local struct {
	srv RevertServiceServer
}

// NewLocal wraps srv
func NewLocal(srv RevertServiceServer) *Local {
	return &Local{srv: srv}
}

func (l *Local) Call(ctx context.Context, method, actorID string, req *structpb.Struct) (*structpb.Struct, error) {
	fn, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(ActorHeader, actorID))
	return fn(l.srv, ctx, req)
}

var (
	_ Caller = (*Client)(nil)
	_ Caller = (*Local)(nil)
)
