// ABOUTME: gRPC service descriptor for revertstore.v1.RevertService
// ABOUTME: Every method exchanges google.protobuf.Struct messages, so no generated code is needed

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "revertstore.v1.RevertService"

	// ActorHeader is the metadata key carrying the calling actor id
	ActorHeader = "x-actor-id"
)

// Method names
const (
	MethodCommit            = "Commit"
	MethodExecute           = "Execute"
	MethodGetLatest         = "GetLatest"
	MethodGetVersion        = "GetVersion"
	MethodListVersions      = "ListVersions"
	MethodDiff              = "Diff"
	MethodHistory           = "History"
	MethodChangeSet         = "ChangeSet"
	MethodUnpublishedReport = "UnpublishedReport"
	MethodSetWorkflow       = "SetWorkflow"
)

// RevertServiceServer is the server API for RevertService
type RevertServiceServer interface {
	Commit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLatest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVersions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Diff(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeSet(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnpublishedReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetWorkflow(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(RevertServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methods = map[string]unaryMethod{
	MethodCommit:            RevertServiceServer.Commit,
	MethodExecute:           RevertServiceServer.Execute,
	MethodGetLatest:         RevertServiceServer.GetLatest,
	MethodGetVersion:        RevertServiceServer.GetVersion,
	MethodListVersions:      RevertServiceServer.ListVersions,
	MethodDiff:              RevertServiceServer.Diff,
	MethodHistory:           RevertServiceServer.History,
	MethodChangeSet:         RevertServiceServer.ChangeSet,
	MethodUnpublishedReport: RevertServiceServer.UnpublishedReport,
	MethodSetWorkflow:       RevertServiceServer.SetWorkflow,
}

// FullMethod returns the gRPC path of a method
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func handler(name string, fn unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(RevertServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(RevertServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

// ServiceDesc describes RevertService for grpc.Server.RegisterService
var ServiceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*RevertServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "revertstore/v1/revert.proto",
	}
	for _, name := range []string{
		MethodCommit, MethodExecute, MethodGetLatest, MethodGetVersion, MethodListVersions,
		MethodDiff, MethodHistory, MethodChangeSet, MethodUnpublishedReport, MethodSetWorkflow,
	} {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: handler(name, methods[name])})
	}
	return desc
}()

// RegisterRevertServiceServer registers srv on s
func RegisterRevertServiceServer(s grpc.ServiceRegistrar, srv RevertServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ActorFromContext returns the actor id sent in incoming metadata
func ActorFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(ActorHeader); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
