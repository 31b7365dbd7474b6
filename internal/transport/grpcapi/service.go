// Package grpcapi exposes the compliance operations over gRPC. Messages are
// google.protobuf.Struct values whose fields mirror the JSON shape of the
// service types; the tenant travels in the x-tenant-id metadata key.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "fiscal.v1.ComplianceService"

// ComplianceServer is the server API for the compliance service.
type ComplianceServer interface {
	BeginAuthorization(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteAuthorization(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConnectionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitInvoice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitAuditFile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetrySubmission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSubmissions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDashboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Generate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReports(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkMessageRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ComplianceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return m(srv.(ComplianceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return m(srv.(ComplianceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ComplianceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("BeginAuthorization", ComplianceServer.BeginAuthorization),
		unary("CompleteAuthorization", ComplianceServer.CompleteAuthorization),
		unary("Disconnect", ComplianceServer.Disconnect),
		unary("GetConnectionStatus", ComplianceServer.GetConnectionStatus),
		unary("SubmitInvoice", ComplianceServer.SubmitInvoice),
		unary("SubmitAuditFile", ComplianceServer.SubmitAuditFile),
		unary("CheckStatus", ComplianceServer.CheckStatus),
		unary("RetrySubmission", ComplianceServer.RetrySubmission),
		unary("ListSubmissions", ComplianceServer.ListSubmissions),
		unary("GetDashboard", ComplianceServer.GetDashboard),
		unary("Generate", ComplianceServer.Generate),
		unary("Validate", ComplianceServer.Validate),
		unary("ListReports", ComplianceServer.ListReports),
		unary("ListMessages", ComplianceServer.ListMessages),
		unary("MarkMessageRead", ComplianceServer.MarkMessageRead),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fiscal/v1/compliance.proto",
}

func RegisterComplianceServer(s grpc.ServiceRegistrar, srv ComplianceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Register adds the compliance, health and reflection services to s and
// returns the health server so shutdown can flip it to NOT_SERVING.
func Register(s *grpc.Server, srv ComplianceServer) *health.Server {
	RegisterComplianceServer(s, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return hs
}
