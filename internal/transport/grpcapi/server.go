package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
	"github.com/teresa-solution/fiscal-compliance-service/internal/service"
)

const (
	TenantHeader     = "x-tenant-id"
	RetryAfterHeader = "retry-after-ms"
)

type Server struct {
	tokens     *service.TokenManager
	tracker    *service.Tracker
	inbox      *service.Inbox
	compliance *service.Compliance
}

func NewServer(tokens *service.TokenManager, tracker *service.Tracker, inbox *service.Inbox, compliance *service.Compliance) *Server {
	return &Server{tokens: tokens, tracker: tracker, inbox: inbox, compliance: compliance}
}

func (s *Server) BeginAuthorization(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	authURL, state, err := s.tokens.BeginAuthorization(ctx, tenantID, field(req, "tax_id"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(map[string]string{"authorization_url": authURL, "state": state})
}

// CompleteAuthorization needs no tenant header: the state names the tenant.
func (s *Server) CompleteAuthorization(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	code, state := field(req, "code"), field(req, "state")
	if code == "" || state == "" {
		return nil, status.Error(codes.InvalidArgument, "Code and state are required")
	}
	cred, err := s.tokens.CompleteAuthorization(ctx, code, state)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(cred)
}

func (s *Server) Disconnect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Disconnect(ctx, tenantID); err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(map[string]bool{"success": true})
}

func (s *Server) GetConnectionStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.tokens.ConnectionStatus(ctx, tenantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(st)
}

func (s *Server) SubmitInvoice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.compliance.SubmitInvoice(ctx, tenantID, field(req, "tax_id"), []byte(field(req, "document")))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(sub)
}

func (s *Server) SubmitAuditFile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.compliance.SubmitAuditFile(ctx, tenantID, field(req, "period"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(sub)
}

func (s *Server) CheckStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	ref := field(req, "external_reference")
	if ref == "" {
		return nil, status.Error(codes.InvalidArgument, "External reference is required")
	}
	res, err := s.compliance.CheckStatus(ctx, tenantID, ref)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(res)
}

func (s *Server) RetrySubmission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(field(req, "submission_id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "Invalid submission ID")
	}
	sub, err := s.tracker.Retry(ctx, tenantID, id)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(sub)
}

func (s *Server) ListSubmissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := s.tracker.ListSubmissions(ctx, tenantID, model.SubmissionFilter{
		Kind:   model.SubmissionKind(field(req, "kind")),
		Status: model.SubmissionStatus(field(req, "status")),
		Period: field(req, "period"),
		Limit:  intField(req, "limit"),
		Offset: intField(req, "offset"),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(map[string]interface{}{"submissions": subs})
}

func (s *Server) GetDashboard(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.compliance.Dashboard(ctx, tenantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(d)
}

// Generate stores the draft unless preview is set. The XML is only
// returned when include_document is set.
func (s *Server) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	period := field(req, "period")
	var res *service.GenerationResult
	if boolField(req, "preview") {
		res = s.compliance.Preview(ctx, tenantID, period)
	} else {
		res = s.compliance.Generate(ctx, tenantID, period)
	}
	out, err := encode(res)
	if err != nil {
		return nil, err
	}
	if boolField(req, "include_document") && res.XML != nil {
		out.Fields["document"] = structpb.NewStringValue(string(res.XML))
	}
	return out, nil
}

func (s *Server) Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	return encode(s.compliance.Validate(ctx, tenantID, field(req, "period")))
}

func (s *Server) ListReports(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	year := intField(req, "year")
	if year == 0 {
		year = time.Now().Year()
	}
	reports, err := s.compliance.Reports(ctx, tenantID, year)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(map[string]interface{}{"reports": reports})
}

func (s *Server) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.inbox.ListMessages(ctx, tenantID, intField(req, "limit"), intField(req, "offset"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(page)
}

func (s *Server) MarkMessageRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(field(req, "message_id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "Invalid message ID")
	}
	if err := s.inbox.MarkMessageRead(ctx, tenantID, id); err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(map[string]bool{"success": true})
}

// LoggingInterceptor logs and counts every call by method and code.
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	method := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
	monitoring.RPCRequests.WithLabelValues(method, code.String()).Inc()

	if code == codes.Internal || code == codes.Unavailable {
		log.Error().Err(err).Str("method", method).Str("code", code.String()).Dur("duration", time.Since(start)).Msg("RPC failed")
	} else {
		log.Debug().Str("method", method).Str("code", code.String()).Dur("duration", time.Since(start)).Msg("RPC handled")
	}
	return resp, err
}

func tenantFrom(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(TenantHeader); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
			return strings.TrimSpace(v[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "Tenant ID is required")
}

// toStatus maps service errors to gRPC codes. A rate limit sets the
// retry-after-ms trailer.
func toStatus(ctx context.Context, err error) error {
	var (
		rejected   *errs.AuthorityRejectedError
		limited    *errs.RateLimitedError
		transport  *errs.TransportError
		validation *errs.ValidationFailedError
	)
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "Tax authority authorization required")
	case errors.Is(err, errs.ErrInvalidState):
		return status.Error(codes.InvalidArgument, "Invalid or expired authorization state")
	case errors.Is(err, errs.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrNotRetryable), errors.Is(err, errs.ErrOversizeDocument):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &validation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &rejected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &limited):
		if terr := grpc.SetTrailer(ctx, metadata.Pairs(RetryAfterHeader, strconv.FormatInt(limited.RetryAfter.Milliseconds(), 10))); terr != nil {
			log.Warn().Err(terr).Msg("Failed to set retry trailer")
		}
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.As(err, &transport):
		return status.Error(codes.Unavailable, "Tax authority unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "Request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "Request deadline exceeded")
	}
	log.Error().Err(err).Msg("Unhandled service error")
	return status.Error(codes.Internal, "Internal server error")
}

func field(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

func intField(req *structpb.Struct, name string) int {
	v := req.GetFields()[name]
	if s := v.GetStringValue(); s != "" {
		n, _ := strconv.Atoi(s)
		return n
	}
	return int(v.GetNumberValue())
}

func boolField(req *structpb.Struct, name string) bool {
	return req.GetFields()[name].GetBoolValue()
}

// encode converts v to a Struct through its JSON form.
func encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		return nil, status.Error(codes.Internal, "Internal server error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		return nil, status.Error(codes.Internal, "Internal server error")
	}
	return out, nil
}
