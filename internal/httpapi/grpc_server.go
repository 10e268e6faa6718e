package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"afiliados.org/internal/auth"
)

const (
	revocationService     = "afiliados.auth.v1.Revocation"
	methodIsDenylisted    = "/" + revocationService + "/IsDenylisted"
	methodAuthenticate    = "/" + revocationService + "/Authenticate"
	revocationProtoSource = "afiliados/auth/v1/revocation.proto"
)

// RevocationServer answers revocation lookups for other services.
type RevocationServer interface {
	IsDenylisted(ctx context.Context, jti *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	Authenticate(ctx context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error)
}

var revocationServiceDesc = grpc.ServiceDesc{
	ServiceName: revocationService,
	HandlerType: (*RevocationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsDenylisted", Handler: isDenylistedHandler},
		{MethodName: "Authenticate", Handler: authenticateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: revocationProtoSource,
}

func isDenylistedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RevocationServer).IsDenylisted(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodIsDenylisted}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RevocationServer).IsDenylisted(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RevocationServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAuthenticate}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RevocationServer).Authenticate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer implements the revocation service and the standard health
// service.
type GRPCServer struct {
	svc       *auth.Service
	readiness readinessChecker
	health    *health.Server
	log       logrus.FieldLogger
}

var _ RevocationServer = (*GRPCServer)(nil)

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(svc *auth.Service, r readinessChecker, log logrus.FieldLogger) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GRPCServer{svc: svc, readiness: r, health: health.NewServer(), log: log}
}

// NewServer builds a grpc.Server with logging and both services registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryLogging(s.log))}, opts...)
	srv := grpc.NewServer(opts...)
	s.Register(srv)
	return srv
}

// Register attaches the services to srv.
func (s *GRPCServer) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&revocationServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
}

// RefreshHealth publishes the readiness result for "" and the revocation
// service.
func (s *GRPCServer) RefreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		s.log.WithError(err).Warn("grpc readiness check failed")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(revocationService, st)
}

// Shutdown marks every service as not serving.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
}

func (s *GRPCServer) IsDenylisted(ctx context.Context, jti *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	denied, err := s.svc.IsDenylisted(ctx, jti.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return wrapperspb.Bool(denied), nil
}

func (s *GRPCServer) Authenticate(ctx context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error) {
	if token.GetValue() == "" {
		return nil, grpcError(auth.ErrMissingToken)
	}
	p, err := s.svc.Authenticate(ctx, token.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	roles := make([]any, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, map[string]any{"name": r.Name, "is_entity": r.IsEntity})
	}
	out, err := structpb.NewStruct(map[string]any{
		"account_id": p.AccountID,
		"jti":        p.TokenID,
		"expires_at": p.ExpiresAt.UTC().Format(time.RFC3339),
		"roles":      roles,
		"org": map[string]any{
			"l1": p.Org.Level1,
			"l2": p.Org.Level2,
			"l3": p.Org.Level3,
			"l4": p.Org.Level4,
		},
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode principal")
	}
	return out, nil
}

// grpcError maps an auth outcome onto a status code, keeping causes private.
func grpcError(err error) error {
	o := auth.Classify(err)
	var code codes.Code
	switch o {
	case auth.OutcomeOK:
		return nil
	case auth.OutcomeInvalidCredentials, auth.OutcomeInvalidToken, auth.OutcomeExpiredToken,
		auth.OutcomeRevokedToken, auth.OutcomeMissingToken:
		code = codes.Unauthenticated
	case auth.OutcomeAccountLocked, auth.OutcomeForbidden:
		code = codes.PermissionDenied
	case auth.OutcomeRateLimited:
		code = codes.ResourceExhausted
	case auth.OutcomeInvalidInput:
		code = codes.InvalidArgument
	case auth.OutcomeConflict:
		code = codes.AlreadyExists
	case auth.OutcomeNotFound:
		code = codes.NotFound
	default:
		code = codes.Internal
	}
	return status.Error(code, o.String())
}

// UnaryLogging logs one entry per call.
func UnaryLogging(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if status.Code(err) == codes.Internal {
			entry.Error("grpc call failed")
		} else {
			entry.Debug("grpc call")
		}
		return resp, err
	}
}

// RevocationClient calls the revocation service.
type RevocationClient struct {
	cc grpc.ClientConnInterface
}

func NewRevocationClient(cc grpc.ClientConnInterface) *RevocationClient {
	return &RevocationClient{cc: cc}
}

func (c *RevocationClient) IsDenylisted(ctx context.Context, jti string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, methodIsDenylisted, wrapperspb.String(jti), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *RevocationClient) Authenticate(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodAuthenticate, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
