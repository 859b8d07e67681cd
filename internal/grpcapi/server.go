// Package grpcapi serves the operation table over gRPC. Every operation is a
// unary method on spendperm.v1.SpendPermissionService that takes and returns
// a google.protobuf.Struct shaped like the JSON body of the HTTP route.
package grpcapi

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/spendperm/server/internal/api"
	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
)

const ServiceName = "spendperm.v1.SpendPermissionService"

// FullMethod is the gRPC method path for an operation name.
func FullMethod(op string) string { return "/" + ServiceName + "/" + op }

// SigningBytes is what a caller signs for req: its deterministic protobuf
// encoding.
func SigningBytes(req *structpb.Struct) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(req)
}

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Backend *api.Backend
}

type Server struct {
	grpcServer *grpc.Server
	logger     *log.Logger
	addr       string
	backend    *api.Backend
}

// handlerType is the interface RegisterService checks the implementation
// against. Operations are dispatched by name, so it carries no methods.
type handlerType interface{}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:  d.Logger,
		addr:    d.Addr,
		backend: d.Backend,
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(d.Logger), s.callerInterceptor),
	)
	s.grpcServer.RegisterService(s.serviceDesc(), s)
	return s
}

func (s *Server) serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*handlerType)(nil),
		Metadata:    "spendperm/v1/spendperm.proto",
	}
	for _, o := range api.Ops() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: o.Name,
			Handler:    s.methodHandler(o),
		})
	}
	return desc
}

func (s *Server) methodHandler(o api.Op) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return s.call(ctx, o, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: FullMethod(o.Name)}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *Server) call(ctx context.Context, o api.Op, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	proof, _ := callerauth.ProofFromContext(ctx)
	out, err := o.Handle(ctx, s.backend, proof.Caller, body)
	if err != nil {
		return nil, s.fail(o.Name, err)
	}

	st, err := toStruct(out)
	if err != nil {
		s.logger.Printf("%s encode error: %v", o.Name, err)
		return nil, status.Error(codes.Internal, "unexpected server error")
	}
	return st, nil
}

func (s *Server) fail(op string, err error) error {
	class, known := api.Classify(err)
	if !known {
		s.logger.Printf("%s error: %v", op, err)
		return status.Error(class.GRPC, "unexpected server error")
	}
	return status.Error(class.GRPC, class.Code+": "+err.Error())
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Shutdown drains in-flight calls, forcing a stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

// callerInterceptor authenticates operations that act as a caller. The
// signature covers the deterministic encoding of the request message.
func (s *Server) callerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	name := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
	o, err := api.Lookup(name)
	if err != nil || !o.Caller {
		return handler(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	creds := callerauth.Credentials{
		Signature: first(md, callerauth.MetadataKey),
		Nonce:     first(md, callerauth.NonceMetadataKey),
		Expires:   first(md, callerauth.ExpiresMetadataKey),
	}

	st, ok := req.(*structpb.Struct)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "unexpected request message")
	}
	payload, err := SigningBytes(st)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	proof, err := s.backend.Callers.Authenticate(payload, creds)
	if err != nil {
		class, _ := api.Classify(err)
		return nil, status.Error(class.GRPC, class.Code+": "+err.Error())
	}
	return handler(callerauth.WithProof(ctx, proof), req)
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func loggingInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now().UTC()
		resp, err := handler(ctx, req)
		logger.Printf("GRPC %s code=%s dur=%s", info.FullMethod, status.Code(err), time.Since(start))
		return resp, err
	}
}

// toStruct converts any JSON-encodable value to a google.protobuf.Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
