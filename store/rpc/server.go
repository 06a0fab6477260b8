// Package rpc serves a backend over gRPC and implements a backend that is a client of such a server.
package rpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

const serviceName = "brightchain.Store"

// MaxMessageSize bounds the size of requests and responses.
const MaxMessageSize = 64 << 20

// ServerOptions are the options a grpc.Server needs to carry the largest blocks.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.MaxRecvMsgSize(MaxMessageSize), grpc.MaxSendMsgSize(MaxMessageSize)}
}

// DialOptions are the options a client connection needs to carry the largest blocks.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(MaxMessageSize), grpc.MaxCallSendMsgSize(MaxMessageSize)),
	}
}

type storeServer interface {
	call(ctx context.Context, method string, req *message) (*message, error)
	scan(req *message, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*storeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Has"),
		unary("Get"),
		unary("Put"),
		unary("PutMulti"),
		unary("Delete"),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Scan",
		Handler:       scanHandler,
		ServerStreams: true,
	}},
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unary(name string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(message)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(storeServer).call(ctx, name, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(storeServer).call(ctx, name, req.(*message))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func scanHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(message)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(storeServer).scan(in, stream)
}

// Server exposes a backend as a gRPC service.
type Server struct {
	b store.Backend
}

var _ storeServer = &Server{}

// NewServer produces a Server for b.
func NewServer(b store.Backend) *Server {
	return &Server{b: b}
}

// Register registers s with a gRPC server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) call(ctx context.Context, method string, req *message) (*message, error) {
	var (
		resp = new(message)
		err  error
	)
	switch method {
	case "Has":
		resp.Found, err = s.b.Has(ctx, req.Key)
	case "Get":
		resp.Val, err = s.b.Get(ctx, req.Key)
		if resp.Val == nil && err == nil {
			resp.Val = []byte{}
		}
	case "Put":
		err = s.b.Put(ctx, req.Key, req.Val)
	case "PutMulti":
		err = store.PutMulti(ctx, s.b, req.KVs)
	case "Delete":
		err = s.b.Delete(ctx, req.Key)
	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *Server) scan(req *message, stream grpc.ServerStream) error {
	err := s.b.Scan(stream.Context(), req.Key, func(key, val []byte) error {
		return stream.SendMsg(&message{Key: key, Val: val})
	})
	return toStatus(err)
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, brightchain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}
