package main

import (
	"context"
	"net"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/brightchain/brightchain/store/rpc"
)

func (c maincmd) serve(ctx context.Context, addr string, _ []string) error {

	gs := grpc.NewServer(rpc.ServerOptions()...)
	rpc.NewServer(c.m.Backend()).Register(gs)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	defer lis.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	c.m.Logger().WithField("addr", lis.Addr().String()).Info("serving")
	return gs.Serve(lis)
}
