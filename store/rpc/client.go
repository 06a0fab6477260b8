package rpc

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend     = &Client{}
	_ store.MultiPutter = &Client{}
)

// Client is a backend that forwards every operation to a Server.
type Client struct {
	cc     grpc.ClientConnInterface
	closer io.Closer
}

// NewClient produces a Client using the given connection.
// Closing the Client does not close cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *message) (*message, error) {
	resp := new(message)
	err := c.cc.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(CodecName))
	return resp, fromStatus(err)
}

// Has implements store.Backend.
func (c *Client) Has(ctx context.Context, key []byte) (bool, error) {
	resp, err := c.invoke(ctx, "Has", &message{Key: key})
	if err != nil {
		return false, err
	}
	return resp.Found, nil
}

// Get implements store.Backend.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	resp, err := c.invoke(ctx, "Get", &message{Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Val, nil
}

// Put implements store.Backend.
func (c *Client) Put(ctx context.Context, key, val []byte) error {
	if val == nil {
		val = []byte{}
	}
	_, err := c.invoke(ctx, "Put", &message{Key: key, Val: val})
	return err
}

// batchBytes bounds the payload of one PutMulti request.
const batchBytes = MaxMessageSize / 4

// PutMulti implements store.MultiPutter.
// Large sets of pairs are sent in several requests.
func (c *Client) PutMulti(ctx context.Context, kvs []store.KV) error {
	for len(kvs) > 0 {
		var (
			n    int
			size int
		)
		for n < len(kvs) && (n == 0 || size+len(kvs[n].Key)+len(kvs[n].Val) <= batchBytes) {
			size += len(kvs[n].Key) + len(kvs[n].Val)
			n++
		}
		if _, err := c.invoke(ctx, "PutMulti", &message{KVs: kvs[:n]}); err != nil {
			return err
		}
		kvs = kvs[n:]
	}
	return nil
}

// Delete implements store.Backend.
func (c *Client) Delete(ctx context.Context, key []byte) error {
	_, err := c.invoke(ctx, "Delete", &message{Key: key})
	return err
}

// Scan implements store.Backend.
func (c *Client) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("Scan"), grpc.CallContentSubtype(CodecName))
	if err != nil {
		return errors.Wrap(err, "starting scan")
	}
	if prefix == nil {
		prefix = []byte{}
	}
	if err = stream.SendMsg(&message{Key: prefix}); err != nil {
		return errors.Wrap(err, "sending scan request")
	}
	if err = stream.CloseSend(); err != nil {
		return errors.Wrap(err, "closing scan request")
	}
	for {
		resp := new(message)
		err := stream.RecvMsg(resp)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(fromStatus(err), "receiving scan response")
		}
		if err = f(resp.Key, resp.Val); err != nil {
			return err
		}
	}
}

// Close closes the connection if the Client was created from the registry.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return errors.Wrap(brightchain.ErrNotFound, status.Convert(err).Message())
	case codes.Canceled:
		return errors.Wrap(context.Canceled, status.Convert(err).Message())
	}
	return err
}

func init() {
	store.Register("rpc", func(_ context.Context, conf map[string]interface{}) (store.Backend, error) {
		addr, ok := conf["addr"].(string)
		if !ok {
			return nil, errors.New(`missing "addr" parameter`)
		}
		insecure, _ := conf["insecure"].(bool)
		opts := DialOptions()
		if insecure {
			opts = append(opts, grpc.WithInsecure())
		}
		cc, err := grpc.Dial(addr, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "connecting to %s", addr)
		}
		return &Client{cc: cc, closer: cc}, nil
	})
}
