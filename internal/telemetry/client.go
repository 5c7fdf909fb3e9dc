package telemetry

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client reads the telemetry service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects without transport security; the service is meant for the
// local network or a tailnet.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Status calls GetStatus.
func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamTicks calls fn for every tick until the server ends the stream
// (returning nil), ctx is done, or fn returns an error.
func (c *Client) StreamTicks(ctx context.Context, every int, fn func(*structpb.Struct) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamTicksMethod)
	if err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{"every": every})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
