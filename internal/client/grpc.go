package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/model"
)

// GRPCClient talks to the MotionService over gRPC with the JSON codec.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are appended after the defaults.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// withToken attaches the bearer token to outgoing metadata.
func (c *GRPCClient) withToken(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *GRPCClient) ListEvents(ctx context.Context, f model.EventFilter) ([]*model.MotionEvent, error) {
	var resp api.ListEventsResponse
	if err := c.conn.Invoke(c.withToken(ctx), api.ListEventsMethod, &api.ListEventsRequest{Filter: f}, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *GRPCClient) StreamEvents(ctx context.Context, sinceID int64, fn func(*model.MotionEvent) error) error {
	desc := &grpc.StreamDesc{StreamName: "StreamEvents", ServerStreams: true}
	stream, err := c.conn.NewStream(c.withToken(ctx), desc, api.StreamEventsMethod)
	if err != nil {
		return err
	}
	req := &api.StreamEventsRequest{Replay: sinceID >= 0, SinceID: max(sinceID, 0)}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		ev := new(model.MotionEvent)
		if err := stream.RecvMsg(ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
