package rpc

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tailored-agentic-units/statesync/core/protocol"
)

// Client calls the event service.
type Client struct {
	process *connect.Client[structpb.Struct, structpb.ListValue]
	ping    *connect.Client[emptypb.Empty, wrapperspb.StringValue]
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		process: connect.NewClient[structpb.Struct, structpb.ListValue](httpClient, baseURL+ProcessProcedure, opts...),
		ping:    connect.NewClient[emptypb.Empty, wrapperspb.StringValue](httpClient, baseURL+PingProcedure, opts...),
	}
}

// Process submits ev and returns the updates of its chain. When processing
// fails, the updates delivered before the failure are returned with the
// error.
func (c *Client) Process(ctx context.Context, ev protocol.Event, sid string) ([]protocol.StateUpdate, error) {
	msg, err := encodeEvent(ev)
	if err != nil {
		return nil, err
	}
	req := connect.NewRequest(msg)
	if sid != "" {
		req.Header().Set(SIDHeader, sid)
	}

	resp, err := c.process.CallUnary(ctx, req)
	if err != nil {
		return deliveredBefore(err), err
	}
	return decodeUpdates(resp.Msg)
}

// Ping checks service liveness.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.ping.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return "", err
	}
	return resp.Msg.GetValue(), nil
}

func deliveredBefore(err error) []protocol.StateUpdate {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return nil
	}
	for _, detail := range cerr.Details() {
		msg, derr := detail.Value()
		if derr != nil {
			continue
		}
		if list, ok := msg.(*structpb.ListValue); ok {
			updates, _ := decodeUpdates(list)
			return updates
		}
	}
	return nil
}
