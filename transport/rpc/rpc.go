// Package rpc exposes the event processor as a Connect service.
//
// The service has no generated stubs: requests and responses use the
// well-known protobuf types. An event travels as a google.protobuf.Struct
// shaped like its JSON form; the updates of its chain come back as a
// google.protobuf.ListValue.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/processor"
	"github.com/tailored-agentic-units/statesync/state"
)

const (
	// ServiceName is the fully qualified Connect service name.
	ServiceName = "statesync.v1.EventService"
	// ProcessProcedure processes one event and returns its updates.
	ProcessProcedure = "/" + ServiceName + "/Process"
	// PingProcedure answers "pong".
	PingProcedure = "/" + ServiceName + "/Ping"
	// SIDHeader carries the session id of the caller's socket connection.
	// Without it the session records no connection, and uploads for the
	// session are refused until a socket event records one.
	SIDHeader = "Statesync-Sid"
)

// EventProcessor processes a single event.
type EventProcessor interface {
	Process(ctx context.Context, ev protocol.Event, client processor.Client, emit processor.Emitter) error
}

type service struct {
	processor EventProcessor
}

// NewHandler returns the mount path and handler of the event service.
func NewHandler(p EventProcessor, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := &service{processor: p}

	mux := http.NewServeMux()
	mux.Handle(ProcessProcedure, connect.NewUnaryHandler(ProcessProcedure, svc.process, opts...))
	mux.Handle(PingProcedure, connect.NewUnaryHandler(PingProcedure, svc.ping, opts...))
	return "/" + ServiceName + "/", mux
}

func (s *service) process(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.ListValue], error) {
	ev, err := decodeEvent(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	client := processor.Client{
		SID:     req.Header().Get(SIDHeader),
		IP:      peerIP(req.Peer().Addr),
		Headers: headers(req.Header()),
	}

	var updates []protocol.StateUpdate
	collect := func(_ context.Context, upd protocol.StateUpdate) error {
		updates = append(updates, upd)
		return nil
	}
	procErr := s.processor.Process(ctx, ev, client, collect)

	list, err := encodeUpdates(updates)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if procErr != nil {
		return nil, processError(procErr, list)
	}
	return connect.NewResponse(list), nil
}

func (s *service) ping(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.StringValue], error) {
	return connect.NewResponse(wrapperspb.String("pong")), nil
}

// processError maps a processing failure to a Connect error. Updates
// delivered before the failure travel as an error detail.
func processError(err error, delivered *structpb.ListValue) *connect.Error {
	code := connect.CodeUnknown
	var routing *state.RoutingError
	switch {
	case errors.Is(err, protocol.ErrInvalidEvent):
		code = connect.CodeInvalidArgument
	case errors.As(err, &routing):
		code = connect.CodeNotFound
	case errors.Is(err, processor.ErrChainTooLong):
		code = connect.CodeResourceExhausted
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}

	cerr := connect.NewError(code, err)
	if len(delivered.GetValues()) > 0 {
		if detail, derr := connect.NewErrorDetail(delivered); derr == nil {
			cerr.AddDetail(detail)
		}
	}
	return cerr
}

func decodeEvent(msg *structpb.Struct) (protocol.Event, error) {
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("encode event: %w", err)
	}
	var ev protocol.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return protocol.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func encodeEvent(ev protocol.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return msg, nil
}

func encodeUpdates(updates []protocol.StateUpdate) (*structpb.ListValue, error) {
	if updates == nil {
		updates = []protocol.StateUpdate{}
	}
	raw, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("encode updates: %w", err)
	}
	list := &structpb.ListValue{}
	if err := protojson.Unmarshal(raw, list); err != nil {
		return nil, fmt.Errorf("encode updates: %w", err)
	}
	return list, nil
}

func decodeUpdates(list *structpb.ListValue) ([]protocol.StateUpdate, error) {
	raw, err := protojson.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	var updates []protocol.StateUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func peerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
