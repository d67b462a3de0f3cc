// Package processor runs client events against session state: it fetches
// the session root, merges request metadata, runs middleware, dispatches
// the handler and every follow-up event it enqueues, and persists the
// result once per submitted event.
//
// Events for one token are processed strictly one at a time; events for
// different tokens run in parallel.
//
//	p := processor.New(&cfg, manager, processor.WithMiddleware(middleware.NewHydrate(routes)))
//	err := p.Process(ctx, ev, processor.Client{SID: sid}, emit)
package processor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/middleware"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/session"
	"github.com/tailored-agentic-units/statesync/state"
)

// Client carries the connection metadata merged into router data.
type Client struct {
	SID     string
	IP      string
	Headers map[string]string
}

// Emitter receives each update of a chain, in dispatch order. A delivery
// error is reported to the observer and does not stop the chain.
type Emitter func(ctx context.Context, upd protocol.StateUpdate) error

// Deliverer pushes updates to the connection identified by a session id.
type Deliverer interface {
	Deliver(ctx context.Context, sid string, upd protocol.StateUpdate) error
}

// ConnectionChecker is implemented by Deliverers that know which session
// ids have an open connection. Upload consults it before dispatching.
type ConnectionChecker interface {
	Connected(sid string) bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithMiddleware appends middleware to the chain, in order.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(p *Processor) { p.chain = append(p.chain, m...) }
}

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(p *Processor) { p.events = observability.NewScope(o, "processor.Processor") }
}

// WithGate shares a per-token gate with other processors over the same
// session manager.
func WithGate(g *session.Gate) Option {
	return func(p *Processor) { p.gate = g }
}

// Processor is the event processing pipeline.
type Processor struct {
	manager        session.Manager
	gate           *session.Gate
	chain          middleware.Chain
	events         observability.Scope
	maxChainLength int
}

// New creates a Processor over a session manager.
func New(cfg *Config, manager session.Manager, opts ...Option) *Processor {
	c := DefaultConfig()
	c.Merge(cfg)

	p := &Processor{
		manager:        manager,
		gate:           session.NewGate(),
		events:         observability.NewScope(nil, "processor.Processor"),
		maxChainLength: c.MaxChainLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one externally submitted event. Every update of the
// chain is passed to emit before the next handler runs. The session state
// is persisted once after the chain, also when a handler fails; the
// handler error is returned alongside any persistence error.
func (p *Processor) Process(ctx context.Context, ev protocol.Event, client Client, emit Emitter) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	release, err := p.gate.Acquire(ctx, ev.Token)
	if err != nil {
		return err
	}
	defer release()

	root, err := p.manager.GetState(ctx, ev.Token)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}

	ev = ev.WithRouterData(routerData(ev, client))
	root.SetRouterData(ev.RouterData)

	p.events.Emit(ctx, EventStart, observability.LevelVerbose, map[string]any{
		"token": ev.Token,
		"event": ev.Name,
		"sid":   client.SID,
	})

	n, err := p.run(ctx, root, ev, emit)
	return p.finish(ctx, root, ev, n, err)
}

// Upload dispatches uploaded files to the handler named in the first
// filename. Updates are delivered to the connection whose session id is
// recorded in the session's router data. Pre-middleware does not run.
//
// The upload is refused with ErrNoConnection, before any mutation, when
// the session has no recorded session id or deliver reports it closed.
func (p *Processor) Upload(ctx context.Context, files []protocol.UploadFile, deliver Deliverer) error {
	target, err := protocol.ParseUploadNames(files)
	if err != nil {
		return err
	}

	release, err := p.gate.Acquire(ctx, target.Token)
	if err != nil {
		return err
	}
	defer release()

	root, err := p.manager.GetState(ctx, target.Token)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}

	_, h, err := root.ResolveHandler(target.Handler)
	if err != nil {
		return err
	}
	param, ok := h.ParamOfKind(state.KindFiles)
	if !ok {
		return &MissingUploadParameterError{Handler: target.Handler}
	}

	router := root.RouterData()
	sid, _ := router[protocol.RouteSID].(string)
	if sid == "" {
		return fmt.Errorf("%w: token %s", ErrNoConnection, target.Token)
	}
	if checker, ok := deliver.(ConnectionChecker); ok && !checker.Connected(sid) {
		return fmt.Errorf("%w: sid %s", ErrNoConnection, sid)
	}
	ev := protocol.NewEvent(target.Token, target.Handler, map[string]any{
		param.Name: files,
	}).WithRouterData(router)

	p.events.Emit(ctx, EventUpload, observability.LevelInfo, map[string]any{
		"token":   target.Token,
		"handler": target.Handler,
		"files":   len(files),
		"sid":     sid,
	})

	emit := func(ctx context.Context, upd protocol.StateUpdate) error {
		return deliver.Deliver(ctx, sid, upd)
	}
	n, err := p.drain(ctx, root, []protocol.Event{ev}, emit)
	return p.finish(ctx, root, ev, n, err)
}

// Reset deletes the session for token once any event in flight for it has
// finished. The next event for token starts from default state.
func (p *Processor) Reset(ctx context.Context, token string) error {
	release, err := p.gate.Acquire(ctx, token)
	if err != nil {
		return err
	}
	defer release()

	if err := p.manager.DeleteState(ctx, token); err != nil {
		return err
	}
	p.events.Emit(ctx, EventReset, observability.LevelInfo, map[string]any{"token": token})
	return nil
}

// Sessions returns the tokens of the stored sessions.
func (p *Processor) Sessions(ctx context.Context) ([]string, error) {
	return p.manager.Tokens(ctx)
}

// run applies pre-middleware and, unless a pre-hook answered, dispatches
// ev. A pre-hook answer is emitted as-is and its follow-up events are
// drained like handler follow-ups.
func (p *Processor) run(ctx context.Context, root *state.State, ev protocol.Event, emit Emitter) (int, error) {
	pre, err := p.chain.Preprocess(ctx, root, ev)
	if err != nil {
		return 0, fmt.Errorf("preprocess %s: %w", ev.Name, err)
	}
	if pre == nil {
		return p.drain(ctx, root, []protocol.Event{ev}, emit)
	}

	p.events.Emit(ctx, EventShortCircuit, observability.LevelVerbose, map[string]any{
		"token":  ev.Token,
		"event":  ev.Name,
		"events": len(pre.Events),
	})

	upd := *pre
	upd.Final = len(upd.Events) == 0
	p.deliver(ctx, emit, ev, upd)
	return p.drain(ctx, root, upd.Events, emit)
}

// drain dispatches queued events depth-first: the follow-ups of an event
// run before the events queued after it. It returns the number of handler
// invocations.
func (p *Processor) drain(ctx context.Context, root *state.State, queue []protocol.Event, emit Emitter) (int, error) {
	n := 0
	for len(queue) > 0 {
		if n >= p.maxChainLength {
			return n, fmt.Errorf("%w: limit %d", ErrChainTooLong, p.maxChainLength)
		}

		ev := queue[0]
		queue = queue[1:]

		p.events.Emit(ctx, EventDispatch, observability.LevelVerbose, map[string]any{
			"token":   ev.Token,
			"event":   ev.Name,
			"pending": len(queue),
		})

		followUps, err := root.Handle(ctx, ev)
		n++
		if err != nil {
			return n, fmt.Errorf("handle %s: %w", ev.Name, err)
		}

		delta, err := root.Delta()
		if err != nil {
			return n, fmt.Errorf("delta %s: %w", ev.Name, err)
		}

		queue = slices.Concat(followUps, queue)

		upd := protocol.NewStateUpdate(delta, followUps...)
		upd.Final = len(queue) == 0

		upd, err = p.chain.Postprocess(ctx, root, ev, upd)
		if err != nil {
			return n, fmt.Errorf("postprocess %s: %w", ev.Name, err)
		}
		p.deliver(ctx, emit, ev, upd)
	}
	return n, nil
}

func (p *Processor) deliver(ctx context.Context, emit Emitter, ev protocol.Event, upd protocol.StateUpdate) {
	p.events.Emit(ctx, EventUpdate, observability.LevelVerbose, map[string]any{
		"token":  ev.Token,
		"event":  ev.Name,
		"paths":  len(upd.Delta),
		"events": len(upd.Events),
		"final":  upd.Final,
	})
	if emit == nil {
		return
	}
	if err := emit(ctx, upd); err != nil {
		p.events.Emit(ctx, EventDeliveryFailed, observability.LevelWarning, map[string]any{
			"token": ev.Token,
			"event": ev.Name,
			"error": err.Error(),
		})
	}
}

// finish persists the session state and reports the outcome.
func (p *Processor) finish(ctx context.Context, root *state.State, ev protocol.Event, n int, err error) error {
	if serr := p.manager.SetState(ctx, ev.Token, root); serr != nil {
		err = errors.Join(err, fmt.Errorf("set state: %w", serr))
	}

	if err != nil {
		p.events.Emit(ctx, EventError, observability.LevelError, map[string]any{
			"token":    ev.Token,
			"event":    ev.Name,
			"handlers": n,
			"error":    err.Error(),
		})
		return err
	}

	p.events.Emit(ctx, EventComplete, observability.LevelInfo, map[string]any{
		"token":    ev.Token,
		"event":    ev.Name,
		"handlers": n,
	})
	return nil
}

// routerData merges connection metadata into the event's router data.
func routerData(ev protocol.Event, client Client) map[string]any {
	data := make(map[string]any, len(ev.RouterData)+5)
	maps.Copy(data, ev.RouterData)

	headers := make(map[string]any, len(client.Headers))
	for k, v := range client.Headers {
		headers[k] = v
	}

	data[protocol.RouteQuery] = protocol.FormatQueryParams(ev.RouterData)
	data[protocol.RouteToken] = ev.Token
	data[protocol.RouteSID] = client.SID
	data[protocol.RouteHeaders] = headers
	data[protocol.RouteIP] = client.IP
	return data
}
