// Package app composes the statesync subsystems into a runnable server.
//
// The app initializes from configuration via New, creating the store,
// session manager, processor and transports internally. Functional options
// supply the application's route table, extra middleware, or an observer.
//
//	a, err := app.New(ctx, cfg, class, app.WithRoutes(routes))
//	err = a.Run(ctx)
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/statesync/middleware"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/processor"
	"github.com/tailored-agentic-units/statesync/session"
	"github.com/tailored-agentic-units/statesync/state"
	"github.com/tailored-agentic-units/statesync/store"
	"github.com/tailored-agentic-units/statesync/transport/rpc"
	"github.com/tailored-agentic-units/statesync/transport/socket"
	"github.com/tailored-agentic-units/statesync/transport/upload"
)

// HTTP paths served by the app. SessionsPath lists session tokens on GET;
// DELETE SessionsPath/{token} resets a session.
const (
	EventPath    = "/_event"
	UploadPath   = "/_upload"
	PingPath     = "/ping"
	SessionsPath = "/_sessions"
)

// Event types emitted by the app.
const (
	EventListen   observability.EventType = "app.listen"
	EventShutdown observability.EventType = "app.shutdown"
)

// Option configures an App before its subsystems are created.
type Option func(*options)

type options struct {
	observer   observability.Observer
	routes     middleware.LoadEventSource
	middleware []middleware.Middleware
	store      store.Store
}

// WithObserver overrides the observer selected by Config.Observer.
func WithObserver(o observability.Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithRoutes sets the load events run on hydration.
func WithRoutes(r middleware.LoadEventSource) Option {
	return func(opts *options) { opts.routes = r }
}

// WithMiddleware appends middleware after the built-in ones.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(opts *options) { opts.middleware = append(opts.middleware, m...) }
}

// WithStore overrides the store created from Config.Store.
func WithStore(s store.Store) Option {
	return func(opts *options) { opts.store = s }
}

// App is a configured statesync server.
type App struct {
	cfg       Config
	class     *state.Class
	observer  observability.Observer
	events    observability.Scope
	manager   session.Manager
	processor *processor.Processor
	socket    *socket.Server
	handler   http.Handler
	closers   []io.Closer
}

// New creates an App serving sessions of the given root class.
func New(ctx context.Context, cfg *Config, class *state.Class, opts ...Option) (*App, error) {
	c := DefaultConfig()
	c.Merge(cfg)

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.observer == nil {
		obs, err := observability.GetObserver(c.Observer)
		if err != nil {
			return nil, fmt.Errorf("failed to select observer: %w", err)
		}
		o.observer = obs
	}

	a := &App{
		cfg:      c,
		class:    class,
		observer: o.observer,
		events:   observability.NewScope(o.observer, "app.App"),
	}

	st := o.store
	if st == nil {
		created, err := store.New(ctx, &c.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		st = created
		if closer, ok := st.(io.Closer); ok {
			a.closers = append(a.closers, closer)
		}
	}

	a.manager = session.New(&c.Session, class, st, session.WithObserver(o.observer))
	if closer, ok := a.manager.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	chain := []middleware.Middleware{middleware.NewLogging(o.observer)}
	if !c.DisableHydrate {
		chain = append(chain, middleware.NewHydrate(o.routes))
	}
	chain = append(chain, o.middleware...)

	a.processor = processor.New(&c.Processor, a.manager,
		processor.WithMiddleware(chain...),
		processor.WithObserver(o.observer),
	)
	a.socket = socket.NewServer(&c.Socket, a.processor, socket.WithObserver(o.observer))

	mux := http.NewServeMux()
	mux.Handle(EventPath, a.socket)
	mux.Handle(UploadPath, upload.NewHandler(&c.Upload, a.processor, a.socket, upload.WithObserver(o.observer)))
	mux.HandleFunc(PingPath, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "pong")
	})
	mux.HandleFunc("GET "+SessionsPath, a.listSessions)
	mux.HandleFunc("DELETE "+SessionsPath+"/{token}", a.resetSession)
	rpcPath, rpcHandler := rpc.NewHandler(a.processor)
	mux.Handle(rpcPath, rpcHandler)
	a.handler = mux

	return a, nil
}

func (a *App) listSessions(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.processor.Sessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tokens == nil {
		tokens = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"sessions": tokens})
}

func (a *App) resetSession(w http.ResponseWriter, r *http.Request) {
	if err := a.processor.Reset(r.Context(), r.PathValue("token")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Handler returns the HTTP handler serving every endpoint.
func (a *App) Handler() http.Handler { return a.handler }

// Processor returns the event processor.
func (a *App) Processor() *processor.Processor { return a.processor }

// Manager returns the session manager.
func (a *App) Manager() session.Manager { return a.manager }

// Socket returns the socket server.
func (a *App) Socket() *socket.Server { return a.socket }

// Run serves HTTP on Config.Addr until ctx is cancelled, then shuts down
// gracefully within Config.ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.events.Emit(gctx, EventListen, observability.LevelInfo, map[string]any{
			"addr": ln.Addr().String(),
		})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		timeout := time.Duration(a.cfg.ShutdownTimeout) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()

		a.events.Emit(shutdownCtx, EventShutdown, observability.LevelInfo, map[string]any{
			"timeout": timeout.String(),
		})

		// Hijacked socket connections are not tracked by the HTTP server.
		return errors.Join(
			a.socket.Shutdown(shutdownCtx),
			srv.Shutdown(shutdownCtx),
		)
	})

	err := g.Wait()
	return errors.Join(err, a.Close())
}

// Close releases the store and session manager.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
