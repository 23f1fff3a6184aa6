// Package api assembles a node's HTTP API from its options and drives the
// consensus handle through startup.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/romashka-btc/espresso-sequencer/internal/app"
	"github.com/romashka-btc/espresso-sequencer/internal/config"
	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/fs"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/sql"
	"github.com/romashka-btc/espresso-sequencer/internal/metrics"
)

// Module names as they appear in request paths.
const (
	ModuleSubmit       = "submit"
	ModuleStatus       = "status"
	ModuleAvailability = "availability"
)

const defaultListenHost = "0.0.0.0"

// InitHandleFunc creates the consensus handle. It receives the metrics sink
// consensus must populate and is called exactly once per Serve.
type InitHandleFunc func(ctx context.Context, m metrics.Metrics) (consensus.Handle, consensus.NodeIndex)

// Node is a running API together with the consensus it drives.
type Node struct { // A
	Handle    consensus.Handle
	NodeIndex consensus.NodeIndex
	// UpdateTask runs the HTTP server and, for query topologies, the
	// update loop. It completes when either of them stops.
	UpdateTask *Task

	topology Topology
	app      *app.App
	store    datasource.QueryDataSource

	closeOnce sync.Once
	closeErr  error
}

// Topology is the layout this node was started with.
func (n *Node) Topology() Topology { // A
	return n.topology
}

// Modules lists the mounted API modules, sorted.
func (n *Node) Modules() []string { // A
	return n.app.Modules()
}

// Addr is the address the HTTP server is bound to, or "" until it is.
func (n *Node) Addr() string { // A
	return n.app.Addr()
}

// Close stops the background task, then consensus if the handle supports
// stopping, then closes the query storage.
func (n *Node) Close() error { // A
	n.closeOnce.Do(func() {
		var errs []error
		if err := n.UpdateTask.Stop(); err != nil {
			errs = append(errs, err)
		}
		stopHandle(n.Handle)
		if n.store != nil {
			if err := n.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}

type serveConfig struct {
	log             *slog.Logger
	version         string
	host            string
	shutdownTimeout time.Duration
	observe         func(Stage)
	extra           []extraModule
}

type extraModule struct {
	name    string
	handler http.Handler
}

// ServeOption customizes Serve.
type ServeOption func(*serveConfig)

func WithLogger(logger *slog.Logger) ServeOption { // HC
	return func(c *serveConfig) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithVersion sets the string reported by GET /version.
func WithVersion(version string) ServeOption { // HC
	return func(c *serveConfig) {
		c.version = version
	}
}

// WithListenHost overrides the interface the server binds to.
func WithListenHost(host string) ServeOption { // HC
	return func(c *serveConfig) {
		c.host = host
	}
}

func WithShutdownTimeout(d time.Duration) ServeOption { // HC
	return func(c *serveConfig) {
		c.shutdownTimeout = d
	}
}

// WithStageObserver calls fn after every completed startup stage.
func WithStageObserver(fn func(Stage)) ServeOption { // HC
	return func(c *serveConfig) {
		c.observe = fn
	}
}

// WithModule mounts an additional module after the built-in ones. A name
// that collides with a built-in module fails Serve with
// ErrModuleRegistration.
func WithModule(name string, h http.Handler) ServeOption { // A
	return func(c *serveConfig) {
		c.extra = append(c.extra, extraModule{name: name, handler: h})
	}
}

// Serve builds the API described by opts and starts consensus.
//
// Startup order is fixed: open storage, acquire the consensus handle,
// subscribe to its events (query topologies only), mount the modules, spawn
// the background task and finally start consensus. If storage cannot be
// opened initHandle is never called. On any error nothing keeps running.
//
// ctx bounds the lifetime of the node, not only its startup.
func Serve(
	ctx context.Context,
	opts config.Options,
	initHandle InitHandleFunc,
	serveOpts ...ServeOption,
) (*Node, error) { // A
	cfg := serveConfig{
		log:  slog.Default(),
		host: defaultListenHost,
	}
	for _, o := range serveOpts {
		o(&cfg)
	}
	if initHandle == nil {
		return nil, errors.New("api: initHandle is nil")
	}

	topo := SelectTopology(opts)
	log := cfg.log.With("topology", topo.String())
	if opts.ConflictingStorage() {
		log.Warn("both filesystem and sql storage configured, using sql")
	}

	st := newStartup(topo, log, cfg.observe)

	var (
		handle  consensus.Handle
		store   datasource.QueryDataSource
		task    *Task
		started bool
	)
	defer func() {
		if started {
			return
		}
		if task != nil {
			_ = task.Stop()
		}
		if handle != nil {
			stopHandle(handle)
		}
		if store != nil {
			if err := store.Close(); err != nil {
				log.Warn("failed to close storage after aborted startup", "error", err)
			}
		}
	}()

	store, err := openStore(ctx, topo, opts, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageInit, err)
	}

	var status datasource.StatusDataSource
	switch {
	case store != nil:
		status = store
	case topo == TopologyStatus:
		status = datasource.NewMetricsDataSource()
	}
	if err := st.advance(StageDataSourceReady); err != nil {
		return nil, err
	}

	var sink metrics.Metrics = metrics.NoMetrics{}
	if status != nil {
		sink = status.PopulateMetrics()
	}
	handle, nodeIndex := initHandle(ctx, sink)
	if handle == nil {
		return nil, errors.New("api: initHandle returned a nil handle")
	}
	if err := st.advance(StageConsensusHandleAcquired); err != nil {
		return nil, err
	}

	var events <-chan consensus.Event
	if topo.HasQuery() {
		// Must happen before StartConsensus or early decides are lost.
		events = handle.EventStream(consensus.EventFilter{})
		if err := st.advance(StageEventStreamSubscribed); err != nil {
			return nil, err
		}
	}

	state := newState(handle, status, store)
	appOpts := []app.Option{app.WithLogger(log), app.WithShutdownTimeout(cfg.shutdownTimeout)}
	if cfg.version != "" {
		appOpts = append(appOpts, app.WithVersion(cfg.version))
	}
	a := app.New(appOpts...)
	if err := registerModules(a, state, opts, topo, cfg, log); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModuleRegistration, err)
	}
	if err := st.advance(StageModulesRegistered); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.host, strconv.Itoa(int(opts.HTTP.Port)))
	runners := []func(context.Context) error{
		func(ctx context.Context) error {
			if err := a.Serve(ctx, addr); err != nil {
				log.Error("http server failed", "address", addr, "error", err)
				return fmt.Errorf("%w: %w", ErrServe, err)
			}
			return nil
		},
	}
	if events != nil {
		runners = append(runners, func(ctx context.Context) error {
			return UpdateLoop(ctx, state, events, log)
		})
	}
	task = spawn(ctx, runners...)
	if err := st.advance(StageServerSpawned); err != nil {
		return nil, err
	}

	handle.StartConsensus(ctx)
	if err := st.advance(StageConsensusStarted); err != nil {
		return nil, err
	}
	if err := st.advance(StageRunning); err != nil {
		return nil, err
	}
	started = true

	log.Info("api started",
		"port", opts.HTTP.Port,
		"modules", a.Modules(),
		"nodeIndex", uint64(nodeIndex),
	)

	return &Node{
		Handle:     handle,
		NodeIndex:  nodeIndex,
		UpdateTask: task,
		topology:   topo,
		app:        a,
		store:      store,
	}, nil
}

// openStore opens the query storage for query topologies and returns nil
// for the others.
func openStore(
	ctx context.Context,
	topo Topology,
	opts config.Options,
	log *slog.Logger,
) (datasource.QueryDataSource, error) { // A
	switch topo {
	case TopologyQuerySQL:
		o := *opts.StorageSQL
		if o.Logger == nil {
			o.Logger = log
		}
		ds, err := sql.Create(ctx, o, opts.ResetStore)
		if err != nil {
			return nil, err
		}
		return ds, nil
	case TopologyQueryFS:
		o := *opts.StorageFS
		if o.Logger == nil {
			o.Logger = log
		}
		ds, err := fs.Create(ctx, o, opts.ResetStore)
		if err != nil {
			return nil, err
		}
		return ds, nil
	default:
		return nil, nil
	}
}

// registerModules mounts submit, status and availability, in that order,
// followed by any extra modules.
func registerModules(
	a *app.App,
	state *State,
	opts config.Options,
	topo Topology,
	cfg serveConfig,
	log *slog.Logger,
) error { // A
	if opts.Submit != nil {
		if err := a.RegisterModule(ModuleSubmit, SubmitModule(state, log)); err != nil {
			return err
		}
	}
	if opts.Status != nil {
		if err := a.RegisterModule(ModuleStatus, StatusModule(state, log)); err != nil {
			return err
		}
	}
	if topo.HasQuery() {
		if err := a.RegisterModule(ModuleAvailability, AvailabilityModule(state)); err != nil {
			return err
		}
	}
	for _, m := range cfg.extra {
		if err := a.RegisterModule(m.name, m.handler); err != nil {
			return err
		}
	}
	return nil
}

// stopHandle stops handles that support it. Handle itself has no stop
// operation.
func stopHandle(h consensus.Handle) { // A
	if s, ok := h.(interface{ Stop() }); ok {
		s.Stop()
	}
}
