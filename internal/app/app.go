// Package app hosts independently registered API modules behind a single
// HTTP listener. Every App serves GET /healthcheck and GET /version.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrModuleRegistration is wrapped by every RegisterModule failure.
var ErrModuleRegistration = errors.New("app: module registration failed")

const defaultShutdownTimeout = 5 * time.Second

var reservedNames = map[string]struct{}{
	"healthcheck": {},
	"version":     {},
}

// App routes requests to modules by their first path segment.
type App struct { // A
	mux             *http.ServeMux
	log             *slog.Logger
	version         string
	shutdownTimeout time.Duration

	mu      sync.Mutex
	modules map[string]struct{}

	addr atomic.Pointer[string]
}

type Option func(*App)

func WithLogger(logger *slog.Logger) Option { // HC
	return func(a *App) {
		if logger != nil {
			a.log = logger
		}
	}
}

// WithVersion sets the string reported by /version. Without it the module
// version from the binary's build info is used.
func WithVersion(version string) Option { // HC
	return func(a *App) {
		a.version = version
	}
}

func WithShutdownTimeout(d time.Duration) Option { // HC
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

func New(opts ...Option) *App { // A
	a := &App{
		mux:             http.NewServeMux(),
		log:             slog.Default(),
		shutdownTimeout: defaultShutdownTimeout,
		modules:         make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}
	if a.version == "" {
		a.version = buildVersion()
	}

	a.routes()
	return a
}

func (a *App) routes() { // AC
	a.mux.HandleFunc("GET /healthcheck", a.handleHealthcheck)
	a.mux.HandleFunc("GET /version", a.handleVersion)
}

// RegisterModule mounts h under /name/. h sees request paths with the
// /name prefix removed.
func (a *App) RegisterModule(name string, h http.Handler) error { // A
	if err := validateName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrModuleRegistration, err)
	}
	if h == nil {
		return fmt.Errorf("%w: module %q has no handler", ErrModuleRegistration, name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.modules[name]; dup {
		return fmt.Errorf("%w: module %q already registered", ErrModuleRegistration, name)
	}
	a.modules[name] = struct{}{}

	prefix := "/" + name
	a.mux.Handle(prefix+"/", http.StripPrefix(prefix, h))
	a.log.Debug("registered api module", "module", name)
	return nil
}

// Modules lists the registered module names, sorted.
func (a *App) Modules() []string { // A
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.modules))
	for n := range a.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) { // AC
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Accept"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a.mux.ServeHTTP(w, r)
}

// Serve listens on addr and serves until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (a *App) Serve(ctx context.Context, addr string) error { // A
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}

	bound := ln.Addr().String()
	a.addr.Store(&bound)

	srv := &http.Server{
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	a.log.Info("http server listening", "address", bound, "modules", a.Modules())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}

	a.log.Info("http server stopped", "address", bound)
	return nil
}

// Addr returns the address Serve is bound to, or "" before binding.
func (a *App) Addr() string { // A
	if p := a.addr.Load(); p != nil {
		return *p
	}
	return ""
}

func validateName(name string) error { // HC
	if name == "" {
		return errors.New("module name is empty")
	}
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("module name %q is reserved", name)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '_'):
		default:
			return fmt.Errorf("module name %q must match [a-z][a-z0-9_-]*", name)
		}
	}
	return nil
}
