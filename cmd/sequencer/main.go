package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/romashka-btc/espresso-sequencer/internal/api"
	"github.com/romashka-btc/espresso-sequencer/internal/config"
	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/fs"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/sql"
	"github.com/romashka-btc/espresso-sequencer/internal/logging"
	"github.com/romashka-btc/espresso-sequencer/internal/metrics"
)

const (
	logKeyConfig    = "config"
	logKeyPort      = "port"
	logKeyTopology  = "topology"
	logKeyModules   = "modules"
	logKeyNodeIndex = "nodeIndex"
	logKeySignal    = "signal"
	logKeyError     = "error"
)

func main() { // A
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New(logging.Options{Debug: cfg.debug, NoColor: cfg.noColor})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(context.Background(), "sequencer error", logKeyError, err)
		os.Exit(1)
	}
}

// cliConfig holds the parsed command line.
type cliConfig struct { // A
	configPath  string
	port        uint
	query       bool
	submit      bool
	status      bool
	storagePath string
	postgres    bool
	sqlitePath  string
	reset       bool

	viewInterval time.Duration
	nodeIndex    uint64
	debug        bool
	noColor      bool

	// set records the flags given explicitly. They override the config file.
	set map[string]bool
}

func parseFlags(args []string) (cliConfig, error) { // A
	cfg := cliConfig{set: make(map[string]bool)}
	fset := flag.NewFlagSet("sequencer", flag.ContinueOnError)

	fset.StringVar(&cfg.configPath, "config", "",
		"Path to a YAML config file")
	fset.UintVar(&cfg.port, "port", 50000,
		"HTTP port for the API")
	fset.BoolVar(&cfg.query, "query", false,
		"Serve the availability API (implied by -storage-path, -postgres and -sqlite)")
	fset.BoolVar(&cfg.submit, "submit", false,
		"Serve the transaction submission API")
	fset.BoolVar(&cfg.status, "status", false,
		"Serve the node status API")
	fset.StringVar(&cfg.storagePath, "storage-path", "",
		"Directory for filesystem query storage")
	fset.BoolVar(&cfg.postgres, "postgres", false,
		"Use Postgres query storage, configured through ESPRESSO_SEQUENCER_POSTGRES_* variables")
	fset.StringVar(&cfg.sqlitePath, "sqlite", "",
		"Use SQLite query storage at this file")
	fset.BoolVar(&cfg.reset, "reset-store", false,
		"Wipe query storage on startup")
	fset.DurationVar(&cfg.viewInterval, "view-interval", time.Second,
		"Time between consensus views")
	fset.Uint64Var(&cfg.nodeIndex, "node-index", 0,
		"Index of this node in the stake table")
	fset.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")
	fset.BoolVar(&cfg.noColor, "no-color", false,
		"Disable colored log output")

	if err := fset.Parse(args); err != nil {
		return cfg, err
	}
	fset.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	if cfg.port > 65535 {
		return cfg, fmt.Errorf("port invalid: %d", cfg.port)
	}
	return cfg, nil
}

// buildOptions merges the config file, explicit flags and the environment,
// in that order of increasing precedence.
func buildOptions(cfg cliConfig, lookup config.LookupFunc) (config.Options, error) { // A
	opts := config.From(config.HTTP{Port: uint16(cfg.port)})
	if cfg.configPath != "" {
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return opts, err
		}
		opts = loaded
		// The flag default applies when the file leaves the port unset.
		if cfg.set["port"] || opts.HTTP.Port == 0 {
			opts.HTTP.Port = uint16(cfg.port)
		}
	}

	if cfg.set["submit"] && cfg.submit {
		opts = opts.WithSubmit(config.Submit{})
	}
	if cfg.set["status"] && cfg.status {
		opts = opts.WithStatus(config.Status{})
	}
	if cfg.set["reset-store"] {
		opts.ResetStore = cfg.reset
	}
	// A storage flag selects the query API on its own.
	switch {
	case cfg.postgres:
		opts = opts.QuerySQL(config.Query{}, sql.Options{Driver: sql.DriverPostgres})
	case cfg.sqlitePath != "":
		opts = opts.QuerySQL(config.Query{}, sql.Options{Driver: sql.DriverSQLite, Path: cfg.sqlitePath})
	case cfg.storagePath != "":
		opts = opts.QueryFS(config.Query{}, fs.Options{Path: cfg.storagePath})
	case cfg.query:
		if opts.StorageFS == nil && opts.StorageSQL == nil {
			return opts, errors.New("-query requires -storage-path, -postgres or -sqlite")
		}
		opts.Query = &config.Query{}
	}

	opts, err := opts.ApplyEnv(lookup)
	if err != nil {
		return opts, err
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// run starts the node and blocks until ctx is cancelled or the API stops.
func run(
	ctx context.Context,
	cfg cliConfig,
	logger *slog.Logger,
) error { // A
	opts, err := buildOptions(cfg, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("build options: %w", err)
	}

	logger.InfoContext(ctx, "starting sequencer",
		logKeyConfig, cfg.configPath,
		logKeyPort, opts.HTTP.Port,
		logKeyTopology, api.SelectTopology(opts).String())

	initHandle := func(_ context.Context, m metrics.Metrics) (consensus.Handle, consensus.NodeIndex) {
		local := consensus.NewLocal(consensus.LocalConfig{
			Metrics:      m,
			ViewInterval: cfg.viewInterval,
			Logger:       logger.With("component", "consensus"),
		})
		return local, consensus.NodeIndex(cfg.nodeIndex)
	}

	node, err := api.Serve(ctx, opts, initHandle, api.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("serve api: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil && !errors.Is(err, api.ErrServe) {
			logger.WarnContext(context.Background(), "error during shutdown", logKeyError, err)
		}
	}()

	logger.InfoContext(ctx, "sequencer started",
		logKeyModules, node.Modules(),
		logKeyNodeIndex, uint64(node.NodeIndex))

	select {
	case <-ctx.Done():
		logger.InfoContext(context.Background(), "sequencer shutting down")
		return nil
	case <-node.UpdateTask.Done():
		return node.UpdateTask.Wait()
	}
}
