// Package sql is the SQL-backed query data source. Postgres is the
// production target; SQLite is supported for single-host deployments and
// tests.
package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
)

// Supported values of Options.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options configures the SQL backend. Zero values fall back to the
// defaults of a local development Postgres.
type Options struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Path is the database file when Driver is sqlite.
	Path string `yaml:"path"`

	Logger *slog.Logger `yaml:"-"`
}

func (o Options) withDefaults() Options { // HC
	if o.Driver == "" {
		o.Driver = DriverPostgres
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 5432
	}
	if o.Database == "" {
		o.Database = "postgres"
	}
	if o.User == "" {
		o.User = "postgres"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// dsn returns the database/sql driver name and data source name.
func (o Options) dsn() (string, string, error) { // A
	switch o.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(o.User, o.Password),
			Host:     net.JoinHostPort(o.Host, strconv.Itoa(int(o.Port))),
			Path:     "/" + o.Database,
			RawQuery: "sslmode=disable",
		}
		return "pgx", u.String(), nil
	case DriverSQLite:
		if o.Path == "" {
			return "", "", errors.New("sql: sqlite requires a path")
		}
		return "sqlite", o.Path, nil
	default:
		return "", "", fmt.Errorf("sql: unsupported driver %q", o.Driver)
	}
}

// DataSource stores decided leaves in SQL tables. It is safe for concurrent
// use.
type DataSource struct { // A
	*datasource.MetricsDataSource

	db      *stdsql.DB
	dialect dialect
	log     *slog.Logger

	mu      sync.Mutex
	pending []consensus.Leaf

	closeOnce sync.Once
}

// Create connects, optionally drops existing tables when reset is set, and
// runs migrations.
func Create(ctx context.Context, opts Options, reset bool) (*DataSource, error) { // A
	opts = opts.withDefaults()

	driver, dsn, err := opts.dsn()
	if err != nil {
		return nil, err
	}

	db, err := stdsql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: open %s: %w", opts.Driver, err)
	}

	d := dialects[opts.Driver]
	if opts.Driver == DriverSQLite {
		// SQLite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sql: connect %s: %w", opts.Driver, err)
	}

	if reset {
		for _, stmt := range d.drop {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sql: reset: %w", err)
			}
		}
	}
	for _, stmt := range d.migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sql: migrate: %w", err)
		}
	}

	opts.Logger.Info("opened sql query storage", "driver", opts.Driver)
	return &DataSource{
		MetricsDataSource: datasource.NewMetricsDataSource(),
		db:                db,
		dialect:           d,
		log:               opts.Logger,
	}, nil
}

func (ds *DataSource) BlockHeight(ctx context.Context) (uint64, error) { // A
	var h int64
	err := ds.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(height) + 1, 0) FROM leaves").Scan(&h)
	if err != nil {
		return 0, fmt.Errorf("sql: block height: %w", err)
	}
	return uint64(h), nil
}

func (ds *DataSource) InsertLeaf(ctx context.Context, leaf consensus.Leaf) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	ds.mu.Lock()
	ds.pending = append(ds.pending, leaf)
	ds.mu.Unlock()
	return nil
}

// Commit writes all pending leaves in one database transaction. Leaves and
// transactions that already exist are left untouched.
func (ds *DataSource) Commit(ctx context.Context) error { // A
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if len(ds.pending) == 0 {
		return nil
	}

	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql: begin: %w", err)
	}

	insertLeaf := ds.dialect.rebind(
		"INSERT INTO leaves (height, view, payload) VALUES (?, ?, ?) ON CONFLICT (height) DO NOTHING")
	insertTx := ds.dialect.rebind(
		"INSERT INTO transactions (hash, height, idx) VALUES (?, ?, ?) ON CONFLICT (hash) DO NOTHING")

	for _, leaf := range ds.pending {
		if _, err := tx.ExecContext(ctx, insertLeaf,
			int64(leaf.Height), int64(leaf.View), datasource.EncodeLeaf(leaf)); err != nil {
			return errors.Join(fmt.Errorf("sql: insert leaf %d: %w", leaf.Height, err), tx.Rollback())
		}
		for i, t := range leaf.Block.Transactions {
			if _, err := tx.ExecContext(ctx, insertTx,
				t.Commit().String(), int64(leaf.Height), i); err != nil {
				return errors.Join(fmt.Errorf("sql: insert transaction: %w", err), tx.Rollback())
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql: commit %d leaves: %w", len(ds.pending), err)
	}
	ds.pending = ds.pending[:0]
	return nil
}

func (ds *DataSource) GetLeaf(ctx context.Context, height uint64) (consensus.Leaf, error) { // A
	var payload []byte
	err := ds.db.QueryRowContext(ctx,
		ds.dialect.rebind("SELECT payload FROM leaves WHERE height = ?"),
		int64(height),
	).Scan(&payload)
	if errors.Is(err, stdsql.ErrNoRows) {
		return consensus.Leaf{}, datasource.ErrNotFound
	}
	if err != nil {
		return consensus.Leaf{}, fmt.Errorf("sql: get leaf %d: %w", height, err)
	}
	return datasource.DecodeLeaf(payload)
}

func (ds *DataSource) GetTransaction(
	ctx context.Context,
	hash consensus.Commitment,
) (datasource.TransactionQueryData, error) { // A
	var height int64
	var index int
	err := ds.db.QueryRowContext(ctx,
		ds.dialect.rebind("SELECT height, idx FROM transactions WHERE hash = ?"),
		hash.String(),
	).Scan(&height, &index)
	if errors.Is(err, stdsql.ErrNoRows) {
		return datasource.TransactionQueryData{}, datasource.ErrNotFound
	}
	if err != nil {
		return datasource.TransactionQueryData{}, fmt.Errorf("sql: get transaction: %w", err)
	}

	leaf, err := ds.GetLeaf(ctx, uint64(height))
	if err != nil {
		return datasource.TransactionQueryData{}, err
	}
	if index < 0 || index >= len(leaf.Block.Transactions) {
		return datasource.TransactionQueryData{}, fmt.Errorf(
			"sql: transaction %s points past block %d", hash, height)
	}

	return datasource.TransactionQueryData{
		Transaction: leaf.Block.Transactions[index],
		Hash:        hash,
		Height:      uint64(height),
		Index:       uint32(index),
	}, nil
}

// Close closes the connection pool. It is idempotent.
func (ds *DataSource) Close() error { // A
	var err error
	ds.closeOnce.Do(func() {
		err = ds.db.Close()
	})
	return err
}

var _ datasource.QueryDataSource = (*DataSource)(nil)

type dialect struct {
	numbered   bool
	migrations []string
	drop       []string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		numbered: true,
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS leaves (
				height BIGINT PRIMARY KEY,
				view BIGINT NOT NULL,
				payload BYTEA NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				hash TEXT PRIMARY KEY,
				height BIGINT NOT NULL REFERENCES leaves (height),
				idx INTEGER NOT NULL
			)`,
		},
		drop: []string{
			"DROP TABLE IF EXISTS transactions",
			"DROP TABLE IF EXISTS leaves",
		},
	},
	DriverSQLite: {
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS leaves (
				height INTEGER PRIMARY KEY,
				view INTEGER NOT NULL,
				payload BLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				hash TEXT PRIMARY KEY,
				height INTEGER NOT NULL REFERENCES leaves (height),
				idx INTEGER NOT NULL
			)`,
		},
		drop: []string{
			"DROP TABLE IF EXISTS transactions",
			"DROP TABLE IF EXISTS leaves",
		},
	},
}

// rebind rewrites ? placeholders to $n for drivers that need numbered
// parameters.
func (d dialect) rebind(query string) string { // HC
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
