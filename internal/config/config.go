// Package config describes which API modules a node runs and what storage
// backs them.
package config

import (
	"errors"
	"fmt"

	"github.com/romashka-btc/espresso-sequencer/internal/datasource/fs"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/sql"
)

// HTTP is the minimal API. Health and version endpoints are always served.
type HTTP struct {
	// Port to listen on. Zero picks a free port.
	Port uint16
}

// Query enables the availability API. It only takes effect together with a
// storage backend.
type Query struct{}

// Submit enables the transaction submission API.
type Submit struct{}

// Status enables the node status API.
type Status struct{}

// Options is the declarative description of a node's API. It is built once
// at startup and consumed by a single call to api.Serve.
type Options struct {
	HTTP   HTTP
	Query  *Query
	Submit *Submit
	Status *Status

	// At most one storage backend should be set. If both are, SQL is used.
	StorageFS  *fs.Options
	StorageSQL *sql.Options

	// ResetStore wipes the query storage on startup.
	ResetStore bool
}

// From returns options running only the minimal HTTP API.
func From(http HTTP) Options { // A
	return Options{HTTP: http}
}

// QuerySQL adds a query API module backed by a SQL database.
func (o Options) QuerySQL(q Query, storage sql.Options) Options { // A
	o.Query = &q
	o.StorageSQL = &storage
	return o
}

// QueryFS adds a query API module backed by the file system.
func (o Options) QueryFS(q Query, storage fs.Options) Options { // A
	o.Query = &q
	o.StorageFS = &storage
	return o
}

// WithSubmit adds a submit API module.
func (o Options) WithSubmit(s Submit) Options { // A
	o.Submit = &s
	return o
}

// WithStatus adds a status API module.
func (o Options) WithStatus(s Status) Options { // A
	o.Status = &s
	return o
}

// HasQueryModule reports whether these options will run the query API.
func (o Options) HasQueryModule() bool { // A
	return o.Query != nil && (o.StorageFS != nil || o.StorageSQL != nil)
}

// ConflictingStorage reports whether both storage backends are set.
func (o Options) ConflictingStorage() bool { // HC
	return o.StorageFS != nil && o.StorageSQL != nil
}

var (
	ErrMissingStoragePath = errors.New("config: filesystem storage requires a path")
	ErrUnsupportedDriver  = errors.New("config: unsupported sql driver")
)

// Validate checks the storage settings. A config without any optional
// module is valid.
func (o Options) Validate() error { // A
	var errs []error
	if o.StorageFS != nil && o.StorageFS.Path == "" {
		errs = append(errs, ErrMissingStoragePath)
	}
	if o.StorageSQL != nil {
		switch o.StorageSQL.Driver {
		case "", sql.DriverPostgres:
		case sql.DriverSQLite:
			if o.StorageSQL.Path == "" {
				errs = append(errs, fmt.Errorf("config: sqlite storage requires a path"))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnsupportedDriver, o.StorageSQL.Driver))
		}
	}
	return errors.Join(errs...)
}
