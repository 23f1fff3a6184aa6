package api

import "errors"

// Startup errors are returned by Serve wrapped around their cause, so the
// caller can classify them with errors.Is.
var (
	// ErrStorageInit means the query storage could not be opened or created.
	ErrStorageInit = errors.New("api: storage init failed")
	// ErrModuleRegistration means an API module could not be mounted.
	ErrModuleRegistration = errors.New("api: module registration failed")
	// ErrServe means the HTTP listener failed. It is only reported through
	// Task.Wait, never by Serve itself.
	ErrServe = errors.New("api: http server failed")
)

// errUnavailable is returned by State when the running topology has no data
// source for the requested capability.
var errUnavailable = errors.New("api: data source not available in this topology")
