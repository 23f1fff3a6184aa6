package api

import (
	"context"
	"sync"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
)

// Submitter is what the submit module needs.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx consensus.Transaction) error
}

// StatusReader is what the status module needs.
type StatusReader interface {
	ReadStatus(ctx context.Context, fn func(datasource.StatusDataSource) error) error
}

// AvailabilityReader is what the availability module needs.
type AvailabilityReader interface {
	ReadAvailability(ctx context.Context, fn func(datasource.AvailabilityDataSource) error) error
}

// Updater is what the update loop needs.
type Updater interface {
	WriteQuery(ctx context.Context, fn func(datasource.UpdateDataSource) error) error
}

// State is the value shared by every API module and the update loop.
// Handlers take the read lock, the update loop takes the write lock, so a
// reader never sees a partially applied decide.
type State struct { // A
	mu     sync.RWMutex
	handle consensus.Handle
	status datasource.StatusDataSource
	query  datasource.QueryDataSource
}

// newState builds the state for one topology. status and query may be nil
// when the topology has no such data source.
func newState(
	handle consensus.Handle,
	status datasource.StatusDataSource,
	query datasource.QueryDataSource,
) *State { // A
	return &State{
		handle: handle,
		status: status,
		query:  query,
	}
}

// SubmitTransaction forwards tx to consensus under the read lock.
func (s *State) SubmitTransaction(ctx context.Context, tx consensus.Transaction) error { // A
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle.SubmitTransaction(ctx, tx)
}

func (s *State) ReadStatus(
	ctx context.Context,
	fn func(datasource.StatusDataSource) error,
) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return errUnavailable
	}
	return fn(s.status)
}

func (s *State) ReadAvailability(
	ctx context.Context,
	fn func(datasource.AvailabilityDataSource) error,
) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.query == nil {
		return errUnavailable
	}
	return fn(s.query)
}

// WriteQuery runs fn with exclusive access to the query data source.
func (s *State) WriteQuery(
	ctx context.Context,
	fn func(datasource.UpdateDataSource) error,
) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.query == nil {
		return errUnavailable
	}
	return fn(s.query)
}

var (
	_ Submitter          = (*State)(nil)
	_ StatusReader       = (*State)(nil)
	_ AvailabilityReader = (*State)(nil)
	_ Updater            = (*State)(nil)
)
