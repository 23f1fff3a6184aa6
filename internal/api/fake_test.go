package api

import (
	"context"
	"errors"
	"sync"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
)

// recordingHandle is a consensus handle that records the calls it receives.
type recordingHandle struct {
	mu        sync.Mutex
	calls     []string
	submitted []consensus.Transaction
	submitErr error
	events    chan consensus.Event
}

func newRecordingHandle() *recordingHandle { // A
	return &recordingHandle{events: make(chan consensus.Event, 16)}
}

func (h *recordingHandle) record(call string) { // A
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *recordingHandle) Calls() []string { // A
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *recordingHandle) EventStream(consensus.EventFilter) <-chan consensus.Event { // A
	h.record("event_stream")
	return h.events
}

func (h *recordingHandle) StartConsensus(context.Context) { // A
	h.record("start_consensus")
}

func (h *recordingHandle) SubmitTransaction(_ context.Context, tx consensus.Transaction) error { // A
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.submitErr != nil {
		return h.submitErr
	}
	h.submitted = append(h.submitted, tx)
	return nil
}

func (h *recordingHandle) Stop() { // A
	h.record("stop")
}

// memoryStore is an UpdateDataSource and AvailabilityDataSource kept in a
// map. Commit fails while failCommits is positive.
type memoryStore struct {
	mu          sync.Mutex
	pending     []consensus.Leaf
	leaves      map[uint64]consensus.Leaf
	commits     int
	failCommits int
}

var errCommit = errors.New("commit failed")

func newMemoryStore() *memoryStore { // A
	return &memoryStore{leaves: make(map[uint64]consensus.Leaf)}
}

func (m *memoryStore) InsertLeaf(_ context.Context, leaf consensus.Leaf) error { // A
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, leaf)
	return nil
}

func (m *memoryStore) Commit(context.Context) error { // A
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.failCommits > 0 {
		m.failCommits--
		return errCommit
	}
	for _, l := range m.pending {
		m.leaves[l.Height] = l
	}
	m.pending = nil
	return nil
}

func (m *memoryStore) GetLeaf(_ context.Context, height uint64) (consensus.Leaf, error) { // A
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leaves[height]
	if !ok {
		return consensus.Leaf{}, datasource.ErrNotFound
	}
	return l, nil
}

func (m *memoryStore) GetTransaction(
	_ context.Context,
	hash consensus.Commitment,
) (datasource.TransactionQueryData, error) { // A
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leaves {
		for i, tx := range l.Block.Transactions {
			if tx.Commit() == hash {
				return datasource.TransactionQueryData{
					Transaction: tx,
					Hash:        hash,
					Height:      l.Height,
					Index:       uint32(i),
				}, nil
			}
		}
	}
	return datasource.TransactionQueryData{}, datasource.ErrNotFound
}

func (m *memoryStore) stored() int { // A
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leaves)
}

// memoryState adapts memoryStore to the Updater and AvailabilityReader
// interfaces.
type memoryState struct {
	mu    sync.RWMutex
	store *memoryStore
}

func (s *memoryState) WriteQuery(
	_ context.Context,
	fn func(datasource.UpdateDataSource) error,
) error { // A
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.store)
}

func (s *memoryState) ReadAvailability(
	_ context.Context,
	fn func(datasource.AvailabilityDataSource) error,
) error { // A
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.store)
}
