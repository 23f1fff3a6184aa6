package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/logging"
)

func decide(heights ...uint64) consensus.Event { // A
	leaves := make([]consensus.Leaf, len(heights))
	for i, h := range heights {
		leaves[i] = consensus.Leaf{Height: h, View: h + 1}
	}
	return consensus.Event{View: heights[len(heights)-1] + 1, Kind: consensus.EventDecide, Leaves: leaves}
}

func runLoop(t *testing.T, st Updater, events chan consensus.Event) <-chan error { // A
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- UpdateLoop(context.Background(), st, events, logging.Discard()) }()
	return done
}

func TestUpdateLoopStoresDecides( // A
	t *testing.T,
) {
	t.Parallel()

	store := newMemoryStore()
	events := make(chan consensus.Event, 4)
	events <- decide(0, 1)
	events <- consensus.Event{View: 3, Kind: consensus.EventViewFinished}
	events <- consensus.Event{View: 4, Kind: consensus.EventError, Err: errors.New("view timeout")}
	events <- decide(2)
	close(events)

	done := runLoop(t, &memoryState{store: store}, events)
	select {
	case err := <-done:
		require.NoError(t, err, "a closed stream ends the loop cleanly")
	case <-time.After(5 * time.Second):
		t.Fatal("update loop did not return")
	}

	assert.Equal(t, 3, store.stored())
	assert.Equal(t, 2, store.commits, "one commit per decide")
}

func TestUpdateLoopRetriesAfterCommitFailure( // A
	t *testing.T,
) {
	t.Parallel()

	store := newMemoryStore()
	store.failCommits = 1

	events := make(chan consensus.Event, 2)
	events <- decide(0)
	events <- decide(1)
	close(events)

	require.NoError(t, <-runLoop(t, &memoryState{store: store}, events))

	assert.Equal(t, 2, store.commits)
	assert.Equal(t, 2, store.stored(), "leaves of the failed commit go out with the next one")
}

func TestUpdateLoopStopsOnCancel( // A
	t *testing.T,
) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- UpdateLoop(ctx, &memoryState{store: newMemoryStore()}, make(chan consensus.Event), logging.Discard())
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("update loop ignored cancellation")
	}
}
