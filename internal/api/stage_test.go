package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romashka-btc/espresso-sequencer/internal/logging"
)

func TestStartupQueryOrder( // A
	t *testing.T,
) {
	t.Parallel()

	var seen []Stage
	s := newStartup(TopologyQueryFS, logging.Discard(), func(st Stage) { seen = append(seen, st) })

	want := []Stage{
		StageDataSourceReady,
		StageConsensusHandleAcquired,
		StageEventStreamSubscribed,
		StageModulesRegistered,
		StageServerSpawned,
		StageConsensusStarted,
		StageRunning,
	}
	for _, st := range want {
		require.NoError(t, s.advance(st))
	}
	assert.Equal(t, want, seen)
	assert.Error(t, s.advance(StageRunning), "running is terminal")
}

func TestStartupNonQuerySkipsSubscription( // A
	t *testing.T,
) {
	t.Parallel()

	for _, topo := range []Topology{TopologyMinimal, TopologyStatus} {
		s := newStartup(topo, logging.Discard(), nil)
		require.NoError(t, s.advance(StageDataSourceReady))
		require.NoError(t, s.advance(StageConsensusHandleAcquired))
		assert.Error(t, s.advance(StageEventStreamSubscribed), topo.String())
		assert.NoError(t, s.advance(StageModulesRegistered), topo.String())
	}
}

func TestStartupRejectsSkips( // A
	t *testing.T,
) {
	t.Parallel()

	s := newStartup(TopologyQuerySQL, logging.Discard(), nil)
	assert.Error(t, s.advance(StageConsensusHandleAcquired))

	require.NoError(t, s.advance(StageDataSourceReady))
	require.NoError(t, s.advance(StageConsensusHandleAcquired))
	assert.Error(t, s.advance(StageModulesRegistered), "query topology must subscribe first")
	assert.Error(t, s.advance(StageConsensusStarted))
	assert.Equal(t, StageConsensusHandleAcquired, s.current)
}
