package api

import (
	"fmt"
	"log/slog"
)

// Stage is a step of node startup. Stages only move forward.
type Stage int

const (
	StageConfigured Stage = iota
	StageDataSourceReady
	StageConsensusHandleAcquired
	StageEventStreamSubscribed
	StageModulesRegistered
	StageServerSpawned
	StageConsensusStarted
	StageRunning
)

var stageNames = map[Stage]string{
	StageConfigured:              "configured",
	StageDataSourceReady:         "data_source_ready",
	StageConsensusHandleAcquired: "consensus_handle_acquired",
	StageEventStreamSubscribed:   "event_stream_subscribed",
	StageModulesRegistered:       "modules_registered",
	StageServerSpawned:           "server_spawned",
	StageConsensusStarted:        "consensus_started",
	StageRunning:                 "running",
}

func (s Stage) String() string { // HC
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

var stageTransitions = map[Stage]Stage{
	StageConfigured:            StageDataSourceReady,
	StageDataSourceReady:       StageConsensusHandleAcquired,
	StageEventStreamSubscribed: StageModulesRegistered,
	StageModulesRegistered:     StageServerSpawned,
	StageServerSpawned:         StageConsensusStarted,
	StageConsensusStarted:      StageRunning,
}

// nextStage returns the only legal successor of from. Query topologies must
// subscribe to the event stream before anything else touches consensus;
// the others skip the subscription.
func nextStage(from Stage, query bool) (Stage, bool) { // A
	if from == StageConsensusHandleAcquired {
		if query {
			return StageEventStreamSubscribed, true
		}
		return StageModulesRegistered, true
	}
	to, ok := stageTransitions[from]
	return to, ok
}

// startup tracks the stage of a single Serve call.
type startup struct {
	topology Topology
	current  Stage
	log      *slog.Logger
	observe  func(Stage)
}

func newStartup(topology Topology, log *slog.Logger, observe func(Stage)) *startup { // A
	return &startup{
		topology: topology,
		current:  StageConfigured,
		log:      log,
		observe:  observe,
	}
}

// advance moves to stage to. Skipping or repeating a stage is an error.
func (s *startup) advance(to Stage) error { // A
	want, ok := nextStage(s.current, s.topology.HasQuery())
	if !ok || want != to {
		return fmt.Errorf("api: invalid startup transition %s -> %s", s.current, to)
	}

	s.current = to
	s.log.Debug("startup stage", "stage", to.String(), "topology", s.topology.String())
	if s.observe != nil {
		s.observe(to)
	}
	return nil
}
