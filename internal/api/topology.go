package api

import (
	"fmt"

	"github.com/romashka-btc/espresso-sequencer/internal/config"
)

// Topology is one of the mutually exclusive server layouts.
type Topology int

const (
	// TopologyMinimal serves health, version and optionally submit. The
	// shared state is only the consensus handle.
	TopologyMinimal Topology = iota
	// TopologyStatus adds the status API over a metrics-only data source.
	TopologyStatus
	// TopologyQueryFS runs the query API over filesystem storage.
	TopologyQueryFS
	// TopologyQuerySQL runs the query API over SQL storage.
	TopologyQuerySQL
)

func (t Topology) String() string { // HC
	switch t {
	case TopologyMinimal:
		return "minimal"
	case TopologyStatus:
		return "status"
	case TopologyQueryFS:
		return "query-fs"
	case TopologyQuerySQL:
		return "query-sql"
	default:
		return fmt.Sprintf("topology(%d)", int(t))
	}
}

// HasQuery reports whether the topology persists consensus events.
func (t Topology) HasQuery() bool { // A
	return t == TopologyQueryFS || t == TopologyQuerySQL
}

// SelectTopology picks the layout for o. The first match wins: SQL storage,
// then filesystem storage, then a requested status module, then minimal.
// Configured storage implies the query API whatever the other flags say.
func SelectTopology(o config.Options) Topology { // A
	switch {
	case o.StorageSQL != nil:
		return TopologyQuerySQL
	case o.StorageFS != nil:
		return TopologyQueryFS
	case o.Status != nil:
		return TopologyStatus
	default:
		return TopologyMinimal
	}
}
