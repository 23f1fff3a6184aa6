// Package datasource defines the storage capabilities behind the API
// modules.
//
// Two persistent implementations live in the fs and sql subpackages. The
// MetricsDataSource in this package has no persistence and only backs the
// status API.
package datasource

import (
	"context"
	"errors"
	"io"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/metrics"
)

// ErrNotFound is returned when the requested object has not been stored.
var ErrNotFound = errors.New("datasource: not found")

// StatusDataSource backs the status API.
type StatusDataSource interface {
	// PopulateMetrics returns the sink consensus should write to. Values
	// written there become readable through Metrics.
	PopulateMetrics() metrics.Metrics

	// Metrics returns the readable registry behind PopulateMetrics.
	Metrics() *metrics.Registry

	// BlockHeight is the number of blocks known to the data source.
	BlockHeight(ctx context.Context) (uint64, error)
}

// AvailabilityDataSource backs the availability API.
type AvailabilityDataSource interface {
	GetLeaf(ctx context.Context, height uint64) (consensus.Leaf, error)
	GetTransaction(ctx context.Context, hash consensus.Commitment) (TransactionQueryData, error)
}

// UpdateDataSource is written to by the update loop. Inserts are buffered
// until Commit.
type UpdateDataSource interface {
	InsertLeaf(ctx context.Context, leaf consensus.Leaf) error
	Commit(ctx context.Context) error
}

// QueryDataSource is implemented by the persistent backends.
type QueryDataSource interface {
	StatusDataSource
	AvailabilityDataSource
	UpdateDataSource
	io.Closer
}

// TransactionQueryData locates a transaction in the chain.
type TransactionQueryData struct {
	Transaction consensus.Transaction `json:"transaction"`
	Hash        consensus.Commitment  `json:"-"`
	Height      uint64                `json:"height"`
	Index       uint32                `json:"index"`
}

// MetricsDataSource serves status information straight from the metrics
// consensus populates. Nothing is persisted.
type MetricsDataSource struct { // A
	reg *metrics.Registry
}

// NewMetricsDataSource creates a data source with an empty registry.
func NewMetricsDataSource() *MetricsDataSource { // A
	return &MetricsDataSource{reg: metrics.NewRegistry("consensus")}
}

func (ds *MetricsDataSource) PopulateMetrics() metrics.Metrics { // A
	return ds.reg
}

func (ds *MetricsDataSource) Metrics() *metrics.Registry { // A
	return ds.reg
}

// BlockHeight reports the height consensus last published, or zero before
// the first decide.
func (ds *MetricsDataSource) BlockHeight(context.Context) (uint64, error) { // A
	v, ok := ds.reg.Value(consensus.MetricBlockHeight)
	if !ok || v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}

var _ StatusDataSource = (*MetricsDataSource)(nil)
