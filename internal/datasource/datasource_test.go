package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"pgregory.net/rapid"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
)

func drawLeaf(rt *rapid.T) consensus.Leaf { // A
	n := rapid.IntRange(0, 8).Draw(rt, "txCount")
	var txs []consensus.Transaction
	for i := 0; i < n; i++ {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(rt, "payload")
		if len(payload) == 0 {
			payload = nil
		}
		txs = append(txs, consensus.Transaction{
			Namespace: rapid.Uint64().Draw(rt, "ns"),
			Payload:   payload,
		})
	}

	return consensus.Leaf{
		Height:    rapid.Uint64().Draw(rt, "height"),
		View:      rapid.Uint64().Draw(rt, "view"),
		Timestamp: time.Unix(0, rapid.Int64Range(1, 1<<62).Draw(rt, "ts")).UTC(),
		Block:     consensus.Block{Transactions: txs},
	}
}

func TestRapidLeafCodecRoundTrip( // A
	t *testing.T,
) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		leaf := drawLeaf(rt)
		got, err := DecodeLeaf(EncodeLeaf(leaf))
		if err != nil {
			rt.Fatalf("DecodeLeaf: %v", err)
		}
		if !assert.ObjectsAreEqual(leaf, got) {
			rt.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, leaf)
		}
	})
}

func TestDecodeLeafSkipsUnknownFields( // A
	t *testing.T,
) {
	t.Parallel()

	leaf := consensus.Leaf{Height: 3, View: 9}
	b := EncodeLeaf(leaf)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	got, err := DecodeLeaf(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Height)
	assert.Equal(t, uint64(9), got.View)
}

func TestDecodeLeafRejectsTruncatedInput( // A
	t *testing.T,
) {
	t.Parallel()

	b := EncodeLeaf(consensus.Leaf{
		Height: 1,
		Block: consensus.Block{Transactions: []consensus.Transaction{
			{Namespace: 1, Payload: []byte("payload")},
		}},
	})

	_, err := DecodeLeaf(b[:len(b)-3])
	assert.Error(t, err)
}

func TestMetricsDataSourceBlockHeight( // A
	t *testing.T,
) {
	t.Parallel()

	ds := NewMetricsDataSource()
	h, err := ds.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	ds.PopulateMetrics().Gauge(consensus.MetricBlockHeight, "").Set(12)

	h, err = ds.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), h)
	assert.Same(t, ds.Metrics(), ds.PopulateMetrics())
}
