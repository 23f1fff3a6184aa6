package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/romashka-btc/espresso-sequencer/internal/logging"
	"github.com/romashka-btc/espresso-sequencer/internal/metrics"
)

func newTestLocal(m metrics.Metrics) *Local { // A
	return NewLocal(LocalConfig{
		Metrics:      m,
		ViewInterval: time.Hour,
		Logger:       logging.Discard(),
	})
}

func TestLocalDecidesSubmittedTransactions( // A
	t *testing.T,
) {
	t.Parallel()

	l := newTestLocal(nil)
	events := l.EventStream(EventFilter{})

	tx := Transaction{Namespace: 1, Payload: []byte("hello")}
	require.NoError(t, l.SubmitTransaction(context.Background(), tx))
	require.True(t, l.advance(context.Background()))

	ev := <-events
	assert.Equal(t, EventDecide, ev.Kind)
	require.Len(t, ev.Leaves, 1)
	assert.Equal(t, uint64(0), ev.Leaves[0].Height)
	assert.Equal(t, uint64(1), ev.Leaves[0].View)
	assert.Equal(t, []Transaction{tx}, ev.Leaves[0].Block.Transactions)
}

func TestLocalLateSubscriberMissesEarlierDecides( // A
	t *testing.T,
) {
	t.Parallel()

	l := newTestLocal(nil)
	early := l.EventStream(EventFilter{})
	require.True(t, l.advance(context.Background()))

	late := l.EventStream(EventFilter{})
	require.True(t, l.advance(context.Background()))

	assert.Len(t, early, 2)
	require.Len(t, late, 1)
	ev := <-late
	assert.Equal(t, uint64(1), ev.Leaves[0].Height)
}

func TestLocalFilterDropsUnwantedKinds( // A
	t *testing.T,
) {
	t.Parallel()

	l := newTestLocal(nil)
	errorsOnly := l.EventStream(EventFilter{Kinds: []EventKind{EventError}})
	require.True(t, l.advance(context.Background()))

	assert.Len(t, errorsOnly, 0)
}

func TestLocalPopulatesMetrics( // A
	t *testing.T,
) {
	t.Parallel()

	reg := metrics.NewRegistry("")
	l := newTestLocal(reg)

	ctx := context.Background()
	require.NoError(t, l.SubmitTransaction(ctx, Transaction{Payload: []byte("abc")}))
	require.NoError(t, l.SubmitTransaction(ctx, Transaction{Payload: []byte("de")}))

	pending, _ := reg.Value(MetricOutstandingTxs)
	assert.Equal(t, 2.0, pending)
	size, _ := reg.Value(MetricOutstandingTxsBytes)
	assert.Equal(t, 5.0, size)

	require.True(t, l.advance(ctx))

	height, _ := reg.Value(MetricBlockHeight)
	assert.Equal(t, 1.0, height)
	view, _ := reg.Value(MetricCurrentView)
	assert.Equal(t, 1.0, view)
	pending, _ = reg.Value(MetricOutstandingTxs)
	assert.Equal(t, 0.0, pending)
	size, _ = reg.Value(MetricOutstandingTxsBytes)
	assert.Equal(t, 0.0, size)
}

func TestLocalBlockSizeCap( // A
	t *testing.T,
) {
	t.Parallel()

	l := NewLocal(LocalConfig{
		ViewInterval:         time.Hour,
		MaxBlockTransactions: 2,
		Logger:               logging.Discard(),
	})
	events := l.EventStream(EventFilter{})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.SubmitTransaction(ctx, Transaction{Namespace: uint64(i)}))
	}
	require.True(t, l.advance(ctx))
	require.True(t, l.advance(ctx))

	first, second := <-events, <-events
	assert.Len(t, first.Leaves[0].Block.Transactions, 2)
	assert.Len(t, second.Leaves[0].Block.Transactions, 1)
	assert.Equal(t, uint64(2), second.Leaves[0].Block.Transactions[0].Namespace)
}

func TestLocalStopClosesStreams( // A
	t *testing.T,
) {
	t.Parallel()

	l := newTestLocal(nil)
	events := l.EventStream(EventFilter{})
	l.StartConsensus(context.Background())
	l.Stop()
	l.Stop()

	_, open := <-events
	assert.False(t, open)

	err := l.SubmitTransaction(context.Background(), Transaction{})
	assert.ErrorIs(t, err, ErrStopped)

	_, open = <-l.EventStream(EventFilter{})
	assert.False(t, open)
}

func TestLocalRunsViewsAfterStart( // A
	t *testing.T,
) {
	t.Parallel()

	l := NewLocal(LocalConfig{
		ViewInterval: 5 * time.Millisecond,
		Logger:       logging.Discard(),
	})
	defer l.Stop()

	events := l.EventStream(EventFilter{})
	l.StartConsensus(context.Background())

	select {
	case ev := <-events:
		assert.Equal(t, uint64(0), ev.Leaves[0].Height)
	case <-time.After(5 * time.Second):
		t.Fatal("no decide after start")
	}
}

func TestCommitmentRoundTrip( // A
	t *testing.T,
) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		tx := Transaction{
			Namespace: rapid.Uint64().Draw(rt, "ns"),
			Payload:   rapid.SliceOf(rapid.Byte()).Draw(rt, "payload"),
		}
		c := tx.Commit()
		parsed, err := ParseCommitment(c.String())
		if err != nil {
			rt.Fatalf("ParseCommitment: %v", err)
		}
		if parsed != c {
			rt.Fatalf("round trip mismatch: %s != %s", parsed, c)
		}
	})
}

func TestParseCommitmentRejectsBadInput( // A
	t *testing.T,
) {
	t.Parallel()

	_, err := ParseCommitment("zz")
	assert.Error(t, err)
	_, err = ParseCommitment("abcd")
	assert.Error(t, err)
}
