package consensus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/romashka-btc/espresso-sequencer/internal/metrics"
)

// ErrStopped is returned by a Local engine that has been shut down.
var ErrStopped = errors.New("consensus: stopped")

const (
	defaultViewInterval    = time.Second
	defaultMaxBlockTxs     = 1024
	defaultStreamBuffering = 64
)

// LocalConfig configures a single-node engine.
type LocalConfig struct {
	// Metrics receives the standard consensus metrics. Defaults to NoMetrics.
	Metrics metrics.Metrics
	// ViewInterval is the time between views.
	ViewInterval time.Duration
	// MaxBlockTransactions caps the number of mempool transactions per block.
	MaxBlockTransactions int
	// StreamBuffer is the channel capacity of each event stream.
	StreamBuffer int
	Logger       *slog.Logger
}

// Local is a single-node engine that decides one block per view from its
// mempool. It has no peers and never fails a view, which makes it suitable
// for development networks and tests.
type Local struct { // A
	cfg LocalConfig
	log *slog.Logger
	m   localMetrics

	mu          sync.Mutex
	mempool     []Transaction
	mempoolSize int
	subscribers []subscriber
	view        uint64
	height      uint64
	stopped     bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

type subscriber struct {
	filter EventFilter
	ch     chan Event
}

type localMetrics struct {
	currentView         metrics.Gauge
	lastDecidedView     metrics.Gauge
	lastDecidedTime     metrics.Gauge
	outstandingTxs      metrics.Gauge
	outstandingTxsBytes metrics.Gauge
	blockHeight         metrics.Gauge
	decides             metrics.Counter
}

// Metric names populated by Local and read back by the status API.
const (
	MetricCurrentView         = "current_view"
	MetricLastDecidedView     = "last_decided_view"
	MetricLastDecidedTime     = "last_decided_time"
	MetricOutstandingTxs      = "outstanding_transactions"
	MetricOutstandingTxsBytes = "outstanding_transactions_memory_size"
	MetricBlockHeight         = "block_height"
	MetricDecides             = "decides"
)

// NewLocal creates an engine that is idle until StartConsensus.
func NewLocal(cfg LocalConfig) *Local { // A
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoMetrics{}
	}
	if cfg.ViewInterval <= 0 {
		cfg.ViewInterval = defaultViewInterval
	}
	if cfg.MaxBlockTransactions <= 0 {
		cfg.MaxBlockTransactions = defaultMaxBlockTxs
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = defaultStreamBuffering
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := cfg.Metrics
	return &Local{
		cfg: cfg,
		log: cfg.Logger,
		m: localMetrics{
			currentView:         m.Gauge(MetricCurrentView, "Current consensus view"),
			lastDecidedView:     m.Gauge(MetricLastDecidedView, "View of the most recent decide"),
			lastDecidedTime:     m.Gauge(MetricLastDecidedTime, "Unix time of the most recent decide"),
			outstandingTxs:      m.Gauge(MetricOutstandingTxs, "Transactions waiting in the mempool"),
			outstandingTxsBytes: m.Gauge(MetricOutstandingTxsBytes, "Payload bytes waiting in the mempool"),
			blockHeight:         m.Gauge(MetricBlockHeight, "Number of decided blocks"),
			decides:             m.Counter(MetricDecides, "Number of decide events"),
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (l *Local) EventStream(filter EventFilter) <-chan Event { // A
	ch := make(chan Event, l.cfg.StreamBuffer)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		close(ch)
		return ch
	}
	l.subscribers = append(l.subscribers, subscriber{filter: filter, ch: ch})
	return ch
}

func (l *Local) StartConsensus(ctx context.Context) { // A
	l.startOnce.Do(func() {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		l.running = true
		l.mu.Unlock()

		l.log.Info("starting consensus", "viewInterval", l.cfg.ViewInterval)
		go l.run(ctx)
	})
}

func (l *Local) SubmitTransaction(ctx context.Context, tx Transaction) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}

	l.mempool = append(l.mempool, tx)
	l.mempoolSize += len(tx.Payload)
	l.m.outstandingTxs.Set(float64(len(l.mempool)))
	l.m.outstandingTxsBytes.Set(float64(l.mempoolSize))
	return nil
}

// Stop halts view production and closes every event stream. It is safe to
// call more than once.
func (l *Local) Stop() { // A
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		running := l.running
		l.mu.Unlock()

		close(l.stopCh)
		if running {
			<-l.doneCh
		}

		l.mu.Lock()
		for _, s := range l.subscribers {
			close(s.ch)
		}
		l.subscribers = nil
		l.mu.Unlock()
	})
}

func (l *Local) run(ctx context.Context) { // A
	defer close(l.doneCh)

	ticker := time.NewTicker(l.cfg.ViewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if !l.advance(ctx) {
				return
			}
		}
	}
}

// advance runs one view and delivers the resulting decide. It returns false
// if delivery was interrupted by shutdown.
func (l *Local) advance(ctx context.Context) bool { // A
	l.mu.Lock()
	l.view++
	n := len(l.mempool)
	if n > l.cfg.MaxBlockTransactions {
		n = l.cfg.MaxBlockTransactions
	}
	txs := make([]Transaction, n)
	copy(txs, l.mempool[:n])
	l.mempool = append(l.mempool[:0], l.mempool[n:]...)

	block := Block{Transactions: txs}
	l.mempoolSize -= block.Size()

	now := time.Now().UTC()
	leaf := Leaf{
		Height:    l.height,
		View:      l.view,
		Timestamp: now,
		Block:     block,
	}
	l.height++

	l.m.currentView.Set(float64(l.view))
	l.m.lastDecidedView.Set(float64(l.view))
	l.m.lastDecidedTime.Set(float64(now.Unix()))
	l.m.blockHeight.Set(float64(l.height))
	l.m.outstandingTxs.Set(float64(len(l.mempool)))
	l.m.outstandingTxsBytes.Set(float64(l.mempoolSize))
	l.m.decides.Add(1)

	subs := make([]subscriber, len(l.subscribers))
	copy(subs, l.subscribers)
	l.mu.Unlock()

	ev := Event{View: leaf.View, Kind: EventDecide, Leaves: []Leaf{leaf}}
	for _, s := range subs {
		if !s.filter.Matches(ev.Kind) {
			continue
		}
		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return false
		case <-l.stopCh:
			return false
		}
	}

	l.log.Debug("decided block", "view", leaf.View, "height", leaf.Height, "transactions", len(txs))
	return true
}

var _ Handle = (*Local)(nil)
